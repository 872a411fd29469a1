/*
 * report.go, part of metromc.
 *
 *
 * Copyright 2025 Raul Mera <rmera{at}chemDOThelsinkiDOTfi>
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU Lesser General Public License as
 * published by the Free Software Foundation; either version 2.1 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General
 * Public License along with this program.  If not, see
 * <http://www.gnu.org/licenses/>.
 *
 *
 */
/***Dedicated to the long life of the Ven. Khenpo Phuntzok Tenzin Rinpoche***/

// Package mcstat analyzes the acceptance log of Monte Carlo chains: acceptance
// statistics, the distribution of energies and probabilities, and the
// autocorrelation time of the energy, which tells how many of the steps are
// really independent samples.
package mcstat

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/rmera/metromc"
	"github.com/rmera/metromc/acclog"
	"github.com/rmera/metromc/histo"
	"gonum.org/v1/gonum/stat"
)

// Report summarizes the acceptance log of one chain.
type Report struct {
	Chain    string
	Steps    int
	Accepted int
	Skipped  int
	//Accepted over steps.
	Ratio           float64
	MeanProbability float64
	//Statistics of the energy of the current structure after each step.
	MeanEnergy float64
	StdEnergy  float64
	Lowest     float64
	LowestStep int
	//Integrated autocorrelation time of the energy, in steps, and the number of
	//independent samples it implies. NaN if the energy never changed.
	CorrelationTime  float64
	EffectiveSamples float64
	MeanSeconds      float64
	Energies         *histo.Data
	Probabilities    *histo.Data
}

// ByChain splits entries by chain, each sorted by step. It also returns the chain names, sorted.
func ByChain(entries []acclog.Entry) (map[string][]acclog.Entry, []string) {
	ret := make(map[string][]acclog.Entry)
	for _, e := range entries {
		ret[e.Chain] = append(ret[e.Chain], e)
	}
	names := make([]string, 0, len(ret))
	for k, v := range ret {
		sort.SliceStable(v, func(i, j int) bool { return v[i].Step < v[j].Step })
		names = append(names, k)
	}
	sort.Strings(names)
	return ret, names
}

// Energies returns the energy of the current structure after each step: the energy
// after the step if it was accepted, the one before, otherwise.
func Energies(entries []acclog.Entry) []float64 {
	ret := make([]float64, len(entries))
	for i, e := range entries {
		ret[i] = e.EnergyBefore
		if e.Accepted && !e.Skipped {
			ret[i] = e.EnergyAfter
		}
	}
	return ret
}

// Analyze returns the report for the entries of a single chain, sorted by step,
// with histograms of bins bins.
func Analyze(entries []acclog.Entry, bins int) (*Report, error) {
	if len(entries) == 0 {
		return nil, metromc.Errorf(metromc.ErrInvalidParameter, "mcstat.Analyze", "no entries")
	}
	if bins < 1 {
		bins = 10
	}
	r := &Report{Chain: entries[0].Chain, Steps: len(entries), Lowest: math.Inf(1)}
	probs := make([]float64, 0, len(entries))
	var seconds float64
	for _, e := range entries {
		if e.Chain != r.Chain {
			return nil, metromc.Errorf(metromc.ErrInvalidParameter, "mcstat.Analyze", "entries of chains %s and %s mixed", r.Chain, e.Chain)
		}
		if e.Accepted {
			r.Accepted++
		}
		if e.Skipped {
			r.Skipped++
		}
		probs = append(probs, e.Probability)
		seconds += e.Seconds
		candidates := []float64{e.EnergyBefore}
		if !e.Skipped {
			candidates = append(candidates, e.EnergyAfter)
		}
		for _, v := range candidates {
			if v < r.Lowest {
				r.Lowest, r.LowestStep = v, e.Step
			}
		}
	}
	r.Ratio = float64(r.Accepted) / float64(r.Steps)
	r.MeanProbability = stat.Mean(probs, nil)
	r.MeanSeconds = seconds / float64(r.Steps)
	en := Energies(entries)
	r.MeanEnergy, r.StdEnergy = stat.PopMeanStdDev(en, nil)
	r.CorrelationTime, r.EffectiveSamples = math.NaN(), math.NaN()
	if rho, err := AutoCorrelation(en); err == nil {
		r.CorrelationTime = IntegratedTime(rho)
		r.EffectiveSamples = float64(r.Steps) / math.Max(r.CorrelationTime, 1)
	}
	var err error
	if r.Energies, err = histo.Uniform("energy", bins, en); err != nil {
		return nil, metromc.Decorate(err, "mcstat.Analyze")
	}
	divs := make([]float64, bins+1)
	for i := range divs {
		divs[i] = float64(i) / float64(bins)
	}
	//so a probability of 1 falls in the last bin
	divs[bins] = math.Nextafter(1, 2)
	if r.Probabilities, err = histo.New("probability", divs, probs); err != nil {
		return nil, metromc.Decorate(err, "mcstat.Analyze")
	}
	return r, nil
}

// Write prints the report to w as text. Histograms are printed if histograms is true.
func (r *Report) Write(w io.Writer, histograms bool) {
	fmt.Fprintf(w, "chain %s\n", r.Chain)
	fmt.Fprintf(w, "  steps %d, accepted %d (%.3f), skipped %d\n", r.Steps, r.Accepted, r.Ratio, r.Skipped)
	fmt.Fprintf(w, "  mean acceptance probability %.4f\n", r.MeanProbability)
	fmt.Fprintf(w, "  energy %.6f +/- %.6f, lowest %.6f at step %d\n", r.MeanEnergy, r.StdEnergy, r.Lowest, r.LowestStep)
	fmt.Fprintf(w, "  correlation time %.2f steps, %.1f independent samples\n", r.CorrelationTime, r.EffectiveSamples)
	fmt.Fprintf(w, "  %.2f s per step\n", r.MeanSeconds)
	if histograms {
		fmt.Fprint(w, r.Energies.String())
		fmt.Fprint(w, r.Probabilities.String())
	}
}
