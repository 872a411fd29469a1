/*
 * histo.go, part of metromc.
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

// Package histo contains simple 1D histograms, used to look at the distribution of
// energies and acceptance probabilities along a chain.
package histo

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rmera/metromc"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Data is a histogram. Values outside the range of the dividers are counted
// as outliers and not binned.
type Data struct {
	name       string
	normalized bool
	total      int
	outliers   int
	dividers   []float64
	histo      []float64
}

// New returns a histogram with the given dividers (bin edges, increasing, at least 2)
// and the values in rawdata, which can be nil.
func New(name string, dividers []float64, rawdata []float64) (*Data, error) {
	if len(dividers) < 2 {
		return nil, metromc.Errorf(metromc.ErrInvalidParameter, "histo.New", "need at least 2 dividers, got %d", len(dividers))
	}
	if !sort.Float64sAreSorted(dividers) || dividers[0] == dividers[len(dividers)-1] {
		return nil, metromc.Errorf(metromc.ErrInvalidParameter, "histo.New", "dividers must increase")
	}
	d := &Data{name: name}
	//I prefer to copy the slice to avoid somebody changing it from outside
	d.dividers = append([]float64(nil), dividers...)
	d.histo = make([]float64, len(dividers)-1)
	if len(rawdata) > 0 {
		d.rehisto(rawdata)
	}
	return d, nil
}

// Uniform returns a histogram of rawdata with bins equally spaced bins spanning
// from the smallest to the largest value. NaNs are ignored.
func Uniform(name string, bins int, rawdata []float64) (*Data, error) {
	if bins < 1 {
		return nil, metromc.Errorf(metromc.ErrInvalidParameter, "histo.Uniform", "need at least one bin")
	}
	clean := make([]float64, 0, len(rawdata))
	for _, v := range rawdata {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return nil, metromc.Errorf(metromc.ErrInvalidParameter, "histo.Uniform", "no data")
	}
	lo, hi := floats.Min(clean), floats.Max(clean)
	if hi == lo {
		//a single value gets a bin of width 1 around it
		lo, hi = lo-0.5, hi+0.5
	}
	//the last value has to fall inside the last bin
	hi = math.Nextafter(hi, math.Inf(1))
	return New(name, floats.Span(make([]float64, bins+1), lo, hi), clean)
}

// Name returns the name of the histogram.
func (D *Data) Name() string { return D.name }

// Total returns the number of values added, outliers included.
func (D *Data) Total() int { return D.total }

// Outliers returns the number of values that fell outside the dividers.
func (D *Data) Outliers() int { return D.outliers }

// Normalized returns true if the histogram is normalized
func (D *Data) Normalized() bool { return D.normalized }

// AddData adds the given values to the histogram.
func (D *Data) AddData(point ...float64) {
	norma := D.normalized
	if norma {
		D.UnNormalize()
	}
	last := len(D.dividers) - 1
	for _, v := range point {
		D.total++
		if math.IsNaN(v) || v < D.dividers[0] || v >= D.dividers[last] {
			D.outliers++
			continue
		}
		//first divider larger than v closes its bin
		j := sort.SearchFloat64s(D.dividers, v)
		if j < len(D.dividers) && D.dividers[j] == v {
			j++
		}
		D.histo[j-1]++
	}
	//if it was normalized, we should return it to that state
	if norma {
		D.Normalize()
	}
}

// Normalize scales the counts so they add up to the fraction of values inside the range.
func (D *Data) Normalize() { D.normaunnorma(true) }

// UnNormalize turns the histogram back into counts.
func (D *Data) UnNormalize() { D.normaunnorma(false) }

func (D *Data) normaunnorma(normalize bool) {
	if D.total <= 0 || D.normalized == normalize {
		return
	}
	n := float64(D.total)
	if normalize {
		n = 1 / n
	}
	D.normalized = normalize
	floats.Scale(n, D.histo)
}

// Dividers returns a copy of the bin edges.
func (D *Data) Dividers() []float64 {
	return append([]float64(nil), D.dividers...)
}

// Counts returns a copy of the (maybe normalized) bin values.
func (D *Data) Counts() []float64 {
	return append([]float64(nil), D.histo...)
}

// Sum returns the sum of the bins.
func (D *Data) Sum() float64 {
	return floats.Sum(D.histo)
}

func (D *Data) rehisto(rawdata []float64) {
	data := make([]float64, 0, len(rawdata))
	for _, v := range rawdata {
		if !math.IsNaN(v) {
			data = append(data, v)
		}
	}
	sort.Float64s(data)
	//stat.Histogram panics on values out of range instead of omitting them
	//so we remove them here before the call.
	maxi := sort.SearchFloat64s(data, D.dividers[len(D.dividers)-1])
	mini := sort.SearchFloat64s(data, D.dividers[0])
	D.outliers += len(rawdata) - (maxi - mini)
	D.total += len(rawdata)
	stat.Histogram(D.histo, D.dividers, data[mini:maxi], nil)
}

// String returns a text representation of the histogram, one bin per line, with a bar
// of up to 40 characters.
func (D *Data) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d values, %d outside the range\n", D.name, D.total, D.outliers)
	max := floats.Max(D.histo)
	for i, v := range D.histo {
		bar := 0
		if max > 0 {
			bar = int(math.Round(40 * v / max))
		}
		fmt.Fprintf(&b, "%12.5g %12.5g %10.4g %s\n", D.dividers[i], D.dividers[i+1], v, strings.Repeat("#", bar))
	}
	return b.String()
}

type jsonData struct {
	Name       string    `json:"name"`
	Normalized bool      `json:"normalized"`
	Total      int       `json:"total"`
	Outliers   int       `json:"outliers"`
	Dividers   []float64 `json:"dividers"`
	Histo      []float64 `json:"histo"`
}

func (D *Data) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonData{
		Name:       D.name,
		Normalized: D.normalized,
		Total:      D.total,
		Outliers:   D.outliers,
		Dividers:   D.dividers,
		Histo:      D.histo,
	})
}

func (D *Data) UnmarshalJSON(b []byte) error {
	var a jsonData
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	if len(a.Dividers) < 2 || len(a.Histo) != len(a.Dividers)-1 {
		return fmt.Errorf("histo.Data.UnmarshalJSON: %d dividers for %d bins", len(a.Dividers), len(a.Histo))
	}
	D.name, D.normalized, D.total, D.outliers = a.Name, a.Normalized, a.Total, a.Outliers
	D.dividers, D.histo = a.Dividers, a.Histo
	return nil
}
