/*
 * metropolis.go, part of metromc.
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

// Package metropolis implements the Metropolis acceptance criterion.
package metropolis

import (
	"math"
	"math/rand/v2"

	"github.com/rmera/metromc"
)

// Boltzmann is the Boltzmann constant in eV/K.
const Boltzmann = 8.617333262145e-5

func finite(v ...float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Decide applies the Metropolis criterion to a move from a configuration with energy
// before to one with energy after, at temperature T (K) with the Boltzmann constant k
// (in energy units per K). draw must be a uniform random number in [0,1).
// If the energy decreases, the move is accepted with probability 1, whatever the draw.
// Otherwise the probability is exp(-(after-before)/(k*T)) and the move is accepted if the
// probability is larger than draw. Non-positive T or k, non-finite energies and draws
// outside [0,1) give an error of kind ErrInvalidParameter.
func Decide(before, after, T, k, draw float64) (bool, float64, error) {
	if !finite(before, after, T, k, draw) {
		return false, 0, metromc.Errorf(metromc.ErrInvalidParameter, "metropolis.Decide", "non-finite input (E %g -> %g, T %g, k %g, draw %g)", before, after, T, k, draw)
	}
	if T <= 0 || k <= 0 {
		return false, 0, metromc.Errorf(metromc.ErrInvalidParameter, "metropolis.Decide", "temperature and Boltzmann constant must be positive, got T=%g k=%g", T, k)
	}
	if draw < 0 || draw >= 1 {
		return false, 0, metromc.Errorf(metromc.ErrInvalidParameter, "metropolis.Decide", "draw %g not in [0,1)", draw)
	}
	if before > after {
		return true, 1, nil
	}
	p := math.Exp(-(after - before) / (k * T))
	return p > draw, p, nil
}

// Decision is the outcome of applying a Rule to one move.
type Decision struct {
	Accepted    bool
	Probability float64
	Delta       float64 //after-before
	Draw        float64
}

// Rule is the Metropolis criterion at a fixed temperature, with its own random source.
// A Rule is not safe for concurrent use.
type Rule struct {
	T   float64
	K   float64
	rng *rand.Rand
}

// NewRule returns a rule for temperature T (K) and Boltzmann constant k. If k is 0, the
// constant in eV/K is used. If rng is nil a randomly seeded one is used.
func NewRule(T, k float64, rng *rand.Rand) (*Rule, error) {
	if k == 0 {
		k = Boltzmann
	}
	if !finite(T, k) || T <= 0 || k <= 0 {
		return nil, metromc.Errorf(metromc.ErrInvalidParameter, "metropolis.NewRule", "temperature and Boltzmann constant must be positive, got T=%g k=%g", T, k)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Rule{T: T, K: k, rng: rng}, nil
}

// Decide draws a random number and decides on the move from before to after.
func (R *Rule) Decide(before, after float64) (Decision, error) {
	draw := R.rng.Float64()
	acc, p, err := Decide(before, after, R.T, R.K, draw)
	if err != nil {
		return Decision{}, metromc.Decorate(err, "metropolis.Rule.Decide")
	}
	return Decision{Accepted: acc, Probability: p, Delta: after - before, Draw: draw}, nil
}
