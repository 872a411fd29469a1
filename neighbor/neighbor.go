/*
 * neighbor.go, part of metromc.
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

// Package neighbor finds the atoms that are close enough to a given one to be
// swapped with it. All queries are deterministic and respect periodic boundary conditions.
package neighbor

import (
	"math"
	"sort"

	"github.com/rmera/metromc"
	"github.com/rmera/metromc/sublattice"
)

// WithinRadii returns the indexes of all atoms j != i in S such that the minimum-image
// distance between i and j is smaller than radii[i]+radii[j]. radii must have one
// radius, in A, per atom in S. The indexes are returned in increasing order.
func WithinRadii(S *metromc.Structure, i int, radii []float64) ([]int, error) {
	if len(radii) != S.Len() {
		return nil, metromc.Errorf(metromc.ErrInvalidParameter, "neighbor.WithinRadii", "%d radii given for %d atoms", len(radii), S.Len())
	}
	if i < 0 || i >= S.Len() {
		return nil, metromc.Errorf(metromc.ErrInvalidParameter, "neighbor.WithinRadii", "atom %d out of range for %d atoms", i, S.Len())
	}
	ret := make([]int, 0, 12)
	for j := 0; j < S.Len(); j++ {
		if j == i {
			continue
		}
		if metromc.Distance(S, i, j) < radii[i]+radii[j] {
			ret = append(ret, j)
		}
	}
	return ret, nil
}

// Within returns the neighbors of atom i within cutoff A. Every atom gets
// a radius of cutoff/2, so the relation is symmetric.
func Within(S *metromc.Structure, i int, cutoff float64) ([]int, error) {
	if math.IsNaN(cutoff) || cutoff <= 0 {
		return nil, metromc.Errorf(metromc.ErrInvalidParameter, "neighbor.Within", "cutoff must be positive, got %g", cutoff)
	}
	radii := make([]float64, S.Len())
	for k := range radii {
		radii[k] = cutoff / 2
	}
	r, err := WithinRadii(S, i, radii)
	return r, metromc.Decorate(err, "neighbor.Within")
}

// Selector gives the possible swap partners of an atom.
// A zero Cutoff means that any atom of the sublattice is a partner.
type Selector struct {
	Cutoff float64
}

// Candidates returns the atoms in the same sublattice as i, but of a different
// species, that are within s.Cutoff of i (or all of them if s.Cutoff is 0), in
// increasing order. The result can be empty. It returns an error of kind ErrLookup if i is not in
// any sublattice of set.
func (s Selector) Candidates(S *metromc.Structure, set *sublattice.Set, i int) ([]int, error) {
	k, err := set.SublatticeOf(i)
	if err != nil {
		return nil, metromc.Decorate(err, "neighbor.Candidates")
	}
	own := S.Species(i)
	if s.Cutoff > 0 {
		near, err := Within(S, i, s.Cutoff)
		if err != nil {
			return nil, metromc.Decorate(err, "neighbor.Candidates")
		}
		ret := near[:0]
		for _, j := range near {
			if set.Contains(k, j) && S.Species(j) != own {
				ret = append(ret, j)
			}
		}
		return ret, nil
	}
	sub := set.Sublattice(k)
	ret := make([]int, 0, sub.Len())
	for _, g := range sub.Groups() {
		if g.Species() == own {
			continue
		}
		ret = append(ret, g.Indexes()...)
	}
	sort.Ints(ret)
	return ret, nil
}
