/*
 * swap.go, part of metromc.
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

// Package swap proposes exchanges of species between pairs of atoms in the same
// sublattice, and builds the candidate structures that result from them.
package swap

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/rmera/metromc"
	"github.com/rmera/metromc/neighbor"
	"github.com/rmera/metromc/sublattice"
)

// Options controls the proposal of swaps.
type Options struct {
	//Driving species. If not empty, it takes part in every swap.
	Required string
	//Maximum distance, in A, between the swapped atoms. 0 means no limit.
	Cutoff float64
	//Times the whole pick is repeated when an atom has no partner, before giving up.
	PoolRetries int
	//Times a pair that reuses an atom already in the batch is drawn again.
	CollisionRetries int
}

// DefaultOptions returns the default options: no driving species, no cutoff,
// 1000 pool retries and 10 collision retries.
func DefaultOptions() *Options {
	return &Options{PoolRetries: 1000, CollisionRetries: 10}
}

// Proposal is one exchange: the atom First, of species FirstSpecies, gets the species of
// Second, and vice versa.
type Proposal struct {
	FirstSpecies  string
	First         int
	SecondSpecies string
	Second        int
}

func (p Proposal) String() string {
	return fmt.Sprintf("%s%d<->%s%d", p.FirstSpecies, p.First, p.SecondSpecies, p.Second)
}

// Proposer picks random swaps. It is not safe for concurrent use, since
// it owns its random source. Each chain should have its own Proposer.
type Proposer struct {
	o   *Options
	rng *rand.Rand
	sel neighbor.Selector
}

// NewProposer returns a Proposer with the options o (DefaultOptions if nil) drawing
// numbers from rng. If rng is nil, a randomly seeded generator is used.
func NewProposer(o *Options, rng *rand.Rand) *Proposer {
	if o == nil {
		o = DefaultOptions()
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Proposer{o: o, rng: rng, sel: neighbor.Selector{Cutoff: o.Cutoff}}
}

// Options returns the options of the proposer.
func (P *Proposer) Options() Options { return *P.o }

// Propose picks one swap for S, whose sublattices are in set. set must have been
// built from S. First, a driving species is picked (the required one, if given, otherwise
// a random species among all the sublattices). The first atom is a random atom of
// that species, and the second one is a random atom from the same sublattice, of a
// different species, within the cutoff if one is set. If the first atom
// has no partner, the whole pick is repeated, up to PoolRetries times, after which
// an error of kind ErrProposalExhausted is returned. A required species that is not in
// any sublattice gives an error of kind ErrConfiguration.
func (P *Proposer) Propose(S *metromc.Structure, set *sublattice.Set) (Proposal, error) {
	req := P.o.Required
	if req != "" {
		if _, ok := set.SublatticeOfSpecies(req); !ok {
			return Proposal{}, metromc.Errorf(metromc.ErrConfiguration, "swap.Propose", "required species %s is not in any sublattice", req)
		}
	}
	all := set.Species()
	retries := P.o.PoolRetries
	if retries < 1 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		driving := req
		if driving == "" {
			driving = all[P.rng.IntN(len(all))]
		}
		firsts := set.IndexesOf(driving)
		if len(firsts) == 0 {
			continue
		}
		first := firsts[P.rng.IntN(len(firsts))]
		pool, err := P.sel.Candidates(S, set, first)
		if err != nil {
			return Proposal{}, metromc.Decorate(err, "swap.Propose")
		}
		if req != "" && S.Species(first) != req {
			//make sure the required species takes part in the swap
			filtered := pool[:0]
			for _, j := range pool {
				if S.Species(j) == req {
					filtered = append(filtered, j)
				}
			}
			pool = filtered
		}
		if len(pool) == 0 {
			continue
		}
		second := pool[P.rng.IntN(len(pool))]
		return Proposal{FirstSpecies: S.Species(first), First: first, SecondSpecies: S.Species(second), Second: second}, nil
	}
	return Proposal{}, metromc.Errorf(metromc.ErrProposalExhausted, "swap.Propose", "no partner found in %d attempts (cutoff %g)", retries, P.o.Cutoff)
}

// Apply returns a new structure where the species of each pair of atoms in proposals
// are exchanged. S is not modified. An error of kind ErrInvalidParameter is returned
// if an atom appears in more than one proposal, or if a proposal does not match the
// species in S.
func Apply(S *metromc.Structure, proposals []Proposal) (*metromc.Structure, error) {
	used := make(map[int]bool, 2*len(proposals))
	pairs := make([][2]int, 0, len(proposals))
	for _, p := range proposals {
		for _, i := range [2]int{p.First, p.Second} {
			if used[i] {
				return nil, metromc.Errorf(metromc.ErrInvalidParameter, "swap.Apply", "atom %d appears in more than one swap", i)
			}
			used[i] = true
		}
		if p.First < 0 || p.Second < 0 || p.First >= S.Len() || p.Second >= S.Len() {
			return nil, metromc.Errorf(metromc.ErrInvalidParameter, "swap.Apply", "swap %v out of range for %d atoms", p, S.Len())
		}
		if S.Species(p.First) != p.FirstSpecies || S.Species(p.Second) != p.SecondSpecies {
			return nil, metromc.Errorf(metromc.ErrInvalidParameter, "swap.Apply", "swap %v doesn't match the structure (%s%d, %s%d)", p, S.Species(p.First), p.First, S.Species(p.Second), p.Second)
		}
		if p.FirstSpecies == p.SecondSpecies {
			return nil, metromc.Errorf(metromc.ErrInvalidParameter, "swap.Apply", "swap %v exchanges two atoms of the same species", p)
		}
		pairs = append(pairs, [2]int{p.First, p.Second})
	}
	r, err := S.SwapMany(pairs)
	return r, metromc.Decorate(err, "swap.Apply")
}

// Batch draws n swaps for S, no two of them sharing an atom, and returns them along
// with the structure that results from applying all of them. When a drawn swap reuses an
// atom, it is drawn again, up to CollisionRetries times, after which an error of kind
// ErrProposalExhausted is returned.
func (P *Proposer) Batch(S *metromc.Structure, set *sublattice.Set, n int) ([]Proposal, *metromc.Structure, error) {
	if n < 1 {
		return nil, nil, metromc.Errorf(metromc.ErrInvalidParameter, "swap.Batch", "at least 1 swap needed, got %d", n)
	}
	used := make(map[int]bool, 2*n)
	props := make([]Proposal, 0, n)
	for len(props) < n {
		found := false
		for try := 0; try <= P.o.CollisionRetries; try++ {
			p, err := P.Propose(S, set)
			if err != nil {
				return nil, nil, metromc.Decorate(err, "swap.Batch")
			}
			if used[p.First] || used[p.Second] {
				continue
			}
			used[p.First], used[p.Second] = true, true
			props = append(props, p)
			found = true
			break
		}
		if !found {
			return nil, nil, metromc.Errorf(metromc.ErrProposalExhausted, "swap.Batch", "swap %d of %d collides with the previous ones after %d retries", len(props)+1, n, P.o.CollisionRetries)
		}
	}
	r, err := Apply(S, props)
	if err != nil {
		return nil, nil, metromc.Decorate(err, "swap.Batch")
	}
	return props, r, nil
}

// Candidate is a proposed structure that waits for its energy, and where it
// came from.
type Candidate struct {
	ID         uuid.UUID
	Structure  *metromc.Structure
	Swaps      []Proposal
	SourceStep int
}

// NewCandidate draws n swaps for S (see Batch) and returns the resulting candidate,
// which comes from the step step.
func (P *Proposer) NewCandidate(S *metromc.Structure, set *sublattice.Set, n, step int) (*Candidate, error) {
	props, r, err := P.Batch(S, set, n)
	if err != nil {
		return nil, metromc.Decorate(err, "swap.NewCandidate")
	}
	id := uuid.New()
	r = r.WithComment(fmt.Sprintf("%s step %d %s", metromc.Formula(r), step, id))
	return &Candidate{ID: id, Structure: r, Swaps: props, SourceStep: step}, nil
}
