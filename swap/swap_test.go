/*
 * swap_test.go, part of metromc.
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

package swap

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/rmera/metromc"
	"github.com/rmera/metromc/sublattice"
)

// structure returns a 10 A cubic cell with the given species, spread along the a axis.
func structure(Te *testing.T, species ...string) *metromc.Structure {
	L, err := metromc.NewLattice([]float64{10, 0, 0, 0, 10, 0, 0, 0, 10})
	if err != nil {
		Te.Fatal(err)
	}
	sites := make([]metromc.Site, len(species))
	for i, v := range species {
		sites[i] = metromc.Site{Species: v, Frac: [3]float64{float64(i) / float64(len(species)), 0, 0}}
	}
	S, err := metromc.NewStructure(L, sites, "test")
	if err != nil {
		Te.Fatal(err)
	}
	return S
}

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

func TestProposeFourAtoms(Te *testing.T) {
	S := structure(Te, "A", "A", "B", "B")
	set, err := sublattice.Build(S, [][]string{{"A", "B"}})
	if err != nil {
		Te.Fatal(err)
	}
	P := NewProposer(nil, seeded(1))
	seen := make(map[[2]int]bool)
	for i := 0; i < 1000; i++ {
		p, err := P.Propose(S, set)
		if err != nil {
			Te.Fatal(err)
		}
		if p.First == p.Second || p.FirstSpecies == p.SecondSpecies {
			Te.Fatalf("invalid proposal %v", p)
		}
		a, b := p.First, p.Second
		if a > b {
			a, b = b, a
		}
		if a > 1 || b < 2 || b > 3 {
			Te.Fatalf("proposal %v should take one atom from {0,1} and one from {2,3}", p)
		}
		if S.Species(p.First) != p.FirstSpecies || S.Species(p.Second) != p.SecondSpecies {
			Te.Fatalf("proposal %v doesn't match the structure", p)
		}
		seen[[2]int{a, b}] = true
	}
	if len(seen) != 4 {
		Te.Errorf("expected all 4 possible pairs to show up, got %v", seen)
	}
}

func TestProposeTwoAtomsIsDeterministic(Te *testing.T) {
	S := structure(Te, "Te", "A", "B", "Te")
	set, err := sublattice.Build(S, [][]string{{"A", "B"}})
	if err != nil {
		Te.Fatal(err)
	}
	P := NewProposer(nil, seeded(2))
	for i := 0; i < 50; i++ {
		p, err := P.Propose(S, set)
		if err != nil {
			Te.Fatal(err)
		}
		if !(p.First == 1 && p.Second == 2) && !(p.First == 2 && p.Second == 1) {
			Te.Fatalf("the only possible swap is 1<->2, got %v", p)
		}
	}
}

func TestProposeRequired(Te *testing.T) {
	S := structure(Te, "A", "B", "C", "A", "B", "C", "O", "O")
	set, err := sublattice.Build(S, [][]string{{"A", "B", "C"}})
	if err != nil {
		Te.Fatal(err)
	}
	o := DefaultOptions()
	o.Required = "C"
	P := NewProposer(o, seeded(3))
	for i := 0; i < 500; i++ {
		p, err := P.Propose(S, set)
		if err != nil {
			Te.Fatal(err)
		}
		if p.FirstSpecies != "C" && p.SecondSpecies != "C" {
			Te.Fatalf("proposal %v doesn't include the required species", p)
		}
	}
	o.Required = "O"
	if _, err := P.Propose(S, set); !errors.Is(err, metromc.ErrConfiguration) {
		Te.Errorf("a required species out of the sublattices should be a configuration error, got %v", err)
	}
}

func TestProposeTwoSublattices(Te *testing.T) {
	//1.25 A between atoms: the nearest ones are always of the other sublattice.
	S := structure(Te, "A", "X", "B", "Y", "A", "X", "B", "Y")
	set, err := sublattice.Build(S, [][]string{{"A", "B"}, {"X", "Y"}})
	if err != nil {
		Te.Fatal(err)
	}
	for _, cutoff := range []float64{0, 3} {
		o := DefaultOptions()
		o.Cutoff = cutoff
		P := NewProposer(o, seeded(7))
		subs := make(map[int]int)
		for i := 0; i < 2000; i++ {
			p, err := P.Propose(S, set)
			if err != nil {
				Te.Fatal(err)
			}
			k1, err1 := set.SublatticeOf(p.First)
			k2, err2 := set.SublatticeOf(p.Second)
			if err1 != nil || err2 != nil || k1 != k2 {
				Te.Fatalf("cutoff %g: proposal %v crosses sublattices (%d, %d)", cutoff, p, k1, k2)
			}
			if p.First == p.Second || S.Species(p.First) == S.Species(p.Second) {
				Te.Fatalf("cutoff %g: invalid proposal %v", cutoff, p)
			}
			if d := metromc.Distance(S, p.First, p.Second); cutoff > 0 && d >= cutoff {
				Te.Fatalf("cutoff %g: atoms of proposal %v are %g A apart", cutoff, p, d)
			}
			subs[k1]++
		}
		if len(subs) != 2 {
			Te.Errorf("cutoff %g: expected swaps in both sublattices, got %v", cutoff, subs)
		}
	}
}

func TestProposeCutoffExhausted(Te *testing.T) {
	//Atoms are 5 A apart, a 1 A cutoff leaves no partner.
	S := structure(Te, "A", "B")
	set, err := sublattice.Build(S, [][]string{{"A", "B"}})
	if err != nil {
		Te.Fatal(err)
	}
	o := DefaultOptions()
	o.Cutoff = 1
	o.PoolRetries = 20
	_, err = NewProposer(o, seeded(4)).Propose(S, set)
	if !errors.Is(err, metromc.ErrProposalExhausted) {
		Te.Errorf("expected an exhausted proposal, got %v", err)
	}
	fmt.Println(err)
	o.Cutoff = 11
	if _, err = NewProposer(o, seeded(4)).Propose(S, set); err != nil {
		Te.Error(err)
	}
}

func TestApply(Te *testing.T) {
	S := structure(Te, "A", "A", "B", "B")
	r, err := Apply(S, []Proposal{{"A", 0, "B", 3}})
	if err != nil {
		Te.Fatal(err)
	}
	if r.Species(0) != "B" || r.Species(3) != "A" || metromc.Formula(r) != "B2A2" {
		Te.Errorf("wrong swapped structure %s", metromc.Formula(r))
	}
	if S.Species(0) != "A" || S.Species(3) != "B" {
		Te.Error("Apply modified its input")
	}
	bad := [][]Proposal{
		{{"A", 0, "B", 3}, {"A", 1, "B", 3}},
		{{"B", 0, "A", 3}},
		{{"A", 0, "A", 1}},
		{{"A", 0, "B", 7}},
	}
	for _, v := range bad {
		if _, err := Apply(S, v); !errors.Is(err, metromc.ErrInvalidParameter) {
			Te.Errorf("%v should be invalid, got %v", v, err)
		}
	}
}

func TestBatch(Te *testing.T) {
	S := structure(Te, "A", "A", "A", "B", "B", "B")
	set, err := sublattice.Build(S, [][]string{{"A", "B"}})
	if err != nil {
		Te.Fatal(err)
	}
	o := DefaultOptions()
	o.CollisionRetries = 1000
	P := NewProposer(o, seeded(5))
	props, r, err := P.Batch(S, set, 3)
	if err != nil {
		Te.Fatal(err)
	}
	used := make(map[int]bool)
	for _, p := range props {
		if used[p.First] || used[p.Second] {
			Te.Errorf("atom reused in batch %v", props)
		}
		used[p.First], used[p.Second] = true, true
	}
	//3 A-B swaps on 3 A and 3 B exchange everything.
	if metromc.Formula(r) != "B3A3" {
		Te.Errorf("expected B3A3, got %s", metromc.Formula(r))
	}
	//A 4th swap can never be found.
	if _, _, err := P.Batch(S, set, 4); !errors.Is(err, metromc.ErrProposalExhausted) {
		Te.Errorf("expected an exhausted batch, got %v", err)
	}
	c, err := P.NewCandidate(S, set, 1, 7)
	if err != nil {
		Te.Fatal(err)
	}
	if c.SourceStep != 7 || len(c.Swaps) != 1 || c.ID.String() == "" {
		Te.Errorf("bad candidate %+v", c)
	}
	if c.Structure.Fingerprint() == S.Fingerprint() {
		Te.Error("the candidate should differ from its source")
	}
}
