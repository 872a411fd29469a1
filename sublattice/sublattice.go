/*
 * sublattice.go, part of metromc.
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

// Package sublattice partitions the atoms of a structure into sublattices, groups of
// sites that can exchange their species, and answers membership queries about them.
package sublattice

import (
	"strings"

	"github.com/rmera/metromc"
)

// SpecieGroup contains the indexes of all atoms of one species within a sublattice.
type SpecieGroup struct {
	species string
	indexes []int
}

// Species returns the species of the group.
func (G *SpecieGroup) Species() string { return G.species }

// Len returns the number of atoms in the group.
func (G *SpecieGroup) Len() int { return len(G.indexes) }

// Indexes returns a copy of the indexes in the group, in increasing order.
func (G *SpecieGroup) Indexes() []int {
	return append([]int(nil), G.indexes...)
}

// Min returns the smallest index in the group.
func (G *SpecieGroup) Min() int { return G.indexes[0] }

// Max returns the largest index in the group.
func (G *SpecieGroup) Max() int { return G.indexes[len(G.indexes)-1] }

// Sublattice is an ordered list of SpecieGroups sharing one kind of site.
// It always has at least two groups.
type Sublattice struct {
	groups []*SpecieGroup
	min    int
	max    int
	n      int
}

// Groups returns the species groups of the sublattice, in the order they were declared.
func (L *Sublattice) Groups() []*SpecieGroup {
	return append([]*SpecieGroup(nil), L.groups...)
}

// Group returns the group for species, or nil if the species is not part of the sublattice.
func (L *Sublattice) Group(species string) *SpecieGroup {
	for _, g := range L.groups {
		if g.species == species {
			return g
		}
	}
	return nil
}

// Species returns the species of the sublattice, in the order they were declared.
func (L *Sublattice) Species() []string {
	ret := make([]string, len(L.groups))
	for i, g := range L.groups {
		ret[i] = g.species
	}
	return ret
}

// Min returns the smallest atom index in the sublattice.
func (L *Sublattice) Min() int { return L.min }

// Max returns the largest atom index in the sublattice.
func (L *Sublattice) Max() int { return L.max }

// Len returns the number of atoms in the sublattice.
func (L *Sublattice) Len() int { return L.n }

// Set is the collection of sublattices declared for a structure. It is built once
// from a structure and never modified. Since swaps change which species sits on each
// index, a Set must be built again for every new structure.
type Set struct {
	subs     []*Sublattice
	natoms   int
	species  []string //species of each covered index, "" if not covered.
	sublOf   []int    //sublattice of each index, -1 if not covered.
	specSubl map[string]int
	order    []string
}

// Build returns the set of sublattices for the atoms in S. Each element of species is
// the list of species symbols that make up one sublattice. One pass over the
// atoms of S is made for each sublattice. An error of kind ErrConfiguration is returned if no
// sublattice is given, if a sublattice has fewer than 2 different species, if a
// species is declared more than once, or if a declared species matches no atom.
func Build(S metromc.SpeciesLister, species [][]string) (*Set, error) {
	if len(species) == 0 {
		return nil, metromc.Errorf(metromc.ErrConfiguration, "sublattice.Build", "no sublattices declared")
	}
	set := &Set{
		natoms:   S.Len(),
		species:  make([]string, S.Len()),
		sublOf:   make([]int, S.Len()),
		specSubl: make(map[string]int),
	}
	for i := range set.sublOf {
		set.sublOf[i] = -1
	}
	for k, list := range species {
		if len(list) < 2 {
			return nil, metromc.Errorf(metromc.ErrConfiguration, "sublattice.Build", "sublattice %d has %d species, at least 2 are needed for a swap", k, len(list))
		}
		groups := make(map[string]*SpecieGroup, len(list))
		sub := &Sublattice{groups: make([]*SpecieGroup, 0, len(list)), min: -1, max: -1}
		for _, sp := range list {
			sp = strings.TrimSpace(sp)
			if sp == "" {
				return nil, metromc.Errorf(metromc.ErrConfiguration, "sublattice.Build", "empty species in sublattice %d", k)
			}
			if prev, ok := set.specSubl[sp]; ok {
				return nil, metromc.Errorf(metromc.ErrConfiguration, "sublattice.Build", "species %s declared in sublattices %d and %d, sublattices must not share species", sp, prev, k)
			}
			set.specSubl[sp] = k
			set.order = append(set.order, sp)
			g := &SpecieGroup{species: sp}
			groups[sp] = g
			sub.groups = append(sub.groups, g)
		}
		for i := 0; i < S.Len(); i++ {
			g, ok := groups[S.Species(i)]
			if !ok {
				continue
			}
			g.indexes = append(g.indexes, i)
			set.species[i] = g.species
			set.sublOf[i] = k
			if sub.min < 0 {
				sub.min = i
			}
			sub.max = i
			sub.n++
		}
		for _, g := range sub.groups {
			if len(g.indexes) == 0 {
				return nil, metromc.Errorf(metromc.ErrConfiguration, "sublattice.Build", "species %s of sublattice %d matches no atom", g.species, k)
			}
		}
		set.subs = append(set.subs, sub)
	}
	return set, nil
}

// Len returns the number of sublattices in the set.
func (S *Set) Len() int { return len(S.subs) }

// Sublattice returns the kth sublattice. It panics if k is out of range.
func (S *Set) Sublattice(k int) *Sublattice { return S.subs[k] }

// Species returns all the declared species, sublattice by sublattice, in the order
// they were declared.
func (S *Set) Species() []string {
	return append([]string(nil), S.order...)
}

// IndexToSpecies returns the species of the atom with index i, as it was when the set
// was built. It returns an error of kind ErrLookup if i is not part of any sublattice.
func (S *Set) IndexToSpecies(i int) (string, error) {
	if i < 0 || i >= S.natoms || S.sublOf[i] < 0 {
		return "", metromc.Errorf(metromc.ErrLookup, "sublattice.IndexToSpecies", "atom %d is not part of any sublattice", i)
	}
	return S.species[i], nil
}

// SublatticeOf returns the number of the sublattice containing the atom i, or an
// error of kind ErrLookup if i is not part of any sublattice.
func (S *Set) SublatticeOf(i int) (int, error) {
	if i < 0 || i >= S.natoms || S.sublOf[i] < 0 {
		return -1, metromc.Errorf(metromc.ErrLookup, "sublattice.SublatticeOf", "atom %d is not part of any sublattice", i)
	}
	return S.sublOf[i], nil
}

// Contains returns true if the atom i is part of the sublattice sub.
func (S *Set) Contains(sub, i int) bool {
	if i < 0 || i >= S.natoms {
		return false
	}
	return sub >= 0 && S.sublOf[i] == sub
}

// SublatticeOfSpecies returns the sublattice where species was declared, and true,
// or -1 and false if the species is not declared in any sublattice.
func (S *Set) SublatticeOfSpecies(species string) (int, bool) {
	k, ok := S.specSubl[species]
	if !ok {
		return -1, false
	}
	return k, true
}

// IndexesOf returns the indexes of all atoms of the given species, or nil if the species
// is not declared in any sublattice.
func (S *Set) IndexesOf(species string) []int {
	k, ok := S.specSubl[species]
	if !ok {
		return nil
	}
	return S.subs[k].Group(species).Indexes()
}

// Covered returns the number of atoms that belong to some sublattice.
func (S *Set) Covered() int {
	n := 0
	for _, v := range S.subs {
		n += v.n
	}
	return n
}
