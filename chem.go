/*
 * chem.go, part of metromc.
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
 */
/***Dedicated to the long life of the Ven. Khenpo Phuntzok Tenzin Rinpoche***/

package metromc

import (
	"encoding/binary"
	"math"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/mat"
)

/**Note: Like in goChem, the accessors here (Species, Frac, Site) panic instead of returning errors
 * when given an out-of-range index. That is a programming error, not a runtime condition.**/

const appzero float64 = 0.000000000001 //Everything equal or less than this is considered zero.

// fingerprint resolution for coordinates, in fractional units.
const fpResolution = 1e6

// Lattice contains the three lattice vectors of a periodic cell, one per row, in A.
// A Lattice is never modified after creation.
type Lattice struct {
	vecs *mat.Dense
	inv  *mat.Dense
}

// NewLattice returns a lattice from the 9 components of the a, b and c vectors,
// in that order. It returns an error if the vectors are linearly dependent.
func NewLattice(data []float64) (*Lattice, error) {
	if len(data) != 9 {
		return nil, Errorf(ErrStructureParse, "NewLattice", "a lattice needs 9 components, got %d", len(data))
	}
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, Errorf(ErrStructureParse, "NewLattice", "non-finite lattice component")
		}
	}
	L := &Lattice{vecs: mat.NewDense(3, 3, append([]float64(nil), data...))}
	if math.Abs(mat.Det(L.vecs)) <= appzero {
		return nil, Errorf(ErrStructureParse, "NewLattice", "singular lattice")
	}
	L.inv = mat.NewDense(3, 3, nil)
	if err := L.inv.Inverse(L.vecs); err != nil {
		return nil, Wrap(ErrStructureParse, "NewLattice", err, "can't invert lattice")
	}
	return L, nil
}

// Vector returns a copy of the ith lattice vector (0=a, 1=b, 2=c).
func (L *Lattice) Vector(i int) [3]float64 {
	var r [3]float64
	copy(r[:], L.vecs.RawRowView(i))
	return r
}

// Data returns a copy of the 9 lattice components, row-major.
func (L *Lattice) Data() []float64 {
	r := make([]float64, 0, 9)
	for i := 0; i < 3; i++ {
		r = append(r, L.vecs.RawRowView(i)...)
	}
	return r
}

// Volume returns the volume of the cell, in A^3
func (L *Lattice) Volume() float64 {
	return math.Abs(mat.Det(L.vecs))
}

// Cartesian returns the cartesian coordinates of the fractional coordinates frac.
func (L *Lattice) Cartesian(frac [3]float64) [3]float64 {
	r := mat.NewVecDense(3, nil)
	r.MulVec(L.vecs.T(), mat.NewVecDense(3, frac[:]))
	return [3]float64{r.AtVec(0), r.AtVec(1), r.AtVec(2)}
}

// Fractional returns the fractional coordinates of the cartesian coordinates cart.
func (L *Lattice) Fractional(cart [3]float64) [3]float64 {
	r := mat.NewVecDense(3, nil)
	r.MulVec(L.inv.T(), mat.NewVecDense(3, cart[:]))
	return [3]float64{r.AtVec(0), r.AtVec(1), r.AtVec(2)}
}

// Site is one atom of a structure: its species and its fractional coordinates.
type Site struct {
	Species string
	Frac    [3]float64
}

// Structure is a periodic crystal structure: a lattice and an ordered list of sites.
// The identity of an atom is its index in the list. Structures are immutable, all
// operations that change a structure return a new one.
type Structure struct {
	lattice *Lattice
	sites   []Site
	comment string
}

// NewStructure returns a structure with the given lattice and sites. The sites
// are copied. It returns an error if the lattice is nil, there are no sites, or
// a site has an empty species.
func NewStructure(lattice *Lattice, sites []Site, comment string) (*Structure, error) {
	if lattice == nil {
		return nil, Errorf(ErrStructureParse, "NewStructure", "nil lattice")
	}
	if len(sites) == 0 {
		return nil, Errorf(ErrStructureParse, "NewStructure", "a structure needs at least one site")
	}
	for i, v := range sites {
		if strings.TrimSpace(v.Species) == "" {
			return nil, Errorf(ErrStructureParse, "NewStructure", "site %d has no species", i)
		}
	}
	S := &Structure{lattice: lattice, comment: comment}
	S.sites = append(make([]Site, 0, len(sites)), sites...)
	return S, nil
}

// Len returns the number of atoms in the structure.
func (S *Structure) Len() int {
	return len(S.sites)
}

// Species returns the species of the atom with index i.
func (S *Structure) Species(i int) string {
	return S.sites[i].Species
}

// Frac returns the fractional coordinates of the atom with index i.
func (S *Structure) Frac(i int) [3]float64 {
	return S.sites[i].Frac
}

// Site returns a copy of the ith site.
func (S *Structure) Site(i int) Site {
	return S.sites[i]
}

// Lattice returns the lattice of the structure.
func (S *Structure) Lattice() *Lattice {
	return S.lattice
}

// Comment returns the comment (title) line of the structure.
func (S *Structure) Comment() string {
	return S.comment
}

// WithComment returns a copy of S with a different comment line.
func (S *Structure) WithComment(comment string) *Structure {
	r := S.Copy()
	r.comment = comment
	return r
}

// Copy returns a copy of the structure. The lattice is shared,
// as it is never modified.
func (S *Structure) Copy() *Structure {
	r := &Structure{lattice: S.lattice, comment: S.comment}
	r.sites = append(make([]Site, 0, len(S.sites)), S.sites...)
	return r
}

// SpeciesOrder returns the different species in the structure, in order of
// first appearance.
func (S *Structure) SpeciesOrder() []string {
	ret := make([]string, 0, 4)
	seen := make(map[string]bool)
	for _, v := range S.sites {
		if !seen[v.Species] {
			seen[v.Species] = true
			ret = append(ret, v.Species)
		}
	}
	return ret
}

// Count returns the number of atoms of the given species.
func (S *Structure) Count(species string) int {
	n := 0
	for _, v := range S.sites {
		if v.Species == species {
			n++
		}
	}
	return n
}

// Indexes returns the indexes of all atoms of the given species, in increasing order.
func (S *Structure) Indexes(species string) []int {
	ret := make([]int, 0, len(S.sites)/2)
	for i, v := range S.sites {
		if v.Species == species {
			ret = append(ret, i)
		}
	}
	return ret
}

// Swap returns a new structure where the species of atoms i and j are exchanged.
func (S *Structure) Swap(i, j int) (*Structure, error) {
	return S.SwapMany([][2]int{{i, j}})
}

// SwapMany returns a new structure where, for each pair, the species of both atoms
// are exchanged. Pairs are applied in order. It returns an error for out-of-range
// indexes or for pairs with the same index twice. S is not modified.
func (S *Structure) SwapMany(pairs [][2]int) (*Structure, error) {
	for _, p := range pairs {
		if p[0] < 0 || p[1] < 0 || p[0] >= len(S.sites) || p[1] >= len(S.sites) {
			return nil, Errorf(ErrInvalidParameter, "SwapMany", "swap %d<->%d out of range for %d atoms", p[0], p[1], len(S.sites))
		}
		if p[0] == p[1] {
			return nil, Errorf(ErrInvalidParameter, "SwapMany", "can't swap atom %d with itself", p[0])
		}
	}
	r := S.Copy()
	for _, p := range pairs {
		r.sites[p[0]].Species, r.sites[p[1]].Species = r.sites[p[1]].Species, r.sites[p[0]].Species
	}
	return r, nil
}

// SortedBySpecies returns a new structure with the atoms reordered so species come
// in the order given (species not in order go after, in order of first appearance).
// Atoms of the same species keep their relative order. This is what VASP needs to
// match a POTCAR, but notice that it changes the atom indexes.
func (S *Structure) SortedBySpecies(order []string) *Structure {
	rank := make(map[string]int, len(order))
	for i, v := range order {
		if _, ok := rank[v]; !ok {
			rank[v] = i
		}
	}
	for _, v := range S.SpeciesOrder() {
		if _, ok := rank[v]; !ok {
			rank[v] = len(rank)
		}
	}
	r := S.Copy()
	sort.SliceStable(r.sites, func(i, j int) bool {
		return rank[r.sites[i].Species] < rank[r.sites[j].Species]
	})
	return r
}

// Without returns a new structure without the atoms of the given species, such as
// placeholders for vacancies. The remaining atoms keep their relative order. It returns
// an error of kind ErrInvalidParameter if no atom would be left.
func (S *Structure) Without(species ...string) (*Structure, error) {
	r := &Structure{lattice: S.lattice, comment: S.comment}
	r.sites = make([]Site, 0, len(S.sites))
	for _, v := range S.sites {
		if !IsInString(species, v.Species) {
			r.sites = append(r.sites, v)
		}
	}
	if len(r.sites) == 0 {
		return nil, Errorf(ErrInvalidParameter, "Structure.Without", "removing %v leaves no atoms", species)
	}
	return r, nil
}

// Fingerprint returns a 64-bit hash of the lattice, the species and the fractional
// coordinates (wrapped into the cell and rounded) of the structure. Two structures with the same
// occupation of the same sites, in the same order, have the same fingerprint.
// The comment line is not considered.
func (S *Structure) Fingerprint() uint64 {
	h := xxhash.New()
	buf := make([]byte, 8)
	putf := func(f float64) {
		binary.LittleEndian.PutUint64(buf, uint64(int64(math.Round(f*fpResolution))))
		h.Write(buf)
	}
	for _, v := range S.lattice.Data() {
		putf(v)
	}
	for _, v := range S.sites {
		h.WriteString(v.Species)
		h.Write([]byte{0})
		for _, c := range v.Frac {
			w := c - math.Floor(c)
			if math.Round(w*fpResolution) >= fpResolution {
				w = 0
			}
			putf(w)
		}
	}
	return h.Sum64()
}
