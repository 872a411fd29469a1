/*
 * interfaces.go, part of metromc.
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

package metromc

// SpeciesLister is the basic interface for anything with an ordered
// list of atoms, each with a chemical species.
type SpeciesLister interface {

	//Species returns the species symbol of the atom with index i.
	//Should panic if out of range.
	Species(i int) string

	Len() int
}

// StructureStore loads and saves structures by name. Names are
// relative, the store decides where and how they are kept.
type StructureStore interface {
	Load(name string) (*Structure, error)

	Save(name string, S *Structure) error
}

// Decorator is implemented by the errors of this library. Decorate adds the name of a
// caller (plus, optionally, extra info in the format "FunctionName: Extra info") to the
// error as it is passed up, and returns the decoration slice. An empty string adds nothing.
type Decorator interface {
	error
	Decorate(string) []string
	Critical() bool
}
