/*
 * doc.go, part of metromc.
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

/*
Package metromc is the root package of the metromc library. It provides the periodic
crystal structure type used by the rest of the library, POSCAR reading and writing
(plain or gzip-compressed) and the error kinds shared by all subpackages.

	**metromc Capabilities**

	Metropolis Monte Carlo search over the site occupation of a crystal.
	Only the species on the sites change, the positions of the sites stay fixed.

	Sublattice-aware swap proposals: the user declares which species share a
	sublattice (say, ["Sc","Sb"] on one set of sites, ["S","Se"] on another) and
	only atoms of different species within the same sublattice are exchanged.
	Optionally, a species can be forced to take part in every swap, and swaps can be
	restricted to atoms closer than a cutoff (short-range diffusion).

	Energies are obtained from an external program: VASP, or a machine-learned
	potential (CHGNet, MatterSim) driven through a small external script. Energies
	can be cached in an embedded database so a structure is never computed twice.

	The step counters of a search are persisted atomically after every step, so
	an interrupted search can be resumed.

The subpackages are:

	sublattice: groups of atom indexes per species and sublattice.
	neighbor: periodic neighbor queries.
	swap: swap proposals and candidate structures.
	metropolis: the acceptance criterion.
	chain: the Monte Carlo chain itself, its persisted state and metrics.
	oracle: energy evaluation (VASP, ML potentials, cache).
	acclog: the per-step acceptance log.
	retry: bounded retry with backoff.
	config: configuration loading and validation.

Structures are immutable values. Every operation that changes the occupation of the
sites (Swap, SwapMany, SortedBySpecies) returns a new Structure, so a structure
handed to an energy program is never modified afterwards.
*/
package metromc
