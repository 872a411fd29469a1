/*
 * geometric.go, part of metromc.
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

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Distance returns the minimum-image distance, in A, between atoms i and j of S,
// considering the periodic boundary conditions given by the lattice of S.
// It returns 0 for i==j.
func Distance(S *Structure, i, j int) float64 {
	return PointDistance(S.Lattice(), S.Frac(i), S.Frac(j))
}

// PointDistance returns the minimum-image distance between two points, given in
// fractional coordinates of the lattice L.
func PointDistance(L *Lattice, a, b [3]float64) float64 {
	var d [3]float64
	for k := range d {
		d[k] = a[k] - b[k]
		d[k] -= math.Round(d[k]) //wrapped to [-0.5,0.5]
	}
	//The wrapped vector is the minimum image only for orthogonal cells. For skewed
	//ones, one of the neighboring images can be closer, so we check all 27.
	best := math.Inf(1)
	var t [3]float64
	for x := -1.0; x <= 1; x++ {
		for y := -1.0; y <= 1; y++ {
			for z := -1.0; z <= 1; z++ {
				t[0], t[1], t[2] = d[0]+x, d[1]+y, d[2]+z
				c := L.Cartesian(t)
				if n := floats.Norm(c[:], 2); n < best {
					best = n
				}
			}
		}
	}
	return best
}
