/*
 * handy.go, part of metromc.
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
/***Dedicated to the long life of the Ven. Khenpo Phuntzok Tenzin Rinpoche***/

package metromc

import (
	"strconv"
	"strings"
)

// Formula returns the composition of S as a formula, with species in order of first
// appearance, for instance, "Sc4Sb4Te8". Counts of 1 are written, as VASP does.
func Formula(S SpeciesLister) string {
	order := make([]string, 0, 4)
	count := make(map[string]int)
	for i := 0; i < S.Len(); i++ {
		sp := S.Species(i)
		if count[sp] == 0 {
			order = append(order, sp)
		}
		count[sp]++
	}
	var b strings.Builder
	for _, v := range order {
		b.WriteString(v)
		b.WriteString(strconv.Itoa(count[v]))
	}
	return b.String()
}

// IsInInt returns true if test is in container, false otherwise.
func IsInInt(container []int, test int) bool {
	for _, i := range container {
		if test == i {
			return true
		}
	}
	return false
}

// IsInString is the same as IsInInt, but with strings.
func IsInString(container []string, test string) bool {
	for _, i := range container {
		if test == i {
			return true
		}
	}
	return false
}
