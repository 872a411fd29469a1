/*
 * files.go, part of metromc.
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
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// POSCARName is the name of the structure file in every step folder.
const POSCARName = "POSCAR"

// lineReader reads a text file line by line, keeping track of the line number
// for error messages.
type lineReader struct {
	sc *bufio.Scanner
	n  int
}

func (l *lineReader) next() (string, error) {
	if !l.sc.Scan() {
		if err := l.sc.Err(); err != nil {
			return "", Wrap(ErrStructureParse, "ReadPOSCAR", err, "reading line %d", l.n+1)
		}
		return "", Errorf(ErrStructureParse, "ReadPOSCAR", "unexpected end of file after line %d", l.n)
	}
	l.n++
	return l.sc.Text(), nil
}

// floats reads a line with at least n floats, and returns the first n.
func (l *lineReader) floats(n int) ([]float64, error) {
	line, err := l.next()
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(line)
	if len(fields) < n {
		return nil, Errorf(ErrStructureParse, "ReadPOSCAR", "line %d: expected %d numbers, got %q", l.n, n, line)
	}
	ret := make([]float64, n)
	for i := range ret {
		ret[i], err = strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, Wrap(ErrStructureParse, "ReadPOSCAR", err, "line %d", l.n)
		}
	}
	return ret, nil
}

// ReadPOSCAR reads a VASP 5 POSCAR/CONTCAR from r. Both "Direct" and "Cartesian"
// coordinates are supported, as well as negative (volume) and 3-component scaling
// factors. "Selective dynamics" flags are read and discarded. VASP 4 files, which
// lack the line with the species symbols, are not supported.
func ReadPOSCAR(r io.Reader) (*Structure, error) {
	l := &lineReader{sc: bufio.NewScanner(r)}
	comment, err := l.next()
	if err != nil {
		return nil, err
	}
	line, err := l.next()
	if err != nil {
		return nil, err
	}
	scale := make([]float64, 0, 3)
	for _, v := range strings.Fields(line) {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, Wrap(ErrStructureParse, "ReadPOSCAR", err, "line %d: bad scaling factor", l.n)
		}
		scale = append(scale, f)
	}
	if len(scale) != 1 && len(scale) != 3 {
		return nil, Errorf(ErrStructureParse, "ReadPOSCAR", "line %d: need 1 or 3 scaling factors, got %d", l.n, len(scale))
	}
	latdata := make([]float64, 0, 9)
	for i := 0; i < 3; i++ {
		v, err := l.floats(3)
		if err != nil {
			return nil, err
		}
		latdata = append(latdata, v...)
	}
	factor := [3]float64{1, 1, 1}
	if len(scale) == 3 {
		copy(factor[:], scale)
	} else if scale[0] < 0 {
		//a negative factor is the target volume of the cell
		raw, err := NewLattice(latdata)
		if err != nil {
			return nil, Decorate(err, "ReadPOSCAR")
		}
		f := math.Cbrt(-scale[0] / raw.Volume())
		factor = [3]float64{f, f, f}
	} else if scale[0] == 0 {
		return nil, Errorf(ErrStructureParse, "ReadPOSCAR", "zero scaling factor")
	} else {
		factor = [3]float64{scale[0], scale[0], scale[0]}
	}
	for i := range latdata {
		latdata[i] *= factor[i%3]
	}
	lattice, err := NewLattice(latdata)
	if err != nil {
		return nil, Decorate(err, "ReadPOSCAR")
	}
	line, err = l.next()
	if err != nil {
		return nil, err
	}
	symbols := strings.Fields(line)
	if len(symbols) == 0 {
		return nil, Errorf(ErrStructureParse, "ReadPOSCAR", "line %d: empty species line", l.n)
	}
	if _, err := strconv.Atoi(symbols[0]); err == nil {
		return nil, Errorf(ErrStructureParse, "ReadPOSCAR", "line %d: POSCAR without species line (VASP 4 format) is not supported", l.n)
	}
	line, err = l.next()
	if err != nil {
		return nil, err
	}
	countfields := strings.Fields(line)
	if len(countfields) != len(symbols) {
		return nil, Errorf(ErrStructureParse, "ReadPOSCAR", "line %d: %d species but %d counts", l.n, len(symbols), len(countfields))
	}
	species := make([]string, 0, 64)
	for i, v := range countfields {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, Errorf(ErrStructureParse, "ReadPOSCAR", "line %d: bad atom count %q", l.n, v)
		}
		for j := 0; j < n; j++ {
			species = append(species, symbols[i])
		}
	}
	line, err = l.next()
	if err != nil {
		return nil, err
	}
	mode := strings.TrimSpace(line)
	if strings.HasPrefix(strings.ToLower(mode), "s") {
		//selective dynamics
		if line, err = l.next(); err != nil {
			return nil, err
		}
		mode = strings.TrimSpace(line)
	}
	var cartesian bool
	switch {
	case mode == "":
		return nil, Errorf(ErrStructureParse, "ReadPOSCAR", "line %d: missing coordinate mode", l.n)
	case strings.ContainsAny(mode[:1], "dD"):
		cartesian = false
	case strings.ContainsAny(mode[:1], "cCkK"):
		cartesian = true
	default:
		return nil, Errorf(ErrStructureParse, "ReadPOSCAR", "line %d: unknown coordinate mode %q", l.n, mode)
	}
	sites := make([]Site, len(species))
	for i := range sites {
		v, err := l.floats(3)
		if err != nil {
			return nil, err
		}
		c := [3]float64{v[0], v[1], v[2]}
		if cartesian {
			for k := range c {
				c[k] *= factor[k]
			}
			c = lattice.Fractional(c)
		}
		sites[i] = Site{Species: species[i], Frac: c}
	}
	S, err := NewStructure(lattice, sites, strings.TrimSpace(comment))
	if err != nil {
		return nil, Decorate(err, "ReadPOSCAR")
	}
	return S, nil
}

// WritePOSCAR writes S to w as a VASP 5 POSCAR in direct coordinates. Species are written
// as runs of consecutive atoms, in the order of the structure, so reading the file back
// gives exactly the same atom order. Use SortedBySpecies first if each species must
// appear only once in the header.
func WritePOSCAR(w io.Writer, S *Structure) error {
	out := bufio.NewWriter(w)
	comment := strings.ReplaceAll(S.Comment(), "\n", " ")
	if comment == "" {
		comment = "metromc"
	}
	fmt.Fprintf(out, "%s\n", comment)
	fmt.Fprintf(out, "%19.14f\n", 1.0)
	for i := 0; i < 3; i++ {
		v := S.Lattice().Vector(i)
		fmt.Fprintf(out, " %22.16f%22.16f%22.16f\n", v[0], v[1], v[2])
	}
	names, counts := speciesRuns(S)
	for _, v := range names {
		fmt.Fprintf(out, " %4s", v)
	}
	fmt.Fprintf(out, "\n")
	for _, v := range counts {
		fmt.Fprintf(out, " %4d", v)
	}
	fmt.Fprintf(out, "\nDirect\n")
	for i := 0; i < S.Len(); i++ {
		c := S.Frac(i)
		fmt.Fprintf(out, " %20.16f%20.16f%20.16f\n", c[0], c[1], c[2])
	}
	return out.Flush()
}

// speciesRuns returns the species of each run of consecutive atoms of the same
// species and the length of each run.
func speciesRuns(S *Structure) ([]string, []int) {
	names := make([]string, 0, 4)
	counts := make([]int, 0, 4)
	for i := 0; i < S.Len(); i++ {
		sp := S.Species(i)
		if len(names) > 0 && names[len(names)-1] == sp {
			counts[len(counts)-1]++
			continue
		}
		names = append(names, sp)
		counts = append(counts, 1)
	}
	return names, counts
}

// DirStore keeps each structure as a POSCAR file in its own folder under Root,
// as in Root/<name>/POSCAR. If Compress is true, files are gzip-compressed
// (POSCAR.gz). Structures written uncompressed are still found by a compressing store, and
// vice versa.
type DirStore struct {
	Root     string
	Compress bool
}

func (D DirStore) path(name string, gz bool) string {
	f := POSCARName
	if gz {
		f += ".gz"
	}
	return filepath.Join(D.Root, name, f)
}

// Dir returns the folder of the structure name.
func (D DirStore) Dir(name string) string {
	return filepath.Join(D.Root, name)
}

// Load reads the structure name.
func (D DirStore) Load(name string) (*Structure, error) {
	p := D.path(name, D.Compress)
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		p = D.path(name, !D.Compress)
	}
	S, err := ReadPOSCARFile(p)
	return S, Decorate(err, "DirStore.Load")
}

// Save writes S as the structure name, creating its folder if needed.
func (D DirStore) Save(name string, S *Structure) error {
	if err := os.MkdirAll(D.Dir(name), 0o755); err != nil {
		return fmt.Errorf("DirStore.Save: creating folder for %s: %w", name, err)
	}
	return WritePOSCARFile(D.path(name, D.Compress), S)
}

// Mark creates an empty file called marker in the folder of the structure name.
func (D DirStore) Mark(name, marker string) error {
	if err := os.MkdirAll(D.Dir(name), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(D.Dir(name), marker), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
