/*
 * metromc_test.go, part of metromc.
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
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// A rocksalt-like ScSbTe2 cell.
const samplePOSCAR = `Sc Sb Te test cell
   1.0
     6.0  0.0  0.0
     0.0  6.0  0.0
     0.0  0.0  6.0
   Sc Sb Te
   1 1 2
Direct
  0.0 0.0 0.0
  0.5 0.5 0.0
  0.5 0.0 0.5
  0.0 0.5 0.5
`

func sample(Te *testing.T) *Structure {
	S, err := ReadPOSCAR(strings.NewReader(samplePOSCAR))
	if err != nil {
		Te.Fatal(err)
	}
	return S
}

func TestReadPOSCAR(Te *testing.T) {
	S := sample(Te)
	if S.Len() != 4 {
		Te.Fatalf("expected 4 atoms, got %d", S.Len())
	}
	if S.Species(0) != "Sc" || S.Species(1) != "Sb" || S.Species(3) != "Te" {
		Te.Errorf("wrong species: %v", S.SpeciesOrder())
	}
	if S.Comment() != "Sc Sb Te test cell" {
		Te.Errorf("wrong comment %q", S.Comment())
	}
	if math.Abs(S.Lattice().Volume()-216) > 1e-9 {
		Te.Errorf("wrong volume %g", S.Lattice().Volume())
	}
	//negative scale is the volume, cartesian coordinates get scaled.
	cart := strings.Replace(samplePOSCAR, "   1.0\n", "  -1728.0\n", 1)
	cart = strings.Replace(cart, "Direct\n  0.0 0.0 0.0\n  0.5 0.5 0.0", "Selective dynamics\nCartesian\n  0.0 0.0 0.0 T T T\n  3.0 3.0 0.0 F F F", 1)
	cart = strings.Replace(cart, "  0.5 0.0 0.5\n  0.0 0.5 0.5", "  3.0 0.0 3.0\n  0.0 3.0 3.0", 1)
	C, err := ReadPOSCAR(strings.NewReader(cart))
	if err != nil {
		Te.Fatal(err)
	}
	if math.Abs(C.Lattice().Volume()-1728) > 1e-6 {
		Te.Errorf("wrong volume %g", C.Lattice().Volume())
	}
	f := C.Frac(1)
	if math.Abs(f[0]-0.5) > 1e-9 || math.Abs(f[1]-0.5) > 1e-9 || math.Abs(f[2]) > 1e-9 {
		Te.Errorf("wrong fractional coordinates %v", f)
	}
}

func TestReadPOSCARErrors(Te *testing.T) {
	bad := map[string]string{
		"empty":       "",
		"truncated":   samplePOSCAR[:60],
		"vasp4":       strings.Replace(samplePOSCAR, "   Sc Sb Te\n", "", 1),
		"counts":      strings.Replace(samplePOSCAR, "1 1 2", "1 1", 1),
		"few atoms":   strings.Replace(samplePOSCAR, "  0.0 0.5 0.5\n", "", 1),
		"mode":        strings.Replace(samplePOSCAR, "Direct", "Reciprocal", 1),
		"singular":    strings.Replace(samplePOSCAR, "0.0  0.0  6.0", "0.0  0.0  0.0", 1),
		"zero scale":  strings.Replace(samplePOSCAR, "   1.0\n", "   0.0\n", 1),
		"bad number":  strings.Replace(samplePOSCAR, "0.5 0.5 0.0", "0.5 x 0.0", 1),
		"zero counts": strings.Replace(samplePOSCAR, "1 1 2", "1 0 2", 1),
	}
	for name, v := range bad {
		_, err := ReadPOSCAR(strings.NewReader(v))
		if !errors.Is(err, ErrStructureParse) {
			Te.Errorf("%s: expected a parse error, got %v", name, err)
		}
	}
}

func TestPOSCARRoundTrip(Te *testing.T) {
	S := sample(Te)
	//Te in the middle, so the species line has a repeated species.
	S, err := S.Swap(1, 2)
	if err != nil {
		Te.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WritePOSCAR(&buf, S); err != nil {
		Te.Fatal(err)
	}
	fmt.Println(buf.String())
	R, err := ReadPOSCAR(&buf)
	if err != nil {
		Te.Fatal(err)
	}
	if R.Fingerprint() != S.Fingerprint() {
		Te.Errorf("round trip changed the structure")
	}
	for i := 0; i < S.Len(); i++ {
		if R.Species(i) != S.Species(i) {
			Te.Errorf("atom %d: %s became %s", i, S.Species(i), R.Species(i))
		}
	}
}

func TestPOSCARFiles(Te *testing.T) {
	dir := Te.TempDir()
	S := sample(Te)
	for _, name := range []string{"POSCAR", "POSCAR.gz"} {
		p := filepath.Join(dir, name)
		if err := WritePOSCARFile(p, S); err != nil {
			Te.Fatal(err)
		}
		R, err := ReadPOSCARFile(p)
		if err != nil {
			Te.Fatal(err)
		}
		if R.Fingerprint() != S.Fingerprint() {
			Te.Errorf("%s: round trip changed the structure", name)
		}
	}
	b, err := os.ReadFile(filepath.Join(dir, "POSCAR.gz"))
	if err != nil {
		Te.Fatal(err)
	}
	if len(b) < 2 || b[0] != 0x1f || b[1] != 0x8b {
		Te.Errorf("POSCAR.gz is not gzip-compressed")
	}
	left, _ := filepath.Glob(filepath.Join(dir, ".*tmp*"))
	if len(left) != 0 {
		Te.Errorf("temporary files left behind: %v", left)
	}
	if _, err := ReadPOSCARFile(filepath.Join(dir, "nope")); !errors.Is(err, ErrStructureParse) {
		Te.Errorf("expected a parse error for a missing file, got %v", err)
	}
}

func TestDirStore(Te *testing.T) {
	S := sample(Te)
	var st StructureStore = DirStore{Root: Te.TempDir(), Compress: true}
	if err := st.Save("12", S); err != nil {
		Te.Fatal(err)
	}
	D := st.(DirStore)
	if _, err := os.Stat(filepath.Join(D.Dir("12"), POSCARName+".gz")); err != nil {
		Te.Error(err)
	}
	//a store that doesn't compress finds it anyway
	R, err := DirStore{Root: D.Root}.Load("12")
	if err != nil {
		Te.Fatal(err)
	}
	if R.Fingerprint() != S.Fingerprint() {
		Te.Error("stored structure changed")
	}
	if err := D.Mark("12", "exchanged"); err != nil {
		Te.Error(err)
	}
	if _, err := os.Stat(filepath.Join(D.Dir("12"), "exchanged")); err != nil {
		Te.Error(err)
	}
	if _, err := st.Load("13"); err == nil {
		Te.Error("loaded a structure that was never saved")
	}
}

func TestSwapMany(Te *testing.T) {
	S := sample(Te)
	fp := S.Fingerprint()
	R, err := S.SwapMany([][2]int{{0, 2}, {1, 3}})
	if err != nil {
		Te.Fatal(err)
	}
	if S.Species(0) != "Sc" || S.Fingerprint() != fp {
		Te.Error("SwapMany modified the original structure")
	}
	if R.Species(0) != "Te" || R.Species(2) != "Sc" || R.Species(1) != "Te" || R.Species(3) != "Sb" {
		Te.Errorf("wrong swap: %s %s %s %s", R.Species(0), R.Species(1), R.Species(2), R.Species(3))
	}
	if R.Fingerprint() == fp {
		Te.Error("different structures with the same fingerprint")
	}
	if Formula(R) != "Te2Sc1Sb1" {
		Te.Errorf("wrong formula %s", Formula(R))
	}
	for _, bad := range [][2]int{{0, 0}, {0, 4}, {-1, 2}} {
		if _, err := S.SwapMany([][2]int{bad}); !errors.Is(err, ErrInvalidParameter) {
			Te.Errorf("swap %v: expected an invalid parameter error, got %v", bad, err)
		}
	}
	sorted := R.SortedBySpecies([]string{"Sb", "Sc"})
	if got := []string{sorted.Species(0), sorted.Species(1), sorted.Species(2), sorted.Species(3)}; strings.Join(got, " ") != "Sb Sc Te Te" {
		Te.Errorf("wrong order after sorting: %v", got)
	}
}

func TestWithout(Te *testing.T) {
	S := sample(Te)
	R, err := S.Without("Te")
	if err != nil {
		Te.Fatal(err)
	}
	if R.Len() != 2 || R.Species(0) != "Sc" || R.Species(1) != "Sb" || R.Frac(1) != S.Frac(1) {
		Te.Errorf("wrong structure without Te: %s", Formula(R))
	}
	if S.Len() != 4 {
		Te.Error("Without modified the original structure")
	}
	if _, err := S.Without("Sc", "Sb", "Te"); !errors.Is(err, ErrInvalidParameter) {
		Te.Errorf("removing every atom should fail, got %v", err)
	}
}

func TestFingerprint(Te *testing.T) {
	S := sample(Te)
	//the comment and whole-cell translations don't matter
	if S.WithComment("other").Fingerprint() != S.Fingerprint() {
		Te.Error("the comment changed the fingerprint")
	}
	sites := make([]Site, S.Len())
	for i := range sites {
		sites[i] = S.Site(i)
	}
	sites[0].Frac[0] = 1.0
	W, err := NewStructure(S.Lattice(), sites, "")
	if err != nil {
		Te.Fatal(err)
	}
	if W.Fingerprint() != S.Fingerprint() {
		Te.Error("a coordinate of 1.0 and one of 0.0 should be the same site")
	}
}

func TestDistance(Te *testing.T) {
	S := sample(Te)
	if d := Distance(S, 0, 1); math.Abs(d-math.Sqrt(18)) > 1e-9 {
		Te.Errorf("wrong distance %g", d)
	}
	if d := Distance(S, 2, 2); d != 0 {
		Te.Errorf("distance to itself is %g", d)
	}
	L, _ := NewLattice([]float64{10, 0, 0, 0, 10, 0, 0, 0, 10})
	//0.05 and 0.95 are 1 A apart through the boundary
	if d := PointDistance(L, [3]float64{0.05, 0, 0}, [3]float64{0.95, 0, 0}); math.Abs(d-1) > 1e-9 {
		Te.Errorf("wrong minimum image distance %g", d)
	}
	//in a skewed cell, the naive wrapping is not the minimum image
	H, _ := NewLattice([]float64{1, 0, 0, 0.9, 0.5, 0, 0, 0, 5})
	d := PointDistance(H, [3]float64{0, 0, 0}, [3]float64{0.4, 0.4, 0})
	naive := H.Cartesian([3]float64{0.4, 0.4, 0})
	if d > math.Hypot(naive[0], naive[1])+1e-12 {
		Te.Errorf("minimum image %g longer than the direct vector", d)
	}
	if d < 0.2 || d > 0.4 {
		Te.Errorf("unexpected minimum image distance %g", d)
	}
}

func TestLattice(Te *testing.T) {
	L, err := NewLattice([]float64{4, 0, 0, 1, 4, 0, 0, 1, 4})
	if err != nil {
		Te.Fatal(err)
	}
	c := L.Cartesian([3]float64{0.25, 0.5, 0.75})
	f := L.Fractional(c)
	for i, v := range []float64{0.25, 0.5, 0.75} {
		if math.Abs(f[i]-v) > 1e-12 {
			Te.Errorf("fractional->cartesian->fractional gave %v", f)
		}
	}
	if _, err := NewLattice([]float64{1, 0, 0, 2, 0, 0, 0, 0, 1}); !errors.Is(err, ErrStructureParse) {
		Te.Errorf("singular lattice accepted: %v", err)
	}
	if _, err := NewLattice([]float64{1, 0, 0}); err == nil {
		Te.Error("short lattice accepted")
	}
}

func TestAtomicData(Te *testing.T) {
	if z, ok := AtomicNumber("Te"); !ok || z != 52 {
		Te.Errorf("Te: %d %v", z, ok)
	}
	if IsElement("Va") || !IsElement("Sc") {
		Te.Error("wrong element check")
	}
	if !IsInString([]string{"Sc", "Sb"}, "Sb") || IsInInt([]int{1, 2}, 3) {
		Te.Error("IsIn helpers failed")
	}
}

func TestErrors(Te *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ErrOracleUnavailable, "first", cause, "step %d", 3)
	if !errors.Is(err, ErrOracleUnavailable) || !errors.Is(err, cause) {
		Te.Error("wrapped error lost its kind or cause")
	}
	if !Retryable(err) || err.Critical() {
		Te.Error("unavailable oracle should be retryable and not critical")
	}
	Decorate(fmt.Errorf("outer: %w", err), "second")
	if deco := err.Decorate(""); len(deco) != 2 || deco[1] != "second" {
		Te.Errorf("wrong decoration %v", deco)
	}
	if Decorate(nil, "x") != nil {
		Te.Error("decorating nil gave an error")
	}
	if !Errorf(ErrConfiguration, "f", "bad").Critical() {
		Te.Error("configuration errors are critical")
	}
	if Retryable(Errorf(ErrOracleCompute, "f", "no energy")) {
		Te.Error("compute errors are not retryable")
	}
	if p := Wrap(ErrPersistence, "f", cause, "saving"); Retryable(p) || !p.Critical() || !errors.Is(p, cause) {
		Te.Error("persistence errors are critical and keep their cause")
	}
	fmt.Println(err)
}
