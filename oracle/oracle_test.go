/*
 * oracle_test.go, part of metromc.
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

package oracle

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rmera/metromc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStructure(t *testing.T) *metromc.Structure {
	L, err := metromc.NewLattice([]float64{6, 0, 0, 0, 6, 0, 0, 0, 6})
	require.NoError(t, err)
	S, err := metromc.NewStructure(L, []metromc.Site{
		{Species: "Te", Frac: [3]float64{0, 0, 0}},
		{Species: "Sb", Frac: [3]float64{0.5, 0.5, 0}},
		{Species: "Sc", Frac: [3]float64{0.5, 0, 0.5}},
		{Species: "Te", Frac: [3]float64{0, 0.5, 0.5}},
	}, "SbScTe2")
	require.NoError(t, err)
	return S
}

const oszicar = `       N       E                     dE             d eps       ncg     rms          rms(c)
DAV:   1     0.123456789012E+03    0.12346E+03   -0.76473E+03   864   0.126E+03
   1 F= -.49524311E+03 E0= -.49524311E+03  d E =-.495243E+03
DAV:   1    -0.495247371588E+03   -0.40024E-02   -0.13421E-01  1056   0.259E+00
   2 F= -.49525104E+03 E0= -.49525012E+03  d E =-.792700E-02
`

func TestReadOszicar(t *testing.T) {
	e, err := readOszicar(strings.NewReader(oszicar))
	require.NoError(t, err)
	assert.InDelta(t, -495.25012, e, 1e-9)

	_, err = readOszicar(strings.NewReader("DAV: 1 0.1 0.1\n"))
	assert.ErrorIs(t, err, metromc.ErrOracleCompute)
}

func templateDir(t *testing.T, perSpecies bool) string {
	dir := t.TempDir()
	for _, v := range []string{"INCAR", "KPOINTS"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, v), []byte(v+"\n"), 0o644))
	}
	if perSpecies {
		for _, v := range []string{"Sb", "Sc", "Te"} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "POTCAR."+v), []byte("PAW "+v+"\n"), 0o644))
		}
	} else {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "POTCAR"), []byte("PAW all\n"), 0o644))
	}
	return dir
}

// fakeVasp is a shell script that behaves like a VASP run that ends well.
func fakeVasp(t *testing.T) []string {
	osz := filepath.Join(t.TempDir(), "OSZICAR.ref")
	require.NoError(t, os.WriteFile(osz, []byte(oszicar), 0o644))
	return []string{"sh", "-c", "cp " + osz + " OSZICAR && echo ' Total CPU time used (sec):  12.3' > OUTCAR"}
}

func TestVasp(t *testing.T) {
	S := testStructure(t)
	work := t.TempDir()
	V := &Vasp{
		Command:      fakeVasp(t),
		WorkDir:      work,
		TemplateDir:  templateDir(t, true),
		SpeciesOrder: []string{"Sc", "Sb", "Te"},
	}
	e, err := V.Evaluate(context.Background(), S)
	require.NoError(t, err)
	assert.InDelta(t, -495.25012, e, 1e-9)

	dir := stageDir(work, S)
	pot, err := os.ReadFile(filepath.Join(dir, "POTCAR"))
	require.NoError(t, err)
	assert.Equal(t, "PAW Sc\nPAW Sb\nPAW Te\n", string(pot))
	P, err := metromc.ReadPOSCARFile(filepath.Join(dir, "POSCAR"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Sc", "Sb", "Te"}, P.SpeciesOrder())
	for _, v := range []string{"INCAR", "KPOINTS", "output"} {
		assert.FileExists(t, filepath.Join(dir, v))
	}

	//A finished folder is not calculated again, so a broken command doesn't matter.
	V.Command = []string{"/nonexistent/vasp_std"}
	e, err = V.Evaluate(context.Background(), S)
	require.NoError(t, err)
	assert.InDelta(t, -495.25012, e, 1e-9)
}

// withVacancies returns testStructure plus two vacant sites, marked with X.
func withVacancies(t *testing.T) *metromc.Structure {
	S := testStructure(t)
	sites := make([]metromc.Site, 0, S.Len()+2)
	for i := 0; i < S.Len(); i++ {
		sites = append(sites, S.Site(i))
	}
	sites = append(sites, metromc.Site{Species: "X", Frac: [3]float64{0.25, 0.25, 0.25}},
		metromc.Site{Species: "X", Frac: [3]float64{0.75, 0.75, 0.75}})
	V, err := metromc.NewStructure(S.Lattice(), sites, "with vacancies")
	require.NoError(t, err)
	return V
}

func TestVacancies(t *testing.T) {
	S := withVacancies(t)
	V := &Vasp{
		Command:      fakeVasp(t),
		WorkDir:      t.TempDir(),
		TemplateDir:  templateDir(t, true),
		SpeciesOrder: []string{"Sc", "Sb", "Te"},
		Vacancy:      "X",
	}
	_, err := V.Evaluate(context.Background(), S)
	require.NoError(t, err)
	dir := stageDir(V.WorkDir, S)
	P, err := metromc.ReadPOSCARFile(filepath.Join(dir, "POSCAR"))
	require.NoError(t, err)
	assert.Equal(t, 4, P.Len())
	assert.Equal(t, 0, P.Count("X"))
	assert.Equal(t, []string{"Sc", "Sb", "Te"}, P.SpeciesOrder())
	pot, err := os.ReadFile(filepath.Join(dir, "POTCAR"))
	require.NoError(t, err)
	assert.Equal(t, "PAW Sc\nPAW Sb\nPAW Te\n", string(pot))
	//the structure itself keeps its vacant sites.
	assert.Equal(t, 2, S.Count("X"))

	M := &MLPotential{
		Kind:    KindMatterSim,
		Command: []string{"sh", "-c", `echo '{"energy_per_atom": -3.0}'`},
		WorkDir: t.TempDir(),
		Vacancy: "X",
	}
	e, err := M.Evaluate(context.Background(), S)
	require.NoError(t, err)
	//only the 4 real atoms count.
	assert.Equal(t, -12.0, e)
	P, err = metromc.ReadPOSCARFile(filepath.Join(stageDir(M.WorkDir, S), "POSCAR"))
	require.NoError(t, err)
	assert.Equal(t, 0, P.Count("X"))

	L, err := metromc.NewLattice([]float64{6, 0, 0, 0, 6, 0, 0, 0, 6})
	require.NoError(t, err)
	empty, err := metromc.NewStructure(L, []metromc.Site{{Species: "X"}}, "nothing")
	require.NoError(t, err)
	_, err = M.Evaluate(context.Background(), empty)
	assert.ErrorIs(t, err, metromc.ErrOracleCompute)

	O, err := New(Config{Kind: KindCHGNet, Command: []string{"driver"}, WorkDir: "x", Vacancy: "X"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "X", O.(*MLPotential).Vacancy)
}

func TestVaspErrors(t *testing.T) {
	S := testStructure(t)
	V := &Vasp{
		Command:     []string{"/nonexistent/vasp_std"},
		WorkDir:     t.TempDir(),
		TemplateDir: templateDir(t, false),
	}
	_, err := V.Evaluate(context.Background(), S)
	assert.ErrorIs(t, err, metromc.ErrOracleUnavailable)

	V.Command = []string{"sh", "-c", "echo 'no OUTCAR for you'"}
	_, err = V.Evaluate(context.Background(), S)
	assert.ErrorIs(t, err, metromc.ErrOracleCompute)

	V.Command = []string{"sh", "-c", "exit 3"}
	_, err = V.Evaluate(context.Background(), S)
	assert.ErrorIs(t, err, metromc.ErrOracleCompute)

	V.Command = []string{"sleep", "10"}
	V.Timeout = 100 * time.Millisecond
	_, err = V.Evaluate(context.Background(), S)
	assert.ErrorIs(t, err, metromc.ErrOracleUnavailable)

	V.TemplateDir = t.TempDir()
	_, err = V.Evaluate(context.Background(), S)
	assert.ErrorIs(t, err, metromc.ErrConfiguration)
}

func TestVaspDetached(t *testing.T) {
	S := testStructure(t)
	cmd := fakeVasp(t)
	//the "submission" returns at once, the job finishes a bit later.
	cmd[2] = "(sleep 0.3; " + cmd[2] + ") > /dev/null 2>&1 &"
	V := &Vasp{
		Command:      cmd,
		WorkDir:      t.TempDir(),
		TemplateDir:  templateDir(t, false),
		Detached:     true,
		PollInterval: 50 * time.Millisecond,
		Timeout:      10 * time.Second,
	}
	e, err := V.Evaluate(context.Background(), S)
	require.NoError(t, err)
	assert.InDelta(t, -495.25012, e, 1e-9)
	pot, err := os.ReadFile(filepath.Join(stageDir(V.WorkDir, S), "POTCAR"))
	require.NoError(t, err)
	assert.Equal(t, "PAW all\n", string(pot))
}

func TestMLEnergy(t *testing.T) {
	e, err := MLEnergy([]byte(`{"energy": -12.5}`), 4)
	require.NoError(t, err)
	assert.Equal(t, -12.5, e)

	e, err = MLEnergy([]byte(`{"energy_per_atom": -2.5}`), 4)
	require.NoError(t, err)
	assert.Equal(t, -10.0, e)

	e, err = MLEnergy([]byte("loading model...\n"+`{"energy_per_atom": -2.5, "natoms": 8}`), 4)
	require.NoError(t, err)
	assert.Equal(t, -20.0, e)

	for _, bad := range []string{"", "nan", `{"forces": []}`, `{"energy": "low"}`} {
		_, err = MLEnergy([]byte(bad), 4)
		assert.Error(t, err, bad)
	}
}

func TestMLPotential(t *testing.T) {
	S := testStructure(t)
	work := t.TempDir()
	M := &MLPotential{
		Kind:    KindCHGNet,
		Command: []string{"sh", "-c", `echo '{"energy_per_atom": -3.0}'`},
		WorkDir: work,
		Relax:   true,
	}
	e, err := M.Evaluate(context.Background(), S)
	require.NoError(t, err)
	assert.Equal(t, -12.0, e)
	assert.FileExists(t, filepath.Join(stageDir(work, S), MLOutputName))

	//the kept output is used the second time.
	M.Command = []string{"sh", "-c", "exit 1"}
	e, err = M.Evaluate(context.Background(), S)
	require.NoError(t, err)
	assert.Equal(t, -12.0, e)

	M.WorkDir = t.TempDir()
	_, err = M.Evaluate(context.Background(), S)
	assert.ErrorIs(t, err, metromc.ErrOracleCompute)

	M.Command = []string{"sh", "-c", "echo 'out of memory'"}
	_, err = M.Evaluate(context.Background(), S)
	assert.ErrorIs(t, err, metromc.ErrOracleCompute)
}

func TestCached(t *testing.T) {
	S := testStructure(t)
	calls := 0
	inner := Func(func(ctx context.Context, S *metromc.Structure) (float64, error) {
		calls++
		return -7.25, nil
	})
	db, err := OpenCache(CacheConfig{InMemory: true})
	require.NoError(t, err)
	C := NewCached(inner, db, "test", nil)
	defer C.Close()
	for i := 0; i < 3; i++ {
		e, err := C.Evaluate(context.Background(), S)
		require.NoError(t, err)
		assert.Equal(t, -7.25, e)
	}
	assert.Equal(t, 1, calls)

	other, err := S.Swap(0, 1)
	require.NoError(t, err)
	_, ok, err := C.Lookup(other)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = C.Evaluate(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCachedPersistent(t *testing.T) {
	S := testStructure(t)
	path := filepath.Join(t.TempDir(), "cache")
	c := Config{Kind: KindMatterSim, Command: []string{"sh", "-c", `echo '{"energy": -1.5}'`}, WorkDir: t.TempDir(), Cache: path}
	O, err := New(c, nil)
	require.NoError(t, err)
	e, err := O.Evaluate(context.Background(), S)
	require.NoError(t, err)
	assert.Equal(t, -1.5, e)
	require.NoError(t, Close(O))

	//a new oracle with a failing program still finds the energy.
	c.Command = []string{"sh", "-c", "exit 1"}
	c.WorkDir = t.TempDir()
	O, err = New(c, nil)
	require.NoError(t, err)
	defer Close(O)
	e, err = O.Evaluate(context.Background(), S)
	require.NoError(t, err)
	assert.Equal(t, -1.5, e)
}

func TestNew(t *testing.T) {
	_, err := New(Config{Kind: "gaussian", Command: []string{"g16"}, WorkDir: "x"}, nil)
	assert.ErrorIs(t, err, metromc.ErrConfiguration)
	_, err = New(Config{Kind: KindVasp, Command: []string{"vasp_std"}, WorkDir: "x"}, nil)
	assert.ErrorIs(t, err, metromc.ErrConfiguration)
	_, err = New(Config{Kind: KindCHGNet, WorkDir: "x"}, nil)
	assert.ErrorIs(t, err, metromc.ErrConfiguration)
	O, err := New(Config{Kind: KindVasp, Command: []string{"vasp_std"}, WorkDir: "x", TemplateDir: "t"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Vasp{}, O)
	O, err = New(Config{Kind: KindMatterSim, Command: []string{"driver"}, WorkDir: "x"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MLPotential{}, O)
}
