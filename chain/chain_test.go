/*
 * chain_test.go, part of metromc.
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

package chain

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rmera/metromc"
	"github.com/rmera/metromc/acclog"
	"github.com/rmera/metromc/oracle"
	"github.com/rmera/metromc/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func structure(t *testing.T, species ...string) *metromc.Structure {
	L, err := metromc.NewLattice([]float64{8, 0, 0, 0, 8, 0, 0, 0, 8})
	require.NoError(t, err)
	sites := make([]metromc.Site, len(species))
	for i, v := range species {
		sites[i] = metromc.Site{Species: v, Frac: [3]float64{float64(i) / float64(len(species)), 0.25, 0.25}}
	}
	S, err := metromc.NewStructure(L, sites, "test")
	require.NoError(t, err)
	return S
}

// toyEnergy favors A atoms at low indexes.
func toyEnergy(ctx context.Context, S *metromc.Structure) (float64, error) {
	e := 0.0
	for i := 0; i < S.Len(); i++ {
		if S.Species(i) == "A" {
			e += 0.02 * float64(i)
		}
	}
	return e, nil
}

func testOptions(t *testing.T) *Options {
	o := DefaultOptions()
	o.Name = "test"
	o.Sublattices = [][]string{{"A", "B"}}
	o.WorkDir = t.TempDir()
	o.Seed = 42
	o.SaveSteps = false
	o.OracleRetry = retry.Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}
	return o
}

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateName)
	for _, s := range []State{{}, {TotalSteps: 10, ExchangedSteps: 3}, {TotalSteps: 1000, ExchangedSteps: 1000}} {
		require.NoError(t, SaveState(path, s))
		got, err := LoadState(path)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Total_steps": 1000, "Exchanged_steps": 1000}`, string(b))
	assert.Error(t, SaveState(path, State{TotalSteps: 1, ExchangedSteps: 2}))
}

func TestLoadStateErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadState(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, metromc.ErrStateLoad)
	for name, content := range map[string]string{
		"truncated":    `{"Total_steps": 10, "Exch`,
		"negative":     `{"Total_steps": -1, "Exchanged_steps": 0}`,
		"inconsistent": `{"Total_steps": 3, "Exchanged_steps": 4}`,
		"unknown":      `{"steps": 3}`,
		"empty":        ``,
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err := LoadState(path)
		assert.ErrorIs(t, err, metromc.ErrStateLoad, name)
	}
}

func TestAdvance(t *testing.T) {
	o := testOptions(t)
	C, err := New(structure(t, "A", "A", "B", "B"), o)
	require.NoError(t, err)
	assert.Equal(t, Initialized, C.Phase())
	require.NotNil(t, C.Next())
	first := C.Current()

	cand := C.Next()
	d, err := C.Advance(0, -1)
	require.NoError(t, err)
	assert.True(t, d.Accepted)
	assert.Equal(t, 1.0, d.Probability)
	assert.Same(t, cand.Structure, C.Current())
	assert.Equal(t, State{TotalSteps: 1, ExchangedSteps: 1}, C.State())
	assert.Equal(t, Accepted, C.Phase())
	e, ok := C.Energy()
	assert.True(t, ok)
	assert.Equal(t, -1.0, e)
	assert.Equal(t, 0, cand.SourceStep)

	cur := C.Current()
	cand = C.Next()
	d, err = C.Advance(-1, 100)
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Same(t, cur, C.Current())
	assert.NotSame(t, cand, C.Next())
	assert.Equal(t, State{TotalSteps: 2, ExchangedSteps: 1}, C.State())
	assert.Equal(t, Rejected, C.Phase())

	//bad energies change nothing.
	_, err = C.Advance(math.NaN(), 0)
	assert.ErrorIs(t, err, metromc.ErrInvalidParameter)
	assert.Equal(t, State{TotalSteps: 2, ExchangedSteps: 1}, C.State())

	saved, err := LoadState(C.StatePath())
	require.NoError(t, err)
	assert.Equal(t, C.State(), saved)
	//the initial structure was never touched.
	assert.Equal(t, "A", first.Species(0))
	assert.Equal(t, "A", first.Species(1))
}

func TestRunThousandSteps(t *testing.T) {
	o := testOptions(t)
	logpath := filepath.Join(o.WorkDir, "accept.jsonl")
	l, err := acclog.OpenFile(logpath)
	require.NoError(t, err)
	o.AccLog = l
	reg := prometheus.NewRegistry()
	o.Metrics = NewMetrics(reg)
	C, err := New(structure(t, "A", "A", "B", "B"), o)
	require.NoError(t, err)

	sum, err := C.Run(context.Background(), oracle.Func(toyEnergy), 1000)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	assert.Equal(t, 1000, sum.State.TotalSteps)
	assert.LessOrEqual(t, sum.State.ExchangedSteps, sum.State.TotalSteps)
	assert.Equal(t, 1000, sum.Steps)
	assert.Equal(t, sum.State.ExchangedSteps, sum.Accepted)
	assert.Equal(t, 1000, sum.Accepted+sum.Rejected)
	assert.Equal(t, Finished, sum.Phase)
	//A on sites 0 and 1 is the best one can do.
	assert.InDelta(t, 0.02, sum.LowestEnergy, 1e-12)

	saved, err := LoadState(C.StatePath())
	require.NoError(t, err)
	assert.Equal(t, sum.State, saved)

	entries, err := acclog.ReadFile(logpath)
	require.NoError(t, err)
	require.Len(t, entries, 1000)
	acc := 0
	for i, e := range entries {
		assert.Equal(t, i+1, e.Step)
		assert.True(t, e.Probability >= 0 && e.Probability <= 1)
		if e.Accepted {
			acc++
		}
	}
	assert.Equal(t, saved.ExchangedSteps, acc)
	assert.Equal(t, float64(sum.Accepted), testutil.ToFloat64(o.Metrics.steps.WithLabelValues("test", "accepted")))

	lowest, err := metromc.DirStore{Root: o.WorkDir}.Load(LowestName)
	require.NoError(t, err)
	e, _ := toyEnergy(context.Background(), lowest)
	assert.InDelta(t, sum.LowestEnergy, e, 1e-12)

	//the budget is reached, nothing else to do.
	sum, err = C.Run(context.Background(), oracle.Func(toyEnergy), 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Steps)
}

func TestResume(t *testing.T) {
	o := testOptions(t)
	o.SaveSteps = true
	C, err := New(structure(t, "A", "B", "A", "B", "A", "B"), o)
	require.NoError(t, err)
	_, err = C.Run(context.Background(), oracle.Func(toyEnergy), 10)
	require.NoError(t, err)
	st := C.State()
	cur := C.Current()
	assert.DirExists(t, filepath.Join(o.WorkDir, "0"))

	o.Resume = true
	D, err := New(structure(t, "A", "B", "A", "B", "A", "B"), o)
	require.NoError(t, err)
	assert.Equal(t, st, D.State())
	assert.Equal(t, cur.Fingerprint(), D.Current().Fingerprint())
	sum, err := D.Run(context.Background(), oracle.Func(toyEnergy), 25)
	require.NoError(t, err)
	assert.Equal(t, 25, sum.State.TotalSteps)
	assert.Equal(t, 15, sum.Steps)
}

func TestFailedCountersKeepCurrent(t *testing.T) {
	o := testOptions(t)
	C, err := New(structure(t, "A", "A", "B", "B"), o)
	require.NoError(t, err)
	store := metromc.DirStore{Root: o.WorkDir}
	before, err := store.Load(CurrentName)
	require.NoError(t, err)
	//the counters file can't replace a folder that is not empty.
	require.NoError(t, os.MkdirAll(filepath.Join(C.StatePath(), "x"), 0o755))

	_, err = C.Advance(0, -1)
	assert.ErrorIs(t, err, metromc.ErrPersistence)
	assert.Equal(t, State{}, C.State())
	assert.Equal(t, Initialized, C.Phase())
	onDisk, err := store.Load(CurrentName)
	require.NoError(t, err)
	assert.Equal(t, before.Fingerprint(), onDisk.Fingerprint())
	assert.Equal(t, C.Current().Fingerprint(), onDisk.Fingerprint())
}

func TestResumeAfterCrash(t *testing.T) {
	o := testOptions(t)
	C, err := New(structure(t, "A", "A", "B", "B"), o)
	require.NoError(t, err)
	first := C.Current()
	d, err := C.Advance(0, -1)
	require.NoError(t, err)
	require.True(t, d.Accepted)
	accepted := C.Current()
	require.NotEqual(t, first.Fingerprint(), accepted.Fingerprint())

	//the counters were saved, but the process died before replacing the current structure.
	store := metromc.DirStore{Root: o.WorkDir}
	require.NoError(t, store.Save(CurrentName, first))
	o.Resume = true
	D, err := New(structure(t, "A", "A", "B", "B"), o)
	require.NoError(t, err)
	assert.Equal(t, State{TotalSteps: 1, ExchangedSteps: 1}, D.State())
	assert.Equal(t, accepted.Fingerprint(), D.Current().Fingerprint())
	onDisk, err := store.Load(CurrentName)
	require.NoError(t, err)
	assert.Equal(t, accepted.Fingerprint(), onDisk.Fingerprint())

	//no saved structure belongs to the counters.
	require.NoError(t, store.Save(CurrentName, first))
	require.NoError(t, store.Save(PendingName, first))
	o.OnCorruptState = StateAbort
	_, err = New(structure(t, "A", "A", "B", "B"), o)
	assert.ErrorIs(t, err, metromc.ErrStateLoad)
	o.OnCorruptState = StateFresh
	F, err := New(structure(t, "A", "A", "B", "B"), o)
	require.NoError(t, err)
	assert.Equal(t, State{}, F.State())
	assert.Equal(t, first.Fingerprint(), F.Current().Fingerprint())
}

func TestCorruptState(t *testing.T) {
	o := testOptions(t)
	require.NoError(t, os.WriteFile(filepath.Join(o.WorkDir, StateName), []byte(`{"Total_ste`), 0o644))
	o.Resume = true
	o.OnCorruptState = StateAbort
	_, err := New(structure(t, "A", "A", "B", "B"), o)
	assert.ErrorIs(t, err, metromc.ErrStateLoad)

	o.OnCorruptState = StateFresh
	C, err := New(structure(t, "A", "A", "B", "B"), o)
	require.NoError(t, err)
	assert.Equal(t, State{}, C.State())
}

func TestNewErrors(t *testing.T) {
	S := structure(t, "A", "A", "B", "B")
	o := testOptions(t)
	o.Sublattices = [][]string{{"A"}}
	_, err := New(S, o)
	assert.ErrorIs(t, err, metromc.ErrConfiguration)

	o = testOptions(t)
	o.Temperature = 0
	_, err = New(S, o)
	assert.ErrorIs(t, err, metromc.ErrInvalidParameter)

	o = testOptions(t)
	o.Required = "C"
	_, err = New(S, o)
	assert.ErrorIs(t, err, metromc.ErrConfiguration)

	//atoms 2 A apart, and a 1 A cutoff: no candidate can ever be made.
	o = testOptions(t)
	o.Cutoff = 1
	o.PoolRetries = 5
	o.ChainRetries = 2
	_, err = New(S, o)
	assert.ErrorIs(t, err, metromc.ErrChainStalled)
	assert.ErrorIs(t, err, metromc.ErrProposalExhausted)
	_, err = os.Stat(filepath.Join(o.WorkDir, StateName))
	assert.True(t, os.IsNotExist(err))
}

// flaky fails with a compute error on every third call.
type flaky struct {
	calls int
}

func (f *flaky) Evaluate(ctx context.Context, S *metromc.Structure) (float64, error) {
	f.calls++
	if f.calls%3 == 0 {
		return 0, metromc.Errorf(metromc.ErrOracleCompute, "flaky", "SCF did not converge")
	}
	return toyEnergy(ctx, S)
}

func TestComputeErrors(t *testing.T) {
	o := testOptions(t)
	o.OnComputeError = ComputeSkip
	C, err := New(structure(t, "A", "A", "B", "B"), o)
	require.NoError(t, err)
	sum, err := C.Run(context.Background(), &flaky{}, 30)
	require.NoError(t, err)
	assert.Equal(t, 30, sum.State.TotalSteps)
	assert.Equal(t, 10, sum.Skipped)
	assert.Equal(t, 30, sum.Accepted+sum.Rejected+sum.Skipped)

	o = testOptions(t)
	C, err = New(structure(t, "A", "A", "B", "B"), o)
	require.NoError(t, err)
	sum, err = C.Run(context.Background(), &flaky{}, 30)
	assert.ErrorIs(t, err, metromc.ErrOracleCompute)
	assert.Equal(t, 1, sum.State.TotalSteps)
	saved, err := LoadState(C.StatePath())
	require.NoError(t, err)
	assert.Equal(t, C.State(), saved)
}

func TestTransientErrors(t *testing.T) {
	o := testOptions(t)
	C, err := New(structure(t, "A", "A", "B", "B"), o)
	require.NoError(t, err)
	calls := 0
	//every evaluation fails once before working.
	O := oracle.Func(func(ctx context.Context, S *metromc.Structure) (float64, error) {
		calls++
		if calls%2 == 1 {
			return 0, metromc.Errorf(metromc.ErrOracleUnavailable, "test", "license server down")
		}
		return toyEnergy(ctx, S)
	})
	sum, err := C.Run(context.Background(), O, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.State.TotalSteps)

	//an oracle that is always down ends the run, keeping the counters.
	down := oracle.Func(func(ctx context.Context, S *metromc.Structure) (float64, error) {
		return 0, metromc.Errorf(metromc.ErrOracleUnavailable, "test", "queue full")
	})
	sum, err = C.Run(context.Background(), down, 10)
	assert.ErrorIs(t, err, metromc.ErrOracleUnavailable)
	assert.Equal(t, 5, sum.State.TotalSteps)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = C.Run(ctx, oracle.Func(toyEnergy), 10)
	assert.ErrorIs(t, err, context.Canceled)
}
