/*
 * chain.go, part of metromc.
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

// Package chain runs a Metropolis Monte Carlo chain over the configurations of a
// crystal. The chain keeps the current (accepted) structure and the next candidate,
// decides on each step, and persists its counters after every step so it can be resumed.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rmera/metromc"
	"github.com/rmera/metromc/acclog"
	"github.com/rmera/metromc/metropolis"
	"github.com/rmera/metromc/retry"
	"github.com/rmera/metromc/sublattice"
	"github.com/rmera/metromc/swap"
)

// Names used in the work folder of a chain.
const (
	CurrentName   = "current"   //folder with the current structure
	PendingName   = "pending"   //accepted structure whose counters may not be saved yet
	LowestName    = "lowest"    //folder with the lowest-energy structure seen
	ExchangedMark = "exchanged" //file put in the step folder of each accepted candidate
)

// What to do when the saved counters can't be read.
const (
	StateFresh = "fresh"
	StateAbort = "abort"
)

// What to do when the energy of a candidate can't be computed.
const (
	ComputeAbort = "abort"
	ComputeSkip  = "skip"
)

// Phase is the stage a chain is in.
type Phase int

const (
	Initialized Phase = iota
	Evaluating
	Accepted
	Rejected
	Finished
)

func (p Phase) String() string {
	switch p {
	case Initialized:
		return "initialized"
	case Evaluating:
		return "evaluating"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Options for a chain.
type Options struct {
	//Name of the chain, for logs and metrics.
	Name string
	//Species of each sublattice.
	Sublattices [][]string
	//Temperature, in K.
	Temperature float64
	//Boltzmann constant, in energy units per K. 0 means the value in eV/K.
	Boltzmann float64
	//If not empty, this species takes part in every swap.
	Required string
	//Maximum distance, in A, between swapped atoms. 0 for no limit.
	Cutoff float64
	//Swaps per candidate.
	Exchanges int
	//Retries of the swap proposal (see swap.Options).
	PoolRetries      int
	CollisionRetries int
	//Times the chain tries again to produce a candidate before stalling.
	ChainRetries int
	//Continue from the counters and the current structure in WorkDir.
	Resume bool
	//StateFresh or StateAbort.
	OnCorruptState string
	//ComputeAbort or ComputeSkip.
	OnComputeError string
	//Folder for the counters, the current structure and the step folders.
	WorkDir string
	//Write every candidate to its own step folder.
	SaveSteps bool
	//gzip the structure files.
	Compress bool
	//Seed for the random numbers. 0 for a random seed.
	Seed uint64
	//Retries of energy evaluations that fail transiently.
	OracleRetry retry.Policy
	//Where each step is recorded. Can be nil.
	AccLog acclog.Log
	//Can be nil.
	Metrics *Metrics
	//nil means slog.Default()
	Logger *slog.Logger
}

// DefaultOptions returns options for a chain at 300 K with one swap per candidate,
// that starts fresh if its counters are unreadable and aborts if an energy can't be computed.
// Sublattices and WorkDir must still be set.
func DefaultOptions() *Options {
	return &Options{
		Name:             "chain",
		Temperature:      300,
		Boltzmann:        metropolis.Boltzmann,
		Exchanges:        1,
		PoolRetries:      1000,
		CollisionRetries: 10,
		ChainRetries:     5,
		OnCorruptState:   StateFresh,
		OnComputeError:   ComputeAbort,
		SaveSteps:        true,
		OracleRetry:      retry.DefaultPolicy(),
	}
}

// Chain is a Metropolis Monte Carlo chain. It is not safe for concurrent use. Independent
// chains share nothing and can run in parallel.
type Chain struct {
	o        Options
	state    State
	current  *metromc.Structure
	set      *sublattice.Set
	next     *swap.Candidate
	proposer *swap.Proposer
	rule     *metropolis.Rule
	store    metromc.DirStore
	phase    Phase
	log      *slog.Logger

	//energy of current, if known.
	energy      float64
	energyKnown bool
	seen        bool
	lowest      float64
	lowestStep  int
	previous    *metromc.Structure
	lastCommit  time.Time
}

// New returns a chain that starts from initial, or, if o.Resume is set, from the
// counters and current structure saved in o.WorkDir. Bad sublattices give an error
// of kind ErrConfiguration and bad parameters one of kind ErrInvalidParameter,
// before anything is written. Unreadable counters are an error of kind ErrStateLoad
// if o.OnCorruptState is StateAbort, otherwise the chain starts fresh. The first
// candidate is generated before New returns.
func New(initial *metromc.Structure, o *Options) (*Chain, error) {
	if o == nil {
		o = DefaultOptions()
	}
	opts := *o
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Exchanges < 1 {
		opts.Exchanges = 1
	}
	if opts.WorkDir == "" {
		return nil, metromc.Errorf(metromc.ErrConfiguration, "chain.New", "no work folder")
	}
	if opts.OnCorruptState != StateFresh && opts.OnCorruptState != StateAbort {
		return nil, metromc.Errorf(metromc.ErrConfiguration, "chain.New", "unknown corrupt state policy %q", opts.OnCorruptState)
	}
	if opts.OnComputeError != ComputeAbort && opts.OnComputeError != ComputeSkip {
		return nil, metromc.Errorf(metromc.ErrConfiguration, "chain.New", "unknown compute error policy %q", opts.OnComputeError)
	}
	if opts.Cutoff < 0 || math.IsNaN(opts.Cutoff) {
		return nil, metromc.Errorf(metromc.ErrInvalidParameter, "chain.New", "negative cutoff %g", opts.Cutoff)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rule, err := metropolis.NewRule(opts.Temperature, opts.Boltzmann, rng)
	if err != nil {
		return nil, metromc.Decorate(err, "chain.New")
	}
	C := &Chain{
		o:     opts,
		rule:  rule,
		store: metromc.DirStore{Root: opts.WorkDir, Compress: opts.Compress},
		log:   opts.Logger.With("chain", opts.Name),
	}
	C.proposer = swap.NewProposer(&swap.Options{
		Required:         opts.Required,
		Cutoff:           opts.Cutoff,
		PoolRetries:      opts.PoolRetries,
		CollisionRetries: opts.CollisionRetries,
	}, rng)
	C.current = initial
	if opts.Resume {
		if err := C.resume(); err != nil {
			return nil, err
		}
	}
	if C.current == nil {
		return nil, metromc.Errorf(metromc.ErrConfiguration, "chain.New", "no initial structure")
	}
	C.set, err = sublattice.Build(C.current, opts.Sublattices)
	if err != nil {
		return nil, metromc.Decorate(err, "chain.New")
	}
	C.next, err = C.generate(C.current, C.set, C.state.TotalSteps)
	if err != nil {
		return nil, metromc.Decorate(err, "chain.New")
	}
	if err := C.store.Save(CurrentName, C.current); err != nil {
		return nil, metromc.Wrap(metromc.ErrPersistence, "chain.New", err, "saving current structure")
	}
	C.lastCommit = time.Now()
	C.phase = Initialized
	C.log.Info("chain ready", "formula", metromc.Formula(C.current), "total_steps", C.state.TotalSteps,
		"exchanged_steps", C.state.ExchangedSteps, "temperature", opts.Temperature, "seed", seed)
	return C, nil
}

// resume loads the counters and, if there is one, the current structure. Counters
// saved by a chain name the structure they belong to, which must be either the
// current or the pending one. Otherwise the counters are treated as corrupt.
func (C *Chain) resume() error {
	r, err := loadRecord(C.StatePath())
	if err == nil {
		var cur *metromc.Structure
		cur, err = C.resumeStructure(r.Current)
		if err == nil {
			C.state = r.State
			if cur != nil {
				C.current = cur
			}
			return nil
		}
	}
	if C.o.OnCorruptState == StateAbort {
		return metromc.Decorate(err, "chain.New")
	}
	C.log.Warn("can't resume, starting fresh", "error", err)
	return nil
}

// resumeStructure returns the saved structure with fingerprint fp. If fp is empty, it
// returns whatever is in CurrentName, or nil if nothing is there.
func (C *Chain) resumeStructure(fp string) (*metromc.Structure, error) {
	if fp == "" {
		cur, err := C.store.Load(CurrentName)
		if err != nil {
			C.log.Warn("no saved current structure, resuming from the initial one", "error", err)
			return nil, nil
		}
		return cur, nil
	}
	for _, name := range []string{CurrentName, PendingName} {
		S, err := C.store.Load(name)
		if err != nil {
			continue
		}
		if fingerprint(S) == fp {
			return S, nil
		}
	}
	return nil, metromc.Errorf(metromc.ErrStateLoad, "chain.resume", "no saved structure matches the counters (fingerprint %s)", fp)
}

// generate produces the candidate that follows cur, trying again when the proposal
// is exhausted, up to ChainRetries times. Failing that, it returns an error of kind
// ErrChainStalled. Other errors are returned at once.
func (C *Chain) generate(cur *metromc.Structure, set *sublattice.Set, step int) (*swap.Candidate, error) {
	p := retry.Policy{MaxAttempts: C.o.ChainRetries + 1, Multiplier: 1}
	isExhausted := func(err error) bool { return errors.Is(err, metromc.ErrProposalExhausted) }
	res := retry.Do(context.Background(), p, isExhausted, func(ctx context.Context, attempt int) (*swap.Candidate, error) {
		return C.proposer.NewCandidate(cur, set, C.o.Exchanges, step)
	}, func(err error, _ time.Duration) {
		C.log.Debug("candidate generation failed, trying again", "error", err)
	})
	switch res.Outcome {
	case retry.Succeeded:
	case retry.Exhausted:
		return nil, metromc.Wrap(metromc.ErrChainStalled, "chain.generate", res.Err, "no candidate after %d attempts", res.Attempts)
	default:
		return nil, res.Err
	}
	cand := res.Value
	if C.o.SaveSteps {
		if err := C.store.Save(strconv.Itoa(step), cand.Structure); err != nil {
			C.log.Warn("can't save step folder", "step", step, "error", err)
		}
	}
	return cand, nil
}

// StatePath returns the file where the counters are kept.
func (C *Chain) StatePath() string {
	return filepath.Join(C.o.WorkDir, StateName)
}

// State returns the step counters.
func (C *Chain) State() State { return C.state }

// Current returns the current (last accepted) structure.
func (C *Chain) Current() *metromc.Structure { return C.current }

// Next returns the candidate waiting for a decision.
func (C *Chain) Next() *swap.Candidate { return C.next }

// Phase returns the stage the chain is in.
func (C *Chain) Phase() Phase { return C.phase }

// Energy returns the energy of the current structure and true, or 0 and false if it is not known yet.
func (C *Chain) Energy() (float64, bool) { return C.energy, C.energyKnown }

// Name returns the name of the chain.
func (C *Chain) Name() string { return C.o.Name }

// Advance decides on the move from the current structure, with energy before, to the
// next candidate, with energy after, and moves the chain one step. The step counter
// always grows by one, and, if the move is accepted, so does the exchanged counter, and the
// candidate becomes the current structure. Either way, a new candidate is made
// from the current structure. The counters are then saved. If anything fails, the
// chain is left as it was, and so are the saved counters.
func (C *Chain) Advance(before, after float64) (metropolis.Decision, error) {
	d, err := C.rule.Decide(before, after)
	if err != nil {
		return d, metromc.Decorate(err, "chain.Advance")
	}
	return d, C.commit(d, before, after, false)
}

// Skip moves the chain one step, rejecting the candidate with probability 0. It is used
// when the energy of the candidate can't be computed.
func (C *Chain) Skip(before float64, cause error) error {
	C.log.Warn("skipping candidate without energy", "candidate", C.next.ID, "error", cause)
	return C.commit(metropolis.Decision{Accepted: false, Probability: 0, Delta: math.NaN()}, before, math.NaN(), true)
}

func (C *Chain) commit(d metropolis.Decision, before, after float64, skipped bool) error {
	state := State{TotalSteps: C.state.TotalSteps + 1, ExchangedSteps: C.state.ExchangedSteps}
	cur, set := C.current, C.set
	if d.Accepted {
		state.ExchangedSteps++
		cur = C.next.Structure
		var err error
		set, err = sublattice.Build(cur, C.o.Sublattices)
		if err != nil {
			return metromc.Decorate(err, "chain.Advance")
		}
	}
	next, err := C.generate(cur, set, state.TotalSteps)
	if err != nil {
		return metromc.Decorate(err, "chain.Advance")
	}
	//The counters are the commit point. An accepted structure goes first to
	//PendingName, and only replaces CurrentName once the counters naming it are saved.
	if d.Accepted {
		if err := C.store.Save(PendingName, cur); err != nil {
			return metromc.Wrap(metromc.ErrPersistence, "chain.Advance", err, "saving accepted structure")
		}
	}
	if err := saveRecord(C.StatePath(), record{State: state, Current: fingerprint(cur)}); err != nil {
		return metromc.Decorate(err, "chain.Advance")
	}
	//from here on, nothing fails.
	if d.Accepted {
		if err := C.store.Save(CurrentName, cur); err != nil {
			C.log.Warn("can't save current structure, it stays in the pending folder", "error", err)
		}
		if C.o.SaveSteps {
			if err := C.store.Mark(strconv.Itoa(C.next.SourceStep), ExchangedMark); err != nil {
				C.log.Warn("can't mark exchanged step", "step", C.next.SourceStep, "error", err)
			}
		}
	}
	prev := C.next
	C.previous = C.current
	C.state, C.current, C.set, C.next = state, cur, set, next
	outcome := "rejected"
	C.phase = Rejected
	C.observe(before, state.TotalSteps, prev.Structure, false)
	if !skipped {
		C.observe(after, state.TotalSteps, prev.Structure, true)
	}
	C.energy, C.energyKnown = before, true
	if d.Accepted {
		outcome = "accepted"
		C.phase = Accepted
		C.energy = after
	}
	if skipped {
		outcome = "skipped"
	}
	elapsed := time.Since(C.lastCommit)
	C.lastCommit = time.Now()
	C.record(prev, d, before, after, skipped, elapsed)
	C.o.Metrics.step(C.o.Name, outcome, d.Probability)
	if C.energyKnown {
		C.o.Metrics.energies(C.o.Name, C.energy, C.lowest)
	}
	C.log.Info("step", "step", state.TotalSteps, "outcome", outcome, "probability", d.Probability,
		"energy_before", before, "energy_after", after, "exchanged_steps", state.ExchangedSteps)
	return nil
}

// observe keeps track of the lowest energy seen. e is the energy of the structure
// before the step, or of cand, if isCand is true. The lowest-energy structure is saved
// in the folder LowestName.
func (C *Chain) observe(e float64, step int, cand *metromc.Structure, isCand bool) {
	if math.IsNaN(e) || (C.seen && e >= C.lowest) {
		return
	}
	C.lowest, C.lowestStep, C.seen = e, step, true
	S := C.previous
	if isCand {
		S = cand
	}
	if S == nil {
		return
	}
	if err := C.store.Save(LowestName, S); err != nil {
		C.log.Warn("can't save lowest energy structure", "error", err)
	}
}

// record writes the step to the acceptance log. Failures are only logged.
func (C *Chain) record(cand *swap.Candidate, d metropolis.Decision, before, after float64, skipped bool, elapsed time.Duration) {
	if C.o.AccLog == nil {
		return
	}
	swaps := make([]string, len(cand.Swaps))
	for i, v := range cand.Swaps {
		swaps[i] = v.String()
	}
	e := acclog.Entry{
		Chain:        C.o.Name,
		Step:         C.state.TotalSteps,
		Probability:  d.Probability,
		Accepted:     d.Accepted,
		Draw:         d.Draw,
		EnergyBefore: before,
		EnergyAfter:  after,
		Candidate:    cand.ID.String(),
		Swaps:        strings.Join(swaps, " "),
		Skipped:      skipped,
		Seconds:      elapsed.Seconds(),
		Time:         time.Now().UTC(),
	}
	if skipped || math.IsNaN(after) {
		//JSON has no NaN
		e.EnergyAfter = 0
	}
	if err := C.o.AccLog.Append(context.Background(), e); err != nil {
		C.log.Warn("can't write acceptance log", "step", e.Step, "error", err)
	}
}
