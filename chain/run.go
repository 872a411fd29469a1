/*
 * run.go, part of metromc.
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
	"errors"
	"time"

	"github.com/rmera/metromc"
	"github.com/rmera/metromc/oracle"
	"github.com/rmera/metromc/retry"
)

// Summary describes a call to Run.
type Summary struct {
	Name  string
	State State
	//Steps made in this run.
	Steps    int
	Accepted int
	Rejected int
	Skipped  int
	//Lowest energy seen by the chain, and the step where it was seen.
	LowestEnergy float64
	LowestStep   int
	Elapsed      time.Duration
	Phase        Phase
}

// Run moves the chain until it has made budget steps in total, counting those of
// previous runs, if the chain was resumed. Energies come from O. Transient failures
// of O are retried following the OracleRetry policy, and end the run if the policy runs out.
// A candidate without energy ends the run, or, if the policy is ComputeSkip, is rejected
// with probability 0. Failures to compute the energy of the current structure always
// end the run. The counters persisted after the last completed step remain valid after
// any error, so the run can be resumed.
func (C *Chain) Run(ctx context.Context, O oracle.Oracle, budget int) (Summary, error) {
	start := time.Now()
	sum := Summary{Name: C.o.Name}
	done := func(err error) (Summary, error) {
		sum.State = C.state
		sum.LowestEnergy, sum.LowestStep = C.lowest, C.lowestStep
		sum.Elapsed = time.Since(start)
		sum.Phase = C.phase
		return sum, err
	}
	if budget < 0 {
		return done(metromc.Errorf(metromc.ErrInvalidParameter, "chain.Run", "negative step budget %d", budget))
	}
	for C.state.TotalSteps < budget {
		if err := ctx.Err(); err != nil {
			return done(metromc.Wrap(metromc.ErrOracleUnavailable, "chain.Run", err, "run interrupted at step %d", C.state.TotalSteps))
		}
		C.phase = Evaluating
		before, known := C.Energy()
		if !known {
			e, err := C.evaluate(ctx, O, C.current)
			if err != nil {
				return done(metromc.Decorate(err, "chain.Run: energy of the current structure"))
			}
			before = e
			C.energy, C.energyKnown = e, true
		}
		after, err := C.evaluate(ctx, O, C.next.Structure)
		if err != nil {
			if !errors.Is(err, metromc.ErrOracleCompute) || C.o.OnComputeError != ComputeSkip {
				return done(metromc.Decorate(err, "chain.Run: energy of the candidate"))
			}
			if err := C.Skip(before, err); err != nil {
				return done(err)
			}
			sum.Steps++
			sum.Skipped++
			continue
		}
		d, err := C.Advance(before, after)
		if err != nil {
			return done(err)
		}
		sum.Steps++
		if d.Accepted {
			sum.Accepted++
		} else {
			sum.Rejected++
		}
	}
	C.phase = Finished
	C.log.Info("chain finished", "total_steps", C.state.TotalSteps, "exchanged_steps", C.state.ExchangedSteps,
		"lowest_energy", C.lowest, "lowest_step", C.lowestStep)
	return done(nil)
}

// evaluate asks O for the energy of S, retrying transient failures.
func (C *Chain) evaluate(ctx context.Context, O oracle.Oracle, S *metromc.Structure) (float64, error) {
	res := retry.Do(ctx, C.o.OracleRetry, metromc.Retryable, func(ctx context.Context, attempt int) (float64, error) {
		return O.Evaluate(ctx, S)
	}, func(err error, wait time.Duration) {
		C.log.Warn("energy evaluation failed, retrying", "error", err, "wait", wait)
	})
	C.o.Metrics.evaluation(C.o.Name, res.Outcome.String(), res.Elapsed, res.Attempts-1)
	switch res.Outcome {
	case retry.Succeeded:
		return res.Value, nil
	case retry.Exhausted:
		return 0, metromc.Wrap(metromc.ErrOracleUnavailable, "chain.evaluate", res.Err, "gave up after %d attempts", res.Attempts)
	case retry.Cancelled:
		if errors.Is(res.Err, metromc.ErrOracleUnavailable) {
			return 0, res.Err
		}
		return 0, metromc.Wrap(metromc.ErrOracleUnavailable, "chain.evaluate", res.Err, "evaluation cancelled")
	default:
		var known *metromc.Error
		if errors.As(res.Err, &known) {
			return 0, res.Err
		}
		//oracles that don't classify their errors
		return 0, metromc.Wrap(metromc.ErrOracleCompute, "chain.evaluate", res.Err, "no energy")
	}
}
