/*
 * retry.go, part of metromc.
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

// Package retry runs operations with a bounded number of attempts and exponential
// backoff between them, and reports how they ended.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy says how many times, and how often, an operation is attempted.
type Policy struct {
	//Attempts, including the first one. At least 1.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=1"`
	//Wait before the first retry.
	Initial time.Duration `yaml:"initial" validate:"gte=0"`
	//Upper bound for the wait between retries.
	Max time.Duration `yaml:"max" validate:"gte=0"`
	//Growth factor of the wait.
	Multiplier float64 `yaml:"multiplier" validate:"gte=1"`
	//Randomization of each wait, as a fraction of it, in [0,1).
	Jitter float64 `yaml:"jitter" validate:"gte=0,lt=1"`
}

// DefaultPolicy returns 5 attempts, waiting 1s, 2s, 4s and 8s (plus 10% jitter).
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Initial: time.Second, Max: time.Minute, Multiplier: 2, Jitter: 0.1}
}

// Once is a policy with a single attempt.
func Once() Policy {
	return Policy{MaxAttempts: 1, Multiplier: 1}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}

// Outcome tells how a retried operation ended.
type Outcome int

const (
	//The operation succeeded in one of the attempts.
	Succeeded Outcome = iota
	//All attempts failed with retryable errors.
	Exhausted
	//An attempt failed with an error that is not retryable.
	Failed
	//The context was cancelled or expired.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result is what Do returns: the value, if the operation succeeded, how it ended,
// the number of attempts and the last error.
type Result[T any] struct {
	Value    T
	Outcome  Outcome
	Attempts int
	Err      error
	Elapsed  time.Duration
}

// OK returns true if the operation succeeded.
func (r Result[T]) OK() bool { return r.Outcome == Succeeded }

// Do calls op until it succeeds, it returns an error for which retryable returns false,
// the policy runs out of attempts, or ctx is done. A nil retryable retries every error.
// The attempt number, starting from 1, is given to op. notify, if not nil, is called
// before each wait with the error and the wait.
func Do[T any](ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context, attempt int) (T, error), notify ...func(err error, wait time.Duration)) Result[T] {
	start := time.Now()
	var res Result[T]
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	b := p.backOff()
	for attempt := 1; attempt <= max; attempt++ {
		res.Attempts = attempt
		if err := ctx.Err(); err != nil {
			res.Outcome, res.Err = Cancelled, err
			break
		}
		v, err := op(ctx, attempt)
		if err == nil {
			res.Value, res.Outcome, res.Err = v, Succeeded, nil
			break
		}
		res.Err = err
		if ctx.Err() != nil {
			res.Outcome = Cancelled
			break
		}
		if retryable != nil && !retryable(err) {
			res.Outcome = Failed
			break
		}
		res.Outcome = Exhausted
		if attempt == max {
			break
		}
		wait := b.NextBackOff()
		if wait < 0 {
			break
		}
		for _, n := range notify {
			n(err, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			res.Outcome = Cancelled
			res.Elapsed = time.Since(start)
			return res
		case <-t.C:
		}
	}
	res.Elapsed = time.Since(start)
	return res
}
