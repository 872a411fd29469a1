/*
 * errors.go, part of metromc.
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
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this library matches one of these
// with errors.Is.
var (
	//Bad sublattice or species setup. Never retried.
	ErrConfiguration = errors.New("configuration error")
	//An atom index not covered by any sublattice.
	ErrLookup = errors.New("lookup error")
	//No valid swap could be found within the retry budget.
	ErrProposalExhausted = errors.New("proposal exhausted")
	//A numeric parameter out of its domain, such as T <= 0.
	ErrInvalidParameter = errors.New("invalid parameter")
	//Transient failure of an energy program. Retried with backoff.
	ErrOracleUnavailable = errors.New("energy oracle unavailable")
	//The energy program ran but gave no usable energy for the structure.
	ErrOracleCompute = errors.New("energy computation failed")
	//Missing or corrupt persisted step state.
	ErrStateLoad = errors.New("step state load error")
	//Malformed structure file.
	ErrStructureParse = errors.New("structure parse error")
	//The chain could not produce a new candidate.
	ErrChainStalled = errors.New("chain stalled")
	//Counters or structures of a chain could not be written.
	ErrPersistence = errors.New("persistence error")
)

// Error is the error type for all packages in metromc.
// It keeps the kind of error, a message, the underlying cause, if any,
// and a trail of the functions it passed through.
type Error struct {
	kind    error
	message string
	cause   error
	deco    []string
}

// Errorf returns a new *Error of the given kind, created in the function caller.
func Errorf(kind error, caller string, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...), deco: []string{caller}}
}

// Wrap is like Errorf but keeps cause as the underlying error.
func Wrap(kind error, caller string, cause error, format string, args ...any) *Error {
	err := Errorf(kind, caller, format, args...)
	err.cause = cause
	return err
}

// Error returns a string with an error message.
func (err *Error) Error() string {
	msg := err.kind.Error()
	if err.message != "" {
		msg += ": " + err.message
	}
	if err.cause != nil {
		msg += ": " + err.cause.Error()
	}
	return msg
}

// Unwrap allows errors.Is and errors.As to see both the kind
// and the cause of the error.
func (err *Error) Unwrap() []error {
	if err.cause == nil {
		return []error{err.kind}
	}
	return []error{err.kind, err.cause}
}

// Kind returns the error kind, one of the Err* variables.
func (err *Error) Kind() error { return err.kind }

// Decorate will add the dec string to the decoration slice of strings of the error,
// and return the resulting slice.
func (err *Error) Decorate(dec string) []string {
	if dec != "" {
		err.deco = append(err.deco, dec)
	}
	return err.deco
}

// Critical returns whether the error should end the run. Proposal exhaustion,
// unavailable oracles and unreadable state can be handled by the caller.
func (err *Error) Critical() bool {
	return !(Retryable(err.kind) || errors.Is(err.kind, ErrStateLoad))
}

// Retryable reports whether err is of a kind that makes sense to retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrProposalExhausted) || errors.Is(err, ErrOracleUnavailable)
}

// Decorate adds caller to the trail of err, if err is a Decorator,
// and returns err.
func Decorate(err error, caller string) error {
	var d Decorator
	if errors.As(err, &d) {
		d.Decorate(caller)
	}
	return err
}
