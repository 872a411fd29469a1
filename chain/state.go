/*
 * state.go, part of metromc.
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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rmera/metromc"
)

// StateName is the name of the file, in the work folder of a chain, with its counters.
const StateName = "steps.log"

// State holds the step counters of a chain. The JSON keys are those of the
// steps.log files of older runs, so they can be resumed.
type State struct {
	TotalSteps     int `json:"Total_steps"`
	ExchangedSteps int `json:"Exchanged_steps"`
}

// Valid returns an error if the counters are negative, or if more steps were
// accepted than made.
func (s State) Valid() error {
	if s.TotalSteps < 0 || s.ExchangedSteps < 0 {
		return metromc.Errorf(metromc.ErrStateLoad, "chain.State.Valid", "negative counters %+v", s)
	}
	if s.ExchangedSteps > s.TotalSteps {
		return metromc.Errorf(metromc.ErrStateLoad, "chain.State.Valid", "%d exchanged steps out of %d", s.ExchangedSteps, s.TotalSteps)
	}
	return nil
}

// AcceptanceRatio returns the fraction of accepted steps, or 0 if no step was made.
func (s State) AcceptanceRatio() float64 {
	if s.TotalSteps == 0 {
		return 0
	}
	return float64(s.ExchangedSteps) / float64(s.TotalSteps)
}

// record is what StateName holds: the counters and, when written by a chain, the
// fingerprint of the current structure they belong to.
type record struct {
	State
	Current string `json:"Current,omitempty"`
}

// fingerprint returns the fingerprint of S as stored in the state file.
func fingerprint(S *metromc.Structure) string {
	return fmt.Sprintf("%016x", S.Fingerprint())
}

// LoadState reads the counters from the file path. Missing, unreadable, corrupt or
// inconsistent files give an error of kind ErrStateLoad.
func LoadState(path string) (State, error) {
	r, err := loadRecord(path)
	if err != nil {
		return State{}, metromc.Decorate(err, "chain.LoadState")
	}
	return r.State, nil
}

func loadRecord(path string) (record, error) {
	var r record
	b, err := os.ReadFile(path)
	if err != nil {
		return r, metromc.Wrap(metromc.ErrStateLoad, "chain.loadRecord", err, "reading %s", path)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return record{}, metromc.Wrap(metromc.ErrStateLoad, "chain.loadRecord", err, "decoding %s", path)
	}
	if err := r.Valid(); err != nil {
		return record{}, metromc.Decorate(err, "chain.loadRecord: "+path)
	}
	return r, nil
}

// SaveState writes s to path. The file is replaced atomically, so a crash leaves
// either the old or the new counters, never a mix.
func SaveState(path string, s State) error {
	return metromc.Decorate(saveRecord(path, record{State: s}), "chain.SaveState")
}

func saveRecord(path string, r record) error {
	if err := r.Valid(); err != nil {
		return err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return metromc.Wrap(metromc.ErrPersistence, "chain.saveRecord", err, "encoding counters")
	}
	b = append(b, '\n')
	err = metromc.WriteFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	})
	if err != nil {
		return metromc.Wrap(metromc.ErrPersistence, "chain.saveRecord", err, "writing %s", path)
	}
	return nil
}
