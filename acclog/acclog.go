/*
 * acclog.go, part of metromc.
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

// Package acclog keeps an append-only record of every Monte Carlo step: its
// acceptance probability, the decision, the energies involved and the time it took.
// The record is for auditing and analysis; the chain does not read it back.
package acclog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is the record of one step.
type Entry struct {
	Chain        string    `json:"chain"`
	Step         int       `json:"step"`
	Probability  float64   `json:"probability"`
	Accepted     bool      `json:"accepted"`
	Draw         float64   `json:"draw"`
	EnergyBefore float64   `json:"energy_before"`
	EnergyAfter  float64   `json:"energy_after"`
	Candidate    string    `json:"candidate,omitempty"`
	Swaps        string    `json:"swaps,omitempty"`
	Skipped      bool      `json:"skipped,omitempty"` //the candidate had no usable energy
	Seconds      float64   `json:"seconds"`
	Time         time.Time `json:"time"`
}

// Log is an append-only acceptance log.
type Log interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}

// Open opens the log at path, creating it if needed. Files ending in .db, .sqlite or
// .sqlite3 are SQLite databases, anything else is a JSON-lines file. An empty path
// gives a log that discards everything.
func Open(ctx context.Context, path string) (Log, error) {
	if path == "" {
		return Discard{}, nil
	}
	if isSQLite(path) {
		return OpenSQLite(ctx, path)
	}
	return OpenFile(path)
}

// Read returns every entry of the log at path, which is read as Open would open it.
func Read(ctx context.Context, path string) ([]Entry, error) {
	if !isSQLite(path) {
		return ReadFile(path)
	}
	if _, err := os.Stat(path); err != nil {
		//opening would create it
		return nil, err
	}
	l, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	defer l.Close()
	return l.All(ctx)
}

func isSQLite(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

// Discard is a Log that keeps nothing.
type Discard struct{}

func (Discard) Append(context.Context, Entry) error { return nil }
func (Discard) Close() error                        { return nil }

// FileLog writes one JSON object per line.
type FileLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFile opens, for appending, the JSON-lines log at path.
func OpenFile(path string) (*FileLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("acclog.OpenFile: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("acclog.OpenFile: %w", err)
	}
	return &FileLog{f: f}, nil
}

// Append writes e as a single line.
func (l *FileLog) Append(_ context.Context, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("acclog.Append: %w", err)
	}
	b = append(b, '\n')
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("acclog.Append: log is closed")
	}
	_, err = l.f.Write(b)
	return err
}

// Close closes the file.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// ReadFile reads all the entries in the JSON-lines log at path. A truncated last
// line, left by a crash, is ignored.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ret := make([]Entry, 0, 128)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var pending error
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if pending != nil {
			return nil, pending
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			pending = fmt.Errorf("acclog.ReadFile: %s: %w", path, err)
			continue
		}
		ret = append(ret, e)
	}
	return ret, sc.Err()
}
