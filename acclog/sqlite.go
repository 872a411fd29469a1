/*
 * sqlite.go, part of metromc.
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

package acclog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLog keeps the entries in a SQLite database, one row per chain and step.
// A step logged twice (say, repeated after a crash) keeps the latest entry.
type SQLiteLog struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite opens, or creates, the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteLog, error) {
	if path == "" {
		return nil, errors.New("acclog.OpenSQLite: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("acclog.OpenSQLite: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("acclog.OpenSQLite: %w", err)
	}
	//the driver is not happy with concurrent writers on one file.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("acclog.OpenSQLite: %w", err)
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("acclog.OpenSQLite: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS acceptance (
			chain TEXT NOT NULL,
			step INTEGER NOT NULL,
			probability REAL NOT NULL,
			accepted INTEGER NOT NULL,
			draw REAL NOT NULL,
			energy_before REAL NOT NULL,
			energy_after REAL NOT NULL,
			candidate TEXT NOT NULL,
			swaps TEXT NOT NULL,
			skipped INTEGER NOT NULL,
			seconds REAL NOT NULL,
			time TEXT NOT NULL,
			PRIMARY KEY (chain, step)
		)
	`)
	return err
}

func (l *SQLiteLog) getDB() (*sql.DB, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil, errors.New("acclog: sqlite log is closed")
	}
	return l.db, nil
}

// Append stores e.
func (l *SQLiteLog) Append(ctx context.Context, e Entry) error {
	db, err := l.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO acceptance (chain, step, probability, accepted, draw, energy_before, energy_after, candidate, swaps, skipped, seconds, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain, step) DO UPDATE SET
			probability = excluded.probability,
			accepted = excluded.accepted,
			draw = excluded.draw,
			energy_before = excluded.energy_before,
			energy_after = excluded.energy_after,
			candidate = excluded.candidate,
			swaps = excluded.swaps,
			skipped = excluded.skipped,
			seconds = excluded.seconds,
			time = excluded.time
	`, e.Chain, e.Step, e.Probability, e.Accepted, e.Draw, e.EnergyBefore, e.EnergyAfter,
		e.Candidate, e.Swaps, e.Skipped, e.Seconds, e.Time.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("acclog.Append: step %d: %w", e.Step, err)
	}
	return nil
}

// Entries returns all the entries of chain, ordered by step.
func (l *SQLiteLog) Entries(ctx context.Context, chain string) ([]Entry, error) {
	return l.query(ctx, "WHERE chain = ? ORDER BY step", chain)
}

// All returns the entries of every chain, ordered by chain and step.
func (l *SQLiteLog) All(ctx context.Context) ([]Entry, error) {
	return l.query(ctx, "ORDER BY chain, step")
}

func (l *SQLiteLog) query(ctx context.Context, tail string, args ...any) ([]Entry, error) {
	db, err := l.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT chain, step, probability, accepted, draw, energy_before, energy_after, candidate, swaps, skipped, seconds, time
		FROM acceptance `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("acclog.Entries: %w", err)
	}
	defer rows.Close()
	var ret []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.Chain, &e.Step, &e.Probability, &e.Accepted, &e.Draw, &e.EnergyBefore, &e.EnergyAfter,
			&e.Candidate, &e.Swaps, &e.Skipped, &e.Seconds, &ts); err != nil {
			return nil, fmt.Errorf("acclog.Entries: %w", err)
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
		ret = append(ret, e)
	}
	return ret, rows.Err()
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
