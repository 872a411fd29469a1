/*
 * cache.go, part of metromc.
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
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/rmera/metromc"
)

// CacheConfig sets up the badger database behind a Cached oracle.
type CacheConfig struct {
	//Folder for the database. Ignored if InMemory is true.
	Path string
	//Keep everything in RAM. For tests.
	InMemory   bool
	SyncWrites bool
	//Logger for badger itself. If nil, badger's logging is disabled.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// badger is chatty at Info level.
func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenCache opens the badger database described by cfg.
func OpenCache(cfg CacheConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// Cached keeps the energies given by another oracle, keyed by structure fingerprint,
// so no structure is calculated twice, not even across runs. Failures of the cache
// itself are logged and otherwise ignored. Only successful energies are kept.
type Cached struct {
	inner     Oracle
	db        *badger.DB
	namespace string
	log       *slog.Logger
}

// NewCached returns an oracle that asks inner only for energies not in db. Energies
// are stored under namespace, so different programs or models can share a database.
// The Cached oracle owns db, and closes it on Close.
func NewCached(inner Oracle, db *badger.DB, namespace string, log *slog.Logger) *Cached {
	if log == nil {
		log = slog.Default()
	}
	return &Cached{inner: inner, db: db, namespace: namespace, log: log}
}

func (C *Cached) key(S *metromc.Structure) []byte {
	return []byte(fmt.Sprintf("energy/%s/%016x", C.namespace, S.Fingerprint()))
}

// Lookup returns the stored energy of S, if any.
func (C *Cached) Lookup(S *metromc.Structure) (float64, bool, error) {
	var e float64
	found := false
	err := C.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(C.key(S))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt cache entry of %d bytes", len(val))
			}
			e = math.Float64frombits(binary.LittleEndian.Uint64(val))
			found = true
			return nil
		})
	})
	return e, found, err
}

// Evaluate returns the energy of S from the cache, or from the inner oracle.
func (C *Cached) Evaluate(ctx context.Context, S *metromc.Structure) (float64, error) {
	e, ok, err := C.Lookup(S)
	if err != nil {
		C.log.Warn("energy cache read failed", "error", err)
	}
	if ok {
		C.log.Debug("energy from cache", "fingerprint", fmt.Sprintf("%016x", S.Fingerprint()), "energy", e)
		return e, nil
	}
	e, err = C.inner.Evaluate(ctx, S)
	if err != nil {
		return 0, err
	}
	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, math.Float64bits(e))
	err = C.db.Update(func(txn *badger.Txn) error {
		return txn.Set(C.key(S), val)
	})
	if err != nil {
		C.log.Warn("energy cache write failed", "error", err)
	}
	return e, nil
}

// Close closes the database, and the inner oracle, if it can be closed.
func (C *Cached) Close() error {
	err := C.db.Close()
	if ierr := Close(C.inner); err == nil {
		err = ierr
	}
	return err
}
