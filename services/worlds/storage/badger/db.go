// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps an embedded BadgerDB instance used for run checkpoints
// and persisted knowledge-index vectors.
//
// Thread Safety:
//
//	DB is safe for concurrent use. Transactions are per-call.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config controls how the database is opened.
type Config struct {
	// Path is the on-disk directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps all data in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit. Checkpoints need it; caches do not.
	SyncWrites bool

	// ReadOnly opens an existing directory without write access.
	ReadOnly bool

	// Logger receives open/close diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a durable on-disk configuration with no path set.
func DefaultConfig() Config {
	return Config{SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB is an opened BadgerDB handle.
type DB struct {
	db     *dgbadger.DB
	cfg    Config
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// OpenDB opens (creating if needed) the database described by cfg.
//
// # Inputs
//
//   - cfg: Open options. Path is required unless InMemory is set.
//
// # Outputs
//
//   - *DB: Open handle. Caller must Close it.
//   - error: Non-nil if the directory cannot be created or opened.
func OpenDB(cfg Config) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger: path is required for on-disk database")
		}
		if !cfg.ReadOnly {
			if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
				return nil, fmt.Errorf("badger: create dir %s: %w", cfg.Path, err)
			}
		}
		opts = dgbadger.DefaultOptions(cfg.Path).
			WithSyncWrites(cfg.SyncWrites).
			WithReadOnly(cfg.ReadOnly)
	}
	opts = opts.WithLogger(nil)

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", cfg.Path, err)
	}

	logger.Debug("badger: opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
		slog.Bool("read_only", cfg.ReadOnly),
	)
	return &DB{db: db, cfg: cfg, logger: logger}, nil
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// WithTxn runs fn inside a read-write transaction that commits on nil return.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.cfg.ReadOnly {
		return errors.New("badger: database opened read-only")
	}
	return d.db.Update(fn)
}

// RunValueLogGC reclaims space from the value log. ErrNoRewrite is not an
// error for callers.
func (d *DB) RunValueLogGC(discardRatio float64) error {
	if d.cfg.InMemory || d.cfg.ReadOnly {
		return nil
	}
	err := d.db.RunValueLogGC(discardRatio)
	if errors.Is(err, dgbadger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Path returns the on-disk directory, empty for in-memory databases.
func (d *DB) Path() string {
	return d.cfg.Path
}

// Close releases the database. Safe to call more than once.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.db.Close()
		d.logger.Debug("badger: closed", slog.String("path", d.cfg.Path))
	})
	return d.closeErr
}
