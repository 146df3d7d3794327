// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package controller

// Run states are checkpointed in BadgerDB after every transition.
//
// Storage layout:
//
//	runs/v1/{runID}  ->  JSON-encoded RunState (no TTL)

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/AleutianWorlds/services/worlds/storage/badger"
)

// RunKeyPrefix is prepended to the run ID to form the key.
const RunKeyPrefix = "runs/v1/"

// ErrRunNotFound is returned by Load for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// CheckpointStore persists run states. Implementations must be safe for
// concurrent use.
type CheckpointStore interface {
	Save(ctx context.Context, rs *RunState) error
	Load(ctx context.Context, runID string) (*RunState, error)
	List(ctx context.Context) ([]*RunState, error)
}

// BadgerCheckpoints implements CheckpointStore on a caller-owned DB.
type BadgerCheckpoints struct {
	db *badgerstore.DB
}

// NewBadgerCheckpoints creates a checkpoint store. It does not own db.
func NewBadgerCheckpoints(db *badgerstore.DB) *BadgerCheckpoints {
	if db == nil {
		panic("NewBadgerCheckpoints: db must not be nil")
	}
	return &BadgerCheckpoints{db: db}
}

// RunKey returns the BadgerDB key for runID.
func RunKey(runID string) []byte { return []byte(RunKeyPrefix + runID) }

// Save implements CheckpointStore.
func (b *BadgerCheckpoints) Save(ctx context.Context, rs *RunState) error {
	data, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", rs.RunID, err)
	}
	return b.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(RunKey(rs.RunID), data)
	})
}

// Load implements CheckpointStore.
func (b *BadgerCheckpoints) Load(ctx context.Context, runID string) (*RunState, error) {
	var rs RunState
	err := b.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(RunKey(runID))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &rs) })
	})
	if err != nil {
		return nil, err
	}
	return &rs, nil
}

// List implements CheckpointStore, newest first.
func (b *BadgerCheckpoints) List(ctx context.Context) ([]*RunState, error) {
	var out []*RunState
	err := b.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(RunKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rs RunState
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rs) }); err != nil {
				return fmt.Errorf("checkpoint: decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, &rs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
