// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

// Chunk vectors are persisted in BadgerDB so an index over a remote embedder
// can be rebuilt without re-embedding the corpus.
//
// Storage layout:
//
//	knowledge/emb/v1/{corpusHash}  ->  gob-encoded map[string][]float32
//	                                   (canonical name -> unit vector)
//	                                   TTL: 7 days

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/AleutianWorlds/services/worlds/storage/badger"
)

// DefaultVectorTTL is the lifetime of a persisted vector set.
const DefaultVectorTTL = 7 * 24 * time.Hour

// VectorKeyPrefix is prepended to the corpus hash to form the key.
const VectorKeyPrefix = "knowledge/emb/v1/"

var errCacheMiss = errors.New("cache miss")

// VectorStore persists chunk vectors keyed by corpus hash.
//
// LoadVectors returns (nil, nil) on a miss. Implementations must be safe for
// concurrent use.
type VectorStore interface {
	LoadVectors(ctx context.Context, corpusHash string) (map[string][]float32, error)
	SaveVectors(ctx context.Context, corpusHash string, vectors map[string][]float32) error
}

// BadgerVectorStore implements VectorStore on a caller-owned BadgerDB.
type BadgerVectorStore struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerVectorStore creates a store. ttl <= 0 uses DefaultVectorTTL.
// The store does not own db.
func NewBadgerVectorStore(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *BadgerVectorStore {
	if db == nil {
		panic("NewBadgerVectorStore: db must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultVectorTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerVectorStore{db: db, ttl: ttl, logger: logger}
}

// LoadVectors implements VectorStore.
func (s *BadgerVectorStore) LoadVectors(ctx context.Context, corpusHash string) (map[string][]float32, error) {
	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(vectorKey(corpusHash))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get vector key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, errCacheMiss) {
		s.logger.Debug("knowledge vectors: miss", slog.String("hash", shortHash(corpusHash)))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge vectors load: %w", err)
	}

	var vectors map[string][]float32
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("knowledge vectors decode: %w", err)
	}
	return vectors, nil
}

// SaveVectors implements VectorStore. An empty map is not written.
func (s *BadgerVectorStore) SaveVectors(ctx context.Context, corpusHash string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vectors); err != nil {
		return fmt.Errorf("knowledge vectors encode: %w", err)
	}
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.SetEntry(dgbadger.NewEntry(vectorKey(corpusHash), buf.Bytes()).WithTTL(s.ttl))
	})
	if err != nil {
		return fmt.Errorf("knowledge vectors save: %w", err)
	}
	s.logger.Debug("knowledge vectors: saved",
		slog.String("hash", shortHash(corpusHash)),
		slog.Int("chunks", len(vectors)),
		slog.Duration("ttl", s.ttl),
	)
	return nil
}

// corpusHash covers every input that shapes the vectors: chunk order, names,
// text, and the embedder identity.
func corpusHash(segments []segment, embedderName string) string {
	h := sha256.New()
	for _, s := range segments {
		fmt.Fprintf(h, "%s\t%d\t%s\n", s.name, len(s.text), s.text)
	}
	fmt.Fprintf(h, "embedder=%s\n", embedderName)
	return hex.EncodeToString(h.Sum(nil))
}

func vectorKey(corpusHash string) []byte {
	return []byte(VectorKeyPrefix + corpusHash)
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8] + "..."
	}
	return h
}
