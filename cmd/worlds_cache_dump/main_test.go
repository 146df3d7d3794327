// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"testing"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/controller"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/knowledge"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

func openMem(t *testing.T) *dgbadger.DB {
	t.Helper()
	db, err := dgbadger.Open(dgbadger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func put(t *testing.T, db *dgbadger.DB, e *dgbadger.Entry) {
	t.Helper()
	require.NoError(t, db.Update(func(txn *dgbadger.Txn) error { return txn.SetEntry(e) }))
}

func TestCollectAndPrint(t *testing.T) {
	db := openMem(t)

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(map[string][]float32{
		"TreeFactory": {0.6, 0.8},
		"FlagFactory": {1, 0, 0, 0, 0},
	}))
	put(t, db, dgbadger.NewEntry([]byte(knowledge.VectorKeyPrefix+"abc123"), buf.Bytes()).WithTTL(time.Hour))
	put(t, db, dgbadger.NewEntry([]byte(knowledge.VectorKeyPrefix+"broken"), []byte("not gob")))

	older, _ := json.Marshal(controller.RunState{
		RunID: "r1", Pipeline: controller.PipelineObject, State: controller.StateFailed,
		Reason: controller.ReasonExhausted, UpdatedAt: time.Unix(100, 0),
	})
	newer, _ := json.Marshal(controller.RunState{
		RunID: "r2", Pipeline: controller.PipelineScene, State: controller.StateAccepted,
		LastFeedback: &schema.Feedback{Valid: true}, UpdatedAt: time.Unix(200, 0),
	})
	put(t, db, dgbadger.NewEntry(controller.RunKey("r1"), older))
	put(t, db, dgbadger.NewEntry(controller.RunKey("r2"), newer))

	vectors, err := collectVectors(db)
	require.NoError(t, err)
	require.Len(t, vectors, 2)

	runs, err := collectRuns(db)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].state.RunID)

	var out bytes.Buffer
	printVectors(&out, vectors, time.Now())
	printRuns(&out, runs)
	text := out.String()
	assert.Contains(t, text, "Found 2 knowledge vector entries")
	assert.Contains(t, text, "TreeFactory")
	assert.Contains(t, text, "1.0000")
	assert.Contains(t, text, "DECODE ERROR")
	assert.Contains(t, text, "remaining")
	assert.Contains(t, text, controller.ReasonExhausted)
	assert.Contains(t, text, "Found 2 run checkpoints")
}

func TestPrint_Empty(t *testing.T) {
	var out bytes.Buffer
	printVectors(&out, nil, time.Now())
	printRuns(&out, nil)
	assert.Contains(t, out.String(), "No knowledge vector entries found.")
	assert.Contains(t, out.String(), "No run checkpoints found.")
}

func TestFormatSample(t *testing.T) {
	assert.Equal(t, "[]", formatSample(nil, 4))
	assert.Equal(t, "[+1.0000, -0.5000]", formatSample([]float32{1, -0.5}, 4))
	assert.Equal(t, "[+0.0000 ...]", formatSample([]float32{0, 1}, 1))
}
