// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/config"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.BadgerDir = "memory"
	cfg.Artifacts.Dir = t.TempDir()
	cfg.Knowledge.Embedder = "tfidf"
	cfg.Knowledge.Watch = false
	cfg.Render.Command = nil
	return cfg
}

func TestBuild_WithoutOracles(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), nil, WithClients(map[oracle.Role]oracle.ChatClient{}))
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	assert.NotEmpty(t, a.Index.Labels())
	assert.Nil(t, a.Pipeline.Extractor)
	assert.Nil(t, a.Pipeline.ObjectCritic)
	assert.NotNil(t, a.Pipeline.Scene)
	assert.NotNil(t, a.Pipeline.Synthesizer)
	assert.Nil(t, a.Pipeline.Runner)

	_, err = a.Pipeline.Extract(context.Background(), "a tree")
	assert.Error(t, err)

	m := &schema.Manifest{}
	res, err := a.Pipeline.ResolveScene(context.Background(), "a quiet meadow", m, nil, nil)
	require.NoError(t, err)
	assert.NoError(t, res.Params.Validate())
}

func TestBuild_WiresRoleClients(t *testing.T) {
	chat := oracle.ChatFunc(func(context.Context, []llm.Message, oracle.ChatOptions) (string, error) {
		return `{"key_obj": "tree", "reason": "r"}`, nil
	})
	clients := map[oracle.Role]oracle.ChatClient{
		oracle.RoleExtract: chat,
		oracle.RoleCritic:  chat,
	}
	a, err := Build(context.Background(), testConfig(t), nil, WithClients(clients), WithIsolatedRuns())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Pipeline.Extractor)
	assert.NotNil(t, a.Pipeline.ObjectCritic)
	assert.NotNil(t, a.Pipeline.MotionCritic)
	assert.Nil(t, a.Pipeline.Planner)

	res, err := a.Pipeline.Extract(context.Background(), "a tree in the wind")
	require.NoError(t, err)
	assert.Equal(t, "tree", res.Entity)
}

func TestBuild_RejectsMissingReference(t *testing.T) {
	cfg := testConfig(t)
	cfg.Synthesizer.ReferenceGinPath = t.TempDir() + "/nope.gin"
	_, err := Build(context.Background(), cfg, nil, WithClients(map[oracle.Role]oracle.ChatClient{}))
	assert.Error(t, err)
}
