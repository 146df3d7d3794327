// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"WORLDS_ARTIFACT_DIR", "WORLDS_BADGER_DIR", "WORLDS_CORPUS_PATH", "WORLDS_EMBEDDER",
		"EMBEDDING_SERVICE_URL", "EMBEDDING_MODEL", "WORLDS_REFERENCE_GIN", "WORLDS_SERVER_ADDR",
		"WORLDS_MAX_ITERATIONS", "WORLDS_STOP_ON_STABLE", "WORLDS_RENDER_COMMAND", "WORLDS_CONFIG",
	} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func TestLoad_EmbeddedDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./output", cfg.Artifacts.Dir)
	assert.Equal(t, "tfidf", cfg.Knowledge.Embedder)
	assert.Equal(t, 1, cfg.Knowledge.TopK)
	assert.Equal(t, 168*time.Hour, cfg.Knowledge.CacheTTL)
	assert.Equal(t, 3, cfg.Controller.MaxIterations)
	assert.False(t, cfg.Controller.StopOnStable)
	assert.Equal(t, 24, cfg.Critic.FrameCount)
	assert.InDelta(t, 0.05, cfg.Critic.SkipFraction, 1e-12)
	assert.Equal(t, 1, cfg.Oracle.Retry.MaxAttempts)
	assert.Empty(t, cfg.Middlewares(), "retry and rate limiting are opt-in")
}

func TestLoad_UserFileAndEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "worlds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"controller:",
		"  max_iterations: 5",
		"oracle:",
		"  retry:",
		"    max_attempts: 3",
		"  rate_limit:",
		"    qps: 2",
		"    burst: 1",
	}, "\n")), 0o644))
	t.Setenv("WORLDS_ARTIFACT_DIR", "/tmp/run")
	t.Setenv("WORLDS_STOP_ON_STABLE", "true")
	t.Setenv("WORLDS_RENDER_COMMAND", "blender --background {config}")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Controller.MaxIterations)
	assert.True(t, cfg.Controller.StopOnStable)
	assert.Equal(t, "/tmp/run", cfg.Artifacts.Dir)
	assert.Equal(t, []string{"blender", "--background", "{config}"}, cfg.Render.Command)
	assert.Len(t, cfg.Middlewares(), 2)
	assert.Equal(t, "llava", cfg.Oracle.Roles["critic"].Model, "defaults survive a partial user file")
}

func TestLoad_ValidationFailure(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORLDS_EMBEDDER", "word2vec")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Embedder")
}

func TestLoad_BadEnvNumber(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORLDS_MAX_ITERATIONS", "many")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoad_OversizedFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "big.yaml")
	require.NoError(t, os.WriteFile(path, make([]byte, MaxYAMLFileSize+1), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum size")
}

func TestGet_CachesUntilReset(t *testing.T) {
	clearEnv(t)
	Reset()
	t.Cleanup(Reset)

	a, err := Get()
	require.NoError(t, err)
	b, err := Get()
	require.NoError(t, err)
	assert.Same(t, a, b)

	Reset()
	c, err := Get()
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestRoleDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	rd := cfg.RoleDefaults()
	assert.Equal(t, oracle.ProviderOllama, rd[oracle.RoleCritic].Provider)
	assert.Equal(t, "llava", rd[oracle.RoleCritic].Model)
	assert.Contains(t, rd, oracle.RoleExtract)
}

func TestCorpusDefaults(t *testing.T) {
	corpus, err := ReadCorpus("")
	require.NoError(t, err)
	assert.Contains(t, corpus, "\nLeafFactory\n")
	assert.Contains(t, corpus, "\nChoppedTrees\n")

	gin, err := ReadReferenceGin("")
	require.NoError(t, err)
	assert.Contains(t, gin, "compose_nature.tree_density")

	missing, err := ReadCorpus(filepath.Join(t.TempDir(), "absent.txt"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}
