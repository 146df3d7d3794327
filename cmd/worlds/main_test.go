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
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("WORLDS_BADGER_DIR", "memory")
	t.Setenv("WORLDS_CONFIG", "")
	t.Setenv("WORLDS_LOG_LEVEL", "error")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResolve_MissingManifest(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "resolve", "-a", dir, "a foggy forest")
	require.Error(t, err)
	assert.True(t, errors.Is(err, schema.ErrMissingArtifact))
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, describe(err), "manifest.json does not exist; run `worlds plan` first")
}

func TestResolveThenSynthesize(t *testing.T) {
	dir := t.TempDir()
	manifest := `{
  "atmosphere": {"weather": "foggy", "time_of_day": "dawn"},
  "terrain": {"ground_cover": "forest"},
  "ecosystem": {"biome_type": "temperate_forest", "primary_vegetation": ["pine"]}
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifest), 0o600))

	out, err := execute(t, "resolve", "--json", "-a", dir, "a foggy pine forest at dawn")
	require.NoError(t, err)
	var res resolveOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Len(t, res.Params, len(schema.SceneSchema.Keys()))
	assert.FileExists(t, filepath.Join(dir, "scene_params.json"))

	out, err = execute(t, "synthesize", "-a", dir, "a foggy pine forest at dawn")
	require.NoError(t, err)
	assert.Contains(t, out, "Scene configuration")
	assert.FileExists(t, filepath.Join(dir, "scene.gin"))
}

func TestSynthesize_MissingParams(t *testing.T) {
	_, err := execute(t, "synthesize", "-a", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, describe(err), "run `worlds resolve` first")
}

func TestCritique_MissingEvidence(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "critique", "object", "-a", dir, "--front", filepath.Join(dir, "front.png"), "--side", filepath.Join(dir, "side.png"), "a flag")
	require.Error(t, err)
	assert.True(t, errors.Is(err, schema.ErrMissingArtifact))
}

func TestExtract_RequiresInstruction(t *testing.T) {
	_, err := execute(t, "extract")
	require.Error(t, err)
	assert.Equal(t, "an instruction is required", describe(err))
}

func TestRuns_Empty(t *testing.T) {
	out, err := execute(t, "runs", "--json", "-a", t.TempDir())
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestResume_UnknownRun(t *testing.T) {
	_, err := execute(t, "resume", "-a", t.TempDir(), "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitNotAccepted, exitCode(errNotAccepted))
	assert.Equal(t, exitError, exitCode(errors.New("boom")))
}

func TestNewLogger_RejectsBadLevel(t *testing.T) {
	_, err := newLogger(&bytes.Buffer{}, "loud", false)
	assert.Error(t, err)
}
