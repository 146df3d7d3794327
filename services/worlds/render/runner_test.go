// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package render

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
}

func TestCollect_Object(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.png"))
	touch(t, filepath.Join(dir, "front.png"))
	touch(t, filepath.Join(dir, "side.jpg"))

	ev, err := Collect(KindObject, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "front.png"), ev.Front)
	assert.Equal(t, filepath.Join(dir, "side.jpg"), ev.Side)
}

func TestCollect_ObjectFallbackAndShortage(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "view_1.png"))
	_, err := Collect(KindObject, dir)
	assert.ErrorIs(t, err, ErrRenderFailed)

	touch(t, filepath.Join(dir, "view_0.png"))
	ev, err := Collect(KindObject, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "view_0.png"), ev.Front)
	assert.Equal(t, filepath.Join(dir, "view_1.png"), ev.Side)
}

func TestCollect_Scene(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "frames", "0001.png"))
	touch(t, filepath.Join(dir, "simulation_output.mp4"))

	ev, err := Collect(KindScene, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "frames"), ev.FramesDir)
	assert.Equal(t, filepath.Join(dir, "simulation_output.mp4"), ev.VideoPath)
}

func TestStaticRunner(t *testing.T) {
	dir := t.TempDir()
	front := filepath.Join(dir, "front.png")
	touch(t, front)

	r := StaticRunner{Evidence: Evidence{Front: front, Side: filepath.Join(dir, "side.png")}}
	_, err := r.Render(context.Background(), Request{Kind: KindObject})
	assert.ErrorIs(t, err, schema.ErrMissingArtifact)

	touch(t, r.Evidence.Side)
	ev, err := r.Render(context.Background(), Request{Kind: KindObject})
	require.NoError(t, err)
	assert.Equal(t, front, ev.Front)

	_, err = StaticRunner{}.Render(context.Background(), Request{Kind: KindScene})
	assert.ErrorIs(t, err, schema.ErrMissingArtifact)
}

func TestExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	out := filepath.Join(t.TempDir(), "render")
	cfg := filepath.Join(t.TempDir(), "obj_param.txt")
	touch(t, cfg)

	r, err := NewExecRunner([]string{"/bin/sh", "-c", `test -f "$1" && touch "$2/front.png" "$2/side.png"`, "sh", "{config}", "{out}"}, 0, nil)
	require.NoError(t, err)
	ev, err := r.Render(context.Background(), Request{Kind: KindObject, ConfigPath: cfg, OutDir: out})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "front.png"), ev.Front)
	assert.Equal(t, filepath.Join(out, "side.png"), ev.Side)
}

func TestExecRunner_Failure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	r, err := NewExecRunner([]string{"/bin/sh", "-c", "echo boom >&2; exit 3"}, 0, nil)
	require.NoError(t, err)
	_, err = r.Render(context.Background(), Request{Kind: KindScene, OutDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrRenderFailed)
	assert.ErrorContains(t, err, "boom")

	_, err = NewExecRunner(nil, 0, nil)
	assert.Error(t, err)
}
