// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/artifacts"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/config"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/critic"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/intent"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/knowledge"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/render"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/resolver"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/synthesizer"
)

type emptyIndex struct{}

func (emptyIndex) Search(context.Context, string, int) ([]knowledge.Match, error) { return nil, nil }
func (emptyIndex) Get(string) (knowledge.Match, bool)                               { return knowledge.Match{}, false }
func (emptyIndex) Labels() []string                                                 { return nil }

func reply(text string) oracle.ChatFunc {
	return func(context.Context, []llm.Message, oracle.ChatOptions) (string, error) { return text, nil }
}

func newContext(t *testing.T, stages Stages) *Context {
	t.Helper()
	return New(stages, artifacts.NewStore(t.TempDir(), nil), nil)
}

func TestExtract_WritesSelection(t *testing.T) {
	pc := newContext(t, Stages{
		Extractor: intent.NewExtractor(reply(`{"key_obj": "flag", "reason": "The flag waves."}`), []string{"flag"}, nil),
	})
	res, err := pc.Extract(context.Background(), "a flag waving in the wind")
	require.NoError(t, err)
	assert.Equal(t, "flag", res.Entity)

	sel, err := pc.Store.ReadSelection()
	require.NoError(t, err)
	assert.Equal(t, "flag", sel.Entity)
	assert.False(t, sel.IsNone())
}

func TestSearch_EmptyIndexIsMissingCorpus(t *testing.T) {
	pc := newContext(t, Stages{Index: emptyIndex{}})
	_, err := pc.Search(context.Background(), "flag")
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrMissingCorpus)

	var se *schema.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, schema.StageSearch, se.Stage)
}

func TestUnconfiguredStage(t *testing.T) {
	pc := newContext(t, Stages{})
	ctx := context.Background()

	_, err := pc.Extract(ctx, "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = pc.Plan(ctx, "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = pc.Render(ctx, render.KindObject, t.TempDir())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRender_MissingConfig(t *testing.T) {
	pc := newContext(t, Stages{Runner: render.StaticRunner{}})
	_, err := pc.Render(context.Background(), render.KindScene, t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrMissingArtifact)

	var mae *schema.MissingArtifactError
	require.True(t, errors.As(err, &mae))
	assert.Equal(t, pc.Store.Path(artifacts.SceneGinFile), mae.Path)
	assert.Equal(t, schema.StageSynthesize, mae.Producer)
}

func TestSceneChain_WritesArtifacts(t *testing.T) {
	ref, err := synthesizer.ParseReference(config.DefaultReferenceGin())
	require.NoError(t, err)
	pc := newContext(t, Stages{
		Scene:       resolver.NewSceneResolver(nil),
		Synthesizer: synthesizer.New(ref),
	})
	ctx := context.Background()

	m := &schema.Manifest{}
	m.Terrain.Landforms = []string{"desert"}
	res, err := pc.ResolveScene(ctx, "a hot desert", m, nil, nil)
	require.NoError(t, err)

	stored, err := pc.Store.ReadSceneParams()
	require.NoError(t, err)
	assert.True(t, stored.SameValues(res.Params))

	art, err := pc.SynthesizeScene(ctx, "a hot desert", res.Params, m)
	require.NoError(t, err)
	gin, err := pc.Store.ReadBytes(artifacts.SceneGinFile)
	require.NoError(t, err)
	assert.Equal(t, art.Text, string(gin))
	assert.True(t, strings.Contains(string(gin), "sand"))
}

func TestObjectChain_SynthesizeAndCritique(t *testing.T) {
	dir := t.TempDir()
	png := []byte("\x89PNG\r\n\x1a\n0000")
	for _, n := range []string{"front.png", "side.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), png, 0o600))
	}
	pc := newContext(t, Stages{
		Object:       resolver.NewObjectResolver(nil),
		ObjectCritic: critic.NewObjectCritic(reply(`{"valid": false, "feedback": "Too small."}`), nil),
		Runner: render.StaticRunner{Evidence: render.Evidence{
			Front: filepath.Join(dir, "front.png"),
			Side:  filepath.Join(dir, "side.png"),
		}},
	})
	ctx := context.Background()
	match := knowledge.Match{
		CanonicalName: "FlagFactory",
		DisplayLabel:  "Flag",
		Documentation: "FlagFactory\n- width (float, 0.5 to 4.0): cloth width\n- stiffness (float, 0.0 to 1.0): cloth stiffness",
	}

	res, err := pc.ResolveObject(ctx, "a wide flag", match)
	require.NoError(t, err)
	assert.False(t, pc.Store.Exists(artifacts.ObjectParamsFile))

	_, err = pc.SynthesizeObject(ctx, "a wide flag", res)
	require.NoError(t, err)
	op, err := pc.Store.ReadObjectParams()
	require.NoError(t, err)
	assert.Equal(t, "FlagFactory", op.Factory)
	assert.Equal(t, "a wide flag", op.Instruction)

	ev, err := pc.Render(ctx, render.KindObject, filepath.Join(dir, "out"))
	require.NoError(t, err)
	fb, err := pc.CritiqueObject(ctx, "a wide flag", ev)
	require.NoError(t, err)
	assert.False(t, fb.Valid)

	report, err := pc.Store.ReadFeedback()
	require.NoError(t, err)
	assert.Equal(t, "Too small.", report.Feedback)
	assert.Equal(t, ev.Front, report.FrontImage)
}
