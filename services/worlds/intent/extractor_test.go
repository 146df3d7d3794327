// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

// scripted returns a fixed reply and records the options it was called with.
func scripted(reply string, calls *int, opts *oracle.ChatOptions) oracle.ChatClient {
	return oracle.ChatFunc(func(_ context.Context, msgs []llm.Message, o oracle.ChatOptions) (string, error) {
		if calls != nil {
			*calls++
		}
		if opts != nil {
			*opts = o
		}
		return reply, nil
	})
}

func TestExtract_AmbientOnlyIsNone(t *testing.T) {
	reply := `{"key_obj": null, "reason": "Scene describes environmental changes only, no specific object dynamics."}`
	ex := NewExtractor(scripted(reply, nil, nil), nil, nil)

	res, err := ex.Extract(context.Background(), "24-hour lighting cycle from dawn to dusk")
	require.NoError(t, err)
	assert.True(t, res.IsNone())
	assert.Nil(t, res.ParseError)
	assert.Contains(t, res.Reason, "environmental")
}

func TestExtract_VictimOverCollider(t *testing.T) {
	var opts oracle.ChatOptions
	reply := "```json\n{\"key_obj\": \"Soda Cans\", \"reason\": \"The can deforms.\"}\n```"
	ex := NewExtractor(scripted(reply, nil, &opts), nil, nil)

	res, err := ex.Extract(context.Background(), "A heavy iron anvil crushing a soda can")
	require.NoError(t, err)
	assert.Equal(t, "can", res.Entity)
	assert.False(t, res.IsNone())
	assert.InDelta(t, 0.1, opts.Temperature, 1e-9)
	assert.Equal(t, 500, opts.MaxTokens)
}

func TestExtract_EmptyInstructionSkipsOracle(t *testing.T) {
	calls := 0
	ex := NewExtractor(scripted(`{"key_obj": "cup"}`, &calls, nil), nil, nil)

	res, err := ex.Extract(context.Background(), "   ")
	require.NoError(t, err)
	assert.True(t, res.IsNone())
	assert.Equal(t, 0, calls)
}

func TestExtract_ForbiddenSceneryIsNone(t *testing.T) {
	for _, noun := range []string{"ground", "Floor", "the sky", "rooms"} {
		reply := `{"key_obj": "` + noun + `", "reason": "x"}`
		res, err := NewExtractor(scripted(reply, nil, nil), nil, nil).Extract(context.Background(), "something")
		require.NoError(t, err)
		assert.True(t, res.IsNone(), noun)
	}
}

func TestExtract_ParseFallbackUsesKnownLabel(t *testing.T) {
	reply := "I think the palm trees swaying are the focus here."
	res, err := NewExtractor(scripted(reply, nil, nil), nil, nil).Extract(context.Background(), "palm trees in a storm")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, "tree", res.Entity)
	assert.Nil(t, res.ParseError)
}

func TestExtract_FailsClosed(t *testing.T) {
	reply := "I am not sure what you mean."
	res, err := NewExtractor(scripted(reply, nil, nil), nil, nil).Extract(context.Background(), "a gizmo whirring")
	require.NoError(t, err)
	assert.True(t, res.IsNone())
	require.Error(t, res.ParseError)
	assert.True(t, errors.Is(res.ParseError, schema.ErrParseFailure))
}

func TestExtract_ObjectWithoutKeyIsParseFailure(t *testing.T) {
	reply := `{"object": "cup"}`
	res, err := NewExtractor(scripted(reply, nil, nil), []string{}, nil).Extract(context.Background(), "a cup tipping over")
	require.NoError(t, err)
	assert.True(t, res.IsNone())
	assert.True(t, errors.Is(res.ParseError, schema.ErrParseFailure))
}

func TestExtract_OracleError(t *testing.T) {
	client := oracle.ChatFunc(func(context.Context, []llm.Message, oracle.ChatOptions) (string, error) {
		return "", errors.New("connection refused")
	})
	res, err := NewExtractor(client, nil, nil).Extract(context.Background(), "a falling leaf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, schema.ErrOracle))
	var se *schema.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, schema.StageExtract, se.Stage)
	assert.True(t, res.IsNone())
}

func TestSelectionRoundTrip(t *testing.T) {
	res := Result{Entity: "leaf", Reason: "wind"}
	data, err := json.Marshal([]Selection{res.Selection()})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"key_obj": "leaf", "reason": "wind"}]`, string(data))

	var back []Selection
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "leaf", FromSelection(back[0]).Entity)

	none := Result{Entity: None, None: true, Reason: "ambient"}.Selection()
	assert.Nil(t, none.KeyObj)
	assert.True(t, FromSelection(none).IsNone())
}

func TestCanonicalize(t *testing.T) {
	tests := map[string]string{
		"leaves":           "leaf",
		"red cup":          "cup",
		"shattering glass": "glass",
		"a pair of shoes":  "shoe",
		"Boxes":            "box",
		"butterflies":      "butterfly",
		"cactus":           "cactus",
		"":                 None,
		"  ":               None,
	}
	for in, want := range tests {
		assert.Equal(t, want, Canonicalize(in), in)
	}
}
