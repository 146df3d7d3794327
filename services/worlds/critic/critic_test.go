// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package critic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n0000")

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    schema.Feedback
		wantErr error
	}{
		{
			name:  "valid",
			reply: `{"valid": true, "feedback": "Looks right."}`,
			want:  schema.Feedback{Valid: true, Message: "Looks right."},
		},
		{
			name:  "fenced with prose",
			reply: "Here you go:\n```json\n{\"valid\": false, \"feedback\": \"Set leaf_density to 0.0.\"}\n```",
			want:  schema.Feedback{Valid: false, Message: "Set leaf_density to 0.0."},
		},
		{
			name:  "invalid without message",
			reply: `{"valid": false}`,
			want:  schema.Feedback{Valid: false, Message: "No feedback provided."},
		},
		{name: "missing valid", reply: `{"feedback": "fine"}`, wantErr: schema.ErrParseFailure},
		{name: "string valid", reply: `{"valid": "yes"}`, wantErr: schema.ErrParseFailure},
		{name: "no json", reply: "The object looks great", wantErr: schema.ErrParseFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVerdict(tt.reply)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestObjectCritic_Judge(t *testing.T) {
	var gotMsgs []llm.Message
	var gotOpts oracle.ChatOptions
	client := oracle.ChatFunc(func(_ context.Context, msgs []llm.Message, opts oracle.ChatOptions) (string, error) {
		gotMsgs, gotOpts = msgs, opts
		return `{"valid": false, "feedback": "The tree is too green. Set leaf_density to 0.0."}`, nil
	})
	front := llm.Image{MIMEType: "image/png", Data: pngMagic}
	side := llm.Image{MIMEType: "image/png", Data: pngMagic}

	fb, err := NewObjectCritic(client, nil).Judge(context.Background(), "a dead tree", front, side)
	require.NoError(t, err)
	assert.False(t, fb.Valid)
	assert.True(t, fb.Actionable())

	assert.Equal(t, 0.0, gotOpts.Temperature)
	assert.True(t, gotOpts.JSONMode)
	require.Len(t, gotMsgs, 2)
	assert.Contains(t, gotMsgs[0].Content, "Semantic Alignment")
	assert.Contains(t, gotMsgs[0].Content, "Visual Quality")
	assert.Contains(t, gotMsgs[0].Content, "Multi-view Consistency")
	assert.Contains(t, gotMsgs[1].Content, "User Instruction: a dead tree")
	require.Len(t, gotMsgs[1].Images, 2)
	assert.Equal(t, "Front View:", gotMsgs[1].Images[0].Caption)
	assert.Equal(t, "Side View:", gotMsgs[1].Images[1].Caption)
}

func TestObjectCritic_OracleFailure(t *testing.T) {
	client := oracle.ChatFunc(func(context.Context, []llm.Message, oracle.ChatOptions) (string, error) {
		return "", errors.New("connection refused")
	})
	_, err := NewObjectCritic(client, nil).Judge(context.Background(), "x", llm.Image{}, llm.Image{})
	assert.ErrorIs(t, err, schema.ErrOracle)

	var se *schema.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, schema.StageCritique, se.Stage)
}

func writeFrames(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("frame_%04d.png", i)), pngMagic, 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	return dir
}

func TestSampleFrames(t *testing.T) {
	dir := writeFrames(t, 120)

	frames, err := SampleFrames(dir, 24, 0.05)
	require.NoError(t, err)
	require.Len(t, frames, 24)
	// 5% of 120 frames are skipped; the last frame is always included.
	assert.Equal(t, filepath.Join(dir, "frame_0006.png"), frames[0])
	assert.Equal(t, filepath.Join(dir, "frame_0119.png"), frames[23])
	for i := 1; i < len(frames); i++ {
		assert.Less(t, frames[i-1], frames[i])
	}
}

func TestSampleFrames_UnpaddedNamesInNumericOrder(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 12; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("frame_%d.png", i)), pngMagic, 0o600))
	}
	frames, err := SampleFrames(dir, 12, 0)
	require.NoError(t, err)
	require.Len(t, frames, 12)
	for i, f := range frames {
		assert.Equal(t, filepath.Join(dir, fmt.Sprintf("frame_%d.png", i)), f)
	}
}

func TestNaturalLess(t *testing.T) {
	assert.True(t, naturalLess("frame_2.png", "frame_10.png"))
	assert.False(t, naturalLess("frame_10.png", "frame_2.png"))
	assert.True(t, naturalLess("a_1.png", "a_01.png"))
	assert.True(t, naturalLess("a.png", "b.png"))
	assert.False(t, naturalLess("x_3.png", "x_3.png"))
}

func TestSampleFrames_ShortSequenceRepeats(t *testing.T) {
	frames, err := SampleFrames(writeFrames(t, 3), 6, 0)
	require.NoError(t, err)
	assert.Len(t, frames, 6)
}

func TestSampleFrames_Missing(t *testing.T) {
	_, err := SampleFrames(filepath.Join(t.TempDir(), "nope"), 24, 0.05)
	assert.ErrorIs(t, err, schema.ErrMissingArtifact)

	_, err = SampleFrames(t.TempDir(), 24, 0.05)
	assert.ErrorIs(t, err, schema.ErrMissingArtifact)
}

func TestMotionCritic_Judge(t *testing.T) {
	paths, err := SampleFrames(writeFrames(t, 48), 24, 0.05)
	require.NoError(t, err)
	frames, err := LoadFrames(paths)
	require.NoError(t, err)

	var gotOpts oracle.ChatOptions
	var images int
	client := oracle.ChatFunc(func(_ context.Context, msgs []llm.Message, opts oracle.ChatOptions) (string, error) {
		gotOpts = opts
		images = len(msgs[1].Images)
		return `{"valid": true, "feedback": ""}`, nil
	})
	fb, err := NewMotionCritic(client, nil).Judge(context.Background(), "leaves drifting gently", frames)
	require.NoError(t, err)
	assert.True(t, fb.Valid)
	assert.False(t, fb.Actionable())
	assert.Equal(t, 24, images)
	assert.Equal(t, 300, gotOpts.MaxTokens)
	assert.True(t, gotOpts.JSONMode)

	_, err = NewMotionCritic(client, nil).Judge(context.Background(), "x", nil)
	assert.ErrorIs(t, err, schema.ErrMissingArtifact)
}
