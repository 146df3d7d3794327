// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

const spookyManifest = `{
  "atmosphere": {"season": "Autumn", "weather": "misty", "time_of_day": "dusk", "lighting_mood": "spooky"},
  "terrain": {"landforms": ["forest"], "water_bodies": ["lake"], "ground_cover": "dirt"},
  "ecosystem": {
    "biome_type": "deciduous_forest",
    "primary_vegetation": ["trees", "ferns", "mushroom"],
    "ground_debris": ["ground_leaves"],
    "vegetation_density": "dense",
    "creatures": {"ground": [], "flying": ["flyingbird"], "swarms": []}
  },
  "surface_coverage": ["moss"],
  "dynamics": {"wind_status": "breezy", "particles": ["falling_leaves"], "other_effects": ["wind"]}
}`

func TestPlan_NormalizesAndAliases(t *testing.T) {
	var got oracle.ChatOptions
	var userMsg string
	client := oracle.ChatFunc(func(_ context.Context, msgs []llm.Message, o oracle.ChatOptions) (string, error) {
		got = o
		userMsg = msgs[len(msgs)-1].Content
		return "```json\n" + spookyManifest + "\n```", nil
	})

	m, err := NewPlanner(client, nil).Plan(context.Background(), "a spooky forest")
	require.NoError(t, err)
	assert.Equal(t, "autumn", m.Atmosphere.Season)
	assert.Equal(t, "foggy", m.Atmosphere.Weather)
	assert.Equal(t, "sunset", m.Atmosphere.TimeOfDay)
	assert.Equal(t, "high", m.Ecosystem.VegetationDensity)
	assert.True(t, m.HasWaterBody("lake"))
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	assert.Equal(t, "User Instruction: a spooky forest", userMsg)
}

func TestParseManifest_Failures(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		kind  error
	}{
		{"no json", "I could not plan that.", schema.ErrParseFailure},
		{"unknown field", `{"atmosphere": {"season": "winter"}, "mood": "x"}`, schema.ErrParseFailure},
		{"bad season", `{"atmosphere": {"season": "monsoon"}}`, schema.ErrSchemaViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest(tt.reply)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), err.Error())
		})
	}
}

func TestPlan_OracleError(t *testing.T) {
	client := oracle.ChatFunc(func(context.Context, []llm.Message, oracle.ChatOptions) (string, error) {
		return "", errors.New("quota exceeded")
	})
	_, err := NewPlanner(client, nil).Plan(context.Background(), "desert")
	require.Error(t, err)
	assert.True(t, errors.Is(err, schema.ErrOracle))
}
