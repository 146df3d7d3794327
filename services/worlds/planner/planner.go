// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner expands a scene instruction into a qualitative manifest.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

const planTemperature = 0.7

// aliases maps common synonyms onto the closed scalar vocabularies.
var aliases = map[string]map[string]string{
	"time_of_day": {
		"dusk": "sunset", "evening": "sunset", "twilight": "sunset",
		"morning": "dawn", "sunrise": "dawn",
		"midday": "noon", "day": "noon", "afternoon": "noon",
		"midnight": "night",
	},
	"weather": {
		"clear": "sunny", "rain": "rainy", "fog": "foggy", "misty": "foggy",
		"snow": "snowy", "overcast": "foggy",
	},
	"season": {"fall": "autumn"},
	"vegetation_density": {
		"dense": "high", "lush": "high", "moderate": "medium",
		"very_low": "very_sparse", "barren": "very_sparse",
	},
	"wind_status": {"windy": "breezy", "still": "calm", "storm": "stormy"},
}

// Planner asks the generation oracle for a manifest.
//
// Thread Safety: Planner is safe for concurrent use.
type Planner struct {
	client oracle.ChatClient
	logger *slog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(client oracle.ChatClient, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{client: client, logger: logger.With(slog.String("component", "planner"))}
}

// Plan produces a validated, normalized manifest for instruction.
//
// Outputs:
//   - *schema.Manifest: Normalized manifest.
//   - error: *schema.StageError with kind ErrOracle, ErrParseFailure or
//     ErrSchemaViolation.
func (p *Planner) Plan(ctx context.Context, instruction string) (*schema.Manifest, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		p.logger.Warn("planner: empty instruction; the oracle will infer a default scene")
	}
	reply, err := p.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: "User Instruction: " + instruction},
	}, oracle.ChatOptions{Temperature: planTemperature, JSONMode: true})
	if err != nil {
		return nil, schema.NewStageError(schema.StagePlan, schema.ErrOracle, err)
	}
	m, err := ParseManifest(reply)
	if err != nil {
		p.logger.Warn("planner: rejected oracle reply",
			slog.String("reply", llm.SafeLogString(reply)),
			slog.String("error", err.Error()))
		return nil, err
	}
	return m, nil
}

// ParseManifest decodes oracle text into a manifest, mapping known synonyms
// before validating the closed vocabularies. Unknown fields are rejected.
func ParseManifest(reply string) (*schema.Manifest, error) {
	obj, err := oracle.ExtractJSONObject(reply)
	if err != nil {
		return nil, schema.NewStageError(schema.StagePlan, schema.ErrParseFailure, err)
	}
	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.DisallowUnknownFields()
	var m schema.Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, schema.NewStageError(schema.StagePlan, schema.ErrParseFailure, fmt.Errorf("manifest: %w", err))
	}
	m.Normalize()
	applyAliases(&m)
	if err := m.Validate(); err != nil {
		return nil, schema.NewStageError(schema.StagePlan, schema.ErrSchemaViolation, err)
	}
	return &m, nil
}

func applyAliases(m *schema.Manifest) {
	alias := func(field string, v *string) {
		if to, ok := aliases[field][*v]; ok {
			*v = to
		}
	}
	alias("time_of_day", &m.Atmosphere.TimeOfDay)
	alias("weather", &m.Atmosphere.Weather)
	alias("season", &m.Atmosphere.Season)
	alias("vegetation_density", &m.Ecosystem.VegetationDensity)
	alias("wind_status", &m.Dynamics.WindStatus)
}
