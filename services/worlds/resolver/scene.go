// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

const sceneTemperature = 0.2

// Resolution modes reported in Resolution.Mode. ModeOracleFilled is an
// object oracle reply completed from grounding.
const (
	ModeGrounded     = "grounded"
	ModeOracle       = "oracle"
	ModeRefined      = "refined"
	ModeOracleFilled = "oracle+grounded"
)

// Request is the input of a scene resolution.
type Request struct {
	Instruction string
	Manifest    *schema.Manifest
}

// Resolution is a complete scene parameter set plus how it was produced.
type Resolution struct {
	Params      *schema.ParameterSet
	Mode        string
	Rules       []string
	Adjustments []Adjustment
}

// SceneOption configures a SceneResolver.
type SceneOption func(*SceneResolver)

// WithSceneOracle resolves through the generation oracle instead of the
// deterministic grounding tables.
func WithSceneOracle(client oracle.ChatClient) SceneOption {
	return func(r *SceneResolver) { r.client = client }
}

// SceneResolver produces parameter sets over schema.SceneSchema.
//
// Thread Safety: SceneResolver is safe for concurrent use.
type SceneResolver struct {
	client oracle.ChatClient
	logger *slog.Logger
}

// NewSceneResolver creates a resolver. Without WithSceneOracle it is fully
// deterministic and never fails on a valid manifest.
func NewSceneResolver(logger *slog.Logger, opts ...SceneOption) *SceneResolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &SceneResolver{logger: logger.With(slog.String("component", "resolver"))}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve runs a first pass: grounding (or the oracle), then consistency.
//
// Outputs:
//   - *Resolution: Complete, validated set.
//   - error: *schema.StageError for StageResolve with kind ErrOracle,
//     ErrParseFailure or ErrSchemaViolation. No set is produced on error.
func (r *SceneResolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	var (
		p    *schema.ParameterSet
		mode = ModeGrounded
		err  error
	)
	if r.client != nil {
		mode = ModeOracle
		if p, err = r.resolveWithOracle(ctx, req); err != nil {
			return nil, err
		}
	} else {
		p = GroundScene(req.Manifest, req.Instruction)
	}

	fired := EnforceConsistency(p, req.Manifest, req.Instruction)
	if err := p.Validate(); err != nil {
		return nil, schema.NewStageError(schema.StageResolve, schema.ErrSchemaViolation, err)
	}
	r.logger.Debug("resolver: scene resolved",
		slog.String("mode", mode),
		slog.Int("rules_fired", len(fired)))
	return &Resolution{Params: p, Mode: mode, Rules: fired}, nil
}

// Refine derives the next set from prev and fb. Non-actionable feedback
// (nil, valid, or empty) disables refinement and runs a first pass instead.
func (r *SceneResolver) Refine(ctx context.Context, req Request, prev *schema.ParameterSet, fb *schema.Feedback) (*Resolution, error) {
	if !fb.Actionable() || prev == nil {
		return r.Resolve(ctx, req)
	}
	next, adj, err := Refine(prev, fb)
	if err != nil {
		return nil, schema.NewStageError(schema.StageResolve, schema.ErrSchemaViolation, err)
	}
	fired := EnforceConsistency(next, req.Manifest, req.Instruction)
	if err := next.Validate(); err != nil {
		return nil, schema.NewStageError(schema.StageResolve, schema.ErrSchemaViolation, err)
	}
	r.logger.Info("resolver: scene refined",
		slog.Int("adjusted", len(adj)),
		slog.Int("rules_fired", len(fired)))
	return &Resolution{Params: next, Mode: ModeRefined, Rules: fired, Adjustments: adj}, nil
}

func (r *SceneResolver) resolveWithOracle(ctx context.Context, req Request) (*schema.ParameterSet, error) {
	m := req.Manifest
	if m == nil {
		m = &schema.Manifest{}
	}
	manifestJSON, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, schema.NewStageError(schema.StageResolve, schema.ErrParseFailure, fmt.Errorf("encoding manifest: %w", err))
	}
	system := sceneInput(manifestJSON, req.Instruction) + fmt.Sprintf(sceneSystemPrompt, schemaListing(schema.SceneSchema))

	reply, err := r.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: sceneUserPrompt},
	}, oracle.ChatOptions{Temperature: sceneTemperature, JSONMode: true})
	if err != nil {
		return nil, schema.NewStageError(schema.StageResolve, schema.ErrOracle, err)
	}
	return parseSceneReply(reply, r.logger)
}

// parseSceneReply enforces the flat twelve-key shape. Nothing is coerced.
func parseSceneReply(reply string, logger *slog.Logger) (*schema.ParameterSet, error) {
	var raw map[string]any
	if err := oracle.DecodeJSONObject(reply, &raw); err != nil {
		logger.Warn("resolver: unparseable oracle reply", slog.String("reply", llm.SafeLogString(reply)))
		return nil, schema.NewStageError(schema.StageResolve, schema.ErrParseFailure, err)
	}
	p, err := schema.ParseFlat(schema.SceneSchema, raw, schema.ProvenanceInferred)
	if err != nil {
		logger.Warn("resolver: oracle reply violates the scene schema", slog.String("error", err.Error()))
		return nil, schema.NewStageError(schema.StageResolve, schema.ErrSchemaViolation, err)
	}
	return p, nil
}
