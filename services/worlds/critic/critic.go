// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package critic asks a vision oracle whether rendered evidence matches the
// instruction and turns its verdict into schema.Feedback.
//
// Description:
//
//	ObjectCritic judges a front and a side render of a single asset.
//	MotionCritic judges a sequence of frames sampled from a simulation.
//	Both demand a JSON object {"valid": bool, "feedback": string}; a reply
//	without a boolean "valid" is a parse failure, never an implicit pass.
//
// Thread Safety:
//
//	Both critics are safe for concurrent use.
package critic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

const (
	critiqueTemperature = 0.0
	motionMaxTokens     = 300
)

// Report is the persisted form of a verdict, written as feedback.json.
type Report struct {
	Instruction string `json:"instruction"`
	FrontImage  string `json:"front_image,omitempty"`
	SideImage   string `json:"side_image,omitempty"`
	VideoPath   string `json:"video_path,omitempty"`
	Valid       bool   `json:"valid"`
	Feedback    string `json:"feedback"`
	JudgedAt    int64  `json:"judged_at,omitempty"`
}

// Verdict returns the report as schema.Feedback.
func (r Report) Verdict() schema.Feedback {
	return schema.Feedback{Valid: r.Valid, Message: r.Feedback}
}

// ObjectCritic judges an object from two views.
type ObjectCritic struct {
	client oracle.ChatClient
	logger *slog.Logger
}

// NewObjectCritic creates an object critic. client must accept images.
func NewObjectCritic(client oracle.ChatClient, logger *slog.Logger) *ObjectCritic {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectCritic{client: client, logger: logger.With(slog.String("component", "object_critic"))}
}

// Judge evaluates the front and side renders against instruction.
//
// Inputs:
//   - ctx: Context for the oracle call.
//   - instruction: The user's original text.
//   - front, side: Rendered views. Captions are overwritten.
//
// Outputs:
//   - schema.Feedback: The verdict. Message defaults to a generic note when
//     the oracle omitted it.
//   - error: *schema.StageError for StageCritique with ErrOracle or
//     ErrParseFailure.
func (c *ObjectCritic) Judge(ctx context.Context, instruction string, front, side llm.Image) (schema.Feedback, error) {
	front.Caption = "Front View:"
	side.Caption = "Side View:"
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: objectSystemPrompt},
		{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("User Instruction: %s\n\nPlease evaluate both the front view and side view:", instruction),
			Images:  []llm.Image{front, side},
		},
	}
	start := time.Now()
	reply, err := c.client.Chat(ctx, msgs, oracle.ChatOptions{Temperature: critiqueTemperature, JSONMode: true})
	if err != nil {
		return schema.Feedback{}, schema.NewStageError(schema.StageCritique, schema.ErrOracle, err)
	}
	fb, err := ParseVerdict(reply)
	if err != nil {
		c.logger.Warn("critic: unparseable verdict", slog.String("reply", llm.SafeLogString(reply)))
		return schema.Feedback{}, err
	}
	c.logger.Info("critic: object judged",
		slog.Bool("valid", fb.Valid),
		slog.Duration("duration", time.Since(start)))
	return fb, nil
}

// MotionCritic judges temporal dynamics from sampled frames.
type MotionCritic struct {
	client oracle.ChatClient
	logger *slog.Logger
}

// NewMotionCritic creates a motion critic.
func NewMotionCritic(client oracle.ChatClient, logger *slog.Logger) *MotionCritic {
	if logger == nil {
		logger = slog.Default()
	}
	return &MotionCritic{client: client, logger: logger.With(slog.String("component", "motion_critic"))}
}

// Judge evaluates frames, in temporal order, against instruction.
func (c *MotionCritic) Judge(ctx context.Context, instruction string, frames []llm.Image) (schema.Feedback, error) {
	if len(frames) == 0 {
		return schema.Feedback{}, schema.NewStageError(schema.StageCritique, schema.ErrMissingArtifact,
			errors.New("no frames to judge"))
	}
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: motionSystemPrompt},
		{Role: llm.RoleUser, Content: "User Instruction: " + instruction, Images: frames},
	}
	reply, err := c.client.Chat(ctx, msgs, oracle.ChatOptions{
		Temperature: critiqueTemperature,
		MaxTokens:   motionMaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		return schema.Feedback{}, schema.NewStageError(schema.StageCritique, schema.ErrOracle, err)
	}
	fb, err := ParseVerdict(reply)
	if err != nil {
		c.logger.Warn("critic: unparseable motion verdict", slog.String("reply", llm.SafeLogString(reply)))
		return schema.Feedback{}, err
	}
	c.logger.Info("critic: motion judged", slog.Bool("valid", fb.Valid), slog.Int("frames", len(frames)))
	return fb, nil
}

type wireVerdict struct {
	Valid    *bool  `json:"valid"`
	Feedback string `json:"feedback"`
}

// ParseVerdict decodes {"valid": bool, "feedback": string} from oracle text.
// Fenced blocks and surrounding prose are tolerated; a missing or
// non-boolean "valid" is ErrParseFailure.
func ParseVerdict(reply string) (schema.Feedback, error) {
	obj, err := oracle.ExtractJSONObject(reply)
	if err != nil {
		return schema.Feedback{}, schema.NewStageError(schema.StageCritique, schema.ErrParseFailure, err)
	}
	var w wireVerdict
	if err := json.Unmarshal(obj, &w); err != nil {
		return schema.Feedback{}, schema.NewStageError(schema.StageCritique, schema.ErrParseFailure,
			fmt.Errorf("verdict: %w", err))
	}
	if w.Valid == nil {
		return schema.Feedback{}, schema.NewStageError(schema.StageCritique, schema.ErrParseFailure,
			errors.New(`verdict: missing boolean "valid"`))
	}
	fb := schema.Feedback{Valid: *w.Valid, Message: strings.TrimSpace(w.Feedback)}
	if !fb.Valid && fb.Message == "" {
		fb.Message = "No feedback provided."
	}
	return fb, nil
}
