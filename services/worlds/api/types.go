// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/AleutianAI/AleutianWorlds/services/worlds/knowledge"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/resolver"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Stage    string `json:"stage,omitempty"`
	Producer string `json:"producer,omitempty"`
}

// InstructionRequest carries a single natural-language instruction.
type InstructionRequest struct {
	Instruction string `json:"instruction" binding:"required,max=4096"`
}

// SearchRequest queries the knowledge index.
type SearchRequest struct {
	Query string `json:"query" binding:"required,max=256"`
	TopK  int    `json:"top_k" binding:"omitempty,min=1,max=23"`
}

// SearchResponse lists matches, best first.
type SearchResponse struct {
	Matches []knowledge.Match `json:"matches"`
}

// ResolveRequest resolves scene parameters from a manifest. Previous and
// Feedback together request a refinement.
type ResolveRequest struct {
	Instruction string           `json:"instruction" binding:"max=4096"`
	Manifest    *schema.Manifest `json:"manifest" binding:"required"`
	Previous    map[string]any   `json:"previous,omitempty"`
	Feedback    *schema.Feedback `json:"feedback,omitempty"`
}

// ResolveResponse is a flat, validated scene parameter set.
type ResolveResponse struct {
	Params      map[string]float64    `json:"params"`
	Mode        string                `json:"mode"`
	Rules       []string              `json:"rules"`
	Adjustments []resolver.Adjustment `json:"adjustments"`
}

// ResolveObjectRequest resolves an object generator's parameters. An empty
// Entity runs extraction first.
type ResolveObjectRequest struct {
	Instruction string `json:"instruction" binding:"required,max=4096"`
	Entity      string `json:"entity" binding:"max=256"`
}

// ResolveObjectResponse carries the resolved set and its obj_param.txt text.
type ResolveObjectResponse struct {
	Entity  string             `json:"entity"`
	Factory string             `json:"factory"`
	Label   string             `json:"label"`
	Mode    string             `json:"mode"`
	Params  map[string]float64 `json:"params"`
	Text    string             `json:"text"`
}

// SynthesizeRequest compiles a flat scene parameter set into gin bindings.
type SynthesizeRequest struct {
	Instruction string           `json:"instruction" binding:"max=4096"`
	Params      map[string]any   `json:"params" binding:"required"`
	Manifest    *schema.Manifest `json:"manifest"`
}

// RunRequest starts a refinement run. Without Wait the run continues in
// the background and the reply carries its INIT checkpoint.
type RunRequest struct {
	Pipeline    string           `json:"pipeline" binding:"required,oneof=object scene"`
	Instruction string           `json:"instruction" binding:"required,max=4096"`
	Manifest    *schema.Manifest `json:"manifest,omitempty"`
	Wait        bool             `json:"wait"`
}

// HealthResponse reports liveness and what is configured.
type HealthResponse struct {
	Status string          `json:"status"`
	Stages map[string]bool `json:"stages"`
	Labels int             `json:"labels"`
}
