// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package controller

import (
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/render"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

// State is a refinement run state.
type State string

// Run states.
const (
	StateInit        State = "INIT"
	StateResolved    State = "RESOLVED"
	StateSynthesized State = "SYNTHESIZED"
	StateRendered    State = "RENDERED"
	StateCritiqued   State = "CRITIQUED"
	StateRefining    State = "REFINING"
	StateAccepted    State = "ACCEPTED"
	StateFailed      State = "FAILED"
)

// transitions is the complete table of allowed moves.
var transitions = map[State][]State{
	StateInit:        {StateResolved, StateFailed},
	StateResolved:    {StateSynthesized, StateFailed},
	StateSynthesized: {StateRendered, StateFailed},
	StateRendered:    {StateCritiqued, StateFailed},
	StateCritiqued:   {StateAccepted, StateRefining, StateFailed},
	StateRefining:    {StateResolved, StateFailed},
	StateAccepted:    nil,
	StateFailed:      nil,
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateAccepted || s == StateFailed }

// Transition validates a move. A disallowed move is a programming error.
func Transition(from, to State) error {
	allowed, known := transitions[from]
	if !known {
		return fmt.Errorf("controller: unknown state %q", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("controller: transition %s -> %s is not allowed", from, to)
}

// Pipeline selects which stage chain a run drives.
type Pipeline string

// Pipelines.
const (
	PipelineObject Pipeline = "object"
	PipelineScene  Pipeline = "scene"
)

// Failure reasons recorded in RunState.Reason.
const (
	ReasonExhausted = "max iterations exhausted"
	ReasonStalled   = "stalled"
	ReasonNoEntity  = "no key entity in instruction"
)

// Event is one recorded transition.
type Event struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Iteration int       `json:"iteration"`
	At        time.Time `json:"at"`
	Note      string    `json:"note,omitempty"`
}

// RunState is the durable record of one run.
//
// Description:
//
//	Iteration counts entries into REFINING and never exceeds MaxIterations.
//	LastParameters and LastFeedback survive a FAILED ending so the caller can
//	see what the loop last tried. Entity, Factory and Manifest are what the
//	resolver needs to resume without re-running upstream stages.
type RunState struct {
	RunID         string   `json:"run_id"`
	Pipeline      Pipeline `json:"pipeline"`
	Instruction   string   `json:"instruction"`
	State         State    `json:"state"`
	Iteration     int      `json:"iteration"`
	MaxIterations int      `json:"max_iterations"`
	StopOnStable  bool     `json:"stop_on_stable"`
	Reason        string   `json:"reason,omitempty"`

	Entity   string           `json:"entity,omitempty"`
	Factory  string           `json:"factory,omitempty"`
	Label    string           `json:"label,omitempty"`
	Manifest *schema.Manifest `json:"manifest,omitempty"`

	LastParameters *schema.ParameterSet `json:"last_parameters,omitempty"`
	LastFeedback   *schema.Feedback     `json:"last_feedback,omitempty"`
	Evidence       *render.Evidence     `json:"evidence,omitempty"`

	ArtifactDir string    `json:"artifact_dir,omitempty"`
	History     []Event   `json:"history"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Refinements returns how many times the run entered REFINING.
func (rs *RunState) Refinements() int {
	n := 0
	for _, e := range rs.History {
		if e.To == StateRefining {
			n++
		}
	}
	return n
}
