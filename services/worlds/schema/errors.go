// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// Error kinds shared by every stage. Callers test them with errors.Is; a
// *StageError carries the kind alongside the underlying cause.
var (
	// ErrParseFailure means oracle output did not match the expected grammar.
	ErrParseFailure = errors.New("parse failure")

	// ErrSchemaViolation means a key or value fell outside the closed schema.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrMissingCorpus means the knowledge index has no backing documentation.
	// Searches never return it; it is only used for diagnostics.
	ErrMissingCorpus = errors.New("missing corpus")

	// ErrMissingArtifact means a required upstream artifact does not exist.
	ErrMissingArtifact = errors.New("missing artifact")

	// ErrOracle covers transport, quota and timeout failures from an oracle.
	ErrOracle = errors.New("oracle error")
)

// Stage names a pipeline stage for error reporting and metrics labels.
type Stage string

// Pipeline stages.
const (
	StageExtract    Stage = "extract"
	StageSearch     Stage = "search"
	StagePlan       Stage = "plan"
	StageResolve    Stage = "resolve"
	StageSynthesize Stage = "synthesize"
	StageRender     Stage = "render"
	StageCritique   Stage = "critique"
)

// StageError attributes a failure to a stage and an error kind.
//
// Description:
//
//	Both Kind and Err participate in errors.Is / errors.As, so
//	errors.Is(err, ErrSchemaViolation) works regardless of how deeply the
//	StageError is wrapped.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

// NewStageError builds a StageError. A nil err yields a StageError whose
// message is the kind alone.
func NewStageError(stage Stage, kind error, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// MissingArtifactError names the absent file and the stage that produces it.
type MissingArtifactError struct {
	Path     string
	Producer Stage
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("required artifact %s not found (run the %q stage first)", e.Path, e.Producer)
}

// Is reports kind equality so errors.Is(err, ErrMissingArtifact) holds.
func (e *MissingArtifactError) Is(target error) bool {
	return target == ErrMissingArtifact
}

// Violation describes one schema breach.
type Violation struct {
	Key    Key
	Reason string
}

// ViolationError aggregates every breach found during validation.
type ViolationError struct {
	Schema     string
	Violations []Violation
}

func (e *ViolationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Key, v.Reason))
	}
	return fmt.Sprintf("schema %q: %s", e.Schema, strings.Join(parts, "; "))
}

// Is reports kind equality so errors.Is(err, ErrSchemaViolation) holds.
func (e *ViolationError) Is(target error) bool {
	return target == ErrSchemaViolation
}
