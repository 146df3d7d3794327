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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/artifacts"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/pipeline"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/render"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/resolver"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

// DefaultMaxIterations bounds refinements when no option overrides it.
const DefaultMaxIterations = 3

// Options tune the refinement loop.
type Options struct {
	// MaxIterations is the number of REFINING entries allowed before the
	// run fails as exhausted. Zero allows a single critique with no
	// refinement; a negative value selects DefaultMaxIterations.
	MaxIterations int

	// StopOnStable fails the run as stalled when a refinement produces the
	// same values it was given.
	StopOnStable bool

	// IsolateRuns places each run's artifacts under <store dir>/<run id>.
	// The HTTP server sets it; the CLI works in one directory.
	IsolateRuns bool
}

// Controller drives runs through the state machine and checkpoints every
// transition.
//
// Description:
//
//	The loop is state driven: each step looks only at RunState, performs
//	the stage that leaves the current state, and records the transition.
//	Resume therefore picks up from any checkpoint. Stage failures end the
//	run in FAILED with the error text as Reason; only checkpoint failures
//	and illegal transitions are returned as errors.
//
// Thread Safety: Safe for concurrent runs when IsolateRuns is set or each
// caller supplies its own artifact directory.
type Controller struct {
	pc          *pipeline.Context
	checkpoints CheckpointStore
	opts        Options
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Controller. A nil logger uses slog.Default().
func New(pc *pipeline.Context, checkpoints CheckpointStore, opts Options, logger *slog.Logger) *Controller {
	if opts.MaxIterations < 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		pc:          pc,
		checkpoints: checkpoints,
		opts:        opts,
		logger:      logger.With(slog.String("component", "controller")),
		now:         time.Now,
	}
}

// Start records a new run in INIT without driving it.
func (c *Controller) Start(ctx context.Context, p Pipeline, instruction string) (*RunState, error) {
	if p != PipelineObject && p != PipelineScene {
		return nil, fmt.Errorf("controller: unknown pipeline %q", p)
	}
	now := c.now().UTC()
	rs := &RunState{
		RunID:         uuid.NewString(),
		Pipeline:      p,
		Instruction:   instruction,
		State:         StateInit,
		MaxIterations: c.opts.MaxIterations,
		StopOnStable:  c.opts.StopOnStable,
		History:       []Event{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	rs.ArtifactDir = c.pc.Store.Dir()
	if c.opts.IsolateRuns {
		rs.ArtifactDir = filepath.Join(c.pc.Store.Dir(), rs.RunID)
	}
	if err := c.save(ctx, c.contextFor(rs), rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// RunObject starts and drives an object run to a terminal state.
func (c *Controller) RunObject(ctx context.Context, instruction string) (*RunState, error) {
	return c.run(ctx, PipelineObject, instruction)
}

// RunScene starts and drives a scene run to a terminal state.
func (c *Controller) RunScene(ctx context.Context, instruction string) (*RunState, error) {
	return c.run(ctx, PipelineScene, instruction)
}

// RunSceneWithManifest drives a scene run whose manifest is already known,
// skipping the planner.
func (c *Controller) RunSceneWithManifest(ctx context.Context, instruction string, m *schema.Manifest) (*RunState, error) {
	rs, err := c.Start(ctx, PipelineScene, instruction)
	if err != nil {
		return nil, err
	}
	rs.Manifest = m
	return c.Drive(ctx, rs)
}

func (c *Controller) run(ctx context.Context, p Pipeline, instruction string) (*RunState, error) {
	rs, err := c.Start(ctx, p, instruction)
	if err != nil {
		return nil, err
	}
	return c.Drive(ctx, rs)
}

// Resume loads a checkpoint and drives it to a terminal state. Terminal
// runs are returned unchanged.
func (c *Controller) Resume(ctx context.Context, runID string) (*RunState, error) {
	rs, err := c.checkpoints.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rs.State.Terminal() {
		return rs, nil
	}
	c.logger.Info("Resuming run",
		slog.String("run_id", rs.RunID),
		slog.String("state", string(rs.State)),
		slog.Int("iteration", rs.Iteration))
	return c.Drive(ctx, rs)
}

// Get returns the checkpoint of one run.
func (c *Controller) Get(ctx context.Context, runID string) (*RunState, error) {
	return c.checkpoints.Load(ctx, runID)
}

// List returns all checkpoints, newest first.
func (c *Controller) List(ctx context.Context) ([]*RunState, error) {
	return c.checkpoints.List(ctx)
}

// Drive steps rs until it reaches ACCEPTED or FAILED.
func (c *Controller) Drive(ctx context.Context, rs *RunState) (*RunState, error) {
	pc := c.contextFor(rs)
	runsActive.Inc()
	defer runsActive.Dec()

	for !rs.State.Terminal() {
		if err := ctx.Err(); err != nil {
			if terr := c.advance(ctx, pc, rs, StateFailed, "canceled: "+err.Error()); terr != nil {
				return rs, terr
			}
			break
		}
		next, note, stageErr := c.step(ctx, pc, rs)
		if stageErr != nil {
			c.logger.Warn("Stage failed",
				slog.String("run_id", rs.RunID),
				slog.String("state", string(rs.State)),
				slog.String("error", stageErr.Error()))
			next, note = StateFailed, stageErr.Error()
		}
		if err := c.advance(ctx, pc, rs, next, note); err != nil {
			return rs, err
		}
	}

	runsTotal.WithLabelValues(string(rs.Pipeline), outcome(rs)).Inc()
	runIterations.Observe(float64(rs.Iteration))
	c.logger.Info("Run finished",
		slog.String("run_id", rs.RunID),
		slog.String("state", string(rs.State)),
		slog.Int("iterations", rs.Iteration),
		slog.String("reason", rs.Reason))
	return rs, nil
}

// step performs the work that leaves rs.State and returns the next state.
// A non-empty note on a move to FAILED becomes the run's Reason.
func (c *Controller) step(ctx context.Context, pc *pipeline.Context, rs *RunState) (State, string, error) {
	switch rs.State {
	case StateInit:
		if rs.Pipeline == PipelineObject {
			return c.resolveObject(ctx, pc, rs)
		}
		return c.resolveScene(ctx, pc, rs)
	case StateRefining:
		return c.refine(ctx, pc, rs)
	case StateResolved:
		return c.synthesize(ctx, pc, rs)
	case StateSynthesized:
		return c.render(ctx, pc, rs)
	case StateRendered:
		return c.critique(ctx, pc, rs)
	case StateCritiqued:
		return c.decide(rs)
	}
	return "", "", fmt.Errorf("controller: no step leaves state %s", rs.State)
}

func (c *Controller) resolveObject(ctx context.Context, pc *pipeline.Context, rs *RunState) (State, string, error) {
	sel, err := pc.Extract(ctx, rs.Instruction)
	if err != nil {
		return "", "", err
	}
	if sel.IsNone() {
		return StateFailed, ReasonNoEntity, nil
	}
	match, err := pc.Search(ctx, sel.Entity)
	if err != nil {
		return "", "", err
	}
	res, err := pc.ResolveObject(ctx, rs.Instruction, match)
	if err != nil {
		return "", "", err
	}
	rs.Entity = sel.Entity
	rs.Factory = res.Factory
	rs.Label = res.Label
	rs.LastParameters = res.Params
	return StateResolved, res.Mode, nil
}

func (c *Controller) resolveScene(ctx context.Context, pc *pipeline.Context, rs *RunState) (State, string, error) {
	if rs.Manifest == nil {
		m, err := pc.Plan(ctx, rs.Instruction)
		if err != nil {
			return "", "", err
		}
		rs.Manifest = m
	}
	res, err := pc.ResolveScene(ctx, rs.Instruction, rs.Manifest, nil, nil)
	if err != nil {
		return "", "", err
	}
	rs.LastParameters = res.Params
	return StateResolved, res.Mode, nil
}

func (c *Controller) refine(ctx context.Context, pc *pipeline.Context, rs *RunState) (State, string, error) {
	prev := rs.LastParameters
	if prev == nil {
		return "", "", schema.NewStageError(schema.StageResolve, schema.ErrMissingArtifact,
			errors.New("no previous parameters to refine"))
	}
	var next *schema.ParameterSet
	switch rs.Pipeline {
	case PipelineObject:
		res, err := pc.RefineObject(ctx, c.objectResult(rs), rs.LastFeedback)
		if err != nil {
			return "", "", err
		}
		next = res.Params
	default:
		res, err := pc.ResolveScene(ctx, rs.Instruction, rs.Manifest, prev, rs.LastFeedback)
		if err != nil {
			return "", "", err
		}
		next = res.Params
	}
	if rs.StopOnStable && next.SameValues(prev) {
		return StateFailed, ReasonStalled, nil
	}
	rs.LastParameters = next
	return StateResolved, "", nil
}

func (c *Controller) synthesize(ctx context.Context, pc *pipeline.Context, rs *RunState) (State, string, error) {
	var err error
	if rs.Pipeline == PipelineObject {
		_, err = pc.SynthesizeObject(ctx, rs.Instruction, c.objectResult(rs))
	} else {
		_, err = pc.SynthesizeScene(ctx, rs.Instruction, rs.LastParameters, rs.Manifest)
	}
	if err != nil {
		return "", "", err
	}
	return StateSynthesized, "", nil
}

func (c *Controller) render(ctx context.Context, pc *pipeline.Context, rs *RunState) (State, string, error) {
	kind := render.KindScene
	if rs.Pipeline == PipelineObject {
		kind = render.KindObject
	}
	outDir := filepath.Join(rs.ArtifactDir, "render", fmt.Sprintf("iter_%02d", rs.Iteration))
	ev, err := pc.Render(ctx, kind, outDir)
	if err != nil {
		return "", "", err
	}
	rs.Evidence = &ev
	return StateRendered, "", nil
}

func (c *Controller) critique(ctx context.Context, pc *pipeline.Context, rs *RunState) (State, string, error) {
	if rs.Evidence == nil {
		return "", "", schema.NewStageError(schema.StageCritique, schema.ErrMissingArtifact,
			&schema.MissingArtifactError{Path: filepath.Join(rs.ArtifactDir, "render"), Producer: schema.StageRender})
	}
	var (
		fb  schema.Feedback
		err error
	)
	if rs.Pipeline == PipelineObject {
		fb, err = pc.CritiqueObject(ctx, rs.Instruction, *rs.Evidence)
	} else {
		fb, err = pc.CritiqueMotion(ctx, rs.Instruction, *rs.Evidence)
	}
	if err != nil {
		return "", "", err
	}
	rs.LastFeedback = &fb
	return StateCritiqued, "", nil
}

// decide never calls a stage: an accepted verdict ends the run without a
// further resolver call.
func (c *Controller) decide(rs *RunState) (State, string, error) {
	switch {
	case rs.LastFeedback != nil && rs.LastFeedback.Valid:
		return StateAccepted, "", nil
	case rs.Iteration >= rs.MaxIterations:
		return StateFailed, ReasonExhausted, nil
	default:
		note := ""
		if rs.LastFeedback != nil {
			note = rs.LastFeedback.Message
		}
		return StateRefining, note, nil
	}
}

func (c *Controller) objectResult(rs *RunState) *resolver.ObjectResult {
	return &resolver.ObjectResult{Factory: rs.Factory, Label: rs.Label, Params: rs.LastParameters}
}

// advance validates and records one transition, then checkpoints.
func (c *Controller) advance(ctx context.Context, pc *pipeline.Context, rs *RunState, to State, note string) error {
	if err := Transition(rs.State, to); err != nil {
		return err
	}
	if to == StateRefining {
		rs.Iteration++
	}
	if to == StateFailed {
		rs.Reason = note
	}
	now := c.now().UTC()
	rs.History = append(rs.History, Event{From: rs.State, To: to, Iteration: rs.Iteration, At: now, Note: note})
	rs.State = to
	rs.UpdatedAt = now
	transitionsTotal.WithLabelValues(string(to)).Inc()

	c.logger.Debug("Transition",
		slog.String("run_id", rs.RunID),
		slog.String("from", string(rs.History[len(rs.History)-1].From)),
		slog.String("to", string(to)),
		slog.Int("iteration", rs.Iteration))
	return c.save(ctx, pc, rs)
}

// save writes the checkpoint and mirrors it to run_state.json. It ignores
// cancellation so the FAILED record of a canceled run still lands.
func (c *Controller) save(ctx context.Context, pc *pipeline.Context, rs *RunState) error {
	ctx = context.WithoutCancel(ctx)
	if err := c.checkpoints.Save(ctx, rs); err != nil {
		return fmt.Errorf("controller: checkpoint %s: %w", rs.RunID, err)
	}
	if err := pc.Store.WriteJSON(artifacts.RunStateFile, rs); err != nil {
		return fmt.Errorf("controller: mirror %s: %w", artifacts.RunStateFile, err)
	}
	return nil
}

func (c *Controller) contextFor(rs *RunState) *pipeline.Context {
	if rs.ArtifactDir == "" || rs.ArtifactDir == c.pc.Store.Dir() {
		return c.pc
	}
	return c.pc.WithStore(artifacts.NewStore(rs.ArtifactDir, c.logger))
}

func outcome(rs *RunState) string {
	switch {
	case rs.State == StateAccepted:
		return "accepted"
	case rs.Reason == ReasonStalled:
		return "stalled"
	case rs.Reason == ReasonExhausted:
		return "exhausted"
	default:
		return "failed"
	}
}
