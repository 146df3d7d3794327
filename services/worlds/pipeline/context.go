// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline binds the stages of one deployment together.
//
// Description:
//
//	A Context is built once from configuration and passed to every stage
//	call. Each method runs one stage inside an OpenTelemetry span, records
//	stage metrics, and persists the stage's artifact through the store so
//	the next stage (or a later CLI invocation) can pick it up.
//
// Thread Safety:
//
//	A Context is safe for concurrent use by independent runs as long as each
//	run has its own artifact Store. Stages share only read-only state and
//	thread-safe oracle clients.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/artifacts"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/critic"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/intent"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/knowledge"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/planner"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/render"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/resolver"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/synthesizer"
)

// Stages holds the stage implementations. Fields a pipeline does not use
// may be nil; calling a stage whose implementation is nil is an error.
type Stages struct {
	Extractor    *intent.Extractor
	Index        knowledge.Searcher
	Planner      *planner.Planner
	Scene        *resolver.SceneResolver
	Object       *resolver.ObjectResolver
	Synthesizer  *synthesizer.Synthesizer
	ObjectCritic *critic.ObjectCritic
	MotionCritic *critic.MotionCritic
	Runner       render.Runner
}

// Context is the explicit per-deployment pipeline state.
type Context struct {
	Stages

	Store  *artifacts.Store
	Logger *slog.Logger

	// TopK bounds knowledge search results. The first match is used.
	TopK int

	// FrameCount and SkipFraction drive motion critique sampling.
	FrameCount   int
	SkipFraction float64
}

// New returns a Context with defaults applied.
func New(stages Stages, store *artifacts.Store, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		Stages:       stages,
		Store:        store,
		Logger:       logger,
		TopK:         1,
		FrameCount:   critic.DefaultFrameCount,
		SkipFraction: critic.DefaultSkipFraction,
	}
}

// WithStore returns a shallow copy writing to a different artifact store.
func (pc *Context) WithStore(store *artifacts.Store) *Context {
	cp := *pc
	cp.Store = store
	return &cp
}

// ErrNotConfigured is returned by a stage whose implementation is nil.
var ErrNotConfigured = errors.New("stage is not configured")

// run wraps one stage call in a span and records its metrics.
func (pc *Context) run(ctx context.Context, stage schema.Stage, attrs []attribute.KeyValue, fn func(ctx context.Context, span trace.Span) error) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline."+string(stage), trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := fn(ctx, span)
	status := "success"
	if err != nil {
		status = "error"
		stageErrorsTotal.WithLabelValues(string(stage), errorKind(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		pc.Logger.Warn("pipeline: stage failed",
			slog.String("stage", string(stage)),
			slog.String("error", err.Error()))
	}
	stageDuration.WithLabelValues(string(stage), status).Observe(time.Since(start).Seconds())
	return err
}

func missing(stage schema.Stage, what string) error {
	return schema.NewStageError(stage, ErrNotConfigured, errors.New(what))
}

// Extract selects the key entity and writes obj_select.json.
func (pc *Context) Extract(ctx context.Context, instruction string) (intent.Result, error) {
	var res intent.Result
	err := pc.run(ctx, schema.StageExtract, nil, func(ctx context.Context, span trace.Span) error {
		if pc.Extractor == nil {
			return missing(schema.StageExtract, "extractor")
		}
		var err error
		if res, err = pc.Extractor.Extract(ctx, instruction); err != nil {
			return err
		}
		span.SetAttributes(attribute.String("entity", res.Entity), attribute.Bool("none", res.IsNone()))
		return pc.Store.WriteSelection(res)
	})
	return res, err
}

// Search returns the best documentation match for entity. No match is
// ErrMissingCorpus for this stage.
func (pc *Context) Search(ctx context.Context, entity string) (knowledge.Match, error) {
	matches, err := pc.SearchTop(ctx, entity, pc.TopK)
	if err != nil {
		return knowledge.Match{}, err
	}
	return matches[0], nil
}

// SearchTop returns up to topK matches, best first, and at least one on
// success.
func (pc *Context) SearchTop(ctx context.Context, entity string, topK int) ([]knowledge.Match, error) {
	var matches []knowledge.Match
	err := pc.run(ctx, schema.StageSearch, []attribute.KeyValue{attribute.String("query", entity)},
		func(ctx context.Context, span trace.Span) error {
			if pc.Index == nil {
				return missing(schema.StageSearch, "knowledge index")
			}
			var err error
			matches, err = pc.Index.Search(ctx, entity, max(topK, 1))
			if err != nil {
				return schema.NewStageError(schema.StageSearch, schema.ErrMissingCorpus, err)
			}
			if len(matches) == 0 {
				return schema.NewStageError(schema.StageSearch, schema.ErrMissingCorpus,
					fmt.Errorf("no documentation matches %q", entity))
			}
			span.SetAttributes(
				attribute.String("canonical_name", matches[0].CanonicalName),
				attribute.Float64("confidence", matches[0].Confidence),
				attribute.Int("matches", len(matches)))
			return nil
		})
	return matches, err
}

// Plan writes manifest.json.
func (pc *Context) Plan(ctx context.Context, instruction string) (*schema.Manifest, error) {
	var m *schema.Manifest
	err := pc.run(ctx, schema.StagePlan, nil, func(ctx context.Context, _ trace.Span) error {
		if pc.Planner == nil {
			return missing(schema.StagePlan, "planner")
		}
		var err error
		if m, err = pc.Planner.Plan(ctx, instruction); err != nil {
			return err
		}
		return pc.Store.WriteManifest(m)
	})
	return m, err
}

// ResolveScene runs a first pass, or a refinement when fb is actionable,
// and writes scene_params.json.
func (pc *Context) ResolveScene(ctx context.Context, instruction string, m *schema.Manifest, prev *schema.ParameterSet, fb *schema.Feedback) (*resolver.Resolution, error) {
	var res *resolver.Resolution
	err := pc.run(ctx, schema.StageResolve, []attribute.KeyValue{attribute.Bool("refine", fb.Actionable())},
		func(ctx context.Context, span trace.Span) error {
			if pc.Scene == nil {
				return missing(schema.StageResolve, "scene resolver")
			}
			req := resolver.Request{Instruction: instruction, Manifest: m}
			var err error
			if res, err = pc.Scene.Refine(ctx, req, prev, fb); err != nil {
				return err
			}
			span.SetAttributes(attribute.String("mode", res.Mode), attribute.Int("adjusted", len(res.Adjustments)))
			return pc.Store.WriteSceneParams(res.Params)
		})
	return res, err
}

// ResolveObject resolves the entity's parameters over its declared schema.
func (pc *Context) ResolveObject(ctx context.Context, instruction string, match knowledge.Match) (*resolver.ObjectResult, error) {
	var res *resolver.ObjectResult
	err := pc.run(ctx, schema.StageResolve, []attribute.KeyValue{attribute.String("factory", match.CanonicalName)},
		func(ctx context.Context, span trace.Span) error {
			if pc.Object == nil {
				return missing(schema.StageResolve, "object resolver")
			}
			var err error
			if res, err = pc.Object.ResolveObject(ctx, instruction, match); err != nil {
				return err
			}
			span.SetAttributes(attribute.String("mode", res.Mode))
			return nil
		})
	return res, err
}

// RefineObject applies feedback to prev.
func (pc *Context) RefineObject(ctx context.Context, prev *resolver.ObjectResult, fb *schema.Feedback) (*resolver.ObjectResult, error) {
	var res *resolver.ObjectResult
	err := pc.run(ctx, schema.StageResolve, []attribute.KeyValue{attribute.Bool("refine", true)},
		func(_ context.Context, span trace.Span) error {
			if pc.Object == nil {
				return missing(schema.StageResolve, "object resolver")
			}
			next, adj, err := pc.Object.RefineObject(prev, fb)
			if err != nil {
				return err
			}
			res = next
			span.SetAttributes(attribute.Int("adjusted", len(adj)))
			return nil
		})
	return res, err
}

// SynthesizeObject writes obj_param.txt for res.
func (pc *Context) SynthesizeObject(ctx context.Context, instruction string, res *resolver.ObjectResult) (*schema.ConfigArtifact, error) {
	var art *schema.ConfigArtifact
	err := pc.run(ctx, schema.StageSynthesize, []attribute.KeyValue{attribute.String("factory", res.Factory)},
		func(context.Context, trace.Span) error {
			var err error
			if art, err = synthesizer.RenderObjectParams(instruction, res.Label, res.Factory, res.Params); err != nil {
				return schema.NewStageError(schema.StageSynthesize, schema.ErrSchemaViolation, err)
			}
			return pc.Store.WriteConfig(artifacts.ObjectParamsFile, art)
		})
	return art, err
}

// SynthesizeScene compiles params into scene.gin.
func (pc *Context) SynthesizeScene(ctx context.Context, instruction string, params *schema.ParameterSet, m *schema.Manifest) (*schema.ConfigArtifact, error) {
	var art *schema.ConfigArtifact
	err := pc.run(ctx, schema.StageSynthesize, nil, func(ctx context.Context, span trace.Span) error {
		if pc.Synthesizer == nil {
			return missing(schema.StageSynthesize, "synthesizer")
		}
		var err error
		if art, err = pc.Synthesizer.Synthesize(ctx, params, m, instruction); err != nil {
			return err
		}
		span.SetAttributes(
			attribute.Int("assignments", len(art.Assignments)),
			attribute.Int("unmapped", len(art.Unmapped)))
		return pc.Store.WriteConfig(artifacts.SceneGinFile, art)
	})
	return art, err
}

// Render hands the current config of kind to the runner. The config file
// must already exist.
func (pc *Context) Render(ctx context.Context, kind render.Kind, outDir string) (render.Evidence, error) {
	var ev render.Evidence
	err := pc.run(ctx, schema.StageRender, []attribute.KeyValue{attribute.String("kind", string(kind))},
		func(ctx context.Context, _ trace.Span) error {
			if pc.Runner == nil {
				return missing(schema.StageRender, "render runner")
			}
			name := artifacts.ObjectParamsFile
			if kind == render.KindScene {
				name = artifacts.SceneGinFile
			}
			if !pc.Store.Exists(name) {
				return schema.NewStageError(schema.StageRender, schema.ErrMissingArtifact,
					&schema.MissingArtifactError{Path: pc.Store.Path(name), Producer: schema.StageSynthesize})
			}
			var err error
			ev, err = pc.Runner.Render(ctx, render.Request{Kind: kind, ConfigPath: pc.Store.Path(name), OutDir: outDir})
			return err
		})
	return ev, err
}

// CritiqueObject judges front and side views and writes feedback.json.
func (pc *Context) CritiqueObject(ctx context.Context, instruction string, ev render.Evidence) (schema.Feedback, error) {
	var fb schema.Feedback
	err := pc.run(ctx, schema.StageCritique, []attribute.KeyValue{attribute.String("critic", "object")},
		func(ctx context.Context, span trace.Span) error {
			if pc.ObjectCritic == nil {
				return missing(schema.StageCritique, "object critic")
			}
			front, err := llm.LoadImage(ev.Front, "")
			if err != nil {
				return schema.NewStageError(schema.StageCritique, schema.ErrMissingArtifact, err)
			}
			side, err := llm.LoadImage(ev.Side, "")
			if err != nil {
				return schema.NewStageError(schema.StageCritique, schema.ErrMissingArtifact, err)
			}
			if fb, err = pc.ObjectCritic.Judge(ctx, instruction, front, side); err != nil {
				return err
			}
			span.SetAttributes(attribute.Bool("valid", fb.Valid))
			return pc.Store.WriteFeedback(critic.Report{
				Instruction: instruction,
				FrontImage:  ev.Front,
				SideImage:   ev.Side,
				Valid:       fb.Valid,
				Feedback:    fb.Message,
				JudgedAt:    time.Now().Unix(),
			})
		})
	return fb, err
}

// CritiqueMotion samples frames from the evidence and writes feedback.json.
func (pc *Context) CritiqueMotion(ctx context.Context, instruction string, ev render.Evidence) (schema.Feedback, error) {
	var fb schema.Feedback
	err := pc.run(ctx, schema.StageCritique, []attribute.KeyValue{attribute.String("critic", "motion")},
		func(ctx context.Context, span trace.Span) error {
			if pc.MotionCritic == nil {
				return missing(schema.StageCritique, "motion critic")
			}
			paths, err := critic.SampleFrames(ev.FramesDir, pc.FrameCount, pc.SkipFraction)
			if err != nil {
				return err
			}
			frames, err := critic.LoadFrames(paths)
			if err != nil {
				return err
			}
			if fb, err = pc.MotionCritic.Judge(ctx, instruction, frames); err != nil {
				return err
			}
			span.SetAttributes(attribute.Bool("valid", fb.Valid), attribute.Int("frames", len(frames)))
			video := ev.VideoPath
			if video == "" {
				video = ev.FramesDir
			}
			return pc.Store.WriteFeedback(critic.Report{
				Instruction: instruction,
				VideoPath:   video,
				Valid:       fb.Valid,
				Feedback:    fb.Message,
				JudgedAt:    time.Now().Unix(),
			})
		})
	return fb, err
}
