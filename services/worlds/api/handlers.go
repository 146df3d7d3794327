// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the pipeline stages and refinement runs over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/artifacts"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/controller"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/pipeline"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

// Handlers serves the /v1/worlds endpoints.
//
// Description:
//
//	Stage endpoints work in a scratch artifact directory per request that
//	is removed afterwards; the reply body is the result. Runs go through
//	the Controller, which checkpoints them in BadgerDB, and at most
//	maxRuns drive at once.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	pc     *pipeline.Context
	ctl    *controller.Controller
	logger *slog.Logger

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	base   context.Context
	cancel context.CancelFunc
}

// NewHandlers creates handlers. maxRuns below one is treated as one.
func NewHandlers(pc *pipeline.Context, ctl *controller.Controller, maxRuns int64, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRuns < 1 {
		maxRuns = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &Handlers{
		pc:     pc,
		ctl:    ctl,
		logger: logger.With(slog.String("component", "api")),
		sem:    semaphore.NewWeighted(maxRuns),
		base:   base,
		cancel: cancel,
	}
}

// Shutdown cancels background runs and waits for them to checkpoint their
// final state, or for ctx to expire.
func (h *Handlers) Shutdown(ctx context.Context) error {
	h.cancel()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, err error) {
	status, resp := errorResponse(err)
	logger.Warn("request failed",
		slog.Int("status", status),
		slog.String("code", resp.Code),
		slog.String("error", err.Error()))
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
}

// scratch returns a pipeline bound to a temporary artifact directory.
func (h *Handlers) scratch() (*pipeline.Context, func(), error) {
	dir, err := os.MkdirTemp("", "worlds-req-*")
	if err != nil {
		return nil, nil, err
	}
	return h.pc.WithStore(artifacts.NewStore(dir, h.logger)), func() { _ = os.RemoveAll(dir) }, nil
}

// HandleExtract handles POST /v1/worlds/extract.
//
// Response:
//
//	200 OK: {"key_obj": string|null, "reason": string}
//	400 Bad Request: Missing instruction
//	502 Bad Gateway: Oracle unavailable
func (h *Handlers) HandleExtract(c *gin.Context) {
	logger := h.logger.With("request_id", requestID(c), "handler", "HandleExtract")
	var req InstructionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pc, cleanup, err := h.scratch()
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	defer cleanup()

	res, err := pc.Extract(c.Request.Context(), req.Instruction)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, res.Selection())
}

// HandleSearch handles POST /v1/worlds/search.
//
// Response:
//
//	200 OK: SearchResponse
//	404 Not Found: No documentation matches the query
func (h *Handlers) HandleSearch(c *gin.Context) {
	logger := h.logger.With("request_id", requestID(c), "handler", "HandleSearch")
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	topK := req.TopK
	if topK == 0 {
		topK = h.pc.TopK
	}
	matches, err := h.pc.SearchTop(c.Request.Context(), req.Query, topK)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, SearchResponse{Matches: matches})
}

// HandlePlan handles POST /v1/worlds/plan and returns the manifest.
func (h *Handlers) HandlePlan(c *gin.Context) {
	logger := h.logger.With("request_id", requestID(c), "handler", "HandlePlan")
	var req InstructionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pc, cleanup, err := h.scratch()
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	defer cleanup()

	m, err := pc.Plan(c.Request.Context(), req.Instruction)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// HandleResolve handles POST /v1/worlds/resolve.
//
// Description:
//
//	With previous and feedback set, the previous values are refined;
//	otherwise the manifest is resolved from scratch. Unknown keys or
//	out-of-range values in previous are a 422.
func (h *Handlers) HandleResolve(c *gin.Context) {
	logger := h.logger.With("request_id", requestID(c), "handler", "HandleResolve")
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.Manifest.Normalize()
	if err := req.Manifest.Validate(); err != nil {
		h.fail(c, logger, schema.NewStageError(schema.StagePlan, schema.ErrSchemaViolation, err))
		return
	}
	var prev *schema.ParameterSet
	if req.Previous != nil {
		p, err := schema.ParseFlat(schema.SceneSchema, req.Previous, schema.ProvenanceCarriedOver)
		if err != nil {
			h.fail(c, logger, schema.NewStageError(schema.StageResolve, schema.ErrSchemaViolation, err))
			return
		}
		prev = p
	}
	pc, cleanup, err := h.scratch()
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	defer cleanup()

	res, err := pc.ResolveScene(c.Request.Context(), req.Instruction, req.Manifest, prev, req.Feedback)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ResolveResponse{
		Params:      res.Params.Flat(),
		Mode:        res.Mode,
		Rules:       nonNil(res.Rules),
		Adjustments: res.Adjustments,
	})
}

// HandleResolveObject handles POST /v1/worlds/resolve_object.
func (h *Handlers) HandleResolveObject(c *gin.Context) {
	logger := h.logger.With("request_id", requestID(c), "handler", "HandleResolveObject")
	var req ResolveObjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pc, cleanup, err := h.scratch()
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	defer cleanup()
	ctx := c.Request.Context()

	entity := req.Entity
	if entity == "" {
		sel, err := pc.Extract(ctx, req.Instruction)
		if err != nil {
			h.fail(c, logger, err)
			return
		}
		if sel.IsNone() {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error: "instruction names no key entity",
				Code:  "NO_ENTITY",
				Stage: string(schema.StageExtract),
			})
			return
		}
		entity = sel.Entity
	}
	match, err := pc.Search(ctx, entity)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	res, err := pc.ResolveObject(ctx, req.Instruction, match)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	art, err := pc.SynthesizeObject(ctx, req.Instruction, res)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ResolveObjectResponse{
		Entity:  entity,
		Factory: res.Factory,
		Label:   res.Label,
		Mode:    res.Mode,
		Params:  res.Params.Flat(),
		Text:    art.Text,
	})
}

// HandleSynthesize handles POST /v1/worlds/synthesize and returns the
// compiled gin artifact.
func (h *Handlers) HandleSynthesize(c *gin.Context) {
	logger := h.logger.With("request_id", requestID(c), "handler", "HandleSynthesize")
	var req SynthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	params, err := schema.ParseFlat(schema.SceneSchema, req.Params, schema.ProvenanceCarriedOver)
	if err != nil {
		h.fail(c, logger, schema.NewStageError(schema.StageSynthesize, schema.ErrSchemaViolation, err))
		return
	}
	m := req.Manifest
	if m == nil {
		m = &schema.Manifest{}
	}
	m.Normalize()
	pc, cleanup, err := h.scratch()
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	defer cleanup()

	art, err := pc.SynthesizeScene(c.Request.Context(), req.Instruction, params, m)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, art)
}

// HandleCreateRun handles POST /v1/worlds/runs.
//
// Response:
//
//	200 OK: Final RunState (wait=true)
//	202 Accepted: INIT RunState; poll GET /v1/worlds/runs/:id
//	503 Service Unavailable: Shutting down
func (h *Handlers) HandleCreateRun(c *gin.Context) {
	logger := h.logger.With("request_id", requestID(c), "handler", "HandleCreateRun")
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Manifest != nil {
		req.Manifest.Normalize()
		if err := req.Manifest.Validate(); err != nil {
			h.fail(c, logger, schema.NewStageError(schema.StagePlan, schema.ErrSchemaViolation, err))
			return
		}
	}
	rs, err := h.ctl.Start(c.Request.Context(), controller.Pipeline(req.Pipeline), req.Instruction)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	rs.Manifest = req.Manifest
	logger.Info("run created",
		slog.String("run_id", rs.RunID),
		slog.String("pipeline", req.Pipeline),
		slog.Bool("wait", req.Wait))
	h.drive(c, logger, rs, req.Wait)
}

// HandleResumeRun handles POST /v1/worlds/runs/:id/resume. Query wait=true
// blocks until the run ends.
func (h *Handlers) HandleResumeRun(c *gin.Context) {
	logger := h.logger.With("request_id", requestID(c), "handler", "HandleResumeRun")
	rs, err := h.ctl.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	if rs.State.Terminal() {
		c.JSON(http.StatusOK, rs)
		return
	}
	h.drive(c, logger, rs, c.Query("wait") == "true")
}

func (h *Handlers) drive(c *gin.Context, logger *slog.Logger, rs *controller.RunState, wait bool) {
	if h.base.Err() != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: errShuttingDown.Error(), Code: "SHUTTING_DOWN"})
		return
	}
	if wait {
		if err := h.sem.Acquire(c.Request.Context(), 1); err != nil {
			h.fail(c, logger, err)
			return
		}
		defer h.sem.Release(1)
		final, err := h.ctl.Drive(c.Request.Context(), rs)
		if err != nil {
			h.fail(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, final)
		return
	}

	c.JSON(http.StatusAccepted, rs)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.sem.Acquire(h.base, 1); err != nil {
			logger.Warn("run not started", slog.String("run_id", rs.RunID), slog.String("error", err.Error()))
			return
		}
		defer h.sem.Release(1)
		if _, err := h.ctl.Drive(h.base, rs); err != nil {
			logger.Error("run aborted", slog.String("run_id", rs.RunID), slog.String("error", err.Error()))
		}
	}()
}

// HandleGetRun handles GET /v1/worlds/runs/:id.
func (h *Handlers) HandleGetRun(c *gin.Context) {
	logger := h.logger.With("request_id", requestID(c), "handler", "HandleGetRun")
	rs, err := h.ctl.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, rs)
}

// HandleListRuns handles GET /v1/worlds/runs, newest first.
func (h *Handlers) HandleListRuns(c *gin.Context) {
	logger := h.logger.With("request_id", requestID(c), "handler", "HandleListRuns")
	runs, err := h.ctl.List(c.Request.Context())
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	if runs == nil {
		runs = []*controller.RunState{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// HandleHealth handles GET /v1/worlds/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	st := h.pc.Stages
	resp := HealthResponse{
		Status: "ok",
		Stages: map[string]bool{
			string(schema.StageExtract):    st.Extractor != nil,
			string(schema.StageSearch):     st.Index != nil,
			string(schema.StagePlan):       st.Planner != nil,
			string(schema.StageResolve):    st.Scene != nil && st.Object != nil,
			string(schema.StageSynthesize): st.Synthesizer != nil,
			string(schema.StageRender):     st.Runner != nil,
			string(schema.StageCritique):   st.ObjectCritic != nil && st.MotionCritic != nil,
		},
	}
	if st.Index != nil {
		resp.Labels = len(st.Index.Labels())
	}
	c.JSON(http.StatusOK, resp)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// errShuttingDown is reported for requests racing Shutdown.
var errShuttingDown = errors.New("server is shutting down")
