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
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RequestIDHeader carries the request ID in and out.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// RegisterRoutes registers the /worlds endpoints on rg.
//
// Endpoints:
//
//	POST /v1/worlds/extract - Select the key entity
//	POST /v1/worlds/search - Query the knowledge index
//	POST /v1/worlds/plan - Plan a scene manifest
//	POST /v1/worlds/resolve - Resolve or refine scene parameters
//	POST /v1/worlds/resolve_object - Resolve object generator parameters
//	POST /v1/worlds/synthesize - Compile scene parameters to gin
//	POST /v1/worlds/runs - Start a refinement run
//	GET  /v1/worlds/runs - List runs
//	GET  /v1/worlds/runs/:id - Get one run
//	POST /v1/worlds/runs/:id/resume - Resume a checkpointed run
//	GET  /v1/worlds/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	w := rg.Group("/worlds")
	{
		w.POST("/extract", h.HandleExtract)
		w.POST("/search", h.HandleSearch)
		w.POST("/plan", h.HandlePlan)
		w.POST("/resolve", h.HandleResolve)
		w.POST("/resolve_object", h.HandleResolveObject)
		w.POST("/synthesize", h.HandleSynthesize)

		w.POST("/runs", h.HandleCreateRun)
		w.GET("/runs", h.HandleListRuns)
		w.GET("/runs/:id", h.HandleGetRun)
		w.POST("/runs/:id/resume", h.HandleResumeRun)

		w.GET("/health", h.HandleHealth)
	}
}

// NewRouter builds the server's engine: recovery, OTel trace extraction,
// request IDs, /metrics and the /v1 routes.
func NewRouter(h *Handlers, serviceName string, debug bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(RequestID())
	if debug {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	RegisterRoutes(router.Group("/v1"), h)
	return router
}

// RequestID reuses the caller's X-Request-ID or assigns a new one, and
// echoes it in the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	return uuid.NewString()
}
