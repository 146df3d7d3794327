// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/render"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

const tracerName = "worlds.pipeline"

var (
	// stageDuration measures one stage invocation.
	//
	// Labels:
	//   - stage: schema.Stage value
	//   - status: "success" or "error"
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "worlds",
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Duration of pipeline stages in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"stage", "status"},
	)

	stageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worlds",
			Subsystem: "stage",
			Name:      "errors_total",
			Help:      "Pipeline stage failures by error kind.",
		},
		[]string{"stage", "kind"},
	)
)

// errorKind maps an error onto the taxonomy for metric labels.
func errorKind(err error) string {
	switch {
	case errors.Is(err, schema.ErrParseFailure):
		return "parse_failure"
	case errors.Is(err, schema.ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, schema.ErrMissingArtifact):
		return "missing_artifact"
	case errors.Is(err, schema.ErrMissingCorpus):
		return "missing_corpus"
	case errors.Is(err, schema.ErrOracle):
		return "oracle"
	case errors.Is(err, render.ErrRenderFailed):
		return "render"
	default:
		return "other"
	}
}
