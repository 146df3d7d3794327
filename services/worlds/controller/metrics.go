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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worlds",
		Subsystem: "runs",
		Name:      "total",
		Help:      "Finished refinement runs by pipeline and outcome (accepted, failed, stalled, exhausted)",
	}, []string{"pipeline", "outcome"})

	runsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "worlds",
		Subsystem: "runs",
		Name:      "active",
		Help:      "Refinement runs currently executing",
	})

	runIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worlds",
		Subsystem: "runs",
		Name:      "refinements",
		Help:      "Refinements per finished run",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worlds",
		Subsystem: "runs",
		Name:      "transitions_total",
		Help:      "State machine transitions by target state",
	}, []string{"to"})
)
