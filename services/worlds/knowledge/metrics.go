// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worlds",
		Subsystem: "knowledge",
		Name:      "searches_total",
		Help:      "Knowledge searches by resolution mode (exact, similarity, empty)",
	}, []string{"mode"})

	buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worlds",
		Subsystem: "knowledge",
		Name:      "build_duration_seconds",
		Help:      "Time to segment and embed a corpus",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	indexedChunks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "worlds",
		Subsystem: "knowledge",
		Name:      "indexed_chunks",
		Help:      "Chunks in the most recently built index",
	})

	queryCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worlds",
		Subsystem: "knowledge",
		Name:      "query_cache_total",
		Help:      "Query embedding memo lookups by result (hit, miss)",
	}, []string{"result"})

	reloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worlds",
		Subsystem: "knowledge",
		Name:      "reloads_total",
		Help:      "Corpus reloads triggered by the watcher by outcome",
	}, []string{"outcome"})
)
