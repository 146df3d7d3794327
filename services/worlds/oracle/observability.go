// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// chatTracerName is the shared OTel tracer name for all ChatClient adapters.
const chatTracerName = "worlds.oracle"

var (
	// chatCallDuration measures the duration of oracle calls.
	//
	// Labels:
	//   - provider: "anthropic", "openai", "gemini", "genai", "ollama"
	//   - status: "success" or "error"
	chatCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "worlds",
			Subsystem: "chat",
			Name:      "call_duration_seconds",
			Help:      "Duration of oracle chat calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "status"},
	)

	chatCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worlds",
			Subsystem: "chat",
			Name:      "calls_total",
			Help:      "Total number of oracle chat calls.",
		},
		[]string{"provider", "status"},
	)

	// chatErrorsTotal counts failures by coarse type to keep label
	// cardinality bounded.
	chatErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worlds",
			Subsystem: "chat",
			Name:      "errors_total",
			Help:      "Total oracle chat errors by type.",
		},
		[]string{"provider", "error_type"},
	)

	chatImagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "worlds",
			Subsystem: "chat",
			Name:      "images_total",
			Help:      "Images attached to critic requests.",
		},
		[]string{"provider"},
	)

	retryAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "worlds",
			Subsystem: "chat",
			Name:      "retries_total",
			Help:      "Oracle calls re-issued by the retry middleware.",
		},
	)
)

// classifyChatError maps an error to a label-safe error type string.
//
// Outputs:
//
//	string - One of: "timeout", "auth", "rate_limit", "server", "nil_client",
//	         "unknown". Empty for a nil error.
//
// Thread Safety: Safe for concurrent use.
func classifyChatError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrRateLimited) {
		return "rate_limit"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "client is nil"):
		return "nil_client"
	case strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "returned 401") ||
		strings.Contains(msg, "returned 403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "api key"):
		return "auth"
	case strings.Contains(msg, "returned 429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted"):
		return "rate_limit"
	case strings.Contains(msg, "returned 500") ||
		strings.Contains(msg, "returned 502") ||
		strings.Contains(msg, "returned 503") ||
		strings.Contains(msg, "server error"):
		return "server"
	default:
		return "unknown"
	}
}

// recordChatMetrics records one completed oracle call.
func recordChatMetrics(provider string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		chatErrorsTotal.WithLabelValues(provider, classifyChatError(err)).Inc()
	}
	chatCallDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
	chatCallsTotal.WithLabelValues(provider, status).Inc()
}
