// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/config"
)

func TestExporter(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	assert.Equal(t, ExporterNone, Exporter(config.TelemetryConfig{Exporter: "none"}))
	assert.Equal(t, ExporterStdout, Exporter(config.TelemetryConfig{Exporter: "stdout"}))

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	assert.Equal(t, ExporterOTLP, Exporter(config.TelemetryConfig{Exporter: "none"}))
	assert.Equal(t, ExporterStdout, Exporter(config.TelemetryConfig{Exporter: "stdout"}))
}

func TestSetup_StdoutWritesSpans(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	var buf bytes.Buffer
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{Exporter: "stdout", ServiceName: "worlds-test"}, &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "pipeline.resolve")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "pipeline.resolve")
	assert.Contains(t, buf.String(), "worlds-test")
}

func TestSetup_None(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{Exporter: "none"}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_Unknown(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	_, err := Setup(context.Background(), config.TelemetryConfig{Exporter: "zipkin"}, nil)
	assert.Error(t, err)
}
