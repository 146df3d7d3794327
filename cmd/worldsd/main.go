// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command worldsd serves the worlds pipeline over HTTP.
//
// Usage:
//
//	go run ./cmd/worldsd
//	go run ./cmd/worldsd -config worlds.yaml -debug
//
// Example requests:
//
//	# Health check
//	curl http://localhost:12217/v1/worlds/health
//
//	# Start an object run and wait for the verdict
//	curl -X POST http://localhost:12217/v1/worlds/runs \
//	  -H "Content-Type: application/json" \
//	  -d '{"pipeline": "object", "instruction": "a tall pine tree", "wait": true}'
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/api"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/app"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/config"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("WORLDS_CONFIG"), "YAML file merged over the built-in defaults")
	addr := flag.String("addr", "", "Listen address (overrides server.addr)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*configPath, *addr, *debug, logger); err != nil {
		logger.Error("worldsd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath, addr string, debug bool, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	debug = debug || cfg.Server.Debug

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	a, err := app.Build(ctx, cfg, logger, app.WithIsolatedRuns())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close worlds resources", slog.String("error", err.Error()))
		}
	}()

	h := api.NewHandlers(a.Pipeline, a.Controller, cfg.Server.MaxConcurrentRuns, logger)
	router := api.NewRouter(h, cfg.Telemetry.ServiceName, debug)
	return api.ListenAndServe(ctx, cfg.Server.Addr, h, router, logger)
}
