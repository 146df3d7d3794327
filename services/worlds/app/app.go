// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package app assembles a running deployment from configuration.
//
// Description:
//
//	Build opens BadgerDB, builds (or watches) the knowledge index, creates
//	one oracle client per role and binds every stage into a pipeline
//	Context and refinement Controller. Both the CLI and the server start
//	here.
//
//	Missing pieces degrade instead of failing: an unavailable BadgerDB
//	directory falls back to an in-memory store, and a role whose provider
//	cannot be built leaves its stage unconfigured. Calling such a stage
//	returns a "stage is not configured" error, so commands that never touch
//	it (search, resolve, synthesize) work without any credentials.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/artifacts"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/config"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/controller"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/critic"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/intent"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/knowledge"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/pipeline"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/planner"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/render"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/resolver"
	badgerstore "github.com/AleutianAI/AleutianWorlds/services/worlds/storage/badger"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/synthesizer"
)

// App is one assembled deployment.
type App struct {
	Config     *config.Config
	DB         *badgerstore.DB
	Index      knowledge.Searcher
	Clients    map[oracle.Role]oracle.ChatClient
	Pipeline   *pipeline.Context
	Controller *controller.Controller

	logger  *slog.Logger
	closers []func() error
}

type options struct {
	isolateRuns bool
	clients     map[oracle.Role]oracle.ChatClient
	runner      render.Runner
}

// Option customizes Build.
type Option func(*options)

// WithIsolatedRuns gives every controller run its own artifact directory.
func WithIsolatedRuns() Option {
	return func(o *options) { o.isolateRuns = true }
}

// WithClients uses the given oracle clients instead of building them from
// the role configuration.
func WithClients(clients map[oracle.Role]oracle.ChatClient) Option {
	return func(o *options) { o.clients = clients }
}

// WithRunner overrides the render runner built from the render command.
func WithRunner(r render.Runner) Option {
	return func(o *options) { o.runner = r }
}

// Build assembles the deployment described by cfg.
//
// Outputs:
//   - *App: Ready deployment. Call Close when done.
//   - error: Non-nil when the corpus or reference bindings cannot be read
//     or parsed, or the render command is invalid.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Config: cfg, logger: logger}

	a.DB = a.openDB()
	a.closers = append(a.closers, a.DB.Close)

	idx, err := a.buildIndex(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Index = idx

	a.Clients = o.clients
	if a.Clients == nil {
		a.Clients = a.buildClients(ctx)
	}

	stages, err := a.buildStages(o.runner)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Pipeline = pipeline.New(stages, artifacts.NewStore(cfg.Artifacts.Dir, logger), logger)
	a.Pipeline.TopK = cfg.Knowledge.TopK
	a.Pipeline.FrameCount = cfg.Critic.FrameCount
	a.Pipeline.SkipFraction = cfg.Critic.SkipFraction

	a.Controller = controller.New(a.Pipeline, controller.NewBadgerCheckpoints(a.DB), controller.Options{
		MaxIterations: cfg.Controller.MaxIterations,
		StopOnStable:  cfg.Controller.StopOnStable,
		IsolateRuns:   o.isolateRuns,
	}, logger)
	return a, nil
}

// Close releases the watcher and BadgerDB, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openDB() *badgerstore.DB {
	if !a.Config.Storage.InMemory() {
		dbCfg := badgerstore.DefaultConfig()
		dbCfg.Path = a.Config.Storage.ResolvedBadgerDir()
		dbCfg.Logger = a.logger
		db, err := badgerstore.OpenDB(dbCfg)
		if err == nil {
			a.logger.Info("BadgerDB opened", slog.String("path", dbCfg.Path))
			return db
		}
		a.logger.Warn("BadgerDB unavailable, checkpoints and vectors kept in memory",
			slog.String("path", dbCfg.Path),
			slog.String("error", err.Error()))
	}
	memCfg := badgerstore.InMemoryConfig()
	memCfg.Logger = a.logger
	db, err := badgerstore.OpenDB(memCfg)
	if err != nil {
		// In-memory open only fails on resource exhaustion.
		panic(fmt.Sprintf("app: opening in-memory BadgerDB: %v", err))
	}
	return db
}

func (a *App) embedder(ctx context.Context) (knowledge.Embedder, error) {
	kc := a.Config.Knowledge
	switch kc.Embedder {
	case "ollama":
		return knowledge.NewOllamaEmbedder(kc.EmbeddingURL, kc.EmbeddingModel), nil
	case "genai":
		return knowledge.NewGenAIEmbedder(ctx, os.Getenv("GEMINI_API_KEY"), kc.EmbeddingModel)
	default:
		return knowledge.NewTFIDFEmbedder(), nil
	}
}

func (a *App) buildIndex(ctx context.Context) (knowledge.Searcher, error) {
	emb, err := a.embedder(ctx)
	if err != nil {
		return nil, err
	}
	vectors := knowledge.NewBadgerVectorStore(a.DB, a.Config.Knowledge.CacheTTL, a.logger)
	build := func(ctx context.Context, corpus string) (*knowledge.Index, error) {
		return knowledge.Build(ctx, corpus, emb,
			knowledge.WithVectorStore(vectors),
			knowledge.WithLogger(a.logger))
	}

	path := a.Config.Knowledge.CorpusPath
	if a.Config.Knowledge.Watch && path != "" {
		w, err := knowledge.NewWatcher(ctx, path, build, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, w.Close)
		return w, nil
	}

	corpus, err := config.ReadCorpus(path)
	if err != nil {
		return nil, err
	}
	return build(ctx, corpus)
}

func (a *App) buildClients(ctx context.Context) map[oracle.Role]oracle.ChatClient {
	clients := make(map[oracle.Role]oracle.ChatClient)
	roles, err := oracle.LoadRoleConfig(a.Config.RoleDefaults())
	if err != nil {
		a.logger.Warn("Oracle role configuration invalid, oracle stages disabled", slog.String("error", err.Error()))
		return clients
	}
	factory := oracle.NewProviderFactory(a.logger)
	mws := a.Config.Middlewares()
	if all, err := factory.CreateRoleClients(ctx, roles, mws...); err == nil {
		return all
	}
	for _, role := range oracle.AllRoles {
		pc, ok := roles[role]
		if !ok {
			continue
		}
		c, err := factory.CreateChatClient(ctx, pc)
		if err != nil {
			a.logger.Warn("Oracle role unavailable",
				slog.String("role", string(role)),
				slog.String("provider", pc.Provider),
				slog.String("error", err.Error()))
			continue
		}
		clients[role] = oracle.Wrap(c, mws...)
	}
	return clients
}

func (a *App) buildStages(runner render.Runner) (pipeline.Stages, error) {
	cfg := a.Config
	st := pipeline.Stages{Index: a.Index}

	if c := a.Clients[oracle.RoleExtract]; c != nil {
		st.Extractor = intent.NewExtractor(c, nil, a.logger)
	}
	if c := a.Clients[oracle.RolePlan]; c != nil {
		st.Planner = planner.NewPlanner(c, a.logger)
	}

	var sceneOpts []resolver.SceneOption
	var objectOpts []resolver.ObjectOption
	if c := a.Clients[oracle.RoleResolve]; c != nil && cfg.Resolver.UseOracle {
		sceneOpts = append(sceneOpts, resolver.WithSceneOracle(c))
		objectOpts = append(objectOpts, resolver.WithObjectOracle(c))
	}
	st.Scene = resolver.NewSceneResolver(a.logger, sceneOpts...)
	st.Object = resolver.NewObjectResolver(a.logger, objectOpts...)

	text, err := config.ReadReferenceGin(cfg.Synthesizer.ReferenceGinPath)
	if err != nil {
		return st, err
	}
	if text == "" {
		return st, fmt.Errorf("app: reference bindings %s not found", cfg.Synthesizer.ReferenceGinPath)
	}
	ref, err := synthesizer.ParseReference(text)
	if err != nil {
		return st, fmt.Errorf("app: parsing reference bindings: %w", err)
	}
	synthOpts := []synthesizer.Option{synthesizer.WithLogger(a.logger)}
	if c := a.Clients[oracle.RoleSynth]; c != nil && cfg.Synthesizer.UseOracle {
		synthOpts = append(synthOpts, synthesizer.WithOracle(c))
	}
	st.Synthesizer = synthesizer.New(ref, synthOpts...)

	if c := a.Clients[oracle.RoleCritic]; c != nil {
		st.ObjectCritic = critic.NewObjectCritic(c, a.logger)
		st.MotionCritic = critic.NewMotionCritic(c, a.logger)
	}

	switch {
	case runner != nil:
		st.Runner = runner
	case len(cfg.Render.Command) > 0:
		r, err := render.NewExecRunner(cfg.Render.Command, cfg.Render.Timeout, a.logger)
		if err != nil {
			return st, err
		}
		st.Runner = r
	}
	return st, nil
}
