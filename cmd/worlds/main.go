// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command worlds drives the text-to-generator-config pipeline from the
// command line.
//
// Every stage command reads its inputs from, and writes its output to, the
// artifact directory, so stages can be run one at a time:
//
//	worlds extract "a weathered red flag on a pole"
//	worlds search
//	worlds resolve-object "a weathered red flag on a pole"
//	worlds critique object --front front.png --side side.png
//
// or as a refinement loop:
//
//	worlds run scene "a foggy pine forest at dawn" --frames ./render/frames
//
// Exit codes:
//
//	0 - success
//	1 - error (including a missing upstream artifact)
//	3 - a run ended without an accepted verdict
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/app"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/config"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/telemetry"
)

const (
	exitError       = 1
	exitNotAccepted = 3
)

// errNotAccepted is returned by run commands whose run did not end ACCEPTED.
var errNotAccepted = errors.New("run was not accepted")

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath  string
	logLevel    string
	logJSON     bool
	artifactDir string
	traceStdout bool
	jsonOut     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root := newRootCmd()
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	root := &cobra.Command{
		Use:   "worlds",
		Short: "Turn text instructions into procedural generator configurations",
		Long: `worlds extracts the key entity of an instruction, looks up its generator
documentation, resolves a complete parameter set and compiles it into the
generator's configuration. Renders are judged by a vision critic and the
feedback drives bounded refinement.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", os.Getenv("WORLDS_CONFIG"), "YAML file merged over the built-in defaults")
	pf.StringVar(&o.logLevel, "log-level", envOr("WORLDS_LOG_LEVEL", "warn"), "Log level (debug, info, warn, error)")
	pf.BoolVar(&o.logJSON, "log-json", false, "Log JSON instead of text")
	pf.StringVarP(&o.artifactDir, "artifacts", "a", "", "Artifact directory (overrides artifacts.dir)")
	pf.BoolVar(&o.traceStdout, "trace-stdout", false, "Write OpenTelemetry spans to stdout")
	pf.BoolVar(&o.jsonOut, "json", false, "Print results as JSON")

	root.AddCommand(
		newExtractCmd(o),
		newSearchCmd(o),
		newPlanCmd(o),
		newResolveCmd(o),
		newResolveObjectCmd(o),
		newSynthesizeCmd(o),
		newCritiqueCmd(o),
		newRunCmd(o),
		newResumeCmd(o),
		newRunsCmd(o),
		newServeCmd(o),
	)
	return root
}

// session is one command's assembled deployment.
type session struct {
	cfg    *config.Config
	app    *app.App
	logger *slog.Logger
	out    *printer

	shutdownTracing telemetry.ShutdownFunc
}

// open loads configuration and builds the deployment for cmd.
func (o *rootOptions) open(cmd *cobra.Command, opts ...app.Option) (*session, error) {
	logger, err := newLogger(cmd.ErrOrStderr(), o.logLevel, o.logJSON)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.artifactDir != "" {
		cfg.Artifacts.Dir = o.artifactDir
	}
	if o.traceStdout {
		cfg.Telemetry.Exporter = telemetry.ExporterStdout
	}

	shutdown, err := telemetry.Setup(cmd.Context(), cfg.Telemetry, cmd.OutOrStdout())
	if err != nil {
		return nil, err
	}
	a, err := app.Build(cmd.Context(), cfg, logger, opts...)
	if err != nil {
		_ = shutdown(context.WithoutCancel(cmd.Context()))
		return nil, err
	}
	return &session{
		cfg:             cfg,
		app:             a,
		logger:          logger,
		out:             newPrinter(cmd.OutOrStdout(), o.jsonOut),
		shutdownTracing: shutdown,
	}, nil
}

// Close releases the deployment and flushes traces.
func (s *session) Close() error {
	return errors.Join(s.app.Close(), s.shutdownTracing(context.Background()))
}

func newLogger(w io.Writer, level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// joinArgs returns the instruction given as arguments.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// requireInstruction returns the instruction or a usage error.
func requireInstruction(args []string) (string, error) {
	instr := joinArgs(args)
	if instr == "" {
		return "", errors.New("an instruction is required")
	}
	return instr, nil
}

// producerCommands names the command that writes each artifact.
var producerCommands = map[string]string{
	"obj_select.json":   "extract",
	"obj_param.txt":     "resolve-object",
	"manifest.json":     "plan",
	"scene_params.json": "resolve",
	"scene.gin":         "synthesize",
	"feedback.json":     "critique",
}

// describe turns err into a user-facing message.
func describe(err error) string {
	var missing *schema.MissingArtifactError
	if errors.As(err, &missing) {
		cmd, ok := producerCommands[filepath.Base(missing.Path)]
		if !ok {
			cmd = string(missing.Producer)
		}
		return fmt.Sprintf("%s does not exist; run `worlds %s` first", missing.Path, cmd)
	}
	return err.Error()
}

func exitCode(err error) int {
	if errors.Is(err, errNotAccepted) {
		return exitNotAccepted
	}
	return exitError
}
