// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/api"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/app"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/controller"
)

func newRunCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive a refinement run to a verdict",
	}
	cmd.AddCommand(newRunObjectCmd(o), newRunSceneCmd(o))
	return cmd
}

// runOptions returns the app options for a run with optional static
// evidence.
func runOptions(ev *evidenceFlags) []app.Option {
	if ev.set() {
		return []app.Option{app.WithRunner(ev.runner())}
	}
	return nil
}

// finish prints rs and maps a non-accepted ending to errNotAccepted.
func (s *session) finish(rs *controller.RunState) error {
	if err := s.out.Result(rs, func() { s.out.Run(rs) }); err != nil {
		return err
	}
	if rs.State != controller.StateAccepted {
		return errNotAccepted
	}
	return nil
}

func newRunObjectCmd(o *rootOptions) *cobra.Command {
	var ev evidenceFlags
	cmd := &cobra.Command{
		Use:   "object <instruction>",
		Short: "Extract, resolve, synthesize, render and critique an object until accepted",
		RunE: func(cmd *cobra.Command, args []string) error {
			instr, err := requireInstruction(args)
			if err != nil {
				return err
			}
			s, err := o.open(cmd, runOptions(&ev)...)
			if err != nil {
				return err
			}
			defer s.Close()

			rs, err := s.app.Controller.RunObject(cmd.Context(), instr)
			if err != nil {
				return err
			}
			return s.finish(rs)
		},
	}
	ev.register(cmd)
	return cmd
}

func newRunSceneCmd(o *rootOptions) *cobra.Command {
	var ev evidenceFlags
	var useManifest bool
	cmd := &cobra.Command{
		Use:   "scene <instruction>",
		Short: "Plan, resolve, synthesize, render and critique a scene until accepted",
		RunE: func(cmd *cobra.Command, args []string) error {
			instr, err := requireInstruction(args)
			if err != nil {
				return err
			}
			s, err := o.open(cmd, runOptions(&ev)...)
			if err != nil {
				return err
			}
			defer s.Close()

			var rs *controller.RunState
			if useManifest {
				m, err := s.app.Pipeline.Store.ReadManifest()
				if err != nil {
					return err
				}
				rs, err = s.app.Controller.RunSceneWithManifest(cmd.Context(), instr, m)
				if err != nil {
					return err
				}
			} else if rs, err = s.app.Controller.RunScene(cmd.Context(), instr); err != nil {
				return err
			}
			return s.finish(rs)
		},
	}
	ev.register(cmd)
	cmd.Flags().BoolVar(&useManifest, "use-manifest", false, "Start from the existing manifest.json instead of planning")
	return cmd
}

func newResumeCmd(o *rootOptions) *cobra.Command {
	var ev evidenceFlags
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Continue a checkpointed run from its last state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd, runOptions(&ev)...)
			if err != nil {
				return err
			}
			defer s.Close()

			rs, err := s.app.Controller.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return s.finish(rs)
		},
	}
	ev.register(cmd)
	return cmd
}

func newRunsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List checkpointed runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if len(args) == 1 {
				rs, err := s.app.Controller.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return s.out.Result(rs, func() { s.out.Run(rs) })
			}
			runs, err := s.app.Controller.List(cmd.Context())
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []*controller.RunState{}
			}
			return s.out.Result(runs, func() { s.out.RunList(runs) })
		},
	}
}

func newServeCmd(o *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(cmd, app.WithIsolatedRuns())
			if err != nil {
				return err
			}
			defer s.Close()

			if addr == "" {
				addr = s.cfg.Server.Addr
			}
			if s.cfg.Server.Debug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}
			h := api.NewHandlers(s.app.Pipeline, s.app.Controller, s.cfg.Server.MaxConcurrentRuns, s.logger)
			router := api.NewRouter(h, s.cfg.Telemetry.ServiceName, s.cfg.Server.Debug)
			return api.ListenAndServe(cmd.Context(), addr, h, router, s.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}
