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
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/artifacts"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/knowledge"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/render"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/resolver"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/synthesizer"
)

func newExtractCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <instruction>",
		Short: "Select the instruction's key entity and write obj_select.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			instr, err := requireInstruction(args)
			if err != nil {
				return err
			}
			s, err := o.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.app.Pipeline.Extract(cmd.Context(), instr)
			if err != nil {
				return err
			}
			return s.out.Result(res.Selection(), func() {
				s.out.Title("Key entity")
				if res.IsNone() {
					s.out.Field("entity", "none")
				} else {
					s.out.Field("entity", res.Entity)
				}
				s.out.Field("reason", res.Reason)
				if res.Fallback {
					s.out.Note("  matched by vocabulary fallback")
				}
				s.out.Field("wrote", s.app.Pipeline.Store.Path(artifacts.SelectionFile))
			})
		},
	}
}

func newSearchCmd(o *rootOptions) *cobra.Command {
	var topK int
	var showDocs bool
	cmd := &cobra.Command{
		Use:   "search [entity]",
		Short: "Look up generator documentation for an entity (default: obj_select.json)",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			entity := joinArgs(args)
			if entity == "" {
				sel, err := s.app.Pipeline.Store.ReadSelection()
				if err != nil {
					return err
				}
				if sel.IsNone() {
					return errors.New("obj_select.json selects no entity")
				}
				entity = sel.Entity
			}
			if topK <= 0 {
				topK = s.cfg.Knowledge.TopK
			}
			matches, err := s.app.Pipeline.SearchTop(cmd.Context(), entity, topK)
			if err != nil {
				return err
			}
			return s.out.Result(matches, func() {
				s.out.Title(fmt.Sprintf("Matches for %q", entity))
				for i, m := range matches {
					s.out.Field(fmt.Sprintf("#%d", i+1), fmt.Sprintf("%s (%s) confidence %.3f", m.CanonicalName, m.DisplayLabel, m.Confidence))
					if showDocs {
						s.out.Note(m.Documentation)
					}
				}
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of matches (default knowledge.top_k)")
	cmd.Flags().BoolVar(&showDocs, "docs", false, "Print each match's documentation")
	return cmd
}

func newPlanCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <instruction>",
		Short: "Plan a scene manifest and write manifest.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			instr, err := requireInstruction(args)
			if err != nil {
				return err
			}
			s, err := o.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			m, err := s.app.Pipeline.Plan(cmd.Context(), instr)
			if err != nil {
				return err
			}
			return s.out.Result(m, func() {
				s.out.Title("Scene manifest")
				s.out.Field("biome", m.Ecosystem.BiomeType)
				s.out.Field("wrote", s.app.Pipeline.Store.Path(artifacts.ManifestFile))
			})
		},
	}
}

// resolveOutput is the --json form of resolve and resolve-object.
type resolveOutput struct {
	Factory     string                `json:"factory,omitempty"`
	Mode        string                `json:"mode"`
	Rules       []string              `json:"rules,omitempty"`
	Adjustments []resolver.Adjustment `json:"adjustments,omitempty"`
	Params      map[string]float64    `json:"params"`
	Path        string                `json:"path"`
}

func (s *session) printResolution(title string, r resolveOutput) error {
	return s.out.Result(r, func() {
		s.out.Title(title)
		if r.Factory != "" {
			s.out.Field("factory", r.Factory)
		}
		s.out.Field("mode", r.Mode)
		for _, rule := range r.Rules {
			s.out.Note("  rule: " + rule)
		}
		for _, a := range r.Adjustments {
			s.out.Note(fmt.Sprintf("  %s: %g -> %g (%s)", a.Key, a.From, a.To, a.Cause))
		}
		s.out.Params(r.Params)
		s.out.Field("wrote", r.Path)
	})
}

func newResolveCmd(o *rootOptions) *cobra.Command {
	var refine bool
	cmd := &cobra.Command{
		Use:   "resolve [instruction]",
		Short: "Resolve scene parameters from manifest.json and write scene_params.json",
		Long: `resolve grounds the twelve scene parameters in manifest.json. With --refine it
applies feedback.json to the existing scene_params.json instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			store := s.app.Pipeline.Store
			m, err := store.ReadManifest()
			if err != nil {
				return err
			}
			var prev *schema.ParameterSet
			var fb *schema.Feedback
			if refine {
				if prev, err = store.ReadSceneParams(); err != nil {
					return err
				}
				report, err := store.ReadFeedback()
				if err != nil {
					return err
				}
				v := report.Verdict()
				fb = &v
			}
			res, err := s.app.Pipeline.ResolveScene(cmd.Context(), joinArgs(args), m, prev, fb)
			if err != nil {
				return err
			}
			return s.printResolution("Scene parameters", resolveOutput{
				Mode:        res.Mode,
				Rules:       res.Rules,
				Adjustments: res.Adjustments,
				Params:      res.Params.Flat(),
				Path:        store.Path(artifacts.SceneParamsFile),
			})
		},
	}
	cmd.Flags().BoolVar(&refine, "refine", false, "Apply feedback.json to scene_params.json")
	return cmd
}

func newResolveObjectCmd(o *rootOptions) *cobra.Command {
	var refine bool
	cmd := &cobra.Command{
		Use:   "resolve-object [instruction]",
		Short: "Resolve the selected entity's generator parameters and write obj_param.txt",
		Long: `resolve-object looks up the entity in obj_select.json, resolves every parameter
its generator documentation declares and writes obj_param.txt. With --refine
it applies feedback.json to the existing obj_param.txt instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			pc := s.app.Pipeline
			instr := joinArgs(args)
			var res *resolver.ObjectResult
			if refine {
				if res, instr, err = s.refineObject(cmd, instr); err != nil {
					return err
				}
			} else {
				sel, err := pc.Store.ReadSelection()
				if err != nil {
					return err
				}
				if sel.IsNone() {
					return errors.New("obj_select.json selects no entity")
				}
				match, err := pc.Search(cmd.Context(), sel.Entity)
				if err != nil {
					return err
				}
				if res, err = pc.ResolveObject(cmd.Context(), instr, match); err != nil {
					return err
				}
			}
			if _, err := pc.SynthesizeObject(cmd.Context(), instr, res); err != nil {
				return err
			}
			return s.printResolution("Object parameters", resolveOutput{
				Factory: res.Factory,
				Mode:    res.Mode,
				Params:  res.Params.Flat(),
				Path:    pc.Store.Path(artifacts.ObjectParamsFile),
			})
		},
	}
	cmd.Flags().BoolVar(&refine, "refine", false, "Apply feedback.json to obj_param.txt")
	return cmd
}

// refineObject rebuilds the previous result from obj_param.txt and applies
// feedback.json. An empty instr falls back to the one in the file header.
func (s *session) refineObject(cmd *cobra.Command, instr string) (*resolver.ObjectResult, string, error) {
	pc := s.app.Pipeline
	op, err := pc.Store.ReadObjectParams()
	if err != nil {
		return nil, "", err
	}
	if instr == "" {
		instr = op.Instruction
	}
	if pc.Index == nil {
		return nil, "", schema.NewStageError(schema.StageSearch, schema.ErrMissingCorpus, errors.New("no knowledge index"))
	}
	match, ok := pc.Index.Get(op.Factory)
	if !ok {
		return nil, "", schema.NewStageError(schema.StageSearch, schema.ErrMissingCorpus,
			fmt.Errorf("no documentation for factory %q", op.Factory))
	}
	prev, err := previousObject(match, op)
	if err != nil {
		return nil, "", err
	}
	report, err := pc.Store.ReadFeedback()
	if err != nil {
		return nil, "", err
	}
	fb := report.Verdict()
	res, err := pc.RefineObject(cmd.Context(), prev, &fb)
	return res, instr, err
}

func previousObject(match knowledge.Match, op *synthesizer.ObjectParams) (*resolver.ObjectResult, error) {
	sch, err := resolver.ParseDeclarations(match.CanonicalName, match.Documentation)
	if err != nil {
		return nil, schema.NewStageError(schema.StageResolve, schema.ErrSchemaViolation, err)
	}
	params, err := op.ParameterSet(sch, schema.ProvenanceCarriedOver)
	if err != nil {
		return nil, schema.NewStageError(schema.StageResolve, schema.ErrSchemaViolation, err)
	}
	return &resolver.ObjectResult{
		Factory: match.CanonicalName,
		Label:   match.DisplayLabel,
		Params:  params,
		Mode:    resolver.ModeGrounded,
	}, nil
}

func newSynthesizeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "synthesize [instruction]",
		Short: "Compile scene_params.json and manifest.json into scene.gin",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			store := s.app.Pipeline.Store
			params, err := store.ReadSceneParams()
			if err != nil {
				return err
			}
			m, err := store.ReadManifest()
			if err != nil {
				return err
			}
			art, err := s.app.Pipeline.SynthesizeScene(cmd.Context(), joinArgs(args), params, m)
			if err != nil {
				return err
			}
			return s.out.Result(art, func() {
				s.out.Title("Scene configuration")
				s.out.Field("bindings", len(art.Assignments))
				if len(art.Unmapped) > 0 {
					s.out.Field("unmapped", art.Unmapped)
				}
				s.out.Field("wrote", store.Path(artifacts.SceneGinFile))
			})
		},
	}
}

// evidenceFlags point at renders made outside the pipeline.
type evidenceFlags struct {
	front  string
	side   string
	frames string
	video  string
}

func (e *evidenceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&e.front, "front", "", "Front view image of the object")
	cmd.Flags().StringVar(&e.side, "side", "", "Side view image of the object")
	cmd.Flags().StringVar(&e.frames, "frames", "", "Directory of rendered scene frames")
	cmd.Flags().StringVar(&e.video, "video", "", "Rendered scene video")
}

func (e *evidenceFlags) set() bool {
	return e.front != "" || e.side != "" || e.frames != ""
}

func (e *evidenceFlags) runner() render.StaticRunner {
	return render.StaticRunner{Evidence: render.Evidence{
		Front:     e.front,
		Side:      e.side,
		FramesDir: e.frames,
		VideoPath: e.video,
	}}
}

func newCritiqueCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "critique",
		Short: "Judge rendered evidence and write feedback.json",
	}
	cmd.AddCommand(
		newCritiqueKindCmd(o, render.KindObject, "object [instruction]", "Judge front and side views of an object"),
		newCritiqueKindCmd(o, render.KindScene, "motion [instruction]", "Judge sampled frames of a scene render"),
	)
	return cmd
}

func newCritiqueKindCmd(o *rootOptions, kind render.Kind, use, short string) *cobra.Command {
	var ev evidenceFlags
	var renderFirst bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			pc := s.app.Pipeline
			instr := joinArgs(args)
			if instr == "" && kind == render.KindObject {
				if op, err := pc.Store.ReadObjectParams(); err == nil {
					instr = op.Instruction
				}
			}
			if instr == "" {
				return errors.New("an instruction is required")
			}

			var evidence render.Evidence
			if renderFirst {
				evidence, err = pc.Render(cmd.Context(), kind, filepath.Join(pc.Store.Dir(), "render"))
			} else {
				evidence, err = ev.runner().Render(cmd.Context(), render.Request{Kind: kind})
			}
			if err != nil {
				return err
			}

			var fb schema.Feedback
			if kind == render.KindObject {
				fb, err = pc.CritiqueObject(cmd.Context(), instr, evidence)
			} else {
				fb, err = pc.CritiqueMotion(cmd.Context(), instr, evidence)
			}
			if err != nil {
				return err
			}
			return s.out.Result(fb, func() {
				s.out.Title("Critique")
				s.out.Verdict(fb)
				s.out.Field("wrote", pc.Store.Path(artifacts.FeedbackFile))
			})
		},
	}
	ev.register(cmd)
	cmd.Flags().BoolVar(&renderFirst, "render", false, "Render the current config with render.command first")
	return cmd
}
