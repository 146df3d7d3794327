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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/controller"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

// printer writes command results as styled text or JSON.
type printer struct {
	w      io.Writer
	asJSON bool

	title lipgloss.Style
	key   lipgloss.Style
	good  lipgloss.Style
	bad   lipgloss.Style
	faint lipgloss.Style
}

// newPrinter styles output only when w is a terminal and NO_COLOR is unset.
func newPrinter(w io.Writer, asJSON bool) *printer {
	p := &printer{
		w:      w,
		asJSON: asJSON,
		title:  lipgloss.NewStyle(),
		key:    lipgloss.NewStyle(),
		good:   lipgloss.NewStyle(),
		bad:    lipgloss.NewStyle(),
		faint:  lipgloss.NewStyle(),
	}
	if f, ok := w.(*os.File); ok && os.Getenv("NO_COLOR") == "" &&
		(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		p.title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
		p.key = lipgloss.NewStyle().Faint(true)
		p.good = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
		p.bad = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
		p.faint = lipgloss.NewStyle().Faint(true)
	}
	return p
}

// Result prints v as JSON in --json mode, otherwise calls human.
func (p *printer) Result(v any, human func()) error {
	if p.asJSON {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	}
	human()
	return nil
}

func (p *printer) Title(s string) {
	fmt.Fprintln(p.w, p.title.Render(s))
}

func (p *printer) Field(k string, v any) {
	fmt.Fprintf(p.w, "  %s %v\n", p.key.Render(fmt.Sprintf("%-12s", k+":")), v)
}

func (p *printer) Note(s string) {
	fmt.Fprintln(p.w, p.faint.Render(s))
}

// Params prints a parameter set sorted by key.
func (p *printer) Params(flat map[string]float64) {
	keys := make([]string, 0, len(flat))
	width := 0
	for k := range flat {
		keys = append(keys, k)
		width = max(width, len(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(p.w, "    %-*s  %g\n", width, k, flat[k])
	}
}

// Verdict prints a critic verdict.
func (p *printer) Verdict(fb schema.Feedback) {
	if fb.Valid {
		p.Field("verdict", p.good.Render("valid"))
	} else {
		p.Field("verdict", p.bad.Render("invalid"))
	}
	if fb.Message != "" {
		p.Field("feedback", fb.Message)
	}
}

// Run prints a run summary and its transition history.
func (p *printer) Run(rs *controller.RunState) {
	p.Title("Run " + rs.RunID)
	state := string(rs.State)
	switch rs.State {
	case controller.StateAccepted:
		state = p.good.Render(state)
	case controller.StateFailed:
		state = p.bad.Render(state)
	}
	p.Field("pipeline", rs.Pipeline)
	p.Field("state", state)
	p.Field("iterations", fmt.Sprintf("%d/%d", rs.Iteration, rs.MaxIterations))
	if rs.Factory != "" {
		p.Field("factory", rs.Factory)
	}
	if rs.Reason != "" {
		p.Field("reason", rs.Reason)
	}
	if rs.LastFeedback != nil {
		p.Verdict(*rs.LastFeedback)
	}
	if rs.ArtifactDir != "" {
		p.Field("artifacts", rs.ArtifactDir)
	}
	for _, e := range rs.History {
		line := fmt.Sprintf("    %s  %-11s -> %-11s", e.At.Format("15:04:05"), e.From, e.To)
		if e.Note != "" {
			line += "  " + truncate(e.Note, 60)
		}
		p.Note(line)
	}
}

// RunList prints one line per run.
func (p *printer) RunList(runs []*controller.RunState) {
	if len(runs) == 0 {
		p.Note("No runs recorded.")
		return
	}
	for _, rs := range runs {
		fmt.Fprintf(p.w, "%s  %-6s  %-11s  %d/%d  %s\n",
			rs.RunID, rs.Pipeline, rs.State, rs.Iteration, rs.MaxIterations,
			truncate(rs.Instruction, 48))
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
