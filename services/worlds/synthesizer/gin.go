// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

// TargetGin names the gin config target in ConfigArtifact.Target.
const TargetGin = "gin"

const synthTemperature = 0.1

// UnmappedKeyMarker formats the comment emitted for a key without binding.
func UnmappedKeyMarker(key string) string {
	return fmt.Sprintf("# Unmapped JSON key: %s (no matching binding in gin.txt)", key)
}

// UnmappedValueMarker formats the comment for a manifest element without
// binding.
func UnmappedValueMarker(path, value string) string {
	return fmt.Sprintf("# Unmapped manifest value: %s=%s (no matching binding in gin.txt)", path, value)
}

var unmappedKeyLine = regexp.MustCompile(`^#\s*Unmapped JSON key:\s*([A-Za-z0-9_.]+)`)

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithOracle lets the generation oracle write the gin text. Its output is
// still checked line by line against the reference whitelist.
func WithOracle(client oracle.ChatClient) Option {
	return func(s *Synthesizer) { s.client = client }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Synthesizer compiles scene parameter sets into gin text.
//
// Thread Safety: Synthesizer is safe for concurrent use.
type Synthesizer struct {
	ref    *Reference
	client oracle.ChatClient
	logger *slog.Logger
}

// New creates a synthesizer bound to a reference whitelist.
func New(ref *Reference, opts ...Option) *Synthesizer {
	s := &Synthesizer{ref: ref, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "synthesizer"))
	return s
}

// Reference returns the whitelist in use.
func (s *Synthesizer) Reference() *Reference { return s.ref }

// Synthesize compiles params (and the manifest, when present) to gin.
//
// Description:
//
//	Every scene key yields exactly one assignment or one unmapped marker.
//	Manifest lists are expanded through fixed tables; symbols already set
//	by a parameter are never reassigned.
//
// Outputs:
//   - *schema.ConfigArtifact: Compiled text plus its structure.
//   - error: *schema.StageError for StageSynthesize. ErrSchemaViolation for
//     an invalid parameter set or an oracle line with an unknown symbol,
//     ErrOracle for transport failures. Nothing is produced on error.
func (s *Synthesizer) Synthesize(ctx context.Context, params *schema.ParameterSet, m *schema.Manifest, instruction string) (*schema.ConfigArtifact, error) {
	if err := params.Validate(); err != nil {
		return nil, schema.NewStageError(schema.StageSynthesize, schema.ErrSchemaViolation, err)
	}
	if s.client != nil {
		return s.synthesizeWithOracle(ctx, params, m, instruction)
	}
	c := newCompiler(s.ref)
	c.params(params)
	if m != nil {
		c.manifest(m)
	}
	return c.artifact(instruction), nil
}

// =============================================================================
// Deterministic compiler
// =============================================================================

type compiler struct {
	ref      *Reference
	lines    []string
	assigned map[string]int
	out      schema.ConfigArtifact
}

func newCompiler(ref *Reference) *compiler {
	return &compiler{ref: ref, assigned: make(map[string]int), out: schema.ConfigArtifact{Target: TargetGin}}
}

func (c *compiler) assign(source, symbol, value string) {
	if _, done := c.assigned[symbol]; done {
		return
	}
	c.assigned[symbol] = len(c.out.Assignments)
	c.out.Assignments = append(c.out.Assignments, schema.Assignment{Source: source, Symbol: symbol, Value: value})
	c.lines = append(c.lines, symbol+" = "+value)
}

// override replaces the value of a manifest-owned symbol in place.
func (c *compiler) override(source, symbol, value string) {
	i, ok := c.assigned[symbol]
	if !ok {
		c.assign(source, symbol, value)
		return
	}
	a := &c.out.Assignments[i]
	if strings.HasPrefix(a.Source, "manifest.") {
		old := a.Symbol + " = " + a.Value
		a.Source, a.Value = source, value
		for j, l := range c.lines {
			if l == old {
				c.lines[j] = symbol + " = " + value
				break
			}
		}
	}
}

func (c *compiler) unmapped(source, marker string) {
	c.out.Unmapped = append(c.out.Unmapped, source)
	c.lines = append(c.lines, marker)
}

func (c *compiler) params(p *schema.ParameterSet) {
	c.lines = append(c.lines, "# Resolved parameters")
	for _, spec := range p.Schema.Specs {
		symbol := c.symbolFor(spec.Key)
		if symbol == "" {
			c.unmapped(string(spec.Key), UnmappedKeyMarker(string(spec.Key)))
			continue
		}
		shape, _ := c.ref.Shape(symbol)
		c.assign(string(spec.Key), symbol, formatValue(spec, p.Values[spec.Key], shape))
	}
}

func (c *compiler) symbolFor(key schema.Key) string {
	for _, sym := range sceneBindings[key] {
		if c.ref.Has(sym) {
			return sym
		}
	}
	return ""
}

func (c *compiler) manifest(m *schema.Manifest) {
	c.lines = append(c.lines, "", "# Manifest")

	if groups, ok := groundCoverGroups[m.Terrain.GroundCover]; ok {
		c.group("terrain.ground_cover", m.Terrain.GroundCover, groups)
	} else if m.Terrain.GroundCover != "" {
		c.unmapped("manifest.terrain.ground_cover", UnmappedValueMarker("terrain.ground_cover", m.Terrain.GroundCover))
	}
	c.groupList("terrain.water_bodies", m.Terrain.WaterBodies, waterBodyGroups)
	c.groupList("terrain.landforms", m.Terrain.Landforms, landformGroups)

	c.chances("ecosystem.primary_vegetation", m.Ecosystem.PrimaryVegetation, vegetationChances)
	c.chances("ecosystem.ground_debris", m.Ecosystem.GroundDebris, debrisChances)
	c.chances("surface_coverage", m.SurfaceCoverage, surfaceChances)
	c.chances("dynamics.particles", m.Dynamics.Particles, particleChances)
	for _, e := range m.Dynamics.OtherEffects {
		if sym, ok := riverEffects[e]; ok {
			c.guarded("manifest.dynamics.other_effects", sym, "1", "dynamics.other_effects", e)
			continue
		}
		c.chances("dynamics.other_effects", []string{e}, effectChances)
	}

	c.registry("ecosystem.creatures.ground", m.Ecosystem.Creatures.Ground, groundCreatureFactories,
		"compose_nature.ground_creature_registry", "compose_nature.ground_creatures_chance")
	c.registry("ecosystem.creatures.flying", m.Ecosystem.Creatures.Flying, flyingCreatureFactories,
		"compose_nature.flying_creature_registry", "compose_nature.flying_creatures_chance")
	for _, sw := range m.Ecosystem.Creatures.Swarms {
		c.unmapped("manifest.ecosystem.creatures.swarms", UnmappedValueMarker("ecosystem.creatures.swarms", sw))
	}
}

// guarded assigns symbol when whitelisted, otherwise records the element
// as unmapped.
func (c *compiler) guarded(source, symbol, value, path, element string) {
	if !c.ref.Has(symbol) {
		c.unmapped(source, UnmappedValueMarker(path, element))
		return
	}
	c.assign(source, symbol, value)
}

func (c *compiler) group(path, element string, bindings []binding) {
	source := "manifest." + path
	if !c.allWhitelisted(bindings) {
		c.unmapped(source, UnmappedValueMarker(path, element))
		return
	}
	for _, b := range bindings {
		c.assign(source, b.symbol, b.value)
	}
}

// groupList applies tables where later elements refine earlier ones, e.g.
// arctic after snowy_mountain sets the stronger ice chance. An element is
// emitted whole or replaced by a single marker.
func (c *compiler) groupList(path string, elements []string, table map[string][]binding) {
	source := "manifest." + path
	for _, e := range elements {
		bindings, ok := table[e]
		if !ok || !c.allWhitelisted(bindings) {
			c.unmapped(source, UnmappedValueMarker(path, e))
			continue
		}
		for _, b := range bindings {
			c.override(source, b.symbol, b.value)
		}
	}
}

func (c *compiler) allWhitelisted(bindings []binding) bool {
	for _, b := range bindings {
		if !c.ref.Has(b.symbol) {
			return false
		}
	}
	return true
}

func (c *compiler) chances(path string, elements []string, table map[string]string) {
	source := "manifest." + path
	for _, e := range elements {
		sym, ok := table[e]
		switch {
		case !ok:
			c.unmapped(source, UnmappedValueMarker(path, e))
		case sym == "":
			// Carried by a resolved parameter.
		default:
			c.guarded(source, sym, "1.0", path, e)
		}
	}
}

func (c *compiler) registry(path string, elements []string, factories map[string]string, registrySym, chanceSym string) {
	source := "manifest." + path
	var entries []string
	for _, e := range elements {
		f, ok := factories[e]
		if !ok {
			c.unmapped(source, UnmappedValueMarker(path, e))
			continue
		}
		entries = append(entries, "("+f+", 1)")
	}
	if len(entries) == 0 {
		return
	}
	if !c.ref.Has(registrySym) || !c.ref.Has(chanceSym) {
		c.unmapped(source, UnmappedValueMarker(path, strings.Join(elements, ",")))
		return
	}
	c.assign(source, registrySym, "["+strings.Join(entries, ", ")+"]")
	c.assign(source, chanceSym, "1.0")
}

func (c *compiler) artifact(instruction string) *schema.ConfigArtifact {
	var b strings.Builder
	b.WriteString("# Generated scene configuration\n")
	if instruction = strings.TrimSpace(instruction); instruction != "" {
		fmt.Fprintf(&b, "# Instruction: %s\n", strings.ReplaceAll(instruction, "\n", " "))
	}
	b.WriteString("\n")
	for _, l := range c.lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	out := c.out
	out.Text = b.String()
	if out.Unmapped == nil {
		out.Unmapped = []string{}
	}
	return &out
}

// =============================================================================
// Literal formatting
// =============================================================================

// formatValue renders v in the reference's literal shape. Tuples keep their
// arity with the last element replaced, so ("uniform", 0, 0.0015) becomes
// ("uniform", 0, v).
func formatValue(spec schema.Spec, v float64, shape Shape) string {
	scalar := formatNumber(v, spec.Kind == schema.KindInt || (shape.Kind == ShapeNumber && shape.Integral && v == math.Trunc(v)))
	if shape.Kind == ShapeTuple && len(shape.Elements) > 0 {
		elems := append([]string(nil), shape.Elements...)
		elems[len(elems)-1] = scalar
		return "(" + strings.Join(elems, ", ") + ")"
	}
	return scalar
}

// sameLiteral compares two literals ignoring whitespace and numeric
// spelling, so 0.50 equals 0.5.
func sameLiteral(got, want string) bool {
	g, w := parseShape(compact(got)), parseShape(compact(want))
	if g.Kind != w.Kind {
		return false
	}
	if g.Kind == ShapeTuple || g.Kind == ShapeList {
		if len(g.Elements) != len(w.Elements) {
			return false
		}
		for i := range g.Elements {
			if !sameLiteral(g.Elements[i], w.Elements[i]) {
				return false
			}
		}
		return true
	}
	if g.Kind == ShapeNumber {
		gv, gerr := strconv.ParseFloat(g.Raw, 64)
		wv, werr := strconv.ParseFloat(w.Raw, 64)
		return gerr == nil && werr == nil && gv == wv
	}
	return g.Raw == w.Raw
}

// checkShape returns a non-empty reason when value does not have the
// reference literal's form.
func checkShape(ref Shape, value string) string {
	got := parseShape(compact(value))
	if got.Kind != ref.Kind {
		return fmt.Sprintf("value %s is a %s, reference is a %s", value, got.Kind, ref.Kind)
	}
	switch got.Kind {
	case ShapeNumber:
		if _, err := strconv.ParseFloat(got.Raw, 64); err != nil {
			return fmt.Sprintf("value %s is not a number", value)
		}
	case ShapeTuple:
		if len(got.Elements) != len(ref.Elements) {
			return fmt.Sprintf("tuple %s has %d elements, reference has %d", value, len(got.Elements), len(ref.Elements))
		}
	}
	return ""
}

// compact drops whitespace outside quotes.
func compact(s string) string {
	var (
		b     strings.Builder
		quote byte
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == ' ' || ch == '\t':
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// formatNumber writes the shortest round-trip form, with a decimal point
// unless integral output is requested.
func formatNumber(v float64, integral bool) string {
	if integral {
		return strconv.FormatInt(int64(math.Round(v)), 10)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// =============================================================================
// Oracle mode
// =============================================================================

func (s *Synthesizer) synthesizeWithOracle(ctx context.Context, params *schema.ParameterSet, m *schema.Manifest, instruction string) (*schema.ConfigArtifact, error) {
	paramsJSON, _ := json.MarshalIndent(params.Flat(), "", "  ")
	var manifestJSON []byte
	if m != nil {
		manifestJSON, _ = json.MarshalIndent(m, "", "  ")
	}
	reply, err := s.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: oraclePrompt(instruction, paramsJSON, manifestJSON, s.ref.Text())},
		{Role: llm.RoleUser, Content: "Compile the parameters into a final .gin file."},
	}, oracle.ChatOptions{Temperature: synthTemperature})
	if err != nil {
		return nil, schema.NewStageError(schema.StageSynthesize, schema.ErrOracle, err)
	}
	art, err := s.checkOracleGin(reply, params, instruction)
	if err != nil {
		s.logger.Warn("synthesizer: rejected oracle gin", slog.String("error", err.Error()))
		return nil, err
	}
	return art, nil
}

// checkOracleGin accepts oracle text only when every binding line uses a
// whitelisted symbol exactly once. Symbols bound to resolved keys must carry
// the resolved value; all others must match the reference literal shape.
// Scene keys the oracle neither bound nor marked are completed
// deterministically.
func (s *Synthesizer) checkOracleGin(reply string, params *schema.ParameterSet, instruction string) (*schema.ConfigArtifact, error) {
	text := oracle.StripCodeFence(reply)
	c := newCompiler(s.ref)
	var violations []schema.Violation
	marked := make(map[string]bool)

	symbolSpec := make(map[string]schema.Spec)
	for _, spec := range params.Schema.Specs {
		if sym := c.symbolFor(spec.Key); sym != "" {
			symbolSpec[sym] = spec
		}
	}

	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if m := unmappedKeyLine.FindStringSubmatch(line); m != nil {
				key := schema.Key(m[1])
				if _, ok := params.Schema.Lookup(key); ok && !marked[m[1]] && c.symbolFor(key) == "" {
					marked[m[1]] = true
					c.unmapped(m[1], UnmappedKeyMarker(m[1]))
				}
			}
			continue
		}
		symbol, value, err := splitBinding(line)
		if err != nil {
			violations = append(violations, schema.Violation{Key: schema.Key(fmt.Sprintf("line %d", i+1)), Reason: err.Error()})
			continue
		}
		if !s.ref.Has(symbol) {
			violations = append(violations, schema.Violation{Key: schema.Key(symbol), Reason: "symbol is not in the reference whitelist"})
			continue
		}
		if _, dup := c.assigned[symbol]; dup {
			violations = append(violations, schema.Violation{Key: schema.Key(symbol), Reason: "symbol assigned twice"})
			continue
		}
		shape, _ := s.ref.Shape(symbol)
		source := "oracle"
		if spec, ok := symbolSpec[symbol]; ok {
			source = string(spec.Key)
			want := formatValue(spec, params.Values[spec.Key], shape)
			if !sameLiteral(value, want) {
				violations = append(violations, schema.Violation{Key: spec.Key,
					Reason: fmt.Sprintf("%s = %s does not match resolved value %s", symbol, value, want)})
				continue
			}
		} else if reason := checkShape(shape, value); reason != "" {
			violations = append(violations, schema.Violation{Key: schema.Key(symbol), Reason: reason})
			continue
		}
		c.assign(source, symbol, value)
	}
	if len(violations) > 0 {
		return nil, schema.NewStageError(schema.StageSynthesize, schema.ErrSchemaViolation,
			&schema.ViolationError{Schema: "gin", Violations: violations})
	}

	for _, spec := range params.Schema.Specs {
		sym := c.symbolFor(spec.Key)
		switch {
		case sym == "" && !marked[string(spec.Key)]:
			c.unmapped(string(spec.Key), UnmappedKeyMarker(string(spec.Key)))
		case sym != "":
			if _, ok := c.assigned[sym]; !ok {
				shape, _ := s.ref.Shape(sym)
				c.assign(string(spec.Key), sym, formatValue(spec, params.Values[spec.Key], shape))
			}
		}
	}
	return c.artifact(instruction), nil
}
