// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/knowledge"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

const objectTemperature = 0.3

// declPattern matches "- name (float, 0.1 to 2.0): description". The range
// is optional; bool declarations never carry one.
var declPattern = regexp.MustCompile(`^\s*-\s*([A-Za-z_][A-Za-z0-9_]*)\s*\((float|int|bool)(?:\s*,\s*(-?[\d.]+)\s*to\s*(-?[\d.]+))?\)\s*:\s*(.*)$`)

// ParseDeclarations derives the object schema declared in a documentation
// chunk. The schema is named after the canonical generator name.
//
// Outputs:
//   - *schema.Schema: Declared keys in documentation order.
//   - error: Wraps schema.ErrSchemaViolation when the chunk declares no
//     parameters, repeats a name, or has a malformed range.
func ParseDeclarations(canonical, doc string) (*schema.Schema, error) {
	var specs []schema.Spec
	for _, line := range strings.Split(doc, "\n") {
		m := declPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		spec := schema.Spec{Key: schema.Key(m[1]), Doc: strings.TrimSpace(m[5])}
		switch m[2] {
		case "bool":
			spec.Kind, spec.Min, spec.Max, spec.Bounded = schema.KindBinary, 0, 1, true
		case "int":
			spec.Kind = schema.KindInt
		default:
			spec.Kind = schema.KindFloat
		}
		if m[3] != "" && spec.Kind != schema.KindBinary {
			lo, err1 := strconv.ParseFloat(m[3], 64)
			hi, err2 := strconv.ParseFloat(m[4], 64)
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("%w: %s: malformed range for %q", schema.ErrSchemaViolation, canonical, m[1])
			}
			spec.Min, spec.Max, spec.Bounded = lo, hi, true
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: %s declares no parameters", schema.ErrSchemaViolation, canonical)
	}
	s, err := schema.NewSchema(canonical, specs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrSchemaViolation, err)
	}
	return s, nil
}

// ObjectResult is the resolved parameter set for one entity.
type ObjectResult struct {
	Factory string
	Label   string
	Params  *schema.ParameterSet
	Mode    string
}

// ObjectOption configures an ObjectResolver.
type ObjectOption func(*ObjectResolver)

// WithObjectOracle asks the generation oracle for the parameter dictionary.
// Keys it leaves out are filled by grounding.
func WithObjectOracle(client oracle.ChatClient) ObjectOption {
	return func(r *ObjectResolver) { r.client = client }
}

// ObjectResolver grounds an instruction against a generator's declared
// parameters.
//
// Thread Safety: ObjectResolver is safe for concurrent use.
type ObjectResolver struct {
	client oracle.ChatClient
	logger *slog.Logger
}

// NewObjectResolver creates an object resolver.
func NewObjectResolver(logger *slog.Logger, opts ...ObjectOption) *ObjectResolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &ObjectResolver{logger: logger.With(slog.String("component", "resolver"))}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveObject produces a complete set over the schema declared in the
// match's documentation.
//
// Outputs:
//   - *ObjectResult: Validated set.
//   - error: *schema.StageError for StageResolve. Oracle replies naming an
//     undeclared parameter or an out-of-range value are schema violations.
func (r *ObjectResolver) ResolveObject(ctx context.Context, instruction string, match knowledge.Match) (*ObjectResult, error) {
	s, err := ParseDeclarations(match.CanonicalName, match.Documentation)
	if err != nil {
		return nil, schema.NewStageError(schema.StageResolve, schema.ErrSchemaViolation, err)
	}
	grounded := GroundObject(s, instruction)
	res := &ObjectResult{Factory: match.CanonicalName, Label: match.DisplayLabel, Params: grounded, Mode: ModeGrounded}

	if r.client != nil {
		p, filled, err := r.resolveWithOracle(ctx, instruction, match, s, grounded)
		if err != nil {
			return nil, err
		}
		res.Params, res.Mode = p, ModeOracle
		if filled > 0 {
			res.Mode = ModeOracleFilled
		}
	}
	if err := res.Params.Validate(); err != nil {
		return nil, schema.NewStageError(schema.StageResolve, schema.ErrSchemaViolation, err)
	}
	return res, nil
}

// RefineObject applies critic feedback to a previous object result.
// Non-actionable feedback returns prev unchanged.
func (r *ObjectResolver) RefineObject(prev *ObjectResult, fb *schema.Feedback) (*ObjectResult, []Adjustment, error) {
	if !fb.Actionable() {
		return prev, nil, nil
	}
	next, adj, err := Refine(prev.Params, fb)
	if err != nil {
		return nil, nil, schema.NewStageError(schema.StageResolve, schema.ErrSchemaViolation, err)
	}
	r.logger.Info("resolver: object refined",
		slog.String("factory", prev.Factory),
		slog.Int("adjusted", len(adj)))
	return &ObjectResult{Factory: prev.Factory, Label: prev.Label, Params: next, Mode: ModeRefined}, adj, nil
}

// resolveWithOracle returns the oracle's parameters and the number of keys it
// omitted, which are filled from grounding and tagged defaulted.
func (r *ObjectResolver) resolveWithOracle(ctx context.Context, instruction string, match knowledge.Match, s *schema.Schema, grounded *schema.ParameterSet) (*schema.ParameterSet, int, error) {
	keyObj := strings.ToLower(match.DisplayLabel)
	reply, err := r.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(objectSystemPrompt, match.CanonicalName, match.Documentation)},
		{Role: llm.RoleUser, Content: fmt.Sprintf(objectUserPrompt, keyObj, instruction, match.CanonicalName)},
	}, oracle.ChatOptions{Temperature: objectTemperature})
	if err != nil {
		return nil, 0, schema.NewStageError(schema.StageResolve, schema.ErrOracle, err)
	}

	raw, err := parseParamsReply(reply)
	if err != nil {
		r.logger.Warn("resolver: unparseable object parameters", slog.String("reply", llm.SafeLogString(reply)))
		return nil, 0, schema.NewStageError(schema.StageResolve, schema.ErrParseFailure, err)
	}
	if len(raw) == 0 {
		r.logger.Warn("resolver: oracle returned no object parameters",
			slog.String("factory", match.CanonicalName))
		return nil, 0, schema.NewStageError(schema.StageResolve, schema.ErrParseFailure,
			fmt.Errorf("empty parameter dictionary for %s", match.CanonicalName))
	}

	p := grounded.Clone()
	for _, spec := range s.Specs {
		p.Provenance[spec.Key] = schema.ProvenanceDefaulted
	}
	var violations []schema.Violation
	for name, v := range raw {
		key := schema.Key(name)
		spec, ok := s.Lookup(key)
		if !ok {
			violations = append(violations, schema.Violation{Key: key, Reason: "parameter is not declared"})
			continue
		}
		num, reason := coerce(spec, v)
		if reason == "" {
			reason = spec.Check(num)
		}
		if reason != "" {
			violations = append(violations, schema.Violation{Key: key, Reason: reason})
			continue
		}
		p.Values[key] = num
		p.Provenance[key] = schema.ProvenanceInferred
	}
	if len(violations) > 0 {
		sort.Slice(violations, func(i, j int) bool { return violations[i].Key < violations[j].Key })
		return nil, 0, schema.NewStageError(schema.StageResolve, schema.ErrSchemaViolation,
			&schema.ViolationError{Schema: s.Name, Violations: violations})
	}
	filled := 0
	for _, prov := range p.Provenance {
		if prov == schema.ProvenanceDefaulted {
			filled++
		}
	}
	return p, filled, nil
}

// parseParamsReply reads the dictionary from the fenced body, falling back
// once to the outermost brace span when the model wrapped it in prose.
func parseParamsReply(reply string) (map[string]any, error) {
	body := oracle.StripCodeFence(reply)
	raw, err := schema.ParseDictLiteral(body)
	if err == nil {
		return raw, nil
	}
	start, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return nil, err
	}
	return schema.ParseDictLiteral(body[start : end+1])
}

// coerce accepts numbers for every kind and booleans for binary keys only.
func coerce(spec schema.Spec, v any) (float64, string) {
	switch x := v.(type) {
	case float64:
		return x, ""
	case bool:
		if spec.Kind != schema.KindBinary {
			return 0, "expected a number, got bool"
		}
		return boolFloat(x), ""
	default:
		return 0, fmt.Sprintf("expected a number, got %T", v)
	}
}

// =============================================================================
// Object grounding
// =============================================================================

type wordValue struct {
	word  string
	value float64
}

// hueWords is ordered; the last listed word present wins.
var hueWords = []wordValue{
	{"red", 0}, {"crimson", 0}, {"orange", 0.08}, {"autumn", 0.08}, {"golden", 0.12},
	{"yellow", 0.15}, {"green", 0.3}, {"teal", 0.5}, {"blue", 0.6}, {"purple", 0.78},
	{"violet", 0.78}, {"magenta", 0.88}, {"pink", 0.9},
}

var seasonWords = []wordValue{
	{"spring", 0}, {"summer", 1}, {"autumn", 2}, {"fall", 2}, {"winter", 3},
}

func lastWordValue(table []wordValue, words map[string]bool, fallback float64) float64 {
	for _, wv := range table {
		if words[wv.word] {
			fallback = wv.value
		}
	}
	return fallback
}

// GroundObject assigns every declared key from the instruction's wording.
// Keys the wording does not touch get a neutral default: the midpoint of a
// bounded range, 0 for binary, 1.0 when unbounded.
func GroundObject(s *schema.Schema, instruction string) *schema.ParameterSet {
	words := wordSet(instruction)
	has := func(ws ...string) bool {
		for _, w := range ws {
			if words[w] {
				return true
			}
		}
		return false
	}

	p := schema.NewParameterSet(s)
	for _, spec := range s.Specs {
		v := neutral(spec)
		name := nameOf(spec.Key)
		switch {
		case spec.Kind == schema.KindBinary:
			v = binaryFromWords(name, words)
		case strings.Contains(name, "season") && spec.Kind == schema.KindInt:
			v = lastWordValue(seasonWords, words, v)
		case hueKeys(spec.Key):
			v = lastWordValue(hueWords, words, v)
		case saturationKeys(spec.Key):
			if has("vivid", "vibrant", "colorful", "saturated", "bright") {
				v = fraction(spec, 0.9, 0.9)
			} else if has("pale", "faded", "dull", "washed", "muted") {
				v = fraction(spec, 0.3, 0.3)
			}
		case countKeys(spec.Key), densityKeys(spec.Key):
			if has("many", "dense", "lush", "lots", "bushy", "full", "thick") {
				v = fraction(spec, 0.8, 8)
			} else if has("few", "sparse", "bare", "thin") {
				v = fraction(spec, 0.2, 0.5)
			}
		case thicknessKeys(spec.Key) && has("thin", "delicate", "slender", "skinny"):
			v = fraction(spec, 0.15, 0.5)
		case thicknessKeys(spec.Key) && has("thick", "sturdy", "chunky", "stout"):
			v = fraction(spec, 0.85, 2)
		case sizeKeys(spec.Key):
			if has("tiny", "small", "little", "miniature", "short", "young") {
				v = fraction(spec, 0.15, 0.5)
			} else if has("large", "huge", "big", "tall", "giant", "massive", "old") {
				v = fraction(spec, 0.85, 2)
			}
		}
		p.Values[spec.Key] = spec.Clamp(v)
		p.Provenance[spec.Key] = schema.ProvenanceInferred
	}
	return p
}

func neutral(spec schema.Spec) float64 {
	switch {
	case spec.Kind == schema.KindBinary:
		return 0
	case spec.Bounded:
		return spec.Clamp((spec.Min + spec.Max) / 2)
	default:
		return 1
	}
}

// fraction places a value at frac of a bounded range; unbounded keys use
// the multiplier applied to the neutral value instead.
func fraction(spec schema.Spec, frac, unboundedMul float64) float64 {
	if !spec.Bounded {
		return unboundedMul
	}
	return spec.Min + frac*spec.Width()
}

// binaryFromWords sets has_X and is_X flags when X is mentioned, unless it
// is negated ("no lid", "without flowers").
func binaryFromWords(name string, words map[string]bool) float64 {
	var subject string
	switch {
	case strings.HasPrefix(name, "has_"):
		subject = strings.TrimPrefix(name, "has_")
	case strings.HasPrefix(name, "is_"):
		subject = strings.TrimPrefix(name, "is_")
	default:
		subject = name
	}
	subject = strings.TrimSuffix(subject, "s")
	if words["no "+subject] || words["without "+subject] {
		return 0
	}
	if words[subject] {
		return 1
	}
	return 0
}

// wordSet lowercases the instruction into single words, their simple
// singulars, and "no X" / "without X" negation pairs.
func wordSet(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool, 2*len(fields))
	for i, f := range fields {
		out[f] = true
		single := strings.TrimSuffix(f, "s")
		out[single] = true
		if i > 0 && (fields[i-1] == "no" || fields[i-1] == "without") {
			out[fields[i-1]+" "+single] = true
		}
	}
	return out
}
