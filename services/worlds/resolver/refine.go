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
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

const (
	// refineStepFraction is the share of a bounded key's range moved per cue.
	refineStepFraction = 0.25

	// refineUnboundedFactor scales unbounded keys multiplicatively.
	refineUnboundedFactor = 1.25
)

// keyClass selects the keys a cue acts on.
type keyClass func(k schema.Key) bool

func nameOf(k schema.Key) string {
	s := string(k)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func nameHasAny(parts ...string) keyClass {
	return func(k schema.Key) bool {
		n := nameOf(k)
		for _, p := range parts {
			if strings.Contains(n, p) {
				return true
			}
		}
		return false
	}
}

// densityKeys excludes atmospheric densities, which have their own cues.
func densityKeys(k schema.Key) bool {
	return strings.Contains(nameOf(k), "density") && !fogKeys(k) && !dustKeys(k)
}

func countKeys(k schema.Key) bool { return strings.HasPrefix(nameOf(k), "n_") }

func fogKeys(k schema.Key) bool { return strings.Contains(string(k), "fog") }

func dustKeys(k schema.Key) bool { return strings.Contains(string(k), "dust") }

var (
	sizeKeys       = nameHasAny("scale", "size", "radius", "length", "height", "width")
	intensityKeys  = nameHasAny("intensity")
	elevationKeys  = nameHasAny("elevation")
	saturationKeys = nameHasAny("saturation")
	hueKeys        = nameHasAny("hue")
	thicknessKeys  = nameHasAny("thickness", "radius")
)

// cue maps feedback phrases to a direction on a class of keys.
type cue struct {
	name    string
	phrases []string
	effects []effect
}

type effect struct {
	keys      keyClass
	direction float64
}

// cues is the refinement table. All matching cues contribute; directions on
// the same key are summed, so contradictory cues cancel out.
var cues = []cue{
	{"too_small", []string{"too small", "too tiny", "tiny", "bigger", "larger", "too short", "taller", "undersized", "scale up"},
		[]effect{{sizeKeys, +1}}},
	{"too_large", []string{"too large", "too big", "too tall", "huge", "smaller", "shorter", "oversized", "enormous", "scale down"},
		[]effect{{sizeKeys, -1}}},
	{"too_dense", []string{"too dense", "crowded", "cluttered", "too many", "fewer", "overgrown"},
		[]effect{{densityKeys, -1}, {countKeys, -1}}},
	{"too_sparse", []string{"too sparse", "empty", "barren", "too few", "more trees", "more vegetation", "denser", "more plants"},
		[]effect{{densityKeys, +1}, {countKeys, +1}}},
	{"too_dark", []string{"too dark", "black", "dim", "underexposed", "can't see", "cannot see", "not visible"},
		[]effect{{intensityKeys, +1}, {elevationKeys, +1}, {fogKeys, -1}}},
	{"too_bright", []string{"too bright", "washed out", "overexposed", "blown out", "glare"},
		[]effect{{intensityKeys, -1}}},
	{"too_foggy", []string{"too foggy", "foggy", "hazy", "murky", "too much fog", "misty"},
		[]effect{{fogKeys, -1}}},
	{"too_dusty", []string{"too dusty", "dusty", "too much dust"},
		[]effect{{dustKeys, -1}}},
	{"too_thin", []string{"too thin", "too skinny", "thicker", "fragile"},
		[]effect{{thicknessKeys, +1}}},
	{"too_thick", []string{"too thick", "thinner", "chunky", "bulky"},
		[]effect{{thicknessKeys, -1}}},
	{"too_pale", []string{"pale", "dull", "faded", "desaturated", "grey", "gray", "colorless", "more color", "more vivid"},
		[]effect{{saturationKeys, +1}}},
	{"too_garish", []string{"garish", "oversaturated", "too vivid", "too colorful", "too saturated", "neon"},
		[]effect{{saturationKeys, -1}}},
	{"wrong_color", []string{"wrong color", "wrong colour", "color is off", "colour is off", "different color", "different hue", "tint", "hue"},
		[]effect{{hueKeys, +1}}},
}

var cuePatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(cues))
	for i, c := range cues {
		out[i] = phrasePattern(c.phrases)
	}
	return out
}()

var (
	setDirective  = regexp.MustCompile("(?i)\\b(?:set|change|make)\\s+`?([a-z_][a-z0-9_.]*)`?\\s+(?:to|=)\\s+(-?\\d+(?:\\.\\d+)?|true|false)")
	upDirective   = regexp.MustCompile("(?i)\\b(?:increase|raise|boost|more)\\s+(?:the\\s+)?`?([a-z_][a-z0-9_.]*)`?")
	downDirective = regexp.MustCompile("(?i)\\b(?:decrease|reduce|lower|less)\\s+(?:the\\s+)?`?([a-z_][a-z0-9_.]*)`?")
)

// Adjustment records one refined key.
type Adjustment struct {
	Key   schema.Key `json:"key"`
	From  float64    `json:"from"`
	To    float64    `json:"to"`
	Cause string     `json:"cause"`
}

// Refine derives a complete new parameter set from prev and feedback.
//
// Description:
//
//	When feedback is nil, valid, or empty, refinement is disabled and
//	(nil, nil, nil) is returned; callers then run a first pass instead.
//	Explicit directives ("set leaf_density to 0.0", "increase scale") win
//	over phrase cues for the keys they name. Bounded keys move by a quarter
//	of their range per net direction and are clamped; unbounded keys are
//	scaled by 1.25. Adjusted keys get provenance refined, every other key
//	is carried over unchanged.
//
// Outputs:
//   - *schema.ParameterSet: Complete, validated set.
//   - []Adjustment: Keys that changed, sorted by key.
//   - error: Non-nil when prev is invalid or a directive value does not
//     parse. Out-of-range directive values are clamped.
func Refine(prev *schema.ParameterSet, fb *schema.Feedback) (*schema.ParameterSet, []Adjustment, error) {
	if !fb.Actionable() {
		return nil, nil, nil
	}
	if err := prev.Validate(); err != nil {
		return nil, nil, fmt.Errorf("refine: previous set: %w", err)
	}

	next := prev.Clone()
	for k := range next.Provenance {
		next.Provenance[k] = schema.ProvenanceCarriedOver
	}

	msg := strings.ToLower(fb.Message)
	explicit := make(map[schema.Key]bool)
	var adjustments []Adjustment

	for _, m := range setDirective.FindAllStringSubmatch(msg, -1) {
		key, spec, ok := resolveKey(prev.Schema, m[1])
		if !ok {
			continue
		}
		v, err := directiveValue(m[2])
		if err != nil {
			return nil, nil, err
		}
		v = spec.Clamp(v)
		explicit[key] = true
		adjustments = appendAdjust(adjustments, next, key, v, "directive:set")
	}

	net := make(map[schema.Key]float64)
	causes := make(map[schema.Key][]string)
	addDir := func(k schema.Key, dir float64, cause string) {
		if explicit[k] {
			return
		}
		net[k] += dir
		causes[k] = append(causes[k], cause)
	}
	for _, m := range upDirective.FindAllStringSubmatch(msg, -1) {
		if key, _, ok := resolveKey(prev.Schema, m[1]); ok {
			addDir(key, +1, "directive:increase")
		}
	}
	for _, m := range downDirective.FindAllStringSubmatch(msg, -1) {
		if key, _, ok := resolveKey(prev.Schema, m[1]); ok {
			addDir(key, -1, "directive:decrease")
		}
	}
	for i, c := range cues {
		if !cuePatterns[i].MatchString(msg) {
			continue
		}
		for _, e := range c.effects {
			for _, spec := range prev.Schema.Specs {
				if e.keys(spec.Key) {
					addDir(spec.Key, e.direction, c.name)
				}
			}
		}
	}

	keys := make([]schema.Key, 0, len(net))
	for k := range net {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		dir := net[k]
		if dir == 0 {
			continue
		}
		spec, _ := prev.Schema.Lookup(k)
		adjustments = appendAdjust(adjustments, next, k, step(spec, next.Values[k], dir), strings.Join(causes[k], ","))
	}

	if err := next.Validate(); err != nil {
		return nil, nil, fmt.Errorf("refine: %w", err)
	}
	sort.SliceStable(adjustments, func(i, j int) bool { return adjustments[i].Key < adjustments[j].Key })
	return next, adjustments, nil
}

func appendAdjust(adj []Adjustment, p *schema.ParameterSet, k schema.Key, v float64, cause string) []Adjustment {
	from := p.Values[k]
	if from == v {
		return adj
	}
	p.Values[k] = v
	p.Provenance[k] = schema.ProvenanceRefined
	return append(adj, Adjustment{Key: k, From: from, To: v, Cause: cause})
}

// step moves v by dir steps.
func step(spec schema.Spec, v, dir float64) float64 {
	switch {
	case spec.Kind == schema.KindBinary:
		if dir > 0 {
			return 1
		}
		return 0
	case spec.Bounded && spec.Kind == schema.KindFloat && hueKeys(spec.Key) && spec.Width() > 0:
		// Hue is circular.
		w := spec.Width()
		off := math.Mod(v-spec.Min+w*refineStepFraction*dir, w)
		if off < 0 {
			off += w
		}
		return spec.Min + off
	case spec.Bounded:
		delta := spec.Width() * refineStepFraction * dir
		if spec.Kind == schema.KindInt && math.Abs(delta) < 1 {
			delta = math.Copysign(1, dir)
		}
		return spec.Clamp(v + delta)
	default:
		if v == 0 {
			return spec.Clamp(refineStepFraction * dir)
		}
		factor := math.Pow(refineUnboundedFactor, dir)
		if v < 0 {
			factor = 1 / factor
		}
		return spec.Clamp(v * factor)
	}
}

// resolveKey matches a directive name against full keys first, then the
// trailing component ("tree_density" names vegetation.tree_density).
func resolveKey(s *schema.Schema, name string) (schema.Key, schema.Spec, bool) {
	name = strings.Trim(strings.ToLower(name), ".")
	if spec, ok := s.Lookup(schema.Key(name)); ok {
		return spec.Key, spec, true
	}
	for _, spec := range s.Specs {
		if nameOf(spec.Key) == name {
			return spec.Key, spec, true
		}
	}
	return "", schema.Spec{}, false
}

func directiveValue(s string) (float64, error) {
	switch s {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: directive value %q", schema.ErrParseFailure, s)
	}
	return v, nil
}

// phrasePattern matches any of phrases as whole words, so "dim" does not
// fire on "dimensions".
func phrasePattern(phrases []string) *regexp.Regexp {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}
