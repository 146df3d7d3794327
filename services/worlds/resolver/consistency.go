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
	"math"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

const (
	// DesertTreeCeiling is the highest tree density a desert may carry.
	DesertTreeCeiling = 0.02

	// VisibilityThreshold is the fog or dust density above which the sun
	// must be strengthened to keep the scene from rendering black.
	VisibilityThreshold = 0.01

	// VisibilityFloor is the minimum sun intensity once the threshold is
	// exceeded. It rises linearly to VisibilityCeiling at maximum density.
	VisibilityFloor   = 3.0
	VisibilityCeiling = 15.0
)

// Rule is one hard override. Apply sets every key the rule owns.
type Rule struct {
	Name    string
	applies func(d descriptors, p *schema.ParameterSet) bool
	apply   func(p *schema.ParameterSet)
}

// Rules run in order; a later rule wins when two touch the same key.
var Rules = []Rule{
	{
		Name:    "tropical_no_snow",
		applies: func(d descriptors, _ *schema.ParameterSet) bool { return d.isTropical() },
		apply: func(p *schema.ParameterSet) {
			p.Values[schema.KeySnowChance] = 0
		},
	},
	{
		Name:    "desert_dry_sparse",
		applies: func(d descriptors, _ *schema.ParameterSet) bool { return d.isDesert() },
		apply: func(p *schema.ParameterSet) {
			p.Values[schema.KeyTreeDensity] = math.Min(p.Values[schema.KeyTreeDensity], DesertTreeCeiling)
			p.Values[schema.KeyRainChance] = 0
		},
	},
	{
		Name:    "arctic_snow",
		applies: func(d descriptors, _ *schema.ParameterSet) bool { return d.isArctic() },
		apply: func(p *schema.ParameterSet) {
			p.Values[schema.KeySnowChance] = 1
		},
	},
	{
		Name: "visibility_floor",
		applies: func(_ descriptors, p *schema.ParameterSet) bool {
			return p.Values[schema.KeyFogDensity] > VisibilityThreshold || p.Values[schema.KeyDustDensity] > VisibilityThreshold
		},
		apply: func(p *schema.ParameterSet) {
			p.Values[schema.KeySunIntensity] = math.Max(p.Values[schema.KeySunIntensity], visibilityIntensity(p))
		},
	},
}

// visibilityIntensity lifts the sun in proportion to the thicker of fog and
// dust: VisibilityFloor at the threshold, VisibilityCeiling at the top of
// the fog range.
func visibilityIntensity(p *schema.ParameterSet) float64 {
	density := math.Max(p.Values[schema.KeyFogDensity], p.Values[schema.KeyDustDensity])
	fogSpec, _ := schema.SceneSchema.Lookup(schema.KeyFogDensity)
	span := fogSpec.Max - VisibilityThreshold
	frac := math.Max(0, math.Min(1, (density-VisibilityThreshold)/span))
	return VisibilityFloor + frac*(VisibilityCeiling-VisibilityFloor)
}

// EnforceConsistency applies every rule that fires to p, in place, and
// returns the names of the rules that fired. Overridden keys keep their
// provenance unless it was carried over, in which case they become refined
// because their value no longer comes from the previous set.
func EnforceConsistency(p *schema.ParameterSet, m *schema.Manifest, instruction string) []string {
	d := newDescriptors(m, instruction)
	var fired []string
	for _, r := range Rules {
		if !r.applies(d, p) {
			continue
		}
		before := make(map[schema.Key]float64, len(p.Values))
		for k, v := range p.Values {
			before[k] = v
		}
		r.apply(p)
		for k, v := range p.Values {
			if before[k] != v && p.Provenance[k] == schema.ProvenanceCarriedOver {
				p.Provenance[k] = schema.ProvenanceRefined
			}
		}
		fired = append(fired, r.Name)
	}
	return fired
}
