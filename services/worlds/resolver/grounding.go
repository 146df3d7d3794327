// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver grounds qualitative descriptors into typed parameter sets
// and refines them from critic feedback.
//
// Description:
//
//	Scene resolution runs two passes over schema.SceneSchema: grounding maps
//	descriptors onto bucketed sub-ranges, then consistency rules override
//	conflicting values. Object resolution derives a schema from the
//	parameter declarations in a documentation chunk. Refinement adjusts the
//	keys a feedback message implicates and carries every other key over.
//
// Thread Safety:
//
//	Resolvers hold no mutable state and are safe for concurrent use.
package resolver

import (
	"strings"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

// band is a closed sub-range of a key's documented range.
type band struct{ lo, hi float64 }

func (b band) mid() float64 { return (b.lo + b.hi) / 2 }

// Density tiers for vegetation.tree_density. Tiers are disjoint and ordered
// except that very sparse sits inside the low end of sparse.
var treeDensityTiers = map[string]band{
	"high":        {0.11, 0.15},
	"medium":      {0.05, 0.10},
	"low":         {0.01, 0.05},
	"sparse":      {0.01, 0.05},
	"very_sparse": {0.01, 0.02},
}

// Bush density follows the same tiers scaled into [0.03, 0.12].
var bushDensityTiers = map[string]band{
	"high":        {0.10, 0.12},
	"medium":      {0.06, 0.09},
	"low":         {0.03, 0.05},
	"sparse":      {0.03, 0.05},
	"very_sparse": {0.03, 0.035},
}

var maxSpeciesByTier = map[string]float64{
	"high": 5, "medium": 3, "low": 2, "sparse": 2, "very_sparse": 1,
}

// lightBucket couples sun elevation and fog for one lighting mood.
type lightBucket struct {
	name      string
	words     []string
	elevation band
	fog       band
}

// Mood buckets are tried in order; the first whose words appear wins.
var moodBuckets = []lightBucket{
	{"spooky", []string{"spooky", "dim", "eerie", "gloomy", "dark", "haunted", "ominous", "moody"}, band{6, 15}, band{0.01, 0.02}},
	{"bright", []string{"bright", "sunny", "cheerful", "vibrant", "clear"}, band{40, 70}, band{0, 0.001}},
	{"dawn_dusk", []string{"dawn", "dusk", "sunset", "sunrise", "golden_hour", "twilight"}, band{6, 20}, band{0, 0.01}},
}

// Time of day sets elevation when no mood bucket matched.
var timeOfDayElevation = map[string]float64{
	"dawn":   13,
	"sunset": 13,
	"noon":   70,
	"night":  6,
}

const (
	defaultOverallScale = 5.0
	forestOverallScale  = 10.0
	ruggedOverallScale  = 20.0
	defaultSunIntensity = 0.7
	defaultSunElevation = 45.0
	foggyWeatherFog     = 0.012
	dustyDensity        = 0.012
	biomeDesertTrees    = 0.02
	biomeForestTrees    = 0.11
	biomeSnowyTrees     = 0.01
)

// descriptors is the bag of normalized qualitative tokens a scene exposes.
type descriptors struct {
	m     *schema.Manifest
	text  string
	words map[string]bool
}

func newDescriptors(m *schema.Manifest, instruction string) descriptors {
	if m == nil {
		m = &schema.Manifest{}
	}
	parts := []string{
		strings.ToLower(instruction),
		m.Atmosphere.LightingMood, m.Atmosphere.Weather, m.Atmosphere.TimeOfDay, m.Atmosphere.Season,
		m.Ecosystem.BiomeType, m.Terrain.GroundCover, m.Ecosystem.VegetationDensity,
		strings.Join(m.Terrain.Landforms, " "),
	}
	text := strings.Join(parts, " ")
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && r != '_' && !(r >= '0' && r <= '9')
	}) {
		words[w] = true
		for _, sub := range strings.Split(w, "_") {
			words[sub] = true
		}
	}
	return descriptors{m: m, text: text, words: words}
}

func (d descriptors) any(words ...string) bool {
	for _, w := range words {
		if d.words[w] {
			return true
		}
	}
	return false
}

// densityTier picks the vegetation tier from the manifest, then from the
// instruction wording. Empty means unspecified.
func (d descriptors) densityTier() string {
	if t := d.m.Ecosystem.VegetationDensity; t != "" {
		if _, ok := treeDensityTiers[t]; ok {
			return t
		}
	}
	switch {
	case strings.Contains(d.text, "very sparse") || d.any("barren"):
		return "very_sparse"
	case d.any("dense", "lush", "thick", "overgrown", "jungle"):
		return "high"
	case d.any("sparse", "scattered", "few"):
		return "sparse"
	case d.any("moderate"):
		return "medium"
	}
	return ""
}

func (d descriptors) isDesert() bool {
	return d.m.HasLandform("desert") || d.any("desert", "dune", "dunes")
}

func (d descriptors) isTropical() bool {
	return d.any("tropical", "rainforest", "jungle")
}

func (d descriptors) isArctic() bool {
	return d.m.HasLandform("arctic", "snowy_mountain") || d.any("arctic", "tundra", "snowy", "glacier", "polar")
}

func (d descriptors) isForest() bool {
	return d.m.HasLandform("forest") || d.any("forest", "woods", "woodland")
}

func (d descriptors) isRugged() bool {
	return d.m.HasLandform("mountain", "canyon", "cliff", "snowy_mountain")
}

func (d descriptors) hasWater() bool {
	for _, w := range d.m.Terrain.WaterBodies {
		if w != "" && w != "none" {
			return true
		}
	}
	return d.m.HasLandform("river", "coast", "under_water", "coral_reef", "kelp_forest") ||
		containsStr(d.m.Dynamics.OtherEffects, "simulated_river") ||
		containsStr(d.m.Dynamics.OtherEffects, "tilted_river") ||
		d.any("lake", "river", "pond", "stream", "ocean", "sea", "waterfall")
}

// GroundScene maps a manifest (and the instruction it came from) onto every
// key of the scene schema. Values are produced inside their documented
// ranges; consistency rules are not applied here.
func GroundScene(m *schema.Manifest, instruction string) *schema.ParameterSet {
	d := newDescriptors(m, instruction)
	values := make(map[schema.Key]float64, len(schema.SceneSchema.Specs))

	scale := defaultOverallScale
	switch {
	case d.isRugged():
		scale = ruggedOverallScale
	case d.isForest():
		scale = forestOverallScale
	}
	values[schema.KeyOverallScale] = scale
	values[schema.KeyGroundChance] = 1
	values[schema.KeyWaterChance] = boolFloat(d.hasWater())

	tier := d.densityTier()
	switch {
	case tier != "":
		values[schema.KeyTreeDensity] = treeDensityTiers[tier].mid()
		values[schema.KeyBushDensity] = bushDensityTiers[tier].mid()
		values[schema.KeyMaxTreeSpecies] = maxSpeciesByTier[tier]
	case d.isDesert():
		values[schema.KeyTreeDensity] = biomeDesertTrees
		values[schema.KeyBushDensity] = bushDensityTiers["low"].mid()
		values[schema.KeyMaxTreeSpecies] = 2
	case d.isArctic():
		values[schema.KeyTreeDensity] = biomeSnowyTrees
		values[schema.KeyBushDensity] = bushDensityTiers["very_sparse"].mid()
		values[schema.KeyMaxTreeSpecies] = 1
	case d.isForest():
		values[schema.KeyTreeDensity] = biomeForestTrees
		values[schema.KeyBushDensity] = bushDensityTiers["medium"].mid()
		values[schema.KeyMaxTreeSpecies] = 3
	default:
		values[schema.KeyTreeDensity] = treeDensityTiers["medium"].mid()
		values[schema.KeyBushDensity] = bushDensityTiers["medium"].mid()
		values[schema.KeyMaxTreeSpecies] = 3
	}

	elevation, fog := defaultSunElevation, 0.0
	matched := false
	for _, b := range moodBuckets {
		if d.any(b.words...) {
			elevation, fog = b.elevation.mid(), b.fog.mid()
			matched = true
			break
		}
	}
	if !matched {
		if e, ok := timeOfDayElevation[d.m.Atmosphere.TimeOfDay]; ok {
			elevation = e
		} else if d.any("noon", "midday") {
			elevation = timeOfDayElevation["noon"]
		} else if d.any("night", "midnight", "nighttime") {
			elevation = timeOfDayElevation["night"]
		}
	}
	if d.m.Atmosphere.Weather == "foggy" || d.any("fog", "foggy", "mist", "misty", "haze", "hazy") {
		if fog < foggyWeatherFog {
			fog = foggyWeatherFog
		}
	}
	values[schema.KeySunElevation] = elevation
	values[schema.KeyFogDensity] = fog

	dust := 0.0
	if d.m.HasParticle("dust") || d.any("dusty", "sandstorm", "dust") {
		dust = dustyDensity
	}
	values[schema.KeyDustDensity] = dust

	values[schema.KeySnowChance] = boolFloat(d.m.Atmosphere.Weather == "snowy" || d.m.HasParticle("snow") || d.any("snowfall", "snowing", "blizzard"))
	values[schema.KeyRainChance] = boolFloat(d.m.Atmosphere.Weather == "rainy" || d.m.HasParticle("rain") || d.any("rain", "rainy", "raining", "storm", "drizzle"))
	values[schema.KeySunIntensity] = defaultSunIntensity

	p := schema.NewParameterSet(schema.SceneSchema)
	for _, spec := range schema.SceneSchema.Specs {
		p.Values[spec.Key] = spec.Clamp(values[spec.Key])
		p.Provenance[spec.Key] = schema.ProvenanceInferred
	}
	return p
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
