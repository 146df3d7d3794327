// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// =============================================================================
// Manifest
// =============================================================================

// Manifest is the qualitative description of a scene produced upstream of
// grounding. Stages downstream of the planner only read it.
type Manifest struct {
	Atmosphere      Atmosphere `json:"atmosphere"`
	Terrain         Terrain    `json:"terrain"`
	Ecosystem       Ecosystem  `json:"ecosystem"`
	SurfaceCoverage []string   `json:"surface_coverage"`
	Dynamics        Dynamics   `json:"dynamics"`
}

// Atmosphere groups the sky and weather descriptors.
type Atmosphere struct {
	Season       string `json:"season"`
	Weather      string `json:"weather"`
	TimeOfDay    string `json:"time_of_day"`
	LightingMood string `json:"lighting_mood"`
}

// Terrain groups the landform descriptors.
type Terrain struct {
	Landforms   []string `json:"landforms"`
	WaterBodies []string `json:"water_bodies"`
	GroundCover string   `json:"ground_cover"`
}

// Ecosystem groups biome, vegetation and fauna.
type Ecosystem struct {
	BiomeType         string    `json:"biome_type"`
	PrimaryVegetation []string  `json:"primary_vegetation"`
	GroundDebris      []string  `json:"ground_debris"`
	VegetationDensity string    `json:"vegetation_density"`
	Creatures         Creatures `json:"creatures"`
}

// Creatures lists fauna by locomotion class.
type Creatures struct {
	Ground []string `json:"ground"`
	Flying []string `json:"flying"`
	Swarms []string `json:"swarms"`
}

// Dynamics groups time-varying effects.
type Dynamics struct {
	WindStatus   string   `json:"wind_status"`
	Particles    []string `json:"particles"`
	OtherEffects []string `json:"other_effects"`
}

// Closed vocabularies for the scalar manifest fields. An empty value means
// "unspecified" and is always accepted.
var (
	Seasons             = []string{"spring", "summer", "autumn", "winter"}
	Weathers            = []string{"sunny", "rainy", "foggy", "snowy"}
	TimesOfDay          = []string{"dawn", "noon", "sunset", "night"}
	GroundCovers        = []string{"grass", "sand", "snow", "rocky", "dirt", "forest"}
	VegetationDensities = []string{"very_sparse", "sparse", "low", "medium", "high"}
	WindStatuses        = []string{"calm", "breezy", "stormy"}
)

// Normalize lowercases and trims every descriptor in place so lookups are
// case-insensitive. Spaces inside list values become underscores.
func (m *Manifest) Normalize() {
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		return strings.Join(strings.Fields(s), "_")
	}
	normAll := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if n := norm(s); n != "" {
				out = append(out, n)
			}
		}
		return out
	}
	m.Atmosphere.Season = norm(m.Atmosphere.Season)
	m.Atmosphere.Weather = norm(m.Atmosphere.Weather)
	m.Atmosphere.TimeOfDay = norm(m.Atmosphere.TimeOfDay)
	m.Atmosphere.LightingMood = norm(m.Atmosphere.LightingMood)
	m.Terrain.Landforms = normAll(m.Terrain.Landforms)
	m.Terrain.WaterBodies = normAll(m.Terrain.WaterBodies)
	m.Terrain.GroundCover = norm(m.Terrain.GroundCover)
	m.Ecosystem.BiomeType = norm(m.Ecosystem.BiomeType)
	m.Ecosystem.PrimaryVegetation = normAll(m.Ecosystem.PrimaryVegetation)
	m.Ecosystem.GroundDebris = normAll(m.Ecosystem.GroundDebris)
	m.Ecosystem.VegetationDensity = norm(m.Ecosystem.VegetationDensity)
	m.Ecosystem.Creatures.Ground = normAll(m.Ecosystem.Creatures.Ground)
	m.Ecosystem.Creatures.Flying = normAll(m.Ecosystem.Creatures.Flying)
	m.Ecosystem.Creatures.Swarms = normAll(m.Ecosystem.Creatures.Swarms)
	m.SurfaceCoverage = normAll(m.SurfaceCoverage)
	m.Dynamics.WindStatus = norm(m.Dynamics.WindStatus)
	m.Dynamics.Particles = normAll(m.Dynamics.Particles)
	m.Dynamics.OtherEffects = normAll(m.Dynamics.OtherEffects)
}

// Validate checks the scalar descriptors against their closed vocabularies.
// List elements are not restricted here; the synthesizer reports unknown
// ones as unmapped markers.
func (m *Manifest) Validate() error {
	checks := []struct {
		field string
		value string
		allow []string
	}{
		{"atmosphere.season", m.Atmosphere.Season, Seasons},
		{"atmosphere.weather", m.Atmosphere.Weather, Weathers},
		{"atmosphere.time_of_day", m.Atmosphere.TimeOfDay, TimesOfDay},
		{"terrain.ground_cover", m.Terrain.GroundCover, GroundCovers},
		{"ecosystem.vegetation_density", m.Ecosystem.VegetationDensity, VegetationDensities},
		{"dynamics.wind_status", m.Dynamics.WindStatus, WindStatuses},
	}
	var violations []Violation
	for _, c := range checks {
		if c.value == "" || contains(c.allow, c.value) {
			continue
		}
		violations = append(violations, Violation{
			Key:    Key(c.field),
			Reason: fmt.Sprintf("%q not one of %v", c.value, c.allow),
		})
	}
	if len(violations) > 0 {
		return &ViolationError{Schema: "manifest", Violations: violations}
	}
	return nil
}

// HasLandform reports whether any landform equals one of names.
func (m *Manifest) HasLandform(names ...string) bool {
	return containsAny(m.Terrain.Landforms, names)
}

// HasWaterBody reports whether any water body equals one of names.
func (m *Manifest) HasWaterBody(names ...string) bool {
	return containsAny(m.Terrain.WaterBodies, names)
}

// HasParticle reports whether any particle effect equals one of names.
func (m *Manifest) HasParticle(names ...string) bool {
	return containsAny(m.Dynamics.Particles, names)
}

// DecodeManifest strictly decodes a manifest document.
//
// # Description
//
// Unknown fields and trailing content are rejected as ErrParseFailure.
// Descriptors are normalized and scalar vocabularies validated.
func DecodeManifest(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrParseFailure, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: manifest: trailing content after JSON object", ErrParseFailure)
	}
	m.Normalize()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsAny(list, names []string) bool {
	for _, n := range names {
		if contains(list, n) {
			return true
		}
	}
	return false
}
