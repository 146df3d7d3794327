// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema defines the closed, typed vocabulary shared by every stage of
// the worlds pipeline: parameter keys and their ranges, parameter sets with
// provenance, the qualitative scene manifest, critic feedback, and the error
// taxonomy.
//
// Thread Safety:
//
//	Schema values are immutable after construction and safe for concurrent
//	reads. ParameterSet is a value owned by one run; use Clone to share.
package schema

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Key names one parameter in a schema, e.g. "vegetation.tree_density".
type Key string

// Kind is the declared type of a parameter.
type Kind string

// Parameter kinds.
const (
	// KindFloat is a real value inside [Min, Max].
	KindFloat Kind = "float"

	// KindInt is an integral value inside [Min, Max].
	KindInt Kind = "int"

	// KindBinary is a boolean carried as 0.0 or 1.0.
	KindBinary Kind = "binary"
)

// Spec declares one key: its type, documented range, and a short description.
type Spec struct {
	Key  Key     `json:"key" yaml:"key"`
	Kind Kind    `json:"kind" yaml:"kind"`
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`

	// Bounded is false for declarations without a documented range. Only
	// float and int keys may be unbounded.
	Bounded bool   `json:"bounded" yaml:"bounded"`
	Doc     string `json:"doc,omitempty" yaml:"doc,omitempty"`
}

// Check returns a non-empty reason when v does not satisfy s.
func (s Spec) Check(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "value is not finite"
	}
	switch s.Kind {
	case KindBinary:
		if v != 0 && v != 1 {
			return fmt.Sprintf("binary value must be 0 or 1, got %g", v)
		}
		return ""
	case KindInt:
		if v != math.Trunc(v) {
			return fmt.Sprintf("integer value required, got %g", v)
		}
	}
	if s.Bounded && (v < s.Min || v > s.Max) {
		return fmt.Sprintf("value %g outside [%g, %g]", v, s.Min, s.Max)
	}
	return ""
}

// Clamp forces v into the declared range and type. Used only by refinement,
// which moves values by design; grounding and oracle output are validated,
// never clamped.
func (s Spec) Clamp(v float64) float64 {
	if s.Bounded {
		v = math.Max(s.Min, math.Min(s.Max, v))
	}
	switch s.Kind {
	case KindInt:
		v = math.Round(v)
	case KindBinary:
		if v >= 0.5 {
			return 1
		}
		return 0
	}
	return v
}

// Width returns Max-Min for bounded specs and 0 otherwise.
func (s Spec) Width() float64 {
	if !s.Bounded {
		return 0
	}
	return s.Max - s.Min
}

// Schema is a closed, ordered set of key declarations.
type Schema struct {
	Name  string `json:"name" yaml:"name"`
	Specs []Spec `json:"specs" yaml:"specs"`

	once  sync.Once
	index map[Key]int
}

// NewSchema builds a schema, rejecting duplicate keys and malformed ranges.
func NewSchema(name string, specs []Spec) (*Schema, error) {
	seen := make(map[Key]bool, len(specs))
	for _, s := range specs {
		if s.Key == "" {
			return nil, fmt.Errorf("schema %q: empty key", name)
		}
		if seen[s.Key] {
			return nil, fmt.Errorf("schema %q: duplicate key %q", name, s.Key)
		}
		seen[s.Key] = true
		if s.Bounded && s.Min > s.Max {
			return nil, fmt.Errorf("schema %q: key %q has min %g > max %g", name, s.Key, s.Min, s.Max)
		}
		if s.Kind == KindBinary && !s.Bounded {
			return nil, fmt.Errorf("schema %q: binary key %q must be bounded", name, s.Key)
		}
	}
	out := &Schema{Name: name, Specs: append([]Spec(nil), specs...)}
	return out, nil
}

func (s *Schema) buildIndex() {
	s.once.Do(func() {
		s.index = make(map[Key]int, len(s.Specs))
		for i, sp := range s.Specs {
			s.index[sp.Key] = i
		}
	})
}

// Lookup returns the Spec for key.
func (s *Schema) Lookup(key Key) (Spec, bool) {
	s.buildIndex()
	i, ok := s.index[key]
	if !ok {
		return Spec{}, false
	}
	return s.Specs[i], true
}

// Keys returns the declared keys in declaration order.
func (s *Schema) Keys() []Key {
	keys := make([]Key, len(s.Specs))
	for i, sp := range s.Specs {
		keys[i] = sp.Key
	}
	return keys
}

// SortedKeys returns the declared keys sorted lexically.
func (s *Schema) SortedKeys() []Key {
	keys := s.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// =============================================================================
// Scene Schema
// =============================================================================

// Scene schema keys.
const (
	KeyOverallScale   Key = "terrain.overall_scale"
	KeyGroundChance   Key = "scene.ground_chance"
	KeyWaterChance    Key = "scene.water_chance"
	KeyBushDensity    Key = "vegetation.bush_density"
	KeyTreeDensity    Key = "vegetation.tree_density"
	KeyMaxTreeSpecies Key = "vegetation.max_tree_species"
	KeyFogDensity     Key = "atmosphere.fog_density"
	KeyDustDensity    Key = "atmosphere.dust_density"
	KeySnowChance     Key = "weather.snow_chance"
	KeyRainChance     Key = "weather.rain_chance"
	KeySunElevation   Key = "lighting.sun_elevation"
	KeySunIntensity   Key = "lighting.sun_intensity"
)

// SceneSchemaName identifies the fixed scene schema in serialized sets.
const SceneSchemaName = "scene"

// SceneSchema is the fixed twelve-key output schema of the scene resolver.
var SceneSchema = mustSchema(SceneSchemaName, []Spec{
	{Key: KeyOverallScale, Kind: KindFloat, Min: 5, Max: 50, Bounded: true, Doc: "terrain scale; default 5, forest 10"},
	{Key: KeyGroundChance, Kind: KindBinary, Min: 0, Max: 1, Bounded: true, Doc: "whether terrain ground is generated"},
	{Key: KeyWaterChance, Kind: KindBinary, Min: 0, Max: 1, Bounded: true, Doc: "whether a water body is generated"},
	{Key: KeyBushDensity, Kind: KindFloat, Min: 0.03, Max: 0.12, Bounded: true, Doc: "bush density"},
	{Key: KeyTreeDensity, Kind: KindFloat, Min: 0.01, Max: 0.15, Bounded: true, Doc: "tree density; desert 0.02, forest 0.11, snowy 0.01"},
	{Key: KeyMaxTreeSpecies, Kind: KindInt, Min: 1, Max: 10, Bounded: true, Doc: "distinct tree species; default 3"},
	{Key: KeyFogDensity, Kind: KindFloat, Min: 0, Max: 0.02, Bounded: true, Doc: "volumetric fog density"},
	{Key: KeyDustDensity, Kind: KindFloat, Min: 0, Max: 0.02, Bounded: true, Doc: "atmospheric dust density"},
	{Key: KeySnowChance, Kind: KindBinary, Min: 0, Max: 1, Bounded: true, Doc: "falling snow particles"},
	{Key: KeyRainChance, Kind: KindBinary, Min: 0, Max: 1, Bounded: true, Doc: "falling rain particles"},
	{Key: KeySunElevation, Kind: KindFloat, Min: 6, Max: 90, Bounded: true, Doc: "sun elevation in degrees"},
	{Key: KeySunIntensity, Kind: KindFloat, Min: 0.5, Max: 15, Bounded: true, Doc: "sun strength; typical 0.6-0.8"},
})

func mustSchema(name string, specs []Spec) *Schema {
	s, err := NewSchema(name, specs)
	if err != nil {
		panic(err)
	}
	return s
}
