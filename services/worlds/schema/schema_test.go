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
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validSceneSet returns a complete in-range scene set.
func validSceneSet(t *testing.T) *ParameterSet {
	t.Helper()
	p := NewParameterSet(SceneSchema)
	values := map[Key]float64{
		KeyOverallScale:   10,
		KeyGroundChance:   1,
		KeyWaterChance:    0,
		KeyBushDensity:    0.05,
		KeyTreeDensity:    0.11,
		KeyMaxTreeSpecies: 3,
		KeyFogDensity:     0,
		KeyDustDensity:    0,
		KeySnowChance:     0,
		KeyRainChance:     0,
		KeySunElevation:   45,
		KeySunIntensity:   0.7,
	}
	for k, v := range values {
		require.NoError(t, p.Set(k, v, ProvenanceInferred))
	}
	return p
}

func TestSceneSchema_HasTwelveKeys(t *testing.T) {
	assert.Len(t, SceneSchema.Keys(), 12)
	spec, ok := SceneSchema.Lookup(KeySunIntensity)
	require.True(t, ok)
	assert.Equal(t, 0.5, spec.Min)
	assert.Equal(t, 15.0, spec.Max)
}

func TestParameterSet_Validate(t *testing.T) {
	t.Run("complete set passes", func(t *testing.T) {
		assert.NoError(t, validSceneSet(t).Validate())
	})

	t.Run("out of range value", func(t *testing.T) {
		p := validSceneSet(t)
		p.Values[KeyTreeDensity] = 0.5
		err := p.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrSchemaViolation))
		assert.Contains(t, err.Error(), string(KeyTreeDensity))
	})

	t.Run("missing key", func(t *testing.T) {
		p := validSceneSet(t)
		delete(p.Values, KeyFogDensity)
		delete(p.Provenance, KeyFogDensity)
		err := p.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing")
	})

	t.Run("binary key must be 0 or 1", func(t *testing.T) {
		p := validSceneSet(t)
		p.Values[KeyRainChance] = 0.5
		assert.ErrorIs(t, p.Validate(), ErrSchemaViolation)
	})

	t.Run("integer key must be integral", func(t *testing.T) {
		p := validSceneSet(t)
		p.Values[KeyMaxTreeSpecies] = 2.5
		assert.ErrorIs(t, p.Validate(), ErrSchemaViolation)
	})

	t.Run("foreign key injected directly", func(t *testing.T) {
		p := validSceneSet(t)
		p.Values["lighting.sun_color"] = 1
		p.Provenance["lighting.sun_color"] = ProvenanceInferred
		assert.ErrorIs(t, p.Validate(), ErrSchemaViolation)
	})
}

func TestParameterSet_SetRejectsUnknownKey(t *testing.T) {
	p := NewParameterSet(SceneSchema)
	err := p.Set("terrain.roughness", 1, ProvenanceInferred)
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestParseFlat(t *testing.T) {
	full := func() map[string]any {
		out := make(map[string]any)
		for k, v := range validSceneSet(t).Flat() {
			out[k] = v
		}
		return out
	}

	t.Run("exact key set", func(t *testing.T) {
		p, err := ParseFlat(SceneSchema, full(), ProvenanceInferred)
		require.NoError(t, err)
		assert.Equal(t, ProvenanceInferred, p.Provenance[KeySunElevation])
	})

	t.Run("string value is not coerced", func(t *testing.T) {
		raw := full()
		raw[string(KeyFogDensity)] = "0.01"
		_, err := ParseFlat(SceneSchema, raw, ProvenanceInferred)
		assert.ErrorIs(t, err, ErrSchemaViolation)
	})

	t.Run("extra key", func(t *testing.T) {
		raw := full()
		raw["weather.hail_chance"] = 0.0
		_, err := ParseFlat(SceneSchema, raw, ProvenanceInferred)
		assert.ErrorIs(t, err, ErrSchemaViolation)
	})

	t.Run("out of range is rejected not clamped", func(t *testing.T) {
		raw := full()
		raw[string(KeySunElevation)] = 120.0
		p, err := ParseFlat(SceneSchema, raw, ProvenanceInferred)
		assert.Nil(t, p)
		assert.ErrorIs(t, err, ErrSchemaViolation)
	})
}

func TestParameterSet_JSONRoundTripRebindsSceneSchema(t *testing.T) {
	p := validSceneSet(t)
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var got ParameterSet
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Same(t, SceneSchema, got.Schema)
	assert.True(t, p.SameValues(&got))
}

func TestSpec_Clamp(t *testing.T) {
	spec, _ := SceneSchema.Lookup(KeyMaxTreeSpecies)
	assert.Equal(t, 10.0, spec.Clamp(14.2))
	assert.Equal(t, 2.0, spec.Clamp(2.4))

	bin, _ := SceneSchema.Lookup(KeySnowChance)
	assert.Equal(t, 1.0, bin.Clamp(0.7))
}

func TestDecodeManifest(t *testing.T) {
	t.Run("normalizes and validates", func(t *testing.T) {
		doc := `{"atmosphere":{"season":"Autumn","weather":"foggy","time_of_day":"dawn","lighting_mood":"Spooky"},
			"terrain":{"landforms":["Snowy Mountain"],"water_bodies":["river"],"ground_cover":"snow"},
			"ecosystem":{"biome_type":"tundra","primary_vegetation":["ferns"],"ground_debris":[],
			"vegetation_density":"low","creatures":{"ground":[],"flying":[],"swarms":[]}},
			"surface_coverage":["moss"],"dynamics":{"wind_status":"calm","particles":["snow"],"other_effects":[]}}`
		m, err := DecodeManifest([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, "autumn", m.Atmosphere.Season)
		assert.Equal(t, "spooky", m.Atmosphere.LightingMood)
		assert.True(t, m.HasLandform("snowy_mountain"))
	})

	t.Run("unknown field is a parse failure", func(t *testing.T) {
		_, err := DecodeManifest([]byte(`{"atmosphere":{"colour":"red"}}`))
		assert.ErrorIs(t, err, ErrParseFailure)
	})

	t.Run("scalar outside vocabulary", func(t *testing.T) {
		_, err := DecodeManifest([]byte(`{"atmosphere":{"season":"monsoon"}}`))
		assert.ErrorIs(t, err, ErrSchemaViolation)
	})
}

func TestStageError_Is(t *testing.T) {
	cause := fmt.Errorf("status 503")
	err := fmt.Errorf("run: %w", NewStageError(StageCritique, ErrOracle, cause))
	assert.ErrorIs(t, err, ErrOracle)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrParseFailure)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageCritique, se.Stage)
}

func TestMissingArtifactError(t *testing.T) {
	err := &MissingArtifactError{Path: "out/obj_select.json", Producer: StageExtract}
	assert.ErrorIs(t, err, ErrMissingArtifact)
	assert.Contains(t, err.Error(), `"extract"`)
}

func TestFeedback_Actionable(t *testing.T) {
	assert.False(t, (&Feedback{Valid: true, Message: "too small"}).Actionable())
	assert.False(t, (&Feedback{Valid: false, Message: "  "}).Actionable())
	assert.True(t, (&Feedback{Valid: false, Message: "too small"}).Actionable())
	var nilFb *Feedback
	assert.False(t, nilFb.Actionable())
}

func TestParseDictLiteral(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{"json", `{"scale": 0.5, "has_lid": false}`, map[string]any{"scale": 0.5, "has_lid": false}},
		{"python", `{'depth': 0.3, 'is_short': True, 'note': None,}`, map[string]any{"depth": 0.3, "is_short": true, "note": nil}},
		{"tuple", `{'range': ("uniform", 0, 1.5)}`, map[string]any{"range": []any{"uniform", float64(0), 1.5}}},
		{"escaped quote", `{'label': 'it\'s'}`, map[string]any{"label": "it's"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDictLiteral(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDictLiteral_Rejects(t *testing.T) {
	for _, in := range []string{"", "[1, 2]", "{'a': undefined}", "{'a': 'open"} {
		_, err := ParseDictLiteral(in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrParseFailure))
	}
}
