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
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/config"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

func builtinReference(t *testing.T) *Reference {
	t.Helper()
	ref, err := ParseReference(config.DefaultReferenceGin())
	require.NoError(t, err)
	return ref
}

func sceneParams(t *testing.T) *schema.ParameterSet {
	t.Helper()
	p := schema.NewParameterSet(schema.SceneSchema)
	values := map[schema.Key]float64{
		schema.KeyOverallScale:   10,
		schema.KeyGroundChance:   1,
		schema.KeyWaterChance:    0,
		schema.KeyBushDensity:    0.05,
		schema.KeyTreeDensity:    0.11,
		schema.KeyMaxTreeSpecies: 3,
		schema.KeyFogDensity:     0.015,
		schema.KeyDustDensity:    0,
		schema.KeySnowChance:     1,
		schema.KeyRainChance:     0,
		schema.KeySunElevation:   12,
		schema.KeySunIntensity:   9,
	}
	for k, v := range values {
		require.NoError(t, p.Set(k, v, schema.ProvenanceInferred))
	}
	return p
}

func lines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func TestParseReference(t *testing.T) {
	ref := builtinReference(t)
	assert.True(t, ref.Has("Ground.scale"))
	assert.False(t, ref.Has("Ground.size"))

	scale, _ := ref.Shape("Ground.scale")
	assert.Equal(t, ShapeNumber, scale.Kind)
	assert.True(t, scale.Integral)

	haze, _ := ref.Shape("atmosphere_light_haze.shader_atmosphere.density")
	assert.Equal(t, ShapeTuple, haze.Kind)
	assert.Equal(t, []string{`"uniform"`, "0", "0.0015"}, haze.Elements)

	reg, _ := ref.Shape("compose_nature.ground_creature_registry")
	assert.Equal(t, ShapeList, reg.Kind)
	assert.Equal(t, []string{"(@HerbivoreFactory, 1)"}, reg.Elements)

	_, err := ParseReference("Ground.scale = 10\nthis is not a binding\n")
	assert.ErrorContains(t, err, "line 2")
}

func TestSynthesize_EveryKeyExactlyOnce(t *testing.T) {
	art, err := New(builtinReference(t)).Synthesize(context.Background(), sceneParams(t), nil, "a misty pine forest")
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, a := range art.Assignments {
		seen[a.Source]++
	}
	for _, u := range art.Unmapped {
		seen[u]++
	}
	for _, k := range schema.SceneSchema.Keys() {
		assert.Equal(t, 1, seen[string(k)], k)
	}

	text := art.Text
	assert.Contains(t, text, "# Instruction: a misty pine forest")
	assert.Contains(t, text, "Ground.scale = 10\n")
	assert.Contains(t, text, "compose_nature.max_tree_species = 3\n")
	assert.Contains(t, text, "shader_atmosphere.density = 0.015\n")
	assert.Contains(t, text, "scene.waterbody_chance = 0.0\n")
	assert.Contains(t, text, UnmappedKeyMarker("lighting.sun_intensity"))
	assert.Equal(t, []string{"lighting.sun_intensity"}, art.Unmapped)
}

func TestSynthesize_OnlyWhitelistedSymbols(t *testing.T) {
	ref := builtinReference(t)
	m := &schema.Manifest{}
	m.Ecosystem.PrimaryVegetation = []string{"trees", "grass", "ferns", "moon_flowers"}
	m.Ecosystem.Creatures.Swarms = []string{"bug_swarm"}
	m.Dynamics.Particles = []string{"snow", "falling_leaves"}
	m.Dynamics.OtherEffects = []string{"fancy_clouds", "simulated_river"}
	m.SurfaceCoverage = []string{"moss"}

	art, err := New(ref).Synthesize(context.Background(), sceneParams(t), m, "")
	require.NoError(t, err)

	for _, l := range lines(art.Text) {
		if strings.HasPrefix(l, "#") {
			continue
		}
		symbol, _, err := splitBinding(l)
		require.NoError(t, err, l)
		assert.True(t, ref.Has(symbol), l)
	}
	assert.Contains(t, art.Text, "compose_nature.grass_chance = 1.0")
	assert.Contains(t, art.Text, "compose_nature.leaf_particles_chance = 1.0")
	assert.Contains(t, art.Text, "compose_nature.simulated_river_enabled = 1")
	assert.Contains(t, art.Text, "populate_scene.moss_chance = 1.0")
	assert.Contains(t, art.Text, UnmappedValueMarker("ecosystem.primary_vegetation", "moon_flowers"))
	assert.Contains(t, art.Text, UnmappedValueMarker("ecosystem.creatures.swarms", "bug_swarm"))
	// Snow particles are carried by weather.snow_chance; no second line.
	assert.Equal(t, 1, strings.Count(art.Text, "compose_nature.snow_particles_chance"))
}

func TestSynthesize_TerrainGroups(t *testing.T) {
	m := &schema.Manifest{}
	m.Terrain.GroundCover = "sand"
	m.Terrain.Landforms = []string{"snowy_mountain", "arctic", "desert"}
	m.Terrain.WaterBodies = []string{"river", "lake"}
	m.Ecosystem.Creatures.Ground = []string{"herbivore", "snake"}
	m.Ecosystem.Creatures.Flying = []string{"dragonfly"}

	art, err := New(builtinReference(t)).Synthesize(context.Background(), sceneParams(t), m, "")
	require.NoError(t, err)
	text := art.Text

	assert.Contains(t, text, `Terrain.ground_collection = [("infinigen.assets.materials.terrain.sand.Sand", 1)]`)
	assert.Contains(t, text, `LandTiles.land_processes = "ice_erosion"`)
	assert.Contains(t, text, "scene.ground_ice_chance = 1.0")
	assert.Equal(t, 1, strings.Count(text, "scene.ground_ice_chance"))
	assert.Equal(t, 1, strings.Count(text, "Terrain.liquid_collection"))
	assert.Contains(t, text, "Ground.with_sand_dunes = 1")
	assert.Contains(t, text, "compose_nature.ground_creature_registry = [(@HerbivoreFactory, 1), (@SnakeFactory, 1)]")
	assert.Contains(t, text, "compose_nature.ground_creatures_chance = 1.0")
	assert.Contains(t, text, "compose_nature.flying_creature_registry = [(@DragonflyFactory, 1)]")
}

func TestSynthesize_PartialGroupIsOneMarker(t *testing.T) {
	ref, err := ParseReference("Terrain.ground_collection = \"forest_soil\"\nLandTiles.land_processes = \"none\"\n")
	require.NoError(t, err)
	m := &schema.Manifest{}
	m.Terrain.GroundCover = "snow"
	m.Terrain.Landforms = []string{"arctic"}

	art, err := New(ref).Synthesize(context.Background(), sceneParams(t), m, "")
	require.NoError(t, err)
	text := art.Text

	assert.NotContains(t, text, "Terrain.ground_collection =")
	assert.NotContains(t, text, "LandTiles.land_processes =")
	assert.Equal(t, 1, strings.Count(text, UnmappedValueMarker("terrain.ground_cover", "snow")))
	assert.Equal(t, 1, strings.Count(text, UnmappedValueMarker("terrain.landforms", "arctic")))
	assert.Equal(t, 1, strings.Count(text, "terrain.ground_cover="))
}

func TestSynthesize_TupleShapeAndFallbackSymbol(t *testing.T) {
	ref, err := ParseReference(`Ground.scale = 5.0
atmosphere_light_haze.shader_atmosphere.density = ("uniform", 0, 0.0015)
`)
	require.NoError(t, err)
	p := sceneParams(t)
	p.Values[schema.KeyOverallScale] = 12.5

	art, err := New(ref).Synthesize(context.Background(), p, nil, "")
	require.NoError(t, err)
	assert.Contains(t, art.Text, `atmosphere_light_haze.shader_atmosphere.density = ("uniform", 0, 0.015)`)
	assert.Contains(t, art.Text, "Ground.scale = 12.5")

	// Everything else has no binding in this reference.
	assert.Len(t, art.Unmapped, 10)
	assert.Len(t, art.Assignments, 2)
}

func TestSynthesize_RejectsInvalidParameters(t *testing.T) {
	p := sceneParams(t)
	p.Values[schema.KeyTreeDensity] = 0.9
	art, err := New(builtinReference(t)).Synthesize(context.Background(), p, nil, "")
	assert.Nil(t, art)
	assert.ErrorIs(t, err, schema.ErrSchemaViolation)
}

func TestSynthesize_OracleWhitelist(t *testing.T) {
	reply := func(text string) oracle.ChatClient {
		return oracle.ChatFunc(func(_ context.Context, msgs []llm.Message, o oracle.ChatOptions) (string, error) {
			assert.Contains(t, msgs[0].Content, "REFERENCE BINDINGS")
			return text, nil
		})
	}

	t.Run("invented symbol", func(t *testing.T) {
		s := New(builtinReference(t), WithOracle(reply("Ground.scale = 10\nsky.color = \"blue\"\n")))
		art, err := s.Synthesize(context.Background(), sceneParams(t), nil, "")
		assert.Nil(t, art)
		assert.ErrorIs(t, err, schema.ErrSchemaViolation)
		assert.ErrorContains(t, err, "sky.color")
	})

	t.Run("duplicate symbol", func(t *testing.T) {
		s := New(builtinReference(t), WithOracle(reply("Ground.scale = 10\nGround.scale = 20\n")))
		_, err := s.Synthesize(context.Background(), sceneParams(t), nil, "")
		assert.ErrorIs(t, err, schema.ErrSchemaViolation)
	})

	t.Run("resolved value replaced", func(t *testing.T) {
		text := "compose_nature.tree_density = 0.9\nshader_atmosphere.density = \"banana\"\n"
		art, err := New(builtinReference(t), WithOracle(reply(text))).Synthesize(context.Background(), sceneParams(t), nil, "")
		assert.Nil(t, art)
		assert.ErrorIs(t, err, schema.ErrSchemaViolation)
		assert.ErrorContains(t, err, "vegetation.tree_density")
		assert.ErrorContains(t, err, "atmosphere.fog_density")
	})

	t.Run("resolved value respelled", func(t *testing.T) {
		text := "compose_nature.tree_density = 0.110\nshader_atmosphere.density =0.015\n"
		art, err := New(builtinReference(t), WithOracle(reply(text))).Synthesize(context.Background(), sceneParams(t), nil, "")
		require.NoError(t, err)
		assert.Contains(t, art.Text, "compose_nature.tree_density = 0.110")
	})

	t.Run("free symbol shape", func(t *testing.T) {
		for _, text := range []string{
			"atmosphere_light_haze.shader_atmosphere.density = 0.5\n",
			"atmosphere_light_haze.shader_atmosphere.density = (\"uniform\", 0.0015)\n",
			"compose_nature.grass_chance = lots\n",
			"Terrain.ground_collection = 3\n",
		} {
			_, err := New(builtinReference(t), WithOracle(reply(text))).Synthesize(context.Background(), sceneParams(t), nil, "")
			assert.ErrorIs(t, err, schema.ErrSchemaViolation, text)
		}

		text := "atmosphere_light_haze.shader_atmosphere.density = ( \"uniform\", 0, 0.003 )\n"
		_, err := New(builtinReference(t), WithOracle(reply(text))).Synthesize(context.Background(), sceneParams(t), nil, "")
		assert.NoError(t, err)
	})

	t.Run("accepted and completed", func(t *testing.T) {
		text := "```gin\nGround.scale = 10\ncompose_nature.grass_chance = 1.0\n" +
			UnmappedKeyMarker("lighting.sun_intensity") + "\n```"
		art, err := New(builtinReference(t), WithOracle(reply(text))).Synthesize(context.Background(), sceneParams(t), nil, "")
		require.NoError(t, err)
		assert.Contains(t, art.Text, "compose_nature.grass_chance = 1.0")
		assert.Contains(t, art.Text, "compose_nature.tree_density = 0.11")
		assert.Equal(t, []string{"lighting.sun_intensity"}, art.Unmapped)
	})

	t.Run("oracle failure", func(t *testing.T) {
		failing := oracle.ChatFunc(func(context.Context, []llm.Message, oracle.ChatOptions) (string, error) {
			return "", errors.New("timeout")
		})
		_, err := New(builtinReference(t), WithOracle(failing)).Synthesize(context.Background(), sceneParams(t), nil, "")
		assert.ErrorIs(t, err, schema.ErrOracle)
	})
}

func TestObjectParams_RoundTrip(t *testing.T) {
	s, err := schema.NewSchema("CactusFactory", []schema.Spec{
		{Key: "scale", Kind: schema.KindFloat, Min: 0.3, Max: 3, Bounded: true},
		{Key: "n_branches", Kind: schema.KindInt, Min: 0, Max: 8, Bounded: true},
		{Key: "has_flowers", Kind: schema.KindBinary, Min: 0, Max: 1, Bounded: true},
		{Key: "spike_density", Kind: schema.KindFloat, Min: 0, Max: 1, Bounded: true},
	})
	require.NoError(t, err)
	p := schema.NewParameterSet(s)
	require.NoError(t, p.Set("scale", 1.5, schema.ProvenanceInferred))
	require.NoError(t, p.Set("n_branches", 4, schema.ProvenanceInferred))
	require.NoError(t, p.Set("has_flowers", 1, schema.ProvenanceInferred))
	require.NoError(t, p.Set("spike_density", 0, schema.ProvenanceInferred))

	art, err := RenderObjectParams(`a "prickly" cactus`, "cactus", "CactusFactory", p)
	require.NoError(t, err)
	assert.Equal(t, `# Result for: "a \"prickly\" cactus"
# Key Object: cactus
# Factory: CactusFactory

params = {'scale': 1.5, 'n_branches': 4, 'has_flowers': True, 'spike_density': 0.0}
`, art.Text)

	parsed, err := ParseObjectParams(art.Text)
	require.NoError(t, err)
	assert.Equal(t, `a "prickly" cactus`, parsed.Instruction)
	assert.Equal(t, "cactus", parsed.Entity)
	assert.Equal(t, "CactusFactory", parsed.Factory)

	back, err := parsed.ParameterSet(s, schema.ProvenanceCarriedOver)
	require.NoError(t, err)
	if diff := cmp.Diff(p.Values, back.Values); diff != "" {
		t.Errorf("values changed across render/parse (-want +got):\n%s", diff)
	}
}

func TestParseObjectParams_MultilineAndErrors(t *testing.T) {
	parsed, err := ParseObjectParams("# Factory: LeafFactory\nparams = {\n  'scale': 0.2,\n  'curl': 0.5,\n}\n")
	require.NoError(t, err)
	assert.Equal(t, "LeafFactory", parsed.Factory)
	assert.Len(t, parsed.Values, 2)

	_, err = ParseObjectParams("# Factory: LeafFactory\n")
	assert.ErrorIs(t, err, schema.ErrParseFailure)
}
