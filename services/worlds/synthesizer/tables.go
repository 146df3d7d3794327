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

import "github.com/AleutianAI/AleutianWorlds/services/worlds/schema"

// sceneBindings lists candidate symbols per scene key in preference order.
// The first candidate present in the reference wins; an empty list means
// the key has no binding in any known config.
var sceneBindings = map[schema.Key][]string{
	schema.KeyOverallScale:   {"Ground.scale"},
	schema.KeyGroundChance:   {"scene.ground_chance"},
	schema.KeyWaterChance:    {"scene.waterbody_chance"},
	schema.KeyBushDensity:    {"compose_nature.bush_density"},
	schema.KeyTreeDensity:    {"compose_nature.tree_density"},
	schema.KeyMaxTreeSpecies: {"compose_nature.max_tree_species"},
	schema.KeyFogDensity:     {"shader_atmosphere.density", "atmosphere_light_haze.shader_atmosphere.density"},
	schema.KeyDustDensity:    {"nishita_lighting.dust_density"},
	schema.KeySnowChance:     {"compose_nature.snow_particles_chance"},
	schema.KeyRainChance:     {"compose_nature.rain_particles_chance"},
	schema.KeySunElevation:   {"nishita_lighting.sun_elevation"},
	schema.KeySunIntensity:   nil,
}

// chanceTables map manifest list elements to "<symbol> = 1.0" lines. A
// present entry with an empty symbol is known but carried by a resolved
// parameter, so it emits nothing.
var (
	vegetationChances = map[string]string{
		"grass":             "compose_nature.grass_chance",
		"ferns":             "compose_nature.ferns_chance",
		"flowers":           "compose_nature.flowers_chance",
		"monocots":          "compose_nature.monocots_chance",
		"mushroom":          "compose_nature.mushroom_chance",
		"pinecone":          "compose_nature.pinecone_chance",
		"pine_needle":       "compose_nature.pine_needle_chance",
		"decorative_plants": "compose_nature.decorative_plants_chance",
		"cactus":            "compose_nature.cactus_chance",
		"kelp":              "compose_nature.kelp_chance",
		"corals":            "compose_nature.corals_chance",
		"seaweed":           "compose_nature.seaweed_chance",
		"urchin":            "compose_nature.urchin_chance",
		"jellyfish":         "compose_nature.jellyfish_chance",
		"seashells":         "compose_nature.seashells_chance",
		"trees":             "",
		"bushes":            "",
	}
	debrisChances = map[string]string{
		"ground_leaves": "compose_nature.ground_leaves_chance",
		"ground_twigs":  "compose_nature.ground_twigs_chance",
		"chopped_trees": "compose_nature.chopped_trees_chance",
	}
	surfaceChances = map[string]string{
		"snow_layer": "populate_scene.snow_layer_chance",
		"lichen":     "populate_scene.lichen_chance",
		"ivy":        "populate_scene.ivy_chance",
		"moss":       "populate_scene.moss_chance",
		"slime_mold": "populate_scene.slime_mold_chance",
		"mushroom":   "populate_scene.mushroom_chance",
	}
	effectChances = map[string]string{
		"fancy_clouds":  "compose_nature.fancy_clouds_chance",
		"rocks":         "compose_nature.rocks_chance",
		"boulders":      "compose_nature.boulders_chance",
		"glowing_rocks": "compose_nature.glowing_rocks_chance",
		"wind":          "compose_nature.wind_chance",
		"turbulence":    "compose_nature.turbulence_chance",
	}
	particleChances = map[string]string{
		"falling_leaves": "compose_nature.leaf_particles_chance",
		"dust":           "compose_nature.dust_particles_chance",
		"marine_snow":    "compose_nature.marine_snow_particles_chance",
		"snow":           "",
		"rain":           "",
	}
)

// riverEffects are other_effects enabled with an integer flag.
var riverEffects = map[string]string{
	"simulated_river": "compose_nature.simulated_river_enabled",
	"tilted_river":    "compose_nature.tilted_river_enabled",
}

// binding is one fixed "symbol = literal" line.
type binding struct {
	symbol string
	value  string
}

// groundCoverGroups map terrain.ground_cover to terrain material lines.
var groundCoverGroups = map[string][]binding{
	"snow": {
		{"Terrain.ground_collection", `"mountain"`},
		{"Terrain.mountain_collection", `"mountain"`},
	},
	"rocky": {
		{"Terrain.ground_collection", `"mountain"`},
		{"Terrain.mountain_collection", `"mountain"`},
	},
	"grass": {{"Terrain.ground_collection", `"forest_soil"`}},
	"dirt":  {{"Terrain.ground_collection", `"forest_soil"`}},
	"sand":  {{"Terrain.ground_collection", `[("infinigen.assets.materials.terrain.sand.Sand", 1)]`}},
}

// waterBodyGroups map terrain.water_bodies elements. "none" emits nothing.
var waterBodyGroups = map[string][]binding{
	"river": {{"Terrain.liquid_collection", `"liquid"`}},
	"lake":  {{"Terrain.liquid_collection", `"liquid"`}},
	"none":  nil,
}

// landformGroups map terrain.landforms elements. Landforms without terrain
// material or process settings map to nothing.
var landformGroups = map[string][]binding{
	"snowy_mountain": {
		{"LandTiles.land_processes", `"snowfall"`},
		{"scene.ground_ice_chance", "0.5"},
	},
	"arctic": {
		{"LandTiles.land_processes", `"ice_erosion"`},
		{"scene.ground_ice_chance", "1.0"},
	},
	"desert":      {{"Ground.with_sand_dunes", "1"}},
	"mountain":    nil,
	"canyon":      nil,
	"cliff":       nil,
	"cave":        nil,
	"plain":       nil,
	"coast":       nil,
	"forest":      nil,
	"river":       nil,
	"coral_reef":  nil,
	"kelp_forest": nil,
	"under_water": nil,
}

// Creature registries. Swarms have no registry binding.
var (
	groundCreatureFactories = map[string]string{
		"herbivore":  "@HerbivoreFactory",
		"carnivore":  "@CarnivoreFactory",
		"snake":      "@SnakeFactory",
		"bird":       "@BirdFactory",
		"beetle":     "@BeetleFactory",
		"crab":       "@CrabFactory",
		"crustacean": "@CrustaceanFactory",
		"fish":       "@FishFactory",
	}
	flyingCreatureFactories = map[string]string{
		"flyingbird": "@FlyingBirdFactory",
		"dragonfly":  "@DragonflyFactory",
	}
)
