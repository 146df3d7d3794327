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
	"fmt"
	"strings"
)

const oracleSystemPrompt = `You are a domain-specific compiler from resolved scene parameters to gin configuration.

### RULES
1. Use ONLY binding names that appear in the reference bindings below. Never invent a name.
2. Map the resolved parameters:
   terrain.overall_scale -> Ground.scale
   scene.ground_chance -> scene.ground_chance
   scene.water_chance -> scene.waterbody_chance
   vegetation.bush_density -> compose_nature.bush_density
   vegetation.tree_density -> compose_nature.tree_density
   vegetation.max_tree_species -> compose_nature.max_tree_species
   atmosphere.fog_density -> shader_atmosphere.density (or atmosphere_light_haze.shader_atmosphere.density)
   atmosphere.dust_density -> nishita_lighting.dust_density
   weather.snow_chance -> compose_nature.snow_particles_chance
   weather.rain_chance -> compose_nature.rain_particles_chance
   lighting.sun_elevation -> nishita_lighting.sun_elevation
   lighting.sun_intensity has no binding: write "# Unmapped JSON key: lighting.sun_intensity (no matching binding in gin.txt)"
3. Use the manifest to add material, vegetation, creature, surface and effect lines (each as "<binding> = 1.0" for chances).
4. Keep tuple shapes from the reference, e.g. ("uniform", 0, 0.0015) becomes ("uniform", 0, <value>).
5. One binding per line. Use # for comments. No markdown.
%s
### RESOLVED PARAMETERS
%s
%s
### REFERENCE BINDINGS
%s`

func oraclePrompt(instruction string, paramsJSON, manifestJSON []byte, reference string) string {
	var user, manifest string
	if instruction = strings.TrimSpace(instruction); instruction != "" {
		user = fmt.Sprintf("\n### ORIGINAL USER PROMPT\n%s\n", instruction)
	}
	if len(manifestJSON) > 0 {
		manifest = fmt.Sprintf("\n### EXECUTION MANIFEST\n%s\n", manifestJSON)
	}
	return fmt.Sprintf(oracleSystemPrompt, user, paramsJSON, manifest, reference)
}
