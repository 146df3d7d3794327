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
	"strings"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

const sceneSystemPrompt = `You are the parameter resolver for a procedural nature scene generator.
Ground the qualitative descriptors of a scene manifest into precise scalar values.

### TASK 1: QUANTITATIVE GROUNDING
Density:
- high density -> 0.11 to 0.15 (forest tree_density is 0.11)
- medium density -> 0.05 to 0.10
- low density or sparse -> 0.01 to 0.05 (desert tree_density 0.02, snowy 0.01)
- very sparse -> 0.01 to 0.02
Lighting mood:
- spooky or dim -> sun_elevation 6 to 15 degrees, fog_density 0.01 to 0.02
- bright or sunny -> sun_elevation 40 to 70 degrees, fog_density 0.0 to 0.001
- dawn or dusk -> sun_elevation 6 to 20 degrees, fog_density 0.0 to 0.01

### TASK 2: CONSISTENCY RULES
1. Rainforest or tropical: weather.snow_chance = 0.0.
2. Desert: vegetation.tree_density <= 0.02 and weather.rain_chance = 0.0.
3. Arctic or snowy: weather.snow_chance = 1.0.
4. If atmosphere.fog_density > 0.01 or atmosphere.dust_density > 0.01, raise lighting.sun_intensity proportionally (minimum 3.0, up to 15.0) or the scene renders black.

### OUTPUT
Return ONLY a flat JSON object with exactly these keys and no others:
%s
Reference notes (do not include in the JSON):
- terrain.overall_scale: default 5, forest 10.
- binary keys are 0.0 (disabled) or 1.0 (enabled).
- vegetation.max_tree_species: default 3.
- lighting.sun_intensity: typical 0.6 to 0.8; 5 to 15 for foggy scenes.`

const sceneUserPrompt = "Resolve the parameters now based on the manifest."

const objectSystemPrompt = `You are a procedural generation engineer.
Produce the parameter dictionary for the %s generator from its documentation.

### DOCUMENTATION
%s

### INSTRUCTIONS
1. Infer visual attributes from the scene prompt. If the prompt is vague, infer a standard, representative shape. Never return an empty dictionary.
2. Use ONLY the parameter names declared in the documentation, and keep every value inside its declared range.
3. If the prompt describes an action, pick the object state that allows it.
4. Set at least 3 or 4 core parameters such as scale, size or thickness.
5. Return ONLY a Python dictionary, for example {'scale': 0.2, 'is_short': True}. No markdown.`

const objectUserPrompt = `Target Key Object: %q
Scene Prompt: %q

Generate the parameter dictionary for %s now. Ensure the output is NOT empty.`

// schemaListing renders one line per key with its kind and range.
func schemaListing(s *schema.Schema) string {
	var b strings.Builder
	b.WriteString("{\n")
	for i, spec := range s.Specs {
		var kind string
		switch {
		case spec.Kind == schema.KindBinary:
			kind = "float (0.0 or 1.0)"
		case spec.Bounded:
			kind = fmt.Sprintf("%s (%g to %g)", spec.Kind, spec.Min, spec.Max)
		default:
			kind = string(spec.Kind)
		}
		sep := ","
		if i == len(s.Specs)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "    %q: %s%s\n", spec.Key, kind, sep)
	}
	b.WriteString("}")
	return b.String()
}

// sceneInput renders the optional instruction and the manifest that
// precede the system prompt.
func sceneInput(manifestJSON []byte, instruction string) string {
	var b strings.Builder
	if instruction = strings.TrimSpace(instruction); instruction != "" {
		fmt.Fprintf(&b, "### ORIGINAL USER PROMPT:\n%s\n\n", instruction)
	}
	fmt.Fprintf(&b, "### EXECUTION MANIFEST:\n%s\n\n", manifestJSON)
	return b.String()
}
