// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	"strings"
	"unicode"
)

var articles = map[string]bool{"a": true, "an": true, "the": true, "some": true}

var irregular = map[string]string{
	"leaves":   "leaf",
	"knives":   "knife",
	"wolves":   "wolf",
	"shelves":  "shelf",
	"loaves":   "loaf",
	"mice":     "mouse",
	"geese":    "goose",
	"teeth":    "tooth",
	"feet":     "foot",
	"children": "child",
	"people":   "person",
	"cacti":    "cactus",
	"fungi":    "fungus",
	"octopi":   "octopus",
}

// Canonicalize reduces an entity phrase to a bare singular lowercase noun.
// Adjectives are dropped by keeping the head (last) word. Scenery nouns and
// empty input become None.
func Canonicalize(phrase string) string {
	words := strings.FieldsFunc(strings.ToLower(phrase), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	filtered := words[:0]
	for _, w := range words {
		if !articles[w] {
			filtered = append(filtered, w)
		}
	}
	if len(filtered) == 0 {
		return None
	}
	noun := Singularize(filtered[len(filtered)-1])
	if forbidden[noun] {
		return None
	}
	return noun
}

// Singularize handles regular English plurals and a short irregular list.
func Singularize(w string) string {
	if s, ok := irregular[w]; ok {
		return s
	}
	switch {
	case len(w) <= 3:
		return w
	case strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "sses"), strings.HasSuffix(w, "shes"),
		strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "xes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"), strings.HasSuffix(w, "is"):
		return w
	case strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	}
	return w
}
