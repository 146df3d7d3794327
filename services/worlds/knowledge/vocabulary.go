// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge indexes generator documentation and retrieves the chunk
// that best describes an entity.
//
// Description:
//
//	A corpus is a flat text file in which each section begins with a line
//	holding exactly one canonical generator name. Build segments the corpus
//	on those lines, embeds every chunk, and Search answers queries by exact
//	label match first and cosine similarity second.
//
// Thread Safety:
//
//	An Index is immutable after Build and safe for concurrent use. Watcher
//	swaps whole indexes atomically.
package knowledge

import (
	"regexp"
	"strings"
)

// Vocabulary is the closed set of canonical generator names. Only lines that
// equal one of these names start a chunk.
var Vocabulary = []string{
	"LeafFactory",
	"CactusFactory",
	"CloudFactory",
	"CrustaceanFactory",
	"MonocotFactory",
	"BoulderFactory",
	"BlenderRockFactory",
	"TreeFactory",
	"BranchFactory",
	"FlowerFactory",
	"MushroomFactory",
	"FruitFactory",
	"CoralFactory",
	"MolluskFactory",
	"SeaweedFactory",
	"UrchinFactory",
	"GrassTuftFactory",
	"DandelionFactory",
	"FernFactory",
	"FishFactory",
	"JellyfishFactory",
	"PalmTreeFactory",
	"ChoppedTrees",
}

var vocabularySet = func() map[string]bool {
	m := make(map[string]bool, len(Vocabulary))
	for _, v := range Vocabulary {
		m[v] = true
	}
	return m
}()

// IsCanonical reports whether name belongs to Vocabulary.
func IsCanonical(name string) bool { return vocabularySet[name] }

const labelSuffix = "Factory"

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// CoreName strips the generic suffix: "GrassTuftFactory" -> "GrassTuft".
func CoreName(canonical string) string {
	return strings.Replace(canonical, labelSuffix, "", 1)
}

// Label returns the humanized label: "BlenderRockFactory" -> "Blender Rock".
func Label(canonical string) string {
	return camelBoundary.ReplaceAllString(CoreName(canonical), "$1 $2")
}

// normalize lowercases and collapses internal whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

type segment struct {
	name string
	text string
}

// segmentCorpus splits corpus into chunks. Text before the first boundary is
// discarded. Each chunk keeps its header line and is trimmed.
func segmentCorpus(corpus string) []segment {
	var (
		out     []segment
		current string
		lines   []string
	)
	flush := func() {
		if current == "" {
			return
		}
		if text := strings.TrimSpace(strings.Join(lines, "\n")); text != "" {
			out = append(out, segment{name: current, text: text})
		}
	}
	for _, line := range strings.Split(corpus, "\n") {
		trimmed := strings.TrimSpace(line)
		if vocabularySet[trimmed] {
			flush()
			current = trimmed
			lines = []string{line}
			continue
		}
		if current != "" {
			lines = append(lines, line)
		}
	}
	flush()
	return out
}

// embeddingDocument repeats the label to weight it against the chunk body.
func embeddingDocument(label, chunk string) string {
	return label + ". " + label + ". " + chunk
}
