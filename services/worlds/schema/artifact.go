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

import "strings"

// Feedback is the critic's verdict. Message is only meaningful when Valid is
// false.
type Feedback struct {
	Valid   bool   `json:"valid"`
	Message string `json:"feedback"`
}

// Actionable reports whether the feedback should drive refinement.
func (f *Feedback) Actionable() bool {
	return f != nil && !f.Valid && strings.TrimSpace(f.Message) != ""
}

// Assignment is one `symbol = value` line of a configuration artifact.
type Assignment struct {
	// Source is the parameter key or manifest path that produced the line.
	Source string `json:"source"`
	Symbol string `json:"symbol"`
	Value  string `json:"value"`
}

// ConfigArtifact is the compiled configuration text plus its structure.
//
// Every source key appears exactly once, either in Assignments or in
// Unmapped.
type ConfigArtifact struct {
	Target      string       `json:"target"`
	Text        string       `json:"text"`
	Assignments []Assignment `json:"assignments"`
	Unmapped    []string     `json:"unmapped"`
}
