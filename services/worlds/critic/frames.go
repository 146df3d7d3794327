// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package critic

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

// Sampling defaults for motion critique.
const (
	DefaultFrameCount   = 24
	DefaultSkipFraction = 0.05
)

var frameExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// SampleFrames picks count frame paths evenly from dir after skipping the
// first skip fraction.
//
// Description:
//
//	Frames are the image files of dir in lexical order. Indices are spread
//	linearly from floor(total*skip) to total-1 inclusive and truncated, so
//	short sequences repeat frames rather than returning fewer than count.
//
// Outputs:
//   - []string: count paths in temporal order.
//   - error: ErrMissingArtifact when dir is absent or holds no frames.
func SampleFrames(dir string, count int, skip float64) ([]string, error) {
	if count <= 0 {
		count = DefaultFrameCount
	}
	if skip < 0 || skip >= 1 {
		skip = DefaultSkipFraction
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, schema.NewStageError(schema.StageCritique, schema.ErrMissingArtifact,
			&schema.MissingArtifactError{Path: dir, Producer: schema.StageRender})
	}
	var frames []string
	for _, e := range entries {
		if e.IsDir() || !frameExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		frames = append(frames, filepath.Join(dir, e.Name()))
	}
	if len(frames) == 0 {
		return nil, schema.NewStageError(schema.StageCritique, schema.ErrMissingArtifact,
			fmt.Errorf("%s holds no frames", dir))
	}
	sort.Slice(frames, func(i, j int) bool { return naturalLess(frames[i], frames[j]) })

	total := len(frames)
	start := int(float64(total) * skip)
	out := make([]string, count)
	for i := range out {
		idx := start
		if count > 1 {
			idx = start + int(float64(i)*float64(total-1-start)/float64(count-1))
		}
		out[i] = frames[idx]
	}
	return out, nil
}

// naturalLess orders digit runs by value, so frame_2 sorts before frame_10.
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		da, db := digitPrefix(a), digitPrefix(b)
		switch {
		case da != "" && db != "":
			na, nb := strings.TrimLeft(da, "0"), strings.TrimLeft(db, "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			if len(da) != len(db) {
				return len(da) < len(db)
			}
			a, b = a[len(da):], b[len(db):]
		case a[0] != b[0]:
			return a[0] < b[0]
		default:
			a, b = a[1:], b[1:]
		}
	}
	return len(a) < len(b)
}

func digitPrefix(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

// LoadFrames reads the sampled frames as images.
func LoadFrames(paths []string) ([]llm.Image, error) {
	images := make([]llm.Image, 0, len(paths))
	for _, p := range paths {
		img, err := llm.LoadImage(p, "")
		if err != nil {
			return nil, schema.NewStageError(schema.StageCritique, schema.ErrMissingArtifact, err)
		}
		images = append(images, img)
	}
	return images, nil
}
