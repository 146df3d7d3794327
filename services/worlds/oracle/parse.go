// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

var (
	fencedBlock = regexp.MustCompile("(?s)```(?:[A-Za-z]+)?\\s*(.*?)\\s*```")
	flatObject  = regexp.MustCompile(`\{[\s\S]*?\}`)
)

// StripCodeFence returns the body of the first fenced code block, or the
// trimmed input when there is none. An unterminated fence is removed.
func StripCodeFence(raw string) string {
	if !strings.Contains(raw, "```") {
		return strings.TrimSpace(raw)
	}
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(lines[len(lines)-1], "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ExtractJSONObject finds a JSON object in free-form oracle output.
//
// Description:
//
//	Tries, in order: the fenced block (or whole text) as an object; the first
//	element of a top-level array; the first balanced {...} span that decodes;
//	the first non-greedy {...} span that decodes. Anything else is a parse
//	failure.
//
// Outputs:
//   - json.RawMessage: The object's bytes.
//   - error: Wraps schema.ErrParseFailure when no object is found.
func ExtractJSONObject(raw string) (json.RawMessage, error) {
	cleaned := StripCodeFence(raw)

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err == nil {
		switch t := v.(type) {
		case map[string]any:
			return json.RawMessage(cleaned), nil
		case []any:
			if len(t) > 0 {
				if obj, ok := t[0].(map[string]any); ok {
					b, err := json.Marshal(obj)
					if err == nil {
						return b, nil
					}
				}
			}
		}
	}

	if obj, ok := firstBalancedObject(raw); ok {
		return obj, nil
	}
	if m := flatObject.FindString(raw); m != "" && json.Valid([]byte(m)) {
		return json.RawMessage(m), nil
	}
	return nil, fmt.Errorf("%w: no JSON object in oracle output", schema.ErrParseFailure)
}

// DecodeJSONObject extracts an object and decodes it into out.
func DecodeJSONObject(raw string, out any) error {
	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(obj))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrParseFailure, err)
	}
	return nil
}

// firstBalancedObject scans for a brace-balanced span, honoring strings,
// and returns the first that is valid JSON.
func firstBalancedObject(s string) (json.RawMessage, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		depth, inString, escaped := 0, false, false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return json.RawMessage(candidate), true
					}
					i = len(s)
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}
