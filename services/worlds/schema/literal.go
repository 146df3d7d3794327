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
	"fmt"
	"strings"
)

// ParseDictLiteral decodes a dictionary written either as JSON or as a
// Python-style literal: single-quoted strings, True/False/None, tuples and
// trailing commas are accepted. Tuples decode as lists.
//
// Errors wrap ErrParseFailure.
func ParseDictLiteral(s string) (map[string]any, error) {
	converted, err := literalToJSON(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(converted), &out); err != nil {
		return nil, fmt.Errorf("%w: dict literal: %v", ErrParseFailure, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: dict literal is not an object", ErrParseFailure)
	}
	return out, nil
}

func literalToJSON(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))

	// lastSignificant is the last non-space byte written.
	lastSignificant := func() (int, byte) {
		str := b.String()
		for i := len(str) - 1; i >= 0; i-- {
			if str[i] != ' ' && str[i] != '\t' && str[i] != '\n' && str[i] != '\r' {
				return i, str[i]
			}
		}
		return -1, 0
	}
	closeWith := func(c byte) {
		if i, last := lastSignificant(); last == ',' {
			str := b.String()[:i]
			b.Reset()
			b.WriteString(str)
		}
		b.WriteByte(c)
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'' || c == '"':
			j := i + 1
			var sb strings.Builder
			for ; j < len(s) && s[j] != c; j++ {
				if s[j] == '\\' && j+1 < len(s) {
					j++
					switch s[j] {
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					default:
						sb.WriteByte(s[j])
					}
					continue
				}
				sb.WriteByte(s[j])
			}
			if j >= len(s) {
				return "", fmt.Errorf("unterminated string at offset %d", i)
			}
			quoted, _ := json.Marshal(sb.String())
			b.Write(quoted)
			i = j
		case c == '(':
			b.WriteByte('[')
		case c == ')' || c == ']':
			closeWith(']')
		case c == '}':
			closeWith('}')
		case isIdentStart(c):
			j := i
			for j < len(s) && (isIdentStart(s[j]) || (s[j] >= '0' && s[j] <= '9')) {
				j++
			}
			switch word := s[i:j]; word {
			case "True", "true":
				b.WriteString("true")
			case "False", "false":
				b.WriteString("false")
			case "None", "null":
				b.WriteString("null")
			default:
				return "", fmt.Errorf("unexpected identifier %q", word)
			}
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
