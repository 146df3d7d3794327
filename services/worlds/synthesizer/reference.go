// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synthesizer compiles resolved parameters and a manifest into
// generator configuration text.
//
// Description:
//
//	Scene configs are gin files. Every emitted symbol must exist in a
//	reference corpus of known bindings; anything without a binding becomes
//	an explicit unmapped marker instead of an invented symbol. Object
//	configs are the params dictionary consumed by the object generator.
package synthesizer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ShapeKind is the literal form of a reference binding's value.
type ShapeKind string

// Literal shapes.
const (
	ShapeNumber    ShapeKind = "number"
	ShapeString    ShapeKind = "string"
	ShapeTuple     ShapeKind = "tuple"
	ShapeList      ShapeKind = "list"
	ShapeReference ShapeKind = "reference"
)

// Shape describes a reference value. Elements holds the top-level items of
// a tuple or list; Integral is true for numbers written without a point.
type Shape struct {
	Kind     ShapeKind
	Raw      string
	Elements []string
	Integral bool
}

var symbolPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)+$`)

// Reference is the whitelist of bindings a config may use.
//
// Thread Safety: Immutable after ParseReference; safe for concurrent use.
type Reference struct {
	shapes map[string]Shape
	order  []string
}

// ParseReference reads "symbol = value" lines. Blank lines and # comments
// are ignored; any other line that does not parse is an error naming its
// line number. A repeated symbol keeps its first shape.
func ParseReference(text string) (*Reference, error) {
	ref := &Reference{shapes: make(map[string]Shape)}
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbol, value, err := splitBinding(line)
		if err != nil {
			return nil, fmt.Errorf("synthesizer: reference line %d: %w", i+1, err)
		}
		if _, dup := ref.shapes[symbol]; dup {
			continue
		}
		ref.shapes[symbol] = parseShape(value)
		ref.order = append(ref.order, symbol)
	}
	return ref, nil
}

// Len returns the number of whitelisted symbols.
func (r *Reference) Len() int { return len(r.order) }

// Has reports whether symbol is whitelisted.
func (r *Reference) Has(symbol string) bool {
	_, ok := r.shapes[symbol]
	return ok
}

// Shape returns the reference shape for symbol.
func (r *Reference) Shape(symbol string) (Shape, bool) {
	s, ok := r.shapes[symbol]
	return s, ok
}

// Symbols returns the whitelist sorted lexically.
func (r *Reference) Symbols() []string {
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

// Text renders the whitelist back as reference lines in corpus order.
func (r *Reference) Text() string {
	var b strings.Builder
	for _, s := range r.order {
		fmt.Fprintf(&b, "%s = %s\n", s, r.shapes[s].Raw)
	}
	return b.String()
}

// splitBinding parses "symbol = value".
func splitBinding(line string) (string, string, error) {
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return "", "", fmt.Errorf("expected 'symbol = value', got %q", line)
	}
	symbol := strings.TrimSpace(line[:eq])
	value := strings.TrimSpace(line[eq+1:])
	if !symbolPattern.MatchString(symbol) {
		return "", "", fmt.Errorf("malformed symbol %q", symbol)
	}
	if value == "" {
		return "", "", fmt.Errorf("symbol %q has no value", symbol)
	}
	return symbol, value, nil
}

func parseShape(value string) Shape {
	s := Shape{Raw: value}
	switch {
	case strings.HasPrefix(value, "(") && strings.HasSuffix(value, ")"):
		s.Kind = ShapeTuple
		s.Elements = splitTopLevel(value[1 : len(value)-1])
	case strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]"):
		s.Kind = ShapeList
		s.Elements = splitTopLevel(value[1 : len(value)-1])
	case strings.HasPrefix(value, `"`), strings.HasPrefix(value, "'"):
		s.Kind = ShapeString
	case strings.HasPrefix(value, "@"):
		s.Kind = ShapeReference
	default:
		s.Kind = ShapeNumber
		s.Integral = !strings.ContainsAny(value, ".eE")
	}
	return s
}

// splitTopLevel splits on commas outside brackets and quotes.
func splitTopLevel(s string) []string {
	var (
		out   []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == ',' && depth == 0:
			out = append(out, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}
