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
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

// TargetObjectParams names the object params target.
const TargetObjectParams = "object_params"

var (
	resultHeader  = regexp.MustCompile(`^#\s*Result for:\s*"(.*)"\s*$`)
	keyObjHeader  = regexp.MustCompile(`^#\s*Key Object:\s*(.*)$`)
	factoryHeader = regexp.MustCompile(`^#\s*Factory:\s*(.*)$`)
)

// ObjectParams is the parsed form of an object params file.
type ObjectParams struct {
	Instruction string
	Entity      string
	Factory     string
	Values      map[string]any
}

// RenderObjectParams writes the header block and a params dictionary in
// declaration order. Binary keys render as True/False and int keys without
// a decimal point.
func RenderObjectParams(instruction, entity, factory string, p *schema.ParameterSet) (*schema.ConfigArtifact, error) {
	if err := p.Validate(); err != nil {
		return nil, schema.NewStageError(schema.StageSynthesize, schema.ErrSchemaViolation, err)
	}
	art := &schema.ConfigArtifact{Target: TargetObjectParams, Unmapped: []string{}}
	items := make([]string, 0, len(p.Schema.Specs))
	for _, spec := range p.Schema.Specs {
		v := p.Values[spec.Key]
		var lit string
		switch spec.Kind {
		case schema.KindBinary:
			lit = "False"
			if v == 1 {
				lit = "True"
			}
		case schema.KindInt:
			lit = formatNumber(v, true)
		default:
			lit = formatNumber(v, false)
		}
		items = append(items, fmt.Sprintf("'%s': %s", spec.Key, lit))
		art.Assignments = append(art.Assignments, schema.Assignment{Source: string(spec.Key), Symbol: string(spec.Key), Value: lit})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Result for: %s\n", strconv.Quote(strings.ReplaceAll(instruction, "\n", " ")))
	fmt.Fprintf(&b, "# Key Object: %s\n", entity)
	fmt.Fprintf(&b, "# Factory: %s\n\n", factory)
	fmt.Fprintf(&b, "params = {%s}\n", strings.Join(items, ", "))
	art.Text = b.String()
	return art, nil
}

// ParseObjectParams reads a file written by RenderObjectParams, or by hand
// in the same layout. The dictionary may span several lines.
func ParseObjectParams(text string) (*ObjectParams, error) {
	out := &ObjectParams{}
	var dict strings.Builder
	inDict := false
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case inDict:
			dict.WriteString(line)
			dict.WriteString("\n")
		case strings.HasPrefix(line, "params"):
			eq := strings.IndexByte(line, '=')
			if eq < 0 {
				return nil, fmt.Errorf("%w: object params: malformed params line", schema.ErrParseFailure)
			}
			dict.WriteString(strings.TrimSpace(line[eq+1:]))
			dict.WriteString("\n")
			inDict = true
		default:
			if m := resultHeader.FindStringSubmatch(line); m != nil {
				if s, err := strconv.Unquote(`"` + m[1] + `"`); err == nil {
					out.Instruction = s
				} else {
					out.Instruction = m[1]
				}
			} else if m := keyObjHeader.FindStringSubmatch(line); m != nil {
				out.Entity = strings.TrimSpace(m[1])
			} else if m := factoryHeader.FindStringSubmatch(line); m != nil {
				out.Factory = strings.TrimSpace(m[1])
			}
		}
	}
	if !inDict {
		return nil, fmt.Errorf("%w: object params: no params dictionary", schema.ErrParseFailure)
	}
	values, err := schema.ParseDictLiteral(dict.String())
	if err != nil {
		return nil, err
	}
	out.Values = values
	return out, nil
}

// ParameterSet converts the parsed values onto s. Every declared key must be
// present with a number (or a boolean for binary keys); undeclared keys are
// violations.
func (o *ObjectParams) ParameterSet(s *schema.Schema, prov schema.Provenance) (*schema.ParameterSet, error) {
	raw := make(map[string]any, len(o.Values))
	for k, v := range o.Values {
		if b, ok := v.(bool); ok {
			if spec, found := s.Lookup(schema.Key(k)); found && spec.Kind == schema.KindBinary {
				v = 0.0
				if b {
					v = 1.0
				}
			}
		}
		raw[k] = v
	}
	return schema.ParseFlat(s, raw, prov)
}
