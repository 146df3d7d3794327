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
	"sort"
)

// Provenance records how a parameter value came to be.
type Provenance string

// Provenance tags. Defaulted marks a key an oracle omitted and grounding
// filled in.
const (
	ProvenanceInferred    Provenance = "inferred"
	ProvenanceCarriedOver Provenance = "carried-over"
	ProvenanceRefined     Provenance = "refined"
	ProvenanceDefaulted   Provenance = "defaulted"
)

func (p Provenance) valid() bool {
	switch p {
	case ProvenanceInferred, ProvenanceCarriedOver, ProvenanceRefined, ProvenanceDefaulted:
		return true
	}
	return false
}

// =============================================================================
// ParameterSet
// =============================================================================

// ParameterSet maps every key of one schema to a typed value plus provenance.
//
// # Description
//
// A ParameterSet is only meaningful when complete: Validate rejects missing
// keys, foreign keys, out-of-range values, and unknown provenance tags.
// Refinement produces a new set rather than patching an old one.
//
// # Thread Safety
//
// Not safe for concurrent mutation. Clone before handing to another goroutine.
type ParameterSet struct {
	Schema     *Schema            `json:"schema"`
	Values     map[Key]float64    `json:"values"`
	Provenance map[Key]Provenance `json:"provenance"`
}

// NewParameterSet returns an empty set bound to s.
func NewParameterSet(s *Schema) *ParameterSet {
	return &ParameterSet{
		Schema:     s,
		Values:     make(map[Key]float64, len(s.Specs)),
		Provenance: make(map[Key]Provenance, len(s.Specs)),
	}
}

// Set assigns key without range checking. Unknown keys are rejected
// immediately because they can never become valid.
func (p *ParameterSet) Set(key Key, v float64, prov Provenance) error {
	if _, ok := p.Schema.Lookup(key); !ok {
		return &ViolationError{Schema: p.Schema.Name, Violations: []Violation{{Key: key, Reason: "key is not part of the schema"}}}
	}
	p.Values[key] = v
	p.Provenance[key] = prov
	return nil
}

// Get returns the value for key.
func (p *ParameterSet) Get(key Key) (float64, bool) {
	v, ok := p.Values[key]
	return v, ok
}

// Validate checks completeness, membership, ranges and provenance.
//
// # Outputs
//
//   - error: *ViolationError (errors.Is ErrSchemaViolation) listing every
//     breach in declaration order, or nil.
func (p *ParameterSet) Validate() error {
	if p == nil || p.Schema == nil {
		return fmt.Errorf("%w: parameter set has no schema", ErrSchemaViolation)
	}
	var violations []Violation
	for _, spec := range p.Schema.Specs {
		v, ok := p.Values[spec.Key]
		if !ok {
			violations = append(violations, Violation{Key: spec.Key, Reason: "missing"})
			continue
		}
		if reason := spec.Check(v); reason != "" {
			violations = append(violations, Violation{Key: spec.Key, Reason: reason})
		}
		if prov := p.Provenance[spec.Key]; !prov.valid() {
			violations = append(violations, Violation{Key: spec.Key, Reason: fmt.Sprintf("invalid provenance %q", prov)})
		}
	}
	foreign := make([]Key, 0)
	for k := range p.Values {
		if _, ok := p.Schema.Lookup(k); !ok {
			foreign = append(foreign, k)
		}
	}
	sort.Slice(foreign, func(i, j int) bool { return foreign[i] < foreign[j] })
	for _, k := range foreign {
		violations = append(violations, Violation{Key: k, Reason: "key is not part of the schema"})
	}
	if len(violations) > 0 {
		return &ViolationError{Schema: p.Schema.Name, Violations: violations}
	}
	return nil
}

// Clone returns a deep copy sharing the immutable schema.
func (p *ParameterSet) Clone() *ParameterSet {
	out := NewParameterSet(p.Schema)
	for k, v := range p.Values {
		out.Values[k] = v
	}
	for k, v := range p.Provenance {
		out.Provenance[k] = v
	}
	return out
}

// SameValues reports whether both sets carry identical values for the same
// schema. Provenance is ignored.
func (p *ParameterSet) SameValues(o *ParameterSet) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Schema.Name != o.Schema.Name || len(p.Values) != len(o.Values) {
		return false
	}
	for k, v := range p.Values {
		ov, ok := o.Values[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Flat returns the values keyed by plain strings, the shape written to the
// resolved-parameters artifact.
func (p *ParameterSet) Flat() map[string]float64 {
	out := make(map[string]float64, len(p.Values))
	for k, v := range p.Values {
		out[string(k)] = v
	}
	return out
}

// UnmarshalJSON restores a set and rebinds the built-in scene schema by name.
func (p *ParameterSet) UnmarshalJSON(data []byte) error {
	type wire ParameterSet
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Schema == nil {
		return fmt.Errorf("%w: parameter set has no schema", ErrSchemaViolation)
	}
	if w.Schema.Name == SceneSchemaName {
		w.Schema = SceneSchema
	}
	if w.Values == nil {
		w.Values = make(map[Key]float64)
	}
	if w.Provenance == nil {
		w.Provenance = make(map[Key]Provenance)
	}
	*p = ParameterSet(w)
	return nil
}

// ParseFlat converts a decoded flat JSON object into a ParameterSet.
//
// # Description
//
// The object must cover exactly the schema's key set and every value must be
// a JSON number satisfying its spec. Nothing is coerced: strings, booleans,
// nested objects, missing keys and extra keys are all violations. On success
// every key carries prov.
//
// # Inputs
//
//   - s: Target schema.
//   - raw: Object decoded with encoding/json (numbers as float64).
//   - prov: Provenance applied to every key.
//
// # Outputs
//
//   - *ParameterSet: Valid, complete set.
//   - error: *ViolationError on any breach.
func ParseFlat(s *Schema, raw map[string]any, prov Provenance) (*ParameterSet, error) {
	out := NewParameterSet(s)
	var violations []Violation

	names := make([]string, 0, len(raw))
	for k := range raw {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		key := Key(name)
		if _, ok := s.Lookup(key); !ok {
			violations = append(violations, Violation{Key: key, Reason: "key is not part of the schema"})
			continue
		}
		num, ok := raw[name].(float64)
		if !ok {
			violations = append(violations, Violation{Key: key, Reason: fmt.Sprintf("expected a number, got %T", raw[name])})
			continue
		}
		out.Values[key] = num
		out.Provenance[key] = prov
	}
	if len(violations) > 0 {
		return nil, &ViolationError{Schema: s.Name, Violations: violations}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
