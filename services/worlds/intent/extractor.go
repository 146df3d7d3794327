// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intent maps a free-text instruction to the single entity whose
// dynamics matter, or to "none".
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/knowledge"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

// None is the entity reported when nothing should be selected.
const None = "none"

const (
	extractTemperature = 0.1
	extractMaxTokens   = 500
)

// forbidden are scenery nouns that are never valid entities.
var forbidden = map[string]bool{
	"ground": true, "floor": true, "sky": true, "room": true,
	"none": true, "null": true, "nothing": true,
}

// Result is the outcome of one extraction.
type Result struct {
	Entity string `json:"key_obj"`
	Reason string `json:"reason"`

	// None is true when no entity was selected, including on parse failure.
	None bool `json:"-"`

	// ParseError records why the oracle output was rejected. The extractor
	// fails closed, so a parse error always comes with None set.
	ParseError error `json:"-"`

	// Fallback is true when the entity came from vocabulary containment
	// rather than the structured response.
	Fallback bool `json:"-"`
}

// Selection is the on-disk shape of one extraction. KeyObj is nil for none.
type Selection struct {
	KeyObj *string `json:"key_obj"`
	Reason string  `json:"reason"`
}

// Selection converts r to its artifact form.
func (r Result) Selection() Selection {
	if r.None || r.Entity == "" {
		return Selection{Reason: r.Reason}
	}
	entity := r.Entity
	return Selection{KeyObj: &entity, Reason: r.Reason}
}

// FromSelection rebuilds a Result from an artifact.
func FromSelection(s Selection) Result {
	if s.KeyObj == nil {
		return Result{Entity: None, Reason: s.Reason, None: true}
	}
	entity := Canonicalize(*s.KeyObj)
	return Result{Entity: entity, Reason: s.Reason, None: entity == None}
}

// Extractor asks the generation oracle for the key entity.
//
// Thread Safety: Extractor is safe for concurrent use.
type Extractor struct {
	client   oracle.ChatClient
	logger   *slog.Logger
	fallback []string
}

// NewExtractor creates an extractor. fallbackLabels are the known labels used
// by the containment fallback; nil uses the knowledge vocabulary labels.
func NewExtractor(client oracle.ChatClient, fallbackLabels []string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if fallbackLabels == nil {
		for _, name := range knowledge.Vocabulary {
			fallbackLabels = append(fallbackLabels, knowledge.Label(name))
		}
	}
	labels := make([]string, 0, len(fallbackLabels))
	for _, l := range fallbackLabels {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			labels = append(labels, l)
		}
	}
	// Longest first so "palm tree" wins over "tree" at the same offset.
	sort.SliceStable(labels, func(i, j int) bool { return len(labels[i]) > len(labels[j]) })
	return &Extractor{client: client, logger: logger.With(slog.String("component", "intent")), fallback: labels}
}

type wireResult struct {
	KeyObj *string `json:"key_obj"`
	Reason string  `json:"reason"`
}

// Extract selects the key entity for instruction.
//
// Description:
//
//	An empty instruction returns none without calling the oracle. The
//	oracle reply is parsed as a {key_obj, reason} object. When that fails,
//	one deterministic fallback runs: the earliest known label contained in
//	the reply. If that also fails the result is none with ParseError set.
//
// Outputs:
//   - Result: Always populated.
//   - error: A *schema.StageError wrapping schema.ErrOracle on oracle failure.
func (e *Extractor) Extract(ctx context.Context, instruction string) (Result, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return Result{Entity: None, Reason: "empty instruction", None: true}, nil
	}

	reply, err := e.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: instruction},
	}, oracle.ChatOptions{Temperature: extractTemperature, MaxTokens: extractMaxTokens})
	if err != nil {
		return Result{Entity: None, None: true}, schema.NewStageError(schema.StageExtract, schema.ErrOracle, err)
	}
	return e.parse(reply), nil
}

func (e *Extractor) parse(reply string) Result {
	var w wireResult
	perr := oracle.DecodeJSONObject(reply, &w)
	if perr == nil && !hasKeyObj(reply) {
		perr = fmt.Errorf("%w: response has no key_obj field", schema.ErrParseFailure)
	}
	if perr == nil {
		if w.KeyObj == nil {
			return Result{Entity: None, Reason: w.Reason, None: true}
		}
		entity := Canonicalize(*w.KeyObj)
		return Result{Entity: entity, Reason: w.Reason, None: entity == None}
	}

	if label, ok := e.containedLabel(reply); ok {
		e.logger.Warn("intent: structured parse failed, using vocabulary fallback",
			slog.String("label", label),
			slog.String("error", perr.Error()))
		entity := Canonicalize(label)
		return Result{Entity: entity, Reason: "matched known label in unstructured reply", None: entity == None, Fallback: true}
	}

	e.logger.Warn("intent: could not parse oracle reply",
		slog.String("reply", llm.SafeLogString(reply)),
		slog.String("error", perr.Error()))
	return Result{
		Entity:     None,
		Reason:     "unparseable oracle reply",
		None:       true,
		ParseError: schema.NewStageError(schema.StageExtract, schema.ErrParseFailure, perr),
	}
}

// hasKeyObj distinguishes {"key_obj": null} from an object without the field.
func hasKeyObj(reply string) bool {
	obj, err := oracle.ExtractJSONObject(reply)
	if err != nil {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(obj, &fields); err != nil {
		return false
	}
	_, ok := fields["key_obj"]
	return ok
}

func (e *Extractor) containedLabel(reply string) (string, bool) {
	text := " " + strings.ToLower(reply) + " "
	best, bestAt := "", -1
	for _, label := range e.fallback {
		re := wordPattern(label)
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if bestAt < 0 || loc[0] < bestAt {
			best, bestAt = label, loc[0]
		}
	}
	return best, bestAt >= 0
}

func wordPattern(label string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(label) + `s?\b`)
}

// IsNone reports whether no entity was selected.
func (r Result) IsNone() bool { return r.None || r.Entity == None }
