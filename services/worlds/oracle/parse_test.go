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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain object", `{"key_obj": "can", "reason": "crushed"}`, `{"key_obj": "can", "reason": "crushed"}`},
		{"fenced json", "Here you go:\n```json\n{\"a\": 1}\n```\nthanks", `{"a": 1}`},
		{"array first element", `[{"a": 1}, {"a": 2}]`, `{"a":1}`},
		{"prose around nested object", `Result: {"a": {"b": "}"}} done`, `{"a": {"b": "}"}}`},
		{"second brace decodes", `{not json} then {"ok": true}`, `{"ok": true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.raw)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestExtractJSONObject_Failure(t *testing.T) {
	for _, raw := range []string{"", "no braces here", "[1, 2]", "{broken"} {
		_, err := ExtractJSONObject(raw)
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, schema.ErrParseFailure))
	}
}

func TestDecodeJSONObject(t *testing.T) {
	var out struct {
		Valid    bool   `json:"valid"`
		Feedback string `json:"feedback"`
	}
	require.NoError(t, DecodeJSONObject("```\n{\"valid\": false, \"feedback\": \"too small\"}\n```", &out))
	assert.False(t, out.Valid)
	assert.Equal(t, "too small", out.Feedback)

	err := DecodeJSONObject(`{"valid": "maybe"}`, &out)
	assert.True(t, errors.Is(err, schema.ErrParseFailure))
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, "a = 1", StripCodeFence("```gin\na = 1\n```"))
	assert.Equal(t, "a = 1", StripCodeFence("  a = 1  "))
	assert.Equal(t, "a = 1", StripCodeFence("```\na = 1"))
}
