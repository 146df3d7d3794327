// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"regexp"
)

// maxLoggedBody caps how much of a provider response body ends up in an
// error message after redaction.
const maxLoggedBody = 2048

type redactionPattern struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// redactionPatterns is applied in order. The Anthropic key pattern must
// precede the generic sk- pattern.
var redactionPatterns = []redactionPattern{
	{
		Pattern:     regexp.MustCompile(`data:image/[A-Za-z0-9.+-]+;base64,[A-Za-z0-9+/=]+`),
		Replacement: "[REDACTED:image_data]",
	},
	{
		Pattern:     regexp.MustCompile(`sk-ant-api03-[A-Za-z0-9_-]{20,}`),
		Replacement: "[REDACTED:anthropic_key]",
	},
	{
		Pattern:     regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
		Replacement: "[REDACTED:openai_key]",
	},
	{
		Pattern:     regexp.MustCompile(`AIza[A-Za-z0-9_-]{30,}`),
		Replacement: "[REDACTED:gemini_key]",
	},
	{
		Pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`),
		Replacement: "[REDACTED:bearer_token]",
	},
	{
		Pattern:     regexp.MustCompile(`key=[A-Za-z0-9._-]{10,}`),
		Replacement: "key=[REDACTED]",
	},
	{
		// Inline base64 payloads echoed back by providers in validation errors.
		Pattern:     regexp.MustCompile(`"data"\s*:\s*"[A-Za-z0-9+/=]{256,}"`),
		Replacement: `"data":"[REDACTED:image_data]"`,
	},
}

// SafeLogString redacts API keys, bearer tokens and inline image payloads
// from a string before it is logged or wrapped into an error.
//
// Description:
//
//	Rendered views are attached to critic prompts as base64, and providers
//	sometimes echo the request back in error bodies. Those payloads are
//	replaced with [REDACTED:image_data] and the result is truncated to
//	maxLoggedBody bytes.
//
// Limitations:
//   - Pattern-based only. Keys with non-standard prefixes pass through.
//
// Thread Safety: This function is safe for concurrent use.
func SafeLogString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range redactionPatterns {
		s = p.Pattern.ReplaceAllString(s, p.Replacement)
	}
	if len(s) > maxLoggedBody {
		s = s[:maxLoggedBody] + "...(truncated)"
	}
	return s
}
