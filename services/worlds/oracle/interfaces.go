// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package oracle defines the provider-agnostic generation and critic oracle
// used by every reasoning stage of the worlds pipeline, together with the
// per-role provider configuration, adapters over services/llm, and opt-in
// middleware (retry, rate limiting).
//
// Thread Safety:
//
//	All interfaces in this package must be implemented as safe for concurrent use.
package oracle

import (
	"context"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
)

// ChatClient is the single interface every stage talks to.
//
// Description:
//
//	Text stages (extractor, planner, resolver, synthesizer) send plain
//	messages. Critics attach llm.Image parts to the user message. Callers
//	must treat the returned text as untrusted and validate it.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ChatClient interface {
	// Chat sends messages and returns the assistant's response text.
	//
	// Inputs:
	//   - ctx: Context for cancellation and timeout.
	//   - messages: Conversation messages, optionally with images.
	//   - opts: Provider-agnostic chat options.
	//
	// Outputs:
	//   - string: The assistant's response text.
	//   - error: Non-nil on failure. Stages wrap it as schema.ErrOracle.
	Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error)
}

// ChatOptions holds provider-agnostic options for a chat request.
type ChatOptions struct {
	// Temperature controls randomness. The zero value is an explicit 0.0;
	// a negative value omits the field so the provider default applies.
	Temperature float64

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int

	// JSONMode requests a JSON object response where supported.
	JSONMode bool

	// KeepAlive controls model VRAM lifetime (Ollama-specific).
	KeepAlive string

	// NumCtx sets the context window size (Ollama-specific).
	NumCtx int

	// Model overrides the adapter's configured model for one call.
	Model string
}

// ChatFunc adapts a function to ChatClient. Tests use it as a scripted
// oracle.
type ChatFunc func(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error)

// Chat calls f.
func (f ChatFunc) Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error) {
	return f(ctx, messages, opts)
}

// toParams converts options into the llm package's per-request settings.
func toParams(opts ChatOptions) llm.GenerationParams {
	params := llm.GenerationParams{
		JSONMode:      opts.JSONMode,
		KeepAlive:     opts.KeepAlive,
		ModelOverride: opts.Model,
	}
	if opts.Temperature >= 0 {
		temp := float32(opts.Temperature)
		params.Temperature = &temp
	}
	if opts.MaxTokens > 0 {
		maxTokens := opts.MaxTokens
		params.MaxTokens = &maxTokens
	}
	if opts.NumCtx > 0 {
		numCtx := opts.NumCtx
		params.NumCtx = &numCtx
	}
	return params
}
