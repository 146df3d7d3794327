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
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GenAIClient calls Gemini through the official Go SDK.
//
// Description:
//
//	An alternative to the REST GeminiClient for deployments that prefer the
//	SDK's auth handling (API key or Vertex backend). Images become inline
//	Blob parts.
//
// Thread Safety: GenAIClient is safe for concurrent use.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient builds an SDK-backed client for the Gemini API backend.
//
// Inputs:
//   - ctx: Context for client construction.
//   - apiKey: Gemini API key. Empty lets the SDK read GOOGLE_API_KEY.
//   - model: Model name, e.g. "gemini-2.0-flash".
//
// Outputs:
//   - *GenAIClient: Ready client.
//   - error: Non-nil if the SDK rejects the configuration.
func NewGenAIClient(ctx context.Context, apiKey, model string) (*GenAIClient, error) {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: creating client: %w", err)
	}
	return &GenAIClient{client: cli, model: model}, nil
}

// Model returns the configured model name.
func (g *GenAIClient) Model() string { return g.model }

// Chat sends the conversation through Models.GenerateContent.
//
// Thread Safety: This method is safe for concurrent use.
func (g *GenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	model := g.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	system, rest := splitSystem(messages)
	contents := genaiContents(rest)

	cfg := &genai.GenerateContentConfig{
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		StopSequences: params.Stop,
	}
	if params.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*params.MaxTokens)
	}
	if params.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("genai: generate content: %s", SafeLogString(err.Error()))
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("genai: returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

// genaiContents maps non-system messages to SDK contents; assistant turns
// become the model role.
func genaiContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		var role genai.Role = genai.RoleUser
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(genaiParts(msg), role))
	}
	return contents
}

func genaiParts(msg Message) []*genai.Part {
	parts := make([]*genai.Part, 0, 1+2*len(msg.Images))
	if msg.Content != "" {
		parts = append(parts, &genai.Part{Text: msg.Content})
	}
	for _, img := range msg.Images {
		if img.Caption != "" {
			parts = append(parts, &genai.Part{Text: img.Caption})
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}})
	}
	return parts
}
