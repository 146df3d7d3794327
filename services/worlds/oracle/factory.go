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
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
)

// ProviderFactory creates ChatClients from ProviderConfig.
//
// Thread Safety: ProviderFactory is safe for concurrent use.
type ProviderFactory struct {
	logger *slog.Logger
}

// NewProviderFactory creates a factory. A nil logger uses slog.Default().
func NewProviderFactory(logger *slog.Logger) *ProviderFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderFactory{logger: logger.With(slog.String("component", "oracle_factory"))}
}

// CreateChatClient builds the adapter for cfg.Provider.
//
// Inputs:
//   - ctx: Used only by the genai SDK during client construction.
//   - cfg: Provider configuration. Cloud providers require a sealed key.
//
// Outputs:
//   - ChatClient: The configured adapter.
//   - error: Non-nil for a missing key or an unsupported provider.
func (f *ProviderFactory) CreateChatClient(ctx context.Context, cfg ProviderConfig) (ChatClient, error) {
	var client ChatClient
	build := func(key string) error {
		switch cfg.Provider {
		case ProviderOllama:
			baseURL := cfg.BaseURL
			if baseURL == "" {
				baseURL = ResolveOllamaURL()
			}
			client = NewOllamaChatAdapter(llm.NewOllamaClient(baseURL, cfg.Model))

		case ProviderAnthropic:
			if key == "" {
				return fmt.Errorf("ANTHROPIC_API_KEY required for Anthropic provider")
			}
			client = NewAnthropicChatAdapter(llm.NewAnthropicClientWithConfig(key, modelOr(cfg.Model, "claude-sonnet-4-20250514"), cfg.BaseURL))

		case ProviderOpenAI:
			if key == "" {
				return fmt.Errorf("OPENAI_API_KEY required for OpenAI provider")
			}
			client = NewOpenAIChatAdapter(llm.NewOpenAIClientWithConfig(key, modelOr(cfg.Model, "gpt-4o"), cfg.BaseURL))

		case ProviderGemini:
			if key == "" {
				return fmt.Errorf("GEMINI_API_KEY required for Gemini provider")
			}
			client = NewGeminiChatAdapter(llm.NewGeminiClientWithConfig(key, modelOr(cfg.Model, "gemini-2.0-flash"), cfg.BaseURL))

		case ProviderGenAI:
			c, err := llm.NewGenAIClient(ctx, key, cfg.Model)
			if err != nil {
				return fmt.Errorf("creating GenAI client: %w", err)
			}
			client = NewGenAIChatAdapter(c)

		default:
			return fmt.Errorf("unsupported provider: %q (valid: %v)", cfg.Provider, ValidProviders)
		}
		return nil
	}
	if err := withSecret(cfg.APIKey, build); err != nil {
		return nil, err
	}
	f.logger.Debug("oracle client created",
		slog.String("provider", cfg.Provider),
		slog.String("model", cfg.Model),
	)
	return client, nil
}

// CreateRoleClients builds one client per role, sharing clients between
// roles with identical backends, and wraps each with mws.
//
// Outputs:
//   - map[Role]ChatClient: One entry for every role in rc.
//   - error: The first construction failure.
func (f *ProviderFactory) CreateRoleClients(ctx context.Context, rc RoleConfig, mws ...Middleware) (map[Role]ChatClient, error) {
	shared := make(map[string]ChatClient)
	out := make(map[Role]ChatClient, len(rc))
	for _, role := range AllRoles {
		cfg, ok := rc[role]
		if !ok {
			continue
		}
		id := cfg.identity()
		client, ok := shared[id]
		if !ok {
			c, err := f.CreateChatClient(ctx, cfg)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", role, err)
			}
			client = Wrap(c, mws...)
			shared[id] = client
		}
		out[role] = client
	}
	return out, nil
}

func modelOr(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}
