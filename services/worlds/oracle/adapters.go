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
	"time"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// backend is the method set shared by every client in services/llm.
type backend interface {
	Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error)
	Model() string
}

// ChatAdapter wraps one services/llm client to implement ChatClient.
//
// Description:
//
//	Opens a span per call, converts ChatOptions into GenerationParams, and
//	records Prometheus metrics labeled by provider.
//
// Thread Safety: ChatAdapter is safe for concurrent use.
type ChatAdapter struct {
	provider string
	client   backend
}

// NewOpenAIChatAdapter wraps an OpenAI-compatible client.
func NewOpenAIChatAdapter(client *llm.OpenAIClient) *ChatAdapter {
	return newChatAdapter(ProviderOpenAI, client)
}

// NewAnthropicChatAdapter wraps an Anthropic client.
func NewAnthropicChatAdapter(client *llm.AnthropicClient) *ChatAdapter {
	return newChatAdapter(ProviderAnthropic, client)
}

// NewGeminiChatAdapter wraps the REST Gemini client.
func NewGeminiChatAdapter(client *llm.GeminiClient) *ChatAdapter {
	return newChatAdapter(ProviderGemini, client)
}

// NewGenAIChatAdapter wraps the Gemini SDK client.
func NewGenAIChatAdapter(client *llm.GenAIClient) *ChatAdapter {
	return newChatAdapter(ProviderGenAI, client)
}

// NewOllamaChatAdapter wraps an Ollama client.
func NewOllamaChatAdapter(client *llm.OllamaClient) *ChatAdapter {
	return newChatAdapter(ProviderOllama, client)
}

func newChatAdapter(provider string, client backend) *ChatAdapter {
	return &ChatAdapter{provider: provider, client: client}
}

// Provider returns the provider label.
func (a *ChatAdapter) Provider() string { return a.provider }

// Chat implements ChatClient.
func (a *ChatAdapter) Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("%s client is nil", a.provider)
	}

	images := 0
	for _, m := range messages {
		images += len(m.Images)
	}
	model := opts.Model
	if model == "" {
		model = a.client.Model()
	}

	ctx, span := otel.Tracer(chatTracerName).Start(ctx, "oracle.ChatAdapter.Chat",
		trace.WithAttributes(
			attribute.String("provider", a.provider),
			attribute.String("model", model),
			attribute.Int("message_count", len(messages)),
			attribute.Int("image_count", images),
			attribute.Float64("temperature", opts.Temperature),
			attribute.Bool("json_mode", opts.JSONMode),
		),
	)
	defer span.End()

	if images > 0 {
		chatImagesTotal.WithLabelValues(a.provider).Add(float64(images))
	}

	start := time.Now()
	result, err := a.client.Chat(ctx, messages, toParams(opts))
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordChatMetrics(a.provider, duration, err)
		return "", err
	}

	span.SetAttributes(attribute.Int("response_len", len(result)))
	recordChatMetrics(a.provider, duration, nil)
	return result, nil
}
