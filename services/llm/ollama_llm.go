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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ollamaChatRequest struct {
	Model     string              `json:"model"`
	Messages  []ollamaChatMessage `json:"messages"`
	Stream    bool                `json:"stream"`
	Format    string              `json:"format,omitempty"`
	KeepAlive string              `json:"keep_alive,omitempty"`
	Options   map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Model   string            `json:"model"`
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error,omitempty"`
}

// OllamaClient calls a local Ollama server's /api/chat endpoint.
//
// Description:
//
//	Images travel in the message's images array as raw base64; captions are
//	folded into the text. KeepAlive and NumCtx are honored.
//
// Thread Safety: OllamaClient is safe for concurrent use.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewOllamaClient creates a client for the server at baseURL
// (e.g. http://localhost:11434).
func NewOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 300 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
	}
}

// Model returns the configured model name.
func (o *OllamaClient) Model() string { return o.model }

// Chat sends a non-streaming chat request.
//
// Thread Safety: This method is safe for concurrent use.
func (o *OllamaClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	model := o.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}
	if model == "" {
		return "", fmt.Errorf("ollama: no model configured")
	}

	req := ollamaChatRequest{
		Model:     model,
		Messages:  make([]ollamaChatMessage, 0, len(messages)),
		KeepAlive: params.KeepAlive,
		Options:   make(map[string]any),
	}
	if params.JSONMode {
		req.Format = "json"
	}
	for _, msg := range messages {
		om := ollamaChatMessage{Role: msg.Role, Content: msg.Content}
		var captions []string
		for _, img := range msg.Images {
			om.Images = append(om.Images, img.Base64())
			if img.Caption != "" {
				captions = append(captions, fmt.Sprintf("Image %d: %s", len(om.Images), img.Caption))
			}
		}
		if len(captions) > 0 {
			om.Content = strings.TrimSpace(om.Content + "\n" + strings.Join(captions, "\n"))
		}
		req.Messages = append(req.Messages, om)
	}
	if params.Temperature != nil {
		req.Options["temperature"] = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.Options["num_predict"] = *params.MaxTokens
	}
	if params.TopP != nil {
		req.Options["top_p"] = *params.TopP
	}
	if params.NumCtx != nil {
		req.Options["num_ctx"] = *params.NumCtx
	}
	if len(params.Stop) > 0 {
		req.Options["stop"] = params.Stop
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("ollama: marshaling request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ollama: reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama: API returned %d: %s", resp.StatusCode, SafeLogString(string(respBody)))
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("ollama: parsing response JSON: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", SafeLogString(out.Error))
	}
	return out.Message.Content, nil
}
