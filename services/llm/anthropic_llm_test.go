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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewAnthropicClient_MissingAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewAnthropicClient(); err == nil {
		// The secret file may exist on a developer host.
		t.Skip("anthropic secret file present")
	}
}

func TestAnthropicClient_Chat_SystemAndImages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.System) != 1 || req.System[0].Text != "critic" {
			t.Errorf("system = %+v", req.System)
		}
		if req.MaxTokens != defaultAnthropicMaxTokens {
			t.Errorf("max_tokens = %d, want default", req.MaxTokens)
		}
		if len(req.Messages) != 1 {
			t.Fatalf("messages = %d, want 1", len(req.Messages))
		}
		blocks := req.Messages[0].Content
		if len(blocks) != 3 || blocks[2].Type != "image" || blocks[2].Source == nil {
			t.Fatalf("blocks = %+v", blocks)
		}
		if blocks[2].Source.MediaType != "image/jpeg" || blocks[2].Source.Type != "base64" {
			t.Errorf("source = %+v", blocks[2].Source)
		}
		_, _ = w.Write([]byte(`{"id":"m","content":[{"type":"text","text":"{\"valid\":"},{"type":"text","text":"true}"}],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude", server.URL)
	out, err := client.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "critic"},
		{Role: RoleUser, Content: "look", Images: []Image{{MIMEType: "image/jpeg", Data: []byte("jpg"), Caption: "Front View:"}}},
	}, GenerationParams{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"valid":true}` {
		t.Errorf("out = %q", out)
	}
}

func TestAnthropicClient_Chat_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"m","content":[],"stop_reason":"max_tokens"}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("k", "claude", server.URL)
	_, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, GenerationParams{})
	if err == nil || !strings.Contains(err.Error(), "max_tokens") {
		t.Fatalf("err = %v, want no-text error naming stop_reason", err)
	}
}
