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

	"google.golang.org/genai"
)

func TestGenAIContents_Roles(t *testing.T) {
	contents := genaiContents([]Message{
		{Role: RoleUser, Content: "a tree", Images: []Image{{MIMEType: "image/png", Data: []byte{1}, Caption: "front"}}},
		{Role: RoleAssistant, Content: "{}"},
	})
	if len(contents) != 2 {
		t.Fatalf("contents = %d, want 2", len(contents))
	}
	if contents[0].Role != genai.RoleUser || contents[1].Role != genai.RoleModel {
		t.Errorf("roles = %q, %q", contents[0].Role, contents[1].Role)
	}
	if got := len(contents[0].Parts); got != 3 {
		t.Errorf("user parts = %d, want text, caption and blob", got)
	}
	if contents[0].Parts[2].InlineData == nil || contents[0].Parts[2].InlineData.MIMEType != "image/png" {
		t.Errorf("blob part = %+v", contents[0].Parts[2])
	}
}

func TestGenAIClient_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			Contents []struct {
				Role string `json:"role"`
			} `json:"contents"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.Contents) != 2 || req.Contents[0].Role != "user" || req.Contents[1].Role != "model" {
			t.Errorf("contents = %+v", req.Contents)
		}
		if req.SystemInstruction == nil || len(req.SystemInstruction.Parts) == 0 || req.SystemInstruction.Parts[0].Text != "resolve" {
			t.Errorf("systemInstruction = %+v", req.SystemInstruction)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"scale\": 1.2}"}]},"finishReason":"STOP"}]}`))
	}))
	defer server.Close()

	cli, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      "g-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: server.URL},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client := &GenAIClient{client: cli, model: "gemini-test"}
	out, err := client.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "resolve"},
		{Role: RoleUser, Content: "a tall tree"},
		{Role: RoleAssistant, Content: "{}"},
	}, GenerationParams{JSONMode: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"scale": 1.2}` {
		t.Errorf("out = %q", out)
	}
}
