// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm holds raw HTTP clients for the text and vision generation
// services the worlds pipeline consults (OpenAI, Anthropic, Gemini, Ollama)
// plus a Gemini SDK client. Every client speaks the same Message type and
// accepts image parts for critic requests.
//
// Thread Safety:
//
//	All clients are safe for concurrent use.
package llm

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
//
// Description:
//
//	Content is the text part. Images are appended after the text in the
//	order given; each image may carry a Caption emitted as a text part just
//	before it ("Front View:", "Side View:").
type Message struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Images  []Image `json:"images,omitempty"`
}

// Image is an inline image attached to a message.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
	Caption  string `json:"caption,omitempty"`
}

// Base64 returns the standard base64 encoding of the image bytes.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image as a data: URL.
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + i.Base64()
}

// LoadImage reads an image file and sniffs its MIME type.
//
// # Inputs
//
//   - path: Image file path.
//   - caption: Optional caption emitted before the image.
//
// # Outputs
//
//   - Image: Loaded image.
//   - error: Non-nil if the file cannot be read or is not an image.
func LoadImage(path, caption string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("llm: reading image %s: %w", path, err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".png":
			mime = "image/png"
		case ".jpg", ".jpeg":
			mime = "image/jpeg"
		case ".webp":
			mime = "image/webp"
		default:
			return Image{}, fmt.Errorf("llm: %s is not an image (detected %s)", path, mime)
		}
	}
	return Image{MIMEType: mime, Data: data, Caption: caption}, nil
}

// GenerationParams holds optional per-request settings. Nil pointers mean
// "use the provider default".
type GenerationParams struct {
	Temperature *float32
	MaxTokens   *int
	TopP        *float32
	Stop        []string

	// JSONMode asks the provider to constrain output to a JSON object when
	// it supports that.
	JSONMode bool

	// ModelOverride replaces the client's configured model for one call.
	ModelOverride string

	// KeepAlive and NumCtx are Ollama-specific and ignored elsewhere.
	KeepAlive string
	NumCtx    *int
}

// splitSystem separates system messages from the conversation. Multiple
// system messages are joined with a blank line.
func splitSystem(messages []Message) (string, []Message) {
	var sys []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}
