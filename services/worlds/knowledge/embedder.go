// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Embedder turns text into a vector. Implementations must be safe for
// concurrent use.
type Embedder interface {
	// Name identifies the embedder and model; it is part of the corpus hash.
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Fitter is implemented by embedders that learn from the corpus before
// embedding it. Fit returns a new fitted embedder and leaves the receiver
// untouched, so an index built earlier keeps working.
type Fitter interface {
	Fit(documents []string) Embedder
}

// =============================================================================
// TF-IDF
// =============================================================================

// TFIDFEmbedder is an offline, deterministic embedder. The zero value is
// unfitted and embeds everything to the zero vector; Build fits it on the
// chunk documents.
type TFIDFEmbedder struct {
	vocab map[string]int
	idf   []float64
}

// NewTFIDFEmbedder returns an unfitted TF-IDF embedder.
func NewTFIDFEmbedder() *TFIDFEmbedder { return &TFIDFEmbedder{} }

// Name implements Embedder.
func (t *TFIDFEmbedder) Name() string { return "tfidf" }

// Fit builds the vocabulary and smoothed inverse document frequencies.
func (t *TFIDFEmbedder) Fit(documents []string) Embedder {
	df := make(map[string]int)
	for _, doc := range documents {
		seen := make(map[string]bool)
		for _, tok := range tokenize(doc) {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	n := float64(len(documents))
	fitted := &TFIDFEmbedder{vocab: make(map[string]int, len(terms)), idf: make([]float64, len(terms))}
	for i, term := range terms {
		fitted.vocab[term] = i
		fitted.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	return fitted
}

// Embed implements Embedder. Unknown terms are ignored.
func (t *TFIDFEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(t.idf))
	for _, tok := range tokenize(text) {
		if i, ok := t.vocab[tok]; ok {
			vec[i] += float32(t.idf[i])
		}
	}
	return vec, nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// =============================================================================
// Ollama
// =============================================================================

type ollamaEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaEmbedder calls an Ollama /api/embed endpoint.
type OllamaEmbedder struct {
	url    string
	model  string
	client *http.Client
}

// NewOllamaEmbedder creates an embedder. Empty url and model fall back to
// EMBEDDING_SERVICE_URL and EMBEDDING_MODEL, then to built-in defaults.
func NewOllamaEmbedder(url, model string) *OllamaEmbedder {
	if url == "" {
		url = os.Getenv("EMBEDDING_SERVICE_URL")
	}
	if url == "" {
		url = "http://host.containers.internal:11434/api/embed"
	}
	if model == "" {
		model = os.Getenv("EMBEDDING_MODEL")
	}
	if model == "" {
		model = "nomic-embed-text-v2-moe"
	}
	return &OllamaEmbedder{url: url, model: model, client: &http.Client{Timeout: 30 * time.Second}}
}

// Name implements Embedder.
func (o *OllamaEmbedder) Name() string { return "ollama:" + o.model }

// Embed implements Embedder.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedReq{Model: o.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed response had no vectors")
	}
	return out.Embeddings[0], nil
}

// =============================================================================
// Vector math
// =============================================================================

func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// unit returns a normalized copy of v, or nil for the zero vector.
func unit(v []float32) []float32 {
	norm := l2Norm(v)
	if norm == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dotProduct(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
