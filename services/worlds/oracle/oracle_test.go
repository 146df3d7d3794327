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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatAdapter_OllamaRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json", req["format"])
		opts, _ := req["options"].(map[string]any)
		assert.Equal(t, 0.0, opts["temperature"])
		assert.Equal(t, 500.0, opts["num_predict"])
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"{\"object\":\"fish\"}"},"done":true}`))
	}))
	defer server.Close()

	adapter := NewOllamaChatAdapter(llm.NewOllamaClient(server.URL, "llama3"))
	assert.Equal(t, ProviderOllama, adapter.Provider())

	out, err := adapter.Chat(context.Background(),
		[]llm.Message{{Role: llm.RoleUser, Content: "a fish"}},
		ChatOptions{Temperature: 0, MaxTokens: 500, JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, `{"object":"fish"}`, out)
}

func TestChatAdapter_NilClient(t *testing.T) {
	a := &ChatAdapter{provider: ProviderOpenAI}
	_, err := a.Chat(context.Background(), nil, ChatOptions{})
	require.Error(t, err)
	assert.Equal(t, "nil_client", classifyChatError(err))
}

func TestToParams_NegativeTemperatureOmitted(t *testing.T) {
	p := toParams(ChatOptions{Temperature: -1, NumCtx: 4096, Model: "m"})
	assert.Nil(t, p.Temperature)
	assert.Nil(t, p.MaxTokens)
	require.NotNil(t, p.NumCtx)
	assert.Equal(t, 4096, *p.NumCtx)
	assert.Equal(t, "m", p.ModelOverride)

	p = toParams(ChatOptions{Temperature: 0})
	require.NotNil(t, p.Temperature)
	assert.Equal(t, float32(0), *p.Temperature)
}

func TestClassifyChatError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("openai: API returned 401: nope"), "auth"},
		{errors.New("gemini: API returned 429: slow"), "rate_limit"},
		{errors.New("ollama: API returned 503: busy"), "server"},
		{context.DeadlineExceeded, "timeout"},
		{ErrRateLimited, "rate_limit"},
		{errors.New("weird"), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyChatError(tt.err), "err=%v", tt.err)
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	var calls int32
	flaky := ChatFunc(func(ctx context.Context, _ []llm.Message, _ ChatOptions) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", errors.New("ollama: API returned 503: busy")
		}
		return "ok", nil
	})
	c := Wrap(flaky, Retry(3, time.Millisecond))
	out, err := c.Chat(context.Background(), nil, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetry_PermanentAndAuthStopImmediately(t *testing.T) {
	for _, failure := range []error{
		NewPermanentError(errors.New("bad request")),
		errors.New("anthropic: API returned 401: invalid x-api-key"),
	} {
		var calls int32
		c := Wrap(ChatFunc(func(context.Context, []llm.Message, ChatOptions) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "", failure
		}), Retry(5, time.Millisecond))
		_, err := c.Chat(context.Background(), nil, ChatOptions{})
		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "failure=%v", failure)
	}
}

func TestRetry_ContextCancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := Wrap(ChatFunc(func(context.Context, []llm.Message, ChatOptions) (string, error) {
		cancel()
		return "", errors.New("server error")
	}), Retry(5, time.Hour))
	_, err := c.Chat(ctx, nil, ChatOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_DefaultIsSingleAttempt(t *testing.T) {
	var calls int32
	c := Wrap(ChatFunc(func(context.Context, []llm.Message, ChatOptions) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", errors.New("server error")
	}), Retry(0, 0))
	_, err := c.Chat(context.Background(), nil, ChatOptions{})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRateLimit_WaitAbortedByContext(t *testing.T) {
	c := Wrap(ChatFunc(func(context.Context, []llm.Message, ChatOptions) (string, error) {
		return "ok", nil
	}), RateLimit(0.001, 1))

	_, err := c.Chat(context.Background(), nil, ChatOptions{})
	require.NoError(t, err, "first call uses the burst token")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Chat(ctx, nil, ChatOptions{})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestRateLimit_DisabledWhenNonPositive(t *testing.T) {
	assert.Nil(t, RateLimit(0, 5))
	base := ChatFunc(func(context.Context, []llm.Message, ChatOptions) (string, error) { return "x", nil })
	out, err := Wrap(base, RateLimit(0, 5)).Chat(context.Background(), nil, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestWrap_OrderOutermostFirst(t *testing.T) {
	var trail []string
	tag := func(name string) Middleware {
		return func(next ChatClient) ChatClient {
			return ChatFunc(func(ctx context.Context, m []llm.Message, o ChatOptions) (string, error) {
				trail = append(trail, name)
				return next.Chat(ctx, m, o)
			})
		}
	}
	base := ChatFunc(func(context.Context, []llm.Message, ChatOptions) (string, error) { return "", nil })
	_, _ = Wrap(base, tag("a"), tag("b")).Chat(context.Background(), nil, ChatOptions{})
	assert.Equal(t, []string{"a", "b"}, trail)
}
