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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianWorlds/services/llm"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when the rate limiter cannot admit a call
// before the context ends.
var ErrRateLimited = errors.New("oracle rate limit wait aborted")

// PermanentError marks a failure that retrying cannot fix (bad key, invalid
// request).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err so Retry gives up immediately.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// Middleware decorates a ChatClient.
type Middleware func(ChatClient) ChatClient

// Wrap applies mws so that mws[0] is the outermost layer.
func Wrap(c ChatClient, mws ...Middleware) ChatClient {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			c = mws[i](c)
		}
	}
	return c
}

// Retry re-issues failed calls up to maxAttempts with exponential backoff
// starting at baseDelay. Permanent errors and auth failures are returned
// at once, and a cancelled context stops the loop.
func Retry(maxAttempts int, baseDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return func(next ChatClient) ChatClient {
		return &retrying{next: next, max: maxAttempts, base: baseDelay}
	}
}

type retrying struct {
	next ChatClient
	max  int
	base time.Duration
}

func (r *retrying) Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error) {
	var last error
	for i := 0; i < r.max; i++ {
		out, err := r.next.Chat(ctx, messages, opts)
		if err == nil {
			return out, nil
		}
		var pErr *PermanentError
		if errors.As(err, &pErr) || classifyChatError(err) == "auth" {
			return "", err
		}
		last = err
		if i == r.max-1 {
			break
		}
		retryAttemptsTotal.Inc()
		slog.Debug("retrying oracle call",
			slog.Int("attempt", i+2),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		timer := time.NewTimer(r.base * time.Duration(1<<i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", last
}

// RateLimit admits at most qps calls per second with the given burst.
// A non-positive qps disables limiting.
func RateLimit(qps float64, burst int) Middleware {
	if qps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(qps), burst)
	return func(next ChatClient) ChatClient {
		return ChatFunc(func(ctx context.Context, messages []llm.Message, opts ChatOptions) (string, error) {
			if err := limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
			return next.Chat(ctx, messages, opts)
		})
	}
}
