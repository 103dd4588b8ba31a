// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm talks to the upstream chat-completion provider.
package llm

import (
	"context"
	"iter"

	"github.com/AleutianAI/kgstream/pkg/stream"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams overrides the client defaults for one request. Nil
// fields and an empty Model keep the configured values.
type GenerationParams struct {
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Model       string   `json:"model,omitempty"`
}

// WithTemperature returns params with Temperature set.
func WithTemperature(t float32) GenerationParams {
	return GenerationParams{Temperature: &t}
}

// Completer returns a whole completion.
type Completer interface {
	Complete(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}

// Streamer returns a completion as a lazy sequence of deltas. The
// sequence follows stream.Session semantics: at most one trailing error,
// Reset deltas between retried attempts.
type Streamer interface {
	Stream(ctx context.Context, messages []Message, params GenerationParams) iter.Seq2[stream.Delta, error]
}

// Client is both.
type Client interface {
	Completer
	Streamer
}
