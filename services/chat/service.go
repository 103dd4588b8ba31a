// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chat implements conversational replies on top of the streaming
// LLM client: history preparation, streamed sends, document questions and
// conversation titles.
package chat

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kgstream/pkg/stream"
	"github.com/AleutianAI/kgstream/services/llm"
)

var tracer = otel.Tracer("kgstream.services.chat")

// RoleThinking marks placeholder turns shown while a reply is pending.
const RoleThinking = "thinking"

const (
	// DefaultHistoryLimit is how many prior turns are sent upstream.
	DefaultHistoryLimit = 20

	// DefaultSystemPrompt frames every conversation.
	DefaultSystemPrompt = "You are a helpful, accurate assistant. Answer in the language " +
		"the user writes in. Decline requests involving violence, terrorism or discrimination."

	documentPrompt = "Answer the user's question using the document in the previous message. " +
		"If the document does not contain the answer, say so."
)

// ErrEmptyMessage is returned for a blank user message or question.
var ErrEmptyMessage = errors.New("message is empty")

// Turn is one entry of a displayed conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Pending marks an assistant turn whose reply has not arrived yet.
	Pending bool `json:"pending,omitempty"`
}

// PrepareHistory converts displayed turns into upstream messages. System
// and thinking turns, pending turns and blank turns are dropped; at most
// the last limit turns are kept (limit <= 0 keeps all).
func PrepareHistory(turns []Turn, limit int) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		if t.Role == llm.RoleSystem || t.Role == RoleThinking || t.Pending {
			continue
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, llm.Message{Role: t.Role, Content: t.Content})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Service produces chat replies.
type Service struct {
	client           llm.Client
	systemPrompt     string
	historyLimit     int
	maxDocumentRunes int
	logger           *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(s *Service) { s.systemPrompt = prompt }
}

// WithHistoryLimit sets how many prior turns are sent.
func WithHistoryLimit(n int) Option {
	return func(s *Service) { s.historyLimit = n }
}

// WithMaxDocumentRunes truncates documents passed to AskDocument.
func WithMaxDocumentRunes(n int) Option {
	return func(s *Service) { s.maxDocumentRunes = n }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a chat service.
func NewService(client llm.Client, opts ...Option) *Service {
	s := &Service{
		client:       client,
		systemPrompt: DefaultSystemPrompt,
		historyLimit: DefaultHistoryLimit,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send streams the reply to message given the prior conversation.
func (s *Service) Send(ctx context.Context, history []Turn, message string) iter.Seq2[stream.Delta, error] {
	if strings.TrimSpace(message) == "" {
		return failed(ErrEmptyMessage)
	}

	prior := PrepareHistory(history, s.historyLimit)
	messages := make([]llm.Message, 0, len(prior)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: s.systemPrompt})
	messages = append(messages, prior...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})

	s.logger.Debug("Sending chat message", "history_turns", len(prior))
	return s.traced(ctx, "chat.Service.Send", messages)
}

// AskDocument streams an answer to question grounded on document.
func (s *Service) AskDocument(ctx context.Context, document, question string) iter.Seq2[stream.Delta, error] {
	if strings.TrimSpace(question) == "" {
		return failed(ErrEmptyMessage)
	}

	doc, truncated := llm.TruncateDocument(document, s.maxDocumentRunes)
	if truncated {
		s.logger.Warn("Document truncated for prompt", "max_runes", s.maxDocumentRunes)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: s.systemPrompt},
		{Role: llm.RoleSystem, Content: doc},
		{Role: llm.RoleSystem, Content: documentPrompt},
		{Role: llm.RoleUser, Content: question},
	}
	return s.traced(ctx, "chat.Service.AskDocument", messages)
}

func (s *Service) traced(ctx context.Context, name string, messages []llm.Message) iter.Seq2[stream.Delta, error] {
	return func(yield func(stream.Delta, error) bool) {
		ctx, span := tracer.Start(ctx, name)
		defer span.End()
		span.SetAttributes(attribute.Int("chat.num_messages", len(messages)))

		for d, err := range s.client.Stream(ctx, messages, llm.GenerationParams{}) {
			if !yield(d, err) {
				return
			}
		}
	}
}

func failed(err error) iter.Seq2[stream.Delta, error] {
	return func(yield func(stream.Delta, error) bool) {
		yield(stream.Delta{}, err)
	}
}
