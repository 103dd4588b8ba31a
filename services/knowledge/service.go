// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge turns documents into knowledge-graph documents.
//
// The model is asked for a nodes/links/categories object and its reply is
// passed through the recovery pipeline, so a malformed reply still yields
// a renderable graph. Only a failed model call is an error.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/kgstream/pkg/recovery"
	"github.com/AleutianAI/kgstream/services/llm"
)

var tracer = otel.Tracer("kgstream.services.knowledge")

// ErrEmptyDocument is returned by Generate for blank input.
var ErrEmptyDocument = errors.New("document is empty")

const (
	graphTemperature = float32(0.3)

	suitabilityPrompt = "You analyse documents for knowledge-graph generation. A suitable " +
		"document names several entities and the relations between them, such as papers, " +
		"reports or textbooks. Judge the document in the next message."

	suitabilityQuestion = `Is this document suitable for a knowledge graph? Reply with one JSON ` +
		`object and nothing else: {"suitable": true or false, "reason": "short explanation"}`

	graphPrompt = "You build knowledge graphs from documents. Extract the key entities of the " +
		"document in the next message and the relations between them."

	graphSchema = `Reply with one JSON object and nothing else, in exactly this shape:
{
  "nodes": [
    {"id": "unique entity id", "name": "display name", "category": 0, "value": 60}
  ],
  "links": [
    {"source": "id of a node", "target": "id of a node", "value": 3, "name": "relation"}
  ],
  "categories": [
    {"name": "category name"}
  ]
}
"category" indexes the categories array. "value" is importance from 10 to 100 for nodes
and strength from 1 to 10 for links. Every link must reference ids defined in nodes.`
)

// Suitability is the verdict of CheckSuitability.
type Suitability struct {
	Suitable bool   `json:"suitable"`
	Reason   string `json:"reason"`
}

// Service generates knowledge graphs.
type Service struct {
	client           llm.Completer
	pipeline         *recovery.Pipeline
	maxDocumentRunes int
	logger           *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMaxDocumentRunes truncates documents before prompting.
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

// NewService creates a knowledge-graph service.
func NewService(client llm.Completer, pipeline *recovery.Pipeline, opts ...Option) *Service {
	if pipeline == nil {
		pipeline = recovery.NewPipeline(recovery.DefaultOptions())
	}
	s := &Service{
		client:   client,
		pipeline: pipeline,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckSuitability asks whether text is worth turning into a graph.
//
// It never fails: a model error or an unreadable reply is reported as an
// unsuitable verdict whose reason says what went wrong.
func (s *Service) CheckSuitability(ctx context.Context, text string) Suitability {
	if strings.TrimSpace(text) == "" {
		return Suitability{Reason: ErrEmptyDocument.Error()}
	}

	ctx, span := tracer.Start(ctx, "knowledge.Service.CheckSuitability")
	defer span.End()

	reply, err := s.client.Complete(ctx, s.messages(text, suitabilityPrompt, suitabilityQuestion),
		llm.WithTemperature(graphTemperature))
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("Suitability check failed", "error", err)
		return Suitability{Reason: fmt.Sprintf("suitability check failed: %v", err)}
	}

	obj, tier, err := s.pipeline.ParseObject(reply)
	if err != nil {
		s.logger.Warn("Suitability reply unreadable", "error", err, "reply_len", len(reply))
		return Suitability{Reason: "could not interpret the model's reply"}
	}
	verdict, ok := parseSuitability(obj)
	if !ok {
		return Suitability{Reason: "could not interpret the model's reply"}
	}
	span.SetAttributes(
		attribute.Bool("knowledge.suitable", verdict.Suitable),
		attribute.String("knowledge.reply_tier", tier.String()),
	)
	return verdict
}

func parseSuitability(obj map[string]any) (Suitability, bool) {
	var v Suitability
	switch s := obj["suitable"].(type) {
	case bool:
		v.Suitable = s
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return v, false
		}
		v.Suitable = b
	default:
		return v, false
	}
	if reason, ok := obj["reason"].(string); ok {
		v.Reason = reason
	}
	return v, true
}

// Generate asks the model for a graph of text and recovers its reply.
// The returned error is non-nil only when the model call itself failed;
// a reply with no usable structure still produces an Extracted-tier
// result, possibly with zero nodes.
func (s *Service) Generate(ctx context.Context, text string) (recovery.Result, error) {
	if strings.TrimSpace(text) == "" {
		return recovery.Result{}, ErrEmptyDocument
	}

	ctx, span := tracer.Start(ctx, "knowledge.Service.Generate")
	defer span.End()

	reply, err := s.client.Complete(ctx, s.messages(text, graphPrompt, graphSchema),
		llm.WithTemperature(graphTemperature))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return recovery.Result{}, fmt.Errorf("generate knowledge graph: %w", err)
	}

	res := s.pipeline.Recover(reply)
	span.SetAttributes(
		attribute.String("knowledge.tier", res.Tier.String()),
		attribute.Int("knowledge.nodes", len(res.Document.Nodes)),
		attribute.Int("knowledge.links", len(res.Document.Links)),
	)
	if dangling := res.Document.DanglingLinks(); dangling > 0 {
		s.logger.Warn("Graph has links to undefined nodes", "dangling_links", dangling)
	}
	return res, nil
}

func (s *Service) messages(text, system, question string) []llm.Message {
	doc, truncated := llm.TruncateDocument(text, s.maxDocumentRunes)
	if truncated {
		s.logger.Warn("Document truncated for prompt", "max_runes", s.maxDocumentRunes)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleSystem, Content: doc},
		{Role: llm.RoleUser, Content: question},
	}
}
