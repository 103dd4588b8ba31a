// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/kgstream/pkg/recovery"
	"github.com/AleutianAI/kgstream/services/llm"
)

var tracer = otel.Tracer("kgstream.services.research")

// ErrEmptyContent is returned by Optimize for a blank plan.
var ErrEmptyContent = errors.New("plan content is empty")

const (
	// DefaultFillParallelism bounds concurrent section requests.
	DefaultFillParallelism = 4

	// maxGraphConcepts bounds how many graph node names go in a prompt.
	maxGraphConcepts = 30

	frameworkTemperature = float32(0.3)
	fillTemperature      = float32(0.4)
	optimizeTemperature  = float32(0.3)

	defaultFocus = "overall quality"

	frameworkPrompt = "You design research plans. From the topic, objective and keywords you " +
		"are given, produce a sound, practical outline that follows academic conventions. " +
		"A typical outline covers background and significance, objectives and questions, " +
		"literature review, methodology, data collection, data analysis, expected outcomes " +
		"and an implementation timeline; adapt it to the topic."

	frameworkFormat = `Produce the outline only, not the content. Reply with one JSON object and ` +
		`nothing else: {"sections": [{"title": "...", "description": "one sentence"}]}`

	fillPrompt = "You write research plans. Write the requested section of the plan in " +
		"Markdown. Be concrete and feasible and follow research conventions. Do not repeat " +
		"the section heading and do not write other sections."

	optimizePrompt = "You revise research plans. Improve the plan you are given with the " +
		"requested focus, keeping its overall structure. Reply with the complete revised " +
		"plan in Markdown."
)

// sectionKey matches the numbered keys of flat outlines ("section1").
var sectionKey = regexp.MustCompile(`^section(\d+)$`)

// ProgressFunc is called after each section of a fill completes or fails.
// It may be called from several goroutines at once.
type ProgressFunc func(section Section, err error)

// Service drafts research plans.
type Service struct {
	client      llm.Completer
	pipeline    *recovery.Pipeline
	parallelism int
	progress    ProgressFunc
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithFillParallelism bounds concurrent section requests during Fill.
func WithFillParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithProgress registers a per-section progress callback for Fill.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Service) { s.progress = fn }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a research plan service.
func NewService(client llm.Completer, pipeline *recovery.Pipeline, opts ...Option) *Service {
	if pipeline == nil {
		pipeline = recovery.NewPipeline(recovery.DefaultOptions())
	}
	s := &Service{
		client:      client,
		pipeline:    pipeline,
		parallelism: DefaultFillParallelism,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// Framework
// =============================================================================

// GenerateFramework asks the model for a plan outline.
//
// # Description
//
// It never fails. Invalid parameters and a failed model call produce the
// default outline with Error set; a reply that holds no usable outline
// produces the default outline with RawContent set to the reply. graph is
// optional; when present its concept names are offered to the model.
func (s *Service) GenerateFramework(ctx context.Context, params Params, graph *recovery.Document) Framework {
	ctx, span := tracer.Start(ctx, "research.Service.GenerateFramework")
	defer span.End()

	if err := params.Validate(); err != nil {
		fw := fallbackFramework()
		fw.Error = err.Error()
		return fw
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Topic: %s\nObjective: %s\nKeywords: %s\n",
		params.Topic, params.Objective, strings.Join(params.Keywords, ", "))
	if params.TemplateType != "" {
		fmt.Fprintf(&user, "Plan type: %s\n", params.TemplateType)
	}
	if params.Background != "" {
		fmt.Fprintf(&user, "Background: %s\n", params.Background)
	}
	if concepts := graphConcepts(graph); len(concepts) > 0 {
		fmt.Fprintf(&user, "Related concepts: %s\n", strings.Join(concepts, ", "))
	}
	user.WriteString("\n" + frameworkFormat)

	reply, err := s.client.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: frameworkPrompt},
		{Role: llm.RoleUser, Content: user.String()},
	}, llm.WithTemperature(frameworkTemperature))
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("Framework generation failed, using default outline", "error", err)
		fw := fallbackFramework()
		fw.Error = fmt.Sprintf("framework request failed: %v", err)
		return fw
	}

	obj, tier, err := s.pipeline.ParseObject(reply)
	var sections []Section
	if err == nil {
		sections = parseSections(obj)
	}
	if len(sections) == 0 {
		s.logger.Warn("Framework reply unusable, using default outline", "reply_len", len(reply))
		fw := fallbackFramework()
		fw.RawContent = reply
		return fw
	}

	span.SetAttributes(
		attribute.Int("research.sections", len(sections)),
		attribute.String("research.reply_tier", tier.String()),
	)
	return Framework{Sections: sections}
}

// parseSections accepts {"sections": [...]} and the flat
// {"section1": {...}, "section2": {...}} shape, in key order.
func parseSections(obj map[string]any) []Section {
	if list, ok := obj["sections"].([]any); ok {
		var out []Section
		for _, item := range list {
			if sec, ok := toSection(item); ok {
				out = append(out, sec)
			}
		}
		return out
	}

	type numbered struct {
		n   int
		sec Section
	}
	var flat []numbered
	for k, v := range obj {
		m := sectionKey.FindStringSubmatch(k)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if sec, ok := toSection(v); ok {
			flat = append(flat, numbered{n, sec})
		}
	}
	slices.SortFunc(flat, func(a, b numbered) int { return a.n - b.n })

	out := make([]Section, 0, len(flat))
	for _, f := range flat {
		out = append(out, f.sec)
	}
	return out
}

func toSection(v any) (Section, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Section{}, false
	}
	title, _ := m["title"].(string)
	desc, _ := m["description"].(string)
	title = strings.TrimSpace(title)
	if title == "" {
		return Section{}, false
	}
	return Section{Title: title, Description: strings.TrimSpace(desc)}, true
}

func graphConcepts(graph *recovery.Document) []string {
	if graph == nil {
		return nil
	}
	var names []string
	for _, n := range graph.Nodes {
		if name := n.StringField("name"); name != "" {
			names = append(names, name)
			if len(names) == maxGraphConcepts {
				break
			}
		}
	}
	return names
}

// =============================================================================
// Fill
// =============================================================================

// Fill writes every section of framework. Sections are requested
// concurrently, bounded by the fill parallelism, and assembled in
// framework order. The first failed section cancels the rest and is
// returned. An empty framework is filled from DefaultSections.
func (s *Service) Fill(ctx context.Context, framework Framework, params Params) (Plan, error) {
	if err := params.Validate(); err != nil {
		return Plan{}, err
	}
	sections := framework.Sections
	if len(sections) == 0 {
		sections = DefaultSections()
	}

	ctx, span := tracer.Start(ctx, "research.Service.Fill")
	defer span.End()
	span.SetAttributes(
		attribute.Int("research.sections", len(sections)),
		attribute.Int("research.parallelism", s.parallelism),
	)

	outline := outlineText(sections)
	filled := make([]FilledSection, len(sections))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, sec := range sections {
		g.Go(func() error {
			content, err := s.client.Complete(gctx, []llm.Message{
				{Role: llm.RoleSystem, Content: fillPrompt},
				{Role: llm.RoleUser, Content: sectionRequest(params, outline, i, sec)},
			}, llm.WithTemperature(fillTemperature))
			if s.progress != nil {
				s.progress(sec, err)
			}
			if err != nil {
				return fmt.Errorf("fill section %d %q: %w", i+1, sec.Title, err)
			}
			filled[i] = FilledSection{Section: sec, Content: strings.TrimSpace(content)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Plan{}, err
	}

	plan := Plan{Topic: params.Topic, Sections: filled}
	plan.Content = plan.Markdown()
	s.logger.Info("Research plan filled", "sections", len(filled), "chars", len(plan.Content))
	return plan, nil
}

func outlineText(sections []Section) string {
	var b strings.Builder
	for i, sec := range sections {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, sec.Title, sec.Description)
	}
	return b.String()
}

func sectionRequest(params Params, outline string, i int, sec Section) string {
	return fmt.Sprintf("Topic: %s\nObjective: %s\nKeywords: %s\n\nFull outline:\n%s\n"+
		"Write section %d, %q: %s",
		params.Topic, params.Objective, strings.Join(params.Keywords, ", "), outline, i+1, sec.Title, sec.Description)
}

// =============================================================================
// Optimize
// =============================================================================

// Optimize revises a finished plan with the given focus, e.g.
// "methodology" or "feasibility". An empty focus means overall quality.
func (s *Service) Optimize(ctx context.Context, content, focus string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	if strings.TrimSpace(focus) == "" {
		focus = defaultFocus
	}

	ctx, span := tracer.Start(ctx, "research.Service.Optimize")
	defer span.End()
	span.SetAttributes(attribute.String("research.focus", focus))

	revised, err := s.client.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: optimizePrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Focus on %s.\n\n%s", focus, content)},
	}, llm.WithTemperature(optimizeTemperature))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("optimize plan: %w", err)
	}
	return revised, nil
}
