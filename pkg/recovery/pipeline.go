// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

var (
	// ErrNoObject means the text contains no '{'.
	ErrNoObject = errors.New("no JSON object in text")

	// ErrUnrecoverable means neither direct parsing nor any repair produced
	// an object.
	ErrUnrecoverable = errors.New("JSON object could not be recovered")
)

// DefaultMaxExtractedNodes bounds the Extracted tier.
const DefaultMaxExtractedNodes = 30

// Options configures a Pipeline.
type Options struct {
	// MaxExtractedNodes caps how many names the Extracted tier keeps.
	MaxExtractedNodes int

	// PlaceholderCategory names the category added to documents without
	// one.
	PlaceholderCategory string

	Logger *slog.Logger
}

// DefaultOptions returns the default pipeline options.
func DefaultOptions() Options {
	return Options{
		MaxExtractedNodes:   DefaultMaxExtractedNodes,
		PlaceholderCategory: DefaultPlaceholderCategory,
	}
}

// Pipeline recovers graph documents from model output.
//
// # Description
//
// A Pipeline has no mutable state; Recover and ParseObject may be called
// concurrently. Work is proportional to the length of the input.
//
// # Examples
//
//	p := recovery.NewPipeline(recovery.DefaultOptions())
//	res := p.Recover(modelReply)
//	if res.LowConfidence() {
//	    ui.Warn("graph was reconstructed from partial output")
//	}
//	render(res.Document)
type Pipeline struct {
	maxNodes    int
	placeholder string
	logger      *slog.Logger
}

// NewPipeline creates a pipeline. Zero values in opts take the defaults.
func NewPipeline(opts Options) *Pipeline {
	if opts.MaxExtractedNodes <= 0 {
		opts.MaxExtractedNodes = DefaultMaxExtractedNodes
	}
	if opts.PlaceholderCategory == "" {
		opts.PlaceholderCategory = DefaultPlaceholderCategory
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		maxNodes:    opts.MaxExtractedNodes,
		placeholder: opts.PlaceholderCategory,
		logger:      opts.Logger,
	}
}

// Recover returns a normalized document for any input, including empty or
// binary text. The tier of the result tells how it was obtained.
func (p *Pipeline) Recover(blob string) Result {
	obj, tier, applied, err := p.parse(blob)
	if err == nil {
		res := Result{Tier: tier, Document: Normalize(obj, p.placeholder), Repairs: applied}
		p.logResult(res, len(blob), nil)
		return res
	}

	names := extractNames(blob, p.maxNodes)
	res := Result{
		Tier:     TierExtracted,
		Document: Normalize(synthesizeGraph(names, p.placeholder), p.placeholder),
		Repairs:  applied,
	}
	p.logResult(res, len(blob), err)
	return res
}

// ParseObject runs only the Direct and Repaired tiers and returns the
// object without graph normalization. It suits small structured replies
// such as yes/no verdicts or outlines.
func (p *Pipeline) ParseObject(blob string) (map[string]any, Tier, error) {
	obj, tier, _, err := p.parse(blob)
	return obj, tier, err
}

func (p *Pipeline) parse(blob string) (map[string]any, Tier, []string, error) {
	start := strings.IndexByte(blob, '{')
	if start < 0 {
		return nil, TierDirect, nil, ErrNoObject
	}

	candidate := blob[start:]
	var lastErr error
	if end := strings.LastIndexByte(blob, '}'); end > start {
		candidate = blob[start : end+1]
		obj, err := decodeObject(candidate)
		if err == nil {
			return obj, TierDirect, nil, nil
		}
		lastErr = err
	}

	var applied []string
	text := candidate
	for _, r := range repairs {
		next := r.apply(text)
		if next == text {
			continue
		}
		text = next
		applied = append(applied, r.name)
		obj, err := decodeObject(text)
		if err == nil {
			return obj, TierRepaired, applied, nil
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("unterminated object")
	}
	return nil, TierDirect, applied, fmt.Errorf("%w: %v", ErrUnrecoverable, lastErr)
}

// decodeObject parses exactly one JSON object, keeping numbers as
// json.Number.
func decodeObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("top-level value is not an object")
	}
	return obj, nil
}

func (p *Pipeline) logResult(res Result, inputLen int, parseErr error) {
	attrs := []any{
		"tier", res.Tier.String(),
		"input_bytes", inputLen,
		"nodes", len(res.Document.Nodes),
		"links", len(res.Document.Links),
		"categories", len(res.Document.Categories),
	}
	if len(res.Repairs) > 0 {
		attrs = append(attrs, "repairs", strings.Join(res.Repairs, ","))
	}
	if !res.Degraded() {
		p.logger.Debug("graph recovered", attrs...)
		return
	}
	if parseErr != nil {
		attrs = append(attrs, "parse_error", parseErr.Error())
	}
	p.logger.Warn("graph recovery degraded", attrs...)
}
