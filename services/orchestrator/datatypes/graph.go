// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"github.com/AleutianAI/kgstream/pkg/recovery"
	"github.com/AleutianAI/kgstream/services/research"
)

// RecoverRequest is the body of POST /v1/graph/recover: raw model output
// to turn into a graph document. Blank text is allowed and yields the
// placeholder graph.
type RecoverRequest struct {
	Text string `json:"text" validate:"maxdocbytes"`
}

func (r *RecoverRequest) Validate() error {
	return check(r)
}

// RecoverResponse reports a recovered document and how it was obtained.
type RecoverResponse struct {
	Tier          recovery.Tier     `json:"tier"`
	LowConfidence bool              `json:"low_confidence"`
	Degraded      bool              `json:"degraded"`
	Repairs       []string          `json:"repairs,omitempty"`
	DanglingLinks int               `json:"dangling_links"`
	Document      recovery.Document `json:"document"`
}

// NewRecoverResponse flattens a recovery result.
func NewRecoverResponse(res recovery.Result) RecoverResponse {
	return RecoverResponse{
		Tier:          res.Tier,
		LowConfidence: res.LowConfidence(),
		Degraded:      res.Degraded(),
		Repairs:       res.Repairs,
		DanglingLinks: res.Document.DanglingLinks(),
		Document:      res.Document,
	}
}

// GraphRequest is the body of the suitability and generate endpoints.
type GraphRequest struct {
	Text string `json:"text" validate:"required,maxdocbytes"`

	// Force skips the suitability check on generate.
	Force bool `json:"force,omitempty"`
}

func (r *GraphRequest) Validate() error {
	return check(r)
}

// SuitabilityResponse answers POST /v1/graph/suitability.
type SuitabilityResponse struct {
	Suitable bool   `json:"suitable"`
	Reason   string `json:"reason"`
}

// FrameworkRequest is the body of POST /v1/research/framework.
type FrameworkRequest struct {
	Params research.Params    `json:"params"`
	Graph  *recovery.Document `json:"graph,omitempty"`
}

// FillRequest is the body of POST /v1/research/fill.
type FillRequest struct {
	Params    research.Params    `json:"params"`
	Framework research.Framework `json:"framework"`
}

// FillResponse carries the finished plan and its markdown rendering.
type FillResponse struct {
	Plan     research.Plan `json:"plan"`
	Markdown string        `json:"markdown"`
}

// OptimizeRequest is the body of POST /v1/research/optimize.
type OptimizeRequest struct {
	Content string `json:"content" validate:"required,maxdocbytes"`
	Focus   string `json:"focus,omitempty" validate:"maxbytes"`
}

func (r *OptimizeRequest) Validate() error {
	return check(r)
}

// OptimizeResponse carries the revised plan.
type OptimizeResponse struct {
	Content string `json:"content"`
}
