// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/kgstream/services/orchestrator/datatypes"
	"github.com/AleutianAI/kgstream/services/orchestrator/observability"
	"github.com/AleutianAI/kgstream/services/research"
)

// HandleResearchFramework serves POST /v1/research/framework. Model
// failures yield the default framework with fallback set, not an error.
func HandleResearchFramework(svc *research.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.FrameworkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, "invalid request body", err)
			return
		}
		if err := req.Params.Validate(); err != nil {
			abort(c, http.StatusBadRequest, "invalid research parameters", err)
			return
		}
		c.JSON(http.StatusOK, svc.GenerateFramework(c.Request.Context(), req.Params, req.Graph))
	}
}

// HandleResearchFill serves POST /v1/research/fill.
func HandleResearchFill(svc *research.Service, metrics *observability.StreamingMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.FillRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, "invalid request body", err)
			return
		}
		if err := req.Params.Validate(); err != nil {
			abort(c, http.StatusBadRequest, "invalid research parameters", err)
			return
		}

		plan, err := svc.Fill(c.Request.Context(), req.Framework, req.Params)
		if err != nil {
			metrics.RecordError(observability.EndpointResearch, observability.ErrorCodeLLMError)
			slog.Error("Research plan fill failed", "topic", req.Params.Topic, "error", err)
			abort(c, http.StatusBadGateway, "research plan generation failed", err)
			return
		}
		c.JSON(http.StatusOK, datatypes.FillResponse{Plan: plan, Markdown: plan.Markdown()})
	}
}

// HandleResearchOptimize serves POST /v1/research/optimize.
func HandleResearchOptimize(svc *research.Service, metrics *observability.StreamingMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.OptimizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, "invalid request body", err)
			return
		}
		if err := req.Validate(); err != nil {
			abort(c, http.StatusBadRequest, "invalid request", err)
			return
		}

		content, err := svc.Optimize(c.Request.Context(), req.Content, req.Focus)
		if err != nil {
			metrics.RecordError(observability.EndpointResearch, observability.ErrorCodeLLMError)
			abort(c, http.StatusBadGateway, "research plan optimization failed", err)
			return
		}
		c.JSON(http.StatusOK, datatypes.OptimizeResponse{Content: content})
	}
}
