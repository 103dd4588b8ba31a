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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/kgstream/pkg/recovery"
	"github.com/AleutianAI/kgstream/services/knowledge"
	"github.com/AleutianAI/kgstream/services/orchestrator/datatypes"
	"github.com/AleutianAI/kgstream/services/orchestrator/observability"
)

// HandleGraphRecover serves POST /v1/graph/recover. It never fails on
// malformed text; the response reports the tier that produced the
// document.
func HandleGraphRecover(pipeline *recovery.Pipeline, metrics *observability.StreamingMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RecoverRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, "invalid request body", err)
			return
		}
		if err := req.Validate(); err != nil {
			abort(c, http.StatusBadRequest, "invalid request", err)
			return
		}

		res := pipeline.Recover(req.Text)
		metrics.RecordRecovery(res.Tier)
		c.JSON(http.StatusOK, datatypes.NewRecoverResponse(res))
	}
}

// HandleGraphSuitability serves POST /v1/graph/suitability.
func HandleGraphSuitability(svc *knowledge.Service, guard ContentGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindGraphRequest(c, guard)
		if !ok {
			return
		}
		s := svc.CheckSuitability(c.Request.Context(), req.Text)
		c.JSON(http.StatusOK, datatypes.SuitabilityResponse{Suitable: s.Suitable, Reason: s.Reason})
	}
}

// HandleGraphGenerate serves POST /v1/graph/generate. Unless the request
// sets force, an unsuitable document is refused with 422 and the reason.
func HandleGraphGenerate(svc *knowledge.Service, guard ContentGuard,
	metrics *observability.StreamingMetrics) gin.HandlerFunc {

	return func(c *gin.Context) {
		req, ok := bindGraphRequest(c, guard)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		if !req.Force {
			if s := svc.CheckSuitability(ctx, req.Text); !s.Suitable {
				c.AbortWithStatusJSON(http.StatusUnprocessableEntity, datatypes.ErrorResponse{
					Error:   "document is not suitable for a knowledge graph",
					Details: s.Reason,
				})
				return
			}
		}

		res, err := svc.Generate(ctx, req.Text)
		if err != nil {
			metrics.RecordError(observability.EndpointGraph, observability.ErrorCodeLLMError)
			slog.Error("Graph generation failed", "error", err)
			status := http.StatusBadGateway
			if errors.Is(err, knowledge.ErrEmptyDocument) {
				status = http.StatusBadRequest
			}
			abort(c, status, "graph generation failed", err)
			return
		}
		metrics.RecordRecovery(res.Tier)
		c.JSON(http.StatusOK, datatypes.NewRecoverResponse(res))
	}
}

func bindGraphRequest(c *gin.Context, guard ContentGuard) (datatypes.GraphRequest, bool) {
	var req datatypes.GraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid request body", err)
		return req, false
	}
	if err := req.Validate(); err != nil {
		abort(c, http.StatusBadRequest, "invalid request", err)
		return req, false
	}
	if err := screen(guard, "", req.Text); err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, datatypes.ErrorResponse{
			Error:   "content contains sensitive data",
			Details: blockedDetails(err),
		})
		return req, false
	}
	return req, true
}
