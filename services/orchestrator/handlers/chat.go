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
	"context"
	"iter"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/kgstream/pkg/stream"
	"github.com/AleutianAI/kgstream/services/chat"
	"github.com/AleutianAI/kgstream/services/orchestrator/datatypes"
	"github.com/AleutianAI/kgstream/services/orchestrator/observability"
)

// replySequence picks grounded or conversational chat for a request.
func replySequence(ctx context.Context, svc *chat.Service, req *datatypes.ChatStreamRequest) iter.Seq2[stream.Delta, error] {
	if req.Document != "" {
		return svc.AskDocument(ctx, req.Document, req.Message)
	}
	return svc.Send(ctx, req.Turns(), req.Message)
}

// HandleChatStream serves POST /v1/chat/stream as Server-Sent Events.
//
// Events are delta, reset, error and done. A client that disconnects
// cancels the request context, which stops the upstream exchange.
func HandleChatStream(svc *chat.Service, guard ContentGuard,
	metrics *observability.StreamingMetrics) gin.HandlerFunc {

	const endpoint = observability.EndpointChatSSE

	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleChatStream")
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		var req datatypes.ChatStreamRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.RecordError(endpoint, observability.ErrorCodeValidation)
			abort(c, http.StatusBadRequest, "invalid request body", err)
			return
		}
		req.EnsureDefaults()
		span.SetAttributes(
			attribute.String("request.id", req.RequestID),
			attribute.Bool("request.grounded", req.Document != ""),
			attribute.Int("request.history", len(req.History)),
		)
		if err := req.Validate(); err != nil {
			metrics.RecordError(endpoint, observability.ErrorCodeValidation)
			abort(c, http.StatusBadRequest, "invalid request", err)
			return
		}
		if err := screen(guard, req.RequestID, req.Message, req.Document); err != nil {
			metrics.RecordError(endpoint, observability.ErrorCodeValidation)
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, datatypes.ErrorResponse{
				Error:   "content contains sensitive data",
				Details: blockedDetails(err),
			})
			return
		}

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer, req.RequestID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "SSE setup failed")
			slog.Error("Failed to create SSE writer", "error", err, "requestId", req.RequestID)
			metrics.RecordError(endpoint, observability.ErrorCodeInternal)
			abort(c, http.StatusInternalServerError, "streaming not supported", nil)
			return
		}
		c.Status(http.StatusOK)

		answer, err := pumpReply(c.Request.Context(), replySequence(c.Request.Context(), svc, &req), writer, metrics, endpoint)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream failed")
			return
		}
		slog.Info("Chat stream completed", "requestId", req.RequestID, "answer_runes", len([]rune(answer)))
	}
}

// HandleChatTitle serves POST /v1/chat/title. It always answers with a
// title, falling back to a local one when the model call fails.
func HandleChatTitle(svc *chat.Service, guard ContentGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.TitleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, "invalid request body", err)
			return
		}
		if err := req.Validate(); err != nil {
			abort(c, http.StatusBadRequest, "invalid request", err)
			return
		}
		if err := screen(guard, "", req.Message); err != nil {
			c.JSON(http.StatusOK, datatypes.TitleResponse{Title: chat.LocalTitle(req.Message)})
			return
		}
		c.JSON(http.StatusOK, datatypes.TitleResponse{Title: svc.Title(c.Request.Context(), req.Message)})
	}
}
