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
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/kgstream/pkg/stream"
	"github.com/AleutianAI/kgstream/services/orchestrator/datatypes"
	"github.com/AleutianAI/kgstream/services/orchestrator/observability"
	"github.com/AleutianAI/kgstream/services/policy_engine"
)

var tracer = otel.Tracer("kgstream.orchestrator.handlers")

// KeepAliveInterval is how often an idle stream is pinged.
var KeepAliveInterval = 15 * time.Second

// ContentGuard screens text before it is sent upstream.
type ContentGuard interface {
	Check(content string) ([]policy_engine.ScanFinding, error)
}

// screen runs the guard over every text. Warn findings are logged by
// pattern id; the first blocking error is returned.
func screen(guard ContentGuard, requestID string, texts ...string) error {
	if guard == nil {
		return nil
	}
	for _, text := range texts {
		if text == "" {
			continue
		}
		findings, err := guard.Check(text)
		for _, f := range findings {
			slog.Warn("Outbound content matched a classification",
				"requestId", requestID,
				"classification", f.ClassificationName,
				"pattern", f.PatternId,
				"line", f.LineNumber,
			)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// blockedDetails lists the pattern ids of a blocking guard error.
func blockedDetails(err error) string {
	var sensitive *policy_engine.SensitiveContentError
	if !errors.As(err, &sensitive) {
		return ""
	}
	ids := make([]string, 0, len(sensitive.Findings))
	for _, f := range sensitive.Findings {
		ids = append(ids, f.PatternId)
	}
	return strings.Join(ids, ",")
}

// failureDescription is what a client sees for a failed exchange.
func failureDescription(err error) string {
	var exhausted *stream.ExhaustedError
	if errors.As(err, &exhausted) {
		last := "unknown error"
		if exhausted.LastErr != nil {
			last = exhausted.LastErr.Error()
		}
		return fmt.Sprintf("response failed after %d attempts: %s", exhausted.Attempts, last)
	}
	return "response failed: " + err.Error()
}

func errorCode(err error) observability.ErrorCode {
	switch {
	case errors.Is(err, stream.ErrExchangeExhausted):
		return observability.ErrorCodeExhausted
	case errors.Is(err, context.DeadlineExceeded):
		return observability.ErrorCodeTimeout
	case errors.Is(err, context.Canceled):
		return observability.ErrorCodeClientDisconnect
	default:
		return observability.ErrorCodeInternal
	}
}

// pumpReply forwards a reply sequence to w until it ends, fails or the
// client goes away, and returns the final answer.
//
// Reset deltas become reset events and clear the answer. A terminal error
// becomes one error event. A failed write means the client is gone; the
// loop stops, which cancels the upstream exchange.
func pumpReply(ctx context.Context, seq iter.Seq2[stream.Delta, error], w EventWriter,
	metrics *observability.StreamingMetrics, endpoint observability.Endpoint) (string, error) {

	ctx, span := tracer.Start(ctx, "pumpReply")
	defer span.End()
	span.SetAttributes(attribute.String("endpoint", string(endpoint)))

	metrics.StreamStarted(endpoint)
	defer metrics.StreamEnded(endpoint)

	start := time.Now()
	done := make(chan struct{})
	defer close(done)
	go keepAlive(w, done)

	answer := ""
	first := true
	deltas := 0
	for delta, err := range seq {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "exchange failed")
			code := errorCode(err)
			metrics.RecordError(endpoint, code)
			metrics.RecordRequest(endpoint, false)
			metrics.RecordStreamDuration(endpoint, time.Since(start).Seconds(), false)
			if code == observability.ErrorCodeClientDisconnect || ctx.Err() != nil {
				metrics.RecordClientDisconnect(endpoint)
				return answer, err
			}
			slog.Error("Streamed reply failed", "endpoint", endpoint, "error", err)
			_ = w.WriteError(failureDescription(err))
			return answer, err
		}

		if delta.Reset {
			answer = ""
			if werr := w.WriteReset(delta.Attempt); werr != nil {
				return answer, clientGone(metrics, endpoint, werr)
			}
			continue
		}

		if first {
			metrics.RecordTimeToFirstDelta(endpoint, time.Since(start).Seconds())
			first = false
		}
		answer = delta.FullContent
		deltas++
		if werr := w.WriteDelta(delta); werr != nil {
			return answer, clientGone(metrics, endpoint, werr)
		}
		metrics.RecordDelta(endpoint)
	}

	span.SetAttributes(attribute.Int("deltas", deltas))
	metrics.RecordRequest(endpoint, true)
	metrics.RecordStreamDuration(endpoint, time.Since(start).Seconds(), true)
	if err := w.WriteDone(answer); err != nil {
		return answer, clientGone(metrics, endpoint, err)
	}
	return answer, nil
}

func clientGone(metrics *observability.StreamingMetrics, endpoint observability.Endpoint, err error) error {
	metrics.RecordClientDisconnect(endpoint)
	metrics.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
	slog.Info("Client went away mid-stream", "endpoint", endpoint, "error", err)
	return fmt.Errorf("client disconnected: %w", err)
}

func keepAlive(w EventWriter, done <-chan struct{}) {
	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.WriteKeepAlive(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// abort replies with a JSON error body.
func abort(c *gin.Context, status int, message string, details error) {
	c.AbortWithStatusJSON(status, datatypes.NewErrorResponse(message, details))
}
