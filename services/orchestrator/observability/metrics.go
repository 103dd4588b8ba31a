// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability exposes Prometheus metrics for streamed replies
// and graph recovery.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/kgstream/pkg/recovery"
	"github.com/AleutianAI/kgstream/pkg/stream"
)

const metricsNamespace = "kgstream"

const (
	streamingSubsystem = "streaming"
	recoverySubsystem  = "recovery"
)

// StreamingMetrics holds every metric of the server.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type StreamingMetrics struct {
	// RequestsTotal counts streamed requests by endpoint and outcome.
	RequestsTotal *prometheus.CounterVec

	// DeltasTotal counts deltas sent to clients.
	DeltasTotal *prometheus.CounterVec

	// TimeToFirstDeltaSeconds measures request start to first delta.
	TimeToFirstDeltaSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures whole exchanges.
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams is the number of open streamed replies.
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts failed requests by error code.
	ErrorsTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts clients gone before completion.
	ClientDisconnectsTotal *prometheus.CounterVec

	// ExchangeEventsTotal counts session anomalies by kind
	// (frame_decode_failure, upstream_fault, attempt_failed,
	// retry_scheduled, exchange_exhausted).
	ExchangeEventsTotal *prometheus.CounterVec

	// SessionStatesTotal counts session state transitions.
	SessionStatesTotal *prometheus.CounterVec

	// RecoveriesTotal counts recovered graph documents by tier.
	RecoveriesTotal *prometheus.CounterVec
}

// NewStreamingMetrics registers the metrics with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in
// tests.
func NewStreamingMetrics(reg prometheus.Registerer) *StreamingMetrics {
	factory := promauto.With(reg)
	return &StreamingMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "requests_total",
				Help:      "Total number of streaming requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		DeltasTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "deltas_total",
				Help:      "Total content deltas sent to clients",
			},
			[]string{"endpoint"},
		),

		TimeToFirstDeltaSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_delta_seconds",
				Help:      "Time from request to first delta in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "errors_total",
				Help:      "Total streaming errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),

		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),

		ExchangeEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "exchange_events_total",
				Help:      "Upstream exchange anomalies by kind",
			},
			[]string{"kind"},
		),

		SessionStatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "session_states_total",
				Help:      "Streaming session state transitions by state",
			},
			[]string{"state"},
		),

		RecoveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: recoverySubsystem,
				Name:      "documents_total",
				Help:      "Recovered graph documents by tier",
			},
			[]string{"tier"},
		),
	}
}

// ErrorCode classifies request failures.
type ErrorCode string

const (
	// ErrorCodeValidation is a malformed request.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeExhausted is an exchange whose every attempt failed.
	ErrorCodeExhausted ErrorCode = "exhausted"

	// ErrorCodeLLMError is a failed non-streamed model call.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeTimeout is a request that ran out of time.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeClientDisconnect is a client gone mid-stream.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"

	// ErrorCodeInternal is anything else.
	ErrorCodeInternal ErrorCode = "internal"
)

// Endpoint labels metrics by route.
type Endpoint string

const (
	EndpointChatSSE  Endpoint = "chat_sse"
	EndpointChatWS   Endpoint = "chat_ws"
	EndpointGraph    Endpoint = "graph"
	EndpointResearch Endpoint = "research"
)

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRequest counts a finished request.
func (m *StreamingMetrics) RecordRequest(endpoint Endpoint, success bool) {
	m.RequestsTotal.WithLabelValues(string(endpoint), status(success)).Inc()
}

// RecordError counts a failed request.
func (m *StreamingMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordDelta counts one delta sent.
func (m *StreamingMetrics) RecordDelta(endpoint Endpoint) {
	m.DeltasTotal.WithLabelValues(string(endpoint)).Inc()
}

// StreamStarted increments the active stream gauge.
func (m *StreamingMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *StreamingMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstDelta observes first-delta latency.
func (m *StreamingMetrics) RecordTimeToFirstDelta(endpoint Endpoint, seconds float64) {
	m.TimeToFirstDeltaSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration observes a whole exchange.
func (m *StreamingMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status(success)).Observe(seconds)
}

// RecordClientDisconnect counts a client gone mid-stream.
func (m *StreamingMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordRecovery counts one recovered graph document.
func (m *StreamingMetrics) RecordRecovery(tier recovery.Tier) {
	m.RecoveriesTotal.WithLabelValues(tier.String()).Inc()
}

// Sink returns a stream.Sink counting exchange anomalies.
func (m *StreamingMetrics) Sink() stream.Sink {
	return stream.SinkFunc(func(kind, _ string) {
		m.ExchangeEventsTotal.WithLabelValues(kind).Inc()
	})
}

// StateObserver returns a session observer counting state transitions.
func (m *StreamingMetrics) StateObserver() func(stream.State, stream.RetryState) {
	return func(state stream.State, _ stream.RetryState) {
		m.SessionStatesTotal.WithLabelValues(state.String()).Inc()
	}
}
