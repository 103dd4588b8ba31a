// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
)

// =============================================================================
// Events
// =============================================================================

// EventKind classifies one decoded logical line.
type EventKind int

const (
	// EventIgnorable is a blank line, framing noise, a non-data line or a
	// data line whose payload failed to parse.
	EventIgnorable EventKind = iota

	// EventData carries one incremental text delta. Text may be empty.
	EventData

	// EventDone is the termination sentinel.
	EventDone

	// EventFault is a data line carrying a provider error envelope. The
	// session treats it as a failed attempt.
	EventFault
)

// String returns the lowercase name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventIgnorable:
		return "ignorable"
	case EventData:
		return "data"
	case EventDone:
		return "done"
	case EventFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Event is the decoded form of one logical line.
type Event struct {
	Kind EventKind

	// Text is the incremental content for EventData.
	Text string

	// Detail describes the provider error for EventFault.
	Detail string
}

// =============================================================================
// Observability Sink
// =============================================================================

// Anomaly kinds reported to a Sink.
const (
	KindFrameDecodeFailure = "frame_decode_failure"
	KindUpstreamFault      = "upstream_fault"
	KindAttemptFailed      = "attempt_failed"
	KindRetryScheduled     = "retry_scheduled"
	KindExchangeExhausted  = "exchange_exhausted"
)

// Sink receives non-fatal anomalies. Implementations must be cheap and
// must not block; they are called inline on the read path.
type Sink interface {
	Report(kind, detail string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(kind, detail string)

// Report calls f(kind, detail).
func (f SinkFunc) Report(kind, detail string) { f(kind, detail) }

// NopSink discards every report.
type NopSink struct{}

// Report does nothing.
func (NopSink) Report(string, string) {}

// LogSink writes reports as warnings to a slog.Logger.
type LogSink struct {
	Logger *slog.Logger
}

// Report logs the anomaly at warn level.
func (s LogSink) Report(kind, detail string) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("stream anomaly", "kind", kind, "detail", detail)
}

// Sinks fans reports out to every non-nil sink in order.
func Sinks(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multiSink []Sink

func (m multiSink) Report(kind, detail string) {
	for _, s := range m {
		s.Report(kind, detail)
	}
}

var (
	_ Sink = SinkFunc(nil)
	_ Sink = NopSink{}
	_ Sink = LogSink{}
	_ Sink = multiSink(nil)
)

// =============================================================================
// Decoder
// =============================================================================

const (
	dataPrefix     = "data:"
	doneCompact    = "data:[DONE]"
	doneSpaced     = "data: [DONE]"
	maxDetailBytes = 256
)

// Gjson paths for the incremental text. The message path covers buffered
// completions framed as a single data line.
const (
	deltaContentPath   = "choices.0.delta.content"
	messageContentPath = "choices.0.message.content"
)

// Decoder classifies logical lines of the streaming wire convention.
//
// # Description
//
// Decode never fails. A data line whose payload is not valid JSON is
// reported to the sink as KindFrameDecodeFailure and treated as noise, so a
// single malformed line cannot abort the exchange.
//
// # Examples
//
//	d := stream.NewDecoder(nil)
//	d.Decode(`data: {"choices":[{"delta":{"content":"Hi"}}]}`) // EventData "Hi"
//	d.Decode("data:[DONE]")                                     // EventDone
//	d.Decode(": keep-alive")                                    // EventIgnorable
type Decoder struct {
	sink Sink
}

// NewDecoder creates a decoder reporting to sink. A nil sink discards.
func NewDecoder(sink Sink) *Decoder {
	if sink == nil {
		sink = NopSink{}
	}
	return &Decoder{sink: sink}
}

// Decode classifies one logical line.
func (d *Decoder) Decode(line string) Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Event{Kind: EventIgnorable}
	}
	if trimmed == doneSpaced || trimmed == doneCompact {
		return Event{Kind: EventDone}
	}
	if !strings.HasPrefix(trimmed, dataPrefix) {
		return Event{Kind: EventIgnorable}
	}

	payload := strings.TrimSpace(trimmed[len(dataPrefix):])
	if !gjson.Valid(payload) {
		d.sink.Report(KindFrameDecodeFailure, excerpt(payload))
		return Event{Kind: EventIgnorable}
	}

	parsed := gjson.Parse(payload)
	if detail, ok := envelopeFault(parsed); ok {
		d.sink.Report(KindUpstreamFault, detail)
		return Event{Kind: EventFault, Detail: detail}
	}

	text := parsed.Get(deltaContentPath)
	if !text.Exists() {
		text = parsed.Get(messageContentPath)
	}
	return Event{Kind: EventData, Text: text.String()}
}

// envelopeFault recognises provider error envelopes: a non-zero numeric
// "code" or an "error" object.
func envelopeFault(parsed gjson.Result) (string, bool) {
	if !parsed.IsObject() {
		return "", false
	}
	if errObj := parsed.Get("error"); errObj.IsObject() {
		msg := errObj.Get("message").String()
		if msg == "" {
			msg = errObj.Raw
		}
		return excerpt(msg), true
	}
	if code := parsed.Get("code"); code.Type == gjson.Number && code.Int() != 0 {
		msg := parsed.Get("message").String()
		if msg == "" {
			msg = parsed.Get("msg").String()
		}
		return excerpt("code " + code.Raw + ": " + msg), true
	}
	return "", false
}

func excerpt(s string) string {
	if len(s) <= maxDetailBytes {
		return s
	}
	return s[:maxDetailBytes] + "..."
}
