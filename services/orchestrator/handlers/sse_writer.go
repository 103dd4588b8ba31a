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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/kgstream/pkg/stream"
	"github.com/AleutianAI/kgstream/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EventWriter sends the frames of one streamed reply to a client.
//
// # Description
//
// Implementations assign every event an Id (UUID v4), a CreatedAt
// timestamp in milliseconds and a Hash chained to the previous event's
// hash, so a client can check that it saw every frame in order.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; keepalives are sent
// from a separate goroutine while deltas are written.
type EventWriter interface {
	// WriteEvent stamps and sends one event.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteDelta sends a content increment.
	WriteDelta(delta stream.Delta) error

	// WriteReset tells the client to discard the answer so far; attempt is
	// the attempt about to start.
	WriteReset(attempt int) error

	// WriteError sends the terminal failure of the exchange.
	WriteError(errMsg string) error

	// WriteDone sends the terminal success frame.
	WriteDone(fullContent string) error

	// WriteKeepAlive keeps idle connections open. It does not touch the
	// hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Hash chain
// =============================================================================

// eventChain stamps events and links their hashes. Callers hold their
// own lock.
type eventChain struct {
	requestID string
	prevHash  string
}

func (c *eventChain) stamp(event datatypes.StreamEvent) datatypes.StreamEvent {
	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.RequestId = c.requestID
	event.PrevHash = c.prevHash
	event.Hash = computeEventHash(event)
	c.prevHash = event.Hash
	return event
}

// computeEventHash hashes every content field of the event. Hash must be
// empty when called.
func computeEventHash(event datatypes.StreamEvent) string {
	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.RequestId,
		event.Text,
		event.FullContent,
		strconv.Itoa(event.Attempt),
		event.Error,
	)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// VerifyChain recomputes each event's hash and checks the links. It
// returns the index of the first broken event, or -1.
func VerifyChain(events []datatypes.StreamEvent) int {
	prev := ""
	for i, e := range events {
		if e.PrevHash != prev {
			return i
		}
		hash := e.Hash
		e.Hash = ""
		if computeEventHash(e) != hash {
			return i
		}
		prev = hash
	}
	return -1
}

// =============================================================================
// SSE
// =============================================================================

// sseWriter writes events as
//
//	event: {type}
//	data: {json}
//
// and flushes after each one.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	chain   eventChain
	mu      sync.Mutex
}

// NewSSEWriter wraps w, which must support http.Flusher. Call
// SetSSEHeaders first.
func NewSSEWriter(w http.ResponseWriter, requestID string) (EventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{
		writer:  w,
		flusher: flusher,
		chain:   eventChain{requestID: requestID},
	}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event = w.chain.stamp(event)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteDelta(delta stream.Delta) error {
	return w.WriteEvent(deltaEvent(delta))
}

func (w *sseWriter) WriteReset(attempt int) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.EventReset, Attempt: attempt})
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.EventError, Error: errMsg})
}

func (w *sseWriter) WriteDone(fullContent string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.EventDone, FullContent: fullContent})
}

// WriteKeepAlive writes an SSE comment, which clients ignore.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func deltaEvent(delta stream.Delta) datatypes.StreamEvent {
	if delta.Reset {
		return datatypes.StreamEvent{Type: datatypes.EventReset, Attempt: delta.Attempt}
	}
	return datatypes.StreamEvent{
		Type:        datatypes.EventDelta,
		Text:        delta.Text,
		FullContent: delta.FullContent,
		Attempt:     delta.Attempt,
	}
}

// SetSSEHeaders must be called before anything is written.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ EventWriter = (*sseWriter)(nil)
