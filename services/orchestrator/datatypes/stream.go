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

// Stream event types written to SSE and websocket clients.
const (
	EventDelta = "delta"
	EventReset = "reset"
	EventError = "error"
	EventDone  = "done"
)

// StreamEvent is one frame of a streamed reply.
//
// Id, CreatedAt, Hash and PrevHash are filled in by the writer. Hash
// chains every event of a response to the one before it.
type StreamEvent struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at"`
	RequestId string `json:"request_id,omitempty"`

	// Text is the increment of a delta event.
	Text string `json:"text,omitempty"`

	// FullContent is the whole answer so far, for clients that redraw.
	FullContent string `json:"full_content,omitempty"`

	// Attempt is the 0-based exchange attempt the frame belongs to.
	Attempt int `json:"attempt"`

	// Error describes the last failure of an exhausted exchange.
	Error string `json:"error,omitempty"`

	Hash     string `json:"hash"`
	PrevHash string `json:"prev_hash,omitempty"`
}
