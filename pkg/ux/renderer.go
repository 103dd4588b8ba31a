// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/kgstream/pkg/stream"
)

// DeltaRenderer displays a streamed reply as it arrives.
//
// Interactive levels show a spinner until the first delta, then write text
// in place. A reset delta (the upstream exchange is being retried after it
// had produced text) prints a retry notice and starts the answer over. A
// terminal error replaces the partial line with a failure indicator that
// carries the last upstream error.
//
// PersonalityMachine buffers the answer and prints KEY: value lines:
//
//	STATUS: Thinking...
//	RETRY: attempt 2
//	ANSWER: <full text>
//	DONE
//
// or ERROR: <last error> when the exchange fails.
//
// Methods are safe for concurrent use, but deltas must be delivered in
// order.
type DeltaRenderer struct {
	writer      io.Writer
	personality PersonalityLevel
	spinner     *Spinner
	mu          sync.Mutex

	answer       strings.Builder
	lineOpen     bool
	retries      int
	firstDeltaAt time.Time
	startedAt    time.Time
	err          error
	finalized    bool
}

// NewDeltaRenderer creates a renderer writing to w (os.Stdout when nil).
func NewDeltaRenderer(w io.Writer, personality PersonalityLevel) *DeltaRenderer {
	if w == nil {
		w = os.Stdout
	}
	return &DeltaRenderer{
		writer:      w,
		personality: personality,
		startedAt:   time.Now(),
	}
}

// Start shows the waiting indicator.
func (r *DeltaRenderer) Start(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "STATUS: %s\n", message)
		return
	}
	if r.spinner == nil {
		r.spinner = NewSpinner(message).WithWriter(r.writer)
		r.spinner.Start()
	} else {
		r.spinner.SetLabel(message)
	}
}

// OnDelta renders one delta.
func (r *DeltaRenderer) OnDelta(d stream.Delta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.stopSpinner()

	if d.Reset {
		r.retries++
		r.answer.Reset()
		if r.personality == PersonalityMachine {
			fmt.Fprintf(r.writer, "RETRY: attempt %d\n", d.Attempt+1)
			return
		}
		r.closeLine()
		fmt.Fprintf(r.writer, "%s %s\n", IconRetry.Render(),
			Styles.Warning.Render("connection interrupted, retrying"))
		return
	}

	if r.firstDeltaAt.IsZero() {
		r.firstDeltaAt = time.Now()
	}
	r.answer.WriteString(d.Text)
	if r.personality == PersonalityMachine {
		return
	}
	fmt.Fprint(r.writer, d.Text)
	r.lineOpen = !strings.HasSuffix(d.Text, "\n")
}

// OnError renders a terminal failure. Further calls are ignored.
func (r *DeltaRenderer) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized || err == nil {
		return
	}
	r.stopSpinner()
	r.err = err
	r.finalized = true

	msg := FailureMessage(err)
	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "ERROR: %s\n", msg)
		return
	}
	if r.lineOpen {
		// Replace the partial line with the failure indicator.
		fmt.Fprint(r.writer, "\r\033[K")
		r.lineOpen = false
	}
	fmt.Fprintf(r.writer, "%s %s\n", IconError.Render(), Styles.Error.Render(msg))
}

// Finish completes a successful reply. Safe to call more than once.
func (r *DeltaRenderer) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true
	r.stopSpinner()

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "ANSWER: %s\n", r.answer.String())
		fmt.Fprintln(r.writer, "DONE")
		return
	}
	r.closeLine()
}

// Render drains seq, rendering every delta, and returns the final answer.
// The returned error is the one ending the sequence, if any.
func (r *DeltaRenderer) Render(seq iter.Seq2[stream.Delta, error]) (string, error) {
	for d, err := range seq {
		if err != nil {
			r.OnError(err)
			return r.Answer(), err
		}
		r.OnDelta(d)
	}
	r.Finish()
	return r.Answer(), nil
}

// Answer returns the text of the current attempt.
func (r *DeltaRenderer) Answer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answer.String()
}

// Retries returns how many reset deltas were rendered.
func (r *DeltaRenderer) Retries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retries
}

// TimeToFirstDelta returns the delay before the first text arrived, or
// zero if none did.
func (r *DeltaRenderer) TimeToFirstDelta() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.firstDeltaAt.IsZero() {
		return 0
	}
	return r.firstDeltaAt.Sub(r.startedAt)
}

func (r *DeltaRenderer) stopSpinner() {
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}
}

func (r *DeltaRenderer) closeLine() {
	if r.lineOpen {
		fmt.Fprintln(r.writer)
		r.lineOpen = false
	}
}

// FailureMessage describes a failed exchange for display. An exhausted
// exchange is described by its last upstream error.
func FailureMessage(err error) string {
	var exhausted *stream.ExhaustedError
	switch {
	case errors.As(err, &exhausted) && exhausted.LastErr != nil:
		return fmt.Sprintf("Response failed after %d attempts: %v", exhausted.Attempts, exhausted.LastErr)
	case errors.Is(err, context.Canceled):
		return "Response cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Response timed out"
	default:
		return fmt.Sprintf("Response failed: %v", err)
	}
}
