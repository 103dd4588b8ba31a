// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream turns chunked text-generation responses into ordered
// content deltas.
//
// The package is layered the same way the wire is:
//
//	transport bytes -> LineFramer -> Decoder -> Session -> caller
//
// LineFramer cuts raw fragments into complete logical lines, Decoder
// classifies each line as data, termination or noise, and Session owns one
// logical exchange including its retry policy. Callers range over the
// iter.Seq2 returned by Session.Run and may stop at any time; stopping
// releases the transport body and ends the retry loop.
//
// Example:
//
//	session := stream.NewSession(stream.DefaultSessionConfig(), nil)
//	for delta, err := range session.Run(ctx, opener) {
//	    if err != nil {
//	        return err
//	    }
//	    if delta.Reset {
//	        clearDisplay()
//	        continue
//	    }
//	    fmt.Print(delta.Text)
//	}
package stream

import "bytes"

// =============================================================================
// LineFramer
// =============================================================================

// LineFramer accumulates raw fragments and yields complete logical lines.
//
// # Description
//
// Fragments are appended to a pending buffer. Every segment terminated by
// '\n' is emitted with the terminator (and a preceding '\r', if any)
// stripped. The unterminated remainder stays pending until the next Feed
// or Flush. Framing works on bytes, so a multibyte UTF-8 sequence split
// across fragments is reassembled before its line is emitted.
//
// # Limitations
//
// The pending buffer is unbounded; a peer that never sends a newline grows
// it until Flush.
//
// # Assumptions
//
// A LineFramer belongs to exactly one exchange and is not safe for
// concurrent use.
type LineFramer struct {
	pending []byte
}

// NewLineFramer creates an empty framer.
func NewLineFramer() *LineFramer {
	return &LineFramer{}
}

// Feed appends fragment and returns every line it completed, in order.
// It returns nil when the fragment completed no line.
func (f *LineFramer) Feed(fragment []byte) []string {
	if len(fragment) == 0 {
		return nil
	}
	f.pending = append(f.pending, fragment...)

	last := bytes.LastIndexByte(f.pending, '\n')
	if last < 0 {
		return nil
	}

	complete := f.pending[:last]
	lines := make([]string, 0, bytes.Count(complete, []byte{'\n'})+1)
	for {
		idx := bytes.IndexByte(complete, '\n')
		if idx < 0 {
			lines = append(lines, trimCR(complete))
			break
		}
		lines = append(lines, trimCR(complete[:idx]))
		complete = complete[idx+1:]
	}

	rest := f.pending[last+1:]
	f.pending = append(make([]byte, 0, len(rest)), rest...)
	return lines
}

// FeedString is Feed for text fragments.
func (f *LineFramer) FeedString(fragment string) []string {
	return f.Feed([]byte(fragment))
}

// Flush emits the pending remainder as a final line if it is non-empty
// and clears it.
func (f *LineFramer) Flush() []string {
	if len(f.pending) == 0 {
		return nil
	}
	line := trimCR(f.pending)
	f.pending = nil
	return []string{line}
}

// Pending reports how many bytes are waiting for a line terminator.
func (f *LineFramer) Pending() int {
	return len(f.pending)
}

func trimCR(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return string(b)
}
