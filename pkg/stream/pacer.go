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
	"context"
	"iter"
	"time"
	"unicode/utf8"
)

// DefaultPacingInterval is the delay between characters when pacing.
const DefaultPacingInterval = 10 * time.Millisecond

// Pace subdivides every delta of seq into single-rune deltas separated by
// interval, for display on an interactive terminal.
//
// Ordering and accumulation are preserved: the FullContent of each rune
// delta is the content since the last reset plus the runes emitted so far,
// so the last rune delta of a source delta matches its FullContent.
// Reset deltas and errors pass through unchanged. A nil clock uses
// SystemClock; a cancelled ctx ends the sequence with ctx.Err().
func Pace(ctx context.Context, seq iter.Seq2[Delta, error], interval time.Duration, clock Clock) iter.Seq2[Delta, error] {
	if clock == nil {
		clock = SystemClock{}
	}
	return func(yield func(Delta, error) bool) {
		first := true
		var prefix string
		for delta, err := range seq {
			if delta.Reset {
				prefix = ""
			}
			if err != nil || delta.Reset || delta.Text == "" {
				if !yield(delta, err) {
					return
				}
				continue
			}

			text := delta.Text
			offset := 0
			for offset < len(text) {
				if !first && interval > 0 {
					if sleepErr := clock.Sleep(ctx, interval); sleepErr != nil {
						yield(Delta{}, sleepErr)
						return
					}
				}
				first = false

				_, size := utf8.DecodeRuneInString(text[offset:])
				piece := text[offset : offset+size]
				offset += size

				out := Delta{
					Text:        piece,
					FullContent: prefix + text[:offset],
					Attempt:     delta.Attempt,
				}
				if !yield(out, nil) {
					return
				}
			}
			prefix += text
		}
	}
}
