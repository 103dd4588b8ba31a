// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import (
	"fmt"
	"strings"
)

// repair is one textual fix for a defect typical of model-generated JSON.
// Repairs are best-effort scanners, not a JSON tokenizer: they track
// double-quoted strings and backslash escapes and nothing else.
type repair struct {
	name  string
	apply func(string) string
}

// Repair names, reported in Result.Repairs.
const (
	RepairControlChars   = "escape_control_chars"
	RepairBareKeys       = "quote_bare_keys"
	RepairTrailingCommas = "remove_trailing_commas"
	RepairMissingCommas  = "insert_missing_commas"
	RepairStrayQuotes    = "escape_stray_quotes"
	RepairTruncation     = "close_truncated"
)

// repairs run in this order and accumulate. Stray quotes are escaped
// before missing commas are inserted so a quoted word inside a string is
// never read as two adjacent values.
var repairs = []repair{
	{RepairControlChars, escapeControlChars},
	{RepairBareKeys, quoteBareKeys},
	{RepairTrailingCommas, removeTrailingCommas},
	{RepairStrayQuotes, escapeStrayQuotes},
	{RepairMissingCommas, insertMissingCommas},
	{RepairTruncation, closeTruncated},
}

// stringState tracks whether a left-to-right scan is inside a string.
type stringState struct {
	in      bool
	escaped bool
}

// advance consumes c and reports whether c is part of a string literal,
// delimiting quotes included.
func (st *stringState) advance(c byte) bool {
	if st.in {
		switch {
		case st.escaped:
			st.escaped = false
		case c == '\\':
			st.escaped = true
		case c == '"':
			st.in = false
		}
		return true
	}
	if c == '"' {
		st.in = true
		return true
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// nextSignificant returns the first non-space byte at or after i, or 0.
func nextSignificant(s string, i int) byte {
	for ; i < len(s); i++ {
		if !isSpace(s[i]) {
			return s[i]
		}
	}
	return 0
}

// escapeControlChars escapes raw newlines, tabs and other control
// characters inside string literals.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	var st stringState
	for i := 0; i < len(s); i++ {
		c := s[i]
		if st.in && !st.escaped && c < 0x20 {
			switch c {
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				fmt.Fprintf(&b, `\u%04x`, c)
			}
			continue
		}
		st.advance(c)
		b.WriteByte(c)
	}
	return b.String()
}

func isKeyStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKeyPart(c byte) bool {
	return isKeyStart(c) || c == '-' || (c >= '0' && c <= '9')
}

// quoteBareKeys quotes identifier keys that directly follow '{' or ','
// and are followed by ':'.
func quoteBareKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	var st stringState
	var prev byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !st.in && isKeyStart(c) && (prev == '{' || prev == ',') {
			j := i + 1
			for j < len(s) && isKeyPart(s[j]) {
				j++
			}
			if nextSignificant(s, j) == ':' {
				b.WriteByte('"')
				b.WriteString(s[i:j])
				b.WriteByte('"')
				prev = '"'
				i = j - 1
				continue
			}
		}
		st.advance(c)
		if !isSpace(c) {
			prev = c
		}
		b.WriteByte(c)
	}
	return b.String()
}

// removeTrailingCommas drops a comma whose next significant byte closes an
// object or array.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var st stringState
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !st.in && c == ',' {
			if next := nextSignificant(s, i+1); next == '}' || next == ']' {
				continue
			}
		}
		st.advance(c)
		b.WriteByte(c)
	}
	return b.String()
}

// insertMissingCommas adds a comma between a value that just ended and a
// value that starts without a separator, as in `} {` or `"a" "b"`.
// A bare literal only counts as a value when it starts in value position;
// a word glued to a closing quote is the tail of a broken string.
func insertMissingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	var st stringState
	var prev byte
	literal := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !st.in && (c == '{' || c == '[' || c == '"') && endsValue(prev, literal) {
			b.WriteByte(',')
		}
		if !st.advance(c) && isLiteralPart(c) && (i == 0 || !isLiteralPart(s[i-1])) {
			literal = prev != '"' && startsLiteral(c)
		}
		if !isSpace(c) {
			prev = c
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isLiteralPart(c byte) bool {
	return isKeyPart(c) || c == '.' || c == '+'
}

func startsLiteral(c byte) bool {
	return c == '-' || c == 't' || c == 'f' || c == 'n' || (c >= '0' && c <= '9')
}

// endsValue reports whether c can be the last byte of a JSON value.
// literal reports whether the bare token ending at c began as a number,
// true, false or null.
func endsValue(c byte, literal bool) bool {
	switch {
	case c == '}' || c == ']' || c == '"':
		return true
	case c >= '0' && c <= '9', c == 'e' || c == 'l':
		return literal
	}
	return false
}

// escapeStrayQuotes escapes a quote inside a string unless the next
// significant byte could follow a closing quote.
func escapeStrayQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	in, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case !in:
			if c == '"' {
				in = true
			}
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			switch nextSignificant(s, i+1) {
			case 0, ',', ':', '}', ']', '"':
				in = false
			default:
				b.WriteString(`\"`)
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// closeTruncated terminates text cut off mid-document: it closes an open
// string, drops a dangling comma, completes a dangling key with null and
// closes every open object and array.
func closeTruncated(s string) string {
	var st stringState
	var stack []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if st.advance(c) {
			continue
		}
		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if n := len(stack); n > 0 && stack[n-1] == c {
				stack = stack[:n-1]
			}
		}
	}
	if !st.in && len(stack) == 0 {
		return s
	}

	out, tail := s, ""
	if st.in {
		if st.escaped {
			out = out[:len(out)-1]
		}
		tail = `"`
	} else {
		out = strings.TrimRight(out, " \t\r\n")
		switch {
		case strings.HasSuffix(out, ","):
			out = out[:len(out)-1]
		case strings.HasSuffix(out, ":"):
			tail = "null"
		}
	}

	var b strings.Builder
	b.Grow(len(out) + len(tail) + len(stack))
	b.WriteString(out)
	b.WriteString(tail)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
