// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import "unicode/utf8"

// TruncationMarker is appended to documents cut by TruncateDocument.
const TruncationMarker = "\n[... truncated]"

// TruncateDocument cuts doc to at most maxRunes runes and reports whether
// it did. maxRunes <= 0 disables the limit.
func TruncateDocument(doc string, maxRunes int) (string, bool) {
	if maxRunes <= 0 || utf8.RuneCountInString(doc) <= maxRunes {
		return doc, false
	}
	n := 0
	for i := range doc {
		if n == maxRunes {
			return doc[:i] + TruncationMarker, true
		}
		n++
	}
	return doc, false
}
