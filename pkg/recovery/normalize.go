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

// DefaultPlaceholderCategory names the category added when a document has
// none.
const DefaultPlaceholderCategory = "General"

// Normalize coerces a decoded object into the Document shape.
//
// A missing or non-array collection becomes empty. Categories that end up
// empty are replaced by a single placeholder category, because renderers
// need at least one. Array items that are not objects are dropped; object
// items are passed through untouched. A nil candidate is allowed.
func Normalize(candidate map[string]any, placeholder string) Document {
	if placeholder == "" {
		placeholder = DefaultPlaceholderCategory
	}

	doc := Document{
		Nodes:      entries(candidate["nodes"]),
		Links:      entries(candidate["links"]),
		Categories: entries(candidate["categories"]),
	}
	if len(doc.Categories) == 0 {
		doc.Categories = []Entry{{"name": placeholder}}
	}
	return doc
}

func entries(v any) []Entry {
	items, _ := v.([]any)
	out := make([]Entry, 0, len(items))
	for _, item := range items {
		switch m := item.(type) {
		case map[string]any:
			out = append(out, Entry(m))
		case Entry:
			out = append(out, m)
		}
	}
	return out
}
