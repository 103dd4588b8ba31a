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
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// nameFieldPattern matches a "name": "..." pair anywhere in the text,
// honouring backslash escapes inside the value.
var nameFieldPattern = regexp.MustCompile(`"name"\s*:\s*"((?:[^"\\]|\\.)*)"`)

const (
	extractedRootValue  = "60"
	extractedLeafValue  = "30"
	extractedLinkValue  = "1"
	extractedLinkName   = "related"
	extractedNodePrefix = "node_"
)

// extractNames returns up to limit non-empty name values from blob, in
// order of appearance.
func extractNames(blob string, limit int) []string {
	matches := nameFieldPattern.FindAllStringSubmatch(blob, -1)
	names := make([]string, 0, min(len(matches), limit))
	for _, m := range matches {
		if len(names) >= limit {
			break
		}
		name := unescapeJSONString(m[1])
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func unescapeJSONString(raw string) string {
	var s string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &s); err != nil {
		return raw
	}
	return s
}

// synthesizeGraph builds a star graph rooted at the first name. All nodes
// share category 0.
func synthesizeGraph(names []string, placeholder string) map[string]any {
	nodes := make([]any, 0, len(names))
	links := make([]any, 0, max(len(names)-1, 0))

	for i, name := range names {
		value := extractedLeafValue
		if i == 0 {
			value = extractedRootValue
		}
		id := extractedNodePrefix + strconv.Itoa(i+1)
		nodes = append(nodes, Entry{
			"id":       id,
			"name":     name,
			"category": json.Number("0"),
			"value":    json.Number(value),
		})
		if i > 0 {
			links = append(links, Entry{
				"source": extractedNodePrefix + "1",
				"target": id,
				"value":  json.Number(extractedLinkValue),
				"name":   extractedLinkName,
			})
		}
	}

	return map[string]any{
		"nodes":      nodes,
		"links":      links,
		"categories": []any{Entry{"name": placeholder}},
	}
}
