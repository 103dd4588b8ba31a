// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recovery turns model output that should contain a JSON graph
// object into a structurally valid graph document.
//
// Recovery runs three tiers and stops at the first success:
//
//  1. Direct: the text between the first '{' and the last '}' parses.
//  2. Repaired: cumulative textual repairs make it parse.
//  3. Extracted: "name" fields are scraped from the raw text and a minimal
//     star-shaped graph is synthesized.
//
// Every result passes through Normalize, so nodes, links and categories
// are always present. Pipeline.Recover never fails.
package recovery

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Document
// =============================================================================

// Entry is one node, link or category. Fields are kept exactly as decoded;
// numbers are json.Number.
type Entry map[string]any

// StringField returns the field as text. Numbers are rendered in their
// original form; other kinds and missing fields yield "".
func (e Entry) StringField(key string) string {
	switch v := e[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprint(v)
	case int:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// NumberField returns the field as a float64 when it is numeric.
func (e Entry) NumberField(key string) (float64, bool) {
	switch v := e[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Document is a knowledge graph in the ECharts graph layout shape.
//
// After Normalize all three collections are non-nil and Categories holds
// at least one entry.
type Document struct {
	Nodes      []Entry `json:"nodes"`
	Links      []Entry `json:"links"`
	Categories []Entry `json:"categories"`
}

// DanglingLinks counts links whose source or target is not a node id.
// Documents from the Extracted tier may have dangling links; Direct and
// Repaired documents have them only if the model ignored the schema.
func (d Document) DanglingLinks() int {
	ids := make(map[string]struct{}, len(d.Nodes))
	for _, n := range d.Nodes {
		ids[n.StringField("id")] = struct{}{}
	}
	dangling := 0
	for _, l := range d.Links {
		_, okSource := ids[l.StringField("source")]
		_, okTarget := ids[l.StringField("target")]
		if !okSource || !okTarget {
			dangling++
		}
	}
	return dangling
}

// =============================================================================
// Tier and Result
// =============================================================================

// Tier identifies which recovery stage produced a document.
type Tier int

const (
	TierDirect Tier = iota
	TierRepaired
	TierExtracted
)

// String returns the lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierRepaired:
		return "repaired"
	case TierExtracted:
		return "extracted"
	default:
		return "unknown"
	}
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (t *Tier) UnmarshalText(text []byte) error {
	switch string(text) {
	case "direct":
		*t = TierDirect
	case "repaired":
		*t = TierRepaired
	case "extracted":
		*t = TierExtracted
	default:
		return fmt.Errorf("unknown recovery tier %q", text)
	}
	return nil
}

// Result is the outcome of one recovery.
type Result struct {
	Tier     Tier     `json:"tier"`
	Document Document `json:"document"`

	// Repairs lists the repair steps applied, in order, for TierRepaired.
	Repairs []string `json:"repairs,omitempty"`
}

// Degraded reports that recovery fell back past the Direct tier.
func (r Result) Degraded() bool {
	return r.Tier != TierDirect
}

// LowConfidence reports that the document was synthesized from scraped
// names rather than parsed.
func (r Result) LowConfidence() bool {
	return r.Tier == TierExtracted
}
