// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy_engine classifies outbound text before it is sent to
// the hosted model. Documents and messages carrying credentials are
// refused; personal data is reported but allowed through.
package policy_engine

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/kgstream/services/policy_engine/enforcement"
)

// ClassPublic is returned by ClassifyData when nothing matches.
const ClassPublic = "public"

// ErrSensitiveContent is wrapped by Check when text must not leave the
// process.
var ErrSensitiveContent = errors.New("content contains sensitive data")

// SensitiveContentError lists the blocking findings.
type SensitiveContentError struct {
	Findings []ScanFinding
}

func (e *SensitiveContentError) Error() string {
	ids := make([]string, 0, len(e.Findings))
	for _, f := range e.Findings {
		ids = append(ids, fmt.Sprintf("%s (line %d)", f.PatternId, f.LineNumber))
	}
	return fmt.Sprintf("%s: %s", ErrSensitiveContent, strings.Join(ids, ", "))
}

func (e *SensitiveContentError) Unwrap() error { return ErrSensitiveContent }

// PolicyEngine holds the compiled rules. It is read-only after
// construction and safe for concurrent use.
type PolicyEngine struct {
	Classifiers []Classification
}

// NewPolicyEngine loads the embedded rule set.
func NewPolicyEngine() (*PolicyEngine, error) {
	return NewPolicyEngineFromYAML(enforcement.DataClassificationPatterns)
}

// NewPolicyEngineFromYAML compiles a rule set and sorts it by priority,
// highest first.
func NewPolicyEngineFromYAML(data []byte) (*PolicyEngine, error) {
	var classificationFile PolicyEngineClassificationFile
	if err := yaml.Unmarshal(data, &classificationFile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the policy file: %w", err)
	}
	if err := classificationFile.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex: %w", err)
	}
	classificationFile.SortByPriority()
	return &PolicyEngine{Classifiers: classificationFile.ClassificationPatterns}, nil
}

// ClassifyData returns the name of the highest priority classification
// matching data, or ClassPublic.
func (e *PolicyEngine) ClassifyData(data []byte) string {
	for _, classifier := range e.Classifiers {
		for _, re := range classifier.CompiledPatterns {
			if re.Match(data) {
				return classifier.Name
			}
		}
	}
	return ClassPublic
}

// ScanContent reports every match, line by line.
func (e *PolicyEngine) ScanContent(content string) []ScanFinding {
	var findings []ScanFinding
	for lineNum, line := range strings.Split(content, "\n") {
		for _, classifier := range e.Classifiers {
			for _, pattern := range classifier.Patterns {
				match := pattern.compiledPattern.FindString(line)
				if match == "" {
					continue
				}
				findings = append(findings, ScanFinding{
					LineNumber:         lineNum + 1,
					Redacted:           redact(strings.TrimSpace(match)),
					ClassificationName: classifier.Name,
					Action:             classifier.Action,
					PatternId:          pattern.Id,
					PatternDescription: pattern.Description,
					Confidence:         pattern.Confidence,
				})
			}
		}
	}
	return findings
}

// Check scans content and returns a *SensitiveContentError when any
// finding blocks. The second result holds every finding, blocking or not.
func (e *PolicyEngine) Check(content string) ([]ScanFinding, error) {
	findings := e.ScanContent(content)
	var blocking []ScanFinding
	for _, f := range findings {
		if f.Action == ActionBlock {
			blocking = append(blocking, f)
		}
	}
	if len(blocking) > 0 {
		return findings, &SensitiveContentError{Findings: blocking}
	}
	return findings, nil
}

func redact(match string) string {
	r := []rune(match)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return string(r[0]) + strings.Repeat("*", len(r)-2) + string(r[len(r)-1])
}
