// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package research drafts research plans: a section framework, the
// sections' content, and revisions of a finished plan.
package research

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidParams wraps validation failures of Params.
var ErrInvalidParams = errors.New("invalid research parameters")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Params describes the research to plan.
type Params struct {
	Topic        string   `json:"topic" validate:"required"`
	Objective    string   `json:"objective" validate:"required"`
	Keywords     []string `json:"keywords" validate:"required,min=1,dive,required"`
	Background   string   `json:"background,omitempty"`
	TemplateType string   `json:"template_type,omitempty" validate:"omitempty,oneof=experimental survey case-study"`
}

// Validate reports the first missing or malformed field.
func (p Params) Validate() error {
	p.Topic = strings.TrimSpace(p.Topic)
	p.Objective = strings.TrimSpace(p.Objective)
	keywords := make([]string, len(p.Keywords))
	for i, k := range p.Keywords {
		keywords[i] = strings.TrimSpace(k)
	}
	p.Keywords = keywords

	if err := getValidator().Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidParams, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// Section is one heading of a plan framework.
type Section struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Framework is the ordered outline of a plan. When the model's outline
// could not be used, Fallback is set, Sections holds DefaultSections and
// either RawContent (an unusable reply) or Error (a failed call) says why.
type Framework struct {
	Sections   []Section `json:"sections"`
	Fallback   bool      `json:"fallback"`
	RawContent string    `json:"raw_content,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// DefaultSections is the standard eight-part research plan outline.
func DefaultSections() []Section {
	return []Section{
		{"Background and significance", "The context of the research, why it matters and the need it answers."},
		{"Objectives and research questions", "The goals of the study and the main questions it addresses."},
		{"Literature review", "An overview of related research and the theoretical basis."},
		{"Methodology", "The research methods chosen and the steps they involve."},
		{"Data collection", "How data is collected, with which instruments and procedures."},
		{"Data analysis", "How the collected data is processed and analysed."},
		{"Expected outcomes", "The results the research is expected to produce and their value."},
		{"Implementation plan and timeline", "The concrete schedule and milestones of the work."},
	}
}

func fallbackFramework() Framework {
	return Framework{Sections: DefaultSections(), Fallback: true}
}

// FilledSection is a framework section with its written content.
type FilledSection struct {
	Section
	Content string `json:"content"`
}

// Plan is a completed research plan.
type Plan struct {
	Topic    string          `json:"topic"`
	Sections []FilledSection `json:"sections"`
	Content  string          `json:"content"`
}

// Markdown assembles the sections in order under a title heading.
func (p Plan) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", p.Topic)
	for i, s := range p.Sections {
		fmt.Fprintf(&b, "\n## %d. %s\n\n%s\n", i+1, s.Title, strings.TrimSpace(s.Content))
	}
	return b.String()
}
