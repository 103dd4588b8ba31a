// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kgstream/pkg/recovery"
	"github.com/AleutianAI/kgstream/services/llm"
)

// funcCompleter answers with a function of the request.
type funcCompleter struct {
	fn func(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error)
}

func (f funcCompleter) Complete(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	return f.fn(ctx, messages, params)
}

func reply(s string, err error) funcCompleter {
	return funcCompleter{fn: func(context.Context, []llm.Message, llm.GenerationParams) (string, error) {
		return s, err
	}}
}

func validParams() Params {
	return Params{
		Topic:     "Flipped classrooms",
		Objective: "Measure engagement",
		Keywords:  []string{"engagement", "pedagogy"},
	}
}

// =============================================================================
// Params
// =============================================================================

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Params)
		wantErr bool
	}{
		{"valid", func(*Params) {}, false},
		{"missing topic", func(p *Params) { p.Topic = "  " }, true},
		{"missing objective", func(p *Params) { p.Objective = "" }, true},
		{"no keywords", func(p *Params) { p.Keywords = nil }, true},
		{"blank keyword", func(p *Params) { p.Keywords = []string{" "} }, true},
		{"known template", func(p *Params) { p.TemplateType = "survey" }, false},
		{"unknown template", func(p *Params) { p.TemplateType = "novel" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidParams)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// GenerateFramework
// =============================================================================

func TestGenerateFramework_SectionsList(t *testing.T) {
	var prompt string
	client := funcCompleter{fn: func(_ context.Context, m []llm.Message, p llm.GenerationParams) (string, error) {
		prompt = m[1].Content
		require.NotNil(t, p.Temperature)
		assert.InDelta(t, 0.3, *p.Temperature, 1e-6)
		return "```json\n{\"sections\": [{\"title\": \"Intro\", \"description\": \"why\"}, " +
			"{\"title\": \"Method\", \"description\": \"how\"}]}\n```", nil
	}}
	graph := &recovery.Document{Nodes: []recovery.Entry{{"name": "Motivation"}, {"id": "x"}}}

	fw := NewService(client, nil).GenerateFramework(context.Background(), validParams(), graph)

	assert.False(t, fw.Fallback)
	assert.Equal(t, []Section{{"Intro", "why"}, {"Method", "how"}}, fw.Sections)
	assert.Contains(t, prompt, "Keywords: engagement, pedagogy")
	assert.Contains(t, prompt, "Related concepts: Motivation\n")
}

func TestGenerateFramework_FlatNumberedShape(t *testing.T) {
	client := reply(`{"section10": {"title": "Ten"}, "section2": {"title": "Two", "description": "d"},`+
		` "section1": {"title": "One"}, "error": null}`, nil)

	fw := NewService(client, nil).GenerateFramework(context.Background(), validParams(), nil)

	require.False(t, fw.Fallback)
	titles := make([]string, len(fw.Sections))
	for i, s := range fw.Sections {
		titles[i] = s.Title
	}
	assert.Equal(t, []string{"One", "Two", "Ten"}, titles)
}

func TestGenerateFramework_Fallbacks(t *testing.T) {
	t.Run("unusable reply keeps raw content", func(t *testing.T) {
		fw := NewService(reply("Here is an outline: intro, method.", nil), nil).
			GenerateFramework(context.Background(), validParams(), nil)
		assert.True(t, fw.Fallback)
		assert.Equal(t, DefaultSections(), fw.Sections)
		assert.Equal(t, "Here is an outline: intro, method.", fw.RawContent)
		assert.Empty(t, fw.Error)
	})

	t.Run("object without sections", func(t *testing.T) {
		fw := NewService(reply(`{"title": "x"}`, nil), nil).
			GenerateFramework(context.Background(), validParams(), nil)
		assert.True(t, fw.Fallback)
		assert.Len(t, fw.Sections, 8)
	})

	t.Run("model failure sets error", func(t *testing.T) {
		fw := NewService(reply("", errors.New("503")), nil).
			GenerateFramework(context.Background(), validParams(), nil)
		assert.True(t, fw.Fallback)
		assert.Contains(t, fw.Error, "503")
		assert.Empty(t, fw.RawContent)
	})

	t.Run("invalid params skip the model", func(t *testing.T) {
		var called bool
		client := funcCompleter{fn: func(context.Context, []llm.Message, llm.GenerationParams) (string, error) {
			called = true
			return "", nil
		}}
		fw := NewService(client, nil).GenerateFramework(context.Background(), Params{}, nil)
		assert.True(t, fw.Fallback)
		assert.Contains(t, fw.Error, ErrInvalidParams.Error())
		assert.False(t, called)
	})
}

// =============================================================================
// Fill
// =============================================================================

func TestFill_AssemblesInFrameworkOrder(t *testing.T) {
	var inflight, peak atomic.Int32
	client := funcCompleter{fn: func(_ context.Context, m []llm.Message, p llm.GenerationParams) (string, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		assert.InDelta(t, 0.4, *p.Temperature, 1e-6)

		// Later sections answer first.
		switch {
		case strings.Contains(m[1].Content, `section 1, "A"`):
			time.Sleep(30 * time.Millisecond)
			return "alpha", nil
		case strings.Contains(m[1].Content, `section 2, "B"`):
			time.Sleep(10 * time.Millisecond)
			return "beta", nil
		default:
			return " gamma \n", nil
		}
	}}

	var mu sync.Mutex
	var progressed []string
	svc := NewService(client, nil, WithFillParallelism(2), WithProgress(func(s Section, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.NoError(t, err)
		progressed = append(progressed, s.Title)
	}))

	fw := Framework{Sections: []Section{{"A", "a"}, {"B", "b"}, {"C", "c"}}}
	plan, err := svc.Fill(context.Background(), fw, validParams())
	require.NoError(t, err)

	require.Len(t, plan.Sections, 3)
	assert.Equal(t, "alpha", plan.Sections[0].Content)
	assert.Equal(t, "beta", plan.Sections[1].Content)
	assert.Equal(t, "gamma", plan.Sections[2].Content)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.ElementsMatch(t, []string{"A", "B", "C"}, progressed)

	want := "# Flipped classrooms\n\n## 1. A\n\nalpha\n\n## 2. B\n\nbeta\n\n## 3. C\n\ngamma\n"
	assert.Equal(t, want, plan.Content)
}

func TestFill_FirstFailureCancelsRest(t *testing.T) {
	client := funcCompleter{fn: func(ctx context.Context, m []llm.Message, _ llm.GenerationParams) (string, error) {
		if strings.Contains(m[1].Content, `"B"`) {
			return "", errors.New("rate limited")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
			return "late", nil
		}
	}}

	fw := Framework{Sections: []Section{{"A", ""}, {"B", ""}}}
	_, err := NewService(client, nil).Fill(context.Background(), fw, validParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `fill section 2 "B"`)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestFill_EmptyFrameworkUsesDefaults(t *testing.T) {
	plan, err := NewService(reply("text", nil), nil).Fill(context.Background(), Framework{}, validParams())
	require.NoError(t, err)
	assert.Len(t, plan.Sections, len(DefaultSections()))
}

func TestFill_InvalidParams(t *testing.T) {
	_, err := NewService(reply("x", nil), nil).Fill(context.Background(), Framework{}, Params{Topic: "t"})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

// =============================================================================
// Optimize
// =============================================================================

func TestOptimize(t *testing.T) {
	var got string
	client := funcCompleter{fn: func(_ context.Context, m []llm.Message, _ llm.GenerationParams) (string, error) {
		got = m[1].Content
		return "# better", nil
	}}
	svc := NewService(client, nil)

	out, err := svc.Optimize(context.Background(), "# plan", "methodology")
	require.NoError(t, err)
	assert.Equal(t, "# better", out)
	assert.True(t, strings.HasPrefix(got, "Focus on methodology."))

	_, err = svc.Optimize(context.Background(), "# plan", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Focus on overall quality."))

	_, err = svc.Optimize(context.Background(), " ", "x")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestOptimize_Failure(t *testing.T) {
	_, err := NewService(reply("", errors.New("down")), nil).Optimize(context.Background(), "plan", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "optimize plan: down")
}
