// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kgstream/pkg/recovery"
	"github.com/AleutianAI/kgstream/services/llm"
)

type fakeCompleter struct {
	reply    string
	err      error
	calls    int
	messages []llm.Message
	params   llm.GenerationParams
}

func (f *fakeCompleter) Complete(_ context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	f.calls++
	f.messages, f.params = messages, params
	return f.reply, f.err
}

func newService(f *fakeCompleter, opts ...Option) *Service {
	return NewService(f, recovery.NewPipeline(recovery.DefaultOptions()), opts...)
}

// =============================================================================
// CheckSuitability
// =============================================================================

func TestCheckSuitability(t *testing.T) {
	tests := []struct {
		name         string
		reply        string
		err          error
		wantSuitable bool
		wantReason   string
	}{
		{
			name:         "plain json",
			reply:        `{"suitable": true, "reason": "many entities"}`,
			wantSuitable: true,
			wantReason:   "many entities",
		},
		{
			name:         "fenced with prose",
			reply:        "Sure!\n```json\n{\"suitable\": false, \"reason\": \"a shopping list\"}\n```",
			wantSuitable: false,
			wantReason:   "a shopping list",
		},
		{
			name:         "repairable",
			reply:        `{suitable: "true", reason: "papers",}`,
			wantSuitable: true,
			wantReason:   "papers",
		},
		{
			name:       "no object",
			reply:      "I think it is suitable.",
			wantReason: "could not interpret the model's reply",
		},
		{
			name:       "missing verdict",
			reply:      `{"reason": "unclear"}`,
			wantReason: "could not interpret the model's reply",
		},
		{
			name:       "model failure",
			err:        errors.New("status 500"),
			wantReason: "suitability check failed: status 500",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCompleter{reply: tt.reply, err: tt.err}
			got := newService(f).CheckSuitability(context.Background(), "Alan Turing worked at Bletchley Park.")
			assert.Equal(t, tt.wantSuitable, got.Suitable)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

func TestCheckSuitability_EmptyDocumentSkipsModel(t *testing.T) {
	f := &fakeCompleter{}
	got := newService(f).CheckSuitability(context.Background(), "   ")
	assert.False(t, got.Suitable)
	assert.Equal(t, ErrEmptyDocument.Error(), got.Reason)
	assert.Zero(t, f.calls)
}

// =============================================================================
// Generate
// =============================================================================

func TestGenerate_Direct(t *testing.T) {
	f := &fakeCompleter{reply: `{"nodes":[{"id":"a","name":"Turing","category":0,"value":60},` +
		`{"id":"b","name":"Enigma","category":0,"value":40}],` +
		`"links":[{"source":"a","target":"b","value":5,"name":"broke"}],` +
		`"categories":[{"name":"Person"}]}`}

	res, err := newService(f).Generate(context.Background(), "Turing broke Enigma.")
	require.NoError(t, err)

	assert.Equal(t, recovery.TierDirect, res.Tier)
	assert.False(t, res.Degraded())
	assert.Len(t, res.Document.Nodes, 2)
	assert.Equal(t, "broke", res.Document.Links[0].StringField("name"))
	assert.Equal(t, "Person", res.Document.Categories[0].StringField("name"))

	require.NotNil(t, f.params.Temperature)
	assert.InDelta(t, 0.3, *f.params.Temperature, 1e-6)
	require.Len(t, f.messages, 3)
	assert.Equal(t, "Turing broke Enigma.", f.messages[1].Content)
}

func TestGenerate_DegradedReplyStillRenders(t *testing.T) {
	f := &fakeCompleter{reply: `Here is the graph: {"nodes": [{"name": "Alpha"}, {"name": "Beta"` +
		`, "links": [oops`}

	res, err := newService(f).Generate(context.Background(), "text")
	require.NoError(t, err)

	assert.True(t, res.Degraded())
	assert.NotEmpty(t, res.Document.Nodes)
	assert.NotEmpty(t, res.Document.Categories)
}

func TestGenerate_ModelFailureIsError(t *testing.T) {
	f := &fakeCompleter{err: errors.New("timeout")}
	_, err := newService(f).Generate(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestGenerate_EmptyDocument(t *testing.T) {
	_, err := newService(&fakeCompleter{}).Generate(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestGenerate_TruncatesDocument(t *testing.T) {
	f := &fakeCompleter{reply: `{"nodes":[],"links":[]}`}
	res, err := newService(f, WithMaxDocumentRunes(3)).Generate(context.Background(), "abcdef")
	require.NoError(t, err)

	assert.Equal(t, "abc"+llm.TruncationMarker, f.messages[1].Content)
	assert.Equal(t, recovery.DefaultPlaceholderCategory, res.Document.Categories[0].StringField("name"))
}

func TestNewService_DefaultPipeline(t *testing.T) {
	f := &fakeCompleter{reply: "no json at all"}
	res, err := NewService(f, nil).Generate(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, recovery.TierExtracted, res.Tier)
	assert.Empty(t, res.Document.Nodes)
}
