// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/kgstream/services/llm"
)

const (
	// MaxTitleRunes bounds conversation titles.
	MaxTitleRunes = 20

	// DefaultTitle is used when there is nothing to summarise.
	DefaultTitle = "New conversation"

	titleTemperature = float32(0.3)

	titlePrompt = "You write short conversation titles. Summarise the main intent of the " +
		"user's first message in at most 15 characters or 6 words. Reply with the title only."
)

const sentenceEnds = "。？！.!?"

// titleQuotes are stripped from both ends of a generated title.
const titleQuotes = "\"'`“”‘’「」『』《》"

// LocalTitle derives a title from text without calling the model: the
// first sentence, capped at MaxTitleRunes with "..." when cut.
func LocalTitle(text string) string {
	clean := strings.Join(strings.Fields(text), " ")
	if clean == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(clean) <= MaxTitleRunes {
		return clean
	}

	if i := strings.IndexAny(clean, sentenceEnds); i >= 0 {
		_, size := utf8.DecodeRuneInString(clean[i:])
		sentence := clean[:i+size]
		if utf8.RuneCountInString(sentence) <= MaxTitleRunes {
			return sentence
		}
	}
	return firstRunes(clean, MaxTitleRunes) + "..."
}

// Title asks the model for a title of the conversation opened by
// firstMessage, falling back to LocalTitle when the call fails or
// produces nothing usable.
func (s *Service) Title(ctx context.Context, firstMessage string) string {
	if strings.TrimSpace(firstMessage) == "" {
		return DefaultTitle
	}

	ctx, span := tracer.Start(ctx, "chat.Service.Title")
	defer span.End()

	reply, err := s.client.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: titlePrompt},
		{Role: llm.RoleUser, Content: "Write a title for this message: " + firstMessage},
	}, llm.WithTemperature(titleTemperature))
	if err != nil {
		s.logger.Warn("Title generation failed, using local title", "error", err)
		span.RecordError(err)
		return LocalTitle(firstMessage)
	}

	title := cleanTitle(reply)
	if title == "" {
		s.logger.Warn("Title generation returned nothing, using local title")
		return LocalTitle(firstMessage)
	}
	return title
}

func cleanTitle(reply string) string {
	// Models sometimes answer on several lines; the first is the title.
	line, _, _ := strings.Cut(strings.TrimSpace(reply), "\n")
	line = strings.TrimPrefix(strings.TrimSpace(line), "Title:")
	line = strings.Trim(strings.TrimSpace(line), titleQuotes)
	line = strings.Join(strings.Fields(line), " ")
	return firstRunes(line, MaxTitleRunes)
}

func firstRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
