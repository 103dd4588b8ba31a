// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"iter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kgstream/pkg/config"
	"github.com/AleutianAI/kgstream/pkg/stream"
	"github.com/AleutianAI/kgstream/pkg/ux"
	"github.com/AleutianAI/kgstream/services/chat"
)

type chatOptions struct {
	buffered       bool
	documentPath   string
	noPace         bool
	allowSensitive bool
}

func newChatCmd(a *app) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Stream a reply to one message",
		Long: `Streams a reply to the message. With --document the reply is grounded on
the file's contents. Interrupted streams are retried from the start and the
partial reply is replaced.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, a, opts, joinArgs(args))
		},
	}
	cmd.Flags().BoolVar(&opts.buffered, "buffered", false,
		"Request the whole reply at once instead of streaming it")
	cmd.Flags().StringVar(&opts.documentPath, "document", "",
		"Answer the question about this file")
	cmd.Flags().BoolVar(&opts.noPace, "no-pace", false,
		"Print text as it arrives instead of at a steady rate")
	cmd.Flags().BoolVar(&opts.allowSensitive, "allow-sensitive", false,
		"Send text even if it matches a blocking content rule")
	return cmd
}

func runChat(cmd *cobra.Command, a *app, opts *chatOptions, message string) error {
	if message == "" {
		return chat.ErrEmptyMessage
	}

	var document string
	if opts.documentPath != "" {
		text, err := readInput(cmd, opts.documentPath)
		if err != nil {
			return err
		}
		document = text
	}
	if err := a.screen(opts.allowSensitive, message, document); err != nil {
		return err
	}

	if opts.buffered {
		a.cfg.Stream.Mode = config.ModeBuffered
	}
	client, err := a.client()
	if err != nil {
		return err
	}
	svc := chat.NewService(client,
		chat.WithMaxDocumentRunes(a.cfg.Upstream.MaxDocumentRunes),
		chat.WithLogger(a.logger.Slog()))

	ctx := cmd.Context()
	var seq iter.Seq2[stream.Delta, error]
	if document != "" {
		seq = svc.AskDocument(ctx, document, message)
	} else {
		seq = svc.Send(ctx, nil, message)
	}
	if !opts.noPace && a.cfg.Stream.Pacing && ux.IsInteractive() {
		seq = stream.Pace(ctx, seq, a.cfg.Stream.PacingInterval, nil)
	}

	renderer := ux.NewDeltaRenderer(cmd.OutOrStdout(), ux.GetPersonality().Level)
	renderer.Start("Thinking")
	if _, err := renderer.Render(seq); err != nil {
		a.logger.Debug("chat failed", "error", err, "retries", renderer.Retries())
		return errors.Join(errReported, err)
	}
	a.logger.Debug("chat finished",
		"retries", renderer.Retries(),
		"time_to_first_delta", renderer.TimeToFirstDelta())
	return nil
}
