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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kgstream/services/chat"
)

func newTitleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "title [message]",
		Short: "Suggest a conversation title for a first message",
		Long: `Asks the model for a short title. When the model cannot be reached, or the
message matches a blocking content rule, the title is taken from the
message's first sentence instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := joinArgs(args)
			if err := a.screen(false, message); err != nil {
				a.logger.Info("using local title for sensitive message")
				_, err := fmt.Fprintln(cmd.OutOrStdout(), chat.LocalTitle(message))
				return err
			}

			client, err := a.client()
			if err != nil {
				a.logger.Warn("upstream unavailable, using local title", "error", err)
				_, err := fmt.Fprintln(cmd.OutOrStdout(), chat.LocalTitle(message))
				return err
			}
			svc := chat.NewService(client, chat.WithLogger(a.logger.Slog()))
			_, err = fmt.Fprintln(cmd.OutOrStdout(), svc.Title(cmd.Context(), message))
			return err
		},
	}
}
