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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kgstream/pkg/recovery"
	"github.com/AleutianAI/kgstream/pkg/ux"
	"github.com/AleutianAI/kgstream/services/knowledge"
)

func newRecoverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recover [file|-]",
		Short: "Recover a graph document from model output",
		Long: `Reads model output that should contain a JSON graph object and prints a
valid graph document. Malformed JSON is repaired, and as a last resort node
names are scraped from the text. The recovery tier is reported on stderr.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, argOrEmpty(args))
			if err != nil {
				return err
			}
			res := a.pipeline().Recover(text)
			if err := writeDocument(cmd.OutOrStdout(), res.Document); err != nil {
				return err
			}
			summarize(res)
			return nil
		},
	}
}

func newGraphCmd(a *app) *cobra.Command {
	var (
		force          bool
		allowSensitive bool
	)
	cmd := &cobra.Command{
		Use:   "graph [file|-]",
		Short: "Generate a knowledge graph from a document",
		Long: `Asks the model whether the document suits a knowledge graph, then
generates one. The graph document is printed on stdout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, argOrEmpty(args))
			if err != nil {
				return err
			}
			if strings.TrimSpace(text) == "" {
				return knowledge.ErrEmptyDocument
			}
			if err := a.screen(allowSensitive, text); err != nil {
				return err
			}

			client, err := a.client()
			if err != nil {
				return err
			}
			svc := knowledge.NewService(client, a.pipeline(),
				knowledge.WithMaxDocumentRunes(a.cfg.Upstream.MaxDocumentRunes),
				knowledge.WithLogger(a.logger.Slog()))
			ctx := cmd.Context()

			if !force {
				var suit knowledge.Suitability
				_ = ux.WithSpinner("Checking document", func() error {
					suit = svc.CheckSuitability(ctx, text)
					return nil
				})
				if !suit.Suitable {
					return fmt.Errorf("document is not suitable for a knowledge graph: %s (use --force to generate anyway)", suit.Reason)
				}
			}

			var res recovery.Result
			err = ux.WithSpinner("Generating graph", func() error {
				var genErr error
				res, genErr = svc.Generate(ctx, text)
				return genErr
			})
			if err != nil {
				return errors.Join(errReported, err)
			}
			if err := writeDocument(cmd.OutOrStdout(), res.Document); err != nil {
				return err
			}
			summarize(res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Skip the suitability check")
	cmd.Flags().BoolVar(&allowSensitive, "allow-sensitive", false,
		"Send the document even if it matches a blocking content rule")
	return cmd
}

func writeDocument(w io.Writer, doc recovery.Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(doc)
}

func summarize(res recovery.Result) {
	ux.RecoverySummary(res.Tier.String(),
		len(res.Document.Nodes), len(res.Document.Links), len(res.Document.Categories),
		res.Repairs)
	if res.LowConfidence() {
		ux.Warning("Graph was rebuilt from node names only; links may be incomplete")
	}
}
