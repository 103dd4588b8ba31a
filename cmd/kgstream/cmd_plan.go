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
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kgstream/pkg/recovery"
	"github.com/AleutianAI/kgstream/pkg/ux"
	"github.com/AleutianAI/kgstream/services/research"
)

type planOptions struct {
	params         research.Params
	graphPath      string
	allowSensitive bool
}

func newPlanCmd(a *app) *cobra.Command {
	opts := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Draft a research plan",
		Long: `Asks the model for a plan outline, then fills every section. The plan is
printed on stdout as Markdown. A knowledge graph from "kgstream graph" can be
passed with --graph to ground the outline.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, a, opts)
		},
	}
	cmd.Flags().StringVar(&opts.params.Topic, "topic", "", "Research topic")
	cmd.Flags().StringVar(&opts.params.Objective, "objective", "", "Research objective")
	cmd.Flags().StringSliceVar(&opts.params.Keywords, "keyword", nil, "Keyword (repeatable)")
	cmd.Flags().StringVar(&opts.params.Background, "background", "", "Background notes")
	cmd.Flags().StringVar(&opts.params.TemplateType, "template", "",
		"Plan template: experimental, survey or case-study")
	cmd.Flags().StringVar(&opts.graphPath, "graph", "", "Graph document to ground the outline")
	cmd.Flags().BoolVar(&opts.allowSensitive, "allow-sensitive", false,
		"Send text even if it matches a blocking content rule")
	return cmd
}

func runPlan(cmd *cobra.Command, a *app, opts *planOptions) error {
	params := opts.params
	if err := params.Validate(); err != nil {
		return err
	}
	if err := a.screen(opts.allowSensitive, params.Topic, params.Objective, params.Background); err != nil {
		return err
	}

	pipeline := a.pipeline()
	var graph *recovery.Document
	if opts.graphPath != "" {
		text, err := readInput(cmd, opts.graphPath)
		if err != nil {
			return err
		}
		doc := pipeline.Recover(text).Document
		graph = &doc
	}

	client, err := a.client()
	if err != nil {
		return err
	}

	var (
		mu     sync.Mutex
		failed = make(map[string]error)
		spin   *ux.Spinner
	)
	svc := research.NewService(client, pipeline,
		research.WithLogger(a.logger.Slog()),
		research.WithProgress(func(section research.Section, err error) {
			if err != nil && !errors.Is(err, context.Canceled) {
				mu.Lock()
				failed[section.Title] = err
				mu.Unlock()
			}
			if spin != nil {
				spin.Step()
			}
		}))

	ctx := cmd.Context()
	var framework research.Framework
	_ = ux.WithSpinner("Drafting outline", func() error {
		framework = svc.GenerateFramework(ctx, params, graph)
		return nil
	})
	if framework.Fallback {
		reason := framework.Error
		if reason == "" {
			reason = "the model's outline could not be read"
		}
		ux.Warning(fmt.Sprintf("Using the default outline: %s", reason))
	}

	spin = ux.NewSpinner("Filling sections").WithTotal(len(framework.Sections))
	spin.Start()
	plan, err := svc.Fill(ctx, framework, params)
	spin.Stop()

	for _, section := range framework.Sections {
		switch sectionErr, ok := failed[section.Title]; {
		case ok:
			ux.SectionStatus(section.Title, ux.IconError, sectionErr.Error())
		case err != nil:
			ux.SectionStatus(section.Title, ux.IconPending, "not filled")
		default:
			ux.SectionStatus(section.Title, ux.IconSuccess, "")
		}
	}
	if err != nil {
		ux.Error(fmt.Sprintf("Plan failed: %v", err))
		return errors.Join(errReported, err)
	}

	_, err = fmt.Fprint(cmd.OutOrStdout(), plan.Markdown())
	return err
}
