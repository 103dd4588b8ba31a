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
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kgstream/pkg/config"
	"github.com/AleutianAI/kgstream/pkg/logging"
	"github.com/AleutianAI/kgstream/pkg/recovery"
	"github.com/AleutianAI/kgstream/pkg/secrets"
	"github.com/AleutianAI/kgstream/pkg/stream"
	"github.com/AleutianAI/kgstream/pkg/ux"
	"github.com/AleutianAI/kgstream/services/llm"
	"github.com/AleutianAI/kgstream/services/policy_engine"
)

// errReported marks a failure that was already shown to the user.
var errReported = errors.New("already reported")

// clientFactory builds the upstream client for a loaded config.
type clientFactory func(cfg config.Config, logger *slog.Logger) (llm.Client, error)

// app is the state shared by every subcommand of one invocation.
type app struct {
	configPath  string
	logLevel    string
	personality string

	cfg    *config.Config
	logger *logging.Logger
	guard  *policy_engine.PolicyEngine

	newClient clientFactory
}

func newApp() *app {
	return &app{newClient: openAIClient}
}

func openAIClient(cfg config.Config, logger *slog.Logger) (llm.Client, error) {
	key, err := secrets.LoadAPIKey(cfg.Upstream.APIKeyEnv, cfg.Upstream.APIKeyFile)
	if err != nil {
		return nil, err
	}
	client, err := llm.NewOpenAIClient(cfg, key,
		llm.WithLogger(logger),
		llm.WithSessionOptions(
			stream.WithSink(stream.LogSink{Logger: logger}),
			stream.WithLogger(logger),
		))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "kgstream",
		Short: "Stream chat replies and build knowledge graphs from an LLM",
		Long: `kgstream talks to an OpenAI-compatible chat completion API. Replies are
streamed with automatic retries, and model output that should be JSON is
recovered into a valid knowledge graph document.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "",
		"Config file (default ~/.kgstream/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"Log level: debug, info, warn or error (overrides the config file)")
	root.PersistentFlags().StringVar(&a.personality, "personality", "",
		"Output style: full, standard, minimal, or machine (scripting)")

	root.AddCommand(
		newChatCmd(a),
		newRecoverCmd(a),
		newGraphCmd(a),
		newPlanCmd(a),
		newTitleCmd(a),
		newCheckCmd(a),
	)
	return root
}

// setup loads config and logging. Status output goes to stderr so that
// stdout carries only replies and documents.
func (a *app) setup(cmd *cobra.Command) error {
	ux.InitPersonality(a.personality)
	ux.SetOutput(cmd.ErrOrStderr(), cmd.ErrOrStderr())

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	levelName := cfg.Logging.Level
	if a.logLevel != "" {
		levelName = a.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}

	guard, err := policy_engine.NewPolicyEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	a.cfg = cfg
	a.guard = guard
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "cli",
		JSON:    cfg.Logging.JSON,
		Writer:  cmd.ErrOrStderr(),
	})
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		a.logger.Close()
	}
}

func (a *app) client() (llm.Client, error) {
	return a.newClient(*a.cfg, a.logger.Slog())
}

func (a *app) pipeline() *recovery.Pipeline {
	opts := a.cfg.Recovery.Options()
	opts.Logger = a.logger.Slog()
	return recovery.NewPipeline(opts)
}

// screen checks outbound text against the content rules. Blocking
// findings stop the command unless allow is set.
func (a *app) screen(allow bool, texts ...string) error {
	for _, text := range texts {
		if text == "" {
			continue
		}
		findings, err := a.guard.Check(text)
		for _, f := range findings {
			if f.Action == policy_engine.ActionWarn {
				a.logger.Warn("outbound text matched a content rule",
					"pattern", f.PatternId, "line", f.LineNumber)
			}
		}
		if err == nil {
			continue
		}
		if allow {
			ux.Warning("Sending content that matched a blocking rule (--allow-sensitive)")
			continue
		}
		return fmt.Errorf("%w; rerun with --allow-sensitive to send it anyway", err)
	}
	return nil
}

// readInput reads path, or stdin when path is empty or "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

func argOrEmpty(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
