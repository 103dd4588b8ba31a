// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator runs the kgstream HTTP service.
//
// Configuration is read from the file named by KGSTREAM_CONFIG, or
// ~/.kgstream/config.yaml, with KGSTREAM_* environment overrides.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/AleutianAI/kgstream/pkg/config"
	"github.com/AleutianAI/kgstream/pkg/logging"
	"github.com/AleutianAI/kgstream/services/orchestrator"
)

func main() {
	cfg, err := config.Load(os.Getenv("KGSTREAM_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "orchestrator",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	svc, err := orchestrator.New(cfg, orchestrator.WithLogger(logger.Slog()))
	if err != nil {
		logger.Error("failed to create orchestrator", "error", err)
		logger.Close()
		os.Exit(1)
	}

	if err := svc.Run(context.Background()); err != nil {
		logger.Error("orchestrator stopped", "error", err)
		logger.Close()
		os.Exit(1)
	}
}
