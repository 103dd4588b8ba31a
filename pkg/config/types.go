// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads kgstream configuration from YAML with environment
// overrides.
//
// Resolution order, later wins:
//
//  1. Built-in defaults (Default)
//  2. ~/.kgstream/config.yaml, created with defaults on first run, or the
//     file passed to Load
//  3. KGSTREAM_* environment variables
//
// API keys never live in the file. The file names the environment variable
// and the secret file to read the key from.
package config

import (
	"time"

	"github.com/AleutianAI/kgstream/pkg/recovery"
	"github.com/AleutianAI/kgstream/pkg/stream"
)

// Stream modes.
const (
	ModeStream   = "stream"
	ModeBuffered = "buffered"
)

// Config is the root configuration.
type Config struct {
	Upstream UpstreamConfig `yaml:"upstream"`
	Stream   StreamConfig   `yaml:"stream"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// UpstreamConfig describes the OpenAI-compatible completion service.
type UpstreamConfig struct {
	BaseURL     string        `yaml:"base_url" validate:"required,url"`
	Model       string        `yaml:"model" validate:"required"`
	Temperature float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" validate:"gte=0"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`

	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `yaml:"api_key_env" validate:"required"`

	// APIKeyFile is read when the variable is unset, e.g. a container
	// secret mount.
	APIKeyFile string `yaml:"api_key_file"`

	// MaxDocumentRunes truncates documents before they are put in a
	// prompt. Zero disables truncation.
	MaxDocumentRunes int `yaml:"max_document_runes" validate:"gte=0"`
}

// StreamConfig controls exchanges with the upstream service.
type StreamConfig struct {
	Mode           string        `yaml:"mode" validate:"oneof=stream buffered"`
	MaxAttempts    int           `yaml:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay      time.Duration `yaml:"base_delay" validate:"gte=0"`
	Pacing         bool          `yaml:"pacing"`
	PacingInterval time.Duration `yaml:"pacing_interval" validate:"gte=0"`
	ReadBufferSize int           `yaml:"read_buffer_size" validate:"gte=0"`
}

// SessionConfig converts to the stream package configuration.
func (s StreamConfig) SessionConfig() stream.SessionConfig {
	return stream.SessionConfig{
		MaxAttempts:    s.MaxAttempts,
		BaseDelay:      s.BaseDelay,
		ReadBufferSize: s.ReadBufferSize,
	}
}

// RecoveryConfig controls structured graph recovery.
type RecoveryConfig struct {
	MaxExtractedNodes   int    `yaml:"max_extracted_nodes" validate:"gte=1,lte=500"`
	PlaceholderCategory string `yaml:"placeholder_category" validate:"required"`
}

// Options converts to the recovery package options.
func (r RecoveryConfig) Options() recovery.Options {
	return recovery.Options{
		MaxExtractedNodes:   r.MaxExtractedNodes,
		PlaceholderCategory: r.PlaceholderCategory,
	}
}

// ServerConfig controls the HTTP orchestrator.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gte=1,lte=65535"`
	RateLimit       float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst       int           `yaml:"rate_burst" validate:"gte=0"`
	OTLPEndpoint    string        `yaml:"otlp_endpoint"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// AuthTokenEnv names the variable holding the bearer token clients
	// must present. When the variable is unset the server is open.
	AuthTokenEnv string `yaml:"auth_token_env"`
}

// LoggingConfig controls pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Upstream: UpstreamConfig{
			BaseURL:          "https://api.moonshot.cn/v1",
			Model:            "moonshot-v1-32k",
			Temperature:      0.7,
			MaxTokens:        4096,
			Timeout:          2 * time.Minute,
			APIKeyEnv:        "KGSTREAM_API_KEY",
			APIKeyFile:       "/run/secrets/kgstream_api_key",
			MaxDocumentRunes: 20000,
		},
		Stream: StreamConfig{
			Mode:           ModeStream,
			MaxAttempts:    3,
			BaseDelay:      time.Second,
			Pacing:         true,
			PacingInterval: stream.DefaultPacingInterval,
			ReadBufferSize: 4096,
		},
		Recovery: RecoveryConfig{
			MaxExtractedNodes:   recovery.DefaultMaxExtractedNodes,
			PlaceholderCategory: recovery.DefaultPlaceholderCategory,
		},
		Server: ServerConfig{
			Port:            12210,
			RateLimit:       5,
			RateBurst:       10,
			ShutdownTimeout: 10 * time.Second,
			AuthTokenEnv:    "KGSTREAM_SERVER_TOKEN",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaultFile is written on first run. It must stay equivalent to Default.
const defaultFile = `# kgstream configuration
upstream:
  base_url: https://api.moonshot.cn/v1
  model: moonshot-v1-32k
  temperature: 0.7
  max_tokens: 4096
  timeout: 2m
  # The key is read from this variable, then from api_key_file.
  api_key_env: KGSTREAM_API_KEY
  api_key_file: /run/secrets/kgstream_api_key
  max_document_runes: 20000

stream:
  # stream: server-sent events. buffered: one complete response per attempt.
  mode: stream
  max_attempts: 3
  base_delay: 1s
  pacing: true
  pacing_interval: 10ms
  read_buffer_size: 4096

recovery:
  max_extracted_nodes: 30
  placeholder_category: General

server:
  port: 12210
  rate_limit: 5
  rate_burst: 10
  otlp_endpoint: ""
  shutdown_timeout: 10s
  # Clients must send "Authorization: Bearer <token>" when this variable is set.
  auth_token_env: KGSTREAM_SERVER_TOKEN

logging:
  level: info
  json: false
  dir: ""
`
