// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultDirName is created under the user's home directory.
	DefaultDirName = ".kgstream"

	// DefaultFileName is the config file inside DefaultDirName.
	DefaultFileName = "config.yaml"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// DefaultPath returns ~/.kgstream/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName, DefaultFileName), nil
}

// Load reads the configuration.
//
// An empty path loads DefaultPath, writing the default file first if it
// does not exist. An explicit path must exist. Environment overrides are
// applied after the file and the result is validated.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if explicit {
			return nil, fmt.Errorf("config file %s does not exist", path)
		}
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default, applies environment overrides and
// validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config: %w", err)
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultFile), 0640); err != nil {
		return fmt.Errorf("failed to write the default config: %w", err)
	}
	return nil
}

// =============================================================================
// Environment Overrides
// =============================================================================

type lookupFunc func(string) (string, bool)

// envOverride binds one variable to a setter.
type envOverride struct {
	name string
	set  func(*Config, string) error
}

var envOverrides = []envOverride{
	{"KGSTREAM_BASE_URL", func(c *Config, v string) error { c.Upstream.BaseURL = v; return nil }},
	{"KGSTREAM_MODEL", func(c *Config, v string) error { c.Upstream.Model = v; return nil }},
	{"KGSTREAM_STREAM_MODE", func(c *Config, v string) error { c.Stream.Mode = v; return nil }},
	{"KGSTREAM_MAX_ATTEMPTS", func(c *Config, v string) error { return setInt(&c.Stream.MaxAttempts, v) }},
	{"KGSTREAM_BASE_DELAY", func(c *Config, v string) error { return setDuration(&c.Stream.BaseDelay, v) }},
	{"KGSTREAM_PACING", func(c *Config, v string) error { return setBool(&c.Stream.Pacing, v) }},
	{"KGSTREAM_PORT", func(c *Config, v string) error { return setInt(&c.Server.Port, v) }},
	{"KGSTREAM_OTLP_ENDPOINT", func(c *Config, v string) error { c.Server.OTLPEndpoint = v; return nil }},
	{"KGSTREAM_LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
}

func applyEnv(cfg *Config, lookup lookupFunc) error {
	for _, o := range envOverrides {
		v, ok := lookup(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.set(cfg, v); err != nil {
			return fmt.Errorf("invalid %s: %w", o.name, err)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
