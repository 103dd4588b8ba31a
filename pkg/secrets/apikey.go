// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets holds upstream credentials in guarded memory.
//
// Keys are sealed in a memguard Enclave: encrypted at rest in process
// memory and only decrypted into an mlocked buffer for the moment they are
// needed to build a request header.
package secrets

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrNoKey is returned when neither the environment variable nor the
// secret file provides a key.
var ErrNoKey = errors.New("api key not configured")

var catchOnce sync.Once

// APIKey is a sealed API key. The zero value is not usable; use NewAPIKey
// or LoadAPIKey.
type APIKey struct {
	enclave *memguard.Enclave
	source  string
}

// NewAPIKey seals raw and wipes it. source describes where the key came
// from for logging ("env:NAME" or "file:/path").
func NewAPIKey(raw []byte, source string) (*APIKey, error) {
	catchOnce.Do(memguard.CatchInterrupt)

	trimmed := []byte(strings.TrimSpace(string(raw)))
	memguard.WipeBytes(raw)
	if len(trimmed) == 0 {
		return nil, ErrNoKey
	}
	return &APIKey{
		enclave: memguard.NewEnclave(trimmed),
		source:  source,
	}, nil
}

// LoadAPIKey reads the key from envVar, falling back to secretPath.
// Either may be empty to skip that source.
func LoadAPIKey(envVar, secretPath string) (*APIKey, error) {
	if envVar != "" {
		if v, ok := os.LookupEnv(envVar); ok && strings.TrimSpace(v) != "" {
			slog.Debug("read api key from environment", "variable", envVar)
			return NewAPIKey([]byte(v), "env:"+envVar)
		}
	}
	if secretPath != "" {
		raw, err := os.ReadFile(secretPath)
		if err == nil {
			slog.Debug("read api key from secret file", "path", secretPath)
			return NewAPIKey(raw, "file:"+secretPath)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read secret file %s: %w", secretPath, err)
		}
	}
	return nil, fmt.Errorf("%w: set %s or provide %s", ErrNoKey, envVar, secretPath)
}

// Source reports where the key was loaded from.
func (k *APIKey) Source() string {
	return k.source
}

// Reveal decrypts the key and returns a copy. The decrypted buffer is
// destroyed before returning; the copy lives on the Go heap for as long as
// the caller keeps it.
func (k *APIKey) Reveal() (string, error) {
	if k == nil || k.enclave == nil {
		return "", ErrNoKey
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// Matches compares candidate with the key in constant time without
// copying the key out of the enclave.
func (k *APIKey) Matches(candidate string) bool {
	if k == nil || k.enclave == nil || candidate == "" {
		return false
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return false
	}
	defer buf.Destroy()
	return subtle.ConstantTimeCompare(buf.Bytes(), []byte(candidate)) == 1
}

// BearerHeader returns "Bearer <key>".
func (k *APIKey) BearerHeader() (string, error) {
	key, err := k.Reveal()
	if err != nil {
		return "", err
	}
	return "Bearer " + key, nil
}
