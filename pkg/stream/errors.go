// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks connection, status and envelope failures of one
	// attempt. It triggers a retry.
	ErrTransport = errors.New("transport failure")

	// ErrExchangeExhausted is matched by *ExhaustedError.
	ErrExchangeExhausted = errors.New("exchange exhausted")

	// ErrInvalidConfig is returned by SessionConfig.Validate.
	ErrInvalidConfig = errors.New("invalid session config")
)

// TransportError describes one failed attempt.
//
// Status is the HTTP status for non-success responses and zero otherwise.
// Body holds a bounded excerpt of the response body when one was read.
type TransportError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": transport failure"
	}
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// Is reports ErrTransport so callers can classify without a type switch.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ExhaustedError terminates a Run whose every attempt failed.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("exchange exhausted after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("exchange exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap returns the error of the final attempt.
func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// Is reports ErrExchangeExhausted.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExchangeExhausted }

// asTransportError wraps err as a *TransportError unless it already is one.
func asTransportError(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
