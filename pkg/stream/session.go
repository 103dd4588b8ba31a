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
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("kgstream.stream")

const defaultReadBufferSize = 4096

// =============================================================================
// Configuration
// =============================================================================

// SessionConfig controls the retry policy of a Session.
type SessionConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is multiplied by (attempt+1) to get the wait after a failed
	// attempt, giving linear backoff.
	BaseDelay time.Duration

	// ReadBufferSize is the size of each read from the transport body.
	ReadBufferSize int
}

// DefaultSessionConfig returns three attempts with a one second base delay.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		ReadBufferSize: defaultReadBufferSize,
	}
}

// Validate checks the configuration.
func (c SessionConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("%w: base delay must not be negative, got %s", ErrInvalidConfig, c.BaseDelay)
	}
	if c.ReadBufferSize < 0 {
		return fmt.Errorf("%w: read buffer size must not be negative, got %d", ErrInvalidConfig, c.ReadBufferSize)
	}
	return nil
}

// BackoffDelay returns the wait after failed attempt number attempt
// (zero-based).
func (c SessionConfig) BackoffDelay(attempt int) time.Duration {
	return c.BaseDelay * time.Duration(attempt+1)
}

// =============================================================================
// State
// =============================================================================

// State is a stage of one exchange.
//
//	Idle -> Attempting -> Streaming -> Completed
//	                               -> Failed -> Attempting | Exhausted
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateStreaming
	StateCompleted
	StateFailed
	StateExhausted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateExhausted
}

// RetryState is the retry bookkeeping of one exchange. It lives only for
// the duration of a Run.
type RetryState struct {
	Attempt     int
	MaxAttempts int
	LastError   error
}

// =============================================================================
// Delta
// =============================================================================

// Delta is one content increment of an exchange.
//
// FullContent is the concatenation of every Text delivered since the run
// started or since the last Reset. A Reset delta carries no text: it tells
// the consumer that the previous attempt failed after emitting content and
// everything received so far must be discarded.
type Delta struct {
	Text        string
	FullContent string
	Attempt     int
	Reset       bool
}

// =============================================================================
// Session
// =============================================================================

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSink sets the anomaly sink. The default logs through the session
// logger.
func WithSink(sink Sink) SessionOption {
	return func(s *Session) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithClock replaces the backoff clock.
func WithClock(clock Clock) SessionOption {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStateObserver registers a callback invoked on every state
// transition. It runs on the consumer's goroutine and must not block.
func WithStateObserver(fn func(state State, retry RetryState)) SessionOption {
	return func(s *Session) {
		s.observer = fn
	}
}

// Session runs logical exchanges with bounded retries.
//
// # Description
//
// A Session holds configuration only. Every Run creates a fresh
// RetryState, framer and accumulation, so one Session may serve many
// concurrent runs.
//
// # Failure policy
//
// Any error from Opener.Open, a body read error or a provider error
// envelope fails the attempt. When attempts remain the session waits
// BackoffDelay(attempt) and re-issues the exchange from scratch. After the
// last permitted attempt the sequence ends with an *ExhaustedError carrying
// the final attempt's error. Cancellation of ctx is terminal and never
// retried.
//
// # Limitations
//
// The session does not time out a body that stays open without sending
// data; request timeouts belong to the Opener.
type Session struct {
	config   SessionConfig
	sink     Sink
	clock    Clock
	logger   *slog.Logger
	observer func(State, RetryState)
}

// NewSession creates a session. Zero or negative MaxAttempts and
// ReadBufferSize fall back to the defaults.
func NewSession(config SessionConfig, opts ...SessionOption) *Session {
	defaults := DefaultSessionConfig()
	if config.MaxAttempts < 1 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = defaults.ReadBufferSize
	}
	if config.BaseDelay < 0 {
		config.BaseDelay = 0
	}

	s := &Session{
		config: config,
		clock:  SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sink == nil {
		s.sink = LogSink{Logger: s.logger}
	}
	return s
}

// Config returns the effective configuration.
func (s *Session) Config() SessionConfig {
	return s.config
}

// Run starts a new exchange and returns its delta sequence.
//
// # Outputs
//
// The sequence yields (delta, nil) for content and at most one trailing
// (Delta{}, err) where err is an *ExhaustedError or the context error. A
// sequence that ends without an error completed successfully.
//
// # Cancellation
//
// Breaking out of the range loop closes the current body and stops the
// retry loop, including a pending backoff wait.
func (s *Session) Run(ctx context.Context, opener Opener) iter.Seq2[Delta, error] {
	return func(yield func(Delta, error) bool) {
		ctx, span := tracer.Start(ctx, "stream.Session.Run",
			trace.WithAttributes(
				attribute.Int("stream.max_attempts", s.config.MaxAttempts),
				attribute.Int64("stream.base_delay_ms", s.config.BaseDelay.Milliseconds()),
			),
		)
		defer span.End()

		retry := RetryState{MaxAttempts: s.config.MaxAttempts}
		s.transition(StateIdle, retry)

		for {
			s.transition(StateAttempting, retry)
			out := s.attempt(ctx, opener, retry, yield)

			if out.stopped {
				span.SetAttributes(attribute.Bool("stream.abandoned", true))
				return
			}
			if out.err == nil {
				s.transition(StateCompleted, retry)
				span.SetAttributes(
					attribute.Int("stream.attempts", retry.Attempt+1),
					attribute.Int("stream.deltas", out.emitted),
				)
				return
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				span.RecordError(ctxErr)
				span.SetStatus(codes.Error, "cancelled")
				yield(Delta{}, ctxErr)
				return
			}

			retry.LastError = out.err
			s.transition(StateFailed, retry)
			s.sink.Report(KindAttemptFailed,
				fmt.Sprintf("attempt %d/%d: %v", retry.Attempt+1, retry.MaxAttempts, out.err))
			span.AddEvent("attempt_failed", trace.WithAttributes(
				attribute.Int("stream.attempt", retry.Attempt),
				attribute.String("error", out.err.Error()),
			))

			if retry.Attempt >= retry.MaxAttempts-1 {
				s.transition(StateExhausted, retry)
				exhausted := &ExhaustedError{Attempts: retry.Attempt + 1, LastErr: retry.LastError}
				s.sink.Report(KindExchangeExhausted, exhausted.Error())
				span.RecordError(exhausted)
				span.SetStatus(codes.Error, "exchange exhausted")
				yield(Delta{}, exhausted)
				return
			}

			if out.emitted > 0 {
				if !yield(Delta{Reset: true, Attempt: retry.Attempt + 1}, nil) {
					return
				}
			}

			delay := s.config.BackoffDelay(retry.Attempt)
			s.sink.Report(KindRetryScheduled,
				fmt.Sprintf("attempt %d/%d in %s", retry.Attempt+2, retry.MaxAttempts, delay))
			if err := s.clock.Sleep(ctx, delay); err != nil {
				span.RecordError(err)
				yield(Delta{}, err)
				return
			}
			retry.Attempt++
		}
	}
}

// attemptOutcome summarises one attempt.
type attemptOutcome struct {
	emitted int
	stopped bool
	err     error
}

// attempt opens the exchange once and drives framer and decoder over the
// body until the sentinel, EOF, a failure or consumer abandonment.
func (s *Session) attempt(ctx context.Context, opener Opener, retry RetryState, yield func(Delta, error) bool) attemptOutcome {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := opener.Open(attemptCtx)
	if err != nil {
		return attemptOutcome{err: err}
	}
	defer body.Close()
	s.transition(StateStreaming, retry)

	var (
		framer  = NewLineFramer()
		decoder = NewDecoder(s.sink)
		full    strings.Builder
		out     attemptOutcome
	)

	// consume returns true once the attempt is finished.
	consume := func(lines []string) bool {
		for _, line := range lines {
			ev := decoder.Decode(line)
			switch ev.Kind {
			case EventData:
				if ev.Text == "" {
					continue
				}
				full.WriteString(ev.Text)
				out.emitted++
				delta := Delta{Text: ev.Text, FullContent: full.String(), Attempt: retry.Attempt}
				if !yield(delta, nil) {
					out.stopped = true
					return true
				}
			case EventDone:
				return true
			case EventFault:
				out.err = &TransportError{Op: "upstream envelope", Err: errors.New(ev.Detail)}
				return true
			}
		}
		return false
	}

	buf := make([]byte, s.config.ReadBufferSize)
	for {
		if err := attemptCtx.Err(); err != nil {
			out.err = err
			return out
		}
		n, readErr := body.Read(buf)
		if n > 0 && consume(framer.Feed(buf[:n])) {
			return out
		}
		if errors.Is(readErr, io.EOF) {
			consume(framer.Flush())
			return out
		}
		if readErr != nil {
			out.err = &TransportError{Op: "read body", Err: readErr}
			return out
		}
	}
}

func (s *Session) transition(state State, retry RetryState) {
	s.logger.Debug("stream state",
		"state", state.String(),
		"attempt", retry.Attempt,
		"max_attempts", retry.MaxAttempts,
	)
	if s.observer != nil {
		s.observer(state, retry)
	}
}
