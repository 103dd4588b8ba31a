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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 512

// =============================================================================
// Opener
// =============================================================================

// Opener issues one attempt of an exchange and returns its body.
//
// Open is called once per attempt, so implementations must rebuild any
// request state (bodies, readers) on every call. The returned body is
// closed by the session. An error from Open is a failed attempt.
type Opener interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (io.ReadCloser, error)

// Open calls f(ctx).
func (f OpenerFunc) Open(ctx context.Context) (io.ReadCloser, error) { return f(ctx) }

// HTTPOpener opens a streaming HTTP response.
//
// # Description
//
// NewRequest builds a fresh request bound to ctx for every attempt. A
// response outside 2xx is closed and returned as a *TransportError with
// the status and a bounded body excerpt. The request context aborts reads
// on the returned body when the caller cancels.
type HTTPOpener struct {
	Client     *http.Client
	NewRequest func(ctx context.Context) (*http.Request, error)
}

// Open performs the request.
func (o HTTPOpener) Open(ctx context.Context) (io.ReadCloser, error) {
	if o.NewRequest == nil {
		return nil, &TransportError{Op: "build request", Err: fmt.Errorf("no request builder")}
	}
	req, err := o.NewRequest(ctx)
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}

	op := req.Method + " " + req.URL.Redacted()
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &TransportError{
			Op:     op,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	return resp.Body, nil
}

// JSONRequest returns a request builder posting payload to url with the
// given headers. The payload is re-read for every attempt.
func JSONRequest(url string, payload []byte, header http.Header) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		return req, nil
	}
}

// BufferedOpener adapts a single complete response that already follows
// the streaming wire convention, such as a proxy that captures the whole
// event stream before replying.
func BufferedOpener(fetch func(ctx context.Context) (string, error)) Opener {
	return OpenerFunc(func(ctx context.Context) (io.ReadCloser, error) {
		text, err := fetch(ctx)
		if err != nil {
			return nil, asTransportError("fetch buffered response", err)
		}
		return io.NopCloser(strings.NewReader(text)), nil
	})
}

// CompletionOpener adapts a single non-streamed completion body. The body
// is compacted onto one data line and followed by the sentinel, so it
// decodes through the same path as a live stream. A body that is not
// valid JSON fails the attempt.
func CompletionOpener(fetch func(ctx context.Context) ([]byte, error)) Opener {
	return OpenerFunc(func(ctx context.Context) (io.ReadCloser, error) {
		raw, err := fetch(ctx)
		if err != nil {
			return nil, asTransportError("fetch completion", err)
		}

		var framed bytes.Buffer
		framed.Grow(len(raw) + 32)
		framed.WriteString(dataPrefix + " ")
		if err := json.Compact(&framed, raw); err != nil {
			return nil, &TransportError{Op: "decode completion envelope", Err: err}
		}
		framed.WriteString("\n\n")
		framed.WriteString(doneSpaced)
		framed.WriteString("\n")
		return io.NopCloser(&framed), nil
	})
}

// =============================================================================
// Clock
// =============================================================================

// Clock is the delay primitive used for backoff and pacing.
type Clock interface {
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock sleeps on real timers.
type SystemClock struct{}

// Sleep waits for d or ctx.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	_ Opener = OpenerFunc(nil)
	_ Opener = HTTPOpener{}
	_ Clock  = SystemClock{}
)
