// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/kgstream/pkg/config"
	"github.com/AleutianAI/kgstream/pkg/secrets"
	"github.com/AleutianAI/kgstream/pkg/stream"
)

var tracer = otel.Tracer("kgstream.llm.openai")

// ErrNoChoices is returned when the provider answers without a choice.
var ErrNoChoices = errors.New("completion returned no choices")

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint.
// Every request carries the key from a sealed secrets.APIKey, injected by
// the HTTP transport so the plaintext key is never stored on the client.
type OpenAIClient struct {
	client      *openai.Client
	httpClient  *http.Client
	baseURL     string
	upstream    config.UpstreamConfig
	mode        string
	session     stream.SessionConfig
	sessionOpts []stream.SessionOption
	logger      *slog.Logger
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithHTTPClient sets the base HTTP client. Its transport is wrapped to
// add authorization.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAIClient) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithSessionOptions adds options to every streaming session, e.g. a
// metrics sink or a fake clock.
func WithSessionOptions(opts ...stream.SessionOption) OpenAIOption {
	return func(o *OpenAIClient) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) OpenAIOption {
	return func(o *OpenAIClient) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOpenAIClient builds a client from the upstream and stream sections
// of the configuration.
func NewOpenAIClient(cfg config.Config, key *secrets.APIKey, opts ...OpenAIOption) (*OpenAIClient, error) {
	if key == nil {
		return nil, secrets.ErrNoKey
	}
	session := cfg.Stream.SessionConfig()
	if err := session.Validate(); err != nil {
		return nil, err
	}

	o := &OpenAIClient{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.Upstream.BaseURL, "/"),
		upstream:   cfg.Upstream,
		mode:       cfg.Stream.Mode,
		session:    session,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	base := headerTimeout(o.httpClient.Transport, cfg.Upstream.Timeout)
	authed := *o.httpClient
	authed.Transport = &keyTransport{base: base, key: key}
	o.httpClient = &authed

	// The token is left empty: keyTransport sets the header per request.
	oc := openai.DefaultConfig("")
	oc.BaseURL = o.baseURL
	oc.HTTPClient = o.httpClient
	o.client = openai.NewClientWithConfig(oc)

	o.logger.Info("Initializing OpenAI-compatible client",
		"base_url", oc.BaseURL,
		"model", cfg.Upstream.Model,
		"mode", o.mode,
		"api_key_present", true,
		"api_key_source", key.Source(),
	)
	return o, nil
}

// Complete implements Completer.
func (o *OpenAIClient) Complete(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	req := o.request(messages, params)

	ctx, span := tracer.Start(ctx, "OpenAIClient.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	content, err := o.complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("Completion failed", "model", req.Model, "error", err)
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.response_chars", len(content)))
	return content, nil
}

func (o *OpenAIClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	o.logger.Debug("Received completion", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// Stream implements Streamer. In stream mode the request is posted with
// stream enabled and the event stream is read incrementally; in buffered
// mode each attempt fetches one complete response which is then decoded
// the same way. Both run inside one stream.Session.
func (o *OpenAIClient) Stream(ctx context.Context, messages []Message, params GenerationParams) iter.Seq2[stream.Delta, error] {
	req := o.request(messages, params)

	var opener stream.Opener
	if o.mode == config.ModeBuffered {
		opener = o.bufferedOpener(req)
	} else {
		opener = o.streamOpener(req)
	}

	session := stream.NewSession(o.session, append([]stream.SessionOption{
		stream.WithLogger(o.logger),
	}, o.sessionOpts...)...)

	return func(yield func(stream.Delta, error) bool) {
		ctx, span := tracer.Start(ctx, "OpenAIClient.Stream")
		defer span.End()
		span.SetAttributes(
			attribute.String("llm.model", req.Model),
			attribute.String("llm.mode", o.mode),
			attribute.Int("llm.num_messages", len(messages)),
		)

		for delta, err := range session.Run(ctx, opener) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			if !yield(delta, err) {
				return
			}
		}
	}
}

func (o *OpenAIClient) streamOpener(req openai.ChatCompletionRequest) stream.Opener {
	req.Stream = true
	payload, err := json.Marshal(req)
	if err != nil {
		// ChatCompletionRequest only fails to marshal on an invalid
		// message, which cannot be retried into success.
		return stream.OpenerFunc(func(context.Context) (io.ReadCloser, error) {
			return nil, &stream.TransportError{Op: "encode request", Err: err}
		})
	}
	return stream.HTTPOpener{
		Client:     o.httpClient,
		NewRequest: stream.JSONRequest(o.baseURL+"/chat/completions", payload, nil),
	}
}

func (o *OpenAIClient) bufferedOpener(req openai.ChatCompletionRequest) stream.Opener {
	return stream.CompletionOpener(func(ctx context.Context) ([]byte, error) {
		ctx, cancel := o.withTimeout(ctx)
		defer cancel()
		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, &stream.TransportError{Op: "chat completion", Status: statusOf(err), Err: err}
		}
		return json.Marshal(resp)
	})
}

func (o *OpenAIClient) request(messages []Message, params GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       o.upstream.Model,
		Temperature: o.upstream.Temperature,
		MaxTokens:   o.upstream.MaxTokens,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	if params.Model != "" {
		req.Model = params.Model
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return req
}

// statusOf extracts the HTTP status from a go-openai error, if any.
func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// withTimeout bounds one whole buffered request.
func (o *OpenAIClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.upstream.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.upstream.Timeout)
}

// headerTimeout limits the wait for response headers on base. The body is
// not bounded, so a long event stream is never cut off mid-reply.
func headerTimeout(base http.RoundTripper, timeout time.Duration) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	t, ok := base.(*http.Transport)
	if !ok || timeout <= 0 || t.ResponseHeaderTimeout != 0 {
		return base
	}
	t = t.Clone()
	t.ResponseHeaderTimeout = timeout
	return t
}

// keyTransport sets the Authorization header from the sealed key on every
// request.
type keyTransport struct {
	base http.RoundTripper
	key  *secrets.APIKey
}

func (t *keyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	header, err := t.key.BearerHeader()
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", header)
	return t.base.RoundTrip(r)
}
