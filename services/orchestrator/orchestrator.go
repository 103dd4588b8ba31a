// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the kgstream HTTP service together.
//
// The orchestrator owns the process-level concerns: configuration, the
// upstream API key, tracing, Prometheus registration, the content guard,
// authentication and rate limiting. Request handling lives in the handlers
// package; the services it calls live under services/.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(cfg, orchestrator.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/kgstream/pkg/config"
	"github.com/AleutianAI/kgstream/pkg/recovery"
	"github.com/AleutianAI/kgstream/pkg/secrets"
	"github.com/AleutianAI/kgstream/pkg/stream"
	"github.com/AleutianAI/kgstream/services/chat"
	"github.com/AleutianAI/kgstream/services/knowledge"
	"github.com/AleutianAI/kgstream/services/llm"
	"github.com/AleutianAI/kgstream/services/orchestrator/middleware"
	"github.com/AleutianAI/kgstream/services/orchestrator/observability"
	"github.com/AleutianAI/kgstream/services/orchestrator/routes"
	"github.com/AleutianAI/kgstream/services/policy_engine"
	"github.com/AleutianAI/kgstream/services/research"
)

const (
	serviceName = "kgstream-orchestrator"

	// stdoutTraceEnv enables pretty-printed spans on stdout when no OTLP
	// endpoint is configured.
	stdoutTraceEnv = "OTEL_STDOUT"

	defaultShutdownTimeout = 10 * time.Second
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle.
//
// Run blocks and should be called once per instance.
type Service interface {
	// Run serves HTTP until ctx is cancelled, SIGINT or SIGTERM arrives,
	// or the listener fails. In-flight requests get the configured
	// shutdown timeout to finish.
	Run(ctx context.Context) error

	// Router returns the configured gin engine.
	Router() *gin.Engine
}

// Option customizes New.
type Option func(*service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLLMClient replaces the upstream client. No API key is read when a
// client is supplied.
func WithLLMClient(client llm.Client) Option {
	return func(s *service) { s.llmClient = client }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *service) { s.registry = reg }
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config        config.Config
	logger        *slog.Logger
	registry      *prometheus.Registry
	metrics       *observability.StreamingMetrics
	llmClient     llm.Client
	router        *gin.Engine
	tracerCleanup func(context.Context)
}

// New builds the orchestrator from cfg.
//
// The upstream API key is read from cfg.Upstream.APIKeyEnv or
// cfg.Upstream.APIKeyFile unless WithLLMClient is given. /v1 requires a
// bearer token when the variable named by cfg.Server.AuthTokenEnv is set;
// otherwise it is open and a warning is logged.
func New(cfg *config.Config, opts ...Option) (Service, error) {
	if cfg == nil {
		return nil, errors.New("orchestrator: nil config")
	}
	s := &service{
		config: *cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = observability.NewStreamingMetrics(s.registry)

	cleanup, err := s.initTracer(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	guard, err := policy_engine.NewPolicyEngine()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	auth, err := s.initAuth()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	s.initRouter(guard, auth)
	return s, nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting orchestrator server",
			"port", s.config.Server.Port,
			"model", s.config.Upstream.Model,
			"mode", s.config.Stream.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.logger.Info("shutting down orchestrator server", "timeout", timeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// initTracer exports spans over OTLP/gRPC when an endpoint is configured
// and to stdout when OTEL_STDOUT=true. Otherwise the global no-op
// provider stays in place and the cleanup is nil.
func (s *service) initTracer(ctx context.Context) (func(context.Context), error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch {
	case s.config.Server.OTLPEndpoint != "":
		conn, dialErr := grpc.NewClient(s.config.Server.OTLPEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", dialErr)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	case os.Getenv(stdoutTraceEnv) == "true":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		s.logger.Debug("tracing disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

func (s *service) initLLMClient() error {
	if s.llmClient != nil {
		return nil
	}
	key, err := secrets.LoadAPIKey(s.config.Upstream.APIKeyEnv, s.config.Upstream.APIKeyFile)
	if err != nil {
		return err
	}
	sink := stream.Sinks(stream.LogSink{Logger: s.logger}, s.metrics.Sink())
	client, err := llm.NewOpenAIClient(s.config, key,
		llm.WithLogger(s.logger),
		llm.WithSessionOptions(
			stream.WithSink(sink),
			stream.WithLogger(s.logger),
			stream.WithStateObserver(s.metrics.StateObserver()),
		))
	if err != nil {
		return err
	}
	s.logger.Info("using upstream model",
		"base_url", s.config.Upstream.BaseURL,
		"model", s.config.Upstream.Model,
		"api_key_present", true,
		"api_key_source", key.Source())
	s.llmClient = client
	return nil
}

func (s *service) initAuth() (middleware.AuthProvider, error) {
	envVar := s.config.Server.AuthTokenEnv
	if envVar == "" {
		s.logger.Warn("server token disabled, /v1 is open")
		return middleware.NopAuthProvider{}, nil
	}
	token, err := secrets.LoadAPIKey(envVar, "")
	if errors.Is(err, secrets.ErrNoKey) {
		s.logger.Warn("server token not set, /v1 is open", "variable", envVar)
		return middleware.NopAuthProvider{}, nil
	}
	if err != nil {
		return nil, err
	}
	return middleware.TokenAuthProvider{Token: token}, nil
}

func (s *service) initRouter(guard *policy_engine.PolicyEngine, auth middleware.AuthProvider) {
	pipelineOpts := s.config.Recovery.Options()
	pipelineOpts.Logger = s.logger
	pipeline := recovery.NewPipeline(pipelineOpts)

	maxRunes := s.config.Upstream.MaxDocumentRunes

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, routes.Dependencies{
		Chat: chat.NewService(s.llmClient,
			chat.WithMaxDocumentRunes(maxRunes),
			chat.WithLogger(s.logger)),
		Knowledge: knowledge.NewService(s.llmClient, pipeline,
			knowledge.WithMaxDocumentRunes(maxRunes),
			knowledge.WithLogger(s.logger)),
		Research: research.NewService(s.llmClient, pipeline,
			research.WithLogger(s.logger)),
		Pipeline: pipeline,
		Guard:    guard,
		Metrics:  s.metrics,
		Gatherer: s.registry,
		Auth:     auth,
		Limiter:  middleware.NewRateLimiter(s.config.Server.RateLimit, s.config.Server.RateBurst),
		Model:    s.config.Upstream.Model,
		Mode:     s.config.Stream.Mode,
	})
}

func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}
