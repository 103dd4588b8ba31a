// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/kgstream/pkg/recovery"
	"github.com/AleutianAI/kgstream/services/chat"
	"github.com/AleutianAI/kgstream/services/knowledge"
	"github.com/AleutianAI/kgstream/services/orchestrator/handlers"
	"github.com/AleutianAI/kgstream/services/orchestrator/middleware"
	"github.com/AleutianAI/kgstream/services/orchestrator/observability"
	"github.com/AleutianAI/kgstream/services/research"
)

// Dependencies is everything the routes serve from.
type Dependencies struct {
	Chat      *chat.Service
	Knowledge *knowledge.Service
	Research  *research.Service
	Pipeline  *recovery.Pipeline

	Guard   handlers.ContentGuard
	Metrics *observability.StreamingMetrics

	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer

	// Auth guards /v1; nil leaves it open.
	Auth middleware.AuthProvider

	// Limiter throttles /v1; nil disables limiting.
	Limiter *middleware.RateLimiter

	Model string
	Mode  string
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/health", handlers.HandleHealth(deps.Model, deps.Mode))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/v1")
	if deps.Auth != nil {
		v1.Use(middleware.AuthMiddleware(deps.Auth))
	}
	if deps.Limiter != nil {
		v1.Use(middleware.RateLimit(deps.Limiter))
	}
	{
		chatGroup := v1.Group("/chat")
		{
			chatGroup.POST("/stream", handlers.HandleChatStream(deps.Chat, deps.Guard, deps.Metrics))
			chatGroup.GET("/ws", handlers.HandleChatWebSocket(deps.Chat, deps.Guard, deps.Metrics))
			chatGroup.POST("/title", handlers.HandleChatTitle(deps.Chat, deps.Guard))
		}

		graph := v1.Group("/graph")
		{
			graph.POST("/recover", handlers.HandleGraphRecover(deps.Pipeline, deps.Metrics))
			graph.POST("/suitability", handlers.HandleGraphSuitability(deps.Knowledge, deps.Guard))
			graph.POST("/generate", handlers.HandleGraphGenerate(deps.Knowledge, deps.Guard, deps.Metrics))
		}

		researchGroup := v1.Group("/research")
		{
			researchGroup.POST("/framework", handlers.HandleResearchFramework(deps.Research))
			researchGroup.POST("/fill", handlers.HandleResearchFill(deps.Research, deps.Metrics))
			researchGroup.POST("/optimize", handlers.HandleResearchOptimize(deps.Research, deps.Metrics))
		}
	}
}
