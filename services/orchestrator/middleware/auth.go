// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator
// service: bearer token authentication and per-client rate limiting.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/kgstream/pkg/secrets"
	"github.com/AleutianAI/kgstream/services/orchestrator/datatypes"
)

// ErrUnauthorized is returned by providers for a missing or wrong token.
var ErrUnauthorized = errors.New("unauthorized")

// authInfoKey is the gin context key for the caller identity.
const authInfoKey = "kgstream_auth_info"

// AuthInfo identifies the caller of a request.
type AuthInfo struct {
	Subject string
	Method  string
}

// AuthProvider validates bearer tokens. Implementations must be safe for
// concurrent use.
type AuthProvider interface {
	Validate(token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every request as the local user. It is used
// when no server token is configured.
type NopAuthProvider struct{}

func (NopAuthProvider) Validate(string) (*AuthInfo, error) {
	return &AuthInfo{Subject: "local-user", Method: "none"}, nil
}

// TokenAuthProvider accepts one shared token held in guarded memory.
type TokenAuthProvider struct {
	Token *secrets.APIKey
}

func (p TokenAuthProvider) Validate(token string) (*AuthInfo, error) {
	if !p.Token.Matches(token) {
		return nil, ErrUnauthorized
	}
	return &AuthInfo{Subject: "token-holder", Method: "bearer"}, nil
}

// SetAuthInfo stores the caller identity for downstream handlers.
func SetAuthInfo(c *gin.Context, info *AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the caller identity, or nil before AuthMiddleware.
func GetAuthInfo(c *gin.Context) *AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// AuthMiddleware rejects requests whose bearer token the provider does
// not accept.
func AuthMiddleware(provider AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo, err := provider.Validate(extractBearerToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.ErrorResponse{Error: "unauthorized"})
			return
		}
		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// extractBearerToken reads "Authorization: Bearer <token>"; the scheme is
// case-insensitive. Browsers cannot set headers on websocket upgrades, so
// a token query parameter is accepted on those.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query("token")
	}
	return ""
}
