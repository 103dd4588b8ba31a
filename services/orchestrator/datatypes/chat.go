// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the request and response bodies of the
// orchestrator service.
package datatypes

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/kgstream/services/chat"
)

const (
	// MaxMessageContentBytes caps a single message.
	MaxMessageContentBytes = 32 * 1024

	// MaxMessagesPerRequest caps the history sent with a request.
	MaxMessagesPerRequest = 100

	// MaxDocumentBytes caps documents for grounded chat and graphs.
	MaxDocumentBytes = 512 * 1024
)

// ErrValidation wraps every request validation failure.
var ErrValidation = errors.New("invalid request")

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = validate.RegisterValidation("maxdocbytes", validateMaxDocBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

func validateMaxDocBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxDocumentBytes
}

// check runs struct validation and reports the first failing field.
func check(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrValidation, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func generateUUID() string {
	return uuid.New().String()
}

// Message is one turn of the conversation shown to the user.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant thinking"`
	Content string `json:"content" validate:"maxbytes"`
	Pending bool   `json:"pending,omitempty"`
}

// ChatStreamRequest is the body of POST /v1/chat/stream and the first
// frame of a /v1/chat/ws connection.
//
// With Document set, the reply is grounded on the document and History
// is ignored.
type ChatStreamRequest struct {
	RequestID string    `json:"request_id" validate:"omitempty,uuid4"`
	Message   string    `json:"message" validate:"required,maxbytes"`
	History   []Message `json:"history,omitempty" validate:"max=100,dive"`
	Document  string    `json:"document,omitempty" validate:"maxdocbytes"`
}

// Validate checks the request.
func (r *ChatStreamRequest) Validate() error {
	return check(r)
}

// EnsureDefaults assigns a request id when the client sent none.
func (r *ChatStreamRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = generateUUID()
	}
}

// Turns converts the history for the chat service.
func (r *ChatStreamRequest) Turns() []chat.Turn {
	turns := make([]chat.Turn, len(r.History))
	for i, m := range r.History {
		turns[i] = chat.Turn{Role: m.Role, Content: m.Content, Pending: m.Pending}
	}
	return turns
}

// TitleRequest is the body of POST /v1/chat/title.
type TitleRequest struct {
	Message string `json:"message" validate:"required,maxbytes"`
}

func (r *TitleRequest) Validate() error {
	return check(r)
}

// TitleResponse carries a conversation title.
type TitleResponse struct {
	Title string `json:"title"`
}

// ErrorResponse is the body of every failed non-streamed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// NewErrorResponse builds an ErrorResponse; details may be nil.
func NewErrorResponse(message string, details error) ErrorResponse {
	resp := ErrorResponse{Error: message}
	if details != nil {
		resp.Details = details.Error()
	}
	return resp
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Model     string `json:"model"`
	Mode      string `json:"mode"`
	Timestamp int64  `json:"timestamp"`
}

// NewHealthResponse stamps the current time.
func NewHealthResponse(model, mode string) HealthResponse {
	return HealthResponse{Status: "ok", Model: model, Mode: mode, Timestamp: time.Now().UnixMilli()}
}
