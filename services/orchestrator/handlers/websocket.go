// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/kgstream/pkg/stream"
	"github.com/AleutianAI/kgstream/services/chat"
	"github.com/AleutianAI/kgstream/services/orchestrator/datatypes"
	"github.com/AleutianAI/kgstream/services/orchestrator/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024 * 1024,
	WriteBufferSize: 64 * 1024,
}

const wsWriteWait = 10 * time.Second

// wsControl is a non-event frame: session announcements and request
// rejections.
type wsControl struct {
	Action    string `json:"action"`
	SessionId string `json:"session_id,omitempty"`
	RequestId string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Details   string `json:"details,omitempty"`
}

// wsWriter sends stream events as JSON text frames.
type wsWriter struct {
	conn  *websocket.Conn
	chain eventChain
	mu    *sync.Mutex
}

func (w *wsWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	event = w.chain.stamp(event)
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := w.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (w *wsWriter) WriteDelta(delta stream.Delta) error {
	return w.WriteEvent(deltaEvent(delta))
}

func (w *wsWriter) WriteReset(attempt int) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.EventReset, Attempt: attempt})
}

func (w *wsWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.EventError, Error: errMsg})
}

func (w *wsWriter) WriteDone(fullContent string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.EventDone, FullContent: fullContent})
}

func (w *wsWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

var _ EventWriter = (*wsWriter)(nil)

// sendJSON writes a control frame under the connection's write lock.
func sendJSON(conn *websocket.Conn, mu *sync.Mutex, v any) error {
	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err := conn.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleChatWebSocket serves GET /v1/chat/ws.
//
// The server announces a session id, then treats every text frame as a
// ChatStreamRequest and streams the reply as StreamEvent frames. Requests
// are answered one at a time in arrival order. Closing the connection
// cancels the reply in flight.
func HandleChatWebSocket(svc *chat.Service, guard ContentGuard,
	metrics *observability.StreamingMetrics) gin.HandlerFunc {

	const endpoint = observability.EndpointChatWS

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		sessionID := uuid.New().String()
		mu := &sync.Mutex{}
		slog.Info("Websocket session started", "sessionId", sessionID)
		if err := sendJSON(conn, mu, wsControl{Action: "session_created", SessionId: sessionID}); err != nil {
			return
		}

		requests := make(chan []byte)
		go func() {
			defer cancel()
			defer close(requests)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					slog.Info("Websocket client disconnected", "sessionId", sessionID, "error", err.Error())
					return
				}
				select {
				case requests <- data:
				case <-ctx.Done():
					return
				}
			}
		}()

		for data := range requests {
			var req datatypes.ChatStreamRequest
			if err := json.Unmarshal(data, &req); err != nil {
				metrics.RecordError(endpoint, observability.ErrorCodeValidation)
				if sendJSON(conn, mu, wsControl{Action: "rejected", Error: "invalid request body", Details: err.Error()}) != nil {
					return
				}
				continue
			}
			req.EnsureDefaults()
			if err := req.Validate(); err != nil {
				metrics.RecordError(endpoint, observability.ErrorCodeValidation)
				if sendJSON(conn, mu, wsControl{Action: "rejected", RequestId: req.RequestID,
					Error: "invalid request", Details: err.Error()}) != nil {
					return
				}
				continue
			}
			if err := screen(guard, req.RequestID, req.Message, req.Document); err != nil {
				metrics.RecordError(endpoint, observability.ErrorCodeValidation)
				if sendJSON(conn, mu, wsControl{Action: "rejected", RequestId: req.RequestID,
					Error: "content contains sensitive data", Details: blockedDetails(err)}) != nil {
					return
				}
				continue
			}

			seq := replySequence(ctx, svc, &req)
			writer := &wsWriter{conn: conn, chain: eventChain{requestID: req.RequestID}, mu: mu}
			if _, err := pumpReply(ctx, seq, writer, metrics, endpoint); err != nil && ctx.Err() != nil {
				return
			}
		}
	}
}
