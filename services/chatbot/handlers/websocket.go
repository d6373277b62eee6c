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
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianChat/services/chatbot/config"
	"github.com/AleutianAI/AleutianChat/services/chatbot/datatypes"
	"github.com/AleutianAI/AleutianChat/services/chatbot/functions"
	"github.com/AleutianAI/AleutianChat/services/chatbot/observability"
	"github.com/AleutianAI/AleutianChat/services/chatbot/session"
	"github.com/AleutianAI/AleutianChat/services/llm"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// Inbound frames past this rate get a polite slow-down reply instead of a
// chat turn. Generous for a human, tight for a script.
const (
	inboundRatePerSecond = 1
	inboundBurst         = 4
)

const (
	tooFastReply    = "You're sending messages faster than I can answer. Give me a moment and try again."
	tooLongReply    = "That message is too long for me to handle. Could you shorten it?"
	sessionEndReply = "This conversation has grown too long for me to keep track of. Please refresh to start a new one."
)

// ChatDeps wires the collaborators of the WebSocket chat endpoint.
type ChatDeps struct {
	LLM         llm.ChatClient
	Registry    *functions.Registry
	Personas    *config.PersonaStore
	Metrics     *observability.ChatMetrics
	Params      llm.GenerationParams
	TurnTimeout time.Duration
}

// HandleChatWebSocket upgrades the connection and runs the chat loop.
//
// Frames carry raw text in both directions: one user message in, one
// assistant reply out, ordering implicit in frame order. Each connection
// owns one session; when the connection drops, the history goes with it.
// AI and function failures become reply text; only transport failures end
// the loop.
func HandleChatWebSocket(deps ChatDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sess, err := session.New(session.Config{
			LLM:          deps.LLM,
			Registry:     deps.Registry,
			SystemPrompt: deps.Personas.SystemPrompt,
			Params:       deps.Params,
			Metrics:      deps.Metrics,
		})
		if err != nil {
			slog.Error("Failed to create chat session", "error", err)
			return
		}
		slog.Info("Websocket client connected", "session_id", sess.ID())

		if deps.Metrics != nil {
			deps.Metrics.ActiveSessions.Inc()
			defer deps.Metrics.ActiveSessions.Dec()
		}

		if greeting := deps.Personas.Current().Greeting; greeting != "" {
			if !writeText(ws, deps, greeting) {
				return
			}
		}

		limiter := rate.NewLimiter(inboundRatePerSecond, inboundBurst)

		for {
			messageType, payload, err := ws.ReadMessage()
			if err != nil {
				logDisconnect(sess.ID(), err, deps)
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}

			userText := strings.TrimSpace(string(payload))
			if userText == "" {
				continue
			}
			slog.Info("Received message", "session_id", sess.ID(), "bytes", len(payload))

			if !limiter.Allow() {
				if !writeText(ws, deps, tooFastReply) {
					return
				}
				continue
			}

			inbound := datatypes.Message{Role: datatypes.RoleUser, Content: userText}
			if err := inbound.Validate(); err != nil {
				slog.Warn("Rejected oversized or invalid message",
					"session_id", sess.ID(), "error", err)
				if !writeText(ws, deps, tooLongReply) {
					return
				}
				continue
			}

			reply := runTurn(c, sess, deps, userText)
			if !writeText(ws, deps, reply) {
				return
			}
		}
	}
}

// runTurn executes one session turn under the configured timeout and maps
// session errors to user-visible text.
func runTurn(c *gin.Context, sess *session.Session, deps ChatDeps, userText string) string {
	ctx := c.Request.Context()
	if deps.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deps.TurnTimeout)
		defer cancel()
	}

	reply, err := sess.Turn(ctx, userText)
	switch {
	case err == nil:
		return reply
	case errors.Is(err, session.ErrHistoryFull):
		return sessionEndReply
	default:
		slog.Error("Chat turn failed", "session_id", sess.ID(), "error", err)
		return session.FallbackReply
	}
}

// writeText sends one text frame; false means the transport is gone.
func writeText(ws *websocket.Conn, deps ChatDeps, text string) bool {
	if err := ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		slog.Warn("Failed to write WebSocket frame", "error", err)
		if deps.Metrics != nil {
			deps.Metrics.TransportErrorsTotal.Inc()
		}
		return false
	}
	return true
}

func logDisconnect(sessionID string, err error, deps ChatDeps) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		slog.Info("Websocket client disconnected", "session_id", sessionID)
		return
	}
	slog.Info("Websocket read failed, closing session",
		"session_id", sessionID, "error", err.Error())
	if deps.Metrics != nil {
		deps.Metrics.TransportErrorsTotal.Inc()
	}
}
