// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session implements the per-connection chat session handler.
//
// A Session owns one conversation history for the lifetime of one WebSocket
// connection. Each user turn runs the request/response loop against the AI
// service: if the model answers with text the turn is done; if it requests
// function calls they are dispatched through the function router, the
// results are appended as tool entries, and the model is re-queried.
// Chained calls are handled identically up to MaxFunctionRounds.
//
// # Concurrency
//
// A Session is owned by its connection's read loop and is NOT safe for
// concurrent use. Histories are never shared between sessions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianChat/services/chatbot/datatypes"
	"github.com/AleutianAI/AleutianChat/services/chatbot/functions"
	"github.com/AleutianAI/AleutianChat/services/chatbot/observability"
	"github.com/AleutianAI/AleutianChat/services/llm"
)

var tracer = otel.Tracer("aleutian.chatbot.session")

// MaxFunctionRounds caps function-call round trips within one user turn.
// One round is the common case; the cap only guards against a model that
// keeps requesting calls without converging on an answer.
const MaxFunctionRounds = 5

// State is the session's position in the turn state machine.
type State int

const (
	// StateIdle: waiting for user input.
	StateIdle State = iota

	// StateAwaitingAIReply: a request is out to the AI service.
	StateAwaitingAIReply

	// StateAwaitingFunctionResult: the AI requested a function call and
	// the router is executing it.
	StateAwaitingFunctionResult
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAIReply:
		return "awaiting_ai_reply"
	case StateAwaitingFunctionResult:
		return "awaiting_function_result"
	default:
		return "unknown"
	}
}

// ErrHistoryFull is returned when a session's history has reached
// datatypes.MaxHistoryMessages. The session should be closed.
var ErrHistoryFull = errors.New("conversation history full")

// Canned replies for failures that must not close the connection.
const (
	// FallbackReply is sent when the AI service itself fails.
	FallbackReply = "I apologize, but I'm having trouble processing your request. Could you please try again?"

	// UnknownFunctionReply is sent when the model requests a function
	// that is not in the router's table.
	UnknownFunctionReply = "I tried to use a capability I don't currently have. Could you rephrase your question?"

	// RoundLimitReply is sent when the model exceeds MaxFunctionRounds.
	RoundLimitReply = "I wasn't able to finish looking that up. Could you try asking again?"
)

// Config wires a Session's collaborators.
type Config struct {
	// LLM is the AI service backend. Required.
	LLM llm.ChatClient

	// Registry is the function router. Required; may be empty (the
	// generic bot registers no functions).
	Registry *functions.Registry

	// SystemPrompt returns the system prompt for the next request. It is
	// a function so persona hot-reloads take effect mid-session.
	SystemPrompt func() string

	// Params are the sampling parameters for every request.
	Params llm.GenerationParams

	// Metrics is optional; nil disables instrumentation.
	Metrics *observability.ChatMetrics
}

// Session is one connection's conversation state.
type Session struct {
	id      string
	cfg     Config
	history []datatypes.Message
	state   State
}

// New creates a session with a fresh UUID and empty history.
func New(cfg Config) (*Session, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("session requires an LLM client")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("session requires a function registry")
	}
	return &Session{
		id:    uuid.New().String(),
		cfg:   cfg,
		state: StateIdle,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state-machine position.
func (s *Session) State() State { return s.state }

// History returns a copy of the conversation history.
func (s *Session) History() []datatypes.Message {
	out := make([]datatypes.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Turn runs one user turn to completion and returns the assistant's reply.
//
// # Description
//
// Appends the user text to history, queries the AI service with the
// router's function descriptors, dispatches any requested function calls,
// and loops until the model produces text. Recoverable failures (lookup
// errors, round-limit) are converted into user-visible replies with a nil
// error; handler failures are fed back to the model as error results so it
// can phrase the apology itself. A non-nil error means the AI service
// failed or the session is no longer usable; the caller decides whether to
// keep the connection.
//
// # Inputs
//
//   - ctx: Context bounding all external calls for this turn.
//   - userText: Raw user input.
//
// # Outputs
//
//   - string: Assistant reply to deliver to the client.
//   - error: ErrHistoryFull, or a wrapped AI-service failure.
func (s *Session) Turn(ctx context.Context, userText string) (string, error) {
	ctx, span := tracer.Start(ctx, "Session.Turn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.id))

	if len(s.history) >= datatypes.MaxHistoryMessages {
		s.countTurn(observability.StatusLimitExceeded)
		return "", ErrHistoryFull
	}

	s.state = StateAwaitingAIReply
	defer func() { s.state = StateIdle }()

	s.history = append(s.history, datatypes.Message{
		Role:    datatypes.RoleUser,
		Content: userText,
	})

	for round := 0; ; round++ {
		result, err := s.queryLLM(ctx)
		if err != nil {
			s.countTurn(observability.StatusLLMError)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}

		if len(result.ToolCalls) == 0 {
			s.history = append(s.history, datatypes.Message{
				Role:    datatypes.RoleAssistant,
				Content: result.Content,
			})
			s.countTurn(observability.StatusSuccess)
			return result.Content, nil
		}

		if round >= MaxFunctionRounds {
			slog.Warn("Function-call round limit reached", "session_id", s.id)
			s.history = append(s.history, datatypes.Message{
				Role:    datatypes.RoleAssistant,
				Content: RoundLimitReply,
			})
			s.countTurn(observability.StatusLimitExceeded)
			return RoundLimitReply, nil
		}

		// Record the model's request before the results so the transcript
		// replays cleanly on the next query.
		s.history = append(s.history, datatypes.Message{
			Role:      datatypes.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		s.state = StateAwaitingFunctionResult
		reply, done := s.dispatchCalls(ctx, result.ToolCalls)
		if done {
			return reply, nil
		}
		s.state = StateAwaitingAIReply
	}
}

// queryLLM sends the current transcript, with the system prompt prepended,
// to the AI service.
func (s *Session) queryLLM(ctx context.Context) (*llm.ChatResult, error) {
	messages := make([]datatypes.Message, 0, len(s.history)+1)
	if s.cfg.SystemPrompt != nil {
		if prompt := s.cfg.SystemPrompt(); prompt != "" {
			messages = append(messages, datatypes.Message{
				Role:    datatypes.RoleSystem,
				Content: prompt,
			})
		}
	}
	messages = append(messages, s.history...)

	start := time.Now()
	defer func() {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.LLMRequestSeconds.Observe(time.Since(start).Seconds())
		}
	}()

	// With no registered functions there is nothing to offer the model;
	// use the plain chat path.
	defs := s.cfg.Registry.Definitions()
	if len(defs) == 0 {
		content, err := s.cfg.LLM.Chat(ctx, messages, s.cfg.Params)
		if err != nil {
			return nil, err
		}
		return &llm.ChatResult{Content: content}, nil
	}
	return s.cfg.LLM.ChatWithTools(ctx, messages, defs, s.cfg.Params)
}

// dispatchCalls routes every requested call through the registry and
// appends the results as tool entries. A lookup error short-circuits the
// turn with a canned reply (done=true); handler errors become error-shaped
// tool results for the model to explain.
//
// Every call in the batch gets a tool entry even on the short-circuit
// path: the chat-completions API rejects a transcript whose assistant
// tool_calls entry is not answered by one tool message per call ID, so a
// dangling call would poison every later turn of the session.
func (s *Session) dispatchCalls(ctx context.Context, calls []datatypes.ToolCall) (string, bool) {
	for i, call := range calls {
		start := time.Now()
		output, err := s.cfg.Registry.Dispatch(ctx, call.Name, call.Arguments)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.FunctionCallSeconds.WithLabelValues(call.Name).
				Observe(time.Since(start).Seconds())
		}

		switch {
		case err == nil:
			s.countCall(call.Name, observability.StatusSuccess)

		case errors.Is(err, functions.ErrUnknownFunction):
			// Deterministic, never retried. The model cannot fix this
			// mid-turn, so answer the user directly.
			slog.Error("Lookup error during dispatch", "session_id", s.id,
				"function", call.Name, "error", err)
			s.countCall(call.Name, observability.StatusLookupError)
			s.history = append(s.history, datatypes.Message{
				Role:       datatypes.RoleTool,
				ToolCallID: call.ID,
				Content:    handlerErrorResult(err),
			})
			s.closeSkippedCalls(calls[i+1:])
			s.history = append(s.history, datatypes.Message{
				Role:    datatypes.RoleAssistant,
				Content: UnknownFunctionReply,
			})
			s.countTurn(observability.StatusLookupError)
			return UnknownFunctionReply, true

		default:
			slog.Warn("Function handler failed", "session_id", s.id,
				"function", call.Name, "error", err)
			s.countCall(call.Name, observability.StatusHandlerError)
			output = handlerErrorResult(err)
		}

		s.history = append(s.history, datatypes.Message{
			Role:       datatypes.RoleTool,
			ToolCallID: call.ID,
			Content:    output,
		})
	}
	return "", false
}

// closeSkippedCalls appends a not-executed tool result for calls left in
// a batch after a lookup error ended the turn, keeping one tool entry per
// requested call ID.
func (s *Session) closeSkippedCalls(calls []datatypes.ToolCall) {
	for _, call := range calls {
		s.history = append(s.history, datatypes.Message{
			Role:       datatypes.RoleTool,
			ToolCallID: call.ID,
			Content:    `{"error": "call was not executed"}`,
		})
	}
}

// handlerErrorResult shapes a handler failure as a tool result. The model
// sees the error and phrases the user-facing apology, matching the
// behavior users expect from the weather bot ("I couldn't find weather
// for that city").
func handlerErrorResult(err error) string {
	msg := fmt.Sprintf("the request failed: %v", err)
	var handlerErr *functions.HandlerError
	if errors.As(err, &handlerErr) && handlerErr.NotFound {
		msg = fmt.Sprintf("not found: %v", handlerErr.Err)
	}
	result, marshalErr := json.Marshal(map[string]string{"error": msg})
	if marshalErr != nil {
		return `{"error": "the request failed"}`
	}
	return string(result)
}

func (s *Session) countTurn(status string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.TurnsTotal.WithLabelValues(status).Inc()
	}
}

func (s *Session) countCall(name, status string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.FunctionCallsTotal.WithLabelValues(name, status).Inc()
	}
}
