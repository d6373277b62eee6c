// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides shared data structures for the chatbot services.
//
// This file contains the conversation message types exchanged between the
// session layer, the LLM clients, and the function router. Tool-call types
// mirror the OpenAI chat-completions wire format so they round-trip through
// any OpenAI-compatible backend.
package datatypes

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Roles
// =============================================================================

const (
	// RoleSystem is the system-prompt role.
	RoleSystem = "system"

	// RoleUser is the end-user role.
	RoleUser = "user"

	// RoleAssistant is the model role.
	RoleAssistant = "assistant"

	// RoleTool is the function-result role. Tool messages must carry the
	// ToolCallID of the call they answer.
	RoleTool = "tool"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Checked as byte length, not rune count, to bound memory per frame.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxHistoryMessages is the maximum number of entries a session keeps.
	// A session that grows past this refuses further turns rather than
	// silently truncating context.
	MaxHistoryMessages = 200
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxMessageContentBytes on string fields.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Conversation Types
// =============================================================================

// Message is one entry of a conversation history.
//
// # Description
//
// Messages are owned by exactly one session and appended in turn order:
// user input, assistant replies, and tool results. An assistant message may
// carry ToolCalls instead of (or alongside) Content when the model requests
// a function invocation; the matching tool message echoes the call's ID in
// ToolCallID.
//
// # Fields
//
//   - Role: Required. One of system, user, assistant, tool.
//   - Content: Message text. Limited to 32KB.
//   - ToolCallID: Set only on tool messages; links the result to its call.
//   - ToolCalls: Set only on assistant messages that request functions.
type Message struct {
	Role       string     `json:"role" validate:"required,oneof=system user assistant tool"`
	Content    string     `json:"content" validate:"maxbytes"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Validate checks the message against the field constraints above.
func (m *Message) Validate() error {
	return chatValidate.Struct(m)
}

// ToolCall is a structured function-call request emitted by the model.
//
// Arguments is the raw JSON object produced by the model. It is decoded by
// the handler that owns the schema, not here; malformed arguments are the
// handler's error to report.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes one callable function offered to the model.
//
// Parameters holds a JSON Schema for the function's argument object. It is
// typed loosely so schema generation (invopop/jsonschema) and the OpenAI
// client's json.RawMessage parameters both fit without conversion layers.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}
