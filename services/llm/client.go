// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides clients for conversational LLM backends.
//
// Every backend implements ChatClient: plain chat plus tool-enabled chat
// where the model may answer with structured function-call requests instead
// of text. The session layer treats backends interchangeably.
package llm

import (
	"context"

	"github.com/AleutianAI/AleutianChat/services/chatbot/datatypes"
)

// GenerationParams holds sampling parameters shared by all backends.
// Nil fields use the backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// ChatResult is one model response: either final text or a set of
// function-call requests (never both populated in practice, though the
// OpenAI API permits content alongside tool calls).
type ChatResult struct {
	Content   string
	ToolCalls []datatypes.ToolCall
}

// ChatClient defines the standard interface for any LLM backend.
type ChatClient interface {
	// Chat sends a conversation and returns the model's text reply.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatWithTools sends a conversation together with callable-function
	// descriptors. The model may reply with text or with tool calls; the
	// caller is responsible for executing calls and re-querying.
	ChatWithTools(ctx context.Context, messages []datatypes.Message,
		tools []datatypes.ToolDefinition, params GenerationParams) (*ChatResult, error)
}
