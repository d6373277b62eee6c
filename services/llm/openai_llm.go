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
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianChat/services/chatbot/datatypes"
)

var openaiTracer = otel.Tracer("aleutian.llm.openai")

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Required.
	APIKey string

	// Model is the chat model name. Defaults to gpt-4o-mini.
	Model string

	// BaseURL overrides the API endpoint. Used by tests and
	// OpenAI-compatible gateways. Empty uses the public API.
	BaseURL string
}

type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates the OpenAI chat backend.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	slog.Info("Initializing OpenAI client", "model", cfg.Model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

// Chat implements the ChatClient interface.
func (o *OpenAIClient) Chat(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (string, error) {

	result, err := o.ChatWithTools(ctx, messages, nil, params)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// ChatWithTools implements the ChatClient interface.
func (o *OpenAIClient) ChatWithTools(ctx context.Context, messages []datatypes.Message,
	tools []datatypes.ToolDefinition, params GenerationParams) (*ChatResult, error) {

	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.ChatWithTools")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
		attribute.Int("llm.num_tools", len(tools)),
	)

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: toOpenAIMessages(messages),
	}
	if len(tools) > 0 {
		req.Tools = toOpenAITools(tools)
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	slog.Debug("Calling OpenAI chat completion", "model", o.model, "tools", len(tools))
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI API call failed", "error", err)
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	choice := resp.Choices[0]
	result := &ChatResult{Content: choice.Message.Content}
	for _, call := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, datatypes.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}

	slog.Debug("Received response from OpenAI",
		"finish_reason", choice.FinishReason, "tool_calls", len(result.ToolCalls))
	span.SetAttributes(attribute.Int("llm.tool_calls", len(result.ToolCalls)))
	return result, nil
}

// toOpenAIMessages converts conversation entries to the wire format,
// carrying tool calls and tool-result linkage through unchanged.
func toOpenAIMessages(messages []datatypes.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []datatypes.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, def := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}
