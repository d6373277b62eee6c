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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianChat/services/chatbot/datatypes"
)

var ollamaTracer = otel.Tracer("aleutian.llm.ollama")

// OllamaClient is the local-model backend via Ollama's /api/chat endpoint.
// Tool calling requires an Ollama build and model that support tools;
// models without tool support simply answer in text.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// Ollama API request/response structures. Tool-call arguments arrive as a
// JSON object here, unlike OpenAI's string encoding.
type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Tools    []ollamaTool           `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

type ollamaChatResponse struct {
	Message   ollamaMessage `json:"message"`
	CreatedAt string        `json:"created_at"`
	Done      bool          `json:"done"`
}

// OllamaConfig configures the Ollama backend.
type OllamaConfig struct {
	// BaseURL is the Ollama server URL. Required.
	BaseURL string

	// Model is the model name. Defaults to llama3.1.
	Model string
}

// NewOllamaClient creates the Ollama chat backend.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("Ollama base URL not configured")
	}
	if cfg.Model == "" {
		slog.Warn("OLLAMA_MODEL not set, defaulting to llama3.1")
		cfg.Model = "llama3.1"
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", cfg.Model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		model:      cfg.Model,
	}, nil
}

// Chat implements the ChatClient interface.
func (o *OllamaClient) Chat(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (string, error) {

	result, err := o.ChatWithTools(ctx, messages, nil, params)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// ChatWithTools implements the ChatClient interface.
func (o *OllamaClient) ChatWithTools(ctx context.Context, messages []datatypes.Message,
	tools []datatypes.ToolDefinition, params GenerationParams) (*ChatResult, error) {

	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.ChatWithTools")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
		attribute.Int("llm.num_tools", len(tools)),
	)

	options := make(map[string]interface{})
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}

	payload := ollamaChatRequest{
		Model:    o.model,
		Messages: toOllamaMessages(messages),
		Stream:   false,
		Options:  options,
	}
	for _, def := range tools {
		payload.Tools = append(payload.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request to Ollama: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/chat",
		bytes.NewBuffer(reqBody))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create chat request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Ollama API call failed", "error", err)
		return nil, fmt.Errorf("Ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read response body from Ollama: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			var errResp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(respBody, &errResp); err == nil &&
				strings.Contains(errResp.Error, "model") &&
				strings.Contains(errResp.Error, "not found") {
				slog.Warn("Ollama model not found", "model", o.model)
				return nil, fmt.Errorf("model '%s' not found. Please run: 'ollama pull %s'",
					o.model, o.model)
			}
		}
		slog.Error("Ollama returned an error", "status_code", resp.StatusCode,
			"response", string(respBody))
		return nil, fmt.Errorf("Ollama failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var ollamaResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Failed to parse JSON response from Ollama", "error", err)
		return nil, fmt.Errorf("failed to parse Ollama response: %w", err)
	}

	result := &ChatResult{Content: ollamaResp.Message.Content}
	for i, call := range ollamaResp.Message.ToolCalls {
		// Ollama does not assign call IDs; synthesize stable ones so the
		// tool-result linkage survives the round trip.
		result.ToolCalls = append(result.ToolCalls, datatypes.ToolCall{
			ID:        fmt.Sprintf("ollama_call_%d", i),
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}

	slog.Debug("Received response from Ollama", "tool_calls", len(result.ToolCalls))
	return result, nil
}

func toOllamaMessages(messages []datatypes.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		msg := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, call := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ollamaToolCall{
				Function: ollamaFunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}
