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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianChat/services/chatbot/datatypes"
)

// fakeOllama serves /api/chat with a fixed response and records the last
// request body.
func fakeOllama(t *testing.T, response ollamaChatResponse) (*httptest.Server, *[]byte) {
	t.Helper()
	var lastBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		lastBody = body
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &lastBody
}

func TestNewOllamaClient_RequiresBaseURL(t *testing.T) {
	_, err := NewOllamaClient(OllamaConfig{})
	assert.Error(t, err)
}

func TestOllamaClient_PlainReply(t *testing.T) {
	srv, _ := fakeOllama(t, ollamaChatResponse{
		Message: ollamaMessage{Role: "assistant", Content: "hello"},
		Done:    true,
	})

	client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "llama3.1"})
	require.NoError(t, err)

	result, err := client.ChatWithTools(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "hi"},
	}, nil, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Content)
	assert.Empty(t, result.ToolCalls)
}

func TestOllamaClient_SendsTools(t *testing.T) {
	srv, lastBody := fakeOllama(t, ollamaChatResponse{
		Message: ollamaMessage{Role: "assistant", Content: "ok"},
		Done:    true,
	})

	client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "llama3.1"})
	require.NoError(t, err)

	tools := []datatypes.ToolDefinition{{
		Name:        "get_current_weather",
		Description: "Get current weather information for a specific city",
	}}
	_, err = client.ChatWithTools(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "weather in Boston?"},
	}, tools, GenerationParams{})
	require.NoError(t, err)

	var req ollamaChatRequest
	require.NoError(t, json.Unmarshal(*lastBody, &req))
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "function", req.Tools[0].Type)
	assert.Equal(t, "get_current_weather", req.Tools[0].Function.Name)
	assert.False(t, req.Stream)
}

func TestOllamaClient_ParsesToolCalls(t *testing.T) {
	srv, _ := fakeOllama(t, ollamaChatResponse{
		Message: ollamaMessage{
			Role: "assistant",
			ToolCalls: []ollamaToolCall{{
				Function: ollamaFunctionCall{
					Name:      "get_current_weather",
					Arguments: json.RawMessage(`{"city":"Boston"}`),
				},
			}},
		},
		Done: true,
	})

	client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "llama3.1"})
	require.NoError(t, err)

	result, err := client.ChatWithTools(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "weather in Boston?"},
	}, nil, GenerationParams{})
	require.NoError(t, err)

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "ollama_call_0", result.ToolCalls[0].ID)
	assert.Equal(t, "get_current_weather", result.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Boston"}`, string(result.ToolCalls[0].Arguments))
}

func TestOllamaClient_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'nope' not found"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "nope"})
	require.NoError(t, err)

	_, err = client.ChatWithTools(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "hi"},
	}, nil, GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull")
}
