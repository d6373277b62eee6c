// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianChat/services/chatbot/datatypes"
	"github.com/AleutianAI/AleutianChat/services/chatbot/functions"
	"github.com/AleutianAI/AleutianChat/services/llm"
)

// =============================================================================
// Test Doubles
// =============================================================================

// scriptedLLM replays a fixed sequence of responses, one per call.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResult
	err       error
	requests  [][]datatypes.Message
	params    []llm.GenerationParams
	chatCalls int
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []datatypes.Message,
	params llm.GenerationParams) (string, error) {
	s.mu.Lock()
	s.chatCalls++
	s.mu.Unlock()
	result, err := s.ChatWithTools(ctx, messages, nil, params)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func (s *scriptedLLM) ChatWithTools(ctx context.Context, messages []datatypes.Message,
	tools []datatypes.ToolDefinition, params llm.GenerationParams) (*llm.ChatResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, messages)
	s.params = append(s.params, params)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &llm.ChatResult{Content: "out of script"}, nil
	}
	result := s.responses[0]
	s.responses = s.responses[1:]
	return result, nil
}

// echoWeather is a stubbed weather function returning fixed values.
type echoWeather struct {
	result string
	err    error
}

func (e *echoWeather) Definition() datatypes.ToolDefinition {
	return datatypes.ToolDefinition{Name: "get_current_weather", Description: "stub"}
}

func (e *echoWeather) Call(ctx context.Context, arguments json.RawMessage) (string, error) {
	return e.result, e.err
}

func textReply(content string) *llm.ChatResult {
	return &llm.ChatResult{Content: content}
}

func weatherCall(city string) *llm.ChatResult {
	return &llm.ChatResult{ToolCalls: []datatypes.ToolCall{{
		ID:        "call_1",
		Name:      "get_current_weather",
		Arguments: json.RawMessage(fmt.Sprintf(`{"city":%q}`, city)),
	}}}
}

func newTestSession(t *testing.T, client llm.ChatClient, handlers ...functions.Handler) *Session {
	t.Helper()
	registry, err := functions.NewRegistry(handlers...)
	require.NoError(t, err)
	sess, err := New(Config{
		LLM:          client,
		Registry:     registry,
		SystemPrompt: func() string { return "You are a helpful weather assistant." },
	})
	require.NoError(t, err)
	return sess
}

// =============================================================================
// Turn Behavior
// =============================================================================

func TestTurn_PlainTextReply(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResult{textReply("Hello!")}}
	sess := newTestSession(t, client, &echoWeather{result: "{}"})

	reply, err := sess.Turn(context.Background(), "Hi there")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", reply)

	// Exactly one user and one assistant entry, no tool entries.
	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, datatypes.RoleUser, history[0].Role)
	assert.Equal(t, "Hi there", history[0].Content)
	assert.Equal(t, datatypes.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hello!", history[1].Content)
	assert.Equal(t, StateIdle, sess.State())
}

func TestTurn_SingleFunctionCall(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResult{
		weatherCall("Paris"),
		textReply("It is 15C in Paris with 60% humidity."),
	}}
	weather := &echoWeather{result: `{"temp_c": 15, "humidity": 60}`}
	sess := newTestSession(t, client, weather)

	reply, err := sess.Turn(context.Background(), "Weather in Paris?")
	require.NoError(t, err)

	// The final reply must incorporate the stubbed values.
	assert.Contains(t, reply, "15")
	assert.Contains(t, reply, "60")

	// History order: user, assistant(tool call), tool result, assistant.
	history := sess.History()
	require.Len(t, history, 4)
	assert.Equal(t, datatypes.RoleUser, history[0].Role)
	assert.Equal(t, datatypes.RoleAssistant, history[1].Role)
	require.Len(t, history[1].ToolCalls, 1)
	assert.Equal(t, datatypes.RoleTool, history[2].Role)
	assert.Equal(t, "call_1", history[2].ToolCallID)
	assert.JSONEq(t, `{"temp_c": 15, "humidity": 60}`, history[2].Content)
	assert.Equal(t, datatypes.RoleAssistant, history[3].Role)
}

func TestTurn_ToolResultReachesSecondQuery(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResult{
		weatherCall("Paris"),
		textReply("done"),
	}}
	sess := newTestSession(t, client, &echoWeather{result: `{"temp_c": 15}`})

	_, err := sess.Turn(context.Background(), "Weather in Paris?")
	require.NoError(t, err)

	require.Len(t, client.requests, 2)
	second := client.requests[1]
	last := second[len(second)-1]
	assert.Equal(t, datatypes.RoleTool, last.Role)
	assert.Contains(t, last.Content, "15")
}

func TestTurn_SystemPromptPrependedNotStored(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResult{textReply("ok")}}
	sess := newTestSession(t, client, &echoWeather{result: "{}"})

	_, err := sess.Turn(context.Background(), "Hi")
	require.NoError(t, err)

	require.Len(t, client.requests, 1)
	assert.Equal(t, datatypes.RoleSystem, client.requests[0][0].Role)

	for _, msg := range sess.History() {
		assert.NotEqual(t, datatypes.RoleSystem, msg.Role,
			"system prompt must not be stored in history")
	}
}

func TestTurn_ChainedFunctionCalls(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResult{
		weatherCall("Paris"),
		weatherCall("London"),
		textReply("Paris and London are both mild."),
	}}
	sess := newTestSession(t, client, &echoWeather{result: `{"temp_c": 12}`})

	reply, err := sess.Turn(context.Background(), "Compare Paris and London weather")
	require.NoError(t, err)
	assert.Equal(t, "Paris and London are both mild.", reply)

	// user + 2x(assistant call + tool result) + final assistant.
	assert.Len(t, sess.History(), 6)
}

func TestTurn_RoundLimitStopsRunawayCalls(t *testing.T) {
	var responses []*llm.ChatResult
	for i := 0; i < MaxFunctionRounds+2; i++ {
		responses = append(responses, weatherCall("Paris"))
	}
	client := &scriptedLLM{responses: responses}
	sess := newTestSession(t, client, &echoWeather{result: "{}"})

	reply, err := sess.Turn(context.Background(), "Weather?")
	require.NoError(t, err)
	assert.Equal(t, RoundLimitReply, reply)
	assert.Equal(t, StateIdle, sess.State())
}

// =============================================================================
// Error Handling
// =============================================================================

func TestTurn_HandlerErrorProducesGracefulReply(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResult{
		weatherCall("Atlantis"),
		textReply("I couldn't find weather for that city."),
	}}
	weather := &echoWeather{err: &functions.HandlerError{
		Function: "get_current_weather",
		NotFound: true,
		Err:      errors.New(`city not found: "Atlantis"`),
	}}
	sess := newTestSession(t, client, weather)

	reply, err := sess.Turn(context.Background(), "Weather in Atlantis?")
	require.NoError(t, err, "handler errors must not end the session")
	assert.Contains(t, reply, "couldn't find")

	// The error was fed back to the model as a tool result.
	require.Len(t, client.requests, 2)
	second := client.requests[1]
	last := second[len(second)-1]
	assert.Equal(t, datatypes.RoleTool, last.Role)
	assert.Contains(t, last.Content, "not found")
}

func TestTurn_UnknownFunctionIsGraceful(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResult{
		{ToolCalls: []datatypes.ToolCall{{
			ID:        "call_1",
			Name:      "launch_rockets",
			Arguments: json.RawMessage(`{}`),
		}}},
	}}
	sess := newTestSession(t, client, &echoWeather{result: "{}"})

	reply, err := sess.Turn(context.Background(), "Do something weird")
	require.NoError(t, err, "lookup errors must not end the session")
	assert.Equal(t, UnknownFunctionReply, reply)

	// No second LLM query: lookup errors are deterministic, not retried.
	assert.Len(t, client.requests, 1)

	history := sess.History()
	assert.Equal(t, datatypes.RoleAssistant, history[len(history)-1].Role)
	assertToolCallsAnswered(t, history)
}

// assertToolCallsAnswered walks the transcript and requires one tool entry
// per call ID behind every assistant tool-call entry, in order. The
// chat-completions API rejects transcripts that violate this, so a session
// that leaves a call dangling fails every turn after it.
func assertToolCallsAnswered(t *testing.T, history []datatypes.Message) {
	t.Helper()
	for i, msg := range history {
		if msg.Role != datatypes.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}
		for j, call := range msg.ToolCalls {
			idx := i + 1 + j
			require.Less(t, idx, len(history),
				"assistant entry %d: call %q has no tool result", i, call.ID)
			result := history[idx]
			assert.Equal(t, datatypes.RoleTool, result.Role,
				"assistant entry %d: expected a tool result at %d", i, idx)
			assert.Equal(t, call.ID, result.ToolCallID,
				"assistant entry %d: tool result order mismatch", i)
		}
	}
}

func TestTurn_UnknownFunctionKeepsTranscriptReplayable(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResult{
		{ToolCalls: []datatypes.ToolCall{{
			ID:        "call_1",
			Name:      "launch_rockets",
			Arguments: json.RawMessage(`{}`),
		}}},
		textReply("Back to normal."),
	}}
	sess := newTestSession(t, client, &echoWeather{result: "{}"})

	_, err := sess.Turn(context.Background(), "Do something weird")
	require.NoError(t, err)

	// The next turn replays the full transcript; it must carry a tool
	// result for the unregistered call.
	reply, err := sess.Turn(context.Background(), "Hello again")
	require.NoError(t, err)
	assert.Equal(t, "Back to normal.", reply)

	replayed := client.requests[len(client.requests)-1]
	assertToolCallsAnswered(t, replayed)
}

func TestTurn_UnknownFunctionMidBatchClosesAllCalls(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResult{
		{ToolCalls: []datatypes.ToolCall{
			{ID: "call_1", Name: "get_current_weather", Arguments: json.RawMessage(`{"city":"Paris"}`)},
			{ID: "call_2", Name: "launch_rockets", Arguments: json.RawMessage(`{}`)},
			{ID: "call_3", Name: "get_current_weather", Arguments: json.RawMessage(`{"city":"Oslo"}`)},
		}},
	}}
	sess := newTestSession(t, client, &echoWeather{result: `{"temp": 15}`})

	reply, err := sess.Turn(context.Background(), "Weather, then mischief")
	require.NoError(t, err)
	assert.Equal(t, UnknownFunctionReply, reply)

	history := sess.History()
	assertToolCallsAnswered(t, history)

	// call_3 was never dispatched; its entry says so.
	var third datatypes.Message
	for _, msg := range history {
		if msg.ToolCallID == "call_3" {
			third = msg
		}
	}
	require.Equal(t, datatypes.RoleTool, third.Role)
	assert.Contains(t, third.Content, "not executed")
}

func TestTurn_EmptyRegistryUsesPlainChat(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResult{textReply("Just chatting.")}}
	sess := newTestSession(t, client)

	reply, err := sess.Turn(context.Background(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, "Just chatting.", reply)
	assert.Equal(t, 1, client.chatCalls,
		"no registered functions means the plain chat path")
}

func TestTurn_SamplingParamsForwarded(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResult{textReply("ok")}}
	registry, err := functions.NewRegistry(&echoWeather{result: "{}"})
	require.NoError(t, err)

	temp := float32(0.2)
	maxTokens := 512
	sess, err := New(Config{
		LLM:      client,
		Registry: registry,
		Params:   llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens},
	})
	require.NoError(t, err)

	_, err = sess.Turn(context.Background(), "Hi")
	require.NoError(t, err)

	require.Len(t, client.params, 1)
	require.NotNil(t, client.params[0].Temperature)
	assert.InDelta(t, 0.2, *client.params[0].Temperature, 0.0001)
	require.NotNil(t, client.params[0].MaxTokens)
	assert.Equal(t, 512, *client.params[0].MaxTokens)
}

func TestTurn_LLMFailurePropagates(t *testing.T) {
	client := &scriptedLLM{err: errors.New("connection refused")}
	sess := newTestSession(t, client, &echoWeather{result: "{}"})

	_, err := sess.Turn(context.Background(), "Hi")
	require.Error(t, err)
	assert.Equal(t, StateIdle, sess.State())
}

func TestTurn_HistoryFull(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResult{textReply("ok")}}
	sess := newTestSession(t, client, &echoWeather{result: "{}"})
	for i := 0; i < datatypes.MaxHistoryMessages; i++ {
		sess.history = append(sess.history, datatypes.Message{
			Role: datatypes.RoleUser, Content: "filler",
		})
	}

	_, err := sess.Turn(context.Background(), "one more")
	assert.ErrorIs(t, err, ErrHistoryFull)
}

// =============================================================================
// Isolation
// =============================================================================

func TestSessions_HistoriesAreIsolated(t *testing.T) {
	clientA := &scriptedLLM{responses: []*llm.ChatResult{textReply("reply A")}}
	clientB := &scriptedLLM{responses: []*llm.ChatResult{textReply("reply B")}}
	sessA := newTestSession(t, clientA, &echoWeather{result: "{}"})
	sessB := newTestSession(t, clientB, &echoWeather{result: "{}"})

	assert.NotEqual(t, sessA.ID(), sessB.ID())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = sessA.Turn(context.Background(), "message for A")
	}()
	go func() {
		defer wg.Done()
		_, _ = sessB.Turn(context.Background(), "message for B")
	}()
	wg.Wait()

	for _, msg := range sessA.History() {
		assert.NotContains(t, msg.Content, "B")
	}
	for _, msg := range sessB.History() {
		assert.NotContains(t, msg.Content, "A")
	}
	assert.Len(t, sessA.History(), 2)
	assert.Len(t, sessB.History(), 2)
}

func TestHistory_ReturnsCopy(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResult{textReply("ok")}}
	sess := newTestSession(t, client, &echoWeather{result: "{}"})

	_, err := sess.Turn(context.Background(), "Hi")
	require.NoError(t, err)

	history := sess.History()
	history[0].Content = strings.ToUpper(history[0].Content)
	assert.Equal(t, "Hi", sess.History()[0].Content)
}
