// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package functions provides the function router for model-requested
// function calls.
//
// The router is a flat name-to-handler table, fixed at construction. When
// the model emits a function-call request, the session layer dispatches it
// here by exact name match. Two failure classes are kept distinct:
// ErrUnknownFunction for names outside the table (deterministic, never
// retried) and HandlerError for failures inside a handler's own logic.
//
// # Thread Safety
//
// Registry is immutable after NewRegistry and safe for concurrent use.
package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianChat/services/chatbot/datatypes"
)

// Handler executes one callable function on behalf of the model.
//
// Implementations must be safe for concurrent use: one Handler instance
// serves every session.
type Handler interface {
	// Definition returns the descriptor offered to the model.
	Definition() datatypes.ToolDefinition

	// Call runs the function with the model-provided argument object.
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout
	//   arguments - Raw JSON argument object from the model
	//
	// Outputs:
	//   string - Result serialized for the conversation (JSON)
	//   error - Non-nil if the call failed; malformed arguments included
	Call(ctx context.Context, arguments json.RawMessage) (string, error)
}

// Registry is the static function-routing table.
type Registry struct {
	handlers map[string]Handler
	defs     []datatypes.ToolDefinition
}

// NewRegistry builds a registry from the given handlers. The table is fixed
// afterwards; there is no runtime registration.
//
// Duplicate names are a programming error and cause an error return so a
// misconfigured service fails at startup instead of shadowing a handler.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{
		handlers: make(map[string]Handler, len(handlers)),
		defs:     make([]datatypes.ToolDefinition, 0, len(handlers)),
	}
	for _, h := range handlers {
		def := h.Definition()
		if def.Name == "" {
			return nil, fmt.Errorf("handler %T has an empty function name", h)
		}
		if _, exists := r.handlers[def.Name]; exists {
			return nil, fmt.Errorf("duplicate function name %q", def.Name)
		}
		r.handlers[def.Name] = h
		r.defs = append(r.defs, def)
	}
	return r, nil
}

// Definitions returns the descriptors of every registered function, in
// registration order. The returned slice must not be modified.
func (r *Registry) Definitions() []datatypes.ToolDefinition {
	return r.defs
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	return len(r.handlers)
}

// Dispatch routes a function-call request to its handler.
//
// # Description
//
// Looks up the handler by exact name and invokes it with the provided
// arguments. An unregistered name returns ErrUnknownFunction wrapped with
// the name; handler failures propagate as *HandlerError.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - name: Function name from the model's request.
//   - arguments: Raw JSON argument object from the model's request.
//
// # Outputs
//
//   - string: The handler's serialized result.
//   - error: ErrUnknownFunction, *HandlerError, or nil.
func (r *Registry) Dispatch(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	handler, ok := r.handlers[name]
	if !ok {
		slog.Error("Model requested an unregistered function", "function", name)
		return "", fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}

	result, err := handler.Call(ctx, arguments)
	if err != nil {
		var handlerErr *HandlerError
		if errors.As(err, &handlerErr) {
			return "", err
		}
		return "", &HandlerError{Function: name, Err: err}
	}
	return result, nil
}
