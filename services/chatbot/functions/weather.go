// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"github.com/AleutianAI/AleutianChat/services/chatbot/datatypes"
	"github.com/AleutianAI/AleutianChat/services/weather"
)

// WeatherFunctionName is the registered name of the weather lookup.
const WeatherFunctionName = "get_current_weather"

// weatherValidate validates decoded weather arguments.
var weatherValidate = validator.New()

// WeatherParams is the argument object the model must supply.
type WeatherParams struct {
	City string `json:"city" validate:"required" jsonschema:"description=The city name to get weather data for"`
}

// WeatherProvider is the slice of the weather client the handler needs.
type WeatherProvider interface {
	Current(ctx context.Context, city string) (*weather.Report, error)
}

// WeatherHandler answers get_current_weather requests via weatherapi.com.
type WeatherHandler struct {
	provider WeatherProvider
	def      datatypes.ToolDefinition
}

// NewWeatherHandler creates the weather handler backed by provider.
func NewWeatherHandler(provider WeatherProvider) *WeatherHandler {
	return &WeatherHandler{
		provider: provider,
		def: datatypes.ToolDefinition{
			Name:        WeatherFunctionName,
			Description: "Get current weather information for a specific city",
			Parameters:  paramSchema(&WeatherParams{}),
		},
	}
}

// paramSchema derives a JSON Schema object for a params struct. The schema
// is inlined (no $ref/$defs) because the chat-completions API expects a
// self-contained parameters object.
func paramSchema(params any) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return r.Reflect(params)
}

// Definition implements Handler.
func (h *WeatherHandler) Definition() datatypes.ToolDefinition {
	return h.def
}

// Call implements Handler.
//
// Malformed or incomplete arguments are reported as a *HandlerError: the
// schema is advisory to the model, so argument validation is the handler's
// job. An unknown city sets HandlerError.NotFound.
func (h *WeatherHandler) Call(ctx context.Context, arguments json.RawMessage) (string, error) {
	var params WeatherParams
	if err := json.Unmarshal(arguments, &params); err != nil {
		return "", &HandlerError{
			Function: WeatherFunctionName,
			Err:      fmt.Errorf("malformed arguments: %w", err),
		}
	}
	if err := weatherValidate.Struct(&params); err != nil {
		return "", &HandlerError{
			Function: WeatherFunctionName,
			Err:      fmt.Errorf("invalid arguments: %w", err),
		}
	}

	slog.Info("Fetching weather", "city", params.City)
	report, err := h.provider.Current(ctx, params.City)
	if err != nil {
		return "", &HandlerError{
			Function: WeatherFunctionName,
			NotFound: errors.Is(err, weather.ErrCityNotFound),
			Err:      err,
		}
	}

	result, err := json.Marshal(report)
	if err != nil {
		return "", &HandlerError{
			Function: WeatherFunctionName,
			Err:      fmt.Errorf("failed to serialize weather report: %w", err),
		}
	}
	return string(result), nil
}
