// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads chatbot service configuration.
//
// Configuration is environment-driven with sensible defaults, plus an
// optional .env file for local development. Secrets (API keys) are read
// from the environment or a container secret file and held in memguard
// enclaves until a client actually needs them.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the non-secret settings shared by both chatbot services.
type Config struct {
	// Port is the HTTP listen port.
	Port string

	// LLMBackend selects the AI service: "openai" or "ollama".
	LLMBackend string

	// OpenAIModel is the chat model for the openai backend.
	OpenAIModel string

	// OpenAIBaseURL overrides the OpenAI endpoint (gateways, tests).
	OpenAIBaseURL string

	// OllamaBaseURL is the Ollama server URL for the ollama backend.
	OllamaBaseURL string

	// OllamaModel is the model name for the ollama backend.
	OllamaModel string

	// WeatherBaseURL overrides the weatherapi.com endpoint.
	WeatherBaseURL string

	// PersonaPath is the persona YAML file. Empty uses the built-in
	// persona without hot reload.
	PersonaPath string

	// UIDir is the directory of static chat UI assets.
	UIDir string

	// TurnTimeout bounds the external calls of one chat turn.
	TurnTimeout time.Duration

	// Temperature, TopP, and MaxTokens are optional sampling overrides
	// passed to the AI backend. Nil leaves the backend's defaults.
	Temperature *float32
	TopP        *float32
	MaxTokens   *int

	// OTELEndpoint is the OTLP gRPC collector address. Empty disables
	// trace export.
	OTELEndpoint string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first if present (local development
// convenience; real deployments set the environment directly).
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env file")
	}

	cfg := &Config{
		Port:           getEnv("CHATBOT_PORT", "12210"),
		LLMBackend:     getEnv("LLM_BACKEND_TYPE", "openai"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:  os.Getenv("OPENAI_BASE_URL"),
		OllamaBaseURL:  os.Getenv("OLLAMA_BASE_URL"),
		OllamaModel:    os.Getenv("OLLAMA_MODEL"),
		WeatherBaseURL: os.Getenv("WEATHER_BASE_URL"),
		PersonaPath:    os.Getenv("PERSONA_PATH"),
		UIDir:          getEnv("UI_DIR", "./ui"),
		TurnTimeout:    getDuration("CHAT_TURN_TIMEOUT", 60*time.Second),
		Temperature:    getFloat("LLM_TEMPERATURE"),
		TopP:           getFloat("LLM_TOP_P"),
		MaxTokens:      getInt("LLM_MAX_TOKENS"),
		OTELEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getFloat(key string) *float32 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		slog.Warn("Invalid number in environment, ignoring", "key", key, "value", v)
		return nil
	}
	f32 := float32(f)
	return &f32
}

func getInt(key string) *int {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Invalid integer in environment, ignoring", "key", key, "value", v)
		return nil
	}
	return &n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Invalid duration in environment, using default",
			"key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}
