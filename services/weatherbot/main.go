// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// The weatherbot service is the gptbot chat app with one callable
// function: get_current_weather, backed by weatherapi.com. The model
// decides when to call it; the chat loop executes the call and feeds the
// result back for a final phrased answer.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianChat/services/chatbot/config"
	"github.com/AleutianAI/AleutianChat/services/chatbot/functions"
	"github.com/AleutianAI/AleutianChat/services/chatbot/handlers"
	"github.com/AleutianAI/AleutianChat/services/chatbot/observability"
	"github.com/AleutianAI/AleutianChat/services/chatbot/routes"
	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/AleutianAI/AleutianChat/services/weather"
)

const serviceName = "weatherbot-service"

var defaultPersona = config.Persona{
	SystemPrompt: "You are a helpful weather assistant. When the user asks about " +
		"the weather in a place, use the get_current_weather function rather than " +
		"guessing. For anything else, answer normally.",
	Greeting: "Hello! Ask me about the current weather anywhere.",
}

func setupLogging() {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			TimeFormat: time.Kitchen,
		})))
		return
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

func buildLLMClient(cfg *config.Config) (llm.ChatClient, error) {
	switch cfg.LLMBackend {
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL: cfg.OllamaBaseURL,
			Model:   cfg.OllamaModel,
		})
	case "openai":
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to openai",
			"value", cfg.LLMBackend)
	}

	secret, err := config.LoadSecret("OPENAI_API_KEY", "/run/secrets/openai_api_key")
	if err != nil {
		return nil, err
	}
	apiKey, err := secret.Open()
	if err != nil {
		return nil, err
	}
	slog.Info("Using OpenAI LLM backend")
	return llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  apiKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
}

func buildWeatherClient(cfg *config.Config) (*weather.Client, error) {
	secret, err := config.LoadSecret("WEATHER_API_KEY", "/run/secrets/weather_api_key")
	if err != nil {
		return nil, err
	}
	apiKey, err := secret.Open()
	if err != nil {
		return nil, err
	}

	var opts []weather.Option
	if cfg.WeatherBaseURL != "" {
		opts = append(opts, weather.WithBaseURL(cfg.WeatherBaseURL))
	}
	return weather.NewClient(apiKey, opts...), nil
}

func main() {
	setupLogging()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanup, err := observability.InitTracer(ctx, serviceName, cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	llmClient, err := buildLLMClient(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	weatherClient, err := buildWeatherClient(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize weather client: %v", err)
	}
	registry, err := functions.NewRegistry(
		functions.NewWeatherHandler(weatherClient),
	)
	if err != nil {
		log.Fatalf("Failed to build function registry: %v", err)
	}

	personas, err := config.NewPersonaStore(cfg.PersonaPath, defaultPersona)
	if err != nil {
		log.Fatalf("Failed to load persona: %v", err)
	}

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, cfg.UIDir, handlers.ChatDeps{
		LLM:         llmClient,
		Registry:    registry,
		Personas:    personas,
		Metrics:     observability.InitMetrics(),
		Params: llm.GenerationParams{
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
			MaxTokens:   cfg.MaxTokens,
		},
		TurnTimeout: cfg.TurnTimeout,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := personas.Watch(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		slog.Info("Starting the weatherbot server", "port", cfg.Port)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
	slog.Info("Server stopped")
}
