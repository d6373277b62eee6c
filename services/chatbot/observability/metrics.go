// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the chatbot
// services.
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "aleutian"

// Subsystem for chat metrics.
const chatSubsystem = "chatbot"

// Turn statuses recorded in TurnsTotal.
const (
	StatusSuccess       = "success"
	StatusLLMError      = "llm_error"
	StatusLookupError   = "lookup_error"
	StatusHandlerError  = "handler_error"
	StatusLimitExceeded = "limit_exceeded"
)

// ChatMetrics holds all Prometheus metrics for chat operations.
//
// # Description
//
// Counters, histograms, and gauges for monitoring chat sessions, turns,
// and function dispatch. Initialize once at startup via InitMetrics().
//
// # Fields
//
//   - ActiveSessions: Gauge of currently open WebSocket sessions
//   - TurnsTotal: Counter of chat turns by status
//   - FunctionCallsTotal: Counter of function dispatches by function and status
//   - LLMRequestSeconds: Histogram of AI service round-trip latency
//   - FunctionCallSeconds: Histogram of function handler latency
//   - TransportErrorsTotal: Counter of WebSocket send/receive failures
type ChatMetrics struct {
	// ActiveSessions tracks currently open WebSocket sessions.
	ActiveSessions prometheus.Gauge

	// TurnsTotal counts chat turns by terminal status.
	// Labels: status (success, llm_error, lookup_error, handler_error, limit_exceeded)
	TurnsTotal *prometheus.CounterVec

	// FunctionCallsTotal counts function dispatches.
	// Labels: function, status (success, lookup_error, handler_error)
	FunctionCallsTotal *prometheus.CounterVec

	// LLMRequestSeconds measures AI service round-trip latency.
	LLMRequestSeconds prometheus.Histogram

	// FunctionCallSeconds measures function handler latency.
	// Labels: function
	FunctionCallSeconds *prometheus.HistogramVec

	// TransportErrorsTotal counts WebSocket send/receive failures.
	TransportErrorsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of ChatMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *ChatMetrics

// InitMetrics initializes the default metrics instance and registers it
// with the default Prometheus registry. Call once at startup; a second
// call panics on duplicate registration.
func InitMetrics() *ChatMetrics {
	DefaultMetrics = newChatMetrics(promauto.With(prometheus.DefaultRegisterer))
	return DefaultMetrics
}

// NewChatMetrics builds a ChatMetrics registered against an arbitrary
// registerer. Tests use this with an isolated registry.
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	return newChatMetrics(promauto.With(reg))
}

func newChatMetrics(factory promauto.Factory) *ChatMetrics {
	return &ChatMetrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "active_sessions",
			Help:      "Number of currently open WebSocket chat sessions",
		}),

		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "turns_total",
			Help:      "Total chat turns by terminal status",
		}, []string{"status"}),

		FunctionCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "function_calls_total",
			Help:      "Total function dispatches by function name and status",
		}, []string{"function", "status"}),

		LLMRequestSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "llm_request_seconds",
			Help:      "AI service round-trip latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		}),

		FunctionCallSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "function_call_seconds",
			Help:      "Function handler latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 15.0},
		}, []string{"function"}),

		TransportErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "transport_errors_total",
			Help:      "Total WebSocket send/receive failures",
		}),
	}
}
