// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package weather provides a client for the weatherapi.com current
// conditions API.
//
// The client retries transient failures (network errors, 5xx responses)
// with bounded exponential backoff. Deterministic failures, including an
// unknown city, are never retried.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultBaseURL is the weatherapi.com v1 endpoint.
const DefaultBaseURL = "http://api.weatherapi.com/v1"

// requestTimeout bounds a single HTTP attempt.
const requestTimeout = 15 * time.Second

// noMatchingLocation is weatherapi.com's error code for an unknown city.
const noMatchingLocation = 1006

// ErrCityNotFound is returned when the API does not recognize the city.
var ErrCityNotFound = errors.New("city not found")

// transientError marks a failure worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Client fetches current conditions from weatherapi.com.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	newBackOff func() backoff.BackOff
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithBackOff overrides the retry policy factory. Used by tests to avoid
// real backoff delays.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) {
		c.newBackOff = f
	}
}

// NewClient creates a weather client with the given API key.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 250 * time.Millisecond
			return backoff.WithMaxRetries(bo, 2)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current fetches the current conditions for city.
//
// # Description
//
// Issues GET /current.json with the configured API key. Transient failures
// are retried per the client's backoff policy; an unknown city returns
// ErrCityNotFound immediately.
//
// # Inputs
//
//   - ctx: Context for cancellation. Cancellation stops retries.
//   - city: City name as typed by the user (the API is lenient about case
//     and diacritics).
//
// # Outputs
//
//   - *Report: Conditions for the resolved location.
//   - error: ErrCityNotFound, or a wrapped transport/API error.
func (c *Client) Current(ctx context.Context, city string) (*Report, error) {
	var report *Report

	operation := func() error {
		r, err := c.fetch(ctx, city)
		if err != nil {
			var transient *transientError
			if errors.As(err, &transient) {
				slog.Warn("Transient weather API failure, will retry", "city", city, "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		report = r
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return report, nil
}

func (c *Client) fetch(ctx context.Context, city string) (*Report, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("q", city)
	params.Set("aqi", "no")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/current.json?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build weather request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transientError{fmt.Errorf("weather API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{fmt.Errorf("failed to read weather response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var report Report
		if err := json.Unmarshal(body, &report); err != nil {
			return nil, fmt.Errorf("failed to decode weather response: %w", err)
		}
		return &report, nil

	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &transientError{fmt.Errorf("weather API returned status %d", resp.StatusCode)}

	default:
		var apiErr apiError
		if err := json.Unmarshal(body, &apiErr); err == nil &&
			apiErr.Error.Code == noMatchingLocation {
			return nil, fmt.Errorf("%w: %q", ErrCityNotFound, city)
		}
		slog.Error("Weather API error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("weather API returned status %d", resp.StatusCode)
	}
}
