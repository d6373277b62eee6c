// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noBackOff retries immediately so tests don't sleep.
func noBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
}

const parisBody = `{
	"location": {"name": "Paris", "country": "France"},
	"current": {
		"temp_c": 15.0, "temp_f": 59.0,
		"condition": {"text": "Partly cloudy"},
		"humidity": 60, "wind_kph": 11.2,
		"last_updated": "2025-11-02 14:30"
	}
}`

func TestCurrent_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/current.json", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "Paris", r.URL.Query().Get("q"))
		assert.Equal(t, "no", r.URL.Query().Get("aqi"))
		_, _ = w.Write([]byte(parisBody))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL), WithBackOff(noBackOff))
	report, err := client.Current(context.Background(), "Paris")
	require.NoError(t, err)

	assert.Equal(t, "Paris", report.Location.Name)
	assert.Equal(t, "France", report.Location.Country)
	assert.InDelta(t, 15.0, report.Current.TempC, 0.001)
	assert.Equal(t, 60, report.Current.Humidity)
	assert.Equal(t, "Partly cloudy", report.Current.Condition.Text)
}

func TestCurrent_CityNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"code": 1006, "message": "No matching location found."}}`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL), WithBackOff(noBackOff))
	_, err := client.Current(context.Background(), "Atlantis")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCityNotFound)
	assert.Equal(t, int32(1), calls.Load(), "not-found must not be retried")
}

func TestCurrent_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(parisBody))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL), WithBackOff(noBackOff))
	report, err := client.Current(context.Background(), "Paris")

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "Paris", report.Location.Name)
}

func TestCurrent_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL), WithBackOff(noBackOff))
	_, err := client.Current(context.Background(), "Paris")

	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestCurrent_InvalidKeyNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"code": 2008, "message": "API key has been disabled."}}`))
	}))
	defer server.Close()

	client := NewClient("bad-key", WithBaseURL(server.URL), WithBackOff(noBackOff))
	_, err := client.Current(context.Background(), "Paris")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCityNotFound)
	assert.Equal(t, int32(1), calls.Load())
}
