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

// Report is the current-conditions payload returned by weatherapi.com's
// /current.json endpoint, trimmed to the fields the chatbot forwards to
// the model.
type Report struct {
	Location Location `json:"location"`
	Current  Current  `json:"current"`
}

// Location identifies the place the report describes.
type Location struct {
	Name    string `json:"name"`
	Country string `json:"country"`
}

// Current holds the observed conditions.
type Current struct {
	TempC       float64   `json:"temp_c"`
	TempF       float64   `json:"temp_f"`
	Condition   Condition `json:"condition"`
	Humidity    int       `json:"humidity"`
	WindKPH     float64   `json:"wind_kph"`
	LastUpdated string    `json:"last_updated"`
}

// Condition is the human-readable conditions text ("Partly cloudy").
type Condition struct {
	Text string `json:"text"`
}

// apiError is the error envelope weatherapi.com returns on non-200 status.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
