// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the gateway service.
//
// This file contains model identity and status types shared by the breaker,
// routing, and stream packages. Request/response types for the chat endpoints
// live in chat.go.
package datatypes

import (
	"fmt"
	"strings"
)

// ModelKey identifies a provider+model pair.
//
// # Description
//
// ModelKey is the join key used across the circuit breaker registry, the
// availability manager, and the stream client. The canonical form is
// "provider/model", e.g. "openai/gpt-4o" or "ollama/granite4:micro-h".
// The value is treated as opaque by every component except the stream
// client, which extracts the model portion for the upstream request body.
type ModelKey string

// NewModelKey builds a ModelKey from a provider and model name.
func NewModelKey(provider, model string) ModelKey {
	return ModelKey(provider + "/" + model)
}

// Provider returns the provider portion of the key, or "" if the key has
// no separator.
func (k ModelKey) Provider() string {
	if idx := strings.IndexByte(string(k), '/'); idx >= 0 {
		return string(k)[:idx]
	}
	return ""
}

// Model returns the model portion of the key. Keys without a separator are
// returned whole so bare model names keep working.
func (k ModelKey) Model() string {
	if idx := strings.IndexByte(string(k), '/'); idx >= 0 {
		return string(k)[idx+1:]
	}
	return string(k)
}

// Validate checks that the key is non-empty and has a non-empty model part.
func (k ModelKey) Validate() error {
	if strings.TrimSpace(string(k)) == "" {
		return fmt.Errorf("model key must not be empty")
	}
	if k.Model() == "" {
		return fmt.Errorf("model key %q has an empty model part", string(k))
	}
	return nil
}

// ModelStatus is a read-only snapshot of one model's health, exposed for
// external dashboards via GET /v1/models/status.
//
// # Fields
//
//   - State: Circuit breaker state name ("CLOSED", "OPEN", "HALF_OPEN").
//   - FailureCount: Failures accumulated toward (or since) the last trip.
//   - ReliabilityScore: Rolling success EMA in [0,1]. Used only for fallback
//     tie-breaking, never for admission control.
//   - AvgLatencyMs: Rolling latency EMA in milliseconds (0 if no samples).
//   - Excluded: True if the model is on the static exclusion list.
type ModelStatus struct {
	State            string  `json:"state"`
	FailureCount     int     `json:"failure_count"`
	ReliabilityScore float64 `json:"reliability_score"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	Excluded         bool    `json:"excluded"`
}
