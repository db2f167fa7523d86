// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewGatewayMetrics_RegistersAndCounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewGatewayMetrics(registry)

	metrics.RecordRequest("ollama/llama3", "completed", 1.5)
	metrics.RecordFallback("ollama/mistral")
	metrics.RecordBreakerTransition("ollama/llama3", "CLOSED", "OPEN")
	metrics.CacheHit("stats")
	metrics.CacheMiss("stats")
	metrics.CacheError("search")
	metrics.StreamStarted()
	metrics.StreamStarted()
	metrics.StreamEnded()

	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("ollama/llama3", "completed")); got != 1 {
		t.Errorf("requests counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.FallbacksTotal.WithLabelValues("ollama/mistral")); got != 1 {
		t.Errorf("fallback counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.BreakerTransitionsTotal.WithLabelValues("ollama/llama3", "CLOSED", "OPEN")); got != 1 {
		t.Errorf("breaker transition counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CacheOperationsTotal.WithLabelValues("stats", "hit")); got != 1 {
		t.Errorf("cache hit counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ActiveStreams); got != 1 {
		t.Errorf("active streams gauge = %v, want 1", got)
	}
}

// Two instances must be independently registerable, i.e. no package
// globals behind the constructor.
func TestNewGatewayMetrics_IndependentRegistries(t *testing.T) {
	a := NewGatewayMetrics(prometheus.NewRegistry())
	b := NewGatewayMetrics(prometheus.NewRegistry())

	a.CacheHit("stats")
	if got := testutil.ToFloat64(b.CacheOperationsTotal.WithLabelValues("stats", "hit")); got != 0 {
		t.Errorf("second instance counter = %v, want 0", got)
	}
}
