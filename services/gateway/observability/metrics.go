// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the gateway.
//
// # Description
//
// Metrics cover the streaming path (requests, durations, retries), the
// circuit breaker (state transitions), and the cache (hits, misses,
// errors). Exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for gateway metrics
const gatewaySubsystem = "relay"

// GatewayMetrics holds all Prometheus metrics for the gateway.
//
// # Description
//
// Initialize once at startup via NewGatewayMetrics with an explicit
// registerer; the instance is injected into components rather than held
// in a package global so tests can use isolated registries.
//
// # Thread Safety
//
// All operations are thread-safe.
type GatewayMetrics struct {
	// RequestsTotal counts stream requests by model and outcome.
	// Labels: model, outcome (completed, failed, cancelled)
	RequestsTotal *prometheus.CounterVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: model, outcome
	StreamDurationSeconds *prometheus.HistogramVec

	// TimeToFirstChunkSeconds measures latency to the first chunk.
	// Labels: model
	TimeToFirstChunkSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently active streaming connections.
	ActiveStreams prometheus.Gauge

	// FallbacksTotal counts requests served by a non-preferred model.
	// Labels: model
	FallbacksTotal *prometheus.CounterVec

	// BreakerTransitionsTotal counts circuit breaker state changes.
	// Labels: model, from, to
	BreakerTransitionsTotal *prometheus.CounterVec

	// CacheOperationsTotal counts cache outcomes by category.
	// Labels: category, outcome (hit, miss, error)
	CacheOperationsTotal *prometheus.CounterVec
}

// NewGatewayMetrics creates and registers all gateway metrics.
//
// # Inputs
//
//   - registerer: Target registry. Pass prometheus.DefaultRegisterer in
//     main, a fresh registry in tests.
//
// # Outputs
//
//   - *GatewayMetrics: The registered metrics instance.
//
// # Limitations
//
//   - Panics on duplicate registration against the same registerer.
func NewGatewayMetrics(registerer prometheus.Registerer) *GatewayMetrics {
	factory := promauto.With(registerer)

	return &GatewayMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "requests_total",
				Help:      "Total stream requests by model and outcome",
			},
			[]string{"model", "outcome"},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"model", "outcome"},
		),

		TimeToFirstChunkSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "time_to_first_chunk_seconds",
				Help:      "Time from request to first decoded chunk in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"model"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
		),

		FallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "fallbacks_total",
				Help:      "Requests served by a fallback model instead of the preferred one",
			},
			[]string{"model"},
		),

		BreakerTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker state transitions by model",
			},
			[]string{"model", "from", "to"},
		),

		CacheOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "cache_operations_total",
				Help:      "Cache outcomes by category",
			},
			[]string{"category", "outcome"},
		),
	}
}

// =============================================================================
// Recording Helpers
// =============================================================================

// RecordRequest records one finished stream request.
func (m *GatewayMetrics) RecordRequest(model, outcome string, seconds float64) {
	m.RequestsTotal.WithLabelValues(model, outcome).Inc()
	m.StreamDurationSeconds.WithLabelValues(model, outcome).Observe(seconds)
}

// RecordTimeToFirstChunk records the first-chunk latency for one stream.
func (m *GatewayMetrics) RecordTimeToFirstChunk(model string, seconds float64) {
	m.TimeToFirstChunkSeconds.WithLabelValues(model).Observe(seconds)
}

// StreamStarted increments the active stream gauge.
func (m *GatewayMetrics) StreamStarted() {
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *GatewayMetrics) StreamEnded() {
	m.ActiveStreams.Dec()
}

// RecordFallback records a request served by a fallback model.
func (m *GatewayMetrics) RecordFallback(model string) {
	m.FallbacksTotal.WithLabelValues(model).Inc()
}

// RecordBreakerTransition records a circuit breaker state change. Wire it
// as breaker.Config.OnStateChange.
func (m *GatewayMetrics) RecordBreakerTransition(model, from, to string) {
	m.BreakerTransitionsTotal.WithLabelValues(model, from, to).Inc()
}

// CacheHit implements cache.Observer.
func (m *GatewayMetrics) CacheHit(category string) {
	m.CacheOperationsTotal.WithLabelValues(category, "hit").Inc()
}

// CacheMiss implements cache.Observer.
func (m *GatewayMetrics) CacheMiss(category string) {
	m.CacheOperationsTotal.WithLabelValues(category, "miss").Inc()
}

// CacheError implements cache.Observer.
func (m *GatewayMetrics) CacheError(category string) {
	m.CacheOperationsTotal.WithLabelValues(category, "error").Inc()
}
