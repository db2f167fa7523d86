// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRelay/services/gateway/cache"
	"github.com/AleutianAI/AleutianRelay/services/gateway/routing"
)

// =============================================================================
// Status Handler
// =============================================================================

// StatusHandler exposes operational read endpoints: model availability,
// cache metrics, and health.
type StatusHandler struct {
	manager *routing.Manager
	layer   *cache.Layer
}

// NewStatusHandler creates the status handler.
func NewStatusHandler(manager *routing.Manager, layer *cache.Layer) *StatusHandler {
	return &StatusHandler{manager: manager, layer: layer}
}

// HandleModelStatus handles GET /v1/models/status.
//
// # Outputs
//
// JSON map of model key to breaker state, failure count, reliability
// score, average latency, and exclusion flag.
func (s *StatusHandler) HandleModelStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.manager.Status()})
}

// HandleCacheMetrics handles GET /v1/cache/metrics.
//
// Without a category query parameter it returns the aggregate counters
// plus a per-category breakdown. With ?category= it returns just that
// category's counters.
func (s *StatusHandler) HandleCacheMetrics(c *gin.Context) {
	category := c.Query("category")
	if category != "" {
		c.JSON(http.StatusOK, s.layer.Metrics(category))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"aggregate":  s.layer.Metrics(""),
		"categories": s.layer.MetricsByCategory(),
	})
}

// HandleCacheMetricsReset handles POST /v1/cache/metrics/reset.
//
// ?category= scopes the reset to one category; without it all counters
// reset. Cached content is untouched either way.
func (s *StatusHandler) HandleCacheMetricsReset(c *gin.Context) {
	category := c.Query("category")
	s.layer.ResetMetrics(category)
	c.JSON(http.StatusOK, gin.H{"status": "reset", "category": category})
}

// HandleHealth handles GET /healthz.
func (s *StatusHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
