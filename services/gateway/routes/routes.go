// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianRelay/services/gateway/handlers"
)

// SetupRoutes registers all gateway routes on router.
func SetupRoutes(router *gin.Engine, chat *handlers.ChatHandler, status *handlers.StatusHandler,
	sessions *handlers.SessionHandler, gatherer prometheus.Gatherer) {

	router.GET("/healthz", status.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/chat/stream", chat.HandleChatStream)
		v1.GET("/models/status", status.HandleModelStatus)
		v1.GET("/stats", sessions.HandleStats)

		cacheAdmin := v1.Group("/cache")
		{
			cacheAdmin.GET("/metrics", status.HandleCacheMetrics)
			cacheAdmin.POST("/metrics/reset", status.HandleCacheMetricsReset)
		}

		// Session administration routes
		sessionGroup := v1.Group("/sessions")
		{
			sessionGroup.GET("", sessions.HandleListSessions)
			sessionGroup.POST("", sessions.HandleCreateSession)
			sessionGroup.PUT("/:id", sessions.HandleUpdateSession)
			sessionGroup.DELETE("/:id", sessions.HandleDeleteSession)
			sessionGroup.POST("/:id/messages", sessions.HandleSaveMessage)
			sessionGroup.DELETE("/:id/messages/:messageId", sessions.HandleDeleteMessage)
		}
	}
}
