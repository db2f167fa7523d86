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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/gateway/observability"
	"github.com/AleutianAI/AleutianRelay/services/gateway/routing"
	"github.com/AleutianAI/AleutianRelay/services/gateway/stream"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// heartbeatInterval is the interval for sending keepalive pings.
	// Set to 15s to stay well under typical LB timeouts (60s for ALB/Nginx).
	heartbeatInterval = 15 * time.Second
)

var handlerTracer = otel.Tracer("aleutian.ai/relay/handlers")

// =============================================================================
// Handler
// =============================================================================

// ChatHandler serves the streaming chat endpoint.
//
// # Description
//
// One request flows: validate, build the candidate list (preferred model
// plus fallbacks), then walk candidates in routing order. Each candidate
// gets one full stream.Client call (which retries internally); a
// retryable terminal failure moves to the next candidate so long as no
// token has reached the client yet. A 4xx from the provider is the
// caller's fault and stops the walk immediately.
type ChatHandler struct {
	client  *stream.Client
	manager *routing.Manager
	metrics *observability.GatewayMetrics
}

// NewChatHandler creates the chat handler.
func NewChatHandler(client *stream.Client, manager *routing.Manager, metrics *observability.GatewayMetrics) *ChatHandler {
	return &ChatHandler{client: client, manager: manager, metrics: metrics}
}

// HandleChatStream handles POST /v1/chat/stream.
//
// # Inputs
//
//   - c: Gin context carrying a ChatStreamRequest body.
//
// # Outputs
//
// SSE events: status, token*, then done — or error, then nothing.
// Validation failures return JSON 400 before streaming starts.
func (h *ChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	ctx, span := handlerTracer.Start(c.Request.Context(), "handlers.HandleChatStream")
	defer span.End()

	var req datatypes.ChatStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "bind failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	candidates := req.Candidates()
	span.SetAttributes(
		attribute.String("gateway.request_id", req.RequestID),
		attribute.String("gateway.preferred_model", string(candidates[0])),
		attribute.Int("gateway.candidate_count", len(candidates)),
	)

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	h.metrics.StreamStarted()
	defer h.metrics.StreamEnded()

	_ = writer.WriteStatus("Selecting model")

	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, writer, heartbeatDone)
	defer close(heartbeatDone)

	outcome := h.streamWithFallback(ctx, req, candidates, writer, startTime)
	h.metrics.RecordRequest(string(outcome.model), outcome.label, time.Since(startTime).Seconds())
	span.SetAttributes(attribute.String("gateway.outcome", outcome.label))
	if outcome.label != "completed" {
		span.SetStatus(codes.Error, outcome.label)
	}
}

// streamOutcome records which model served the request and how it ended.
type streamOutcome struct {
	model datatypes.ModelKey
	label string
}

// streamWithFallback walks the candidate list until one model completes
// the stream or no options remain.
func (h *ChatHandler) streamWithFallback(ctx context.Context, req datatypes.ChatStreamRequest, candidates []datatypes.ModelKey, writer SSEWriter, startTime time.Time) streamOutcome {
	preferred := candidates[0]
	remaining := candidates

	for {
		model, err := h.manager.SelectFallback(remaining)
		if errors.Is(err, routing.ErrNoAvailableModel) {
			slog.Warn("no available model for request", "requestId", req.RequestID)
			_ = writer.WriteError("no available model")
			return streamOutcome{model: preferred, label: "failed"}
		}

		if model != preferred {
			h.metrics.RecordFallback(string(model))
			_ = writer.WriteStatus("Falling back to " + string(model))
		}

		var tokensWritten int
		var firstChunkAt time.Time
		streamErr := h.client.Stream(ctx, model, req, func(chunk stream.Chunk) error {
			if chunk.Content == "" {
				return nil
			}
			if tokensWritten == 0 {
				firstChunkAt = time.Now()
			}
			if err := writer.WriteToken(chunk.Content); err != nil {
				return err
			}
			tokensWritten++
			return nil
		})

		if streamErr == nil {
			if !firstChunkAt.IsZero() {
				h.metrics.RecordTimeToFirstChunk(string(model), firstChunkAt.Sub(startTime).Seconds())
			}
			_ = writer.WriteDone(req.RequestID, model)
			return streamOutcome{model: model, label: "completed"}
		}

		failure := stream.AsFailure(streamErr)
		if failure == nil {
			// Caller went away: context cancelled or the SSE write path
			// failed. Nothing useful to send.
			slog.Info("stream cancelled by caller",
				"requestId", req.RequestID,
				"model", model,
				"error", streamErr)
			return streamOutcome{model: model, label: "cancelled"}
		}

		slog.Error("stream failed",
			"requestId", req.RequestID,
			"model", model,
			"kind", failure.Kind.String(),
			"attempts", failure.Attempts)

		if failure.Kind == stream.FailureClient {
			_ = writer.WriteError("request rejected by provider")
			return streamOutcome{model: model, label: "failed"}
		}
		if tokensWritten > 0 {
			// Partial output already reached the client; a fallback
			// would duplicate it.
			_ = writer.WriteError("stream interrupted")
			return streamOutcome{model: model, label: "failed"}
		}

		remaining = withoutModel(remaining, model)
		if len(remaining) == 0 {
			_ = writer.WriteError("all models unavailable")
			return streamOutcome{model: model, label: "failed"}
		}
	}
}

func withoutModel(models []datatypes.ModelKey, drop datatypes.ModelKey) []datatypes.ModelKey {
	out := make([]datatypes.ModelKey, 0, len(models))
	for _, m := range models {
		if m != drop {
			out = append(out, m)
		}
	}
	return out
}

// runHeartbeat sends SSE comments until the stream ends.
//
// Write errors are logged and ignored: if the connection is gone the
// token path notices on its next write.
func (h *ChatHandler) runHeartbeat(ctx context.Context, writer SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("keepalive write failed", "error", err)
			}
		}
	}
}
