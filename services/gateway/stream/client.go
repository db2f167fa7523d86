// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// =============================================================================
// Configuration
// =============================================================================

// Config controls per-call timeout and retry behavior.
type Config struct {
	// BaseURL is the provider endpoint root, e.g. "https://api.openai.com".
	// The client appends /v1/chat/completions.
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Timeout bounds one whole call, attempts and backoff included.
	// Default: 60s
	Timeout time.Duration

	// MaxAttempts is the attempt budget per call (including the first).
	// Default: 4
	MaxAttempts int

	// BackoffBase is the delay before the first retry. Default: 500ms
	BackoffBase time.Duration

	// BackoffMultiplier grows the delay per retry. Default: 2.0
	BackoffMultiplier float64

	// BackoffCap bounds the delay. Default: 10s
	BackoffCap time.Duration

	// JitterFactor is the maximum jitter as a fraction of the delay (0-1).
	// Default: 0.2
	JitterFactor float64

	// HTTPClient issues the requests. Default: a client with no overall
	// timeout (the per-call context bounds each request).
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 4
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMultiplier < 1.0 {
		c.BackoffMultiplier = 2.0
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Second
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		c.JitterFactor = 0.2
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	return c
}

// =============================================================================
// Client
// =============================================================================

// Reporter receives the terminal outcome of each call.
//
// routing.Manager satisfies this; it feeds the circuit breaker and the
// reliability scores.
type Reporter interface {
	RecordSuccess(model datatypes.ModelKey, latency time.Duration)
	RecordFailure(model datatypes.ModelKey)
}

// Chunk is one decoded increment of a streaming completion.
type Chunk struct {
	// Content is the text delta. May be empty on role/metadata frames.
	Content string

	// Model is the model name echoed by the provider.
	Model string

	// FinishReason is non-empty on the final content chunk.
	FinishReason string
}

// ChunkHandler consumes chunks in provider emission order. Returning an
// error aborts the stream; the client treats it as a caller-side abort and
// reports nothing to the circuit breaker.
type ChunkHandler func(chunk Chunk) error

// retryPhase tracks where a call is in its retry lifecycle.
type retryPhase int

const (
	phaseAttempting retryPhase = iota
	phaseBackingOff
	phaseExhausted
)

// errCallerAbort wraps a ChunkHandler error.
var errCallerAbort = errors.New("stream: chunk handler aborted")

var streamTracer = otel.Tracer("aleutian.ai/relay/stream")

// Client issues streaming chat-completion calls to an OpenAI-compatible
// provider endpoint.
//
// # Description
//
// One Stream call makes up to MaxAttempts HTTP attempts, decoding
// `data: <json>` frames into Chunks delivered through the caller's
// handler. Retryable failures (network, timeout, 429, 5xx, decode) are
// retried with jittered exponential backoff, but only while no chunk has
// been delivered yet; once output reaches the handler a retry would
// duplicate it, so the first failure after delivery is terminal. Exactly
// one outcome per call reaches the Reporter: success on completion,
// failure on a terminal non-cancelled error, nothing on cancellation.
//
// # Thread Safety
//
// Safe for concurrent use. Each call owns its per-call state.
type Client struct {
	config   Config
	reporter Reporter
}

// NewClient creates a stream client reporting outcomes to reporter.
// A nil reporter disables outcome reporting (tests only).
func NewClient(config Config, reporter Reporter) *Client {
	return &Client{config: config.withDefaults(), reporter: reporter}
}

// Stream executes one streaming completion call against model.
//
// # Inputs
//
//   - ctx: Caller context. Cancellation aborts the in-flight attempt and
//     any pending backoff immediately and yields a cancelled outcome.
//   - model: Target model key; its Model() part is sent upstream.
//   - request: Validated chat request. Fallback routing happens in the
//     caller; Stream only ever talks to the one model it is given.
//   - onChunk: Receives decoded chunks in provider order.
//
// # Outputs
//
//   - error: nil when the stream completed; *Failure for a terminal
//     failure; a context error (possibly wrapped) when the caller
//     cancelled.
func (c *Client) Stream(ctx context.Context, model datatypes.ModelKey, request datatypes.ChatStreamRequest, onChunk ChunkHandler) error {
	start := time.Now()

	ctx, span := streamTracer.Start(ctx, "stream.Client.Stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway.model", string(model)),
		attribute.String("gateway.request_id", request.RequestID),
	)

	// The per-call deadline covers every attempt and every backoff. The
	// caller's ctx stays separate so cancellation and timeout remain
	// distinguishable afterwards.
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var (
		phase   = phaseAttempting
		attempt = 0
		delay   = c.config.BackoffBase
		lastErr *Failure
		hint    time.Duration
	)

	for phase != phaseExhausted {
		switch phase {
		case phaseAttempting:
			attempt++
			delivered, err := c.attempt(callCtx, model, request, onChunk)
			if err == nil {
				span.SetAttributes(attribute.Int("gateway.attempts", attempt))
				if c.reporter != nil {
					c.reporter.RecordSuccess(model, time.Since(start))
				}
				return nil
			}

			if aborted := c.checkCallerExit(ctx, span, err); aborted != nil {
				return aborted
			}

			lastErr = c.classify(callCtx, err, attempt)
			hint = lastErr.RetryAfter

			if !lastErr.Retryable() || delivered || attempt >= c.config.MaxAttempts {
				phase = phaseExhausted
				continue
			}
			slog.Warn("stream attempt failed, backing off",
				"model", model,
				"attempt", attempt,
				"kind", lastErr.Kind.String(),
				"error", lastErr.Err)
			phase = phaseBackingOff

		case phaseBackingOff:
			wait := c.backoffDelay(delay, hint)
			timer := time.NewTimer(wait)
			select {
			case <-callCtx.Done():
				timer.Stop()
				if aborted := c.checkCallerExit(ctx, span, callCtx.Err()); aborted != nil {
					return aborted
				}
				lastErr = &Failure{
					Kind:     FailureTimeout,
					Attempts: attempt,
					Err:      callCtx.Err(),
				}
				phase = phaseExhausted
			case <-timer.C:
				delay = nextDelay(delay, c.config.BackoffMultiplier, c.config.BackoffCap)
				phase = phaseAttempting
			}
		}
	}

	lastErr.Attempts = attempt
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Kind.String())
	if c.reporter != nil {
		c.reporter.RecordFailure(model)
	}
	return lastErr
}

// checkCallerExit returns a terminal error for caller-side exits (context
// cancellation or a handler abort); these skip breaker reporting.
func (c *Client) checkCallerExit(ctx context.Context, span trace.Span, err error) error {
	if errors.Is(err, errCallerAbort) {
		span.SetStatus(codes.Error, FailureCancelled.String())
		return fmt.Errorf("stream aborted by consumer: %w", err)
	}
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, FailureCancelled.String())
		return fmt.Errorf("stream cancelled: %w", ctx.Err())
	}
	return nil
}

// attempt runs one HTTP attempt. delivered reports whether any chunk
// reached the handler before the error.
func (c *Client) attempt(ctx context.Context, model datatypes.ModelKey, request datatypes.ChatStreamRequest, onChunk ChunkHandler) (delivered bool, err error) {
	body, err := json.Marshal(buildUpstreamRequest(model, request))
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	// Close errors are a no-op: the stream outcome is already decided.
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the transport can reuse the connection.
		io.CopyN(io.Discard, resp.Body, 4096)
		return false, classifyStatus(resp.StatusCode, resp.Header, 0)
	}

	frames := newFrameReader(resp.Body)
	for {
		payload, err := frames.Next()
		if err == errStreamDone {
			return delivered, nil
		}
		if err != nil {
			return delivered, err
		}

		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal(payload, &chunk); err != nil {
			return delivered, &Failure{
				Kind: FailureDecode,
				Err:  fmt.Errorf("decode frame: %w", err),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if err := onChunk(Chunk{
			Content:      choice.Delta.Content,
			Model:        chunk.Model,
			FinishReason: string(choice.FinishReason),
		}); err != nil {
			return true, fmt.Errorf("%w: %w", errCallerAbort, err)
		}
		delivered = true
	}
}

// classify maps an attempt error to a Failure. Timeout wins over network
// classification when the per-call deadline has elapsed.
func (c *Client) classify(callCtx context.Context, err error, attempt int) *Failure {
	if f := AsFailure(err); f != nil {
		f.Attempts = attempt
		return f
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: FailureTimeout, Attempts: attempt, Err: err}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &Failure{Kind: FailureNetwork, Attempts: attempt, Err: err}
	}
	return &Failure{Kind: FailureNetwork, Attempts: attempt, Err: err}
}

// backoffDelay applies jitter, honoring an explicit Retry-After hint when
// the provider supplied one.
func (c *Client) backoffDelay(base time.Duration, hint time.Duration) time.Duration {
	if hint > 0 {
		if hint > c.config.BackoffCap {
			return c.config.BackoffCap
		}
		return hint
	}
	if c.config.JitterFactor <= 0 {
		return base
	}
	jitter := (rand.Float64()*2 - 1) * c.config.JitterFactor
	return time.Duration(float64(base) * (1.0 + jitter))
}

func nextDelay(current time.Duration, multiplier float64, cap time.Duration) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if next > cap {
		return cap
	}
	return next
}

// buildUpstreamRequest converts the gateway request into the provider's
// wire format.
func buildUpstreamRequest(model datatypes.ModelKey, request datatypes.ChatStreamRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(request.Messages))
	for _, m := range request.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:       model.Model(),
		Messages:    messages,
		MaxTokens:   request.MaxTokens,
		Temperature: request.Temperature,
		Stream:      true,
	}
}
