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
// This file contains request and stream event types for the chat completion
// endpoints.
package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Per SEC-003: Unbounded message input mitigation.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	// Per SEC-004: Unbounded message history mitigation.
	MaxMessagesPerRequest = 100

	// MaxFallbackModels bounds the candidate list a caller can supply.
	MaxFallbackModels = 8
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Register custom validator for message content size (SEC-003)
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) so oversized payloads
// cannot slip past rune-based limits.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Stream Request Types
// =============================================================================

// Message represents one turn of a conversation.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system tool"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// ChatStreamRequest represents a streaming chat completion request body.
//
// # Description
//
// ChatStreamRequest carries the conversation plus the routing inputs the
// gateway needs: the preferred model and an ordered list of fallback
// models. This is used for the POST /v1/chat/stream endpoint.
//
// # Fields
//
//   - RequestID: Required. Unique identifier for this request (UUID v4).
//   - Timestamp: Required. Unix timestamp in milliseconds (UTC).
//   - Model: Required. Preferred model key ("provider/model").
//   - Fallbacks: Optional. Ordered fallback model keys tried when the
//     preferred model is unavailable or exhausts its retries.
//   - Messages: Required. Conversation history with 1-100 messages.
//     Content is limited to 32KB per message (SEC-003 compliance).
//   - MaxTokens: Optional. Upper bound on generated tokens.
//   - Temperature: Optional. Sampling temperature passed through upstream.
//
// # Validation
//
// Uses go-playground/validator plus ModelKey.Validate for each candidate.
type ChatStreamRequest struct {
	RequestID   string    `json:"request_id" validate:"required,uuid4"`
	Timestamp   int64     `json:"timestamp" validate:"required,gt=0"`
	Model       string    `json:"model" validate:"required"`
	Fallbacks   []string  `json:"fallbacks,omitempty" validate:"omitempty,max=8"`
	Messages    []Message `json:"messages" validate:"required,min=1,max=100,dive"`
	MaxTokens   int       `json:"max_tokens,omitempty" validate:"omitempty,gte=0,lte=65536"`
	Temperature float32   `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
}

// Validate checks the request against the struct validation rules and
// verifies every candidate model key parses.
func (r *ChatStreamRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("request validation failed: %w", err)
	}
	for _, raw := range append([]string{r.Model}, r.Fallbacks...) {
		if err := ModelKey(raw).Validate(); err != nil {
			return fmt.Errorf("request validation failed: %w", err)
		}
	}
	return nil
}

// Candidates returns the preferred model followed by fallbacks, in caller
// order, with duplicates dropped.
func (r *ChatStreamRequest) Candidates() []ModelKey {
	seen := make(map[ModelKey]struct{}, 1+len(r.Fallbacks))
	out := make([]ModelKey, 0, 1+len(r.Fallbacks))
	for _, raw := range append([]string{r.Model}, r.Fallbacks...) {
		key := ModelKey(raw)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// =============================================================================
// Stream Event Types
// =============================================================================

// StreamEventType identifies the kind of a client-facing SSE event.
type StreamEventType string

const (
	StreamEventStatus StreamEventType = "status"
	StreamEventToken  StreamEventType = "token"
	StreamEventError  StreamEventType = "error"
	StreamEventDone   StreamEventType = "done"
)

// StreamEvent is one client-facing SSE event.
//
// # Description
//
// Each event carries metadata populated by the SSE writer:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 hash of event content for integrity
//   - PrevHash: Hash of previous event for chain verification
//
// Content fields are populated per event type: Content for token events,
// Message for status events, Error for error events, RequestID and Model
// for done events.
type StreamEvent struct {
	Id        string          `json:"id"`
	CreatedAt int64           `json:"created_at"`
	Type      StreamEventType `json:"type"`
	Content   string          `json:"content,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Model     string          `json:"model,omitempty"`
	Hash      string          `json:"hash,omitempty"`
	PrevHash  string          `json:"prev_hash,omitempty"`
}
