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
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// =============================================================================
// Failure Taxonomy
// =============================================================================

// FailureKind classifies a terminal stream failure.
type FailureKind int

const (
	// FailureNetwork covers connect errors, resets, and unexpected EOF.
	FailureNetwork FailureKind = iota

	// FailureTimeout means the per-call deadline elapsed, including a
	// zero-byte stall where the provider never sent a frame.
	FailureTimeout

	// FailureRateLimited is HTTP 429, optionally carrying a Retry-After
	// hint from the provider.
	FailureRateLimited

	// FailureServer is any 5xx response.
	FailureServer

	// FailureClient is any other 4xx response. Fatal: the request itself
	// is wrong and retrying cannot help.
	FailureClient

	// FailureCancelled means the caller aborted the call. Never reported
	// to the circuit breaker.
	FailureCancelled

	// FailureDecode means a frame could not be parsed, including a frame
	// that overflowed the reassembly buffer.
	FailureDecode
)

// String returns the string representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureNetwork:
		return "network"
	case FailureTimeout:
		return "timeout"
	case FailureRateLimited:
		return "rate_limited"
	case FailureServer:
		return "server_error"
	case FailureClient:
		return "client_error"
	case FailureCancelled:
		return "cancelled"
	case FailureDecode:
		return "decode_error"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt against the same model could
// reasonably succeed.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureNetwork, FailureTimeout, FailureRateLimited, FailureServer, FailureDecode:
		return true
	default:
		return false
	}
}

// Failure is the typed terminal error of a stream call.
//
// # Description
//
// Exactly one Failure crosses the component boundary per failed call; all
// retryable errors along the way are absorbed by the retry loop. Callers
// use Kind to decide between "try a different model" (any retryable kind,
// exhausted) and "reject the input" (FailureClient).
type Failure struct {
	// Kind is the failure classification.
	Kind FailureKind

	// Status is the HTTP status code, when one was received.
	Status int

	// RetryAfter is the provider's Retry-After hint, when present.
	RetryAfter time.Duration

	// Attempts is how many attempts were made before giving up.
	Attempts int

	// Err is the underlying cause.
	Err error
}

func (f *Failure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("stream %s (status %d, %d attempts): %v", f.Kind, f.Status, f.Attempts, f.Err)
	}
	return fmt.Sprintf("stream %s (%d attempts): %v", f.Kind, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether the failure kind permits another attempt.
func (f *Failure) Retryable() bool { return f.Kind.Retryable() }

// AsFailure extracts a *Failure from err, or nil.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return nil
}

// classifyStatus maps a non-200 HTTP response to a Failure.
func classifyStatus(status int, header http.Header, attempt int) *Failure {
	switch {
	case status == http.StatusTooManyRequests:
		return &Failure{
			Kind:       FailureRateLimited,
			Status:     status,
			RetryAfter: parseRetryAfter(header.Get("Retry-After")),
			Attempts:   attempt,
			Err:        fmt.Errorf("provider returned %d", status),
		}
	case status >= 500:
		return &Failure{
			Kind:     FailureServer,
			Status:   status,
			Attempts: attempt,
			Err:      fmt.Errorf("provider returned %d", status),
		}
	default:
		return &Failure{
			Kind:     FailureClient,
			Status:   status,
			Attempts: attempt,
			Err:      fmt.Errorf("provider returned %d", status),
		}
	}
}

// parseRetryAfter handles the delta-seconds form of Retry-After. The
// HTTP-date form is rare from model providers and is ignored.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
