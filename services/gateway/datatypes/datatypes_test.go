// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestModelKey_Parts(t *testing.T) {
	key := NewModelKey("openai", "gpt-4o")
	if key != "openai/gpt-4o" {
		t.Fatalf("NewModelKey = %q", key)
	}
	if key.Provider() != "openai" {
		t.Errorf("Provider() = %q", key.Provider())
	}
	if key.Model() != "gpt-4o" {
		t.Errorf("Model() = %q", key.Model())
	}

	// Bare model names keep working.
	bare := ModelKey("llama3")
	if bare.Provider() != "" {
		t.Errorf("bare Provider() = %q", bare.Provider())
	}
	if bare.Model() != "llama3" {
		t.Errorf("bare Model() = %q", bare.Model())
	}

	// Model names can themselves contain slashes and colons.
	tagged := ModelKey("ollama/granite4:micro-h")
	if tagged.Model() != "granite4:micro-h" {
		t.Errorf("tagged Model() = %q", tagged.Model())
	}
}

func TestModelKey_Validate(t *testing.T) {
	cases := []struct {
		key     ModelKey
		wantErr bool
	}{
		{"openai/gpt-4o", false},
		{"llama3", false},
		{"", true},
		{"   ", true},
		{"openai/", true},
	}
	for _, tc := range cases {
		err := tc.key.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("Validate(%q) = nil, want error", tc.key)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("Validate(%q) = %v, want nil", tc.key, err)
		}
	}
}

func validRequest() ChatStreamRequest {
	return ChatStreamRequest{
		RequestID: uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Model:     "ollama/llama3",
		Messages:  []Message{{Role: "user", Content: "hi"}},
	}
}

func TestChatStreamRequest_Validate(t *testing.T) {
	valid := validRequest()
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	broken := validRequest()
	broken.RequestID = "not-a-uuid"
	if err := broken.Validate(); err == nil {
		t.Error("non-uuid request id accepted")
	}

	broken = validRequest()
	broken.Messages = nil
	if err := broken.Validate(); err == nil {
		t.Error("empty messages accepted")
	}

	broken = validRequest()
	broken.Messages[0].Role = "robot"
	if err := broken.Validate(); err == nil {
		t.Error("unknown role accepted")
	}

	broken = validRequest()
	broken.Messages[0].Content = strings.Repeat("x", 33*1024)
	if err := broken.Validate(); err == nil {
		t.Error("oversized message accepted")
	}
}

func TestChatStreamRequest_Candidates(t *testing.T) {
	request := validRequest()
	request.Fallbacks = []string{
		"openai/gpt-4o",
		"ollama/llama3", // duplicate of the preferred model
		"openai/gpt-4o", // duplicate fallback
		"ollama/mistral",
	}

	got := request.Candidates()
	want := []ModelKey{"ollama/llama3", "openai/gpt-4o", "ollama/mistral"}
	if len(got) != len(want) {
		t.Fatalf("Candidates() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Candidates()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
