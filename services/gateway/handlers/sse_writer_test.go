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
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

func TestSetSSEHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetSSEHeaders(w)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
}

func TestSSEWriter_EventFormat(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, writer.WriteToken("hello"))

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: token\ndata: "), "got %q", body)
	assert.True(t, strings.HasSuffix(body, "\n\n"), "frame must end with blank line")
	assert.Contains(t, body, `"content":"hello"`)
}

func TestSSEWriter_HashChain(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, writer.WriteStatus("starting"))
	require.NoError(t, writer.WriteToken("a"))
	require.NoError(t, writer.WriteDone("req-1", datatypes.ModelKey("ollama/llama3")))

	events := parseSSEEvents(t, w.Body.String())
	require.Len(t, events, 3)

	assert.Empty(t, events[0].PrevHash)
	assert.NotEmpty(t, events[0].Hash)
	assert.Equal(t, events[0].Hash, events[1].PrevHash)
	assert.Equal(t, events[1].Hash, events[2].PrevHash)

	for _, event := range events {
		assert.NotEmpty(t, event.Id)
		assert.NotZero(t, event.CreatedAt)
	}
}

func TestSSEWriter_KeepAliveIsComment(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, writer.WriteToken("a"))
	firstHash := parseSSEEvents(t, w.Body.String())[0].Hash

	require.NoError(t, writer.WriteKeepAlive())
	require.NoError(t, writer.WriteToken("b"))

	body := w.Body.String()
	assert.Contains(t, body, ": ping\n\n")

	// The comment must not participate in the hash chain.
	events := parseSSEEvents(t, body)
	require.Len(t, events, 2)
	assert.Equal(t, firstHash, events[1].PrevHash)
}
