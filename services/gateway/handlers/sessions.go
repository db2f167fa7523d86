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
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRelay/services/gateway/cache"
	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// =============================================================================
// Backend
// =============================================================================

// ErrSessionNotFound is returned for operations on unknown sessions.
var ErrSessionNotFound = errors.New("session not found")

// SessionBackend is the persistence boundary for session records.
//
// The gateway owns the cache in front of this backend, so every write
// method is paired with a cache invalidation event in the handler.
type SessionBackend interface {
	CreateSession(ctx context.Context, ownerID, title string) (datatypes.Session, error)
	UpdateSession(ctx context.Context, ownerID, sessionID, title string) (datatypes.Session, error)
	DeleteSession(ctx context.Context, ownerID, sessionID string) error
	ListSessions(ctx context.Context, ownerID string) ([]datatypes.Session, error)
	SaveMessage(ctx context.Context, ownerID, sessionID, role, content string) (datatypes.SessionMessage, error)
	DeleteMessage(ctx context.Context, ownerID, sessionID, messageID string) error
	Stats(ctx context.Context, ownerID string) (datatypes.SessionStats, error)
}

// MemorySessionBackend is a map-backed SessionBackend.
//
// # Thread Safety
//
// Safe for concurrent use via an internal mutex.
type MemorySessionBackend struct {
	mu       sync.Mutex
	sessions map[string]datatypes.Session
	messages map[string][]datatypes.SessionMessage
}

// NewMemorySessionBackend creates an empty in-memory backend.
func NewMemorySessionBackend() *MemorySessionBackend {
	return &MemorySessionBackend{
		sessions: make(map[string]datatypes.Session),
		messages: make(map[string][]datatypes.SessionMessage),
	}
}

func (b *MemorySessionBackend) CreateSession(_ context.Context, ownerID, title string) (datatypes.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	session := datatypes.Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.sessions[session.ID] = session
	return session, nil
}

func (b *MemorySessionBackend) UpdateSession(_ context.Context, ownerID, sessionID, title string) (datatypes.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	session, ok := b.sessions[sessionID]
	if !ok || session.OwnerID != ownerID {
		return datatypes.Session{}, ErrSessionNotFound
	}
	session.Title = title
	session.UpdatedAt = time.Now().UTC()
	b.sessions[sessionID] = session
	return session, nil
}

func (b *MemorySessionBackend) DeleteSession(_ context.Context, ownerID, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	session, ok := b.sessions[sessionID]
	if !ok || session.OwnerID != ownerID {
		return ErrSessionNotFound
	}
	delete(b.sessions, sessionID)
	delete(b.messages, sessionID)
	return nil
}

func (b *MemorySessionBackend) ListSessions(_ context.Context, ownerID string) ([]datatypes.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]datatypes.Session, 0)
	for _, session := range b.sessions {
		if session.OwnerID == ownerID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (b *MemorySessionBackend) SaveMessage(_ context.Context, ownerID, sessionID, role, content string) (datatypes.SessionMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	session, ok := b.sessions[sessionID]
	if !ok || session.OwnerID != ownerID {
		return datatypes.SessionMessage{}, ErrSessionNotFound
	}
	message := datatypes.SessionMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	b.messages[sessionID] = append(b.messages[sessionID], message)
	return message, nil
}

func (b *MemorySessionBackend) DeleteMessage(_ context.Context, ownerID, sessionID, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	session, ok := b.sessions[sessionID]
	if !ok || session.OwnerID != ownerID {
		return ErrSessionNotFound
	}
	stored := b.messages[sessionID]
	for i, message := range stored {
		if message.ID == messageID {
			b.messages[sessionID] = append(stored[:i], stored[i+1:]...)
			return nil
		}
	}
	return ErrSessionNotFound
}

func (b *MemorySessionBackend) Stats(_ context.Context, ownerID string) (datatypes.SessionStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var stats datatypes.SessionStats
	for id, session := range b.sessions {
		if session.OwnerID != ownerID {
			continue
		}
		stats.SessionCount++
		stats.MessageCount += len(b.messages[id])
	}
	return stats, nil
}

// =============================================================================
// Session Handler
// =============================================================================

const anonymousOwner = "anonymous"

// SessionHandler serves session CRUD plus the cached read endpoints.
//
// # Description
//
// Writes go straight to the backend and then emit the matching cache
// invalidation event. Reads for the list and stats endpoints go through
// the cache layer so repeated calls within the TTL skip the backend.
type SessionHandler struct {
	backend     SessionBackend
	layer       *cache.Layer
	invalidator *cache.Invalidator
}

// NewSessionHandler creates the session handler.
func NewSessionHandler(backend SessionBackend, layer *cache.Layer, invalidator *cache.Invalidator) *SessionHandler {
	return &SessionHandler{backend: backend, layer: layer, invalidator: invalidator}
}

// ownerID resolves the calling user. The gateway trusts the upstream
// proxy to set X-User-ID after authentication.
func ownerID(c *gin.Context) string {
	if id := c.GetHeader("X-User-ID"); id != "" {
		return id
	}
	return anonymousOwner
}

type sessionWriteRequest struct {
	Title string `json:"title" binding:"required,max=256"`
}

type messageWriteRequest struct {
	Role    string `json:"role" binding:"required,oneof=system user assistant"`
	Content string `json:"content" binding:"required"`
}

// HandleCreateSession handles POST /v1/sessions.
func (s *SessionHandler) HandleCreateSession(c *gin.Context) {
	var req sessionWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	owner := ownerID(c)
	session, err := s.backend.CreateSession(c.Request.Context(), owner, req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	s.invalidator.OnSessionCreate(c.Request.Context(), owner)
	c.JSON(http.StatusCreated, session)
}

// HandleUpdateSession handles PUT /v1/sessions/:id.
func (s *SessionHandler) HandleUpdateSession(c *gin.Context) {
	var req sessionWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	owner := ownerID(c)
	session, err := s.backend.UpdateSession(c.Request.Context(), owner, c.Param("id"), req.Title)
	if errors.Is(err, ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	s.invalidator.OnSessionUpdate(c.Request.Context(), owner)
	c.JSON(http.StatusOK, session)
}

// HandleDeleteSession handles DELETE /v1/sessions/:id.
func (s *SessionHandler) HandleDeleteSession(c *gin.Context) {
	owner := ownerID(c)
	err := s.backend.DeleteSession(c.Request.Context(), owner, c.Param("id"))
	if errors.Is(err, ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	s.invalidator.OnSessionDelete(c.Request.Context(), owner)
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// HandleSaveMessage handles POST /v1/sessions/:id/messages.
func (s *SessionHandler) HandleSaveMessage(c *gin.Context) {
	var req messageWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	owner := ownerID(c)
	message, err := s.backend.SaveMessage(c.Request.Context(), owner, c.Param("id"), req.Role, req.Content)
	if errors.Is(err, ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	s.invalidator.OnMessageSave(c.Request.Context(), owner)
	c.JSON(http.StatusCreated, message)
}

// HandleDeleteMessage handles DELETE /v1/sessions/:id/messages/:messageId.
func (s *SessionHandler) HandleDeleteMessage(c *gin.Context) {
	owner := ownerID(c)
	err := s.backend.DeleteMessage(c.Request.Context(), owner, c.Param("id"), c.Param("messageId"))
	if errors.Is(err, ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	s.invalidator.OnMessageDelete(c.Request.Context(), owner)
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// HandleListSessions handles GET /v1/sessions.
//
// The session list is cached per owner under the sessionsList category.
func (s *SessionHandler) HandleListSessions(c *gin.Context) {
	owner := ownerID(c)
	sessions, err := cache.GetOrLoad(c.Request.Context(), s.layer, cache.CategorySessionsList, owner, "all",
		func(ctx context.Context) ([]datatypes.Session, error) {
			return s.backend.ListSessions(ctx, owner)
		})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// HandleStats handles GET /v1/stats.
//
// Stats are cached per owner under the stats category.
func (s *SessionHandler) HandleStats(c *gin.Context) {
	owner := ownerID(c)
	stats, err := cache.GetOrLoad(c.Request.Context(), s.layer, cache.CategoryStats, owner, "summary",
		func(ctx context.Context) (datatypes.SessionStats, error) {
			return s.backend.Stats(ctx, owner)
		})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
