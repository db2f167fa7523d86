// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"log/slog"
)

// WriteEvent identifies a domain write that invalidates cached reads.
type WriteEvent string

const (
	EventSessionCreate WriteEvent = "session_create"
	EventSessionUpdate WriteEvent = "session_update"
	EventSessionDelete WriteEvent = "session_delete"
	EventMessageSave   WriteEvent = "message_save"
	EventMessageDelete WriteEvent = "message_delete"
)

// eventCategories maps each write event to the categories it makes stale.
// Invalidation is always scoped to the owner, never a full-store flush.
var eventCategories = map[WriteEvent][]string{
	EventSessionCreate: {CategoryStats, CategorySessionsList},
	EventSessionUpdate: {CategorySessionsList, CategorySearch},
	EventSessionDelete: {CategoryStats, CategorySessionsList, CategorySearch},
	EventMessageSave:   {CategoryStats, CategorySearch, CategoryUserProfile},
	EventMessageDelete: {CategoryStats, CategorySearch},
}

// Invalidator maps domain write events to owner-scoped cache
// invalidation.
//
// # Description
//
// Invalidation is best-effort: the originating write has already
// committed by the time an event arrives, so a failed invalidation is
// logged and dropped. Affected entries then age out at their category
// TTL, which bounds staleness.
type Invalidator struct {
	layer *Layer
}

// NewInvalidator creates an invalidator over layer.
func NewInvalidator(layer *Layer) *Invalidator {
	return &Invalidator{layer: layer}
}

// OnEvent invalidates every category the event maps to, scoped to owner.
// Unknown events are ignored.
func (i *Invalidator) OnEvent(ctx context.Context, event WriteEvent, ownerScope string) {
	for _, category := range eventCategories[event] {
		if err := i.layer.Invalidate(ctx, category, ownerScope); err != nil {
			slog.Warn("cache invalidation failed, entries expire at TTL",
				"event", string(event),
				"category", category,
				"owner", ownerScope,
				"error", err)
		}
	}
}

// OnSessionCreate invalidates stats and session lists for owner.
func (i *Invalidator) OnSessionCreate(ctx context.Context, ownerScope string) {
	i.OnEvent(ctx, EventSessionCreate, ownerScope)
}

// OnSessionUpdate invalidates session lists and search results for owner.
func (i *Invalidator) OnSessionUpdate(ctx context.Context, ownerScope string) {
	i.OnEvent(ctx, EventSessionUpdate, ownerScope)
}

// OnSessionDelete invalidates stats, session lists, and search results.
func (i *Invalidator) OnSessionDelete(ctx context.Context, ownerScope string) {
	i.OnEvent(ctx, EventSessionDelete, ownerScope)
}

// OnMessageSave invalidates stats, search results, and the user profile.
func (i *Invalidator) OnMessageSave(ctx context.Context, ownerScope string) {
	i.OnEvent(ctx, EventMessageSave, ownerScope)
}

// OnMessageDelete invalidates stats and search results for owner.
func (i *Invalidator) OnMessageDelete(ctx context.Context, ownerScope string) {
	i.OnEvent(ctx, EventMessageDelete, ownerScope)
}
