// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package activity is the append-only audit trail of integration lifecycle
// events (sync_started, sync_completed, suspended, ...).
//
// Writes are best effort. Log never blocks and never fails the caller: events
// go through a bounded buffer and are flushed to a Store in batches by the
// BufferedLogger service. When the buffer is full the event is dropped and
// counted in activity_events_dropped_total.
package activity

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/leadsync/internal/models"
)

// Logger records one activity event.
type Logger interface {
	Log(ctx context.Context, integrationID string, eventType models.ActivityEventType, message string)
}

// Store persists activity events.
type Store interface {
	InsertActivity(ctx context.Context, events []models.ActivityEvent) error
	Recent(ctx context.Context, integrationID string, limit int) ([]models.ActivityEvent, error)
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Log(context.Context, string, models.ActivityEventType, string) {}

// MemoryStore keeps events in process. Used in development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events []models.ActivityEvent

	// FailWith, when set, is returned from InsertActivity.
	FailWith error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) InsertActivity(_ context.Context, events []models.ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.events = append(m.events, events...)
	return nil
}

// Recent returns the newest events for integrationID, newest first.
func (m *MemoryStore) Recent(_ context.Context, integrationID string, limit int) ([]models.ActivityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ActivityEvent
	for _, e := range m.events {
		if e.IntegrationID == integrationID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns a copy of every stored event in insertion order.
func (m *MemoryStore) All() []models.ActivityEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ActivityEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemoryStore) Close() error { return nil }
