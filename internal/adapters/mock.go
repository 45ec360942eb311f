// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package adapters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/leadsync/internal/models"
)

// MockAdapter serves the "mock" platform. Without a SyncFunc it returns one
// synthetic item per call and a cursor counting calls.
type MockAdapter struct {
	// SyncFunc overrides the default behavior when set.
	SyncFunc func(ctx context.Context, creds models.Credentials, cursor string) (models.SyncResult, error)

	mu      sync.Mutex
	calls   int
	cursors []string
}

func (m *MockAdapter) Platform() models.Platform { return models.PlatformMock }

func (m *MockAdapter) Sync(ctx context.Context, creds models.Credentials, cursor string) (models.SyncResult, error) {
	m.mu.Lock()
	m.calls++
	m.cursors = append(m.cursors, cursor)
	fn := m.SyncFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, creds, cursor)
	}

	n, _ := strconv.Atoi(cursor)
	item, _ := json.Marshal(map[string]interface{}{
		"id":         "mock-" + strconv.Itoa(n+1),
		"account":    creds.ExternalAccountID,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
	return models.SyncResult{
		ItemCount:  1,
		NextCursor: strconv.Itoa(n + 1),
		RawItems:   []json.RawMessage{item},
	}, nil
}

// Calls returns how many times Sync ran.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Cursors returns the cursor passed to each call.
func (m *MockAdapter) Cursors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cursors...)
}
