// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package adapters contains the per-platform sync adapters and their registry.
//
// An adapter pulls one batch of new activity for an integration, starting at
// an opaque cursor that only the same adapter understands, and returns the
// items plus the cursor to resume from. The returned cursor replaces the stored
// one as is, so an adapter that saw nothing new returns its input cursor. When
// a run stops at its page budget the cursor must resume the unfinished walk
// rather than jump to the newest item. Every error an adapter returns is one
// of the syncerr kinds:
//
//	401/403                -> syncerr.AuthError
//	429                    -> syncerr.RateLimitError (ResetAt from Retry-After)
//	5xx, network, timeouts -> syncerr.TransientError
//	other 4xx, bad payload -> syncerr.FatalError
//
// HTTP adapters share Client, which adds a per-platform token bucket
// (x/time/rate), a circuit breaker (sony/gobreaker) and a 30s timeout.
package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/leadsync/internal/models"
	"github.com/tomtom215/leadsync/internal/syncerr"
)

// PlatformSyncAdapter pulls activity from one external platform.
type PlatformSyncAdapter interface {
	Platform() models.Platform
	Sync(ctx context.Context, creds models.Credentials, cursor string) (models.SyncResult, error)
}

// Registry dispatches syncs by platform.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Platform]PlatformSyncAdapter
}

// NewRegistry returns a registry holding adapters.
func NewRegistry(adapters ...PlatformSyncAdapter) *Registry {
	r := &Registry{adapters: make(map[models.Platform]PlatformSyncAdapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Platform().
func (r *Registry) Register(a PlatformSyncAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Platform()] = a
}

// Get returns the adapter for platform.
func (r *Registry) Get(platform models.Platform) (PlatformSyncAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[platform]
	return a, ok
}

// Platforms lists registered platforms in sorted order.
func (r *Registry) Platforms() []models.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sync dispatches to the adapter for platform. An unregistered platform is fatal.
func (r *Registry) Sync(ctx context.Context, platform models.Platform, creds models.Credentials, cursor string) (models.SyncResult, error) {
	a, ok := r.Get(platform)
	if !ok {
		return models.SyncResult{}, syncerr.Fatal(string(platform), fmt.Errorf("no adapter registered for platform %q", platform))
	}
	return a.Sync(ctx, creds, cursor)
}
