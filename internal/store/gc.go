// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package store

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// GarbageCollector periodically reclaims badger value log space.
// It implements suture.Service.
type GarbageCollector struct {
	store    *Store
	interval time.Duration
	ratio    float64
}

// NewGarbageCollector returns a collector running every interval.
func NewGarbageCollector(s *Store, interval time.Duration) *GarbageCollector {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GarbageCollector{store: s, interval: interval, ratio: 0.5}
}

// Serve runs until ctx is canceled.
func (g *GarbageCollector) Serve(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.RunOnce()
		}
	}
}

// RunOnce collects until badger reports nothing left to rewrite.
func (g *GarbageCollector) RunOnce() {
	if g.store.closed.Load() || g.store.db.Opts().InMemory {
		return
	}
	rewrites := 0
	for {
		err := g.store.db.RunValueLogGC(g.ratio)
		if err == nil {
			rewrites++
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) {
			g.store.logger.Warn().Err(err).Msg("Value log GC failed")
		}
		break
	}
	if rewrites > 0 {
		g.store.logger.Debug().Int("rewrites", rewrites).Msg("Value log GC completed")
	}
}

func (g *GarbageCollector) String() string {
	return "store-gc"
}
