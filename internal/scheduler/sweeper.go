// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/leadsync/internal/metrics"
	"github.com/tomtom215/leadsync/internal/models"
	"github.com/tomtom215/leadsync/internal/queue"
)

// Default sweeper timings.
const (
	DefaultSweepInterval          = time.Minute
	DefaultStuckDeliveryThreshold = 10 * time.Minute
)

// SweepSource lists what the sweeper reconciles.
type SweepSource interface {
	ListIntegrations(ctx context.Context) ([]*models.Integration, error)
	ListDeliveriesByStatus(ctx context.Context, status models.DeliveryStatus) ([]*models.WebhookDelivery, error)
}

// LiveTasks reports whether a task is pending or leased for a key.
type LiveTasks interface {
	HasLive(ctx context.Context, name, key string) (bool, error)
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	SyncsEnqueued      int
	DeliveriesEnqueued int
	StuckDeliveries    int
}

// Sweeper re-enqueues work the queue lost track of: integrations whose next
// sync is due but have no live task (retries exhausted, enqueue failed, or
// never scheduled) and pending deliveries with no processing task. It also
// reports deliveries stuck in processing. It never changes their status.
type Sweeper struct {
	source         SweepSource
	live           LiveTasks
	enq            queue.Enqueuer
	interval       time.Duration
	stuckThreshold time.Duration
	logger         zerolog.Logger
	now            func() time.Time
}

// NewSweeper returns a Sweeper. Non-positive durations use the defaults.
func NewSweeper(source SweepSource, live LiveTasks, enq queue.Enqueuer, interval, stuckThreshold time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if stuckThreshold <= 0 {
		stuckThreshold = DefaultStuckDeliveryThreshold
	}
	return &Sweeper{
		source:         source,
		live:           live,
		enq:            enq,
		interval:       interval,
		stuckThreshold: stuckThreshold,
		logger:         logger.With().Str("component", "sweeper").Logger(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (w *Sweeper) WithClock(now func() time.Time) *Sweeper {
	w.now = now
	return w
}

// Serve implements suture.Service.
func (w *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Sweeper) String() string {
	return "sync-sweeper"
}

// SweepOnce runs one reconciliation pass.
func (w *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	syncs, err := w.sweepIntegrations(ctx)
	stats.SyncsEnqueued = syncs
	if err != nil {
		return stats, err
	}

	stats.StuckDeliveries, stats.DeliveriesEnqueued, err = w.sweepDeliveries(ctx)
	if err != nil {
		return stats, err
	}

	if stats.SyncsEnqueued > 0 || stats.DeliveriesEnqueued > 0 {
		w.logger.Info().
			Int("syncs", stats.SyncsEnqueued).
			Int("deliveries", stats.DeliveriesEnqueued).
			Msg("Sweeper re-enqueued work")
	}
	return stats, nil
}

func (w *Sweeper) sweepIntegrations(ctx context.Context) (int, error) {
	integrations, err := w.source.ListIntegrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list integrations: %w", err)
	}

	now := w.now()
	enqueued := 0
	for _, in := range integrations {
		due, ok := w.nextSyncAt(in)
		if !ok || due.After(now) {
			continue
		}
		live, err := w.live.HasLive(ctx, queue.TaskSync, in.ID)
		if err != nil {
			return enqueued, err
		}
		if live {
			continue
		}
		if err := w.enq.Enqueue(ctx, queue.NewSyncTask(in.ID, 0)); err != nil {
			return enqueued, fmt.Errorf("enqueue sync %s: %w", in.ID, err)
		}
		enqueued++
	}
	return enqueued, nil
}

// nextSyncAt is when in is next due, or false when it is not scheduled at all.
func (w *Sweeper) nextSyncAt(in *models.Integration) (time.Time, bool) {
	if !in.Enabled || (in.Status != models.StatusConnected && in.Status != models.StatusError) {
		return time.Time{}, false
	}
	if in.RateLimitResetAt != nil && in.RateLimitResetAt.After(w.now()) {
		return *in.RateLimitResetAt, true
	}
	freq, ok := in.SyncFrequency.Duration()
	if !ok {
		return time.Time{}, false
	}
	if in.LastSyncAt == nil {
		return in.CreatedAt, true
	}
	return in.LastSyncAt.Add(freq), true
}

func (w *Sweeper) sweepDeliveries(ctx context.Context) (stuck, enqueued int, err error) {
	now := w.now()

	processing, err := w.source.ListDeliveriesByStatus(ctx, models.DeliveryProcessing)
	if err != nil {
		return 0, 0, fmt.Errorf("list processing deliveries: %w", err)
	}
	for _, d := range processing {
		if now.Sub(d.UpdatedAt) < w.stuckThreshold {
			continue
		}
		stuck++
		w.logger.Warn().
			Str("delivery_id", d.ID).
			Str("integration_id", d.IntegrationID).
			Dur("age", now.Sub(d.UpdatedAt)).
			Msg("Webhook delivery stuck in processing")
	}
	metrics.WebhookStuckDeliveries.Set(float64(stuck))

	pending, err := w.source.ListDeliveriesByStatus(ctx, models.DeliveryPending)
	if err != nil {
		return stuck, 0, fmt.Errorf("list pending deliveries: %w", err)
	}
	for _, d := range pending {
		// Fresh deliveries are still being enqueued by the receiver.
		if now.Sub(d.UpdatedAt) < w.interval {
			continue
		}
		live, err := w.live.HasLive(ctx, queue.TaskWebhook, d.ID)
		if err != nil {
			return stuck, enqueued, err
		}
		if live {
			continue
		}
		if err := w.enq.Enqueue(ctx, queue.NewWebhookTask(d.ID)); err != nil {
			return stuck, enqueued, fmt.Errorf("enqueue delivery %s: %w", d.ID, err)
		}
		enqueued++
	}
	return stuck, enqueued, nil
}
