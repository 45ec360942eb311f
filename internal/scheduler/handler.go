// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package scheduler

import (
	"context"

	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/queue"
)

// HandleTask adapts Run to a queue handler. A returned NextRun is enqueued as
// the integration's next sync; Run's error is returned for the queue to retry.
func (s *SyncScheduler) HandleTask(enq queue.Enqueuer) queue.HandlerFunc {
	return func(ctx context.Context, task queue.Task) error {
		next, err := s.Run(ctx, task.Key)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		if err := enq.Enqueue(context.WithoutCancel(ctx), queue.NewSyncTask(task.Key, next.Delay)); err != nil {
			// The sweeper picks the integration up again on its next pass.
			logging.Ctx(ctx, s.logger).Error().
				Err(err).
				Str("integration_id", task.Key).
				Dur("delay", next.Delay).
				Msg("Failed to enqueue next sync")
		}
		return nil
	}
}
