// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/metrics"
	"github.com/tomtom215/leadsync/internal/models"
)

const (
	DefaultBufferSize    = 1000
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second

	flushTimeout = 10 * time.Second
)

// BufferedLogger implements Logger on top of a Store. It is a suture service:
// Serve drains the buffer until its context is cancelled, then flushes what
// is left.
type BufferedLogger struct {
	store         Store
	events        chan models.ActivityEvent
	batchSize     int
	flushInterval time.Duration
	logger        zerolog.Logger
	now           func() time.Time
}

// BufferedLoggerConfig configures NewBufferedLogger.
type BufferedLoggerConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Logger        zerolog.Logger
}

// NewBufferedLogger returns a logger writing to store.
//
//nolint:gocritic // config passed once at construction
func NewBufferedLogger(store Store, cfg BufferedLoggerConfig) *BufferedLogger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	return &BufferedLogger{
		store:         store,
		events:        make(chan models.ActivityEvent, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Log enqueues an event without blocking. A full buffer drops the event.
func (b *BufferedLogger) Log(ctx context.Context, integrationID string, eventType models.ActivityEventType, message string) {
	event := models.ActivityEvent{
		ID:            uuid.NewString(),
		IntegrationID: integrationID,
		Type:          eventType,
		Message:       message,
		CorrelationID: logging.CorrelationIDFromContext(ctx),
		Timestamp:     b.now(),
	}
	select {
	case b.events <- event:
	default:
		metrics.RecordActivityDrop()
		b.logger.Warn().
			Str("integration_id", integrationID).
			Str("event_type", string(eventType)).
			Msg("Activity buffer full, event dropped")
	}
}

// Serve flushes batches until ctx is cancelled.
func (b *BufferedLogger) Serve(ctx context.Context) error {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]models.ActivityEvent, 0, b.batchSize)
	for {
		select {
		case <-ctx.Done():
			batch = b.drain(batch)
			b.flush(batch)
			return ctx.Err()
		case e := <-b.events:
			batch = append(batch, e)
			if len(batch) >= b.batchSize {
				b.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (b *BufferedLogger) drain(batch []models.ActivityEvent) []models.ActivityEvent {
	for {
		select {
		case e := <-b.events:
			batch = append(batch, e)
		default:
			return batch
		}
	}
}

// flush writes batch with its own timeout; the service context may already be done.
func (b *BufferedLogger) flush(batch []models.ActivityEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := b.store.InsertActivity(ctx, batch); err != nil {
		metrics.RecordActivityWriteError()
		b.logger.Error().Err(err).Int("events", len(batch)).Msg("Failed to write activity events")
	}
}

// Pending returns the number of buffered events.
func (b *BufferedLogger) Pending() int {
	return len(b.events)
}

func (b *BufferedLogger) String() string {
	return "activity-flusher"
}
