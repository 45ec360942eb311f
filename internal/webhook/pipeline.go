// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package webhook receives inbound platform webhooks and processes them
// through the delivery state machine:
//
//	pending -> processing -> processed | failed
//
// Receive is idempotent on (integration, external event ID). Process claims a
// pending delivery, parses it, hands the records to a RecordSink and bumps
// the owning integration in one atomic update. A failed delivery stays failed
// until an administrator calls Reset. There is no HTTP transport here.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/leadsync/internal/activity"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/metrics"
	"github.com/tomtom215/leadsync/internal/models"
	"github.com/tomtom215/leadsync/internal/syncerr"
)

// DefaultMaxPayloadBytes bounds a payload accepted by Receive.
const DefaultMaxPayloadBytes = 1 << 20

var (
	// ErrPayloadTooLarge is returned by Receive for oversized payloads.
	ErrPayloadTooLarge = errors.New("webhook payload too large")

	// ErrPlatformMismatch is returned when a webhook names a different platform than its integration.
	ErrPlatformMismatch = errors.New("webhook platform does not match integration")

	// ErrNotFailed is returned by Reset for a delivery that is not failed.
	ErrNotFailed = errors.New("delivery is not failed")

	// ErrMissingEventID is returned by Receive without an external event ID.
	ErrMissingEventID = errors.New("external event id is required")

	// ErrInvalidPayload is returned by Receive for a payload that is not JSON.
	ErrInvalidPayload = errors.New("webhook payload is not valid JSON")

	errNotPending = errors.New("delivery is not pending")
)

// Store is the persistence the pipeline needs.
type Store interface {
	GetIntegration(ctx context.Context, id string) (*models.Integration, error)
	UpdateIntegration(ctx context.Context, id string, fn func(*models.Integration) error) (*models.Integration, error)
	CreateOrGetDelivery(ctx context.Context, d *models.WebhookDelivery) (*models.WebhookDelivery, bool, error)
	GetDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error)
	UpdateDelivery(ctx context.Context, id string, fn func(*models.WebhookDelivery) error) (*models.WebhookDelivery, error)
}

// RecordSink receives parsed records. Business record persistence lives
// behind it.
type RecordSink interface {
	Store(ctx context.Context, integrationID string, records []Record) error
}

// NopSink discards records.
type NopSink struct{}

func (NopSink) Store(context.Context, string, []Record) error { return nil }

// Options configures a Pipeline.
type Options struct {
	Parser          Parser
	Sink            RecordSink
	Activity        activity.Logger
	MaxPayloadBytes int
	Logger          zerolog.Logger
}

// Pipeline implements Receive, Process and Reset.
type Pipeline struct {
	store      Store
	parser     Parser
	sink       RecordSink
	activity   activity.Logger
	maxPayload int
	logger     zerolog.Logger
	now        func() time.Time
}

// NewPipeline returns a Pipeline backed by st.
//
//nolint:gocritic // Options passed once at construction
func NewPipeline(st Store, opts Options) *Pipeline {
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Activity == nil {
		opts.Activity = activity.Nop{}
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	return &Pipeline{
		store:      st,
		parser:     opts.Parser,
		sink:       opts.Sink,
		activity:   opts.Activity,
		maxPayload: opts.MaxPayloadBytes,
		logger:     opts.Logger.With().Str("component", "webhook").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Receive records an inbound delivery as pending. A repeat of the same
// (integrationID, externalEventID) returns the original delivery unchanged.
func (p *Pipeline) Receive(ctx context.Context, integrationID string, platform models.Platform, raw []byte, externalEventID string) (*models.WebhookDelivery, error) {
	if strings.TrimSpace(externalEventID) == "" {
		return nil, ErrMissingEventID
	}
	if len(raw) > p.maxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(raw))
	}
	if !json.Valid(raw) {
		return nil, ErrInvalidPayload
	}

	in, err := p.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if in.Platform != platform {
		return nil, fmt.Errorf("%w: %s webhook for %s integration", ErrPlatformMismatch, platform, in.Platform)
	}

	now := p.now()
	d, created, err := p.store.CreateOrGetDelivery(ctx, &models.WebhookDelivery{
		ID:              uuid.NewString(),
		IntegrationID:   integrationID,
		Platform:        platform,
		ExternalEventID: externalEventID,
		Status:          models.DeliveryPending,
		Payload:         append([]byte(nil), raw...),
		ReceivedAt:      now,
		UpdatedAt:       now,
	})
	if err != nil {
		return nil, err
	}

	if created {
		metrics.RecordWebhook(string(platform), "received")
		logging.Ctx(ctx, p.logger).Debug().
			Str("delivery_id", d.ID).
			Str("integration_id", integrationID).
			Str("external_event_id", externalEventID).
			Msg("Webhook received")
	} else {
		metrics.RecordWebhook(string(platform), "duplicate")
		logging.Ctx(ctx, p.logger).Debug().
			Str("delivery_id", d.ID).
			Str("external_event_id", externalEventID).
			Str("status", string(d.Status)).
			Msg("Duplicate webhook ignored")
	}
	return d, nil
}

// Process runs a pending delivery to processed or failed. It is a no-op for
// any other status. Failures are returned as syncerr.FatalError: the delivery
// is already failed, so retrying the same task cannot help.
func (p *Pipeline) Process(ctx context.Context, deliveryID string) error {
	started := p.now()

	d, err := p.store.UpdateDelivery(ctx, deliveryID, func(d *models.WebhookDelivery) error {
		if d.Status != models.DeliveryPending {
			return errNotPending
		}
		d.Status = models.DeliveryProcessing
		d.Attempts++
		return nil
	})
	if errors.Is(err, errNotPending) {
		logging.Ctx(ctx, p.logger).Debug().Str("delivery_id", deliveryID).Msg("Delivery not pending, nothing to do")
		return nil
	}
	if err != nil {
		return err
	}

	log := logging.Ctx(ctx, p.logger.With().
		Str("delivery_id", d.ID).
		Str("integration_id", d.IntegrationID).
		Str("platform", string(d.Platform)).
		Logger())

	// Everything after the claim must reach a terminal status even if ctx expires.
	detached := context.WithoutCancel(ctx)

	records, err := p.handle(ctx, d)
	if err != nil {
		return p.markFailed(detached, d, err, log)
	}

	if _, err := p.store.UpdateIntegration(detached, d.IntegrationID, func(in *models.Integration) error {
		now := p.now()
		if in.LastSyncAt == nil || in.LastSyncAt.Before(now) {
			in.LastSyncAt = models.TimePtr(now)
		}
		in.TotalSyncedItems += int64(len(records))
		return nil
	}); err != nil {
		return p.markFailed(detached, d, fmt.Errorf("update integration: %w", err), log)
	}

	if _, err := p.store.UpdateDelivery(detached, d.ID, func(cur *models.WebhookDelivery) error {
		if cur.Status != models.DeliveryProcessing {
			return fmt.Errorf("delivery left processing unexpectedly: %s", cur.Status)
		}
		cur.Status = models.DeliveryProcessed
		cur.ProcessedAt = models.TimePtr(p.now())
		cur.FailureReason = ""
		return nil
	}); err != nil {
		return fmt.Errorf("mark delivery processed: %w", err)
	}

	elapsed := p.now().Sub(started)
	metrics.RecordWebhook(string(d.Platform), "processed")
	metrics.RecordWebhookProcessing(string(d.Platform), elapsed)
	p.activity.Log(detached, d.IntegrationID, models.ActivityWebhookProcessed, fmt.Sprintf("%d records", len(records)))
	log.Info().Int("records", len(records)).Dur("duration", elapsed).Msg("Webhook processed")
	return nil
}

func (p *Pipeline) handle(ctx context.Context, d *models.WebhookDelivery) ([]Record, error) {
	if p.parser == nil {
		return nil, errors.New("no webhook parser configured")
	}
	records, err := p.parser.Parse(ctx, d.Platform, d.Payload)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := p.sink.Store(ctx, d.IntegrationID, records); err != nil {
		return nil, fmt.Errorf("store records: %w", err)
	}
	return records, nil
}

func (p *Pipeline) markFailed(ctx context.Context, d *models.WebhookDelivery, cause error, log *zerolog.Logger) error {
	reason := cause.Error()
	if _, err := p.store.UpdateDelivery(ctx, d.ID, func(cur *models.WebhookDelivery) error {
		if cur.Status != models.DeliveryProcessing {
			return fmt.Errorf("delivery left processing unexpectedly: %s", cur.Status)
		}
		cur.Status = models.DeliveryFailed
		cur.FailureReason = reason
		return nil
	}); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("Failed to mark delivery failed")
		return errors.Join(cause, err)
	}

	metrics.RecordWebhook(string(d.Platform), "failed")
	p.activity.Log(ctx, d.IntegrationID, models.ActivityWebhookFailed, reason)
	log.Warn().Err(cause).Msg("Webhook processing failed")
	return syncerr.Fatal(string(d.Platform), cause)
}

// Reset returns a failed delivery to pending so it can be processed again.
// The caller is responsible for enqueueing it.
func (p *Pipeline) Reset(ctx context.Context, deliveryID string) (*models.WebhookDelivery, error) {
	d, err := p.store.UpdateDelivery(ctx, deliveryID, func(d *models.WebhookDelivery) error {
		if d.Status != models.DeliveryFailed {
			return fmt.Errorf("%w: %s", ErrNotFailed, d.Status)
		}
		d.Status = models.DeliveryPending
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordWebhook(string(d.Platform), "reset")
	logging.Ctx(ctx, p.logger).Info().
		Str("delivery_id", d.ID).
		Str("previous_failure", d.FailureReason).
		Msg("Webhook delivery reset to pending")
	return d, nil
}

// Get returns a delivery.
func (p *Pipeline) Get(ctx context.Context, deliveryID string) (*models.WebhookDelivery, error) {
	return p.store.GetDelivery(ctx, deliveryID)
}
