// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package engine is the entry point for everything outside the core:
// the admin API, the CLI, and the platform webhook receivers. It pairs each
// state change with the enqueue that must follow it and registers the queue
// handlers that drive the scheduler and the webhook pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/leadsync/internal/activity"
	"github.com/tomtom215/leadsync/internal/integration"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/models"
	"github.com/tomtom215/leadsync/internal/queue"
	"github.com/tomtom215/leadsync/internal/scheduler"
	"github.com/tomtom215/leadsync/internal/webhook"
)

var (
	// ErrInactive is returned by RequestSync for a suspended, disconnected or disabled integration.
	ErrInactive = errors.New("integration is not active")

	// ErrMissingAccessToken is returned by Connect without an access token.
	ErrMissingAccessToken = errors.New("access token is required")
)

// IntegrationStore is the subset of the store the engine mutates directly.
type IntegrationStore interface {
	CreateIntegration(ctx context.Context, in *models.Integration) error
	GetIntegration(ctx context.Context, id string) (*models.Integration, error)
	UpdateIntegration(ctx context.Context, id string, fn func(*models.Integration) error) (*models.Integration, error)
}

// TaskQueue is the queue surface the engine uses.
type TaskQueue interface {
	queue.Enqueuer
	Handle(name string, fn queue.HandlerFunc)
	DeadLetters(ctx context.Context) ([]queue.Task, error)
}

// Sealer encrypts tokens into an integration.
type Sealer interface {
	Seal(in *models.Integration, tok models.Token) error
}

// Deps are the engine's collaborators.
type Deps struct {
	Store        IntegrationStore
	Vault        Sealer
	StateMachine *integration.StateMachine
	Scheduler    *scheduler.SyncScheduler
	Pipeline     *webhook.Pipeline
	Queue        TaskQueue
	Activity     activity.Logger
	// History is optional; without it Activity returns an empty list.
	History activity.Store
	Logger  zerolog.Logger
}

// Engine coordinates state changes with the queue.
type Engine struct {
	store     IntegrationStore
	vault     Sealer
	sm        *integration.StateMachine
	scheduler *scheduler.SyncScheduler
	pipeline  *webhook.Pipeline
	queue     TaskQueue
	activity  activity.Logger
	history   activity.Store
	logger    zerolog.Logger
}

// New returns an Engine.
//
//nolint:gocritic // Deps passed once at construction
func New(d Deps) *Engine {
	if d.Activity == nil {
		d.Activity = activity.Nop{}
	}
	return &Engine{
		store:     d.Store,
		vault:     d.Vault,
		sm:        d.StateMachine,
		scheduler: d.Scheduler,
		pipeline:  d.Pipeline,
		queue:     d.Queue,
		activity:  d.Activity,
		history:   d.History,
		logger:    d.Logger.With().Str("component", "engine").Logger(),
	}
}

// RegisterHandlers wires the sync and webhook task handlers into the queue.
func (e *Engine) RegisterHandlers() {
	e.queue.Handle(queue.TaskSync, e.scheduler.HandleTask(e.queue))
	e.queue.Handle(queue.TaskWebhook, func(ctx context.Context, task queue.Task) error {
		return e.pipeline.Process(ctx, task.Key)
	})
}

// Connection describes an integration to create.
type Connection struct {
	UserID            string
	Platform          models.Platform
	ExternalAccountID string
	SyncFrequency     models.SyncFrequency
	Token             models.Token
}

// Connect creates a connected, enabled integration with sealed tokens and
// schedules its first sync.
//
//nolint:gocritic // Connection passed once per request
func (e *Engine) Connect(ctx context.Context, c Connection) (*models.Integration, error) {
	if c.Token.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	if e.vault == nil {
		return nil, errors.New("engine has no credential vault")
	}

	in := &models.Integration{
		ID:                uuid.NewString(),
		UserID:            c.UserID,
		Platform:          c.Platform,
		ExternalAccountID: c.ExternalAccountID,
		Status:            models.StatusConnected,
		Enabled:           true,
		SyncFrequency:     c.SyncFrequency,
	}
	if err := e.vault.Seal(in, c.Token); err != nil {
		return nil, fmt.Errorf("seal tokens: %w", err)
	}
	if err := e.store.CreateIntegration(ctx, in); err != nil {
		return nil, err
	}

	e.activity.Log(ctx, in.ID, models.ActivityConnected, string(in.Platform))
	e.afterActivation(ctx, in)
	return in, nil
}

// GetIntegration returns an integration.
func (e *Engine) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	return e.store.GetIntegration(ctx, id)
}

// RequestSync enqueues an immediate sync. It merges with an already pending sync.
func (e *Engine) RequestSync(ctx context.Context, id string) (queue.Task, error) {
	in, err := e.store.GetIntegration(ctx, id)
	if err != nil {
		return queue.Task{}, err
	}
	if !in.Enabled || (in.Status != models.StatusConnected && in.Status != models.StatusError) {
		return queue.Task{}, fmt.Errorf("%w: %s", ErrInactive, in.Status)
	}
	task := queue.NewSyncTask(id, 0)
	if err := e.queue.Enqueue(ctx, task); err != nil {
		return queue.Task{}, fmt.Errorf("enqueue sync: %w", err)
	}
	logging.Ctx(ctx, e.logger).Info().Str("integration_id", id).Msg("Sync requested")
	return task, nil
}

// Reactivate returns a suspended integration to service and schedules a sync.
func (e *Engine) Reactivate(ctx context.Context, id string) (*models.Integration, error) {
	in, err := e.store.UpdateIntegration(ctx, id, e.sm.Reactivate)
	if err != nil {
		return nil, err
	}
	e.activity.Log(ctx, id, models.ActivityReactivated, "")
	e.afterActivation(ctx, in)
	return in, nil
}

// Disconnect stops all syncing. Stored tokens are kept for a later Reconnect.
func (e *Engine) Disconnect(ctx context.Context, id string) (*models.Integration, error) {
	in, err := e.store.UpdateIntegration(ctx, id, e.sm.Disconnect)
	if err != nil {
		return nil, err
	}
	e.activity.Log(ctx, id, models.ActivityDisconnected, "")
	logging.Ctx(ctx, e.logger).Info().Str("integration_id", id).Msg("Integration disconnected")
	return in, nil
}

// Reconnect returns a disconnected integration to service and schedules a sync.
func (e *Engine) Reconnect(ctx context.Context, id string) (*models.Integration, error) {
	in, err := e.store.UpdateIntegration(ctx, id, e.sm.Reconnect)
	if err != nil {
		return nil, err
	}
	e.afterActivation(ctx, in)
	return in, nil
}

// afterActivation schedules the first sync. A failed enqueue is left to the sweeper.
func (e *Engine) afterActivation(ctx context.Context, in *models.Integration) {
	log := logging.Ctx(ctx, e.logger)
	log.Info().Str("integration_id", in.ID).Str("status", string(in.Status)).Msg("Integration activated")
	if !in.Enabled {
		return
	}
	if err := e.queue.Enqueue(ctx, queue.NewSyncTask(in.ID, 0)); err != nil {
		log.Error().Err(err).Str("integration_id", in.ID).Msg("Failed to enqueue sync after activation")
	}
}

// IngestWebhook receives a delivery and enqueues its processing.
func (e *Engine) IngestWebhook(ctx context.Context, integrationID string, platform models.Platform, raw []byte, externalEventID string) (*models.WebhookDelivery, error) {
	d, err := e.pipeline.Receive(ctx, integrationID, platform, raw, externalEventID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DeliveryPending {
		return d, nil
	}
	if err := e.queue.Enqueue(ctx, queue.NewWebhookTask(d.ID)); err != nil {
		// The delivery is durable; the sweeper enqueues it later.
		logging.Ctx(ctx, e.logger).Error().Err(err).Str("delivery_id", d.ID).Msg("Failed to enqueue webhook processing")
	}
	return d, nil
}

// GetDelivery returns a webhook delivery.
func (e *Engine) GetDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	return e.pipeline.Get(ctx, id)
}

// ResetDelivery moves a failed delivery back to pending and enqueues it.
func (e *Engine) ResetDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	d, err := e.pipeline.Reset(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.queue.Enqueue(ctx, queue.NewWebhookTask(d.ID)); err != nil {
		return d, fmt.Errorf("enqueue reset delivery: %w", err)
	}
	return d, nil
}

// DeadLetters lists dead-lettered tasks, newest first.
func (e *Engine) DeadLetters(ctx context.Context) ([]queue.Task, error) {
	return e.queue.DeadLetters(ctx)
}

// Activity returns the most recent activity entries for an integration.
func (e *Engine) Activity(ctx context.Context, integrationID string, limit int) ([]models.ActivityEvent, error) {
	if e.history == nil {
		return []models.ActivityEvent{}, nil
	}
	return e.history.Recent(ctx, integrationID, limit)
}
