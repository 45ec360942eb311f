// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package scheduler runs one sync cycle per integration and decides when the
// next one happens.
//
// Run is invoked by the task queue. Its postcondition is either terminal
// (nil NextRun: inactive, suspended, or sync-once) or exactly one NextRun the
// caller enqueues. It never enqueues anything itself, and never creates or
// deletes an integration.
//
// Every state write after the adapter call uses a context detached from the
// job's deadline, so a job that times out still records its outcome.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/leadsync/internal/activity"
	"github.com/tomtom215/leadsync/internal/credentials"
	"github.com/tomtom215/leadsync/internal/integration"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/metrics"
	"github.com/tomtom215/leadsync/internal/models"
	"github.com/tomtom215/leadsync/internal/notify"
	"github.com/tomtom215/leadsync/internal/policy"
	"github.com/tomtom215/leadsync/internal/store"
	"github.com/tomtom215/leadsync/internal/syncerr"
)

// DefaultRefreshWindow is how close to expiry a token is refreshed before syncing.
const DefaultRefreshWindow = 5 * time.Minute

// NextRun is the delay before the next sync of the same integration.
type NextRun struct {
	Delay time.Duration
}

// IntegrationStore is the subset of store.Store the scheduler uses.
type IntegrationStore interface {
	GetIntegration(ctx context.Context, id string) (*models.Integration, error)
	UpdateIntegration(ctx context.Context, id string, fn func(*models.Integration) error) (*models.Integration, error)
}

// Adapters dispatches a sync to the adapter registered for a platform.
type Adapters interface {
	Sync(ctx context.Context, platform models.Platform, creds models.Credentials, cursor string) (models.SyncResult, error)
}

// TokenVault opens and seals encrypted integration tokens.
type TokenVault interface {
	Open(in *models.Integration) (models.Credentials, error)
	Seal(in *models.Integration, tok models.Token) error
}

// Deps are the collaborators of a SyncScheduler.
type Deps struct {
	Store         IntegrationStore
	StateMachine  *integration.StateMachine
	Adapters      Adapters
	Refresher     credentials.Refresher
	Vault         TokenVault
	Activity      activity.Logger
	Notifier      notify.SuspensionNotifier
	Policy        *policy.Policy
	RefreshWindow time.Duration
	Logger        zerolog.Logger
}

// SyncScheduler runs sync cycles.
type SyncScheduler struct {
	store         IntegrationStore
	sm            *integration.StateMachine
	adapters      Adapters
	refresher     credentials.Refresher
	vault         TokenVault
	activity      activity.Logger
	notifier      notify.SuspensionNotifier
	policy        *policy.Policy
	refreshWindow time.Duration
	logger        zerolog.Logger
	now           func() time.Time
}

// New returns a SyncScheduler. Activity and Notifier default to no-ops.
//
//nolint:gocritic // Deps passed once at construction
func New(d Deps) *SyncScheduler {
	if d.RefreshWindow <= 0 {
		d.RefreshWindow = DefaultRefreshWindow
	}
	if d.Activity == nil {
		d.Activity = activity.Nop{}
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Policy == nil {
		d.Policy = policy.Default()
	}
	return &SyncScheduler{
		store:         d.Store,
		sm:            d.StateMachine,
		adapters:      d.Adapters,
		refresher:     d.Refresher,
		vault:         d.Vault,
		activity:      d.Activity,
		notifier:      d.Notifier,
		policy:        d.Policy,
		refreshWindow: d.RefreshWindow,
		logger:        d.Logger.With().Str("component", "scheduler").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *SyncScheduler) WithClock(now func() time.Time) *SyncScheduler {
	s.now = now
	return s
}

type nopNotifier struct{}

func (nopNotifier) NotifySuspension(context.Context, *models.Integration) {}

// errInactive aborts an update when the integration left connected/error meanwhile.
var errInactive = errors.New("integration is no longer active")

// Run executes one sync cycle for integrationID.
func (s *SyncScheduler) Run(ctx context.Context, integrationID string) (*NextRun, error) {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	log := logging.Ctx(ctx, s.logger.With().Str("integration_id", integrationID).Logger())
	started := s.now()

	in, err := s.store.GetIntegration(ctx, integrationID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Msg("Integration no longer exists, not rescheduling")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load integration: %w", err)
	}
	platform := string(in.Platform)

	if !isActive(in) || !in.Enabled {
		log.Debug().Str("status", string(in.Status)).Bool("enabled", in.Enabled).Msg("Skipping inactive integration")
		metrics.RecordSyncRun(platform, metrics.OutcomeSkipped, s.now().Sub(started), 0)
		return nil, nil
	}

	if s.sm.IsRateLimited(in) {
		delay := max(in.RateLimitResetAt.Sub(s.now()), 0)
		log.Debug().Time("reset_at", *in.RateLimitResetAt).Dur("delay", delay).Msg("Rate limited, deferring sync")
		metrics.RecordSyncRun(platform, metrics.OutcomeDeferred, s.now().Sub(started), 0)
		return &NextRun{Delay: delay}, nil
	}

	if s.needsRefresh(in) {
		refreshed, err := s.refreshToken(ctx, in)
		if err != nil {
			return s.fail(ctx, in, err, started)
		}
		in = refreshed
	}

	s.activity.Log(ctx, in.ID, models.ActivitySyncStarted, "")
	log.Info().Str("platform", platform).Msg("Sync started")

	creds, err := s.vault.Open(in)
	if err != nil {
		return s.fail(ctx, in, syncerr.Fatal(platform, err), started)
	}

	result, err := s.adapters.Sync(ctx, in.Platform, creds, in.SyncCursor)
	if err == nil {
		return s.succeed(ctx, in, result, started)
	}
	if resetAt, ok := syncerr.ResetAt(err); ok {
		return s.deferUntil(ctx, in, resetAt, started)
	}
	return s.fail(ctx, in, err, started)
}

func isActive(in *models.Integration) bool {
	return in.Status == models.StatusConnected || in.Status == models.StatusError
}

func (s *SyncScheduler) needsRefresh(in *models.Integration) bool {
	return in.TokenExpiresAt != nil && in.TokenExpiresAt.Sub(s.now()) <= s.refreshWindow
}

// refreshToken obtains a new token and seals it into the integration.
func (s *SyncScheduler) refreshToken(ctx context.Context, in *models.Integration) (*models.Integration, error) {
	if s.refresher == nil {
		return nil, syncerr.Fatal(string(in.Platform), errors.New("no credential refresher configured"))
	}
	tok, err := s.refresher.Refresh(ctx, in)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateIntegration(context.WithoutCancel(ctx), in.ID, func(cur *models.Integration) error {
		return s.vault.Seal(cur, tok)
	})
	if err != nil {
		return nil, syncerr.Transient(string(in.Platform), fmt.Errorf("persist refreshed token: %w", err))
	}
	s.activity.Log(ctx, in.ID, models.ActivityTokenRefreshed, "")
	return updated, nil
}

func (s *SyncScheduler) succeed(ctx context.Context, in *models.Integration, result models.SyncResult, started time.Time) (*NextRun, error) {
	log := logging.Ctx(ctx, s.logger.With().Str("integration_id", in.ID).Logger())
	platform := string(in.Platform)

	updated, err := s.store.UpdateIntegration(context.WithoutCancel(ctx), in.ID, func(cur *models.Integration) error {
		return s.sm.RecordSuccess(cur, result)
	})
	if errors.Is(err, integration.ErrInvalidTransition) {
		log.Info().Msg("Integration became inactive during sync, result discarded")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record sync success: %w", err)
	}

	s.activity.Log(ctx, in.ID, models.ActivitySyncCompleted, fmt.Sprintf("%d items", result.ItemCount))
	metrics.RecordSyncRun(platform, metrics.OutcomeSuccess, s.now().Sub(started), result.ItemCount)
	log.Info().
		Str("platform", platform).
		Int("items", result.ItemCount).
		Int64("total_items", updated.TotalSyncedItems).
		Dur("duration", s.now().Sub(started)).
		Msg("Sync completed")

	delay, ok := updated.SyncFrequency.Duration()
	if !ok {
		return nil, nil
	}
	return &NextRun{Delay: delay}, nil
}

func (s *SyncScheduler) deferUntil(ctx context.Context, in *models.Integration, resetAt time.Time, started time.Time) (*NextRun, error) {
	log := logging.Ctx(ctx, s.logger.With().Str("integration_id", in.ID).Logger())

	_, err := s.store.UpdateIntegration(context.WithoutCancel(ctx), in.ID, func(cur *models.Integration) error {
		if !isActive(cur) {
			return errInactive
		}
		s.sm.DeferUntil(cur, resetAt)
		return nil
	})
	if errors.Is(err, errInactive) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record rate limit: %w", err)
	}

	delay := max(resetAt.Sub(s.now()), 0)
	s.activity.Log(ctx, in.ID, models.ActivitySyncDeferred, "rate limited until "+resetAt.UTC().Format(time.RFC3339))
	metrics.RecordSyncRun(string(in.Platform), metrics.OutcomeDeferred, s.now().Sub(started), 0)
	log.Info().Time("reset_at", resetAt).Dur("delay", delay).Msg("Platform rate limit, sync deferred")
	return &NextRun{Delay: delay}, nil
}

// fail records cause against the integration and applies the policy's
// decision: ActionSuspend suspends it, anything else returns cause for the
// queue's retry schedule.
func (s *SyncScheduler) fail(ctx context.Context, in *models.Integration, cause error, started time.Time) (*NextRun, error) {
	log := logging.Ctx(ctx, s.logger.With().Str("integration_id", in.ID).Logger())
	platform := string(in.Platform)
	detached := context.WithoutCancel(ctx)
	reason := cause.Error()

	var decision policy.Decision
	updated, err := s.store.UpdateIntegration(detached, in.ID, func(cur *models.Integration) error {
		if err := s.sm.RecordFailure(cur, reason); err != nil {
			return err
		}
		decision = s.policy.Decide(cause, cur.ErrorCount)
		if decision.Action == policy.ActionSuspend {
			return s.sm.Suspend(cur, reason)
		}
		// Force a refresh before the auth retry.
		if syncerr.Classify(cause) == syncerr.KindAuth && cur.RefreshTokenEncrypted != "" {
			cur.TokenExpiresAt = models.TimePtr(s.now())
		}
		return nil
	})
	if errors.Is(err, integration.ErrInvalidTransition) {
		log.Info().Err(cause).Msg("Integration became inactive during sync, failure not recorded")
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(cause, fmt.Errorf("record sync failure: %w", err))
	}

	elapsed := s.now().Sub(started)

	if decision.Action == policy.ActionSuspend {
		s.activity.Log(detached, in.ID, models.ActivitySuspended, reason)
		metrics.RecordSyncRun(platform, metrics.OutcomeSuspended, elapsed, 0)
		log.Warn().
			Str("platform", platform).
			Int("error_count", updated.ErrorCount).
			Str("kind", decision.Kind.String()).
			Err(cause).
			Msg("Integration suspended")
		s.notifier.NotifySuspension(detached, updated)
		return nil, nil
	}

	s.activity.Log(detached, in.ID, models.ActivitySyncFailed, reason)
	metrics.RecordSyncRun(platform, metrics.OutcomeFailure, elapsed, 0)
	log.Warn().
		Str("platform", platform).
		Int("error_count", updated.ErrorCount).
		Str("kind", decision.Kind.String()).
		Str("action", decision.Action.String()).
		Err(cause).
		Msg("Sync failed")
	return nil, cause
}
