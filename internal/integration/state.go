// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package integration implements the connection state machine of an Integration.
//
// Allowed transitions:
//
//	connected    -> error, disconnected
//	error        -> connected, suspended, disconnected
//	suspended    -> connected     (Reactivate)
//	disconnected -> connected     (Reconnect)
//
// Entering error or suspended requires a non-empty reason. The machine only
// mutates the value it is given; callers apply it inside
// store.UpdateIntegration so each transition is an atomic read-modify-write.
package integration

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/leadsync/internal/models"
)

var (
	// ErrInvalidTransition is returned for a move the transition table does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEmptyReason is returned when entering error or suspended without a reason.
	ErrEmptyReason = errors.New("transition requires a reason")
)

var transitions = map[models.ConnectionStatus][]models.ConnectionStatus{
	models.StatusConnected:    {models.StatusError, models.StatusDisconnected},
	models.StatusError:        {models.StatusConnected, models.StatusSuspended, models.StatusDisconnected},
	models.StatusSuspended:    {models.StatusConnected},
	models.StatusDisconnected: {models.StatusConnected},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to models.ConnectionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StateMachine applies status changes and the bookkeeping that goes with them.
// It has no suspension threshold of its own: the caller asks the failure
// policy and calls Suspend.
type StateMachine struct {
	now func() time.Time
}

// New returns a StateMachine.
func New() *StateMachine {
	return &StateMachine{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source.
func (m *StateMachine) WithClock(now func() time.Time) *StateMachine {
	m.now = now
	return m
}

func (m *StateMachine) transition(in *models.Integration, to models.ConnectionStatus, reason string) error {
	if in.Status == to {
		return nil
	}
	if !CanTransition(in.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, in.Status, to)
	}
	if (to == models.StatusError || to == models.StatusSuspended) && strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: %s -> %s", ErrEmptyReason, in.Status, to)
	}
	in.Status = to
	return nil
}

// RecordSuccess applies a completed sync. result.NextCursor replaces the stored
// cursor as is. Returns ErrInvalidTransition, without mutating in, when the
// integration was suspended or disconnected meanwhile.
func (m *StateMachine) RecordSuccess(in *models.Integration, result models.SyncResult) error {
	if in.Status != models.StatusConnected && in.Status != models.StatusError {
		return fmt.Errorf("%w: cannot record success while %s", ErrInvalidTransition, in.Status)
	}
	in.Status = models.StatusConnected
	now := m.now()
	in.LastSyncAt = models.TimePtr(now)
	in.LastSuccessfulSyncAt = models.TimePtr(now)
	in.TotalSyncedItems += int64(result.ItemCount)
	in.SyncCursor = result.NextCursor
	in.ErrorCount = 0
	in.ErrorMessage = ""
	in.RateLimitResetAt = nil
	return nil
}

// RecordFailure counts a failed sync and moves the integration to error. The
// cursor is left untouched. LastSyncAt is set as well, so the sweeper measures
// the next due time from the failed attempt.
func (m *StateMachine) RecordFailure(in *models.Integration, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrEmptyReason
	}
	if in.Status == models.StatusSuspended || in.Status == models.StatusDisconnected {
		return fmt.Errorf("%w: cannot record failure while %s", ErrInvalidTransition, in.Status)
	}

	if err := m.transition(in, models.StatusError, reason); err != nil {
		return err
	}
	now := m.now()
	in.ErrorCount++
	in.ErrorMessage = reason
	in.LastErrorAt = models.TimePtr(now)
	in.LastSyncAt = models.TimePtr(now)
	return nil
}

// Suspend stops scheduling an integration in error.
func (m *StateMachine) Suspend(in *models.Integration, reason string) error {
	if err := m.transition(in, models.StatusSuspended, reason); err != nil {
		return err
	}
	in.ErrorMessage = reason
	return nil
}

// Reactivate returns a suspended integration to service with a clean error count.
func (m *StateMachine) Reactivate(in *models.Integration) error {
	if in.Status != models.StatusSuspended {
		return fmt.Errorf("%w: reactivate requires suspended, got %s", ErrInvalidTransition, in.Status)
	}
	if err := m.transition(in, models.StatusConnected, ""); err != nil {
		return err
	}
	m.clearErrors(in)
	return nil
}

// Disconnect stops an integration at the user's request.
func (m *StateMachine) Disconnect(in *models.Integration) error {
	return m.transition(in, models.StatusDisconnected, "")
}

// Reconnect returns a disconnected integration to service with a clean error count.
func (m *StateMachine) Reconnect(in *models.Integration) error {
	if in.Status != models.StatusDisconnected {
		return fmt.Errorf("%w: reconnect requires disconnected, got %s", ErrInvalidTransition, in.Status)
	}
	if err := m.transition(in, models.StatusConnected, ""); err != nil {
		return err
	}
	m.clearErrors(in)
	return nil
}

// DeferUntil records a platform rate limit. It is not an error and leaves the status alone.
func (m *StateMachine) DeferUntil(in *models.Integration, resetAt time.Time) {
	in.RateLimitResetAt = models.TimePtr(resetAt)
	in.LastSyncAt = models.TimePtr(m.now())
}

// IsRateLimited reports whether the platform's rate-limit window is still open.
func (m *StateMachine) IsRateLimited(in *models.Integration) bool {
	return in.RateLimitResetAt != nil && m.now().Before(*in.RateLimitResetAt)
}

// CanSync reports whether the scheduler may contact the platform now.
func (m *StateMachine) CanSync(in *models.Integration) bool {
	if !in.Enabled || m.IsRateLimited(in) {
		return false
	}
	return in.Status == models.StatusConnected || in.Status == models.StatusError
}

func (m *StateMachine) clearErrors(in *models.Integration) {
	in.ErrorCount = 0
	in.ErrorMessage = ""
	in.RateLimitResetAt = nil
}
