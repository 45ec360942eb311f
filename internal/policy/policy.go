// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package policy decides what happens after a sync or webhook failure.
//
// Decide maps a classified failure and the integration's error count to one
// of defer, retry, drop, or suspend. RetryDelay maps a failure and the queue's
// own attempt counter to the next retry delay. The two counters are
// independent: the integration's error count drives suspension, the queue
// attempt count drives retry spacing and exhaustion.
package policy

import (
	"time"

	"github.com/tomtom215/leadsync/internal/config"
	"github.com/tomtom215/leadsync/internal/syncerr"
)

// Action is the outcome of a policy decision.
type Action int

const (
	// ActionDefer re-enqueues after the platform's rate-limit reset without counting an error.
	ActionDefer Action = iota + 1
	// ActionRetry hands the failure to the queue's retry schedule.
	ActionRetry
	// ActionDrop records the failure but never retries it.
	ActionDrop
	// ActionSuspend stops scheduling until an explicit reactivation.
	ActionSuspend
)

func (a Action) String() string {
	switch a {
	case ActionDefer:
		return "defer"
	case ActionRetry:
		return "retry"
	case ActionDrop:
		return "drop"
	case ActionSuspend:
		return "suspend"
	default:
		return "none"
	}
}

// DefaultMaxErrorCount is the number of consecutive failures that suspends an integration.
const DefaultMaxErrorCount = 3

// Decision is the result of Decide.
type Decision struct {
	Action Action
	Kind   syncerr.Kind
	// Delay is set for ActionDefer.
	Delay time.Duration
}

// Policy holds the thresholds and retry schedules.
type Policy struct {
	MaxErrorCount int
	Generic       Exponential
	Timeout       Fixed
	// AuthRetries is how many queue retries an AuthError gets; each retry
	// performs one credential refresh attempt.
	AuthRetries int
	Now         func() time.Time
}

// Default returns the production policy.
func Default() *Policy {
	return &Policy{
		MaxErrorCount: DefaultMaxErrorCount,
		Generic: Exponential{
			Base:        30 * time.Second,
			Max:         30 * time.Minute,
			MaxAttempts: 5,
			Jitter:      0.1,
		},
		Timeout: Fixed{
			Interval:    10 * time.Second,
			MaxAttempts: 10,
		},
		AuthRetries: 1,
		Now:         time.Now,
	}
}

// FromConfig returns Default overridden by every non-zero field of cfg.
//
//nolint:gocritic // config passed once at construction
func FromConfig(cfg config.SyncConfig) *Policy {
	p := Default()
	if cfg.MaxErrorCount > 0 {
		p.MaxErrorCount = cfg.MaxErrorCount
	}
	if cfg.RetryBaseDelay > 0 {
		p.Generic.Base = cfg.RetryBaseDelay
	}
	if cfg.RetryMaxDelay > 0 {
		p.Generic.Max = cfg.RetryMaxDelay
	}
	if cfg.RetryMaxAttempts > 0 {
		p.Generic.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryJitter > 0 {
		p.Generic.Jitter = cfg.RetryJitter
	}
	if cfg.TimeoutRetryInterval > 0 {
		p.Timeout.Interval = cfg.TimeoutRetryInterval
	}
	if cfg.TimeoutRetryMaxAttempts > 0 {
		p.Timeout.MaxAttempts = cfg.TimeoutRetryMaxAttempts
	}
	if cfg.AuthRetries > 0 {
		p.AuthRetries = cfg.AuthRetries
	}
	return p
}

func (p *Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Decide classifies err for an integration whose error count is errorCount
// after the failure has been recorded.
func (p *Policy) Decide(err error, errorCount int) Decision {
	kind := syncerr.Classify(err)

	if kind == syncerr.KindRateLimit {
		resetAt, _ := syncerr.ResetAt(err)
		return Decision{Action: ActionDefer, Kind: kind, Delay: max(resetAt.Sub(p.now()), 0)}
	}

	if p.MaxErrorCount > 0 && errorCount >= p.MaxErrorCount {
		return Decision{Action: ActionSuspend, Kind: kind}
	}

	if kind == syncerr.KindFatal {
		return Decision{Action: ActionDrop, Kind: kind}
	}
	return Decision{Action: ActionRetry, Kind: kind}
}

// RetryDelay returns the delay before queue retry number attempt (zero-based)
// for err, and false when the failure must not be retried again.
func (p *Policy) RetryDelay(err error, attempt int) (time.Duration, bool) {
	switch syncerr.Classify(err) {
	case syncerr.KindFatal:
		return 0, false
	case syncerr.KindRateLimit:
		resetAt, _ := syncerr.ResetAt(err)
		return max(resetAt.Sub(p.now()), 0), true
	case syncerr.KindAuth:
		if attempt >= p.AuthRetries {
			return 0, false
		}
		return p.Generic.Delay(attempt)
	}

	if syncerr.IsTimeout(err) {
		return p.Timeout.Delay(attempt)
	}
	return p.Generic.Delay(attempt)
}
