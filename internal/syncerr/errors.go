// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package syncerr defines the typed failure taxonomy shared by platform
// adapters, the credential refresher, and the sync scheduler.
//
// Every failure that crosses an adapter boundary is one of four kinds:
//
//   - AuthError: credentials invalid or expired
//   - RateLimitError: the platform asked us to back off until ResetAt
//   - TransientError: network failure or 5xx, retryable
//   - FatalError: configuration problem, never retried
//
// Untyped errors are classified as transient, except context deadline
// errors which are transient with the timeout flag set.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind is the classification of a sync failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindRateLimit
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// AuthError reports invalid or expired credentials.
type AuthError struct {
	Platform string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Platform, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError reports that the platform throttled us until ResetAt.
type RateLimitError struct {
	Platform string
	ResetAt  time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited until %s", e.Platform, e.ResetAt.UTC().Format(time.RFC3339))
}

// TransientError reports a retryable failure. Timeout marks network
// timeout-class failures, which get their own retry policy.
type TransientError struct {
	Platform string
	Timeout  bool
	Err      error
}

func (e *TransientError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: request timed out: %v", e.Platform, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Platform, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError reports a non-retryable failure such as an unknown platform.
type FatalError struct {
	Platform string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: fatal: %v", e.Platform, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Auth wraps err as an AuthError.
func Auth(platform string, err error) error {
	return &AuthError{Platform: platform, Err: err}
}

// RateLimited builds a RateLimitError.
func RateLimited(platform string, resetAt time.Time) error {
	return &RateLimitError{Platform: platform, ResetAt: resetAt}
}

// Transient wraps err as a TransientError, detecting timeouts.
func Transient(platform string, err error) error {
	return &TransientError{Platform: platform, Timeout: isTimeout(err), Err: err}
}

// Fatal wraps err as a FatalError.
func Fatal(platform string, err error) error {
	return &FatalError{Platform: platform, Err: err}
}

// Classify returns the kind of err. Untyped errors are transient.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var (
		authErr  *AuthError
		rateErr  *RateLimitError
		transErr *TransientError
		fatalErr *FatalError
	)
	switch {
	case errors.As(err, &rateErr):
		return KindRateLimit
	case errors.As(err, &authErr):
		return KindAuth
	case errors.As(err, &fatalErr):
		return KindFatal
	case errors.As(err, &transErr):
		return KindTransient
	default:
		return KindTransient
	}
}

// IsTimeout reports whether err is a timeout-class failure.
func IsTimeout(err error) bool {
	var transErr *TransientError
	if errors.As(err, &transErr) {
		return transErr.Timeout
	}
	return isTimeout(err)
}

// ResetAt returns the resume time carried by a RateLimitError.
func ResetAt(err error) (time.Time, bool) {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr.ResetAt, true
	}
	return time.Time{}, false
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
