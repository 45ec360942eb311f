// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package policy

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Exponential is the generic retry schedule: Base * 2^attempt, capped at Max,
// for at most MaxAttempts retries. A non-zero Jitter randomizes each delay
// within +/- Jitter of that value.
type Exponential struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	Jitter      float64
}

// Delay returns the wait before retry number attempt (zero-based) and false
// once attempts are exhausted.
func (e Exponential) Delay(attempt int) (time.Duration, bool) {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= e.MaxAttempts {
		return 0, false
	}

	// 2^50 * any sane base already exceeds Max
	if attempt > 50 {
		return e.jitter(e.Max), true
	}

	d := time.Duration(float64(e.Base) * math.Pow(2, float64(attempt)))
	if d < 0 || d > e.Max {
		d = e.Max
	}
	return e.jitter(d), true
}

func (e Exponential) jitter(d time.Duration) time.Duration {
	if e.Jitter <= 0 || d <= 0 {
		return d
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d
	b.MaxInterval = d
	b.Multiplier = 1
	b.RandomizationFactor = e.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b.NextBackOff()
}

// Fixed is the timeout-class retry schedule: a constant, shorter Interval
// with a larger attempt budget than the generic policy.
type Fixed struct {
	Interval    time.Duration
	MaxAttempts int
}

// Delay returns the wait before retry number attempt (zero-based) and false
// once attempts are exhausted.
func (f Fixed) Delay(attempt int) (time.Duration, bool) {
	if attempt < 0 {
		attempt = 0
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(f.Interval), uint64(max(f.MaxAttempts, 0)))
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
		if d == backoff.Stop {
			return 0, false
		}
	}
	return d, true
}
