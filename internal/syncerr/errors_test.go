// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package syncerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	reset := time.Now().Add(time.Minute)
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"auth", Auth("twitter", errors.New("401")), KindAuth},
		{"rate limit", RateLimited("twitter", reset), KindRateLimit},
		{"transient", Transient("hubspot", errors.New("502")), KindTransient},
		{"fatal", Fatal("mock", errors.New("unknown platform")), KindFatal},
		{"wrapped fatal", fmt.Errorf("sync: %w", Fatal("x", errors.New("bad"))), KindFatal},
		{"untyped", errors.New("boom"), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransientDetectsTimeout(t *testing.T) {
	err := Transient("linkedin", fmt.Errorf("do request: %w", context.DeadlineExceeded))
	if !IsTimeout(err) {
		t.Error("expected deadline exceeded to be a timeout")
	}
	if IsTimeout(Transient("linkedin", errors.New("503 service unavailable"))) {
		t.Error("503 should not be a timeout")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("bare deadline exceeded should be a timeout")
	}
}

func TestResetAt(t *testing.T) {
	reset := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got, ok := ResetAt(fmt.Errorf("wrapped: %w", RateLimited("twitter", reset)))
	if !ok || !got.Equal(reset) {
		t.Errorf("ResetAt() = (%v, %v), want (%v, true)", got, ok, reset)
	}
	if _, ok := ResetAt(errors.New("other")); ok {
		t.Error("ResetAt should report false for non rate-limit errors")
	}
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("token revoked")
	err := Auth("hubspot", base)
	if !errors.Is(err, base) {
		t.Error("AuthError should unwrap to its cause")
	}
}
