// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package notify delivers out-of-band suspension notices.
//
// Channels:
//   - Webhook: generic JSON POST of a SuspensionNotice
//   - Slack: Slack incoming webhook with blocks
//
// Delivery is fire-and-forget. A failed notice is logged and counted in
// suspension_notifications_total{result="failure"}; it never affects the sync
// outcome that triggered it.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/leadsync/internal/models"
)

// SuspensionNotice is the payload describing a suspended integration.
type SuspensionNotice struct {
	Event         string          `json:"event"`
	IntegrationID string          `json:"integration_id"`
	UserID        string          `json:"user_id"`
	Platform      models.Platform `json:"platform"`
	ErrorCount    int             `json:"error_count"`
	Reason        string          `json:"reason"`
	SuspendedAt   time.Time       `json:"suspended_at"`
}

// NewSuspensionNotice builds the notice for in.
func NewSuspensionNotice(in *models.Integration, at time.Time) SuspensionNotice {
	return SuspensionNotice{
		Event:         "integration.suspended",
		IntegrationID: in.ID,
		UserID:        in.UserID,
		Platform:      in.Platform,
		ErrorCount:    in.ErrorCount,
		Reason:        in.ErrorMessage,
		SuspendedAt:   at.UTC(),
	}
}

// Channel sends one notice.
type Channel interface {
	Name() string
	Send(ctx context.Context, notice SuspensionNotice) error
}

// postJSON posts payload to url and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification endpoint returned %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
