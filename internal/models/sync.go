// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Credentials are the decrypted secrets handed to a platform adapter.
type Credentials struct {
	AccessToken       string
	ExternalAccountID string
}

// SyncResult is returned by a platform adapter for one sync cycle. It is never persisted.
type SyncResult struct {
	ItemCount  int
	NextCursor string
	RawItems   []json.RawMessage
}

// Token is an access token issued by a credential refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ActivityEventType names an entry in the integration activity log.
type ActivityEventType string

const (
	ActivityConnected        ActivityEventType = "connected"
	ActivitySyncStarted      ActivityEventType = "sync_started"
	ActivitySyncCompleted    ActivityEventType = "sync_completed"
	ActivitySyncFailed       ActivityEventType = "sync_failed"
	ActivitySyncDeferred     ActivityEventType = "sync_deferred"
	ActivitySuspended        ActivityEventType = "suspended"
	ActivityReactivated      ActivityEventType = "reactivated"
	ActivityDisconnected     ActivityEventType = "disconnected"
	ActivityTokenRefreshed   ActivityEventType = "token_refreshed"
	ActivityWebhookProcessed ActivityEventType = "webhook_processed"
	ActivityWebhookFailed    ActivityEventType = "webhook_failed"
)

// ActivityEvent is one append-only activity log entry.
type ActivityEvent struct {
	ID            string            `json:"id"`
	IntegrationID string            `json:"integration_id"`
	Type          ActivityEventType `json:"type"`
	Message       string            `json:"message"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}
