// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package models

import "time"

// Platform identifies an external platform an integration pulls from.
type Platform string

// Supported platforms. PlatformMock is registered only in development and tests.
const (
	PlatformTwitter  Platform = "twitter"
	PlatformLinkedIn Platform = "linkedin"
	PlatformHubSpot  Platform = "hubspot"
	PlatformMock     Platform = "mock"
)

// ConnectionStatus is the lifecycle state of an integration.
// Only the integration state machine may change it.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
	StatusSuspended    ConnectionStatus = "suspended"
)

// SyncFrequency maps to the delay between successful sync cycles.
// The empty frequency marks a sync-once integration.
type SyncFrequency string

const (
	FrequencyNone           SyncFrequency = ""
	FrequencyEvery15Minutes SyncFrequency = "every_15_minutes"
	FrequencyEvery30Minutes SyncFrequency = "every_30_minutes"
	FrequencyHourly         SyncFrequency = "hourly"
	FrequencyEvery6Hours    SyncFrequency = "every_6_hours"
	FrequencyDaily          SyncFrequency = "daily"
)

// Duration returns the delay for the frequency and false for sync-once
// or unknown frequencies.
func (f SyncFrequency) Duration() (time.Duration, bool) {
	switch f {
	case FrequencyEvery15Minutes:
		return 15 * time.Minute, true
	case FrequencyEvery30Minutes:
		return 30 * time.Minute, true
	case FrequencyHourly:
		return time.Hour, true
	case FrequencyEvery6Hours:
		return 6 * time.Hour, true
	case FrequencyDaily:
		return 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Integration is a user's linked connection to one external platform.
// Tokens are stored encrypted; use the credential encryptor to read them.
type Integration struct {
	ID                string           `json:"id" validate:"required"`
	UserID            string           `json:"user_id" validate:"required"`
	Platform          Platform         `json:"platform" validate:"required,oneof=twitter linkedin hubspot mock"`
	ExternalAccountID string           `json:"external_account_id,omitempty"`
	Status            ConnectionStatus `json:"status" validate:"required,oneof=connected disconnected error suspended"`
	Enabled           bool             `json:"enabled"`
	SyncFrequency     SyncFrequency    `json:"sync_frequency" validate:"omitempty,oneof=every_15_minutes every_30_minutes hourly every_6_hours daily"`

	// SyncCursor is opaque to everything except the adapter that produced it.
	SyncCursor       string `json:"sync_cursor,omitempty"`
	TotalSyncedItems int64  `json:"total_synced_items" validate:"min=0"`

	ErrorCount   int        `json:"error_count" validate:"min=0"`
	ErrorMessage string     `json:"error_message,omitempty"`
	LastErrorAt  *time.Time `json:"last_error_at,omitempty"`

	LastSyncAt           *time.Time `json:"last_sync_at,omitempty"`
	LastSuccessfulSyncAt *time.Time `json:"last_successful_sync_at,omitempty"`

	AccessTokenEncrypted  string     `json:"access_token_encrypted,omitempty"`
	RefreshTokenEncrypted string     `json:"refresh_token_encrypted,omitempty"`
	TokenExpiresAt        *time.Time `json:"token_expires_at,omitempty"`

	// RateLimitResetAt is set only while the platform has rate-limited us.
	RateLimitResetAt *time.Time `json:"rate_limit_reset_at,omitempty"`

	// Version increments on every persisted mutation.
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (i *Integration) Clone() *Integration {
	if i == nil {
		return nil
	}
	c := *i
	c.LastErrorAt = cloneTime(i.LastErrorAt)
	c.LastSyncAt = cloneTime(i.LastSyncAt)
	c.LastSuccessfulSyncAt = cloneTime(i.LastSuccessfulSyncAt)
	c.TokenExpiresAt = cloneTime(i.TokenExpiresAt)
	c.RateLimitResetAt = cloneTime(i.RateLimitResetAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to t in UTC.
func TimePtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}
