// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// DeliveryStatus is the processing state of a webhook delivery.
// Deliveries only move forward: pending -> processing -> processed|failed.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliveryProcessed  DeliveryStatus = "processed"
	DeliveryFailed     DeliveryStatus = "failed"
)

// IsTerminal reports whether no further processing happens without an explicit reset.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryProcessed || s == DeliveryFailed
}

// WebhookDelivery is one inbound push notification and its processing state.
type WebhookDelivery struct {
	ID              string          `json:"id" validate:"required"`
	IntegrationID   string          `json:"integration_id" validate:"required"`
	Platform        Platform        `json:"platform" validate:"required"`
	ExternalEventID string          `json:"external_event_id" validate:"required,eventid"`
	Status          DeliveryStatus  `json:"status" validate:"required,oneof=pending processing processed failed"`
	Payload         json.RawMessage `json:"payload"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	Attempts        int             `json:"attempts"`
	ReceivedAt      time.Time       `json:"received_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
