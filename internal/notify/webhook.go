// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package notify

import (
	"context"
	"net/http"
)

// WebhookChannel posts the notice as JSON to a configured URL.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel returns a channel posting to url.
func NewWebhookChannel(url string, client *http.Client) *WebhookChannel {
	return &WebhookChannel{url: url, client: client}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, notice SuspensionNotice) error {
	return postJSON(ctx, c.client, c.url, notice)
}
