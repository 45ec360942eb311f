// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package notify

import (
	"context"
	"fmt"
	"net/http"
)

// SlackChannel posts to a Slack incoming webhook.
type SlackChannel struct {
	url    string
	client *http.Client
}

// NewSlackChannel returns a channel posting to a Slack incoming webhook URL.
func NewSlackChannel(url string, client *http.Client) *SlackChannel {
	return &SlackChannel{url: url, client: client}
}

func (c *SlackChannel) Name() string { return "slack" }

// SlackWebhookPayload is the Slack incoming webhook message structure.
type SlackWebhookPayload struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks,omitempty"`
}

// SlackBlock is a Slack block element.
type SlackBlock struct {
	Type   string            `json:"type"`
	Text   *SlackTextObject  `json:"text,omitempty"`
	Fields []SlackTextObject `json:"fields,omitempty"`
}

// SlackTextObject is a Slack text object.
type SlackTextObject struct {
	Type string `json:"type"` // plain_text or mrkdwn
	Text string `json:"text"`
}

func (c *SlackChannel) Send(ctx context.Context, notice SuspensionNotice) error {
	return postJSON(ctx, c.client, c.url, buildSlackPayload(notice))
}

func buildSlackPayload(n SuspensionNotice) SlackWebhookPayload {
	summary := fmt.Sprintf("Integration %s (%s) was suspended after %d consecutive failures", n.IntegrationID, n.Platform, n.ErrorCount)
	return SlackWebhookPayload{
		Text: summary,
		Blocks: []SlackBlock{
			{
				Type: "header",
				Text: &SlackTextObject{Type: "plain_text", Text: "Integration suspended"},
			},
			{
				Type: "section",
				Text: &SlackTextObject{Type: "mrkdwn", Text: summary},
				Fields: []SlackTextObject{
					{Type: "mrkdwn", Text: "*User:*\n" + n.UserID},
					{Type: "mrkdwn", Text: "*Suspended at:*\n" + n.SuspendedAt.Format("2006-01-02 15:04:05 MST")},
				},
			},
			{
				Type: "section",
				Text: &SlackTextObject{Type: "mrkdwn", Text: "*Last error:*\n```" + n.Reason + "```"},
			},
		},
	}
}
