// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/leadsync/internal/config"
	"github.com/tomtom215/leadsync/internal/metrics"
	"github.com/tomtom215/leadsync/internal/models"
)

// DefaultTimeout bounds one notification attempt per channel.
const DefaultTimeout = 10 * time.Second

// SuspensionNotifier tells the integration owner their integration was suspended.
type SuspensionNotifier interface {
	NotifySuspension(ctx context.Context, in *models.Integration)
}

// Notifier fans a suspension notice out to every configured channel in the background.
type Notifier struct {
	channels []Channel
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

// New returns a Notifier for channels. With no channels, notices are only logged.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(logger zerolog.Logger, timeout time.Duration, channels ...Channel) *Notifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Notifier{
		channels: channels,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// FromConfig builds the channels enabled in cfg.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func FromConfig(cfg config.NotifyConfig, logger zerolog.Logger) *Notifier {
	client := &http.Client{Timeout: cfg.Timeout}
	var channels []Channel
	if cfg.WebhookURL != "" {
		channels = append(channels, NewWebhookChannel(cfg.WebhookURL, client))
	}
	if cfg.SlackURL != "" {
		channels = append(channels, NewSlackChannel(cfg.SlackURL, client))
	}
	return New(logger, cfg.Timeout, channels...)
}

// NotifySuspension returns immediately. The notice is sent on a detached
// context so that cancelling the sync job does not cancel the notice.
func (n *Notifier) NotifySuspension(ctx context.Context, in *models.Integration) {
	notice := NewSuspensionNotice(in, n.now())
	n.logger.Warn().
		Str("integration_id", notice.IntegrationID).
		Str("platform", string(notice.Platform)).
		Int("error_count", notice.ErrorCount).
		Str("reason", notice.Reason).
		Msg("Integration suspended")

	detached := context.WithoutCancel(ctx)
	for _, ch := range n.channels {
		n.wg.Add(1)
		go func(ch Channel) {
			defer n.wg.Done()
			sendCtx, cancel := context.WithTimeout(detached, n.timeout)
			defer cancel()

			err := ch.Send(sendCtx, notice)
			metrics.RecordNotification(ch.Name(), err)
			if err != nil {
				n.logger.Error().Err(err).
					Str("channel", ch.Name()).
					Str("integration_id", notice.IntegrationID).
					Msg("Failed to send suspension notice")
			}
		}(ch)
	}
}

// Wait blocks until in-flight notices finish. Used on shutdown and in tests.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
