// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package adapters

import (
	"github.com/rs/zerolog"

	"github.com/tomtom215/leadsync/internal/config"
)

// NewDefaultRegistry registers the twitter, linkedin, hubspot and mock adapters.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewDefaultRegistry(cfg config.PlatformsConfig, logger zerolog.Logger) *Registry {
	newClient := func(platform string, pc config.PlatformConfig) *Client {
		return NewClient(ClientConfig{
			Platform:          platform,
			BaseURL:           pc.BaseURL,
			RequestsPerSecond: pc.RequestsPerSecond,
			Burst:             pc.Burst,
			Timeout:           DefaultHTTPTimeout,
			Logger:            logger.With().Str("platform", platform).Logger(),
		})
	}

	return NewRegistry(
		NewTwitterAdapter(newClient("twitter", cfg.Twitter), cfg.Twitter.PageSize),
		NewLinkedInAdapter(newClient("linkedin", cfg.LinkedIn), cfg.LinkedIn.PageSize),
		NewHubSpotAdapter(newClient("hubspot", cfg.HubSpot), cfg.HubSpot.PageSize),
		&MockAdapter{},
	)
}

