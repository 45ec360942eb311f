// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/tomtom215/leadsync/internal/config"
	"github.com/tomtom215/leadsync/internal/metrics"
	"github.com/tomtom215/leadsync/internal/models"
	"github.com/tomtom215/leadsync/internal/syncerr"
)

// Refresher exchanges an integration's refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, in *models.Integration) (models.Token, error)
}

// DefaultRefreshTimeout bounds one token request.
const DefaultRefreshTimeout = 15 * time.Second

// OAuthRefresher refreshes tokens with the OAuth2 refresh_token grant.
//
// Failures are classified for the sync policy: a token endpoint rejection
// (oauth2.RetrieveError, e.g. invalid_grant) is an AuthError, anything else
// (network, timeout) is transient. A platform without a configured OAuth
// client is fatal.
type OAuthRefresher struct {
	vault   *Vault
	configs map[models.Platform]*oauth2.Config
	client  *http.Client
	logger  zerolog.Logger
}

// NewOAuthRefresher builds one oauth2.Config per platform that has a token URL.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewOAuthRefresher(platforms config.PlatformsConfig, vault *Vault, logger zerolog.Logger) *OAuthRefresher {
	r := &OAuthRefresher{
		vault:   vault,
		configs: make(map[models.Platform]*oauth2.Config),
		client:  &http.Client{Timeout: DefaultRefreshTimeout},
		logger:  logger,
	}
	r.add(models.PlatformTwitter, platforms.Twitter)
	r.add(models.PlatformLinkedIn, platforms.LinkedIn)
	r.add(models.PlatformHubSpot, platforms.HubSpot)
	return r
}

func (r *OAuthRefresher) add(platform models.Platform, pc config.PlatformConfig) {
	if pc.TokenURL == "" {
		return
	}
	r.configs[platform] = &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  pc.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// WithHTTPClient replaces the client used for token requests.
func (r *OAuthRefresher) WithHTTPClient(c *http.Client) *OAuthRefresher {
	r.client = c
	return r
}

// Refresh returns a new token for in. It does not persist anything; the caller
// seals the token into the integration inside its atomic update.
func (r *OAuthRefresher) Refresh(ctx context.Context, in *models.Integration) (models.Token, error) {
	platform := string(in.Platform)
	cfg, ok := r.configs[in.Platform]
	if !ok {
		return models.Token{}, syncerr.Fatal(platform, fmt.Errorf("no OAuth client configured for %s", platform))
	}

	refreshToken, err := r.vault.RefreshToken(in)
	if err != nil {
		metrics.RecordTokenRefresh(platform, err)
		if errors.Is(err, ErrNoRefreshToken) {
			return models.Token{}, syncerr.Auth(platform, err)
		}
		return models.Token{}, syncerr.Fatal(platform, err)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	// An expired seed token forces the source to hit the token endpoint.
	src := cfg.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	})

	tok, err := src.Token()
	metrics.RecordTokenRefresh(platform, err)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			status := 0
			if retrieveErr.Response != nil {
				status = retrieveErr.Response.StatusCode
			}
			r.logger.Warn().
				Str("integration_id", in.ID).
				Str("platform", platform).
				Int("status", status).
				Str("error_code", retrieveErr.ErrorCode).
				Msg("Token endpoint rejected refresh")
			return models.Token{}, syncerr.Auth(platform, fmt.Errorf("refresh token: %w", err))
		}
		return models.Token{}, syncerr.Transient(platform, fmt.Errorf("refresh token: %w", err))
	}

	r.logger.Debug().
		Str("integration_id", in.ID).
		Str("platform", platform).
		Time("expires_at", tok.Expiry).
		Msg("Token refreshed")

	out := models.Token{AccessToken: tok.AccessToken, ExpiresAt: tok.Expiry}
	if tok.RefreshToken != refreshToken {
		out.RefreshToken = tok.RefreshToken
	}
	return out, nil
}
