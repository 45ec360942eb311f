// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package credentials

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/leadsync/internal/config"
	"github.com/tomtom215/leadsync/internal/models"
	"github.com/tomtom215/leadsync/internal/syncerr"
)

const testSecret = "credentials-test-secret-at-least-32-characters"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	enc, err := config.NewCredentialEncryptor(testSecret)
	if err != nil {
		t.Fatalf("NewCredentialEncryptor: %v", err)
	}
	return NewVault(enc)
}

func sealedIntegration(t *testing.T, v *Vault, platform models.Platform, refresh string) *models.Integration {
	t.Helper()
	in := &models.Integration{ID: "int-1", UserID: "u1", Platform: platform, ExternalAccountID: "acct"}
	if err := v.Seal(in, models.Token{AccessToken: "old-access", RefreshToken: refresh}); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return in
}

func TestVault_SealOpen(t *testing.T) {
	t.Parallel()
	v := newTestVault(t)
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	in := &models.Integration{ExternalAccountID: "acct-9"}
	if err := v.Seal(in, models.Token{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: expires}); err != nil {
		t.Fatal(err)
	}
	if in.AccessTokenEncrypted == "a1" || in.RefreshTokenEncrypted == "r1" {
		t.Fatal("tokens stored in plaintext")
	}
	if in.TokenExpiresAt == nil || !in.TokenExpiresAt.Equal(expires) {
		t.Errorf("TokenExpiresAt = %v, want %v", in.TokenExpiresAt, expires)
	}

	creds, err := v.Open(in)
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessToken != "a1" || creds.ExternalAccountID != "acct-9" {
		t.Errorf("Open() = %+v", creds)
	}

	// A token response without a refresh token keeps the stored one.
	if err := v.Seal(in, models.Token{AccessToken: "a2"}); err != nil {
		t.Fatal(err)
	}
	rt, err := v.RefreshToken(in)
	if err != nil {
		t.Fatal(err)
	}
	if rt != "r1" {
		t.Errorf("RefreshToken() = %q, want r1", rt)
	}
	if in.TokenExpiresAt != nil {
		t.Errorf("TokenExpiresAt = %v, want nil for non-expiring token", in.TokenExpiresAt)
	}
}

func TestVault_OpenWithoutToken(t *testing.T) {
	t.Parallel()
	creds, err := newTestVault(t).Open(&models.Integration{ExternalAccountID: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessToken != "" {
		t.Errorf("AccessToken = %q, want empty", creds.AccessToken)
	}
}

func tokenServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "r1" {
			t.Errorf("refresh_token = %q, want r1", got)
		}
		if got := r.PostForm.Get("client_id"); got != "client" {
			t.Errorf("client_id = %q, want client", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRefresher(v *Vault, tokenURL string) *OAuthRefresher {
	pc := config.PlatformConfig{TokenURL: tokenURL, ClientID: "client", ClientSecret: "secret"}
	return NewOAuthRefresher(config.PlatformsConfig{HubSpot: pc}, v, zerolog.Nop())
}

func TestOAuthRefresher_Success(t *testing.T) {
	t.Parallel()
	v := newTestVault(t)
	srv := tokenServer(t, http.StatusOK, `{"access_token":"new-access","token_type":"bearer","expires_in":3600,"refresh_token":"r2"}`)

	in := sealedIntegration(t, v, models.PlatformHubSpot, "r1")
	tok, err := newRefresher(v, srv.URL).Refresh(context.Background(), in)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if tok.AccessToken != "new-access" || tok.RefreshToken != "r2" {
		t.Errorf("token = %+v", tok)
	}
	if until := time.Until(tok.ExpiresAt); until < 50*time.Minute || until > time.Hour {
		t.Errorf("ExpiresAt in %v, want about an hour", until)
	}
}

func TestOAuthRefresher_Classification(t *testing.T) {
	t.Parallel()
	v := newTestVault(t)

	rejected := tokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	tests := []struct {
		name     string
		platform models.Platform
		tokenURL string
		refresh  string
		want     syncerr.Kind
	}{
		{"invalid grant", models.PlatformHubSpot, rejected.URL, "r1", syncerr.KindAuth},
		{"endpoint unreachable", models.PlatformHubSpot, down.URL, "r1", syncerr.KindTransient},
		{"no refresh token", models.PlatformHubSpot, rejected.URL, "", syncerr.KindAuth},
		{"no oauth client", models.PlatformMock, rejected.URL, "r1", syncerr.KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sealedIntegration(t, v, tt.platform, tt.refresh)
			_, err := newRefresher(v, tt.tokenURL).Refresh(context.Background(), in)
			if got := syncerr.Classify(err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", err, got, tt.want)
			}
		})
	}
}

func TestOAuthRefresher_NoRefreshTokenWrapsSentinel(t *testing.T) {
	t.Parallel()
	v := newTestVault(t)
	in := sealedIntegration(t, v, models.PlatformHubSpot, "")
	_, err := newRefresher(v, "http://127.0.0.1:1").Refresh(context.Background(), in)
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("err = %v, want ErrNoRefreshToken", err)
	}
}
