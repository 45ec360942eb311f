// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package credentials stores integration tokens encrypted at rest and
// refreshes them against each platform's OAuth2 token endpoint.
package credentials

import (
	"errors"
	"fmt"

	"github.com/tomtom215/leadsync/internal/config"
	"github.com/tomtom215/leadsync/internal/models"
)

// ErrNoRefreshToken is returned when an integration has no stored refresh token.
var ErrNoRefreshToken = errors.New("integration has no refresh token")

// Vault seals and opens the token fields of an Integration.
type Vault struct {
	enc *config.CredentialEncryptor
}

// NewVault returns a Vault using enc.
func NewVault(enc *config.CredentialEncryptor) *Vault {
	return &Vault{enc: enc}
}

// Open decrypts the access token into adapter credentials. An integration
// without a stored token yields empty credentials.
func (v *Vault) Open(in *models.Integration) (models.Credentials, error) {
	creds := models.Credentials{ExternalAccountID: in.ExternalAccountID}
	if in.AccessTokenEncrypted == "" {
		return creds, nil
	}
	token, err := v.enc.Decrypt(in.AccessTokenEncrypted)
	if err != nil {
		return creds, fmt.Errorf("decrypt access token: %w", err)
	}
	creds.AccessToken = token
	return creds, nil
}

// RefreshToken decrypts the stored refresh token.
func (v *Vault) RefreshToken(in *models.Integration) (string, error) {
	if in.RefreshTokenEncrypted == "" {
		return "", ErrNoRefreshToken
	}
	token, err := v.enc.Decrypt(in.RefreshTokenEncrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}
	return token, nil
}

// Seal encrypts tok into in. An empty refresh token keeps the stored one,
// since providers that do not rotate refresh tokens omit it.
func (v *Vault) Seal(in *models.Integration, tok models.Token) error {
	access, err := v.enc.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refresh := in.RefreshTokenEncrypted
	if tok.RefreshToken != "" {
		if refresh, err = v.enc.Encrypt(tok.RefreshToken); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	in.AccessTokenEncrypted = access
	in.RefreshTokenEncrypted = refresh
	if tok.ExpiresAt.IsZero() {
		in.TokenExpiresAt = nil
	} else {
		in.TokenExpiresAt = models.TimePtr(tok.ExpiresAt)
	}
	return nil
}
