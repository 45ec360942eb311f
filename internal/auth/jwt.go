// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package auth issues and verifies the HS256 bearer tokens that protect the
// admin API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles. An admin may do everything a viewer may.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// DefaultTokenTTL is the lifetime of a token minted without an explicit TTL.
const DefaultTokenTTL = 24 * time.Hour

const issuer = "leadsync"

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 32

var (
	// ErrWeakSecret is returned for a signing secret shorter than MinSecretLength.
	ErrWeakSecret = fmt.Errorf("admin JWT secret must be at least %d characters", MinSecretLength)

	// ErrInvalidRole is returned when minting a token for an unknown role.
	ErrInvalidRole = errors.New("role must be admin or viewer")
)

// Claims are the admin token claims.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager mints and validates admin tokens.
type JWTManager struct {
	secret []byte
	now    func() time.Time
}

// NewJWTManager returns a manager signing with secret.
func NewJWTManager(secret string) (*JWTManager, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTManager{secret: []byte(secret), now: time.Now}, nil
}

// GenerateToken mints a token for subject with role, valid for ttl.
func (m *JWTManager) GenerateToken(subject, role string, ttl time.Duration) (string, error) {
	if role != RoleAdmin && role != RoleViewer {
		return "", ErrInvalidRole
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := m.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature, algorithm, issuer and expiry.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Role != RoleAdmin && claims.Role != RoleViewer {
		return nil, ErrInvalidRole
	}
	return claims, nil
}
