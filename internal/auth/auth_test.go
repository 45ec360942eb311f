// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "auth-test-secret-that-is-long-enough-0123"

func newTestManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(testSecret)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	return m
}

func TestNewJWTManager_WeakSecret(t *testing.T) {
	t.Parallel()
	if _, err := NewJWTManager("short"); !errors.Is(err, ErrWeakSecret) {
		t.Errorf("err = %v, want ErrWeakSecret", err)
	}
}

func TestGenerateAndValidate(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	token, err := m.GenerateToken("ops", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "ops" || claims.Role != RoleAdmin || claims.Issuer != "leadsync" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := m.GenerateToken("ops", "root", time.Hour); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("GenerateToken(root) = %v, want ErrInvalidRole", err)
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	other, err := NewJWTManager(testSecret + "-other")
	if err != nil {
		t.Fatal(err)
	}
	wrongKey, _ := other.GenerateToken("ops", RoleAdmin, time.Hour)

	expiredMgr := newTestManager(t)
	expiredMgr.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredMgr.GenerateToken("ops", RoleAdmin, time.Hour)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: RoleAdmin}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	foreign, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))

	tests := map[string]string{
		"garbage":        "not-a-token",
		"wrong key":      wrongKey,
		"expired":        expired,
		"alg none":       none,
		"foreign issuer": foreign,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := m.ValidateToken(token); err == nil {
				t.Error("ValidateToken accepted token")
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	admin, _ := m.GenerateToken("ops", RoleAdmin, time.Hour)
	viewer, _ := m.GenerateToken("dash", RoleViewer, time.Hour)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, found := ClaimsFromContext(r.Context()); !found {
			t.Error("claims missing from context")
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mw := NewMiddleware(m)
	read := mw.Authenticate(RequireRole(RoleViewer)(ok))
	write := mw.Authenticate(RequireRole(RoleAdmin)(ok))

	tests := []struct {
		name    string
		handler http.Handler
		header  string
		want    int
	}{
		{"no header", read, "", http.StatusUnauthorized},
		{"basic scheme", read, "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"bad token", read, "Bearer nope", http.StatusUnauthorized},
		{"viewer reads", read, "Bearer " + viewer, http.StatusNoContent},
		{"lowercase scheme", read, "bearer " + viewer, http.StatusNoContent},
		{"viewer writes", write, "Bearer " + viewer, http.StatusForbidden},
		{"admin writes", write, "Bearer " + admin, http.StatusNoContent},
		{"admin reads", read, "Bearer " + admin, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/x", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate challenge")
			}
		})
	}
}
