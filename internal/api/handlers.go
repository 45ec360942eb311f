// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/leadsync/internal/engine"
	"github.com/tomtom215/leadsync/internal/models"
	"github.com/tomtom215/leadsync/internal/queue"
	"github.com/tomtom215/leadsync/internal/webhook"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
	maxConnectBodyBytes  = 64 << 10

	// eventIDHeader carries the platform's event ID for webhook ingress.
	eventIDHeader = "X-Event-ID"
)

// Engine is the engine surface the admin API exposes.
type Engine interface {
	Connect(ctx context.Context, c engine.Connection) (*models.Integration, error)
	GetIntegration(ctx context.Context, id string) (*models.Integration, error)
	RequestSync(ctx context.Context, id string) (queue.Task, error)
	Reactivate(ctx context.Context, id string) (*models.Integration, error)
	Disconnect(ctx context.Context, id string) (*models.Integration, error)
	Reconnect(ctx context.Context, id string) (*models.Integration, error)
	IngestWebhook(ctx context.Context, integrationID string, platform models.Platform, raw []byte, externalEventID string) (*models.WebhookDelivery, error)
	GetDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error)
	ResetDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error)
	DeadLetters(ctx context.Context) ([]queue.Task, error)
	Activity(ctx context.Context, integrationID string, limit int) ([]models.ActivityEvent, error)
}

// IntegrationView is an Integration without its encrypted tokens.
type IntegrationView struct {
	ID                   string                  `json:"id"`
	UserID               string                  `json:"user_id"`
	Platform             models.Platform         `json:"platform"`
	ExternalAccountID    string                  `json:"external_account_id,omitempty"`
	Status               models.ConnectionStatus `json:"status"`
	Enabled              bool                    `json:"enabled"`
	SyncFrequency        models.SyncFrequency    `json:"sync_frequency"`
	TotalSyncedItems     int64                   `json:"total_synced_items"`
	ErrorCount           int                     `json:"error_count"`
	ErrorMessage         string                  `json:"error_message,omitempty"`
	LastErrorAt          *time.Time              `json:"last_error_at,omitempty"`
	LastSyncAt           *time.Time              `json:"last_sync_at,omitempty"`
	LastSuccessfulSyncAt *time.Time              `json:"last_successful_sync_at,omitempty"`
	TokenExpiresAt       *time.Time              `json:"token_expires_at,omitempty"`
	RateLimitResetAt     *time.Time              `json:"rate_limit_reset_at,omitempty"`
	HasRefreshToken      bool                    `json:"has_refresh_token"`
	Version              uint64                  `json:"version"`
	UpdatedAt            time.Time               `json:"updated_at"`
}

// NewIntegrationView projects in for API output.
func NewIntegrationView(in *models.Integration) IntegrationView {
	return IntegrationView{
		ID:                   in.ID,
		UserID:               in.UserID,
		Platform:             in.Platform,
		ExternalAccountID:    in.ExternalAccountID,
		Status:               in.Status,
		Enabled:              in.Enabled,
		SyncFrequency:        in.SyncFrequency,
		TotalSyncedItems:     in.TotalSyncedItems,
		ErrorCount:           in.ErrorCount,
		ErrorMessage:         in.ErrorMessage,
		LastErrorAt:          in.LastErrorAt,
		LastSyncAt:           in.LastSyncAt,
		LastSuccessfulSyncAt: in.LastSuccessfulSyncAt,
		TokenExpiresAt:       in.TokenExpiresAt,
		RateLimitResetAt:     in.RateLimitResetAt,
		HasRefreshToken:      in.RefreshTokenEncrypted != "",
		Version:              in.Version,
		UpdatedAt:            in.UpdatedAt,
	}
}

// DeliveryView is a WebhookDelivery without its payload.
type DeliveryView struct {
	ID              string                `json:"id"`
	IntegrationID   string                `json:"integration_id"`
	Platform        models.Platform       `json:"platform"`
	ExternalEventID string                `json:"external_event_id"`
	Status          models.DeliveryStatus `json:"status"`
	FailureReason   string                `json:"failure_reason,omitempty"`
	Attempts        int                   `json:"attempts"`
	PayloadBytes    int                   `json:"payload_bytes"`
	ReceivedAt      time.Time             `json:"received_at"`
	ProcessedAt     *time.Time            `json:"processed_at,omitempty"`
}

// NewDeliveryView projects d for API output.
func NewDeliveryView(d *models.WebhookDelivery) DeliveryView {
	return DeliveryView{
		ID:              d.ID,
		IntegrationID:   d.IntegrationID,
		Platform:        d.Platform,
		ExternalEventID: d.ExternalEventID,
		Status:          d.Status,
		FailureReason:   d.FailureReason,
		Attempts:        d.Attempts,
		PayloadBytes:    len(d.Payload),
		ReceivedAt:      d.ReceivedAt,
		ProcessedAt:     d.ProcessedAt,
	}
}

// ConnectRequest is the body of POST /api/v1/integrations.
type ConnectRequest struct {
	UserID            string               `json:"user_id"`
	Platform          models.Platform      `json:"platform"`
	ExternalAccountID string               `json:"external_account_id,omitempty"`
	SyncFrequency     models.SyncFrequency `json:"sync_frequency,omitempty"`
	AccessToken       string               `json:"access_token"`
	RefreshToken      string               `json:"refresh_token,omitempty"`
	TokenExpiresAt    *time.Time           `json:"token_expires_at,omitempty"`
}

// Handler serves the admin endpoints.
type Handler struct {
	engine          Engine
	ready           func() bool
	maxWebhookBytes int
}

// NewHandler returns a Handler. ready reports whether the queue is consuming; nil means always ready.
func NewHandler(e Engine, ready func() bool) *Handler {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Handler{engine: e, ready: ready, maxWebhookBytes: webhook.DefaultMaxPayloadBytes}
}

// WithMaxWebhookBytes sets how much of a webhook body is read. It should match
// the pipeline's limit so oversized bodies are rejected there.
func (h *Handler) WithMaxWebhookBytes(n int) *Handler {
	if n > 0 {
		h.maxWebhookBytes = n
	}
	return h
}

// Health reports liveness and queue readiness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.ready() {
		respondData(w, r, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	respondData(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// Connect creates an integration from a ConnectRequest.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxConnectBodyBytes)).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}

	c := engine.Connection{
		UserID:            req.UserID,
		Platform:          req.Platform,
		ExternalAccountID: req.ExternalAccountID,
		SyncFrequency:     req.SyncFrequency,
		Token: models.Token{
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
		},
	}
	if req.TokenExpiresAt != nil {
		c.Token.ExpiresAt = *req.TokenExpiresAt
	}

	in, err := h.engine.Connect(r.Context(), c)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondData(w, r, http.StatusCreated, NewIntegrationView(in))
}

func (h *Handler) GetIntegration(w http.ResponseWriter, r *http.Request) {
	in, err := h.engine.GetIntegration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, NewIntegrationView(in))
}

func (h *Handler) RequestSync(w http.ResponseWriter, r *http.Request) {
	task, err := h.engine.RequestSync(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondData(w, r, http.StatusAccepted, models.SyncRequestResult{
		IntegrationID: task.Key,
		TaskID:        task.ID,
		RunAt:         task.RunAt,
	})
}

func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Reactivate)
}

func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Disconnect)
}

func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Reconnect)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*models.Integration, error)) {
	in, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, NewIntegrationView(in))
}

// Activity lists recent activity; ?limit= caps the count.
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxActivityLimit {
			respondError(w, r, http.StatusBadRequest, CodeBadRequest, "limit must be between 1 and "+strconv.Itoa(maxActivityLimit))
			return
		}
		limit = n
	}

	events, err := h.engine.Activity(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, events)
}

// IngestWebhook accepts a platform webhook relayed to
// /integrations/{id}/webhooks/{platform}. The event ID comes from X-Event-ID.
func (h *Handler) IngestWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, int64(h.maxWebhookBytes)+1))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "failed to read body")
		return
	}

	d, err := h.engine.IngestWebhook(
		r.Context(),
		chi.URLParam(r, "id"),
		models.Platform(chi.URLParam(r, "platform")),
		raw,
		r.Header.Get(eventIDHeader),
	)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondData(w, r, http.StatusAccepted, NewDeliveryView(d))
}

func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.GetDelivery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, NewDeliveryView(d))
}

func (h *Handler) ResetDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.ResetDelivery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, NewDeliveryView(d))
}

func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.engine.DeadLetters(r.Context())
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []queue.Task{}
	}
	respondData(w, r, http.StatusOK, tasks)
}
