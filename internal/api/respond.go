// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/leadsync/internal/engine"
	"github.com/tomtom215/leadsync/internal/integration"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/models"
	"github.com/tomtom215/leadsync/internal/store"
	"github.com/tomtom215/leadsync/internal/validation"
	"github.com/tomtom215/leadsync/internal/webhook"
)

// Error codes.
const (
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeBadRequest = "BAD_REQUEST"
	CodeInternal   = "INTERNAL_ERROR"
	CodeValidation = "VALIDATION_ERROR"
	CodeTooLarge   = "PAYLOAD_TOO_LARGE"
)

func respondJSON(w http.ResponseWriter, r *http.Request, status int, response *models.APIResponse) {
	response.Metadata = models.Metadata{
		Timestamp:     time.Now().UTC(),
		CorrelationID: logging.CorrelationIDFromContext(r.Context()),
	}

	data, err := json.Marshal(response)
	if err != nil {
		logging.Ctx(r.Context(), logging.Logger()).Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Ctx(r.Context(), logging.Logger()).Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondData(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	respondJSON(w, r, status, &models.APIResponse{Status: "success", Data: data})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondJSON(w, r, status, &models.APIResponse{
		Status: "error",
		Error:  &models.APIError{Code: code, Message: message},
	})
}

// respondEngineError maps engine and store errors to HTTP statuses.
func respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.RequestValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, r, http.StatusNotFound, CodeNotFound, "resource not found")
	case errors.Is(err, integration.ErrInvalidTransition),
		errors.Is(err, webhook.ErrNotFailed),
		errors.Is(err, engine.ErrInactive),
		errors.Is(err, store.ErrAlreadyExists):
		respondError(w, r, http.StatusConflict, CodeConflict, err.Error())
	case errors.As(err, &verr):
		respondJSON(w, r, http.StatusBadRequest, &models.APIResponse{
			Status: "error",
			Error: &models.APIError{
				Code:    CodeValidation,
				Message: "validation failed",
				Details: validationDetails(verr),
			},
		})
	case errors.Is(err, webhook.ErrPayloadTooLarge):
		respondError(w, r, http.StatusRequestEntityTooLarge, CodeTooLarge, err.Error())
	case errors.Is(err, webhook.ErrInvalidPayload),
		errors.Is(err, webhook.ErrMissingEventID),
		errors.Is(err, webhook.ErrPlatformMismatch),
		errors.Is(err, engine.ErrMissingAccessToken):
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error())
	default:
		logging.Ctx(r.Context(), logging.Logger()).Error().
			Str("path", sanitizeLogValue(r.URL.Path)).
			Err(err).
			Msg("Admin API request failed")
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func validationDetails(verr *validation.RequestValidationError) map[string]interface{} {
	details := make(map[string]interface{}, len(verr.Errors()))
	for _, fe := range verr.Errors() {
		details[fe.Field()] = fe.Error()
	}
	return details
}

// sanitizeLogValue strips line breaks from user-controlled values before logging.
func sanitizeLogValue(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}
