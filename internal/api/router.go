// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package api serves the admin HTTP API: health, Prometheus metrics, and
// bearer-protected operations on integrations, deliveries and dead letters.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/leadsync/internal/auth"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the admin API routes.
func NewRouter(h *Handler, authn *auth.Middleware, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(CorrelationID())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(PrometheusMetrics)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Use(SecurityHeaders)
		r.Use(authn.Authenticate)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleViewer))
			r.Get("/integrations/{id}", h.GetIntegration)
			r.Get("/integrations/{id}/activity", h.Activity)
			r.Get("/deliveries/{id}", h.GetDelivery)
			r.Get("/deadletters", h.DeadLetters)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleAdmin))
			r.Post("/integrations", h.Connect)
			r.Post("/integrations/{id}/sync", h.RequestSync)
			r.Post("/integrations/{id}/reactivate", h.Reactivate)
			r.Post("/integrations/{id}/disconnect", h.Disconnect)
			r.Post("/integrations/{id}/reconnect", h.Reconnect)
			r.Post("/integrations/{id}/webhooks/{platform}", h.IngestWebhook)
			r.Post("/deliveries/{id}/reset", h.ResetDelivery)
		})
	})

	return r
}

// Server runs the admin API as a supervised service.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          zerolog.Logger
}

// NewServer returns a Server listening on addr.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewServer(addr string, handler http.Handler, timeout time.Duration, logger zerolog.Logger) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      timeout,
			IdleTimeout:       2 * timeout,
		},
		shutdownTimeout: timeout,
		logger:          logger.With().Str("component", "api").Logger(),
	}
}

// Serve implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("Admin API listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Admin API shutdown failed")
	}
	return ctx.Err()
}

func (s *Server) String() string {
	return "admin-api"
}
