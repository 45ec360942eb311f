// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	minSecretLength = 32
	minJobTimeout   = 5 * time.Second
)

// Validate checks that the loaded configuration is usable.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateSync,
		c.validateQueue,
		c.validateNATS,
		c.validateStorage,
		c.validateActivity,
		c.validateNotify,
		c.validateServer,
		c.validateSecurity,
		c.validateLogging,
	}

	for _, validator := range validators {
		if err := validator(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateSync() error {
	s := c.Sync
	if s.MaxErrorCount < 1 {
		return errors.New("MAX_ERROR_COUNT must be at least 1")
	}
	if s.JobTimeout < minJobTimeout {
		return fmt.Errorf("SYNC_JOB_TIMEOUT must be at least %s", minJobTimeout)
	}
	if s.RefreshWindow < 0 {
		return errors.New("SYNC_REFRESH_WINDOW must not be negative")
	}
	if s.SweepInterval < 0 {
		return errors.New("SYNC_SWEEP_INTERVAL must not be negative")
	}
	if s.RetryBaseDelay <= 0 || s.RetryMaxDelay < s.RetryBaseDelay {
		return errors.New("SYNC_RETRY_BASE_DELAY must be positive and not exceed SYNC_RETRY_MAX_DELAY")
	}
	if s.RetryMaxAttempts < 1 || s.TimeoutRetryMaxAttempts < 1 {
		return errors.New("retry attempt caps must be at least 1")
	}
	if s.RetryJitter < 0 || s.RetryJitter >= 1 {
		return errors.New("SYNC_RETRY_JITTER must be in [0, 1)")
	}
	if s.TimeoutRetryInterval <= 0 {
		return errors.New("SYNC_TIMEOUT_RETRY_INTERVAL must be positive")
	}
	if s.AuthRetries < 0 {
		return errors.New("SYNC_AUTH_RETRIES must not be negative")
	}
	return nil
}

func (c *Config) validateQueue() error {
	q := c.Queue
	switch q.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("QUEUE_BACKEND must be memory or nats, got %q", q.Backend)
	}
	if q.PollInterval <= 0 {
		return errors.New("QUEUE_POLL_INTERVAL must be positive")
	}
	if q.LeaseDuration <= c.Sync.JobTimeout {
		return errors.New("QUEUE_LEASE_DURATION must exceed SYNC_JOB_TIMEOUT")
	}
	if q.BatchSize < 1 {
		return errors.New("QUEUE_BATCH_SIZE must be at least 1")
	}
	if q.SyncTopic == "" || q.WebhookTopic == "" || q.PoisonTopic == "" {
		return errors.New("queue topics must not be empty")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if c.Queue.Backend != "nats" {
		return nil
	}
	if !c.NATS.EmbeddedServer {
		if err := validateNATSURL(c.NATS.URL); err != nil {
			return fmt.Errorf("NATS_URL is invalid: %w", err)
		}
	}
	if c.NATS.StreamName == "" {
		return errors.New("NATS_STREAM is required")
	}
	if c.NATS.RetentionDays < 1 || c.NATS.RetentionDays > 365 {
		return errors.New("NATS_RETENTION_DAYS must be between 1 and 365")
	}
	if c.NATS.SubscribersCount < 1 || c.NATS.SubscribersCount > 32 {
		return errors.New("NATS_SUBSCRIBERS must be between 1 and 32")
	}
	return nil
}

func validateNATSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "nats" && u.Scheme != "tls" {
		return fmt.Errorf("scheme must be nats or tls, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return errors.New("BADGER_PATH is required unless BADGER_IN_MEMORY=true")
	}
	return nil
}

func (c *Config) validateActivity() error {
	switch c.Activity.Backend {
	case "memory":
	case "duckdb":
		if c.Activity.DuckDBPath == "" {
			return errors.New("ACTIVITY_DUCKDB_PATH is required for the duckdb backend")
		}
	default:
		return fmt.Errorf("ACTIVITY_BACKEND must be memory or duckdb, got %q", c.Activity.Backend)
	}
	if c.Activity.BufferSize < 1 {
		return errors.New("ACTIVITY_BUFFER_SIZE must be at least 1")
	}
	if c.Activity.BatchSize < 1 || c.Activity.BatchSize > c.Activity.BufferSize {
		return errors.New("ACTIVITY_BATCH_SIZE must be between 1 and ACTIVITY_BUFFER_SIZE")
	}
	if c.Activity.FlushInterval <= 0 {
		return errors.New("ACTIVITY_FLUSH_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) validateNotify() error {
	for name, raw := range map[string]string{
		"NOTIFY_WEBHOOK_URL": c.Notify.WebhookURL,
		"NOTIFY_SLACK_URL":   c.Notify.SlackURL,
	} {
		if raw == "" {
			continue
		}
		if err := validateHTTPURL(raw); err != nil {
			return fmt.Errorf("%s is invalid: %w", name, err)
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if len(c.Security.EncryptionSecret) < minSecretLength {
		return fmt.Errorf("TOKEN_ENCRYPTION_SECRET must be at least %d characters", minSecretLength)
	}
	if len(c.Security.AdminJWTSecret) < minSecretLength {
		return fmt.Errorf("ADMIN_JWT_SECRET must be at least %d characters", minSecretLength)
	}
	if c.IsProduction() && c.Security.EncryptionSecret == c.Security.AdminJWTSecret {
		return errors.New("TOKEN_ENCRYPTION_SECRET and ADMIN_JWT_SECRET must differ in production")
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs < 1 {
			return errors.New("RATE_LIMIT_REQUESTS must be at least 1")
		}
		if c.Security.RateLimitWindow < time.Second {
			return errors.New("RATE_LIMIT_WINDOW must be at least 1s")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
