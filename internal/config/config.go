// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package config

import (
	"fmt"
	"time"
)

// Config holds all Leadsync configuration.
//
// Loading order (see LoadWithKoanf):
//  1. Built-in defaults
//  2. Optional YAML file (config.yaml, or CONFIG_PATH)
//  3. Environment variables
//
// Config is immutable after loading and safe for concurrent reads.
type Config struct {
	Sync      SyncConfig      `koanf:"sync"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	Queue     QueueConfig     `koanf:"queue"`
	NATS      NATSConfig      `koanf:"nats"`
	Storage   StorageConfig   `koanf:"storage"`
	Activity  ActivityConfig  `koanf:"activity"`
	Notify    NotifyConfig    `koanf:"notify"`
	Platforms PlatformsConfig `koanf:"platforms"`
	Server    ServerConfig    `koanf:"server"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// SyncConfig controls the per-integration sync loop and its failure policy.
type SyncConfig struct {
	// MaxErrorCount is the consecutive failure count that suspends an integration.
	MaxErrorCount int `koanf:"max_error_count"`

	// JobTimeout bounds a whole sync job, including token refresh and persistence.
	JobTimeout time.Duration `koanf:"job_timeout"`

	// RefreshWindow refreshes tokens that expire within this window.
	RefreshWindow time.Duration `koanf:"refresh_window"`

	// SweepInterval is how often the sweeper enqueues due integrations. Zero disables it.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// StuckDeliveryThreshold reports deliveries left in processing longer than this.
	StuckDeliveryThreshold time.Duration `koanf:"stuck_delivery_threshold"`

	RetryBaseDelay          time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay           time.Duration `koanf:"retry_max_delay"`
	RetryMaxAttempts        int           `koanf:"retry_max_attempts"`
	// RetryJitter spreads generic retry delays by +/- this fraction.
	RetryJitter             float64       `koanf:"retry_jitter"`
	TimeoutRetryInterval    time.Duration `koanf:"timeout_retry_interval"`
	TimeoutRetryMaxAttempts int           `koanf:"timeout_retry_max_attempts"`
	AuthRetries             int           `koanf:"auth_retries"`
}

// WebhookConfig controls webhook ingestion.
type WebhookConfig struct {
	// MaxPayloadBytes rejects larger payloads at Receive time.
	MaxPayloadBytes int `koanf:"max_payload_bytes"`

	// SchemaDir optionally holds <platform>.json JSON Schemas that override the built-in ones.
	SchemaDir string `koanf:"schema_dir"`
}

// QueueConfig controls the durable task queue.
type QueueConfig struct {
	// Backend is "memory" (watermill gochannel) or "nats" (JetStream).
	Backend                    string        `koanf:"backend"`
	PollInterval               time.Duration `koanf:"poll_interval"`
	LeaseDuration              time.Duration `koanf:"lease_duration"`
	BatchSize                  int           `koanf:"batch_size"`
	SyncTopic                  string        `koanf:"sync_topic"`
	WebhookTopic               string        `koanf:"webhook_topic"`
	PoisonTopic                string        `koanf:"poison_topic"`
	RouterRetryCount           int           `koanf:"router_retry_count"`
	RouterRetryInitialInterval time.Duration `koanf:"router_retry_initial_interval"`
	RouterCloseTimeout         time.Duration `koanf:"router_close_timeout"`
}

// NATSConfig holds JetStream settings used when Queue.Backend is "nats".
type NATSConfig struct {
	URL              string `koanf:"url"`
	EmbeddedServer   bool   `koanf:"embedded_server"`
	StoreDir         string `koanf:"store_dir"`
	MaxMemory        int64  `koanf:"max_memory"`
	MaxStore         int64  `koanf:"max_store"`
	StreamName       string `koanf:"stream_name"`
	RetentionDays    int    `koanf:"retention_days"`
	DurableName      string `koanf:"durable_name"`
	QueueGroup       string `koanf:"queue_group"`
	SubscribersCount int    `koanf:"subscribers_count"`
}

// StorageConfig holds the BadgerDB location for integrations, deliveries and tasks.
type StorageConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// ActivityConfig controls the activity log sink.
type ActivityConfig struct {
	// Backend is "memory" or "duckdb".
	Backend    string `koanf:"backend"`
	DuckDBPath string `koanf:"duckdb_path"`
	BufferSize int    `koanf:"buffer_size"`

	// BatchSize events are written together; FlushInterval bounds how long
	// a partial batch waits.
	BatchSize     int           `koanf:"batch_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// NotifyConfig holds suspension notification channels. Empty URLs are disabled.
type NotifyConfig struct {
	WebhookURL string        `koanf:"webhook_url"`
	SlackURL   string        `koanf:"slack_url"`
	Timeout    time.Duration `koanf:"timeout"`
}

// PlatformsConfig holds per-platform adapter settings.
type PlatformsConfig struct {
	Twitter  PlatformConfig `koanf:"twitter"`
	LinkedIn PlatformConfig `koanf:"linkedin"`
	HubSpot  PlatformConfig `koanf:"hubspot"`
}

// PlatformConfig configures one platform's API client and OAuth refresh.
type PlatformConfig struct {
	BaseURL           string  `koanf:"base_url"`
	TokenURL          string  `koanf:"token_url"`
	ClientID          string  `koanf:"client_id"`
	ClientSecret      string  `koanf:"client_secret"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
	PageSize          int     `koanf:"page_size"`
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig holds secrets and admin API protection.
type SecurityConfig struct {
	// EncryptionSecret derives the AES key for stored OAuth tokens.
	EncryptionSecret string `koanf:"encryption_secret"`

	// AdminJWTSecret signs and verifies admin API bearer tokens (HS256).
	AdminJWTSecret string `koanf:"admin_jwt_secret"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
