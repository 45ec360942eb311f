// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations in priority order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/leadsync/config.yaml",
	"/etc/leadsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			MaxErrorCount:           3,
			JobTimeout:              2 * time.Minute,
			RefreshWindow:           5 * time.Minute,
			SweepInterval:           time.Minute,
			StuckDeliveryThreshold:  10 * time.Minute,
			RetryBaseDelay:          30 * time.Second,
			RetryMaxDelay:           30 * time.Minute,
			RetryMaxAttempts:        5,
			RetryJitter:             0.1,
			TimeoutRetryInterval:    10 * time.Second,
			TimeoutRetryMaxAttempts: 10,
			AuthRetries:             1,
		},
		Webhook: WebhookConfig{
			MaxPayloadBytes: 1 << 20,
		},
		Queue: QueueConfig{
			Backend:                    "memory",
			PollInterval:               time.Second,
			LeaseDuration:              5 * time.Minute,
			BatchSize:                  100,
			SyncTopic:                  "leadsync.sync",
			WebhookTopic:               "leadsync.webhook",
			PoisonTopic:                "leadsync.poison",
			RouterRetryCount:           3,
			RouterRetryInitialInterval: 100 * time.Millisecond,
			RouterCloseTimeout:         30 * time.Second,
		},
		NATS: NATSConfig{
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   true,
			StoreDir:         "/data/nats/jetstream",
			MaxMemory:        256 << 20,
			MaxStore:         1 << 30,
			StreamName:       "LEADSYNC",
			RetentionDays:    7,
			DurableName:      "leadsync-worker",
			QueueGroup:       "leadsync-workers",
			SubscribersCount: 4,
		},
		Storage: StorageConfig{
			Path: "/data/leadsync/badger",
		},
		Activity: ActivityConfig{
			Backend:    "duckdb",
			DuckDBPath: "/data/leadsync/activity.duckdb",
			BufferSize:    1000,
			BatchSize:     100,
			FlushInterval: time.Second,
		},
		Notify: NotifyConfig{
			Timeout: 10 * time.Second,
		},
		Platforms: PlatformsConfig{
			Twitter: PlatformConfig{
				BaseURL:           "https://api.twitter.com",
				TokenURL:          "https://api.twitter.com/2/oauth2/token",
				RequestsPerSecond: 1,
				Burst:             5,
				PageSize:          100,
			},
			LinkedIn: PlatformConfig{
				BaseURL:           "https://api.linkedin.com",
				TokenURL:          "https://www.linkedin.com/oauth/v2/accessToken",
				RequestsPerSecond: 2,
				Burst:             5,
				PageSize:          50,
			},
			HubSpot: PlatformConfig{
				BaseURL:           "https://api.hubapi.com",
				TokenURL:          "https://api.hubapi.com/oauth/v1/token",
				RequestsPerSecond: 10,
				Burst:             10,
				PageSize:          100,
			},
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8085,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Security: SecurityConfig{
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads configuration with precedence ENV > file > defaults,
// then validates it.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// LEADSYNC_QUEUE_BACKEND -> queue.backend
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// FindConfigFile returns the config file in use, or "" when running on defaults and env.
func FindConfigFile() string {
	return findConfigFile()
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps environment variable names to koanf paths.
// Unmapped variables return "" and are ignored so the process environment
// cannot leak arbitrary keys into the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Sync
		"max_error_count":                 "sync.max_error_count",
		"sync_job_timeout":                "sync.job_timeout",
		"sync_refresh_window":             "sync.refresh_window",
		"sync_sweep_interval":             "sync.sweep_interval",
		"sync_stuck_delivery_threshold":   "sync.stuck_delivery_threshold",
		"sync_retry_base_delay":           "sync.retry_base_delay",
		"sync_retry_max_delay":            "sync.retry_max_delay",
		"sync_retry_max_attempts":         "sync.retry_max_attempts",
		"sync_timeout_retry_interval":     "sync.timeout_retry_interval",
		"sync_timeout_retry_max_attempts": "sync.timeout_retry_max_attempts",
		"sync_auth_retries":               "sync.auth_retries",

		// Webhook
		"webhook_max_payload_bytes": "webhook.max_payload_bytes",
		"webhook_schema_dir":        "webhook.schema_dir",

		// Queue
		"queue_backend":               "queue.backend",
		"queue_poll_interval":         "queue.poll_interval",
		"queue_lease_duration":        "queue.lease_duration",
		"queue_batch_size":            "queue.batch_size",
		"queue_poison_topic":          "queue.poison_topic",
		"queue_router_retry_count":    "queue.router_retry_count",
		"queue_router_retry_interval": "queue.router_retry_initial_interval",
		"queue_router_close_timeout":  "queue.router_close_timeout",

		// NATS
		"nats_url":            "nats.url",
		"nats_embedded":       "nats.embedded_server",
		"nats_store_dir":      "nats.store_dir",
		"nats_max_memory":     "nats.max_memory",
		"nats_max_store":      "nats.max_store",
		"nats_stream":         "nats.stream_name",
		"nats_retention_days": "nats.retention_days",
		"nats_durable_name":   "nats.durable_name",
		"nats_queue_group":    "nats.queue_group",
		"nats_subscribers":    "nats.subscribers_count",

		// Storage
		"badger_path":      "storage.path",
		"badger_in_memory": "storage.in_memory",

		// Activity
		"activity_backend":     "activity.backend",
		"activity_duckdb_path": "activity.duckdb_path",
		"activity_buffer_size": "activity.buffer_size",

		// Notify
		"notify_webhook_url": "notify.webhook_url",
		"notify_slack_url":   "notify.slack_url",
		"notify_timeout":     "notify.timeout",

		// Platforms
		"twitter_base_url":       "platforms.twitter.base_url",
		"twitter_token_url":      "platforms.twitter.token_url",
		"twitter_client_id":      "platforms.twitter.client_id",
		"twitter_client_secret":  "platforms.twitter.client_secret",
		"twitter_rps":            "platforms.twitter.requests_per_second",
		"linkedin_base_url":      "platforms.linkedin.base_url",
		"linkedin_token_url":     "platforms.linkedin.token_url",
		"linkedin_client_id":     "platforms.linkedin.client_id",
		"linkedin_client_secret": "platforms.linkedin.client_secret",
		"linkedin_rps":           "platforms.linkedin.requests_per_second",
		"hubspot_base_url":       "platforms.hubspot.base_url",
		"hubspot_token_url":      "platforms.hubspot.token_url",
		"hubspot_client_id":      "platforms.hubspot.client_id",
		"hubspot_client_secret":  "platforms.hubspot.client_secret",
		"hubspot_rps":            "platforms.hubspot.requests_per_second",

		// Server
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// Security
		"token_encryption_secret": "security.encryption_secret",
		"admin_jwt_secret":        "security.admin_jwt_secret",
		"rate_limit_requests":     "security.rate_limit_reqs",
		"rate_limit_window":       "security.rate_limit_window",
		"disable_rate_limit":      "security.rate_limit_disabled",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// WatchConfigFile calls callback whenever the file at path changes.
// The caller is responsible for synchronizing access to the reloaded config.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
