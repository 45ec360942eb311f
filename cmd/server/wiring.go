// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package main

import (
	"context"
	"fmt"

	"github.com/tomtom215/leadsync/internal/activity"
	"github.com/tomtom215/leadsync/internal/config"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/queue"
)

const (
	backendMemory = "memory"
	backendNATS   = "nats"
	backendDuckDB = "duckdb"
)

// openTransport builds the watermill transport named by cfg.Queue.Backend.
func openTransport(ctx context.Context, cfg *config.Config, queueCfg *queue.Config) (*queue.Transport, error) {
	wmLogger := logging.NewWatermillAdapter(logging.WithComponent("watermill"))

	switch cfg.Queue.Backend {
	case "", backendMemory:
		return queue.NewMemoryTransport(wmLogger), nil
	case backendNATS:
		t, err := queue.NewNATSTransport(ctx, cfg.NATS, queueCfg.Topics(), wmLogger)
		if err != nil {
			return nil, fmt.Errorf("NATS transport: %w", err)
		}
		logging.Info().
			Str("stream", cfg.NATS.StreamName).
			Bool("embedded", cfg.NATS.EmbeddedServer).
			Msg("NATS JetStream transport ready")
		return t, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// openActivityStore opens the activity history named by cfg.Backend.
//
//nolint:gocritic // config passed once at startup
func openActivityStore(ctx context.Context, cfg config.ActivityConfig) (activity.Store, error) {
	switch cfg.Backend {
	case backendMemory:
		return activity.NewMemoryStore(), nil
	case "", backendDuckDB:
		st, err := activity.OpenDuckDB(ctx, cfg.DuckDBPath)
		if err != nil {
			return nil, err
		}
		logging.Info().Str("path", cfg.DuckDBPath).Msg("Activity store opened")
		return st, nil
	default:
		return nil, fmt.Errorf("unknown activity backend %q", cfg.Backend)
	}
}

//nolint:gocritic // config passed once at startup
func newActivityLogger(st activity.Store, cfg config.ActivityConfig) *activity.BufferedLogger {
	return activity.NewBufferedLogger(st, activityLoggerConfig(cfg))
}

//nolint:gocritic // config passed once at startup
func activityLoggerConfig(cfg config.ActivityConfig) activity.BufferedLoggerConfig {
	return activity.BufferedLoggerConfig{
		BufferSize:    cfg.BufferSize,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		Logger:        logging.WithComponent("activity"),
	}
}

// watchLogLevel re-applies logging.level whenever the config file changes.
// Everything else needs a restart.
func watchLogLevel() {
	path := config.FindConfigFile()
	if path == "" {
		return
	}
	err := config.WatchConfigFile(path, func() {
		cfg, err := config.LoadWithKoanf()
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Ignoring invalid config reload")
			return
		}
		logging.SetLevelString(cfg.Logging.Level)
		logging.Info().Str("level", cfg.Logging.Level).Msg("Log level reloaded")
	})
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Config file watch unavailable")
	}
}
