// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/leadsync/internal/adapters"
	"github.com/tomtom215/leadsync/internal/api"
	"github.com/tomtom215/leadsync/internal/auth"
	"github.com/tomtom215/leadsync/internal/config"
	"github.com/tomtom215/leadsync/internal/credentials"
	"github.com/tomtom215/leadsync/internal/engine"
	"github.com/tomtom215/leadsync/internal/integration"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/notify"
	"github.com/tomtom215/leadsync/internal/policy"
	"github.com/tomtom215/leadsync/internal/queue"
	"github.com/tomtom215/leadsync/internal/scheduler"
	"github.com/tomtom215/leadsync/internal/store"
	"github.com/tomtom215/leadsync/internal/supervisor"
	"github.com/tomtom215/leadsync/internal/webhook"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	watchLogLevel()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error().Err(err).Msg("Leadsync exited with error")
		stop()
		os.Exit(1)
	}
	logging.Info().Msg("Leadsync stopped")
}

//nolint:gocyclo // sequential startup wiring
func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.Logger()
	logger.Info().
		Str("environment", cfg.Server.Environment).
		Str("queue_backend", cfg.Queue.Backend).
		Str("activity_backend", cfg.Activity.Backend).
		Msg("Starting Leadsync")

	st, err := store.Open(store.Options{
		Path:       cfg.Storage.Path,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.IsProduction(),
		Logger:     logging.WithComponent("store"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing store")
		}
	}()

	enc, err := config.NewCredentialEncryptor(cfg.Security.EncryptionSecret)
	if err != nil {
		return fmt.Errorf("credential encryptor: %w", err)
	}
	vault := credentials.NewVault(enc)

	queueCfg := queue.ConfigFrom(cfg.Queue, cfg.Sync.JobTimeout)
	transport, err := openTransport(ctx, cfg, &queueCfg)
	if err != nil {
		return err
	}
	retryPolicy := policy.FromConfig(cfg.Sync)
	q := queue.New(st, transport, retryPolicy, queueCfg, logging.WithComponent("queue"))
	defer func() {
		if err := q.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing queue transport")
		}
	}()

	history, err := openActivityStore(ctx, cfg.Activity)
	if err != nil {
		return err
	}
	defer func() {
		if err := history.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing activity store")
		}
	}()
	activityLog := newActivityLogger(history, cfg.Activity)

	notifier := notify.FromConfig(cfg.Notify, logging.WithComponent("notify"))
	defer notifier.Wait()

	sm := integration.New()
	sched := scheduler.New(scheduler.Deps{
		Store:         st,
		StateMachine:  sm,
		Adapters:      adapters.NewDefaultRegistry(cfg.Platforms, logging.WithComponent("adapters")),
		Refresher:     credentials.NewOAuthRefresher(cfg.Platforms, vault, logging.WithComponent("credentials")),
		Vault:         vault,
		Activity:      activityLog,
		Notifier:      notifier,
		Policy:        retryPolicy,
		RefreshWindow: cfg.Sync.RefreshWindow,
		Logger:        logging.WithComponent("scheduler"),
	})

	parser, err := webhook.NewSchemaParser(cfg.Webhook.SchemaDir)
	if err != nil {
		return fmt.Errorf("webhook schemas: %w", err)
	}
	pipeline := webhook.NewPipeline(st, webhook.Options{
		Parser:          parser,
		Activity:        activityLog,
		MaxPayloadBytes: cfg.Webhook.MaxPayloadBytes,
		Logger:          logging.WithComponent("webhook"),
	})

	eng := engine.New(engine.Deps{
		Store:        st,
		Vault:        vault,
		StateMachine: sm,
		Scheduler:    sched,
		Pipeline:     pipeline,
		Queue:        q,
		Activity:     activityLog,
		History:      history,
		Logger:       logging.WithComponent("engine"),
	})
	eng.RegisterHandlers()

	jwtManager, err := auth.NewJWTManager(cfg.Security.AdminJWTSecret)
	if err != nil {
		return fmt.Errorf("admin JWT: %w", err)
	}
	handler := api.NewHandler(eng, queueReady(q)).WithMaxWebhookBytes(cfg.Webhook.MaxPayloadBytes)
	routerCfg := api.RouterConfig{
		RateLimitRequests: cfg.Security.RateLimitReqs,
		RateLimitWindow:   cfg.Security.RateLimitWindow,
	}
	if cfg.Security.RateLimitDisabled {
		routerCfg.RateLimitRequests = 0
	}
	apiServer := api.NewServer(
		cfg.Server.Addr(),
		api.NewRouter(handler, auth.NewMiddleware(jwtManager), routerCfg),
		cfg.Server.Timeout,
		logger,
	)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	tree.AddQueue(q)
	tree.AddDataService(activityLog)
	if cfg.Sync.SweepInterval > 0 {
		tree.AddDataService(scheduler.NewSweeper(
			st, q, q,
			cfg.Sync.SweepInterval,
			cfg.Sync.StuckDeliveryThreshold,
			logging.WithComponent("sweeper"),
		))
	}
	if !cfg.Storage.InMemory {
		tree.AddDataService(store.NewGarbageCollector(st, 0))
	}
	tree.AddAPIService(apiServer)

	layout := tree.Layout()
	logger.Info().
		Str("addr", cfg.Server.Addr()).
		Strs(supervisor.LayerMessaging, layout[supervisor.LayerMessaging]).
		Strs(supervisor.LayerData, layout[supervisor.LayerData]).
		Strs(supervisor.LayerAPI, layout[supervisor.LayerAPI]).
		Msg("Supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logger.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}
	return nil
}

// queueReady reports whether the router has started consuming.
func queueReady(q *queue.Queue) func() bool {
	return func() bool {
		select {
		case <-q.Ready():
			return true
		default:
			return false
		}
	}
}
