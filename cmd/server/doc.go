// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package main is the entry point for the Leadsync server.

Leadsync keeps external platform integrations (Twitter, LinkedIn, HubSpot)
in sync on a per-integration schedule and ingests their webhooks. Every sync
and every webhook delivery runs as a task on a durable queue backed by
BadgerDB and dispatched through watermill.

# Application Architecture

	RootSupervisor ("leadsync")
	├── DataSupervisor ("data-layer")
	│   ├── queue dispatcher
	│   ├── activity flusher (DuckDB)
	│   ├── sync sweeper
	│   └── store garbage collector
	├── MessagingSupervisor ("messaging-layer")
	│   └── watermill router (gochannel or NATS JetStream)
	└── APISupervisor ("api-layer")
	    └── admin API

Component initialization order:

 1. Configuration: Koanf v2 (defaults, config.yaml, environment)
 2. Logging: zerolog
 3. Store: BadgerDB for integrations, deliveries and tasks
 4. Credentials: AES-GCM token vault and OAuth2 refresher
 5. Queue: watermill transport (memory, or NATS JetStream with an optional embedded server)
 6. Activity log: DuckDB behind a buffered logger
 7. Scheduler, webhook pipeline and engine
 8. Admin API and supervisor tree

# Configuration

The required secrets are ENCRYPTION_SECRET and ADMIN_JWT_SECRET (32+ characters).
Common settings:

	QUEUE_BACKEND=nats NATS_EMBEDDED_SERVER=true
	STORAGE_PATH=/data/leadsync/badger
	ACTIVITY_BACKEND=duckdb ACTIVITY_DUCKDB_PATH=/data/leadsync/activity.duckdb
	NOTIFY_SLACK_URL=https://hooks.slack.com/services/...

# Signal Handling

SIGINT and SIGTERM cancel the root context. The supervisor stops every
service, the activity flusher writes its remaining buffer, and the queue
transport and store are closed.
*/
package main
