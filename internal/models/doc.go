// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package models defines the records shared by the sync engine.

Key Components:

  - Integration: a user's linked platform connection, its lifecycle state,
    counters, cursor, and encrypted tokens
  - WebhookDelivery: one inbound push notification and its processing state
  - SyncResult: the transient outcome of one adapter invocation
  - ActivityEvent: an append-only activity log entry

Persistence lives in internal/store; state transitions live in
internal/integration. Nothing in this package mutates records on its own.
*/
package models
