// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package config loads and validates Leadsync configuration.
//
// Sources are layered with Koanf v2: struct defaults, then an optional YAML
// file, then environment variables. Only environment variables listed in the
// mapping table are honored:
//
//	QUEUE_BACKEND=nats
//	SYNC_JOB_TIMEOUT=90s
//	TOKEN_ENCRYPTION_SECRET=...
//	ADMIN_JWT_SECRET=...
//
// A minimal YAML file:
//
//	queue:
//	  backend: nats
//	platforms:
//	  hubspot:
//	    client_id: abc
//	    client_secret: def
//
// The package also provides CredentialEncryptor, which encrypts stored
// OAuth tokens with AES-256-GCM under a key derived from
// security.encryption_secret.
package config
