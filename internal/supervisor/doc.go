// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package supervisor runs Leadsync's long-lived services under a suture v4 tree.

The tree has three layers so that a crash in one does not restart the others:

	RootSupervisor ("leadsync")
	├── MessagingSupervisor ("messaging-layer")
	│   └── watermill router (sync and webhook handlers)
	├── DataSupervisor ("data-layer")
	│   ├── queue dispatcher
	│   ├── activity flusher
	│   ├── sync sweeper
	│   └── store garbage collector
	└── APISupervisor ("api-layer")
	    └── admin API server

A service that returns an error is restarted with suture's backoff. Returning
after its context is canceled is a clean stop. Supervisor events are logged
through sutureslog using the slog bridge from internal/logging.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	if err != nil {
	    return err
	}
	tree.AddQueue(q)
	tree.AddAPIService(apiServer)
	return tree.Serve(ctx)
*/
package supervisor
