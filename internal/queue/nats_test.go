// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/tomtom215/leadsync/internal/config"
	"github.com/tomtom215/leadsync/internal/store"
)

func testNATSConfig(t *testing.T) config.NATSConfig {
	t.Helper()
	return config.NATSConfig{
		EmbeddedServer:   true,
		StoreDir:         t.TempDir(),
		MaxMemory:        64 << 20,
		MaxStore:         256 << 20,
		StreamName:       "LEADSYNC_TEST",
		RetentionDays:    1,
		DurableName:      "leadsync-test",
		QueueGroup:       "leadsync-test",
		SubscribersCount: 1,
	}
}

func TestEmbeddedServer_EnsureStream(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded NATS server")
	}
	cfg := testNATSConfig(t)

	srv, err := NewEmbeddedServer(cfg)
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown() })

	ctx := context.Background()
	topics := []string{"leadsync.sync", "leadsync.webhook"}
	if err := EnsureStream(ctx, srv.ClientURL(), cfg, topics); err != nil {
		t.Fatalf("EnsureStream: %v", err)
	}
	// A second call updates the existing stream.
	if err := EnsureStream(ctx, srv.ClientURL(), cfg, topics); err != nil {
		t.Fatalf("EnsureStream again: %v", err)
	}

	nc, err := natsgo.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream.New: %v", err)
	}
	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if len(info.Config.Subjects) != 2 || info.Config.MaxAge != 24*time.Hour {
		t.Errorf("stream config = %+v", info.Config)
	}
}

func TestQueue_OverNATS(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded NATS server")
	}
	cfg := testNATSConfig(t)

	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	qcfg := Config{PollInterval: 20 * time.Millisecond, JobTimeout: 5 * time.Second}
	qcfg.applyDefaults()
	transport, err := NewNATSTransport(context.Background(), cfg, qcfg.Topics(), watermill.NopLogger{})
	if err != nil {
		t.Fatalf("NewNATSTransport: %v", err)
	}

	q := New(st, transport, retryOnce{}, qcfg, zerolog.Nop())
	t.Cleanup(func() { _ = q.Close() })

	var ran atomic.Int32
	q.Handle(TaskSync, func(_ context.Context, task Task) error {
		if task.Key == "int-nats" {
			ran.Add(1)
		}
		return nil
	})
	startQueue(t, q)

	if err := q.Enqueue(context.Background(), NewSyncTask("int-nats", 0)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "task over NATS", func() bool { return ran.Load() == 1 })
	waitFor(t, "completion", func() bool {
		has, _ := q.HasLive(context.Background(), TaskSync, "int-nats")
		return !has
	})
}
