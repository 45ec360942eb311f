// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/tomtom215/leadsync/internal/policy"
	"github.com/tomtom215/leadsync/internal/queue"
	"github.com/tomtom215/leadsync/internal/store"
)

// stubService runs until canceled, optionally failing its first failures starts.
type stubService struct {
	name     string
	failures int32
	starts   atomic.Int32
}

func (s *stubService) Serve(ctx context.Context) error {
	n := s.starts.Add(1)
	if n <= s.failures {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubService) String() string {
	return s.name
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewSupervisorTree_Defaults(t *testing.T) {
	t.Parallel()

	tree, err := NewSupervisorTree(quietLogger(), TreeConfig{})
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}
	if tree.Root() == nil {
		t.Fatal("root supervisor is nil")
	}
	if tree.config != DefaultTreeConfig() {
		t.Errorf("config = %+v, want %+v", tree.config, DefaultTreeConfig())
	}

	tree, _ = NewSupervisorTree(quietLogger(), TreeConfig{FailureBackoff: time.Second})
	if tree.config.FailureBackoff != time.Second {
		t.Errorf("FailureBackoff = %v, want 1s", tree.config.FailureBackoff)
	}
}

func TestSupervisorTree_StartsEveryLayerAndStops(t *testing.T) {
	t.Parallel()

	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})
	data := &stubService{name: "data"}
	messaging := &stubService{name: "messaging"}
	api := &stubService{name: "api"}
	tree.AddDataService(data)
	tree.AddMessagingService(messaging)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	waitFor(t, "all layers to start", func() bool {
		return data.starts.Load() > 0 && messaging.starts.Load() > 0 && api.starts.Load() > 0
	})
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down")
	}

	report, err := tree.UnstoppedServiceReport()
	if err != nil {
		t.Fatalf("UnstoppedServiceReport: %v", err)
	}
	if len(report) != 0 {
		t.Errorf("unstopped services: %v", report)
	}
}

func TestSupervisorTree_Layout(t *testing.T) {
	t.Parallel()

	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{})
	tree.AddDataService(&stubService{name: "sweeper"})
	tree.AddDataService(&stubService{name: "store-gc"})
	tree.AddAPIService(&stubService{name: "admin-api"})

	layout := tree.Layout()
	if got := layout[LayerData]; len(got) != 2 || got[0] != "sweeper" || got[1] != "store-gc" {
		t.Errorf("data layer = %v", got)
	}
	if got := layout[LayerAPI]; len(got) != 1 || got[0] != "admin-api" {
		t.Errorf("api layer = %v", got)
	}
	if _, ok := layout[LayerMessaging]; ok {
		t.Error("empty messaging layer listed")
	}

	layout[LayerData][0] = "mutated"
	if tree.Layout()[LayerData][0] != "sweeper" {
		t.Error("Layout returned shared state")
	}
}

func TestSupervisorTree_RestartsFailedService(t *testing.T) {
	t.Parallel()

	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	flaky := &stubService{name: "flaky", failures: 2}
	steady := &stubService{name: "steady"}
	tree.AddDataService(flaky)
	tree.AddAPIService(steady)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	waitFor(t, "flaky restarts", func() bool { return flaky.starts.Load() >= 3 })
	if got := steady.starts.Load(); got != 1 {
		t.Errorf("steady started %d times, want 1", got)
	}

	cancel()
	<-errCh
}

func TestSupervisorTree_RunsQueue(t *testing.T) {
	t.Parallel()

	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	q := queue.New(st, queue.NewMemoryTransport(watermill.NopLogger{}), policy.Default(), queue.Config{
		PollInterval: 10 * time.Millisecond,
		JobTimeout:   time.Second,
	}, zerolog.Nop())
	t.Cleanup(func() {
		_ = q.Close()
		_ = st.Close()
	})

	var handled atomic.Int32
	q.Handle(queue.TaskSync, func(_ context.Context, task queue.Task) error {
		if task.Key == "int-1" {
			handled.Add(1)
		}
		return nil
	})

	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{ShutdownTimeout: 2 * time.Second})
	tree.AddQueue(q)

	layout := tree.Layout()
	if got := layout[LayerMessaging]; len(got) != 1 || got[0] != "queue-router" {
		t.Errorf("messaging layer = %v, want [queue-router]", got)
	}
	if got := layout[LayerData]; len(got) != 1 || got[0] != "queue-dispatcher" {
		t.Errorf("data layer = %v, want [queue-dispatcher]", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	defer func() {
		cancel()
		<-errCh
	}()

	if err := q.Enqueue(ctx, queue.NewSyncTask("int-1", 0)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "sync task to run", func() bool { return handled.Load() == 1 })
}
