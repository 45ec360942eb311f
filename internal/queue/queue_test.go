// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/tomtom215/leadsync/internal/store"
	"github.com/tomtom215/leadsync/internal/syncerr"
)

// retryOnce retries every error once, immediately, then gives up.
type retryOnce struct{}

func (retryOnce) RetryDelay(err error, attempt int) (time.Duration, bool) {
	if syncerr.Classify(err) == syncerr.KindFatal || attempt >= 1 {
		return 0, false
	}
	return 0, true
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	q := New(st, NewMemoryTransport(watermill.NopLogger{}), retryOnce{}, Config{
		PollInterval:     10 * time.Millisecond,
		JobTimeout:       time.Second,
		RouterRetryCount: 1,
	}, zerolog.Nop())
	t.Cleanup(func() {
		_ = q.Close()
		_ = st.Close()
	})
	return q
}

func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { _ = q.RouterService().Serve(ctx); done <- struct{}{} }()
	go func() { _ = q.Dispatcher().Serve(ctx); done <- struct{}{} }()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})

	select {
	case <-q.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
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

func TestQueue_RunsAndCompletesTask(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)

	var ran atomic.Int32
	var gotKey atomic.Value
	q.Handle(TaskSync, func(ctx context.Context, task Task) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("handler context has no job deadline")
		}
		gotKey.Store(task.Key)
		ran.Add(1)
		return nil
	})
	startQueue(t, q)

	if err := q.Enqueue(context.Background(), NewSyncTask("int-1", 0)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "handler", func() bool { return ran.Load() == 1 })
	waitFor(t, "completion", func() bool {
		has, _ := q.HasLive(context.Background(), TaskSync, "int-1")
		return !has
	})
	if gotKey.Load() != "int-1" {
		t.Errorf("task key = %v", gotKey.Load())
	}
}

func TestQueue_RetriesThenDeadLetters(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)

	var attempts atomic.Int32
	q.Handle(TaskWebhook, func(ctx context.Context, task Task) error {
		attempts.Add(1)
		return errors.New("connection reset")
	})
	startQueue(t, q)

	if err := q.Enqueue(context.Background(), NewWebhookTask("dlv-1")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "dead letter", func() bool {
		dead, _ := q.DeadLetters(context.Background())
		return len(dead) == 1
	})
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2 (initial + one retry)", got)
	}
	dead, _ := q.DeadLetters(context.Background())
	if dead[0].Key != "dlv-1" || dead[0].Attempt != 1 || dead[0].LastError != "connection reset" {
		t.Errorf("dead letter = %+v", dead[0])
	}
}

func TestQueue_FatalIsNotRetried(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)

	var attempts atomic.Int32
	q.Handle(TaskSync, func(ctx context.Context, task Task) error {
		attempts.Add(1)
		return syncerr.Fatal("mock", errors.New("unknown platform"))
	})
	startQueue(t, q)

	_ = q.Enqueue(context.Background(), NewSyncTask("int-9", 0))
	waitFor(t, "dead letter", func() bool {
		dead, _ := q.DeadLetters(context.Background())
		return len(dead) == 1
	})
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestQueue_PanicIsPoisoned(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)

	q.Handle(TaskSync, func(ctx context.Context, task Task) error {
		panic("handler bug")
	})
	startQueue(t, q)

	_ = q.Enqueue(context.Background(), NewSyncTask("int-2", 0))
	waitFor(t, "poisoned task to be dead-lettered", func() bool {
		dead, _ := q.DeadLetters(context.Background())
		return len(dead) == 1
	})
	if has, _ := q.HasLive(context.Background(), TaskSync, "int-2"); has {
		t.Error("poisoned task still live")
	}
}

func TestQueue_EnqueueRejectsUnknownTask(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	err := q.Enqueue(context.Background(), Task{Name: "reindex", Key: "x"})
	if !errors.Is(err, ErrInvalidTask) {
		t.Errorf("err = %v, want ErrInvalidTask", err)
	}
}

func TestDurableName(t *testing.T) {
	t.Parallel()
	if got := durableName("leadsync-worker", "leadsync.sync"); got != "leadsync-worker-leadsync-sync" {
		t.Errorf("durableName = %q", got)
	}
}
