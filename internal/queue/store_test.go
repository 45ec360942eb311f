// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/leadsync/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
}

func newTestTaskStore(t *testing.T) (*TaskStore, *clock) {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	c := newClock()
	ts := NewTaskStore(st)
	ts.now = c.now
	return ts, c
}

func taskAt(name, key string, runAt time.Time) Task {
	t := newTask(name, key, 0)
	t.RunAt = runAt
	return t
}

func TestTaskStore_PutKeepsOnePendingPerKey(t *testing.T) {
	t.Parallel()
	ts, c := newTestTaskStore(t)
	ctx := context.Background()

	first, created, err := ts.Put(ctx, taskAt(TaskSync, "int-1", c.t.Add(time.Hour)))
	if err != nil || !created {
		t.Fatalf("Put first: created=%v err=%v", created, err)
	}

	got, created, err := ts.Put(ctx, taskAt(TaskSync, "int-1", c.t.Add(time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second Put for the same key created a new task")
	}
	if got.ID != first.ID || !got.RunAt.Equal(c.t.Add(time.Minute)) {
		t.Errorf("merged task = %+v, want id %s moved to +1m", got, first.ID)
	}

	// A later run time never pushes the pending task back.
	got, _, _ = ts.Put(ctx, taskAt(TaskSync, "int-1", c.t.Add(2*time.Hour)))
	if !got.RunAt.Equal(c.t.Add(time.Minute)) {
		t.Errorf("RunAt = %v, want unchanged", got.RunAt)
	}

	// Different task names do not share a key space.
	if _, created, _ := ts.Put(ctx, taskAt(TaskWebhook, "int-1", c.t)); !created {
		t.Error("webhook task merged into sync task")
	}

	if _, _, err := ts.Put(ctx, Task{Name: TaskSync}); !errors.Is(err, ErrInvalidTask) {
		t.Errorf("Put without key err = %v, want ErrInvalidTask", err)
	}
}

func TestTaskStore_LeaseDue(t *testing.T) {
	t.Parallel()
	ts, c := newTestTaskStore(t)
	ctx := context.Background()

	_, _, _ = ts.Put(ctx, taskAt(TaskSync, "due", c.t.Add(-time.Second)))
	_, _, _ = ts.Put(ctx, taskAt(TaskSync, "later", c.t.Add(time.Hour)))

	leased, err := ts.LeaseDue(ctx, 10, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(leased) != 1 || leased[0].Key != "due" {
		t.Fatalf("leased = %+v, want only 'due'", leased)
	}
	if leased[0].LeasedUntil == nil || !leased[0].LeasedUntil.Equal(c.t.Add(5*time.Minute)) {
		t.Errorf("LeasedUntil = %v", leased[0].LeasedUntil)
	}

	// Still leased: not handed out twice.
	again, _ := ts.LeaseDue(ctx, 10, 5*time.Minute)
	if len(again) != 0 {
		t.Errorf("re-leased in-flight task: %+v", again)
	}

	// After the lease expires the task is redelivered.
	c.advance(6 * time.Minute)
	again, _ = ts.LeaseDue(ctx, 10, 5*time.Minute)
	if len(again) != 1 || again[0].ID != leased[0].ID {
		t.Errorf("after expiry leased = %+v, want %s", again, leased[0].ID)
	}
}

func TestTaskStore_PerKeyExclusivity(t *testing.T) {
	t.Parallel()
	ts, c := newTestTaskStore(t)
	ctx := context.Background()

	_, _, _ = ts.Put(ctx, taskAt(TaskSync, "int-1", c.t))
	inFlight, _ := ts.LeaseDue(ctx, 10, 5*time.Minute)
	if len(inFlight) != 1 {
		t.Fatalf("leased %d, want 1", len(inFlight))
	}

	// The running sync enqueues its next run for the same key.
	next, created, _ := ts.Put(ctx, taskAt(TaskSync, "int-1", c.t))
	if !created {
		t.Fatal("next run merged into the in-flight task")
	}
	if got, _ := ts.LeaseDue(ctx, 10, 5*time.Minute); len(got) != 0 {
		t.Errorf("leased %+v while key is in flight", got)
	}

	if err := ts.Complete(ctx, inFlight[0]); err != nil {
		t.Fatal(err)
	}
	got, _ := ts.LeaseDue(ctx, 10, 5*time.Minute)
	if len(got) != 1 || got[0].ID != next.ID {
		t.Errorf("after completion leased = %+v, want %s", got, next.ID)
	}
}

func TestTaskStore_Reschedule(t *testing.T) {
	t.Parallel()
	ts, c := newTestTaskStore(t)
	ctx := context.Background()

	_, _, _ = ts.Put(ctx, taskAt(TaskSync, "int-1", c.t))
	leased, _ := ts.LeaseDue(ctx, 1, time.Minute)

	kept, err := ts.Reschedule(ctx, leased[0], 30*time.Second, "hubspot: transient failure")
	if err != nil || !kept {
		t.Fatalf("Reschedule: kept=%v err=%v", kept, err)
	}
	got, err := ts.Get(ctx, leased[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Attempt != 1 || got.LastError == "" || got.LeasedUntil != nil || !got.RunAt.Equal(c.t.Add(30*time.Second)) {
		t.Errorf("rescheduled task = %+v", got)
	}
	if has, _ := ts.HasLive(ctx, TaskSync, "int-1"); !has {
		t.Error("HasLive = false for rescheduled task")
	}

	// A pending task enqueued meanwhile supersedes the retry.
	leased, _ = ts.LeaseDue(ctx, 1, time.Minute)
	if len(leased) != 0 {
		t.Fatalf("retry leased before its delay: %+v", leased)
	}
	c.advance(time.Minute)
	leased, _ = ts.LeaseDue(ctx, 1, time.Minute)
	fresh, _, _ := ts.Put(ctx, taskAt(TaskSync, "int-1", c.t))
	kept, err = ts.Reschedule(ctx, leased[0], time.Minute, "again")
	if err != nil || kept {
		t.Fatalf("Reschedule superseded: kept=%v err=%v", kept, err)
	}
	live, _ := ts.Live(ctx)
	if len(live) != 1 || live[0].ID != fresh.ID {
		t.Errorf("live = %+v, want only %s", live, fresh.ID)
	}
}

func TestTaskStore_DeadLetter(t *testing.T) {
	t.Parallel()
	ts, c := newTestTaskStore(t)
	ctx := context.Background()

	_, _, _ = ts.Put(ctx, taskAt(TaskWebhook, "dlv-1", c.t))
	leased, _ := ts.LeaseDue(ctx, 1, time.Minute)
	if _, err := ts.DeadLetter(ctx, leased[0], "parser rejected payload"); err != nil {
		t.Fatal(err)
	}

	if _, err := ts.Get(ctx, leased[0].ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get dead task err = %v, want ErrNotFound", err)
	}
	if has, _ := ts.HasLive(ctx, TaskWebhook, "dlv-1"); has {
		t.Error("dead-lettered key still live")
	}
	dead, err := ts.DeadLetters(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 || dead[0].LastError != "parser rejected payload" || dead[0].DeadAt == nil {
		t.Errorf("dead letters = %+v", dead)
	}
}
