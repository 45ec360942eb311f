// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package queue is the durable task queue the sync engine runs on.
//
// Properties:
//   - durable: tasks live in BadgerDB until completed or dead-lettered
//   - delayed: a task becomes due at RunAt
//   - at-least-once: a leased task whose worker dies is re-leased once the
//     lease expires, so handlers must be idempotent
//   - per-key exclusivity: at most one task per Key is in flight
//   - one pending task per Key: enqueueing for a key that already has a
//     pending task keeps the earlier RunAt instead of adding a duplicate
//
// The Dispatcher leases due tasks and publishes them through a watermill
// Publisher (gochannel in memory mode, NATS JetStream in production). The
// router consumes them, runs the registered HandlerFunc, and then completes,
// reschedules, or dead-letters the task according to a RetryPolicy.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task names.
const (
	TaskSync    = "sync"
	TaskWebhook = "webhook"
)

// Task is one unit of work.
type Task struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Key serializes tasks: integration ID for syncs, delivery ID for webhooks.
	Key       string    `json:"key"`
	RunAt     time.Time `json:"run_at"`
	Attempt   int       `json:"attempt"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// LeasedUntil is set while a worker holds the task.
	LeasedUntil *time.Time `json:"leased_until,omitempty"`
	// DeadAt is set once the task is moved to the dead-letter set.
	DeadAt *time.Time `json:"dead_at,omitempty"`
}

// Enqueuer schedules tasks. The core engine depends only on this interface.
type Enqueuer interface {
	Enqueue(ctx context.Context, task Task) error
}

// EnqueuerFunc adapts a function to Enqueuer.
type EnqueuerFunc func(ctx context.Context, task Task) error

func (f EnqueuerFunc) Enqueue(ctx context.Context, task Task) error { return f(ctx, task) }

// NewSyncTask returns a sync task for integrationID due after delay.
func NewSyncTask(integrationID string, delay time.Duration) Task {
	return newTask(TaskSync, integrationID, delay)
}

// NewWebhookTask returns a processing task for deliveryID due now.
func NewWebhookTask(deliveryID string) Task {
	return newTask(TaskWebhook, deliveryID, 0)
}

func newTask(name, key string, delay time.Duration) Task {
	now := time.Now().UTC()
	if delay < 0 {
		delay = 0
	}
	return Task{
		ID:        uuid.NewString(),
		Name:      name,
		Key:       key,
		RunAt:     now.Add(delay),
		CreatedAt: now,
	}
}
