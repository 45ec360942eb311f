// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/leadsync/internal/store"
)

// Key layout, sharing the store's DB:
//
//	task:<id>                    -> Task (pending or leased)
//	task_pending:<name>\x00<key> -> id of the pending (unleased) task for key
//	task_lease:<name>\x00<key>   -> lease held by the in-flight task for key
//	dead:<id>                    -> Task (dead-lettered)
const (
	prefixTask    = "task:"
	prefixPending = "task_pending:"
	prefixLease   = "task_lease:"
	prefixDead    = "dead:"
)

// ErrInvalidTask is returned for a task without a name or key.
var ErrInvalidTask = errors.New("task requires a name and a key")

type lease struct {
	TaskID string    `json:"task_id"`
	Until  time.Time `json:"until"`
}

func taskKey(id string) []byte { return []byte(prefixTask + id) }

func deadKey(id string) []byte { return []byte(prefixDead + id) }

func pendingKey(name, key string) []byte { return []byte(prefixPending + name + "\x00" + key) }

func leaseKey(name, key string) []byte { return []byte(prefixLease + name + "\x00" + key) }

func pendingKeyFor(t *Task) []byte { return pendingKey(t.Name, t.Key) }

func leaseKeyFor(t *Task) []byte { return leaseKey(t.Name, t.Key) }

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }

func readString(txn *badger.Txn, k []byte) (string, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	v, err := item.ValueCopy(nil)
	return string(v), err
}

// TaskStore persists tasks in BadgerDB.
type TaskStore struct {
	st  *store.Store
	now func() time.Time
}

// NewTaskStore returns a TaskStore on st's database.
func NewTaskStore(st *store.Store) *TaskStore {
	return &TaskStore{st: st, now: func() time.Time { return time.Now().UTC() }}
}

// Put stores t unless a pending task already exists for its name and key, in
// which case the existing task is kept and moved earlier if t is due sooner.
// It reports whether t was stored as a new task.
func (s *TaskStore) Put(ctx context.Context, t Task) (Task, bool, error) {
	if t.Name == "" || t.Key == "" {
		return Task{}, false, ErrInvalidTask
	}
	var (
		result  Task
		created bool
	)
	err := s.st.Update(ctx, func(txn *badger.Txn) error {
		created = false
		existingID, err := readString(txn, pendingKeyFor(&t))
		switch {
		case err == nil:
			var existing Task
			if err := store.GetJSON(txn, taskKey(existingID), &existing); err == nil {
				if t.RunAt.Before(existing.RunAt) {
					existing.RunAt = t.RunAt
					if err := store.SetJSON(txn, taskKey(existing.ID), &existing); err != nil {
						return err
					}
				}
				result = existing
				return nil
			} else if !isNotFound(err) {
				return err
			}
			// Dangling index entry; fall through and replace it.
		case !isNotFound(err):
			return err
		}

		if err := store.SetJSON(txn, taskKey(t.ID), &t); err != nil {
			return err
		}
		if err := txn.Set(pendingKeyFor(&t), []byte(t.ID)); err != nil {
			return err
		}
		result = t
		created = true
		return nil
	})
	if err != nil {
		return Task{}, false, fmt.Errorf("put task %s/%s: %w", t.Name, t.Key, err)
	}
	return result, created, nil
}

// Get returns a live (pending or leased) task.
func (s *TaskStore) Get(ctx context.Context, id string) (Task, error) {
	var t Task
	err := s.st.View(func(txn *badger.Txn) error {
		return store.GetJSON(txn, taskKey(id), &t)
	})
	return t, err
}

// LeaseDue leases up to limit due tasks whose key has no live lease.
func (s *TaskStore) LeaseDue(ctx context.Context, limit int, leaseFor time.Duration) ([]Task, error) {
	var leased []Task
	err := s.st.Update(ctx, func(txn *badger.Txn) error {
		leased = leased[:0]
		now := s.now()

		var candidates []Task
		err := s.st.ScanJSON(ctx, txn, prefixTask, func() interface{} { return &Task{} }, func(v interface{}) {
			t := v.(*Task)
			if t.RunAt.After(now) {
				return
			}
			if t.LeasedUntil != nil && t.LeasedUntil.After(now) {
				return
			}
			candidates = append(candidates, *t)
		})
		if err != nil {
			return err
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].RunAt.Before(candidates[j].RunAt) })

		for i := range candidates {
			if len(leased) >= limit {
				break
			}
			t := candidates[i]

			var held lease
			err := store.GetJSON(txn, leaseKeyFor(&t), &held)
			if err == nil && held.TaskID != t.ID && held.Until.After(now) {
				continue
			}
			if err != nil && !isNotFound(err) {
				return err
			}

			until := now.Add(leaseFor)
			t.LeasedUntil = &until
			if err := store.SetJSON(txn, taskKey(t.ID), &t); err != nil {
				return err
			}
			if err := store.SetJSON(txn, leaseKeyFor(&t), lease{TaskID: t.ID, Until: until}); err != nil {
				return err
			}
			if err := deleteIfPointsTo(txn, pendingKeyFor(&t), t.ID); err != nil {
				return err
			}
			leased = append(leased, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lease due tasks: %w", err)
	}
	return leased, nil
}

// Complete removes a finished task and releases its lease.
func (s *TaskStore) Complete(ctx context.Context, t Task) error {
	err := s.st.Update(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(taskKey(t.ID)); err != nil {
			return err
		}
		return release(txn, &t)
	})
	if err != nil {
		return fmt.Errorf("complete task %s: %w", t.ID, err)
	}
	return nil
}

// Reschedule returns a failed task to pending after delay with its attempt
// counter bumped. When another pending task for the same key was enqueued in
// the meantime, that task supersedes the retry and Reschedule reports false.
func (s *TaskStore) Reschedule(ctx context.Context, t Task, delay time.Duration, reason string) (bool, error) {
	var kept bool
	err := s.st.Update(ctx, func(txn *badger.Txn) error {
		kept = false
		otherID, err := readString(txn, pendingKeyFor(&t))
		if err != nil && !isNotFound(err) {
			return err
		}
		if err == nil && otherID != t.ID {
			if err := txn.Delete(taskKey(t.ID)); err != nil {
				return err
			}
			return release(txn, &t)
		}

		t.Attempt++
		t.LastError = reason
		t.RunAt = s.now().Add(delay)
		t.LeasedUntil = nil
		if err := store.SetJSON(txn, taskKey(t.ID), &t); err != nil {
			return err
		}
		if err := txn.Set(pendingKeyFor(&t), []byte(t.ID)); err != nil {
			return err
		}
		kept = true
		return release(txn, &t)
	})
	if err != nil {
		return false, fmt.Errorf("reschedule task %s: %w", t.ID, err)
	}
	return kept, nil
}

// DeadLetter moves t to the dead-letter set.
func (s *TaskStore) DeadLetter(ctx context.Context, t Task, reason string) (Task, error) {
	err := s.st.Update(ctx, func(txn *badger.Txn) error {
		now := s.now()
		t.LastError = reason
		t.LeasedUntil = nil
		t.DeadAt = &now
		if err := store.SetJSON(txn, deadKey(t.ID), &t); err != nil {
			return err
		}
		if err := txn.Delete(taskKey(t.ID)); err != nil {
			return err
		}
		if err := deleteIfPointsTo(txn, pendingKeyFor(&t), t.ID); err != nil {
			return err
		}
		return release(txn, &t)
	})
	if err != nil {
		return Task{}, fmt.Errorf("dead-letter task %s: %w", t.ID, err)
	}
	return t, nil
}

// DeadLetters lists dead-lettered tasks, newest first.
func (s *TaskStore) DeadLetters(ctx context.Context) ([]Task, error) {
	var out []Task
	err := s.st.View(func(txn *badger.Txn) error {
		return s.st.ScanJSON(ctx, txn, prefixDead, func() interface{} { return &Task{} }, func(v interface{}) {
			out = append(out, *v.(*Task))
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeadAt.After(*out[j].DeadAt) })
	return out, nil
}

// Live returns every pending or leased task ordered by RunAt.
func (s *TaskStore) Live(ctx context.Context) ([]Task, error) {
	var out []Task
	err := s.st.View(func(txn *badger.Txn) error {
		return s.st.ScanJSON(ctx, txn, prefixTask, func() interface{} { return &Task{} }, func(v interface{}) {
			out = append(out, *v.(*Task))
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out, nil
}

// HasLive reports whether a pending or leased task exists for name and key.
func (s *TaskStore) HasLive(ctx context.Context, name, key string) (bool, error) {
	var found bool
	err := s.st.View(func(txn *badger.Txn) error {
		for _, k := range [][]byte{pendingKey(name, key), leaseKey(name, key)} {
			_, err := txn.Get(k)
			if err == nil {
				found = true
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	return found, err
}

// release deletes the lease for t's key if t holds it.
func release(txn *badger.Txn, t *Task) error {
	var held lease
	err := store.GetJSON(txn, leaseKeyFor(t), &held)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if held.TaskID != t.ID {
		return nil
	}
	return txn.Delete(leaseKeyFor(t))
}

func deleteIfPointsTo(txn *badger.Txn, k []byte, id string) error {
	current, err := readString(txn, k)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if current != id {
		return nil
	}
	return txn.Delete(k)
}
