// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package store persists integrations and webhook deliveries in BadgerDB.
//
// Every mutation is an atomic read-modify-write inside a badger transaction.
// Badger uses optimistic concurrency: when two transactions touch the same
// key, the later commit fails with badger.ErrConflict and the update is
// replayed against fresh state. Callers therefore pass mutation functions,
// not values:
//
//	updated, err := st.UpdateIntegration(ctx, id, func(in *models.Integration) error {
//	    in.ErrorCount++
//	    return nil
//	})
//
// A mutation function may run more than once and must only touch the value
// it is given. Returning an error from it aborts the update without writing.
//
// Key layout:
//
//	integration:<id>                         -> models.Integration (JSON)
//	delivery:<id>                            -> models.WebhookDelivery (JSON)
//	delivery_idx:<integration_id>\x00<event> -> delivery id
//
// The queue package shares the same DB under its own prefixes.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrAlreadyExists            = errors.New("already exists")
	ErrConflictRetriesExhausted = errors.New("too many concurrent updates")
	ErrClosed                   = errors.New("store is closed")
)

const (
	prefixIntegration   = "integration:"
	prefixDelivery      = "delivery:"
	prefixDeliveryIndex = "delivery_idx:"

	defaultMaxConflictRetries = 16
)

// Options configures Open.
type Options struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path string

	InMemory   bool
	SyncWrites bool

	// MaxConflictRetries bounds replays of a conflicting update.
	MaxConflictRetries int

	Logger zerolog.Logger
}

// Store is the BadgerDB-backed persistence layer.
type Store struct {
	db         *badger.DB
	logger     zerolog.Logger
	maxRetries int
	closed     atomic.Bool

	// now is replaceable in tests.
	now func() time.Time
}

// Open opens (or creates) the database.
//
//nolint:gocritic // Options is passed once at startup
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.SyncWrites = opts.SyncWrites
	bopts.Compression = options.Snappy
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	retries := opts.MaxConflictRetries
	if retries <= 0 {
		retries = defaultMaxConflictRetries
	}

	opts.Logger.Info().
		Str("path", opts.Path).
		Bool("in_memory", opts.InMemory).
		Msg("Store opened")

	return &Store{
		db:         db,
		logger:     opts.Logger,
		maxRetries: retries,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true, Logger: zerolog.Nop()})
}

// DB exposes the underlying database for packages that keep their own key prefixes.
func (s *Store) DB() *badger.DB {
	return s.db
}

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction, replaying it on ErrConflict.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug().Int("attempt", attempt+1).Msg("Transaction conflict, retrying")
	}
	return ErrConflictRetriesExhausted
}

func (s *Store) view(fn func(txn *badger.Txn) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.View(fn)
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// scanJSON calls fn for every value under prefix. Malformed values are logged and skipped.
func (s *Store) scanJSON(ctx context.Context, txn *badger.Txn, prefix string, newValue func() interface{}, fn func(v interface{})) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		v := newValue()
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, v) }); err != nil {
			s.logger.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping malformed record")
			continue
		}
		fn(v)
	}
	return nil
}

// Update runs fn in a read-write transaction with the same conflict replay as
// the integration and delivery mutations. Used by packages that keep their own
// key prefixes in this DB.
func (s *Store) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	return s.update(ctx, fn)
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(txn *badger.Txn) error) error {
	return s.view(fn)
}

// GetJSON decodes the value at key into v, returning ErrNotFound when absent.
func GetJSON(txn *badger.Txn, key []byte, v interface{}) error {
	return getJSON(txn, key, v)
}

// SetJSON encodes v and stores it at key.
func SetJSON(txn *badger.Txn, key []byte, v interface{}) error {
	return setJSON(txn, key, v)
}

// ScanJSON calls fn for every value under prefix.
func (s *Store) ScanJSON(ctx context.Context, txn *badger.Txn, prefix string, newValue func() interface{}, fn func(v interface{})) error {
	return s.scanJSON(ctx, txn, prefix, newValue, fn)
}
