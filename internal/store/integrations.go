// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/leadsync/internal/models"
	"github.com/tomtom215/leadsync/internal/validation"
)

func integrationKey(id string) []byte {
	return []byte(prefixIntegration + id)
}

// CreateIntegration stores a new integration with Version 1.
func (s *Store) CreateIntegration(ctx context.Context, in *models.Integration) error {
	now := s.now()
	rec := in.Clone()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Version = 1

	if verr := validation.ValidateStruct(rec); verr != nil {
		return fmt.Errorf("invalid integration: %w", verr)
	}

	err := s.update(ctx, func(txn *badger.Txn) error {
		key := integrationKey(rec.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, rec)
	})
	if err != nil {
		return fmt.Errorf("create integration %s: %w", rec.ID, err)
	}

	*in = *rec
	return nil
}

// GetIntegration returns a copy of the stored integration.
func (s *Store) GetIntegration(_ context.Context, id string) (*models.Integration, error) {
	var in models.Integration
	err := s.view(func(txn *badger.Txn) error {
		return getJSON(txn, integrationKey(id), &in)
	})
	if err != nil {
		return nil, fmt.Errorf("get integration %s: %w", id, err)
	}
	return &in, nil
}

// ListIntegrations returns every stored integration.
func (s *Store) ListIntegrations(ctx context.Context) ([]*models.Integration, error) {
	var out []*models.Integration
	err := s.view(func(txn *badger.Txn) error {
		return s.scanJSON(ctx, txn, prefixIntegration,
			func() interface{} { return &models.Integration{} },
			func(v interface{}) { out = append(out, v.(*models.Integration)) })
	})
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	return out, nil
}

// UpdateIntegration applies fn atomically and returns the stored result.
// fn may run several times under contention; an error from fn aborts the update.
func (s *Store) UpdateIntegration(ctx context.Context, id string, fn func(*models.Integration) error) (*models.Integration, error) {
	var result *models.Integration
	err := s.update(ctx, func(txn *badger.Txn) error {
		var in models.Integration
		if err := getJSON(txn, integrationKey(id), &in); err != nil {
			return err
		}
		if err := fn(&in); err != nil {
			return err
		}
		in.ID = id
		in.Version++
		in.UpdatedAt = s.now()
		if verr := validation.ValidateStruct(&in); verr != nil {
			return fmt.Errorf("invalid integration: %w", verr)
		}
		if err := setJSON(txn, integrationKey(id), &in); err != nil {
			return err
		}
		result = &in
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update integration %s: %w", id, err)
	}
	return result, nil
}
