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

func deliveryKey(id string) []byte {
	return []byte(prefixDelivery + id)
}

func deliveryIndexKey(integrationID, externalEventID string) []byte {
	return []byte(prefixDeliveryIndex + integrationID + "\x00" + externalEventID)
}

// CreateOrGetDelivery stores d unless a delivery with the same
// (IntegrationID, ExternalEventID) exists, in which case the existing one is
// returned with created=false. Concurrent duplicates resolve to one record.
func (s *Store) CreateOrGetDelivery(ctx context.Context, d *models.WebhookDelivery) (*models.WebhookDelivery, bool, error) {
	if verr := validation.ValidateStruct(d); verr != nil {
		return nil, false, fmt.Errorf("invalid delivery: %w", verr)
	}

	var (
		result  *models.WebhookDelivery
		created bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		idx := deliveryIndexKey(d.IntegrationID, d.ExternalEventID)
		item, err := txn.Get(idx)
		switch {
		case err == nil:
			var existingID string
			if err := item.Value(func(val []byte) error {
				existingID = string(val)
				return nil
			}); err != nil {
				return err
			}
			var existing models.WebhookDelivery
			if err := getJSON(txn, deliveryKey(existingID), &existing); err != nil {
				return fmt.Errorf("indexed delivery %s: %w", existingID, err)
			}
			result, created = &existing, false
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		rec := *d
		if err := setJSON(txn, deliveryKey(rec.ID), &rec); err != nil {
			return err
		}
		if err := txn.Set(idx, []byte(rec.ID)); err != nil {
			return err
		}
		result, created = &rec, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("create delivery: %w", err)
	}
	return result, created, nil
}

// GetDelivery returns a stored delivery.
func (s *Store) GetDelivery(_ context.Context, id string) (*models.WebhookDelivery, error) {
	var d models.WebhookDelivery
	err := s.view(func(txn *badger.Txn) error {
		return getJSON(txn, deliveryKey(id), &d)
	})
	if err != nil {
		return nil, fmt.Errorf("get delivery %s: %w", id, err)
	}
	return &d, nil
}

// UpdateDelivery applies fn atomically; see UpdateIntegration for the contract.
func (s *Store) UpdateDelivery(ctx context.Context, id string, fn func(*models.WebhookDelivery) error) (*models.WebhookDelivery, error) {
	var result *models.WebhookDelivery
	err := s.update(ctx, func(txn *badger.Txn) error {
		var d models.WebhookDelivery
		if err := getJSON(txn, deliveryKey(id), &d); err != nil {
			return err
		}
		if err := fn(&d); err != nil {
			return err
		}
		d.ID = id
		d.UpdatedAt = s.now()
		if err := setJSON(txn, deliveryKey(id), &d); err != nil {
			return err
		}
		result = &d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update delivery %s: %w", id, err)
	}
	return result, nil
}

// ListDeliveriesByStatus returns every delivery in status.
func (s *Store) ListDeliveriesByStatus(ctx context.Context, status models.DeliveryStatus) ([]*models.WebhookDelivery, error) {
	var out []*models.WebhookDelivery
	err := s.view(func(txn *badger.Txn) error {
		return s.scanJSON(ctx, txn, prefixDelivery,
			func() interface{} { return &models.WebhookDelivery{} },
			func(v interface{}) {
				if d := v.(*models.WebhookDelivery); d.Status == status {
					out = append(out, d)
				}
			})
	})
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return out, nil
}
