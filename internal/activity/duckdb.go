// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package activity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver

	"github.com/tomtom215/leadsync/internal/models"
)

const createActivityTable = `
CREATE TABLE IF NOT EXISTS activity_events (
	id             VARCHAR PRIMARY KEY,
	integration_id VARCHAR NOT NULL,
	event_type     VARCHAR NOT NULL,
	message        VARCHAR,
	correlation_id VARCHAR,
	occurred_at    TIMESTAMP NOT NULL
)`

const createActivityIndex = `CREATE INDEX IF NOT EXISTS idx_activity_integration ON activity_events (integration_id, occurred_at)`

// DuckDBStore persists activity events in a DuckDB table.
type DuckDBStore struct {
	conn *sql.DB
}

// OpenDuckDB opens the database at path. An empty path opens an in-memory database.
func OpenDuckDB(ctx context.Context, path string) (*DuckDBStore, error) {
	// Disable auto-install/auto-load so startup never reaches the network.
	connStr := path + "?autoinstall_known_extensions=false&autoload_known_extensions=false"
	if path == "" {
		connStr = ":memory:?autoinstall_known_extensions=false&autoload_known_extensions=false"
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open activity database: %w", err)
	}
	// A single writer avoids DuckDB write-write conflicts on the same table.
	conn.SetMaxOpenConns(1)

	for _, stmt := range []string{createActivityTable, createActivityIndex} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			closeQuietly(conn)
			return nil, fmt.Errorf("failed to initialize activity schema: %w", err)
		}
	}
	return &DuckDBStore{conn: conn}, nil
}

// InsertActivity writes events in one transaction. Duplicate IDs are ignored.
func (s *DuckDBStore) InsertActivity(ctx context.Context, events []models.ActivityEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activity insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO activity_events (id, integration_id, event_type, message, correlation_id, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare activity insert: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		if _, err := stmt.ExecContext(ctx, e.ID, e.IntegrationID, string(e.Type), e.Message, e.CorrelationID, e.Timestamp.UTC()); err != nil {
			return fmt.Errorf("insert activity %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activity insert: %w", err)
	}
	return nil
}

// Recent returns the newest events for integrationID, newest first.
func (s *DuckDBStore) Recent(ctx context.Context, integrationID string, limit int) ([]models.ActivityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, integration_id, event_type, message, correlation_id, occurred_at
		FROM activity_events
		WHERE integration_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?`, integrationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var out []models.ActivityEvent
	for rows.Next() {
		var (
			e             models.ActivityEvent
			eventType     string
			message       sql.NullString
			correlationID sql.NullString
			occurredAt    time.Time
		)
		if err := rows.Scan(&e.ID, &e.IntegrationID, &eventType, &message, &correlationID, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Type = models.ActivityEventType(eventType)
		e.Message = message.String
		e.CorrelationID = correlationID.String
		e.Timestamp = occurredAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *DuckDBStore) Close() error {
	return s.conn.Close()
}

func closeQuietly(conn *sql.DB) {
	_ = conn.Close()
}
