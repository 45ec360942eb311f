// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package webhook

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/leadsync/internal/models"
)

func newTestParser(t *testing.T) *SchemaParser {
	t.Helper()
	p, err := NewSchemaParser("")
	if err != nil {
		t.Fatalf("NewSchemaParser: %v", err)
	}
	return p
}

func TestSchemaParser_Platforms(t *testing.T) {
	t.Parallel()
	got := newTestParser(t).Platforms()
	want := []models.Platform{models.PlatformHubSpot, models.PlatformLinkedIn, models.PlatformMock, models.PlatformTwitter}
	if len(got) != len(want) {
		t.Fatalf("Platforms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Platforms[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSchemaParser_Parse(t *testing.T) {
	t.Parallel()
	p := newTestParser(t)

	tests := []struct {
		name      string
		platform  models.Platform
		payload   string
		wantErr   bool
		wantTypes []string
		wantIDs   []string
	}{
		{
			name:      "twitter mentions and follows",
			platform:  models.PlatformTwitter,
			payload:   `{"for_user_id":"42","tweet_create_events":[{"id_str":"t1"},{"id_str":"t2"}],"follow_events":[{"type":"follow"}]}`,
			wantTypes: []string{"follow", "tweet_create", "tweet_create"},
			wantIDs:   []string{"", "t1", "t2"},
		},
		{
			name:     "twitter missing user",
			platform: models.PlatformTwitter,
			payload:  `{"tweet_create_events":[]}`,
			wantErr:  true,
		},
		{
			name:      "linkedin events",
			platform:  models.PlatformLinkedIn,
			payload:   `{"events":[{"eventType":"COMMENT","id":"urn:li:comment:1"}]}`,
			wantTypes: []string{"COMMENT"},
			wantIDs:   []string{"urn:li:comment:1"},
		},
		{
			name:     "linkedin event without type",
			platform: models.PlatformLinkedIn,
			payload:  `{"events":[{"id":"x"}]}`,
			wantErr:  true,
		},
		{
			name:      "hubspot batch",
			platform:  models.PlatformHubSpot,
			payload:   `[{"eventId":1,"subscriptionType":"contact.creation","objectId":901},{"eventId":2,"subscriptionType":"contact.propertyChange","objectId":902}]`,
			wantTypes: []string{"contact.creation", "contact.propertyChange"},
			wantIDs:   []string{"901", "902"},
		},
		{
			name:     "hubspot empty batch",
			platform: models.PlatformHubSpot,
			payload:  `[]`,
			wantErr:  true,
		},
		{
			name:     "hubspot string object id",
			platform: models.PlatformHubSpot,
			payload:  `[{"eventId":1,"subscriptionType":"contact.creation","objectId":"901"}]`,
			wantErr:  true,
		},
		{
			name:      "mock whole payload",
			platform:  models.PlatformMock,
			payload:   `{"hello":"world"}`,
			wantTypes: []string{"mock"},
			wantIDs:   []string{""},
		},
		{
			name:      "mock records",
			platform:  models.PlatformMock,
			payload:   `{"records":[{"type":"lead","id":"l1"}]}`,
			wantTypes: []string{"lead"},
			wantIDs:   []string{"l1"},
		},
		{
			name:     "not json",
			platform: models.PlatformMock,
			payload:  `{`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			records, err := p.Parse(context.Background(), tt.platform, []byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse succeeded with %d records, want error", len(records))
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(records) != len(tt.wantTypes) {
				t.Fatalf("got %d records, want %d", len(records), len(tt.wantTypes))
			}
			for i, r := range records {
				if r.Type != tt.wantTypes[i] || r.ExternalID != tt.wantIDs[i] {
					t.Errorf("record %d = (%s, %s), want (%s, %s)", i, r.Type, r.ExternalID, tt.wantTypes[i], tt.wantIDs[i])
				}
				if len(r.Data) == 0 {
					t.Errorf("record %d has no data", i)
				}
			}
		})
	}
}

func TestSchemaParser_UnknownPlatform(t *testing.T) {
	t.Parallel()
	_, err := newTestParser(t).Parse(context.Background(), models.Platform("myspace"), []byte(`{}`))
	if !errors.Is(err, ErrNoSchema) {
		t.Errorf("err = %v, want ErrNoSchema", err)
	}
}

func TestSchemaParser_SchemaDirOverride(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	strict := `{"type":"object","required":["lead_id"]}`
	if err := os.WriteFile(filepath.Join(dir, "mock.json"), []byte(strict), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := NewSchemaParser(dir)
	if err != nil {
		t.Fatalf("NewSchemaParser: %v", err)
	}
	if _, err := p.Parse(context.Background(), models.PlatformMock, []byte(`{"hello":"world"}`)); err == nil {
		t.Error("override schema not applied")
	}
	if _, err := p.Parse(context.Background(), models.PlatformMock, []byte(`{"lead_id":"x"}`)); err != nil {
		t.Errorf("Parse: %v", err)
	}
	// Platforms without an override keep the built-in schema.
	if _, err := p.Parse(context.Background(), models.PlatformLinkedIn, []byte(`{"events":[]}`)); err != nil {
		t.Errorf("linkedin Parse: %v", err)
	}
}

func TestSchemaParser_BadOverride(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hubspot.json"), []byte(`{"type":`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSchemaParser(dir); err == nil {
		t.Error("expected error for malformed schema")
	}
}
