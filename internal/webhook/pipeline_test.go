// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/leadsync/internal/integration"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/models"
	"github.com/tomtom215/leadsync/internal/store"
	"github.com/tomtom215/leadsync/internal/syncerr"
)

type memorySink struct {
	mu      sync.Mutex
	records map[string][]Record
	err     error
}

func (s *memorySink) Store(_ context.Context, integrationID string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.records == nil {
		s.records = make(map[string][]Record)
	}
	s.records[integrationID] = append(s.records[integrationID], records...)
	return nil
}

func newTestPipeline(t *testing.T, sink RecordSink) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	err = st.CreateIntegration(context.Background(), &models.Integration{
		ID:       "int-1",
		UserID:   "user-1",
		Platform: models.PlatformMock,
		Status:   models.StatusConnected,
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("CreateIntegration: %v", err)
	}

	p := NewPipeline(st, Options{
		Parser: newTestParser(t),
		Sink:   sink,
		Logger: logging.NewTestLogger(io.Discard),
	})
	return p, st
}

func TestReceive_Idempotent(t *testing.T) {
	t.Parallel()
	p, st := newTestPipeline(t, nil)
	ctx := context.Background()

	first, err := p.Receive(ctx, "int-1", models.PlatformMock, []byte(`{"a":1}`), "evt-1")
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if first.Status != models.DeliveryPending {
		t.Errorf("Status = %s, want pending", first.Status)
	}

	second, err := p.Receive(ctx, "int-1", models.PlatformMock, []byte(`{"a":2}`), "evt-1")
	if err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate created new delivery %s, want %s", second.ID, first.ID)
	}
	if string(second.Payload) != `{"a":1}` {
		t.Errorf("payload replaced: %s", second.Payload)
	}

	pending, err := st.ListDeliveriesByStatus(ctx, models.DeliveryPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("stored %d deliveries, want 1", len(pending))
	}
}

func TestReceive_Rejects(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline(t, nil)
	p.maxPayload = 16

	tests := []struct {
		name          string
		integrationID string
		platform      models.Platform
		payload       string
		eventID       string
		want          error
	}{
		{"missing event id", "int-1", models.PlatformMock, `{}`, " ", ErrMissingEventID},
		{"too large", "int-1", models.PlatformMock, `{"padding":"xxxxxxxxxxxx"}`, "e", ErrPayloadTooLarge},
		{"not json", "int-1", models.PlatformMock, `nope`, "e", ErrInvalidPayload},
		{"unknown integration", "int-x", models.PlatformMock, `{}`, "e", store.ErrNotFound},
		{"platform mismatch", "int-1", models.PlatformHubSpot, `{}`, "e", ErrPlatformMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := p.Receive(context.Background(), tt.integrationID, tt.platform, []byte(tt.payload), tt.eventID)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestProcess_Success(t *testing.T) {
	t.Parallel()
	sink := &memorySink{}
	p, st := newTestPipeline(t, sink)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	p.WithClock(func() time.Time { return now })

	d, err := p.Receive(ctx, "int-1", models.PlatformMock, []byte(`{"records":[{"type":"lead","id":"l1"},{"type":"lead","id":"l2"}]}`), "evt-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Process(ctx, d.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := p.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.DeliveryProcessed || got.ProcessedAt == nil || got.Attempts != 1 {
		t.Errorf("delivery = %+v", got)
	}

	in, err := st.GetIntegration(ctx, "int-1")
	if err != nil {
		t.Fatal(err)
	}
	if in.LastSyncAt == nil || !in.LastSyncAt.Equal(now) {
		t.Errorf("LastSyncAt = %v, want %v", in.LastSyncAt, now)
	}
	if in.TotalSyncedItems != 2 {
		t.Errorf("TotalSyncedItems = %d, want 2", in.TotalSyncedItems)
	}
	if n := len(sink.records["int-1"]); n != 2 {
		t.Errorf("sink got %d records, want 2", n)
	}

	// Processing a processed delivery again is a no-op.
	if err := p.Process(ctx, d.ID); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if in2, _ := st.GetIntegration(ctx, "int-1"); in2.TotalSyncedItems != 2 {
		t.Errorf("second Process changed TotalSyncedItems to %d", in2.TotalSyncedItems)
	}
}

func TestProcess_FailureIsTerminal(t *testing.T) {
	t.Parallel()
	sink := &memorySink{err: errors.New("warehouse down")}
	p, st := newTestPipeline(t, sink)
	ctx := context.Background()

	d, err := p.Receive(ctx, "int-1", models.PlatformMock, []byte(`{"x":1}`), "evt-1")
	if err != nil {
		t.Fatal(err)
	}

	err = p.Process(ctx, d.ID)
	if err == nil {
		t.Fatal("Process succeeded, want error")
	}
	var fe *syncerr.FatalError
	if !errors.As(err, &fe) {
		t.Errorf("err = %T, want FatalError", err)
	}

	got, _ := p.Get(ctx, d.ID)
	if got.Status != models.DeliveryFailed {
		t.Fatalf("Status = %s, want failed", got.Status)
	}
	if got.FailureReason == "" {
		t.Error("FailureReason not recorded")
	}

	// No silent retry: a second Process leaves it failed with its reason.
	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	if err := p.Process(ctx, d.ID); err != nil {
		t.Fatalf("Process on failed: %v", err)
	}
	again, _ := p.Get(ctx, d.ID)
	if again.Status != models.DeliveryFailed || again.FailureReason != got.FailureReason || again.Attempts != 1 {
		t.Errorf("failed delivery changed: %+v", again)
	}

	in, _ := st.GetIntegration(ctx, "int-1")
	if in.TotalSyncedItems != 0 || in.LastSyncAt != nil {
		t.Errorf("integration bumped by failed delivery: %+v", in)
	}
}

func TestProcess_ParseFailure(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline(t, nil)
	ctx := context.Background()

	d, err := p.Receive(ctx, "int-1", models.PlatformMock, []byte(`{"records":[{"id":"no-type"}]}`), "evt-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Process(ctx, d.ID); syncerr.Classify(err) != syncerr.KindFatal {
		t.Errorf("Process err = %v, want fatal", err)
	}
	got, _ := p.Get(ctx, d.ID)
	if got.Status != models.DeliveryFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
}

func TestProcess_SkipsProcessing(t *testing.T) {
	t.Parallel()
	p, st := newTestPipeline(t, nil)
	ctx := context.Background()

	d, err := p.Receive(ctx, "int-1", models.PlatformMock, []byte(`{}`), "evt-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.UpdateDelivery(ctx, d.ID, func(d *models.WebhookDelivery) error {
		d.Status = models.DeliveryProcessing
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := p.Process(ctx, d.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, _ := p.Get(ctx, d.ID)
	if got.Status != models.DeliveryProcessing {
		t.Errorf("Status = %s, want processing untouched", got.Status)
	}
	if _, err := p.Reset(ctx, d.ID); !errors.Is(err, ErrNotFailed) {
		t.Errorf("Reset on processing = %v, want ErrNotFailed", err)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	sink := &memorySink{err: errors.New("transient sink error")}
	p, _ := newTestPipeline(t, sink)
	ctx := context.Background()

	d, err := p.Receive(ctx, "int-1", models.PlatformMock, []byte(`{}`), "evt-1")
	if err != nil {
		t.Fatal(err)
	}
	_ = p.Process(ctx, d.ID)

	reset, err := p.Reset(ctx, d.ID)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if reset.Status != models.DeliveryPending {
		t.Errorf("Status = %s, want pending", reset.Status)
	}

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	if err := p.Process(ctx, d.ID); err != nil {
		t.Fatalf("Process after reset: %v", err)
	}
	got, _ := p.Get(ctx, d.ID)
	if got.Status != models.DeliveryProcessed || got.FailureReason != "" || got.Attempts != 2 {
		t.Errorf("delivery = %+v", got)
	}

	if _, err := p.Reset(ctx, d.ID); !errors.Is(err, ErrNotFailed) {
		t.Errorf("Reset on processed = %v, want ErrNotFailed", err)
	}
	if _, err := p.Reset(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Reset on missing = %v, want ErrNotFound", err)
	}
}

func TestConcurrentWebhooksAndSyncKeepAllUpdates(t *testing.T) {
	t.Parallel()
	p, st := newTestPipeline(t, nil)
	ctx := context.Background()
	sm := integration.New()

	var ids []string
	for i := 0; i < 2; i++ {
		d, err := p.Receive(ctx, "int-1", models.PlatformMock, []byte(`{"records":[{"type":"lead"}]}`), fmt.Sprintf("evt-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, d.ID)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			errs <- p.Process(ctx, id)
		}(id)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := st.UpdateIntegration(ctx, "int-1", func(in *models.Integration) error {
			return sm.RecordSuccess(in, models.SyncResult{ItemCount: 5, NextCursor: "c2"})
		})
		errs <- err
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent update: %v", err)
		}
	}

	in, err := st.GetIntegration(ctx, "int-1")
	if err != nil {
		t.Fatal(err)
	}
	if in.TotalSyncedItems != 7 {
		t.Errorf("TotalSyncedItems = %d, want 7", in.TotalSyncedItems)
	}
	if in.SyncCursor != "c2" || in.LastSyncAt == nil || in.LastSuccessfulSyncAt == nil {
		t.Errorf("sync update lost: %+v", in)
	}
	if in.Version != 4 {
		t.Errorf("Version = %d, want 4 (create plus three updates)", in.Version)
	}
}
