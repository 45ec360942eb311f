// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("Level = %q, want info", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("Format = %q, want json", cfg.Format)
	}
	if !cfg.Timestamp {
		t.Error("Timestamp should be enabled by default")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewTestLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewTestLogger(&buf)
	logger.Info().Str("integration_id", "int-1").Msg("Sync completed")

	out := buf.String()
	if !strings.Contains(out, `"integration_id":"int-1"`) {
		t.Errorf("missing field in %s", out)
	}
	if !strings.Contains(out, "Sync completed") {
		t.Errorf("missing message in %s", out)
	}
}

func TestCorrelationID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := CorrelationIDFromContext(ctx); got != "" {
		t.Fatalf("empty context returned %q", got)
	}

	ctx = ContextWithNewCorrelationID(ctx)
	id := CorrelationIDFromContext(ctx)
	if len(id) != 8 {
		t.Fatalf("correlation id %q should be 8 chars", id)
	}

	// existing ID is preserved
	if again := CorrelationIDFromContext(ContextWithNewCorrelationID(ctx)); again != id {
		t.Errorf("correlation id changed from %q to %q", id, again)
	}

	var buf bytes.Buffer
	Ctx(ctx, NewTestLogger(&buf)).Info().Msg("hello")
	if !strings.Contains(buf.String(), id) {
		t.Errorf("log line missing correlation id: %s", buf.String())
	}
}

func TestSlogHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(&SlogHandler{logger: NewTestLogger(&buf)})
	logger.WithGroup("svc").Warn("restarting", "attempt", 2)

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn level: %s", out)
	}
	if !strings.Contains(out, `"svc.attempt":2`) {
		t.Errorf("expected grouped attr: %s", out)
	}
}

func TestWatermillAdapter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	adapter := NewWatermillAdapter(NewTestLogger(&buf))
	child := adapter.With(watermill.LogFields{"topic": "leadsync.sync"})
	child.Error("handler failed", errors.New("boom"), watermill.LogFields{"message_uuid": "m-1"})

	out := buf.String()
	for _, want := range []string{`"topic":"leadsync.sync"`, `"message_uuid":"m-1"`, `"error":"boom"`, "handler failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %s", want, out)
		}
	}
}
