// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package webhook

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tomtom215/leadsync/internal/models"
)

//go:embed schemas/*.json
var builtinSchemas embed.FS

// ErrNoSchema is returned for a platform without a registered schema.
var ErrNoSchema = errors.New("no webhook schema for platform")

// Record is one business record extracted from a webhook payload.
type Record struct {
	Type       string          `json:"type"`
	ExternalID string          `json:"external_id,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// Parser extracts records from a raw delivery payload.
type Parser interface {
	Parse(ctx context.Context, platform models.Platform, payload []byte) ([]Record, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, platform models.Platform, payload []byte) ([]Record, error)

func (f ParserFunc) Parse(ctx context.Context, platform models.Platform, payload []byte) ([]Record, error) {
	return f(ctx, platform, payload)
}

// extractFunc pulls records out of a payload that already passed validation.
type extractFunc func(payload []byte) ([]Record, error)

// SchemaParser validates each payload against its platform's JSON Schema and
// then extracts records with the platform's extractor.
type SchemaParser struct {
	schemas  map[models.Platform]*jsonschema.Schema
	extracts map[models.Platform]extractFunc
}

// NewSchemaParser compiles the built-in schemas. When schemaDir is set, any
// <platform>.json found there replaces the built-in schema for that platform.
func NewSchemaParser(schemaDir string) (*SchemaParser, error) {
	p := &SchemaParser{
		schemas:  make(map[models.Platform]*jsonschema.Schema),
		extracts: map[models.Platform]extractFunc{
			models.PlatformTwitter:  extractTwitter,
			models.PlatformLinkedIn: extractLinkedIn,
			models.PlatformHubSpot:  extractHubSpot,
			models.PlatformMock:     extractMock,
		},
	}

	for platform := range p.extracts {
		name := string(platform) + ".json"
		raw, err := builtinSchemas.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read built-in schema %s: %w", name, err)
		}
		if schemaDir != "" {
			override, err := os.ReadFile(filepath.Join(schemaDir, name))
			switch {
			case err == nil:
				raw = override
			case !errors.Is(err, os.ErrNotExist):
				return nil, fmt.Errorf("read schema %s: %w", name, err)
			}
		}
		sch, err := compileSchema(name, raw)
		if err != nil {
			return nil, err
		}
		p.schemas[platform] = sch
	}
	return p, nil
}

func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return sch, nil
}

// Platforms returns the platforms with a schema, sorted.
func (p *SchemaParser) Platforms() []models.Platform {
	out := make([]models.Platform, 0, len(p.schemas))
	for platform := range p.schemas {
		out = append(out, platform)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Parse validates payload and extracts its records.
func (p *SchemaParser) Parse(_ context.Context, platform models.Platform, payload []byte) ([]Record, error) {
	sch, ok := p.schemas[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSchema, platform)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("payload does not match %s schema: %w", platform, err)
	}
	return p.extracts[platform](payload)
}

func extractTwitter(payload []byte) ([]Record, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(envelope))
	for k := range envelope {
		if strings.HasSuffix(k, "_events") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var records []Record
	for _, k := range keys {
		var items []json.RawMessage
		if err := json.Unmarshal(envelope[k], &items); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		eventType := strings.TrimSuffix(k, "_events")
		for _, item := range items {
			var ids struct {
				ID string `json:"id_str"`
			}
			_ = json.Unmarshal(item, &ids)
			records = append(records, Record{Type: eventType, ExternalID: ids.ID, Data: item})
		}
	}
	return records, nil
}

func extractLinkedIn(payload []byte) ([]Record, error) {
	var envelope struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(envelope.Events))
	for _, item := range envelope.Events {
		var head struct {
			EventType string `json:"eventType"`
			ID        string `json:"id"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, err
		}
		records = append(records, Record{Type: head.EventType, ExternalID: head.ID, Data: item})
	}
	return records, nil
}

func extractHubSpot(payload []byte) ([]Record, error) {
	var batch []json.RawMessage
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(batch))
	for _, item := range batch {
		var head struct {
			SubscriptionType string `json:"subscriptionType"`
			ObjectID         int64  `json:"objectId"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, err
		}
		records = append(records, Record{
			Type:       head.SubscriptionType,
			ExternalID: strconv.FormatInt(head.ObjectID, 10),
			Data:       item,
		})
	}
	return records, nil
}

// extractMock returns the "records" array, or the whole payload as one record.
func extractMock(payload []byte) ([]Record, error) {
	var envelope struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, err
	}
	if envelope.Records == nil {
		return []Record{{Type: "mock", Data: json.RawMessage(payload)}}, nil
	}
	records := make([]Record, 0, len(envelope.Records))
	for _, item := range envelope.Records {
		var head struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, err
		}
		records = append(records, Record{Type: head.Type, ExternalID: head.ID, Data: item})
	}
	return records, nil
}
