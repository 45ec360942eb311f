// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/leadsync/internal/models"
)

// apiClient calls the admin API with a bearer token.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// do sends the request and returns the response's data field. A non-2xx
// status is returned as an error carrying the API error code and message.
func (c *apiClient) do(ctx context.Context, method, path string, body interface{}, header http.Header) (json.RawMessage, error) {
	var reader io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Data  json.RawMessage  `json:"data"`
		Error *models.APIError `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%s %s: decode response (status %d): %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if envelope.Error != nil {
			return nil, fmt.Errorf("%s %s: %d %s: %s", method, path, resp.StatusCode, envelope.Error.Code, envelope.Error.Message)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return envelope.Data, nil
}

func integrationPath(id string, suffix ...string) string {
	return "/api/v1/integrations/" + url.PathEscape(id) + strings.Join(suffix, "")
}

func deliveryPath(id string, suffix ...string) string {
	return "/api/v1/deliveries/" + url.PathEscape(id) + strings.Join(suffix, "")
}
