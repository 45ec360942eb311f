// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/leadsync/internal/models"
	"github.com/tomtom215/leadsync/internal/syncerr"
)

// HubSpotAdapter pulls contacts modified since the last sync through the CRM search API.
//
// Cursor: base64url JSON {"since":<epoch ms>,"after":"<paging token>"}.
// After is set only while a search is mid-way through its pages; since is
// the high-water mark of lastmodifieddate once a search completes.
type HubSpotAdapter struct {
	client   *Client
	pageSize int
}

// NewHubSpotAdapter returns an adapter using client.
func NewHubSpotAdapter(client *Client, pageSize int) *HubSpotAdapter {
	if pageSize < 1 || pageSize > 100 {
		pageSize = 100
	}
	return &HubSpotAdapter{client: client, pageSize: pageSize}
}

func (a *HubSpotAdapter) Platform() models.Platform { return models.PlatformHubSpot }

type hubSpotCursor struct {
	Since int64  `json:"since"`
	After string `json:"after,omitempty"`
	// Newest carries the running high-water mark across a paged search.
	Newest int64 `json:"newest,omitempty"`
}

// EncodeHubSpotCursor is exported for tests and tooling.
func EncodeHubSpotCursor(since int64, after string) string {
	return encodeHubSpotCursor(hubSpotCursor{Since: since, After: after})
}

func encodeHubSpotCursor(c hubSpotCursor) string {
	return encodeCursor(c)
}

func decodeHubSpotCursor(s string) (hubSpotCursor, error) {
	var c hubSpotCursor
	if s == "" {
		return c, nil
	}
	err := decodeCursor(s, &c)
	return c, err
}

type hubSpotSearchRequest struct {
	FilterGroups []hubSpotFilterGroup `json:"filterGroups"`
	Sorts        []string             `json:"sorts"`
	Properties   []string             `json:"properties"`
	Limit        int                  `json:"limit"`
	After        string               `json:"after,omitempty"`
}

type hubSpotFilterGroup struct {
	Filters []hubSpotFilter `json:"filters"`
}

type hubSpotFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type hubSpotSearchResponse struct {
	Total   int               `json:"total"`
	Results []json.RawMessage `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

type hubSpotContact struct {
	Properties struct {
		LastModified string `json:"lastmodifieddate"`
	} `json:"properties"`
	UpdatedAt string `json:"updatedAt"`
}

// Sync runs (or continues) a search for contacts modified after the cursor.
func (a *HubSpotAdapter) Sync(ctx context.Context, creds models.Credentials, cursor string) (models.SyncResult, error) {
	platform := string(models.PlatformHubSpot)
	cur, err := decodeHubSpotCursor(cursor)
	if err != nil {
		return models.SyncResult{}, syncerr.Fatal(platform, fmt.Errorf("malformed cursor: %w", err))
	}

	newest := max(cur.Newest, cur.Since)
	after := cur.After
	result := models.SyncResult{}

	for page := 0; page < maxPagesPerSync; page++ {
		req := hubSpotSearchRequest{
			FilterGroups: []hubSpotFilterGroup{{Filters: []hubSpotFilter{{
				PropertyName: "lastmodifieddate",
				Operator:     "GT",
				Value:        strconv.FormatInt(cur.Since, 10),
			}}}},
			Sorts:      []string{"lastmodifieddate"},
			Properties: []string{"email", "firstname", "lastname", "company", "lastmodifieddate"},
			Limit:      a.pageSize,
			After:      after,
		}

		var resp hubSpotSearchResponse
		if err := a.client.doJSON(ctx, requestConfig{
			method: http.MethodPost,
			path:   "/crm/v3/objects/contacts/search",
			token:  creds.AccessToken,
			body:   req,
		}, &resp); err != nil {
			return models.SyncResult{}, err
		}

		for _, raw := range resp.Results {
			if ts := contactModifiedAt(raw); ts > newest {
				newest = ts
			}
		}
		result.RawItems = append(result.RawItems, resp.Results...)
		result.ItemCount += len(resp.Results)

		if resp.Paging == nil || resp.Paging.Next == nil || resp.Paging.Next.After == "" {
			result.NextCursor = encodeHubSpotCursor(hubSpotCursor{Since: newest})
			return result, nil
		}
		after = resp.Paging.Next.After
	}

	// Page budget exhausted mid-search: resume from the paging token next run.
	result.NextCursor = encodeHubSpotCursor(hubSpotCursor{Since: cur.Since, After: after, Newest: newest})
	return result, nil
}

func contactModifiedAt(raw json.RawMessage) int64 {
	var c hubSpotContact
	if err := json.Unmarshal(raw, &c); err != nil {
		return 0
	}
	if ms, err := strconv.ParseInt(c.Properties.LastModified, 10, 64); err == nil {
		return ms
	}
	if t, err := time.Parse(time.RFC3339Nano, c.Properties.LastModified); err == nil {
		return t.UnixMilli()
	}
	if t, err := time.Parse(time.RFC3339Nano, c.UpdatedAt); err == nil {
		return t.UnixMilli()
	}
	return 0
}
