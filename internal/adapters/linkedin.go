// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/leadsync/internal/models"
	"github.com/tomtom215/leadsync/internal/syncerr"
)

// LinkedInAdapter pulls posts of the connected organization.
//
// Cursor: decimal epoch milliseconds of the newest lastModified seen. While a
// walk is unfinished it is instead base64url JSON {"since","start","newest"}:
// the walk continues at offset start and since only moves to newest once it
// reaches posts already seen.
type LinkedInAdapter struct {
	client   *Client
	pageSize int
}

type linkedInCursor struct {
	Since  int64 `json:"since"`
	Start  int   `json:"start"`
	Newest int64 `json:"newest,omitempty"`
}

func decodeLinkedInCursor(s string) (linkedInCursor, error) {
	var c linkedInCursor
	switch {
	case s == "":
		return c, nil
	case isDecimal(s):
		v, err := strconv.ParseInt(s, 10, 64)
		c.Since = v
		return c, err
	}
	if err := decodeCursor(s, &c); err != nil {
		return c, err
	}
	if c.Start <= 0 {
		return c, fmt.Errorf("resume cursor with start %d", c.Start)
	}
	return c, nil
}

// NewLinkedInAdapter returns an adapter using client.
func NewLinkedInAdapter(client *Client, pageSize int) *LinkedInAdapter {
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	return &LinkedInAdapter{client: client, pageSize: pageSize}
}

func (a *LinkedInAdapter) Platform() models.Platform { return models.PlatformLinkedIn }

type linkedInPostsResponse struct {
	Elements []json.RawMessage `json:"elements"`
	Paging   struct {
		Start int `json:"start"`
		Count int `json:"count"`
		Total int `json:"total"`
	} `json:"paging"`
}

type linkedInPost struct {
	LastModifiedAt int64 `json:"lastModifiedAt"`
}

// Sync walks posts sorted by last modification, newest first, and stops at the cursor.
func (a *LinkedInAdapter) Sync(ctx context.Context, creds models.Credentials, cursor string) (models.SyncResult, error) {
	platform := string(models.PlatformLinkedIn)
	if creds.ExternalAccountID == "" {
		return models.SyncResult{}, syncerr.Fatal(platform, errors.New("integration has no organization urn"))
	}

	cur, err := decodeLinkedInCursor(cursor)
	if err != nil {
		return models.SyncResult{}, syncerr.Fatal(platform, fmt.Errorf("malformed cursor %q: %w", cursor, err))
	}

	since := cur.Since
	newest := max(cur.Newest, since)
	result := models.SyncResult{}
	complete := false

pages:
	for page := 0; page < maxPagesPerSync; page++ {
		query := url.Values{
			"q":      {"author"},
			"author": {creds.ExternalAccountID},
			"sortBy": {"LAST_MODIFIED"},
			"start":  {strconv.Itoa(cur.Start + page*a.pageSize)},
			"count":  {strconv.Itoa(a.pageSize)},
		}

		var resp linkedInPostsResponse
		if err := a.client.doJSON(ctx, requestConfig{
			method: http.MethodGet,
			path:   "/rest/posts",
			query:  query,
			token:  creds.AccessToken,
		}, &resp); err != nil {
			return models.SyncResult{}, err
		}

		for _, raw := range resp.Elements {
			var post linkedInPost
			if err := json.Unmarshal(raw, &post); err != nil {
				return models.SyncResult{}, syncerr.Fatal(platform, fmt.Errorf("decode post: %w", err))
			}
			if post.LastModifiedAt <= since {
				complete = true
				break pages
			}
			if post.LastModifiedAt > newest {
				newest = post.LastModifiedAt
			}
			result.RawItems = append(result.RawItems, raw)
			result.ItemCount++
		}

		if len(resp.Elements) < a.pageSize {
			complete = true
			break
		}
	}

	if !complete {
		// Page budget exhausted: keep since and continue at the next offset next run.
		result.NextCursor = encodeCursor(linkedInCursor{
			Since:  since,
			Start:  cur.Start + maxPagesPerSync*a.pageSize,
			Newest: newest,
		})
		return result, nil
	}
	if newest > 0 {
		result.NextCursor = strconv.FormatInt(newest, 10)
	}
	return result, nil
}
