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

// maxPagesPerSync bounds one sync run; the cursor resumes the rest next time.
const maxPagesPerSync = 10

// TwitterAdapter pulls mentions of the connected account.
//
// Cursor: the newest mention ID already seen (Twitter's since_id), as a plain
// decimal. While a walk over older pages is unfinished it is instead
// base64url JSON {"since_id","pagination_token","newest_id"}, and since_id
// only moves to newest_id once the walk completes.
type TwitterAdapter struct {
	client   *Client
	pageSize int
}

type twitterCursor struct {
	SinceID         string `json:"since_id,omitempty"`
	PaginationToken string `json:"pagination_token"`
	NewestID        string `json:"newest_id,omitempty"`
}

func decodeTwitterCursor(s string) (twitterCursor, error) {
	if s == "" || isDecimal(s) {
		return twitterCursor{SinceID: s}, nil
	}
	var c twitterCursor
	if err := decodeCursor(s, &c); err != nil {
		return c, err
	}
	if c.PaginationToken == "" {
		return c, errors.New("resume cursor without pagination token")
	}
	return c, nil
}

// NewTwitterAdapter returns an adapter using client.
func NewTwitterAdapter(client *Client, pageSize int) *TwitterAdapter {
	if pageSize < 5 || pageSize > 100 {
		pageSize = 100
	}
	return &TwitterAdapter{client: client, pageSize: pageSize}
}

func (a *TwitterAdapter) Platform() models.Platform { return models.PlatformTwitter }

type twitterMentionsResponse struct {
	Data []json.RawMessage `json:"data"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		NextToken   string `json:"next_token"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

// Sync fetches mentions newer than the cursor, or continues an unfinished walk.
func (a *TwitterAdapter) Sync(ctx context.Context, creds models.Credentials, cursor string) (models.SyncResult, error) {
	platform := string(models.PlatformTwitter)
	if creds.ExternalAccountID == "" {
		return models.SyncResult{}, syncerr.Fatal(platform, errors.New("integration has no external account id"))
	}
	cur, err := decodeTwitterCursor(cursor)
	if err != nil {
		return models.SyncResult{}, syncerr.Fatal(platform, fmt.Errorf("malformed cursor: %w", err))
	}

	result := models.SyncResult{}
	path := "/2/users/" + url.PathEscape(creds.ExternalAccountID) + "/mentions"
	newest := cur.NewestID
	pageToken := cur.PaginationToken

	for page := 0; page < maxPagesPerSync; page++ {
		query := url.Values{"max_results": {strconv.Itoa(a.pageSize)}}
		if cur.SinceID != "" {
			query.Set("since_id", cur.SinceID)
		}
		if pageToken != "" {
			query.Set("pagination_token", pageToken)
		}

		var resp twitterMentionsResponse
		if err := a.client.doJSON(ctx, requestConfig{
			method: http.MethodGet,
			path:   path,
			query:  query,
			token:  creds.AccessToken,
		}, &resp); err != nil {
			return models.SyncResult{}, err
		}

		// Results are newest first, so the first page of a walk carries the new high-water mark.
		if newest == "" {
			newest = resp.Meta.NewestID
		}
		result.RawItems = append(result.RawItems, resp.Data...)
		result.ItemCount += len(resp.Data)

		if resp.Meta.NextToken == "" {
			result.NextCursor = cur.SinceID
			if newest != "" {
				result.NextCursor = newest
			}
			return result, nil
		}
		pageToken = resp.Meta.NextToken
	}

	// Page budget exhausted: keep since_id and continue from pageToken next run.
	result.NextCursor = encodeCursor(twitterCursor{SinceID: cur.SinceID, PaginationToken: pageToken, NewestID: newest})
	return result, nil
}
