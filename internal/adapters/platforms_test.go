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
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/leadsync/internal/config"
	"github.com/tomtom215/leadsync/internal/models"
	"github.com/tomtom215/leadsync/internal/syncerr"
)

func testPlatformsConfig() config.PlatformsConfig {
	pc := config.PlatformConfig{BaseURL: "http://127.0.0.1:1", RequestsPerSecond: 100, Burst: 10}
	return config.PlatformsConfig{Twitter: pc, LinkedIn: pc, HubSpot: pc}
}

func TestTwitterAdapter_Pagination(t *testing.T) {
	t.Parallel()

	var sinceSeen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/users/42/mentions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		sinceSeen = append(sinceSeen, r.URL.Query().Get("since_id"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pagination_token") == "" {
			_, _ = w.Write([]byte(`{"data":[{"id":"103"},{"id":"102"}],"meta":{"newest_id":"103","next_token":"p2","result_count":2}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"101"}],"meta":{"result_count":1}}`))
	})

	a := NewTwitterAdapter(c, 50)
	res, err := a.Sync(context.Background(), models.Credentials{AccessToken: "t", ExternalAccountID: "42"}, "100")
	if err != nil {
		t.Fatal(err)
	}
	if res.ItemCount != 3 || len(res.RawItems) != 3 {
		t.Errorf("ItemCount = %d, RawItems = %d", res.ItemCount, len(res.RawItems))
	}
	if res.NextCursor != "103" {
		t.Errorf("NextCursor = %q, want 103", res.NextCursor)
	}
	for _, s := range sinceSeen {
		if s != "100" {
			t.Errorf("since_id = %q, want 100", s)
		}
	}
}

func TestTwitterAdapter_NoNewMentionsKeepsCursor(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"meta":{"result_count":0}}`))
	})

	res, err := NewTwitterAdapter(c, 100).Sync(context.Background(), models.Credentials{ExternalAccountID: "42"}, "555")
	if err != nil {
		t.Fatal(err)
	}
	if res.NextCursor != "555" || res.ItemCount != 0 {
		t.Errorf("result = %+v", res)
	}
}

// fakeMentions serves mention IDs 1..total, newest first, honoring since_id
// and an offset-based pagination_token.
func fakeMentions(t *testing.T, total, pageSize int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		since, _ := strconv.Atoi(q.Get("since_id"))
		offset, _ := strconv.Atoi(q.Get("pagination_token"))

		var ids []int
		for id := total; id > since; id-- {
			ids = append(ids, id)
		}
		end := min(offset+pageSize, len(ids))
		page := ids[min(offset, end):end]

		var resp twitterMentionsResponse
		for _, id := range page {
			resp.Data = append(resp.Data, json.RawMessage(fmt.Sprintf(`{"id":"%d"}`, id)))
		}
		if len(page) > 0 {
			resp.Meta.NewestID = strconv.Itoa(page[0])
		}
		if end < len(ids) {
			resp.Meta.NextToken = strconv.Itoa(end)
		}
		resp.Meta.ResultCount = len(page)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode: %v", err)
		}
	}
}

func TestTwitterAdapter_PageBudgetResumesNextRun(t *testing.T) {
	t.Parallel()
	const total, pageSize = 120, 10
	a := NewTwitterAdapter(newTestClient(t, fakeMentions(t, total, pageSize)), pageSize)
	creds := models.Credentials{AccessToken: "t", ExternalAccountID: "42"}

	cursor := "0"
	seen := 0
	wantItems := []int{maxPagesPerSync * pageSize, total - maxPagesPerSync*pageSize, 0}
	for run, want := range wantItems {
		res, err := a.Sync(context.Background(), creds, cursor)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if res.ItemCount != want {
			t.Errorf("run %d: ItemCount = %d, want %d", run, res.ItemCount, want)
		}
		seen += res.ItemCount
		cursor = res.NextCursor

		if run == 0 {
			cur, err := decodeTwitterCursor(cursor)
			if err != nil {
				t.Fatalf("run 0: decode cursor %q: %v", cursor, err)
			}
			if cur.SinceID != "0" || cur.NewestID != "120" || cur.PaginationToken == "" {
				t.Errorf("run 0: cursor = %+v, want since 0 and pending newest 120", cur)
			}
		}
	}
	if seen != total {
		t.Errorf("mentions synced over %d runs = %d, want %d", len(wantItems), seen, total)
	}
	if cursor != "120" {
		t.Errorf("final cursor = %q, want 120", cursor)
	}
}

func TestTwitterAdapter_MalformedCursor(t *testing.T) {
	t.Parallel()
	a := NewTwitterAdapter(NewClient(ClientConfig{Platform: "twitter"}), 100)
	_, err := a.Sync(context.Background(), models.Credentials{ExternalAccountID: "42"}, "not-a-cursor!")
	if syncerr.Classify(err) != syncerr.KindFatal {
		t.Errorf("Classify(%v) = %v, want fatal", err, syncerr.Classify(err))
	}
}

func TestTwitterAdapter_MissingAccountIsFatal(t *testing.T) {
	t.Parallel()
	a := NewTwitterAdapter(NewClient(ClientConfig{Platform: "twitter"}), 100)
	_, err := a.Sync(context.Background(), models.Credentials{}, "")
	if syncerr.Classify(err) != syncerr.KindFatal {
		t.Errorf("Classify(%v) = %v, want fatal", err, syncerr.Classify(err))
	}
}

func TestLinkedInAdapter_StopsAtCursor(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("author") != "urn:li:organization:9" {
			t.Errorf("author = %q", r.URL.Query().Get("author"))
		}
		_, _ = w.Write([]byte(`{"elements":[
			{"id":"p3","lastModifiedAt":3000},
			{"id":"p2","lastModifiedAt":2000},
			{"id":"p1","lastModifiedAt":1000}
		]}`))
	})

	a := NewLinkedInAdapter(c, 3)
	res, err := a.Sync(context.Background(), models.Credentials{ExternalAccountID: "urn:li:organization:9"}, "1500")
	if err != nil {
		t.Fatal(err)
	}
	if res.ItemCount != 2 {
		t.Errorf("ItemCount = %d, want 2", res.ItemCount)
	}
	if res.NextCursor != "3000" {
		t.Errorf("NextCursor = %q, want 3000", res.NextCursor)
	}
}

func TestLinkedInAdapter_PageBudgetResumesNextRun(t *testing.T) {
	t.Parallel()
	const total, pageSize = 120, 10

	// Posts 1..total with lastModifiedAt id*1000, newest first.
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		count, _ := strconv.Atoi(r.URL.Query().Get("count"))
		var resp linkedInPostsResponse
		for i := start; i < start+count && i < total; i++ {
			id := total - i
			resp.Elements = append(resp.Elements, json.RawMessage(fmt.Sprintf(`{"id":"p%d","lastModifiedAt":%d}`, id, id*1000)))
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode: %v", err)
		}
	})
	a := NewLinkedInAdapter(c, pageSize)
	creds := models.Credentials{ExternalAccountID: "urn:li:organization:9"}

	cursor := ""
	seen := 0
	wantItems := []int{maxPagesPerSync * pageSize, total - maxPagesPerSync*pageSize, 0}
	for run, want := range wantItems {
		res, err := a.Sync(context.Background(), creds, cursor)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if res.ItemCount != want {
			t.Errorf("run %d: ItemCount = %d, want %d", run, res.ItemCount, want)
		}
		seen += res.ItemCount
		cursor = res.NextCursor

		if run == 0 {
			cur, err := decodeLinkedInCursor(cursor)
			if err != nil {
				t.Fatalf("run 0: decode cursor %q: %v", cursor, err)
			}
			if cur.Since != 0 || cur.Start != maxPagesPerSync*pageSize || cur.Newest != total*1000 {
				t.Errorf("run 0: cursor = %+v", cur)
			}
		}
	}
	if seen != total {
		t.Errorf("posts synced over %d runs = %d, want %d", len(wantItems), seen, total)
	}
	if want := strconv.Itoa(total * 1000); cursor != want {
		t.Errorf("final cursor = %q, want %s", cursor, want)
	}
}

func TestLinkedInAdapter_MalformedCursor(t *testing.T) {
	t.Parallel()
	a := NewLinkedInAdapter(NewClient(ClientConfig{Platform: "linkedin"}), 10)
	_, err := a.Sync(context.Background(), models.Credentials{ExternalAccountID: "urn"}, "yesterday")
	if syncerr.Classify(err) != syncerr.KindFatal {
		t.Errorf("Classify(%v) = %v, want fatal", err, syncerr.Classify(err))
	}
}

func TestHubSpotAdapter_CompletesSearch(t *testing.T) {
	t.Parallel()

	var afters []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/contacts/search") {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req hubSpotSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if got := req.FilterGroups[0].Filters[0].Value; got != "1000" {
			t.Errorf("filter value = %q, want 1000", got)
		}
		afters = append(afters, req.After)
		if req.After == "" {
			_, _ = w.Write([]byte(`{"results":[{"id":"1","properties":{"lastmodifieddate":"2026-01-01T00:00:02Z"}}],"paging":{"next":{"after":"1"}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":"2","properties":{"lastmodifieddate":"2026-01-01T00:00:05Z"}}]}`))
	})

	a := NewHubSpotAdapter(c, 1)
	res, err := a.Sync(context.Background(), models.Credentials{AccessToken: "t"}, EncodeHubSpotCursor(1000, ""))
	if err != nil {
		t.Fatal(err)
	}
	if res.ItemCount != 2 {
		t.Errorf("ItemCount = %d, want 2", res.ItemCount)
	}
	if fmt.Sprint(afters) != "[ 1]" {
		t.Errorf("after tokens = %q", afters)
	}

	cur, err := decodeHubSpotCursor(res.NextCursor)
	if err != nil {
		t.Fatal(err)
	}
	if cur.After != "" {
		t.Errorf("completed search left after = %q", cur.After)
	}
	if want := int64(1767225605000); cur.Since != want {
		t.Errorf("Since = %d, want %d", cur.Since, want)
	}
}

func TestHubSpotAdapter_ResumesMidSearch(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"id":"x","properties":{"lastmodifieddate":"5000"}}],"paging":{"next":{"after":"more"}}}`))
	})

	res, err := NewHubSpotAdapter(c, 1).Sync(context.Background(), models.Credentials{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ItemCount != maxPagesPerSync {
		t.Errorf("ItemCount = %d, want %d", res.ItemCount, maxPagesPerSync)
	}
	cur, err := decodeHubSpotCursor(res.NextCursor)
	if err != nil {
		t.Fatal(err)
	}
	if cur.After != "more" || cur.Since != 0 || cur.Newest != 5000 {
		t.Errorf("cursor = %+v", cur)
	}
}

func TestHubSpotAdapter_MalformedCursor(t *testing.T) {
	t.Parallel()
	a := NewHubSpotAdapter(NewClient(ClientConfig{Platform: "hubspot"}), 10)
	_, err := a.Sync(context.Background(), models.Credentials{}, "%%%")
	if syncerr.Classify(err) != syncerr.KindFatal {
		t.Errorf("Classify(%v) = %v, want fatal", err, syncerr.Classify(err))
	}
}
