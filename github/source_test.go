package github

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// repoServer serves two pages of repos sorted by updated_at descending, the
// way the real API does with sort=updated&direction=desc.
func repoServer(t *testing.T, pageSize int) (*httptest.Server, *http.Header) {
	t.Helper()
	repos := []map[string]interface{}{
		{"id": 4, "name": "d", "updated_at": "2024-03-04T00:00:00Z"},
		{"id": 3, "name": "c", "updated_at": "2024-03-03T00:00:00Z"},
		{"id": 2, "name": "b", "updated_at": "2024-03-02T00:00:00Z"},
		{"id": 1, "name": "a", "updated_at": "2024-03-01T00:00:00Z"},
	}
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if r.URL.Query().Get("sort") != "updated" || r.URL.Query().Get("direction") != "desc" {
			t.Errorf("missing sort params: %v", r.URL.RawQuery)
		}
		start := (page - 1) * pageSize
		end := start + pageSize
		if start > len(repos) {
			start = len(repos)
		}
		if end > len(repos) {
			end = len(repos)
		}
		json.NewEncoder(w).Encode(repos[start:end])
	}))
	return srv, &gotHeader
}

func drain(t *testing.T, src *Source) []map[string]interface{} {
	t.Helper()
	var recs []map[string]interface{}
	for {
		rec, err := src.Record()
		if err == io.EOF {
			return recs
		}
		if err != nil {
			t.Fatalf("calling src.Record: %v", err)
		}
		recs = append(recs, rec.(map[string]interface{}))
	}
}

func TestSourcePaginates(t *testing.T) {
	srv, hdr := repoServer(t, 2)
	defer srv.Close()

	src, err := NewSource(
		OptSrcOrg("apache"),
		OptSrcBaseURL(srv.URL),
		OptSrcPageSize(2),
		OptSrcToken("sekrit"),
	)
	if err != nil {
		t.Fatalf("getting source: %v", err)
	}

	recs := drain(t, src)
	if len(recs) != 4 {
		t.Fatalf("wrong number of records: %d", len(recs))
	}
	if recs[0]["name"] != "d" || recs[3]["name"] != "a" {
		t.Fatalf("records out of order: %v ... %v", recs[0]["name"], recs[3]["name"])
	}
	if got := hdr.Get("Authorization"); got != "Bearer sekrit" {
		t.Fatalf("wrong auth header: %q", got)
	}
	if got := hdr.Get("Accept"); got != "application/vnd.github+json" {
		t.Fatalf("wrong accept header: %q", got)
	}
}

func TestSourceStopsAtCursor(t *testing.T) {
	srv, _ := repoServer(t, 2)
	defer srv.Close()

	cursor := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	src, err := NewSource(
		OptSrcOrg("apache"),
		OptSrcBaseURL(srv.URL),
		OptSrcPageSize(2),
		OptSrcSince(cursor),
	)
	if err != nil {
		t.Fatalf("getting source: %v", err)
	}

	recs := drain(t, src)
	// updated exactly at the cursor is included; strictly older is not
	if len(recs) != 2 {
		t.Fatalf("wrong number of records: %d (%v)", len(recs), recs)
	}
	if recs[0]["name"] != "d" || recs[1]["name"] != "c" {
		t.Fatalf("wrong records: %v, %v", recs[0]["name"], recs[1]["name"])
	}
}

func TestSourceSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"API rate limit exceeded"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	src, err := NewSource(OptSrcOrg("apache"), OptSrcBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("getting source: %v", err)
	}
	_, err = src.Record()
	if err == nil || err == io.EOF {
		t.Fatalf("expected API error, got %v", err)
	}
	// after an error the source is done
	if _, err := src.Record(); err != io.EOF {
		t.Fatalf("expected EOF after error, got %v", err)
	}
}

func TestSourceRequiresOrg(t *testing.T) {
	if _, err := NewSource(); err == nil {
		t.Fatal("expected error for missing org")
	}
}
