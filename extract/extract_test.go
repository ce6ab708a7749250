package extract

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/pilosa/mds/boltdb"
	"github.com/pilosa/mds/parquet"
)

func TestMergeUpsert(t *testing.T) {
	existing := []map[string]interface{}{
		{"id": float64(1), "name": "arrow", "updated_at": "2024-01-01T00:00:00Z"},
	}
	incoming := []map[string]interface{}{
		{"id": float64(1), "name": "arrow", "updated_at": "2024-02-01T00:00:00Z", "archived": false},
		{"id": float64(2), "name": "parquet", "updated_at": "2024-01-15T00:00:00Z"},
	}

	merged := Merge(existing, incoming)
	if len(merged) != 2 {
		t.Fatalf("wrong merged row count: %d", len(merged))
	}
	if merged[0]["id"] != float64(1) || merged[1]["id"] != float64(2) {
		t.Fatalf("merge output not sorted by id: %v, %v", merged[0]["id"], merged[1]["id"])
	}
	if merged[0]["updated_at"] != "2024-02-01T00:00:00Z" {
		t.Fatalf("id=1 should reflect the newer version: %v", merged[0]["updated_at"])
	}
	if merged[0]["archived"] != false {
		t.Fatalf("newer version's fields should replace the row entirely: %#v", merged[0])
	}
}

func TestMergeKeepsNewerExisting(t *testing.T) {
	existing := []map[string]interface{}{
		{"id": float64(1), "stars": float64(10), "updated_at": "2024-02-01T00:00:00Z"},
	}
	incoming := []map[string]interface{}{
		{"id": float64(1), "stars": float64(3), "updated_at": "2024-01-01T00:00:00Z"},
	}
	merged := Merge(existing, incoming)
	if len(merged) != 1 {
		t.Fatalf("wrong merged row count: %d", len(merged))
	}
	if merged[0]["stars"] != float64(10) {
		t.Fatalf("older incoming row must not replace newer existing one: %#v", merged[0])
	}
}

// mutableServer serves whatever repos it currently holds, sorted by
// updated_at descending like the real API.
type mutableServer struct {
	repos []map[string]interface{}
	srv   *httptest.Server
	fail  bool
}

func newMutableServer() *mutableServer {
	ms := &mutableServer{}
	ms.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ms.fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if r.URL.Query().Get("page") != "1" {
			json.NewEncoder(w).Encode([]map[string]interface{}{})
			return
		}
		sorted := append([]map[string]interface{}{}, ms.repos...)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i]["updated_at"].(string) > sorted[j]["updated_at"].(string)
		})
		json.NewEncoder(w).Encode(sorted)
	}))
	return ms
}

func testMain(t *testing.T, baseURL string) *Main {
	t.Helper()
	dir := t.TempDir()
	m := NewMain()
	m.Org = "apache"
	m.DataDir = dir
	m.CursorPath = filepath.Join(dir, "cursor.db")
	m.BaseURL = baseURL
	return m
}

func TestRunIncremental(t *testing.T) {
	ms := newMutableServer()
	defer ms.srv.Close()
	ms.repos = []map[string]interface{}{
		{"id": 1, "name": "arrow", "stargazers_count": 10, "updated_at": "2024-01-01T00:00:00Z"},
		{"id": 2, "name": "parquet", "stargazers_count": 5, "updated_at": "2024-01-15T00:00:00Z"},
	}

	m := testMain(t, ms.srv.URL)
	if err := m.Run(); err != nil {
		t.Fatalf("first run: %v", err)
	}

	rawPath := filepath.Join(m.DataDir, "raw", "apache", "repos.parquet")
	rows, err := parquet.ReadRows(rawPath)
	if err != nil {
		t.Fatalf("reading raw store: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("wrong raw row count after first run: %d", len(rows))
	}

	assertCursor(t, m.CursorPath, "2024-01-15T00:00:00Z")

	// upstream updates repo 1
	ms.repos[0] = map[string]interface{}{
		"id": 1, "name": "arrow", "stargazers_count": 12, "updated_at": "2024-02-01T00:00:00Z",
	}
	if err := m.Run(); err != nil {
		t.Fatalf("second run: %v", err)
	}

	rows, err = parquet.ReadRows(rawPath)
	if err != nil {
		t.Fatalf("reading raw store after second run: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("upsert must not append: %d rows", len(rows))
	}
	if rows[0]["stargazers_count"] != float64(12) {
		t.Fatalf("repo 1 should reflect the re-fetched version: %#v", rows[0])
	}
	assertCursor(t, m.CursorPath, "2024-02-01T00:00:00Z")
}

func TestRunFailureLeavesStateAlone(t *testing.T) {
	ms := newMutableServer()
	defer ms.srv.Close()
	ms.repos = []map[string]interface{}{
		{"id": 1, "name": "arrow", "updated_at": "2024-01-01T00:00:00Z"},
	}

	m := testMain(t, ms.srv.URL)
	if err := m.Run(); err != nil {
		t.Fatalf("first run: %v", err)
	}

	ms.fail = true
	if err := m.Run(); err == nil {
		t.Fatal("expected error from failing API")
	}

	// neither the cursor nor the raw store may have moved
	assertCursor(t, m.CursorPath, "2024-01-01T00:00:00Z")
	rows, err := parquet.ReadRows(filepath.Join(m.DataDir, "raw", "apache", "repos.parquet"))
	if err != nil {
		t.Fatalf("reading raw store: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("raw store changed on failed run: %d rows", len(rows))
	}
	if _, err := os.Stat(filepath.Join(m.DataDir, "raw", "apache", "repos.parquet.tmp")); err == nil {
		t.Fatal("temp file left behind")
	}
}

func assertCursor(t *testing.T, cursorPath, want string) {
	t.Helper()
	cs, err := boltdb.NewCursorStore(cursorPath)
	if err != nil {
		t.Fatalf("opening cursor store: %v", err)
	}
	defer cs.Close()
	got, ok, err := cs.Get("apache")
	if err != nil || !ok {
		t.Fatalf("getting cursor: %v, ok: %v", err, ok)
	}
	wantTS, err := time.Parse(time.RFC3339, want)
	if err != nil {
		t.Fatalf("parsing want: %v", err)
	}
	if !got.Equal(wantTS) {
		t.Fatalf("wrong cursor: got %v, want %v", got, wantTS)
	}
}
