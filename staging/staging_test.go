package staging

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/pilosa/mds/parquet"
)

func writeRaw(t *testing.T, dataDir, org string, rows []map[string]interface{}) {
	t.Helper()
	dir := filepath.Join(dataDir, "raw", org)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating raw dir: %v", err)
	}
	if err := parquet.WriteRows(filepath.Join(dir, "repos.parquet"), rows); err != nil {
		t.Fatalf("writing raw rows: %v", err)
	}
}

func TestRunCleans(t *testing.T) {
	dataDir := t.TempDir()
	writeRaw(t, dataDir, "apache", []map[string]interface{}{
		{
			"id": float64(1), "name": "arrow", "full_name": "apache/arrow",
			"description": "columnar", "stargazers_count": float64(100),
			"forks_count": float64(20), "language": "C++",
			"created_at": "2016-01-01T00:00:00Z",
			"updated_at": "2024-02-01T00:00:00Z",
			"pushed_at":  "2024-02-01T12:00:00Z",
		},
		{
			// nullable fields missing entirely - must get defaults
			"id": float64(2), "name": "parquet", "full_name": "apache/parquet",
			"updated_at": "2024-01-15T00:00:00Z",
		},
		{
			// required field null - must be dropped
			"id": float64(3), "name": nil, "full_name": "apache/ghost",
			"updated_at": "2024-01-10T00:00:00Z",
		},
		{
			// unparseable updated_at - must be dropped, not abort the run
			"id": float64(4), "name": "broken", "full_name": "apache/broken",
			"updated_at": "yesterday-ish",
		},
	})

	m := NewMain()
	m.DataDir = dataDir
	if err := m.Run(); err != nil {
		t.Fatalf("running staging: %v", err)
	}

	rows, err := parquet.ReadRows(filepath.Join(dataDir, "staging", "repos.parquet"))
	if err != nil {
		t.Fatalf("reading staged table: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("wrong staged row count: %d (%v)", len(rows), rows)
	}

	// ordered by updated_at desc
	first := rows[0]
	if first["repo_id"] != int64(1) || first["repo_name"] != "arrow" {
		t.Fatalf("wrong first row: %#v", first)
	}
	if first["stars"] != int64(100) || first["forks"] != int64(20) {
		t.Fatalf("metrics not cast: %#v", first)
	}
	ts, ok := first["updated_at"].(time.Time)
	if !ok {
		t.Fatalf("updated_at not a timestamp: %#v", first["updated_at"])
	}
	if !ts.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("wrong updated_at: %v", ts)
	}

	second := rows[1]
	if second["description"] != "" {
		t.Fatalf("missing description should default to empty string: %#v", second["description"])
	}
	if second["language"] != "Unknown" {
		t.Fatalf("missing language should default to Unknown: %#v", second["language"])
	}
	if second["stars"] != int64(0) {
		t.Fatalf("missing stars should default to 0: %#v", second["stars"])
	}
}

func TestRunIdempotent(t *testing.T) {
	dataDir := t.TempDir()
	writeRaw(t, dataDir, "apache", []map[string]interface{}{
		{"id": float64(1), "name": "a", "full_name": "x/a", "updated_at": "2024-01-01T00:00:00Z"},
		{"id": float64(2), "name": "b", "full_name": "x/b", "updated_at": "2024-01-01T00:00:00Z"},
		{"id": float64(3), "name": "c", "full_name": "x/c", "updated_at": "2024-01-02T00:00:00Z"},
	})

	m := NewMain()
	m.DataDir = dataDir
	if err := m.Run(); err != nil {
		t.Fatalf("first staging run: %v", err)
	}
	staged := filepath.Join(dataDir, "staging", "repos.parquet")
	first, err := parquet.ReadRows(staged)
	if err != nil {
		t.Fatalf("reading first output: %v", err)
	}

	if err := m.Run(); err != nil {
		t.Fatalf("second staging run: %v", err)
	}
	second, err := parquet.ReadRows(staged)
	if err != nil {
		t.Fatalf("reading second output: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("staging is not idempotent:\nfirst:  %v\nsecond: %v", first, second)
	}
}

func TestRunRequiresRawFiles(t *testing.T) {
	m := NewMain()
	m.DataDir = t.TempDir()
	if err := m.Run(); err == nil {
		t.Fatal("expected error when raw store is empty")
	}
}
