// Copyright 2024 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package extract lands GitHub repository metadata in the raw Parquet store.
// It brackets the fetch with an explicit cursor read and cursor advance: the
// cursor is read before fetching, and only written back after the merged raw
// file has been durably renamed into place. A failed fetch leaves both the
// raw store and the cursor exactly as they were.
package extract

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pilosa/mds"
	"github.com/pilosa/mds/boltdb"
	"github.com/pilosa/mds/github"
	"github.com/pilosa/mds/parquet"
	"github.com/pkg/errors"
)

// DefaultCursor is the sentinel cursor used on the first run for a source.
const DefaultCursor = "2000-01-01T00:00:00Z"

// Main holds the config for the extract stage.
type Main struct {
	Org        string `help:"GitHub organization whose repositories to extract."`
	Token      string `help:"GitHub API token. Optional, but the anonymous rate limit is low."`
	DataDir    string `help:"Root directory for pipeline data."`
	CursorPath string `help:"Path to the BoltDB file holding extraction cursors."`
	PageSize   int    `help:"Repositories to request per API page."`
	BaseURL    string `help:"Override the GitHub API base URL (e.g. for GitHub Enterprise)."`
}

// NewMain gets a new Main with default values.
func NewMain() *Main {
	return &Main{
		DataDir:    "data",
		CursorPath: filepath.Join("data", "cursor.db"),
		PageSize:   100,
	}
}

// Run fetches everything updated since the stored cursor, merges it into the
// raw store by repository id, and advances the cursor.
func (m *Main) Run() error {
	if m.Org == "" {
		return errors.New("org is required (set --org or MDS_ORG)")
	}

	if err := os.MkdirAll(filepath.Dir(m.CursorPath), 0755); err != nil {
		return errors.Wrap(err, "creating cursor directory")
	}
	cursors, err := boltdb.NewCursorStore(m.CursorPath)
	if err != nil {
		return errors.Wrap(err, "opening cursor store")
	}
	defer cursors.Close()

	since, found, err := cursors.Get(m.Org)
	if err != nil {
		return errors.Wrap(err, "reading cursor")
	}
	if !found {
		since, _ = time.Parse(time.RFC3339, DefaultCursor)
	}

	src, err := github.NewSource(
		github.OptSrcOrg(m.Org),
		github.OptSrcToken(m.Token),
		github.OptSrcBaseURL(m.BaseURL),
		github.OptSrcPageSize(m.PageSize),
		github.OptSrcSince(since),
	)
	if err != nil {
		return errors.Wrap(err, "getting github source")
	}

	rows, maxUpdated, err := collect(src)
	if err != nil {
		return errors.Wrap(err, "fetching repos")
	}
	if len(rows) == 0 {
		log.Printf("org %v: nothing updated since %v", m.Org, since.Format(time.RFC3339))
		return nil
	}

	rawDir := filepath.Join(m.DataDir, "raw", m.Org)
	if err := os.MkdirAll(rawDir, 0755); err != nil {
		return errors.Wrap(err, "creating raw directory")
	}
	rawPath := filepath.Join(rawDir, "repos.parquet")

	var existing []map[string]interface{}
	if _, err := os.Stat(rawPath); err == nil {
		existing, err = parquet.ReadRows(rawPath)
		if err != nil {
			return errors.Wrap(err, "reading existing raw store")
		}
	}

	merged := Merge(existing, rows)

	// write the whole merged table to a temp file and rename it into place,
	// so a crash can't leave a half-written raw store behind
	tmp := rawPath + ".tmp"
	if err := parquet.WriteRows(tmp, merged); err != nil {
		return errors.Wrap(err, "writing raw store")
	}
	if err := os.Rename(tmp, rawPath); err != nil {
		return errors.Wrap(err, "renaming raw store into place")
	}

	// the batch is durable - now (and only now) the cursor may move
	if !maxUpdated.IsZero() {
		if err := cursors.Advance(m.Org, maxUpdated); err != nil {
			return errors.Wrap(err, "advancing cursor")
		}
	}

	log.Printf("org %v: fetched %d repo(s), raw store now %d row(s)", m.Org, len(rows), len(merged))
	return nil
}

// collect drains the source, flattening each record for columnar storage and
// tracking the maximum updated_at observed. Any source error aborts the whole
// batch - partial batches are never returned.
func collect(src mds.Source) ([]map[string]interface{}, time.Time, error) {
	var rows []map[string]interface{}
	var max time.Time
	for {
		rec, err := src.Record()
		if err == io.EOF {
			return rows, max, nil
		}
		if err != nil {
			return nil, time.Time{}, err
		}
		row := mds.FlattenRecord(rec.(map[string]interface{}))
		if _, ok := idKey(row); !ok {
			log.Printf("skipping record with no id: %#v", row)
			continue
		}
		if ts, ok := rowUpdatedAt(row); ok && ts.After(max) {
			max = ts
		}
		rows = append(rows, row)
	}
}

// Merge upserts incoming rows into existing ones by repository id. When both
// sides have a row for an id, the one with the greater updated_at wins
// entirely - rows are replaced, never field-merged. The result is sorted by
// id so merge output is deterministic.
func Merge(existing, incoming []map[string]interface{}) []map[string]interface{} {
	byID := make(map[string]map[string]interface{}, len(existing)+len(incoming))
	for _, row := range existing {
		if key, ok := idKey(row); ok {
			byID[key] = row
		}
	}
	for _, row := range incoming {
		key, ok := idKey(row)
		if !ok {
			continue
		}
		prev, seen := byID[key]
		if !seen || !newerThan(prev, row) {
			byID[key] = row
		}
	}

	keys := make([]string, 0, len(byID))
	for k := range byID {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		fi, erri := strconv.ParseFloat(keys[i], 64)
		fj, errj := strconv.ParseFloat(keys[j], 64)
		if erri == nil && errj == nil {
			return fi < fj
		}
		return keys[i] < keys[j]
	})

	merged := make([]map[string]interface{}, len(keys))
	for i, k := range keys {
		merged[i] = byID[k]
	}
	return merged
}

// newerThan reports whether a's updated_at is strictly after b's. A row
// without a parseable updated_at never counts as newer.
func newerThan(a, b map[string]interface{}) bool {
	ta, oka := rowUpdatedAt(a)
	tb, okb := rowUpdatedAt(b)
	if !oka {
		return false
	}
	if !okb {
		return true
	}
	return ta.After(tb)
}

func idKey(row map[string]interface{}) (string, bool) {
	switch v := row["id"].(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case string:
		return v, v != ""
	}
	return "", false
}

func rowUpdatedAt(row map[string]interface{}) (time.Time, bool) {
	raw, ok := row["updated_at"].(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
