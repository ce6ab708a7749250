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

// Package staging cleans the raw store into one consolidated table. The
// cleaning is a single fixed SQL statement run by an in-process DuckDB:
// renames, casts, defaults for nullable fields, and a required-field filter.
// No aggregation happens here. The stage is a pure function of the raw
// files - rerunning it on the same input produces the same output.
package staging

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/pkg/errors"
)

// stagingSQL renames upstream fields to their warehouse names and casts the
// string timestamps the raw store carries into proper TIMESTAMP columns.
// TRY_CAST turns an uncastable value into NULL instead of aborting the
// statement; the WHERE clause then drops rows whose required fields (id,
// name, updated_at) didn't survive. ORDER BY ends with repo_id so rows with
// equal timestamps can't reorder between runs.
const stagingSQL = `
SELECT
    CAST(id        AS BIGINT)       AS repo_id,
    CAST(name      AS VARCHAR)      AS repo_name,
    CAST(full_name AS VARCHAR)      AS repo_full_name,
    COALESCE(CAST(description AS VARCHAR), '') AS description,

    COALESCE(TRY_CAST(stargazers_count AS INTEGER), 0) AS stars,
    COALESCE(TRY_CAST(forks_count      AS INTEGER), 0) AS forks,

    COALESCE(CAST(language AS VARCHAR), 'Unknown') AS language,

    TRY_CAST(created_at AS TIMESTAMP) AS created_at,
    TRY_CAST(updated_at AS TIMESTAMP) AS updated_at,
    TRY_CAST(pushed_at  AS TIMESTAMP) AS pushed_at

FROM read_parquet('%s', union_by_name = true)
WHERE name IS NOT NULL
  AND TRY_CAST(id AS BIGINT) IS NOT NULL
  AND TRY_CAST(updated_at AS TIMESTAMP) IS NOT NULL
ORDER BY updated_at DESC, repo_id
`

// Main holds the config for the staging stage.
type Main struct {
	DataDir string `help:"Root directory for pipeline data."`
}

// NewMain gets a new Main with default values.
func NewMain() *Main {
	return &Main{DataDir: "data"}
}

// Run reads every raw Parquet file, cleans it with DuckDB, and writes
// data/staging/repos.parquet.
func (m *Main) Run() error {
	rawDir := filepath.Join(m.DataDir, "raw")
	n, err := countParquet(rawDir)
	if err != nil {
		return errors.Wrap(err, "scanning raw store")
	}
	if n == 0 {
		return errors.Errorf("no raw parquet files under '%v' - run the extract stage first", rawDir)
	}
	log.Printf("staging %d raw file(s)", n)

	stagingDir := filepath.Join(m.DataDir, "staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return errors.Wrap(err, "creating staging directory")
	}
	out := filepath.Join(stagingDir, "repos.parquet")
	tmp := out + ".tmp"

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return errors.Wrap(err, "opening duckdb")
	}
	defer db.Close()

	rawGlob := filepath.ToSlash(filepath.Join(rawDir, "**", "*.parquet"))
	copySQL := fmt.Sprintf("COPY (%s) TO '%s' (FORMAT PARQUET, COMPRESSION SNAPPY)",
		fmt.Sprintf(stagingSQL, escape(rawGlob)), escape(filepath.ToSlash(tmp)))
	if _, err := db.Exec(copySQL); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "running staging query")
	}
	if err := os.Rename(tmp, out); err != nil {
		return errors.Wrap(err, "renaming staged table into place")
	}

	var rows int64
	err = db.QueryRow(fmt.Sprintf("SELECT count(*) FROM read_parquet('%s')",
		escape(filepath.ToSlash(out)))).Scan(&rows)
	if err != nil {
		return errors.Wrap(err, "counting staged rows")
	}
	log.Printf("staged %d row(s) -> %v", rows, out)
	return nil
}

func countParquet(dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".parquet") {
			n++
		}
		return nil
	})
	return n, err
}

// escape doubles single quotes for interpolation into a SQL string literal.
func escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
