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

// Package pipeline sequences the three ELT stages. Stages run strictly one
// after another - a stage only starts once its predecessor's output is fully
// on disk - and the first failure aborts everything downstream. Concurrent
// runs against the same data directory are not coordinated here; callers
// must serialize them.
package pipeline

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pilosa/mds/extract"
	"github.com/pilosa/mds/marts"
	"github.com/pilosa/mds/staging"
	"github.com/pkg/errors"
)

// Stage is one runnable pipeline step.
type Stage struct {
	Name string
	Run  func() error
}

// Main holds the config for a full pipeline run.
type Main struct {
	Org          string `help:"GitHub organization whose repositories to process."`
	Token        string `help:"GitHub API token. Optional, but the anonymous rate limit is low."`
	LookbackDays int    `help:"Trailing window, in days, of staged rows to aggregate."`
	SkipExtract  bool   `help:"Skip the extract stage and re-run the transforms only."`
	DataDir      string `help:"Root directory for pipeline data."`
	CursorPath   string `help:"Path to the BoltDB file holding extraction cursors."`
	PageSize     int    `help:"Repositories to request per API page."`
	BaseURL      string `help:"Override the GitHub API base URL (e.g. for GitHub Enterprise)."`

	out io.Writer
}

// NewMain gets a new Main with default values.
func NewMain() *Main {
	return &Main{
		LookbackDays: 7,
		DataDir:      "data",
		CursorPath:   filepath.Join("data", "cursor.db"),
		PageSize:     100,
		out:          os.Stdout,
	}
}

// Run executes extract (unless skipped), staging, and marts, in that order,
// then prints a summary of what's on disk.
func (m *Main) Run() error {
	start := time.Now()

	var stages []Stage
	if m.SkipExtract {
		m.phase("extract (skipped)")
	} else {
		ex := extract.NewMain()
		ex.Org = m.Org
		ex.Token = m.Token
		ex.DataDir = m.DataDir
		ex.CursorPath = m.CursorPath
		ex.PageSize = m.PageSize
		ex.BaseURL = m.BaseURL
		stages = append(stages, Stage{Name: "extract", Run: ex.Run})
	}

	st := staging.NewMain()
	st.DataDir = m.DataDir
	stages = append(stages, Stage{Name: "stage", Run: st.Run})

	ma := marts.NewMain()
	ma.DataDir = m.DataDir
	ma.LookbackDays = m.LookbackDays
	stages = append(stages, Stage{Name: "marts", Run: ma.Run})

	if err := m.runStages(stages); err != nil {
		return err
	}

	m.summary()
	fmt.Fprintf(m.out, "pipeline completed in %.2fs\n", time.Since(start).Seconds())
	return nil
}

// runStages runs each stage to completion before starting the next. The
// first failure aborts the remaining stages.
func (m *Main) runStages(stages []Stage) error {
	for _, stage := range stages {
		m.phase(stage.Name)
		if err := stage.Run(); err != nil {
			return errors.Wrapf(err, "running %v stage", stage.Name)
		}
	}
	return nil
}

func (m *Main) phase(label string) {
	fmt.Fprintf(m.out, "\n%s\n  %s\n%s\n", strings.Repeat("-", 60), label, strings.Repeat("-", 60))
}

// summary prints, per data directory, how many Parquet files exist and their
// total size.
func (m *Main) summary() {
	fmt.Fprintf(m.out, "\n%s\n  pipeline summary\n%s\n", strings.Repeat("=", 60), strings.Repeat("=", 60))
	for _, sub := range []string{"raw", "staging", "marts"} {
		dir := filepath.Join(m.DataDir, sub)
		files, bytes := 0, int64(0)
		filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(path, ".parquet") {
				return nil
			}
			if info, err := d.Info(); err == nil {
				files++
				bytes += info.Size()
			}
			return nil
		})
		fmt.Fprintf(m.out, "  %-20s %3d file(s) %8.2f MB\n", dir, files, float64(bytes)/(1024*1024))
	}
}
