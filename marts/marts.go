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

// Package marts aggregates the staged table into small derived tables. Only
// rows inside a trailing lookback window are processed - with a window wide
// enough to cover all data this degenerates into full recomputation, which
// is fine. Each mart is a pure function from the filtered frame to a result
// frame, registered by name; marts don't depend on each other and each one
// is written to its own Parquet artifact.
package marts

import (
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pilosa/mds/frame"
	"github.com/pkg/errors"
)

// BuildFunc computes one mart from the lookback-filtered staged frame. It
// must not mutate its input.
type BuildFunc func(f *frame.Frame) (*frame.Frame, error)

// Registry maps mart names to their builders. The name is also the output
// file name under data/marts/.
var Registry = map[string]BuildFunc{
	"repos_per_language": ReposPerLanguage,
	"daily_activity":     DailyActivity,
}

// Main holds the config for the marts stage.
type Main struct {
	DataDir      string `help:"Root directory for pipeline data."`
	LookbackDays int    `help:"Trailing window, in days, of staged rows to aggregate."`

	now func() time.Time
}

// NewMain gets a new Main with default values.
func NewMain() *Main {
	return &Main{
		DataDir:      "data",
		LookbackDays: 7,
		now:          time.Now,
	}
}

// Run reads the staged table, applies the lookback window, and builds and
// persists every registered mart.
func (m *Main) Run() error {
	staged := filepath.Join(m.DataDir, "staging", "repos.parquet")
	if _, err := os.Stat(staged); os.IsNotExist(err) {
		return errors.Errorf("staged table missing at '%v' - run the stage step first", staged)
	}
	f, err := frame.ReadParquet(staged)
	if err != nil {
		return errors.Wrap(err, "reading staged table")
	}

	cutoff := m.now().UTC().Add(-time.Duration(m.LookbackDays) * 24 * time.Hour)
	recent := Lookback(f, cutoff)
	log.Printf("%d of %d staged row(s) within %d-day lookback window",
		recent.NumRows(), f.NumRows(), m.LookbackDays)
	if recent.NumRows() == 0 {
		log.Printf("no rows after lookback filter - marts unchanged")
		return nil
	}

	martsDir := filepath.Join(m.DataDir, "marts")
	if err := os.MkdirAll(martsDir, 0755); err != nil {
		return errors.Wrap(err, "creating marts directory")
	}

	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		out, err := Registry[name](recent)
		if err != nil {
			return errors.Wrapf(err, "building mart '%v'", name)
		}
		path := filepath.Join(martsDir, name+".parquet")
		tmp := path + ".tmp"
		if err := out.WriteParquet(tmp); err != nil {
			return errors.Wrapf(err, "writing mart '%v'", name)
		}
		if err := os.Rename(tmp, path); err != nil {
			return errors.Wrapf(err, "renaming mart '%v' into place", name)
		}
		log.Printf("mart %v: %d row(s) -> %v", name, out.NumRows(), path)
	}
	return nil
}

// Lookback returns the rows whose updated_at is at or after cutoff. The
// window is closed at the cutoff instant: a row updated exactly at the
// cutoff is included.
func Lookback(f *frame.Frame, cutoff time.Time) *frame.Frame {
	col := f.Col("updated_at")
	if col == nil {
		return f.Filter(func(int) bool { return false })
	}
	return f.Filter(func(i int) bool {
		ts, ok := frame.AsTime(col[i])
		return ok && !ts.Before(cutoff)
	})
}

// ReposPerLanguage counts repositories and averages their stars and forks
// per language, most common languages first.
func ReposPerLanguage(f *frame.Frame) (*frame.Frame, error) {
	type agg struct {
		count        int64
		stars, forks float64
	}
	langCol := f.Col("language")
	starsCol := f.Col("stars")
	forksCol := f.Col("forks")

	groups := make(map[string]*agg)
	for i := 0; i < f.NumRows(); i++ {
		lang, ok := frame.AsStr(langCol[i])
		if !ok {
			lang = "Unknown"
		}
		g, seen := groups[lang]
		if !seen {
			g = &agg{}
			groups[lang] = g
		}
		g.count++
		if v, ok := frame.AsF64(starsCol[i]); ok {
			g.stars += v
		}
		if v, ok := frame.AsF64(forksCol[i]); ok {
			g.forks += v
		}
	}

	langs := make([]string, 0, len(groups))
	for lang := range groups {
		langs = append(langs, lang)
	}
	sort.Slice(langs, func(i, j int) bool {
		gi, gj := groups[langs[i]], groups[langs[j]]
		if gi.count != gj.count {
			return gi.count > gj.count
		}
		return langs[i] < langs[j]
	})

	out := frame.New("language", "repo_count", "avg_stars", "avg_forks")
	for _, lang := range langs {
		g := groups[lang]
		err := out.AppendRow(lang, g.count,
			round(g.stars/float64(g.count), 1),
			round(g.forks/float64(g.count), 1))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DailyActivity counts pushes per day (by the date portion of pushed_at)
// and adds a 7-day rolling average of those counts.
func DailyActivity(f *frame.Frame) (*frame.Frame, error) {
	pushedCol := f.Col("pushed_at")

	counts := make(map[time.Time]int64)
	for i := 0; i < f.NumRows(); i++ {
		ts, ok := frame.AsTime(pushedCol[i])
		if !ok {
			continue // pushed_at is nullable; a repo with no pushes has none
		}
		day := ts.UTC().Truncate(24 * time.Hour)
		counts[day]++
	}

	days := make([]time.Time, 0, len(counts))
	for day := range counts {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	out := frame.New("push_date", "push_count", "rolling_7d_avg")
	for i, day := range days {
		// rolling mean over the last up-to-7 daily counts, matching a
		// 7-row window with a minimum of one period
		lo := i - 6
		if lo < 0 {
			lo = 0
		}
		var sum int64
		for _, d := range days[lo : i+1] {
			sum += counts[d]
		}
		avg := round(float64(sum)/float64(i+1-lo), 2)
		if err := out.AppendRow(day, counts[day], avg); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func round(x float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(x*shift) / shift
}
