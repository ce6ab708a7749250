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

package github

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultBaseURL  = "https://api.github.com"
	defaultPageSize = 100 // max the GitHub API allows per page
)

// Source satisfies the mds.Source interface for the GitHub org-repos
// endpoint. Each call to Record returns one repository as a
// map[string]interface{} decoded from the API's JSON. Pages are requested
// sorted by updated_at descending, so once a repository older than the
// configured cursor shows up, everything after it is older too and fetching
// stops early.
type Source struct {
	org      string
	token    string
	baseURL  string
	pageSize int
	since    time.Time
	client   *http.Client

	records chan record
}

type record struct {
	rec map[string]interface{}
	err error
}

// SrcOption is a functional option type for Source.
type SrcOption func(s *Source)

// OptSrcOrg sets the GitHub organization whose repositories are fetched.
func OptSrcOrg(org string) SrcOption {
	return func(s *Source) {
		s.org = org
	}
}

// OptSrcToken sets a bearer token for the API. Without one, requests still
// work but at a much lower rate limit.
func OptSrcToken(token string) SrcOption {
	return func(s *Source) {
		s.token = token
	}
}

// OptSrcBaseURL points the source at a different API host (e.g. a test
// server or a GitHub Enterprise installation).
func OptSrcBaseURL(u string) SrcOption {
	return func(s *Source) {
		if u != "" {
			s.baseURL = u
		}
	}
}

// OptSrcPageSize sets how many repositories to request per page.
func OptSrcPageSize(n int) SrcOption {
	return func(s *Source) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// OptSrcSince sets the incremental cursor: repositories whose updated_at is
// before this instant are not emitted. A repository updated exactly at the
// cursor is emitted again - the downstream merge makes that harmless.
func OptSrcSince(t time.Time) SrcOption {
	return func(s *Source) {
		s.since = t
	}
}

// NewSource creates a Source and starts fetching in the background.
func NewSource(opts ...SrcOption) (*Source, error) {
	s := &Source{
		baseURL:  defaultBaseURL,
		pageSize: defaultPageSize,
		client:   &http.Client{Timeout: 30 * time.Second},
		records:  make(chan record, 100),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.org == "" {
		return nil, errors.New("github source requires an org")
	}
	go s.fetch()
	return s, nil
}

// Record returns the next repository, or io.EOF once the org's pages are
// exhausted (or everything remaining is older than the cursor).
func (s *Source) Record() (interface{}, error) {
	rec, ok := <-s.records
	if !ok {
		return nil, io.EOF
	}
	if rec.err != nil {
		return nil, rec.err
	}
	return rec.rec, nil
}

func (s *Source) fetch() {
	defer close(s.records)
	for page := 1; ; page++ {
		repos, err := s.fetchPage(page)
		if err != nil {
			s.records <- record{err: err}
			return
		}
		if len(repos) == 0 {
			return
		}
		for _, repo := range repos {
			if ts, ok := updatedAt(repo); ok && ts.Before(s.since) {
				// sorted by updated_at desc: the rest is older
				return
			}
			s.records <- record{rec: repo}
		}
		if len(repos) < s.pageSize {
			return
		}
	}
}

func (s *Source) fetchPage(page int) ([]map[string]interface{}, error) {
	url := fmt.Sprintf("%s/orgs/%s/repos?per_page=%d&page=%d&sort=updated&direction=desc",
		s.baseURL, s.org, s.pageSize, page)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching page %d for org '%v'", page, s.org)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("github responded %v fetching page %d for org '%v': %s",
			resp.Status, page, s.org, body)
	}

	var repos []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&repos); err != nil {
		return nil, errors.Wrapf(err, "decoding page %d", page)
	}
	return repos, nil
}

func updatedAt(repo map[string]interface{}) (time.Time, bool) {
	raw, ok := repo["updated_at"].(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
