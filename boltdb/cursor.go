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

// Package boltdb persists extraction cursors in a BoltDB file so that
// incremental runs can resume where the previous run left off.
package boltdb

import (
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var cursorBucket = []byte("cursors")

// CursorStore stores one timestamp cursor per extraction source. A cursor
// means "everything with updated_at <= this value has been ingested". Cursors
// are monotonic: Advance refuses to move one backward.
type CursorStore struct {
	Db *bolt.DB
}

// NewCursorStore opens (creating if necessary) the bolt file at filename and
// ensures the cursor bucket exists.
func NewCursorStore(filename string) (*CursorStore, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cursorBucket)
		return errors.Wrap(err, "creating cursor bucket")
	})
	if err != nil {
		return nil, err
	}
	return &CursorStore{Db: db}, nil
}

// Get returns the stored cursor for source. The second return is false if no
// cursor has been stored yet (i.e. this is the first run for the source).
func (c *CursorStore) Get(source string) (time.Time, bool, error) {
	var raw []byte
	err := c.Db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(cursorBucket).Get([]byte(source)); v != nil {
			raw = append(raw, v...)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "reading cursor")
	}
	if raw == nil {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "parsing stored cursor '%s'", raw)
	}
	return ts, true, nil
}

// Advance moves the cursor for source forward to "to". If the stored cursor
// is already at or past "to", Advance is a no-op - a cursor never decreases.
func (c *CursorStore) Advance(source string, to time.Time) error {
	err := c.Db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cursorBucket)
		if v := b.Get([]byte(source)); v != nil {
			cur, err := time.Parse(time.RFC3339Nano, string(v))
			if err != nil {
				return errors.Wrapf(err, "parsing stored cursor '%s'", v)
			}
			if !to.After(cur) {
				return nil
			}
		}
		return b.Put([]byte(source), []byte(to.UTC().Format(time.RFC3339Nano)))
	})
	return errors.Wrap(err, "advancing cursor")
}

// Close syncs and closes the underlying boltdb.
func (c *CursorStore) Close() error {
	err := c.Db.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return c.Db.Close()
}
