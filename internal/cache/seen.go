// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package cache

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// SeenStore records which content items have been shown to which viewers.
//
// Unlike the other key spaces this is authoritative state, not just an
// optimization: losing it degrades UX (viewers see repeats) but never causes
// incorrect ranking. It is therefore backed by Badger rather than process
// memory, with the 7-day TTL enforced both by Badger's native entry TTL and
// by an expiry timestamp in the value (the latter checked against an
// injectable clock so suppression windows are testable without sleeping).
type SeenStore struct {
	db      *badger.DB
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewSeenStore opens the seen-marker store. An empty path opens an
// in-memory Badger instance for tests and ephemeral deployments.
func NewSeenStore(path string, ttl time.Duration) (*SeenStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	// Badger logs through its own interface; keep it quiet and let the
	// caller surface open errors.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open seen store: %w", err)
	}

	return &SeenStore{
		db:      db,
		ttl:     ttl,
		nowFunc: time.Now,
	}, nil
}

// SetClock replaces the store's clock. Test use only.
func (s *SeenStore) SetClock(now func() time.Time) {
	s.nowFunc = now
}

// Close closes the underlying Badger database.
func (s *SeenStore) Close() error {
	return s.db.Close()
}

// seenKey builds the badger key: seen:{viewer}:{content_id}.
func seenKey(viewerID, contentID string) []byte {
	return []byte("seen:" + viewerID + ":" + contentID)
}

// Mark records that contentID was shown to viewerID. The marker expires
// after the configured TTL, after which the item may be served again.
func (s *SeenStore) Mark(viewerID string, contentIDs ...string) error {
	expiresAt := s.nowFunc().Add(s.ttl)
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(expiresAt.Unix()))

	return s.db.Update(func(txn *badger.Txn) error {
		for _, contentID := range contentIDs {
			e := badger.NewEntry(seenKey(viewerID, contentID), value).WithTTL(s.ttl)
			if err := txn.SetEntry(e); err != nil {
				return fmt.Errorf("mark seen %s: %w", contentID, err)
			}
		}
		return nil
	})
}

// SeenSet loads the full suppression set for a viewer. The returned map is
// used as a fusion filter; a missing or failed store yields an empty set so
// serving degrades to possible repeats, never to an error.
func (s *SeenStore) SeenSet(viewerID string) (map[string]struct{}, error) {
	now := s.nowFunc()
	set := make(map[string]struct{})
	prefix := []byte("seen:" + viewerID + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				if len(val) != 8 {
					return nil // unreadable marker, treat as absent
				}
				expiresAt := time.Unix(int64(binary.BigEndian.Uint64(val)), 0)
				if now.After(expiresAt) {
					return nil // expired under the injected clock
				}
				contentID := string(item.Key()[len(prefix):])
				set[contentID] = struct{}{}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load seen set: %w", err)
	}
	return set, nil
}

// Seen reports whether a single marker is present and unexpired.
func (s *SeenStore) Seen(viewerID, contentID string) (bool, error) {
	now := s.nowFunc()
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(seenKey(viewerID, contentID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return nil
			}
			expiresAt := time.Unix(int64(binary.BigEndian.Uint64(val)), 0)
			found = now.Before(expiresAt)
			return nil
		})
	})
	if err != nil {
		return false, fmt.Errorf("check seen marker: %w", err)
	}
	return found, nil
}
