// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

// Package cache provides the multi-keyspace cache layer backing the serving
// API and the background refreshers.
//
// Four independent key spaces, each with its own TTL, so a burst of writes
// to one never evicts another:
//
//   - hot_content: top trending items (refreshed every 60s)
//   - suggested_accounts:{viewer}: follow recommendations
//   - feed:{viewer}:{offset}:{page_size}: pre-computed feed pages
//   - seen:{viewer}:{content_id}: suppression markers (see SeenStore)
//
// Every write is a full-value replace with TTL or an atomic counter
// operation; no read-modify-write cycles are permitted, which eliminates an
// entire class of race conditions by construction.
package cache

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// SchemaVersion is the current cache artifact schema version. Bump this when
// the serialized shape of any cached payload changes; readers treat an
// artifact with a stale version tag as a miss instead of crashing on it.
const SchemaVersion = 1

// Keyspace names a cache key space with an independent TTL.
type Keyspace string

// The four key spaces.
const (
	KeyspaceHotContent Keyspace = "hot_content"
	KeyspaceSuggested  Keyspace = "suggested_accounts"
	KeyspaceFeed       Keyspace = "feed"
	KeyspaceSeen       Keyspace = "seen"
)

// ScopeAll invalidates every key space and bumps the version epoch.
const ScopeAll = "all"

// Artifact is a named, versioned, TTL-bound serialized payload.
type Artifact struct {
	Key        string
	Value      []byte
	VersionTag string
	ExpiresAt  time.Time
}

// Stats tracks per-keyspace cache performance.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Keys      int64
}

type entry struct {
	value      []byte
	versionTag string
	expiresAt  time.Time
}

type counter struct {
	value atomic.Int64
}

// Store is a thread-safe in-memory cache with independent per-keyspace TTLs
// and version-tagged artifacts.
type Store struct {
	mu       sync.RWMutex
	entries  map[Keyspace]map[string]entry
	counters map[Keyspace]map[string]*counter
	ttls     map[Keyspace]time.Duration

	statsMu sync.Mutex
	stats   map[Keyspace]*Stats

	// epoch is appended to the version tag. InvalidateScope(ScopeAll)
	// bumps it, forcing every outstanding artifact stale without a
	// redeploy (incident response path).
	epoch atomic.Int64

	// nowFunc allows tests to control the clock.
	nowFunc func() time.Time

	stopCleanup chan struct{}
}

// TTLs maps each key space to its expiration duration.
type TTLs struct {
	HotContent time.Duration
	Suggested  time.Duration
	Feed       time.Duration
	Seen       time.Duration
}

// New creates a Store with the given per-keyspace TTLs and starts a
// background cleanup loop for expired entries.
func New(ttls TTLs) *Store {
	s := &Store{
		entries:  make(map[Keyspace]map[string]entry),
		counters: make(map[Keyspace]map[string]*counter),
		ttls: map[Keyspace]time.Duration{
			KeyspaceHotContent: ttls.HotContent,
			KeyspaceSuggested:  ttls.Suggested,
			KeyspaceFeed:       ttls.Feed,
			KeyspaceSeen:       ttls.Seen,
		},
		stats:       make(map[Keyspace]*Stats),
		nowFunc:     time.Now,
		stopCleanup: make(chan struct{}),
	}
	for ks := range s.ttls {
		s.entries[ks] = make(map[string]entry)
		s.counters[ks] = make(map[string]*counter)
		s.stats[ks] = &Stats{}
	}

	go s.cleanupLoop()
	return s
}

// SetClock replaces the store's clock. Test use only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.nowFunc = now
	s.mu.Unlock()
}

// Close stops the background cleanup loop.
func (s *Store) Close() {
	close(s.stopCleanup)
}

// VersionTag returns the tag stamped onto new artifacts: the compiled schema
// version plus the runtime invalidation epoch.
func (s *Store) VersionTag() string {
	return "v" + strconv.Itoa(SchemaVersion) + ".e" + strconv.FormatInt(s.epoch.Load(), 10)
}

// Get retrieves an artifact. Expired entries and entries whose version tag
// does not match the store's current tag are treated as misses; stale
// entries are dropped so they are not re-checked on every read.
func (s *Store) Get(keyspace Keyspace, key string) (*Artifact, bool) {
	s.mu.RLock()
	e, exists := s.entries[keyspace][key]
	now := s.nowFunc()
	s.mu.RUnlock()

	if !exists {
		s.recordMiss(keyspace)
		return nil, false
	}

	if now.After(e.expiresAt) || e.versionTag != s.VersionTag() {
		s.dropStale(keyspace, key, e)
		s.recordMiss(keyspace)
		s.recordEviction(keyspace)
		return nil, false
	}

	s.recordHit(keyspace)
	return &Artifact{
		Key:        string(keyspace) + ":" + key,
		Value:      e.value,
		VersionTag: e.versionTag,
		ExpiresAt:  e.expiresAt,
	}, true
}

// dropStale removes a key only while it still holds the observed stale
// entry. A Set can land between the read lock in Get and this write lock;
// the re-check keeps that fresh value from being deleted.
func (s *Store) dropStale(keyspace Keyspace, key string, observed entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[keyspace][key]
	if ok && cur.expiresAt.Equal(observed.expiresAt) && cur.versionTag == observed.versionTag {
		delete(s.entries[keyspace], key)
	}
}

// Set stores a value with the keyspace's configured TTL.
func (s *Store) Set(keyspace Keyspace, key string, value []byte) {
	s.SetWithTTL(keyspace, key, value, s.ttls[keyspace])
}

// SetWithTTL stores a value with an explicit TTL. The write is a full-value
// replace stamped with the current version tag.
func (s *Store) SetWithTTL(keyspace Keyspace, key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[keyspace][key] = entry{
		value:      value,
		versionTag: s.VersionTag(),
		expiresAt:  s.nowFunc().Add(ttl),
	}
}

// Increment atomically adds delta to a counter key and returns the new
// value. Counters are not version-tagged: they hold plain numbers, not
// serialized artifacts.
func (s *Store) Increment(keyspace Keyspace, key string, delta int64) int64 {
	s.mu.RLock()
	c, exists := s.counters[keyspace][key]
	s.mu.RUnlock()

	if !exists {
		s.mu.Lock()
		if c, exists = s.counters[keyspace][key]; !exists {
			c = &counter{}
			s.counters[keyspace][key] = c
		}
		s.mu.Unlock()
	}
	return c.value.Add(delta)
}

// InvalidateScope force-expires a key space, or everything when scope is
// ScopeAll. Invalidating everything also bumps the version epoch so copies
// held elsewhere fail the version check. Returns the number of entries
// dropped. Used for incident response, not normal operation.
func (s *Store) InvalidateScope(scope string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	if scope == ScopeAll {
		for ks := range s.entries {
			dropped += len(s.entries[ks])
			s.entries[ks] = make(map[string]entry)
			s.counters[ks] = make(map[string]*counter)
		}
		s.epoch.Add(1)
	} else {
		ks := Keyspace(scope)
		if m, ok := s.entries[ks]; ok {
			dropped = len(m)
			s.entries[ks] = make(map[string]entry)
			s.counters[ks] = make(map[string]*counter)
		}
	}

	s.statsMu.Lock()
	for _, st := range s.stats {
		st.Evictions += int64(dropped)
	}
	s.statsMu.Unlock()
	return dropped
}

// ValidScope reports whether scope names a key space (or ScopeAll).
func ValidScope(scope string) bool {
	switch Keyspace(scope) {
	case KeyspaceHotContent, KeyspaceSuggested, KeyspaceFeed, KeyspaceSeen:
		return true
	}
	return scope == ScopeAll
}

// GetStats returns a snapshot of one keyspace's statistics.
func (s *Store) GetStats(keyspace Keyspace) Stats {
	s.mu.RLock()
	keys := int64(len(s.entries[keyspace]))
	s.mu.RUnlock()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := s.stats[keyspace]
	if st == nil {
		return Stats{}
	}
	out := *st
	out.Keys = keys
	return out
}

// cleanupLoop periodically removes expired entries.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes all expired entries across key spaces.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	for ks, m := range s.entries {
		evicted := int64(0)
		for key, e := range m {
			if now.After(e.expiresAt) {
				delete(m, key)
				evicted++
			}
		}
		if evicted > 0 {
			s.statsMu.Lock()
			s.stats[ks].Evictions += evicted
			s.statsMu.Unlock()
		}
	}
}

func (s *Store) recordHit(ks Keyspace) {
	s.statsMu.Lock()
	s.stats[ks].Hits++
	s.statsMu.Unlock()
}

func (s *Store) recordMiss(ks Keyspace) {
	s.statsMu.Lock()
	s.stats[ks].Misses++
	s.statsMu.Unlock()
}

func (s *Store) recordEviction(ks Keyspace) {
	s.statsMu.Lock()
	s.stats[ks].Evictions++
	s.statsMu.Unlock()
}

// FeedKey builds the cache key for a computed feed page.
func FeedKey(viewerID string, offset, pageSize int) string {
	return viewerID + ":" + strconv.Itoa(offset) + ":" + strconv.Itoa(pageSize)
}
