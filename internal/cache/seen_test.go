// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package cache

import (
	"testing"
	"time"
)

func testSeenStore(t *testing.T) *SeenStore {
	t.Helper()
	s, err := NewSeenStore("", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("open seen store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSeenStore_MarkAndCheck(t *testing.T) {
	s := testSeenStore(t)

	if err := s.Mark("viewer-1", "c1", "c2"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	seen, err := s.Seen("viewer-1", "c1")
	if err != nil || !seen {
		t.Errorf("c1 seen = %v, err %v, want true", seen, err)
	}
	seen, err = s.Seen("viewer-1", "c3")
	if err != nil || seen {
		t.Errorf("c3 seen = %v, err %v, want false", seen, err)
	}

	// Markers are per-viewer.
	seen, err = s.Seen("viewer-2", "c1")
	if err != nil || seen {
		t.Errorf("viewer-2 c1 seen = %v, err %v, want false", seen, err)
	}
}

func TestSeenStore_SeenSet(t *testing.T) {
	s := testSeenStore(t)

	if err := s.Mark("viewer-1", "a", "b", "c"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.Mark("viewer-2", "z"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	set, err := s.SeenSet("viewer-1")
	if err != nil {
		t.Fatalf("seen set: %v", err)
	}
	if len(set) != 3 {
		t.Fatalf("set size = %d, want 3", len(set))
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, ok := set[id]; !ok {
			t.Errorf("missing %s", id)
		}
	}
	if _, ok := set["z"]; ok {
		t.Error("viewer-2 marker leaked into viewer-1 set")
	}
}

func TestSeenStore_SuppressionExpiresWithFakeClock(t *testing.T) {
	s := testSeenStore(t)
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	if err := s.Mark("viewer-1", "c1"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	// Within the 7-day window the item stays suppressed.
	now = now.Add(6 * 24 * time.Hour)
	if seen, _ := s.Seen("viewer-1", "c1"); !seen {
		t.Fatal("marker should still be active on day 6")
	}
	set, err := s.SeenSet("viewer-1")
	if err != nil || len(set) != 1 {
		t.Fatalf("set = %v, err %v", set, err)
	}

	// Past the TTL the marker no longer suppresses.
	now = now.Add(2 * 24 * time.Hour)
	if seen, _ := s.Seen("viewer-1", "c1"); seen {
		t.Fatal("marker should have expired on day 8")
	}
	set, err = s.SeenSet("viewer-1")
	if err != nil || len(set) != 0 {
		t.Fatalf("expired set = %v, err %v", set, err)
	}
}
