// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package ranking

import (
	"math"
	"testing"
	"time"

	"github.com/tomtom215/plumage/internal/models"
)

var rankNow = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

func candidate(id, author string, source models.CandidateSource, ageHours float64) models.Candidate {
	return models.Candidate{
		ContentID:   id,
		AuthorID:    author,
		Source:      source,
		PublishedAt: rankNow.Add(-time.Duration(ageHours * float64(time.Hour))),
	}
}

func TestComputeSignals_Freshness(t *testing.T) {
	c := candidate("c1", "a1", models.SourceFollow, 10)
	s := ComputeSignals(&c, rankNow, 0.10)

	want := math.Exp(-0.10 * 10)
	if math.Abs(s.Freshness-want) > 1e-12 {
		t.Errorf("freshness = %g, want %g", s.Freshness, want)
	}

	// Brand new content has freshness 1.
	fresh := candidate("c2", "a1", models.SourceFollow, 0)
	if s := ComputeSignals(&fresh, rankNow, 0.10); s.Freshness != 1.0 {
		t.Errorf("freshness for new content = %g, want 1.0", s.Freshness)
	}
}

func TestComputeSignals_FutureTimestampClamped(t *testing.T) {
	// Clock skew can put published_at slightly in the future; freshness
	// must stay in [0,1] rather than exceeding 1.
	c := candidate("c1", "a1", models.SourceFollow, -2)
	s := ComputeSignals(&c, rankNow, 0.10)
	if s.Freshness != 1.0 {
		t.Errorf("freshness = %g, want clamped 1.0", s.Freshness)
	}
}

func TestComputeSignals_Engagement(t *testing.T) {
	c := candidate("c1", "a1", models.SourceTrending, 1)
	c.Likes = 10
	c.Comments = 5  // counts double
	c.Shares = 2    // counts triple
	c.Impressions = 100

	s := ComputeSignals(&c, rankNow, 0.10)
	want := math.Log1p(float64(10+2*5+3*2) / 100.0)
	if math.Abs(s.Engagement-want) > 1e-12 {
		t.Errorf("engagement = %g, want %g", s.Engagement, want)
	}
}

func TestComputeSignals_ZeroImpressionsDoesNotDivideByZero(t *testing.T) {
	c := candidate("c1", "a1", models.SourceTrending, 1)
	c.Likes = 4
	c.Impressions = 0

	s := ComputeSignals(&c, rankNow, 0.10)
	want := math.Log1p(4.0 / 1.0)
	if math.Abs(s.Engagement-want) > 1e-12 {
		t.Errorf("engagement = %g, want %g", s.Engagement, want)
	}
}

func TestComputeSignals_Affinity(t *testing.T) {
	c := candidate("c1", "a1", models.SourceAffinity, 1)
	c.Interactions90d = 41
	s := ComputeSignals(&c, rankNow, 0.10)
	if want := math.Log1p(41); math.Abs(s.Affinity-want) > 1e-12 {
		t.Errorf("affinity = %g, want %g", s.Affinity, want)
	}
}

func TestFuse_DedupWithSourcePriority(t *testing.T) {
	follow := []models.Candidate{
		candidate("shared", "a1", models.SourceFollow, 1),
		candidate("f2", "a2", models.SourceFollow, 2),
	}
	trending := []models.Candidate{
		candidate("shared", "a1", models.SourceTrending, 1),
		candidate("t2", "a3", models.SourceTrending, 3),
	}
	affinity := []models.Candidate{
		candidate("t2", "a3", models.SourceAffinity, 3),
		candidate("a2", "a4", models.SourceAffinity, 4),
	}

	fused := Fuse(follow, trending, affinity, nil)

	if len(fused) != 4 {
		t.Fatalf("fused length = %d, want 4", len(fused))
	}

	seen := make(map[string]models.CandidateSource)
	for _, c := range fused {
		if prev, dup := seen[c.ContentID]; dup {
			t.Errorf("content %s appears twice (%s, %s)", c.ContentID, prev, c.Source)
		}
		seen[c.ContentID] = c.Source
	}

	// Follow-source context wins for the shared item.
	if seen["shared"] != models.SourceFollow {
		t.Errorf("shared item admitted from %s, want follow", seen["shared"])
	}
	// Trending wins over affinity for t2.
	if seen["t2"] != models.SourceTrending {
		t.Errorf("t2 admitted from %s, want trending", seen["t2"])
	}
}

func TestFuse_SeenSuppression(t *testing.T) {
	follow := []models.Candidate{
		candidate("c1", "a1", models.SourceFollow, 1),
		candidate("c2", "a1", models.SourceFollow, 2),
	}
	seen := func(id string) bool { return id == "c1" }

	fused := Fuse(follow, nil, nil, seen)
	if len(fused) != 1 || fused[0].ContentID != "c2" {
		t.Fatalf("fused = %v, want only c2", fused)
	}
}

func TestFuse_EmptySources(t *testing.T) {
	if fused := Fuse(nil, nil, nil, nil); len(fused) != 0 {
		t.Errorf("fused length = %d, want 0", len(fused))
	}
}

func TestRank_Deterministic(t *testing.T) {
	cands := []models.Candidate{
		candidate("c1", "a1", models.SourceFollow, 5),
		candidate("c2", "a2", models.SourceTrending, 1),
		candidate("c3", "a3", models.SourceAffinity, 20),
	}
	cands[1].Likes = 50
	cands[1].Impressions = 200
	cands[2].Interactions90d = 30

	p := DefaultParams()
	first := Rank(cands, p, rankNow)

	for i := 0; i < 10; i++ {
		again := Rank(cands, p, rankNow)
		if len(again) != len(first) {
			t.Fatalf("run %d: length %d, want %d", i, len(again), len(first))
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d: entry %d = %+v, want %+v", i, j, again[j], first[j])
			}
		}
	}
}

func TestRank_TieBreaks(t *testing.T) {
	// Identical signals everywhere: scores tie, published_at ties for two
	// of them, so content_id ascending decides.
	older := candidate("zzz", "a1", models.SourceFollow, 10)
	tieB := candidate("bbb", "a2", models.SourceFollow, 5)
	tieA := candidate("aaa", "a3", models.SourceFollow, 5)

	entries := Rank([]models.Candidate{older, tieB, tieA}, DefaultParams(), rankNow)

	got := []string{entries[0].ContentID, entries[1].ContentID, entries[2].ContentID}
	want := []string{"aaa", "bbb", "zzz"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}

	// Positions are contiguous from zero.
	for i, e := range entries {
		if e.Position != i {
			t.Errorf("entry %d position = %d", i, e.Position)
		}
	}
}

func TestRank_PureFreshnessWeights(t *testing.T) {
	// With weights (1,0,0) the ranking must equal pure freshness ordering
	// of the fused candidate set, regardless of engagement and affinity.
	cands := []models.Candidate{
		candidate("old", "a1", models.SourceFollow, 48),
		candidate("mid", "a2", models.SourceTrending, 12),
		candidate("new", "a3", models.SourceAffinity, 1),
	}
	cands[0].Likes = 100000
	cands[0].Impressions = 1
	cands[0].Interactions90d = 9999

	p := Params{FreshnessWeight: 1, EngagementWeight: 0, AffinityWeight: 0, DecayLambda: 0.10}
	entries := Rank(cands, p, rankNow)

	want := []string{"new", "mid", "old"}
	for i := range want {
		if entries[i].ContentID != want[i] {
			t.Fatalf("pure-freshness order: got %s at %d, want %v", entries[i].ContentID, i, want)
		}
	}
}

func TestRank_ScoreDescending(t *testing.T) {
	cands := []models.Candidate{
		candidate("c1", "a1", models.SourceFollow, 3),
		candidate("c2", "a2", models.SourceTrending, 7),
		candidate("c3", "a3", models.SourceAffinity, 1),
		candidate("c4", "a4", models.SourceFollow, 90),
	}
	cands[1].Likes = 10
	cands[1].Impressions = 50

	entries := Rank(cands, DefaultParams(), rankNow)
	for i := 1; i < len(entries); i++ {
		if entries[i].Score > entries[i-1].Score {
			t.Errorf("entry %d score %g exceeds previous %g", i, entries[i].Score, entries[i-1].Score)
		}
	}
}

func TestPage(t *testing.T) {
	entries := make([]models.FeedEntry, 5)
	for i := range entries {
		entries[i] = models.FeedEntry{ContentID: string(rune('a' + i)), Position: i}
	}

	page, hasMore := Page(entries, 0, 2)
	if len(page) != 2 || !hasMore {
		t.Fatalf("page len=%d hasMore=%v, want 2 true", len(page), hasMore)
	}
	if page[0].Position != 0 || page[1].Position != 1 {
		t.Errorf("positions not page-relative: %+v", page)
	}

	page, hasMore = Page(entries, 4, 2)
	if len(page) != 1 || hasMore {
		t.Fatalf("tail page len=%d hasMore=%v, want 1 false", len(page), hasMore)
	}

	page, hasMore = Page(entries, 10, 2)
	if len(page) != 0 || hasMore {
		t.Fatalf("past-end page len=%d hasMore=%v, want 0 false", len(page), hasMore)
	}
}

func TestParamStore_AtomicSwap(t *testing.T) {
	s := NewParamStore(DefaultParams())

	got := s.Load()
	if got.EngagementWeight != 0.40 {
		t.Fatalf("initial engagement weight = %g", got.EngagementWeight)
	}

	s.Store(Params{FreshnessWeight: 1, DecayLambda: 0.2})
	got = s.Load()
	if got.FreshnessWeight != 1 || got.EngagementWeight != 0 || got.DecayLambda != 0.2 {
		t.Errorf("after swap: %+v", got)
	}
}
