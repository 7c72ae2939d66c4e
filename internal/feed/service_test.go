// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/plumage/internal/cache"
	"github.com/tomtom215/plumage/internal/config"
	"github.com/tomtom215/plumage/internal/models"
	"github.com/tomtom215/plumage/internal/ranking"
)

var feedNow = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

type fakeRetriever struct {
	mu       sync.Mutex
	follow   []models.Candidate
	trending []models.Candidate
	affinity []models.Candidate

	followErr   error
	trendingErr error
	affinityErr error

	suggestions []models.SuggestedAccount
	viewers     []string
}

func (r *fakeRetriever) FollowCandidates(context.Context, string, time.Duration, int, time.Duration) ([]models.Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.follow, r.followErr
}

func (r *fakeRetriever) TrendingCandidates(context.Context, string, time.Duration, int, time.Duration) ([]models.Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trending, r.trendingErr
}

func (r *fakeRetriever) AffinityCandidates(context.Context, string, time.Duration, int, time.Duration) ([]models.Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.affinity, r.affinityErr
}

func (r *fakeRetriever) SuggestedAccounts(context.Context, string, int, time.Duration) ([]models.SuggestedAccount, error) {
	return r.suggestions, nil
}

func (r *fakeRetriever) ActiveViewers(context.Context, time.Time, int, time.Duration) ([]string, error) {
	return r.viewers, nil
}

type fakeSeen struct {
	mu     sync.Mutex
	marked map[string][]string
	set    map[string]struct{}
	err    error
}

func newFakeSeen() *fakeSeen {
	return &fakeSeen{marked: make(map[string][]string), set: make(map[string]struct{})}
}

// Mark feeds into the set SeenSet reads, like the real SeenStore: a marked
// item suppresses subsequent reads.
func (f *fakeSeen) Mark(viewerID string, contentIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.marked[viewerID] = append(f.marked[viewerID], contentIDs...)
	for _, id := range contentIDs {
		f.set[id] = struct{}{}
	}
	return nil
}

func (f *fakeSeen) SeenSet(string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]struct{}, len(f.set))
	for k := range f.set {
		out[k] = struct{}{}
	}
	return out, nil
}

func (f *fakeSeen) markedFor(viewerID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.marked[viewerID]...)
}

func testConfig() *config.Config {
	return &config.Config{
		Retrieval: config.RetrievalConfig{
			FollowWindow:       72 * time.Hour,
			FollowLimit:        500,
			TrendingWindow:     24 * time.Hour,
			TrendingLimit:      200,
			AffinityWindow:     90 * 24 * time.Hour,
			AffinityLimit:      200,
			SourceTimeout:      500 * time.Millisecond,
			BreakerMaxRequests: 3,
			BreakerInterval:    time.Minute,
			BreakerTimeout:     30 * time.Second,
		},
		Cache: config.CacheConfig{
			HotContentTTL:        2 * time.Minute,
			SuggestedAccountsTTL: 10 * time.Minute,
			FeedTTL:              time.Minute,
			SeenTTL:              7 * 24 * time.Hour,
		},
		Refresh: config.RefreshConfig{
			PrewarmViewerCount:     10,
			PrewarmPageSize:        2,
			SuggestedAccountsLimit: 20,
			HotContentLimit:        100,
		},
	}
}

func testService(t *testing.T, retriever Retriever, seen SeenTracker) (*Service, *cache.Store) {
	t.Helper()
	cfg := testConfig()
	cacheStore := cache.New(cache.TTLs{
		HotContent: cfg.Cache.HotContentTTL,
		Suggested:  cfg.Cache.SuggestedAccountsTTL,
		Feed:       cfg.Cache.FeedTTL,
		Seen:       cfg.Cache.SeenTTL,
	})
	t.Cleanup(cacheStore.Close)

	svc := New(retriever, cacheStore, seen, ranking.NewParamStore(ranking.DefaultParams()), cfg)
	svc.SetClock(func() time.Time { return feedNow })
	return svc, cacheStore
}

func feedCandidate(id, author string, source models.CandidateSource, ageHours float64) models.Candidate {
	return models.Candidate{
		ContentID:   id,
		AuthorID:    author,
		Source:      source,
		PublishedAt: feedNow.Add(-time.Duration(ageHours * float64(time.Hour))),
		Likes:       5,
		Impressions: 100,
	}
}

func waitForCacheHit(t *testing.T, store *cache.Store, ks cache.Keyspace, key string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := store.Get(ks, key); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("cache key %s/%s never populated", ks, key)
}

func TestGetFeed_LiveThenCached(t *testing.T) {
	retriever := &fakeRetriever{
		follow:   []models.Candidate{feedCandidate("c1", "a1", models.SourceFollow, 1)},
		trending: []models.Candidate{feedCandidate("c2", "a2", models.SourceTrending, 2)},
	}
	svc, cacheStore := testService(t, retriever, newFakeSeen())

	page, err := svc.GetFeed(context.Background(), "viewer", "", 20)
	if err != nil {
		t.Fatalf("live feed: %v", err)
	}
	if page.ServedFrom != models.ServedFromLive {
		t.Errorf("first request served_from = %s, want live", page.ServedFrom)
	}
	if len(page.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(page.Items))
	}

	waitForCacheHit(t, cacheStore, cache.KeyspaceFeed, cache.FeedKey("viewer", 0, 20))

	page, err = svc.GetFeed(context.Background(), "viewer", "", 20)
	if err != nil {
		t.Fatalf("cached feed: %v", err)
	}
	if page.ServedFrom != models.ServedFromCache {
		t.Errorf("second request served_from = %s, want cache", page.ServedFrom)
	}
}

func TestGetFeed_SeenItemsSuppressed(t *testing.T) {
	retriever := &fakeRetriever{
		follow: []models.Candidate{
			feedCandidate("c1", "a1", models.SourceFollow, 1),
			feedCandidate("c2", "a1", models.SourceFollow, 2),
		},
	}
	seen := newFakeSeen()
	seen.set["c1"] = struct{}{}
	svc, _ := testService(t, retriever, seen)

	page, err := svc.GetFeed(context.Background(), "viewer", "", 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].ContentID != "c2" {
		t.Errorf("items = %+v, want only c2", page.Items)
	}
}

func TestGetFeed_ServingDoesNotMarkSeen(t *testing.T) {
	retriever := &fakeRetriever{
		follow: []models.Candidate{feedCandidate("c1", "a1", models.SourceFollow, 1)},
	}
	seen := newFakeSeen()
	svc, _ := testService(t, retriever, seen)

	if _, err := svc.GetFeed(context.Background(), "viewer", "", 20); err != nil {
		t.Fatal(err)
	}

	// Only the impression API advances the seen set; marking on serve
	// would make later offset pages skip ranked items.
	time.Sleep(100 * time.Millisecond)
	if marked := seen.markedFor("viewer"); len(marked) != 0 {
		t.Errorf("serving marked %v as seen", marked)
	}
}

func TestMarkSeen_SuppressesOnNextFeed(t *testing.T) {
	retriever := &fakeRetriever{
		follow: []models.Candidate{
			feedCandidate("c1", "a1", models.SourceFollow, 1),
			feedCandidate("c2", "a1", models.SourceFollow, 2),
		},
	}
	seen := newFakeSeen()
	svc, _ := testService(t, retriever, seen)

	if err := svc.MarkSeen("viewer", []string{"c1"}); err != nil {
		t.Fatal(err)
	}

	page, err := svc.GetFeed(context.Background(), "viewer", "", 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].ContentID != "c2" {
		t.Errorf("items = %+v, want only c2", page.Items)
	}
}

func TestGetFeed_OneSourceDownStillServes(t *testing.T) {
	retriever := &fakeRetriever{
		follow:      []models.Candidate{feedCandidate("c1", "a1", models.SourceFollow, 1)},
		trendingErr: errors.New("query timeout"),
	}
	svc, _ := testService(t, retriever, newFakeSeen())

	page, err := svc.GetFeed(context.Background(), "viewer", "", 20)
	if err != nil {
		t.Fatalf("degraded feed should still serve: %v", err)
	}
	if len(page.Items) != 1 {
		t.Errorf("items = %d, want 1", len(page.Items))
	}
}

func TestGetFeed_AllSourcesDownFails(t *testing.T) {
	retriever := &fakeRetriever{
		followErr:   errors.New("down"),
		trendingErr: errors.New("down"),
		affinityErr: errors.New("down"),
	}
	svc, _ := testService(t, retriever, newFakeSeen())

	_, err := svc.GetFeed(context.Background(), "viewer", "", 20)
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Errorf("err = %v, want ErrAllSourcesFailed", err)
	}
}

func TestGetFeed_Pagination(t *testing.T) {
	retriever := &fakeRetriever{
		follow: []models.Candidate{
			feedCandidate("c1", "a1", models.SourceFollow, 1),
			feedCandidate("c2", "a1", models.SourceFollow, 2),
			feedCandidate("c3", "a1", models.SourceFollow, 3),
		},
	}
	svc, _ := testService(t, retriever, newFakeSeen())

	page, err := svc.GetFeed(context.Background(), "viewer", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || !page.HasMore || page.PageCursor == "" {
		t.Fatalf("first page = %+v", page)
	}

	page2, err := svc.GetFeed(context.Background(), "viewer", page.PageCursor, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2.Items) != 1 || page2.HasMore {
		t.Errorf("second page = %+v", page2)
	}
	if page2.Items[0].ContentID == page.Items[0].ContentID {
		t.Error("pages overlap")
	}
}

func TestGetFeed_PaginationServesEveryRankedItem(t *testing.T) {
	retriever := &fakeRetriever{
		follow: []models.Candidate{
			feedCandidate("c1", "a1", models.SourceFollow, 1),
			feedCandidate("c2", "a1", models.SourceFollow, 2),
			feedCandidate("c3", "a1", models.SourceFollow, 3),
		},
	}
	svc, _ := testService(t, retriever, newFakeSeen())

	// Walk the whole feed one item per page. Every ranked item must be
	// served exactly once: suppression must not combine with the offset
	// cursor to skip items between pages.
	var served []string
	cursor := ""
	for i := 0; i < 5; i++ {
		page, err := svc.GetFeed(context.Background(), "viewer", cursor, 1)
		if err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
		for _, item := range page.Items {
			served = append(served, item.ContentID)
		}
		if !page.HasMore {
			break
		}
		cursor = page.PageCursor
	}

	want := []string{"c1", "c2", "c3"}
	if len(served) != len(want) {
		t.Fatalf("served = %v, want %v", served, want)
	}
	for i, id := range want {
		if served[i] != id {
			t.Errorf("served[%d] = %s, want %s", i, served[i], id)
		}
	}
}

func TestGetFeed_MalformedCursor(t *testing.T) {
	svc, _ := testService(t, &fakeRetriever{}, newFakeSeen())

	if _, err := svc.GetFeed(context.Background(), "viewer", "not-base64!!", 20); err == nil {
		t.Error("expected error for malformed cursor")
	}
}

func TestCursor_RoundTrip(t *testing.T) {
	cursor := EncodeCursor(40, 20)
	offset, pageSize, err := DecodeCursor(cursor)
	if err != nil {
		t.Fatal(err)
	}
	if offset != 40 || pageSize != 20 {
		t.Errorf("decoded = (%d, %d), want (40, 20)", offset, pageSize)
	}

	offset, pageSize, err = DecodeCursor("")
	if err != nil || offset != 0 || pageSize != 0 {
		t.Errorf("empty cursor = (%d, %d, %v), want (0, 0, nil)", offset, pageSize, err)
	}
}

func TestRefreshHotContent(t *testing.T) {
	retriever := &fakeRetriever{
		trending: []models.Candidate{
			feedCandidate("c1", "a1", models.SourceTrending, 1),
			feedCandidate("c2", "a2", models.SourceTrending, 2),
		},
	}
	svc, _ := testService(t, retriever, newFakeSeen())

	if err := svc.RefreshHotContent(context.Background()); err != nil {
		t.Fatal(err)
	}

	entries, err := svc.HotContent()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("hot content = %d entries, want 2", len(entries))
	}
	if entries[0].Score < entries[1].Score {
		t.Error("hot content not score-ordered")
	}
}

func TestSuggestedAccountsFor_ReadThrough(t *testing.T) {
	retriever := &fakeRetriever{
		suggestions: []models.SuggestedAccount{{AuthorID: "a3", Score: 2, Followers: 10}},
	}
	svc, cacheStore := testService(t, retriever, newFakeSeen())

	got, err := svc.SuggestedAccountsFor(context.Background(), "viewer")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].AuthorID != "a3" {
		t.Fatalf("suggestions = %+v", got)
	}

	if _, ok := cacheStore.Get(cache.KeyspaceSuggested, "viewer"); !ok {
		t.Error("suggestions were not cached on miss")
	}
}

func TestPrewarmFeeds(t *testing.T) {
	retriever := &fakeRetriever{
		follow:  []models.Candidate{feedCandidate("c1", "a1", models.SourceFollow, 1)},
		viewers: []string{"v1", "v2"},
	}
	seen := newFakeSeen()
	svc, cacheStore := testService(t, retriever, seen)

	warmed, err := svc.PrewarmFeeds(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if warmed != 2 {
		t.Errorf("warmed = %d, want 2", warmed)
	}

	for _, v := range []string{"v1", "v2"} {
		if _, ok := cacheStore.Get(cache.KeyspaceFeed, cache.FeedKey(v, 0, 2)); !ok {
			t.Errorf("feed for %s not pre-warmed", v)
		}
		if len(seen.markedFor(v)) != 0 {
			t.Errorf("pre-warm marked items seen for %s", v)
		}
	}
}

func TestInvalidateCache(t *testing.T) {
	svc, cacheStore := testService(t, &fakeRetriever{}, newFakeSeen())
	cacheStore.Set(cache.KeyspaceFeed, "k", []byte("v"))

	dropped, err := svc.InvalidateCache("feed")
	if err != nil || dropped != 1 {
		t.Errorf("invalidate feed = (%d, %v), want (1, nil)", dropped, err)
	}

	if _, err := svc.InvalidateCache("bogus"); err == nil {
		t.Error("expected error for unknown scope")
	}
}
