// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/plumage/internal/cache"
	"github.com/tomtom215/plumage/internal/config"
	"github.com/tomtom215/plumage/internal/feed"
	"github.com/tomtom215/plumage/internal/models"
	"github.com/tomtom215/plumage/internal/ranking"
)

type stubRetriever struct {
	candidates []models.Candidate
}

func (r *stubRetriever) FollowCandidates(context.Context, string, time.Duration, int, time.Duration) ([]models.Candidate, error) {
	return r.candidates, nil
}

func (r *stubRetriever) TrendingCandidates(context.Context, string, time.Duration, int, time.Duration) ([]models.Candidate, error) {
	return nil, nil
}

func (r *stubRetriever) AffinityCandidates(context.Context, string, time.Duration, int, time.Duration) ([]models.Candidate, error) {
	return nil, nil
}

func (r *stubRetriever) SuggestedAccounts(context.Context, string, int, time.Duration) ([]models.SuggestedAccount, error) {
	return []models.SuggestedAccount{{AuthorID: "a9", Score: 3, Followers: 12}}, nil
}

func (r *stubRetriever) ActiveViewers(context.Context, time.Time, int, time.Duration) ([]string, error) {
	return nil, nil
}

type stubSeen struct{}

func (stubSeen) Mark(string, ...string) error { return nil }
func (stubSeen) SeenSet(string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(context.Context) error { return p.err }

func apiConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			RateLimitReqs:   10000,
			RateLimitWindow: time.Minute,
		},
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
			PrewarmPageSize:        20,
			SuggestedAccountsLimit: 20,
			HotContentLimit:        100,
		},
	}
}

func testRouter(t *testing.T, pinger Pinger) (http.Handler, *ranking.ParamStore) {
	t.Helper()
	cfg := apiConfig()

	cacheStore := cache.New(cache.TTLs{
		HotContent: cfg.Cache.HotContentTTL,
		Suggested:  cfg.Cache.SuggestedAccountsTTL,
		Feed:       cfg.Cache.FeedTTL,
		Seen:       cfg.Cache.SeenTTL,
	})
	t.Cleanup(cacheStore.Close)

	retriever := &stubRetriever{
		candidates: []models.Candidate{{
			ContentID:   "c1",
			AuthorID:    "a1",
			Source:      models.SourceFollow,
			PublishedAt: time.Now().Add(-time.Hour),
			Likes:       3,
			Impressions: 50,
		}},
	}

	params := ranking.NewParamStore(ranking.DefaultParams())
	feedSvc := feed.New(retriever, cacheStore, stubSeen{}, params, cfg)
	handler := NewHandler(feedSvc, params, cacheStore, pinger, cfg)
	return handler.Routes(), params
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	return resp
}

func TestFeedEndpoint(t *testing.T) {
	router, _ := testRouter(t, &stubPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed?viewer_id=v1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "success" {
		t.Errorf("status = %s", resp.Status)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestFeedEndpoint_RequiresViewerID(t *testing.T) {
	router, _ := testRouter(t, &stubPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestFeedEndpoint_RejectsOversizedPage(t *testing.T) {
	router, _ := testRouter(t, &stubPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed?viewer_id=v1&page_size=5000", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMarkSeenEndpoint(t *testing.T) {
	router, _ := testRouter(t, &stubPinger{})

	body, _ := json.Marshal(map[string]interface{}{
		"viewer_id":   "v1",
		"content_ids": []string{"c1", "c2"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feed/seen", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestMarkSeenEndpoint_RejectsEmptyBody(t *testing.T) {
	router, _ := testRouter(t, &stubPinger{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feed/seen", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSuggestedAccountsEndpoint(t *testing.T) {
	router, _ := testRouter(t, &stubPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/suggested-accounts?viewer_id=v1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateWeightsEndpoint(t *testing.T) {
	router, params := testRouter(t, &stubPinger{})

	body, _ := json.Marshal(map[string]float64{
		"freshness_weight":  0.5,
		"engagement_weight": 0.3,
		"affinity_weight":   0.2,
		"decay_lambda":      0.2,
	})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/ranking/weights", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	got := params.Load()
	if got.FreshnessWeight != 0.5 || got.DecayLambda != 0.2 {
		t.Errorf("params = %+v, update not applied", got)
	}
}

func TestUpdateWeightsEndpoint_RejectsBadSum(t *testing.T) {
	router, params := testRouter(t, &stubPinger{})
	before := params.Load()

	body, _ := json.Marshal(map[string]float64{
		"freshness_weight":  0.9,
		"engagement_weight": 0.9,
		"affinity_weight":   0.9,
		"decay_lambda":      0.1,
	})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/ranking/weights", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if params.Load() != before {
		t.Error("rejected update must not change active params")
	}
}

func TestCacheInvalidateEndpoint(t *testing.T) {
	router, _ := testRouter(t, &stubPinger{})

	body, _ := json.Marshal(map[string]string{"scope": "feed"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/cache/invalidate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	body, _ = json.Marshal(map[string]string{"scope": "bogus"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/cache/invalidate", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown scope status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := testRouter(t, &stubPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("live status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d", rec.Code)
	}
}

func TestHealthReady_StoreDown(t *testing.T) {
	router, _ := testRouter(t, &stubPinger{err: errors.New("store offline")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := testRouter(t, &stubPinger{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rec.Code)
	}
}
