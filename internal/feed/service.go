// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

// Package feed orchestrates feed serving: cache lookup, three-source
// candidate fan-out behind per-source circuit breakers, seen suppression
// from client-reported impressions, fusion, ranking, pagination, and
// write-behind cache population.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/plumage/internal/cache"
	"github.com/tomtom215/plumage/internal/config"
	"github.com/tomtom215/plumage/internal/logging"
	"github.com/tomtom215/plumage/internal/metrics"
	"github.com/tomtom215/plumage/internal/models"
	"github.com/tomtom215/plumage/internal/ranking"
)

// ErrAllSourcesFailed is returned when every candidate source fails or times
// out. A single degraded source only shrinks the candidate pool.
var ErrAllSourcesFailed = errors.New("all candidate sources failed")

// Retriever is the analytical-store query surface the service depends on.
// Implemented by *store.DB; narrowed for tests.
type Retriever interface {
	FollowCandidates(ctx context.Context, viewerID string, window time.Duration, limit int, timeout time.Duration) ([]models.Candidate, error)
	TrendingCandidates(ctx context.Context, viewerID string, window time.Duration, limit int, timeout time.Duration) ([]models.Candidate, error)
	AffinityCandidates(ctx context.Context, viewerID string, window time.Duration, limit int, timeout time.Duration) ([]models.Candidate, error)
	SuggestedAccounts(ctx context.Context, viewerID string, limit int, timeout time.Duration) ([]models.SuggestedAccount, error)
	ActiveViewers(ctx context.Context, since time.Time, limit int, timeout time.Duration) ([]string, error)
}

// SeenTracker records and loads per-viewer suppression markers. Implemented
// by *cache.SeenStore.
type SeenTracker interface {
	Mark(viewerID string, contentIDs ...string) error
	SeenSet(viewerID string) (map[string]struct{}, error)
}

// Service assembles feed pages.
type Service struct {
	retriever Retriever
	cache     *cache.Store
	seen      SeenTracker
	params    *ranking.ParamStore

	retrievalCfg config.RetrievalConfig
	refreshCfg   config.RefreshConfig

	breakers map[models.CandidateSource]*gobreaker.CircuitBreaker[[]models.Candidate]

	nowFunc func() time.Time
}

// New creates the feed service with one circuit breaker per candidate
// source, so a failing source trips open independently of the healthy ones.
func New(retriever Retriever, cacheStore *cache.Store, seen SeenTracker, params *ranking.ParamStore, cfg *config.Config) *Service {
	s := &Service{
		retriever:    retriever,
		cache:        cacheStore,
		seen:         seen,
		params:       params,
		retrievalCfg: cfg.Retrieval,
		refreshCfg:   cfg.Refresh,
		breakers:     make(map[models.CandidateSource]*gobreaker.CircuitBreaker[[]models.Candidate]),
		nowFunc:      time.Now,
	}

	for _, source := range []models.CandidateSource{
		models.SourceFollow, models.SourceTrending, models.SourceAffinity,
	} {
		s.breakers[source] = gobreaker.NewCircuitBreaker[[]models.Candidate](gobreaker.Settings{
			Name:        string(source),
			MaxRequests: cfg.Retrieval.BreakerMaxRequests,
			Interval:    cfg.Retrieval.BreakerInterval,
			Timeout:     cfg.Retrieval.BreakerTimeout,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().
					Str("component", "feed").
					Str("source", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Candidate source breaker state change")
				metrics.SourceBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			},
		})
	}
	return s
}

// SetClock replaces the service clock. Test use only.
func (s *Service) SetClock(now func() time.Time) {
	s.nowFunc = now
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// GetFeed returns one page of the viewer's ranked feed. Pages are served
// from cache when a fresh, version-matched artifact exists; otherwise the
// page is computed live and written back off the request path.
func (s *Service) GetFeed(ctx context.Context, viewerID, cursor string, defaultPageSize int) (*models.FeedPage, error) {
	start := s.nowFunc()

	offset, pageSize, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if pageSize == 0 {
		pageSize = defaultPageSize
	}

	key := cache.FeedKey(viewerID, offset, pageSize)
	if artifact, ok := s.cache.Get(cache.KeyspaceFeed, key); ok {
		metrics.CacheHits.WithLabelValues(string(cache.KeyspaceFeed)).Inc()
		var page models.FeedPage
		if err := json.Unmarshal(artifact.Value, &page); err == nil {
			page.ServedFrom = models.ServedFromCache
			metrics.RecordFeedRequest(models.ServedFromCache, time.Since(start))
			return &page, nil
		}
		// Undecodable artifact: fall through to live compute.
		logging.Warn().Str("component", "feed").Str("key", key).Msg("Dropping undecodable feed artifact")
	}
	metrics.CacheMisses.WithLabelValues(string(cache.KeyspaceFeed)).Inc()

	page, err := s.buildPage(ctx, viewerID, offset, pageSize)
	if err != nil {
		return nil, err
	}

	s.populateAsync(viewerID, key, page)

	metrics.RecordFeedRequest(models.ServedFromLive, time.Since(start))
	return page, nil
}

// buildPage computes a feed page live: fan out to the three sources, filter,
// fuse, rank, paginate.
func (s *Service) buildPage(ctx context.Context, viewerID string, offset, pageSize int) (*models.FeedPage, error) {
	follow, trending, affinity, failures := s.gatherCandidates(ctx, viewerID)
	if failures == len(s.breakers) {
		return nil, ErrAllSourcesFailed
	}

	seenSet := s.loadSeenSet(viewerID)
	suppressed := 0
	filter := func(contentID string) bool {
		if _, ok := seenSet[contentID]; ok {
			suppressed++
			return true
		}
		return false
	}

	fused := ranking.Fuse(follow, trending, affinity, filter)
	metrics.FeedCandidatesFused.Observe(float64(len(fused)))
	if suppressed > 0 {
		metrics.FeedSeenSuppressed.Add(float64(suppressed))
	}

	entries := ranking.Rank(fused, s.params.Load(), s.nowFunc())
	items, hasMore := ranking.Page(entries, offset, pageSize)

	page := &models.FeedPage{
		Items:      items,
		HasMore:    hasMore,
		ServedFrom: models.ServedFromLive,
	}
	if hasMore {
		page.PageCursor = EncodeCursor(offset+pageSize, pageSize)
	}
	return page, nil
}

// gatherCandidates queries the three sources concurrently. Each source is
// bounded by its own timeout and circuit breaker; a failed or slow source
// degrades to an empty list so the page can still be assembled.
func (s *Service) gatherCandidates(ctx context.Context, viewerID string) (follow, trending, affinity []models.Candidate, failures int) {
	var failed [3]bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		follow, failed[0] = s.querySource(gctx, models.SourceFollow, func(qctx context.Context) ([]models.Candidate, error) {
			return s.retriever.FollowCandidates(qctx, viewerID,
				s.retrievalCfg.FollowWindow, s.retrievalCfg.FollowLimit, s.retrievalCfg.SourceTimeout)
		})
		return nil
	})
	g.Go(func() error {
		trending, failed[1] = s.querySource(gctx, models.SourceTrending, func(qctx context.Context) ([]models.Candidate, error) {
			return s.retriever.TrendingCandidates(qctx, viewerID,
				s.retrievalCfg.TrendingWindow, s.retrievalCfg.TrendingLimit, s.retrievalCfg.SourceTimeout)
		})
		return nil
	})
	g.Go(func() error {
		affinity, failed[2] = s.querySource(gctx, models.SourceAffinity, func(qctx context.Context) ([]models.Candidate, error) {
			return s.retriever.AffinityCandidates(qctx, viewerID,
				s.retrievalCfg.AffinityWindow, s.retrievalCfg.AffinityLimit, s.retrievalCfg.SourceTimeout)
		})
		return nil
	})
	_ = g.Wait() // goroutines record failures instead of returning errors

	for _, f := range failed {
		if f {
			failures++
		}
	}
	return follow, trending, affinity, failures
}

// querySource runs one source query through its breaker. Returns the
// candidates and whether the source failed.
func (s *Service) querySource(ctx context.Context, source models.CandidateSource, query func(context.Context) ([]models.Candidate, error)) ([]models.Candidate, bool) {
	start := time.Now()
	candidates, err := s.breakers[source].Execute(func() ([]models.Candidate, error) {
		return query(ctx)
	})
	elapsed := time.Since(start)

	if err != nil {
		reason := "query"
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			reason = "breaker_open"
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		}
		metrics.RecordSourceQuery(string(source), elapsed, reason)
		logging.Warn().
			Str("component", "feed").
			Str("source", string(source)).
			Str("reason", reason).
			Err(err).
			Msg("Candidate source degraded to empty list")
		return nil, true
	}

	metrics.RecordSourceQuery(string(source), elapsed, "")
	return candidates, false
}

// loadSeenSet fetches the viewer's suppression set. A failed load yields an
// empty set: serving degrades to possible repeats, never to an error.
func (s *Service) loadSeenSet(viewerID string) map[string]struct{} {
	set, err := s.seen.SeenSet(viewerID)
	if err != nil {
		logging.Warn().
			Str("component", "feed").
			Str("viewer_id", viewerID).
			Err(err).
			Msg("Seen set unavailable, serving without suppression")
		return map[string]struct{}{}
	}
	return set
}

// populateAsync writes a computed page back to the cache off the request
// path. A population failure is invisible to the viewer.
func (s *Service) populateAsync(viewerID, key string, page *models.FeedPage) {
	cached := *page
	cached.ServedFrom = "" // origin is stamped at read time

	go func() {
		data, err := json.Marshal(&cached)
		if err != nil {
			logging.Error().
				Str("component", "feed").
				Str("viewer_id", viewerID).
				Err(err).
				Msg("Failed to serialize feed page for cache")
			return
		}
		s.cache.Set(cache.KeyspaceFeed, key, data)
	}()
}

// MarkSeen records client-reported impressions. Serving never marks items on
// its own: suppression growing between pages would combine with the offset
// cursor to skip ranked items entirely, so the seen set only advances when
// the client reports what was actually shown.
func (s *Service) MarkSeen(viewerID string, contentIDs []string) error {
	return s.seen.Mark(viewerID, contentIDs...)
}

// InvalidateCache force-expires a cache scope. Returns the number of entries
// dropped.
func (s *Service) InvalidateCache(scope string) (int, error) {
	if !cache.ValidScope(scope) {
		return 0, errors.New("unknown cache scope: " + scope)
	}
	dropped := s.cache.InvalidateScope(scope)
	if scope == cache.ScopeAll {
		metrics.CacheEpoch.Inc()
	}
	logging.Info().
		Str("component", "feed").
		Str("scope", scope).
		Int("dropped", dropped).
		Msg("Cache scope invalidated")
	return dropped, nil
}
