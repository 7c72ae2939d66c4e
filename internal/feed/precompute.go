// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package feed

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/plumage/internal/cache"
	"github.com/tomtom215/plumage/internal/models"
	"github.com/tomtom215/plumage/internal/ranking"
)

// hotContentKey is the single key under which the global trending list is
// cached. Hot content is viewer-independent.
const hotContentKey = "global"

// RefreshHotContent recomputes the global trending list and caches it.
// Called by the hot-content refresher; the request path only reads the
// cached copy.
func (s *Service) RefreshHotContent(ctx context.Context) error {
	candidates, err := s.retriever.TrendingCandidates(ctx, "",
		s.retrievalCfg.TrendingWindow, s.refreshCfg.HotContentLimit, s.retrievalCfg.SourceTimeout)
	if err != nil {
		return fmt.Errorf("compute hot content: %w", err)
	}

	entries := ranking.Rank(candidates, s.params.Load(), s.nowFunc())
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("serialize hot content: %w", err)
	}

	s.cache.Set(cache.KeyspaceHotContent, hotContentKey, data)
	return nil
}

// HotContent returns the cached global trending list. Empty when the
// refresher has not run yet; callers treat that as "nothing trending", not
// an error.
func (s *Service) HotContent() ([]models.FeedEntry, error) {
	artifact, ok := s.cache.Get(cache.KeyspaceHotContent, hotContentKey)
	if !ok {
		return nil, nil
	}

	var entries []models.FeedEntry
	if err := json.Unmarshal(artifact.Value, &entries); err != nil {
		return nil, fmt.Errorf("decode hot content: %w", err)
	}
	return entries, nil
}

// RefreshSuggestedAccounts recomputes follow recommendations for one viewer
// and caches them.
func (s *Service) RefreshSuggestedAccounts(ctx context.Context, viewerID string) error {
	suggestions, err := s.retriever.SuggestedAccounts(ctx, viewerID,
		s.refreshCfg.SuggestedAccountsLimit, s.retrievalCfg.SourceTimeout)
	if err != nil {
		return fmt.Errorf("compute suggestions for %s: %w", viewerID, err)
	}

	data, err := json.Marshal(suggestions)
	if err != nil {
		return fmt.Errorf("serialize suggestions: %w", err)
	}

	s.cache.Set(cache.KeyspaceSuggested, viewerID, data)
	return nil
}

// SuggestedAccountsFor returns follow recommendations for a viewer,
// read-through: cached copy when fresh, computed live on a miss.
func (s *Service) SuggestedAccountsFor(ctx context.Context, viewerID string) ([]models.SuggestedAccount, error) {
	if artifact, ok := s.cache.Get(cache.KeyspaceSuggested, viewerID); ok {
		var suggestions []models.SuggestedAccount
		if err := json.Unmarshal(artifact.Value, &suggestions); err == nil {
			return suggestions, nil
		}
	}

	suggestions, err := s.retriever.SuggestedAccounts(ctx, viewerID,
		s.refreshCfg.SuggestedAccountsLimit, s.retrievalCfg.SourceTimeout)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(suggestions); err == nil {
		s.cache.Set(cache.KeyspaceSuggested, viewerID, data)
	}
	return suggestions, nil
}

// RefreshActiveSuggestions recomputes follow recommendations for the most
// active viewers. Returns the number of viewers refreshed.
func (s *Service) RefreshActiveSuggestions(ctx context.Context) (int, error) {
	since := s.nowFunc().Add(-s.retrievalCfg.AffinityWindow)
	viewers, err := s.retriever.ActiveViewers(ctx, since,
		s.refreshCfg.PrewarmViewerCount, s.retrievalCfg.SourceTimeout)
	if err != nil {
		return 0, fmt.Errorf("load active viewers: %w", err)
	}

	refreshed := 0
	for _, viewerID := range viewers {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if err := s.RefreshSuggestedAccounts(ctx, viewerID); err != nil {
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// PrewarmFeeds recomputes the first feed page for the most active viewers so
// their next request is a cache hit. Returns the number of viewers warmed.
func (s *Service) PrewarmFeeds(ctx context.Context) (int, error) {
	since := s.nowFunc().Add(-s.retrievalCfg.TrendingWindow)
	viewers, err := s.retriever.ActiveViewers(ctx, since,
		s.refreshCfg.PrewarmViewerCount, s.retrievalCfg.SourceTimeout)
	if err != nil {
		return 0, fmt.Errorf("load active viewers: %w", err)
	}

	pageSize := s.refreshCfg.PrewarmPageSize
	warmed := 0
	for _, viewerID := range viewers {
		if ctx.Err() != nil {
			return warmed, ctx.Err()
		}

		page, err := s.buildPage(ctx, viewerID, 0, pageSize)
		if err != nil {
			// One viewer failing must not abort the sweep.
			continue
		}
		// Pre-warm must not mark items seen: the viewer has not looked at
		// this page yet.
		page.ServedFrom = ""
		data, err := json.Marshal(page)
		if err != nil {
			continue
		}
		s.cache.Set(cache.KeyspaceFeed, cache.FeedKey(viewerID, 0, pageSize), data)
		warmed++
	}
	return warmed, nil
}
