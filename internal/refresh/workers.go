// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package refresh

import (
	"context"
	"time"

	"github.com/tomtom215/plumage/internal/config"
	"github.com/tomtom215/plumage/internal/feed"
	"github.com/tomtom215/plumage/internal/logging"
	"github.com/tomtom215/plumage/internal/metrics"
)

// Sweeper is the retention surface of the analytical store. Implemented by
// *store.DB.
type Sweeper interface {
	SweepRetention(ctx context.Context) (int64, error)
	RetentionInterval() time.Duration
}

// NewHotContentRefresher keeps the global trending list warm.
func NewHotContentRefresher(svc *feed.Service, cfg config.RefreshConfig) *Refresher {
	return NewRefresher("hot-content", cfg.HotContentInterval, svc.RefreshHotContent)
}

// NewSuggestedAccountsRefresher recomputes follow recommendations for the
// most active viewers. Cold viewers get read-through computation on demand.
func NewSuggestedAccountsRefresher(svc *feed.Service, cfg config.RefreshConfig) *Refresher {
	return NewRefresher("suggested-accounts", cfg.SuggestedAccountsInterval,
		func(ctx context.Context) error {
			refreshed, err := svc.RefreshActiveSuggestions(ctx)
			if err != nil {
				return err
			}
			logging.Debug().
				Str("component", "refresh").
				Int("viewers", refreshed).
				Msg("Suggested accounts refreshed")
			return nil
		})
}

// NewFeedPrewarmer pre-computes first feed pages for active viewers.
func NewFeedPrewarmer(svc *feed.Service, cfg config.RefreshConfig) *Refresher {
	return NewRefresher("feed-prewarm", cfg.FeedPrewarmInterval,
		func(ctx context.Context) error {
			warmed, err := svc.PrewarmFeeds(ctx)
			if err != nil {
				return err
			}
			logging.Debug().
				Str("component", "refresh").
				Int("viewers", warmed).
				Msg("Feed pages pre-warmed")
			return nil
		})
}

// NewRetentionSweeper periodically removes rows past the retention horizon.
func NewRetentionSweeper(sweeper Sweeper) *Refresher {
	return NewRefresher("retention-sweep", sweeper.RetentionInterval(),
		func(ctx context.Context) error {
			start := time.Now()
			removed, err := sweeper.SweepRetention(ctx)
			if err != nil {
				return err
			}
			metrics.RecordRetentionSweep(removed, time.Since(start))
			return nil
		})
}
