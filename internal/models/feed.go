// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package models

import "time"

// CandidateSource identifies which retrieval strategy proposed a candidate.
// Fusion uses a fixed source priority (follow > trending > affinity) when the
// same content is proposed by more than one source.
type CandidateSource string

const (
	SourceFollow   CandidateSource = "follow"
	SourceTrending CandidateSource = "trending"
	SourceAffinity CandidateSource = "affinity"
)

// Candidate is a content item proposed for a viewer's feed by one retrieval
// source. Candidates are transient: created per retrieval call, never
// persisted. Engagement counts are carried inline from the rollup join so
// the ranking engine stays a pure function with no store access.
type Candidate struct {
	ContentID   string          `json:"content_id"`
	AuthorID    string          `json:"author_id"`
	Source      CandidateSource `json:"source"`
	SourceRank  int             `json:"source_rank"`
	PublishedAt time.Time       `json:"published_at"`

	// Aggregated engagement within the rollup retention horizon.
	Likes       int64 `json:"likes"`
	Comments    int64 `json:"comments"`
	Shares      int64 `json:"shares"`
	Impressions int64 `json:"impressions"`

	// Interactions90d is the viewer's 90-day interaction count with the
	// candidate's author. Zero for authors the viewer never engaged with.
	Interactions90d int64 `json:"interactions_90d"`
}

// RankingSignals holds the normalized per-candidate inputs to scoring.
// Derived deterministically from a Candidate; recomputed on every ranking
// pass, never cached standalone.
type RankingSignals struct {
	Freshness  float64 `json:"freshness"`  // exp(-lambda * hours since publish), in [0,1]
	Engagement float64 `json:"engagement"` // ln(1 + weighted engagement rate), log-scaled
	Affinity   float64 `json:"affinity"`   // ln(1 + interactions_90d), log-scaled
}

// FeedEntry is one ranked, deduplicated item in a viewer's served feed.
type FeedEntry struct {
	ContentID string  `json:"content_id"`
	Score     float64 `json:"score"`
	Position  int     `json:"position"`
}

// Feed serving origins, surfaced in FeedPage.ServedFrom. Not cosmetic:
// tests and dashboards depend on distinguishing cache hits from live compute.
const (
	ServedFromCache = "cache"
	ServedFromLive  = "live"
)

// FeedPage is the response contract for GetFeed.
type FeedPage struct {
	Items      []FeedEntry `json:"items"`
	PageCursor string      `json:"page_cursor"`
	HasMore    bool        `json:"has_more"`
	ServedFrom string      `json:"served_from"` // cache or live
}

// SuggestedAccount is one follow recommendation for a viewer, produced by
// the suggested-accounts refresher from affinity and follower overlap.
type SuggestedAccount struct {
	AuthorID  string  `json:"author_id"`
	Score     float64 `json:"score"`
	Followers int64   `json:"followers"`
}

// AggregatedMetric is a rolled-up engagement count for one content item over
// a one-hour window. Counts are monotonically increasing while the window is
// open; closed windows are expired by the retention sweeper, never deleted
// individually.
type AggregatedMetric struct {
	ContentID   string    `json:"content_id"`
	WindowStart time.Time `json:"window_start"`
	Likes       int64     `json:"likes"`
	Comments    int64     `json:"comments"`
	Shares      int64     `json:"shares"`
	Impressions int64     `json:"impressions"`
}
