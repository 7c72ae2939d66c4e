// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package ranking

import (
	"math"
	"time"

	"github.com/tomtom215/plumage/internal/models"
)

// Engagement kind weights: comments and shares signal stronger intent than
// likes, so they count double and triple respectively.
const (
	commentWeight = 2
	shareWeight   = 3
)

// ComputeSignals derives the normalized ranking signals for one candidate.
// Deterministic: the same candidate, clock, and lambda always produce the
// same signals.
//
//   - freshness = exp(-lambda * hours_since_publish), clamped to [0,1]
//   - engagement = ln(1 + (likes + 2*comments + 3*shares) / max(impressions, 1))
//   - affinity = ln(1 + interactions_90d)
func ComputeSignals(c *models.Candidate, now time.Time, lambda float64) models.RankingSignals {
	hours := now.Sub(c.PublishedAt).Hours()
	if hours < 0 {
		// Clock skew between the store and this host; treat as brand new.
		hours = 0
	}

	impressions := c.Impressions
	if impressions < 1 {
		impressions = 1
	}
	weighted := float64(c.Likes + commentWeight*c.Comments + shareWeight*c.Shares)

	return models.RankingSignals{
		Freshness:  math.Exp(-lambda * hours),
		Engagement: math.Log1p(weighted / float64(impressions)),
		Affinity:   math.Log1p(float64(c.Interactions90d)),
	}
}

// Score combines normalized signals with the configured weights.
func Score(s models.RankingSignals, p Params) float64 {
	return p.FreshnessWeight*s.Freshness +
		p.EngagementWeight*s.Engagement +
		p.AffinityWeight*s.Affinity
}
