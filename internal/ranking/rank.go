// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package ranking

import (
	"sort"
	"time"

	"github.com/tomtom215/plumage/internal/models"
)

// scored pairs a candidate with its combined score for sorting.
type scored struct {
	candidate models.Candidate
	score     float64
}

// Rank scores and orders fused candidates into feed entries.
//
// Ordering is strictly by descending combined score; ties break by
// published_at descending, then content_id ascending. The tie-break makes
// the ordering total and therefore testable: identical inputs always yield
// the identical sequence.
func Rank(candidates []models.Candidate, p Params, now time.Time) []models.FeedEntry {
	if len(candidates) == 0 {
		return []models.FeedEntry{}
	}

	items := make([]scored, len(candidates))
	for i := range candidates {
		signals := ComputeSignals(&candidates[i], now, p.DecayLambda)
		items[i] = scored{candidate: candidates[i], score: Score(signals, p)}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		if !items[i].candidate.PublishedAt.Equal(items[j].candidate.PublishedAt) {
			return items[i].candidate.PublishedAt.After(items[j].candidate.PublishedAt)
		}
		return items[i].candidate.ContentID < items[j].candidate.ContentID
	})

	entries := make([]models.FeedEntry, len(items))
	for i, it := range items {
		entries[i] = models.FeedEntry{
			ContentID: it.candidate.ContentID,
			Score:     it.score,
			Position:  i,
		}
	}
	return entries
}

// Page slices a ranked entry list for one response page, rewriting positions
// to be page-relative. Returns the page and whether more entries follow.
func Page(entries []models.FeedEntry, offset, pageSize int) ([]models.FeedEntry, bool) {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []models.FeedEntry{}, false
	}

	end := offset + pageSize
	hasMore := end < len(entries)
	if end > len(entries) {
		end = len(entries)
	}

	page := make([]models.FeedEntry, end-offset)
	copy(page, entries[offset:end])
	for i := range page {
		page[i].Position = i
	}
	return page, hasMore
}
