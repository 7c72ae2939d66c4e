// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package ranking

import (
	"github.com/tomtom215/plumage/internal/models"
)

// SeenFilter reports whether a content item was already shown to the viewer
// and must be suppressed from fusion. A nil filter suppresses nothing.
type SeenFilter func(contentID string) bool

// Fuse merges the three candidate lists into one deduplicated list.
//
// Source priority is fixed: follow, then trending, then affinity. A content
// ID already admitted from an earlier source is skipped when seen again, so
// followed-account context wins whenever the same item is proposed twice.
// Items matched by the seen filter are excluded entirely.
//
// The relative order within each source list is preserved, which keeps
// fusion deterministic for identical inputs.
func Fuse(follow, trending, affinity []models.Candidate, seen SeenFilter) []models.Candidate {
	fused := make([]models.Candidate, 0, len(follow)+len(trending)+len(affinity))
	admitted := make(map[string]struct{}, len(follow)+len(trending)+len(affinity))

	for _, list := range [][]models.Candidate{follow, trending, affinity} {
		for _, c := range list {
			if _, dup := admitted[c.ContentID]; dup {
				continue
			}
			if seen != nil && seen(c.ContentID) {
				continue
			}
			admitted[c.ContentID] = struct{}{}
			fused = append(fused, c)
		}
	}

	return fused
}
