// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/plumage/internal/models"
)

// rollupJoin aggregates hourly windows per content item for candidate
// queries. Retrieval reads rollups only; it never scans the raw event
// tables.
const rollupJoin = `
	LEFT JOIN (
		SELECT content_id,
			SUM(likes) AS likes,
			SUM(comments) AS comments,
			SUM(shares) AS shares,
			SUM(impressions) AS impressions
		FROM engagement_hourly
		GROUP BY content_id
	) m ON m.content_id = c.content_id`

// FollowCandidates returns recent content from accounts the viewer follows,
// newest first. The timeout is mandatory: retrieval queries always run under
// a deadline so a slow source degrades to an empty list upstream instead of
// stalling the request.
func (db *DB) FollowCandidates(ctx context.Context, viewerID string, window time.Duration, limit int, timeout time.Duration) ([]models.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cutoff := db.nowFunc().Add(-window)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT c.content_id, c.author_id, c.published_at,
			COALESCE(m.likes, 0), COALESCE(m.comments, 0),
			COALESCE(m.shares, 0), COALESCE(m.impressions, 0),
			COALESCE(a.interaction_count, 0)
		FROM content c
		JOIN follows f ON f.followee_id = c.author_id
			AND f.follower_id = ? AND NOT f.deleted`+rollupJoin+`
		LEFT JOIN author_affinity a ON a.viewer_id = ? AND a.author_id = c.author_id
		WHERE NOT c.deleted AND c.visibility = 'public' AND c.published_at >= ?
		ORDER BY c.published_at DESC, c.content_id
		LIMIT ?`,
		viewerID, viewerID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("follow candidates for %s: %w", viewerID, err)
	}
	return scanCandidates(rows, models.SourceFollow)
}

// TrendingCandidates returns globally high-engagement content within the
// trending window, ordered by engagement velocity: weighted engagement per
// hour since publish.
func (db *DB) TrendingCandidates(ctx context.Context, viewerID string, window time.Duration, limit int, timeout time.Duration) ([]models.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	now := db.nowFunc()
	cutoff := now.Add(-window)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT c.content_id, c.author_id, c.published_at,
			COALESCE(m.likes, 0), COALESCE(m.comments, 0),
			COALESCE(m.shares, 0), COALESCE(m.impressions, 0),
			COALESCE(a.interaction_count, 0)
		FROM content c`+rollupJoin+`
		LEFT JOIN author_affinity a ON a.viewer_id = ? AND a.author_id = c.author_id
		WHERE NOT c.deleted AND c.visibility = 'public' AND c.published_at >= ?
		ORDER BY
			(COALESCE(m.likes, 0) + 2 * COALESCE(m.comments, 0) + 3 * COALESCE(m.shares, 0))
				/ greatest(date_diff('minute', c.published_at, CAST(? AS TIMESTAMP)) / 60.0, 1.0) DESC,
			c.published_at DESC, c.content_id
		LIMIT ?`,
		viewerID, cutoff, now, limit)
	if err != nil {
		return nil, fmt.Errorf("trending candidates: %w", err)
	}
	return scanCandidates(rows, models.SourceTrending)
}

// AffinityCandidates returns content from the authors the viewer has
// interacted with most over the interaction-history horizon, ordered by
// historical affinity, then recency.
func (db *DB) AffinityCandidates(ctx context.Context, viewerID string, window time.Duration, limit int, timeout time.Duration) ([]models.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	historyCutoff := db.nowFunc().Add(-window)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT c.content_id, c.author_id, c.published_at,
			COALESCE(m.likes, 0), COALESCE(m.comments, 0),
			COALESCE(m.shares, 0), COALESCE(m.impressions, 0),
			a.interaction_count
		FROM author_affinity a
		JOIN content c ON c.author_id = a.author_id
			AND NOT c.deleted AND c.visibility = 'public'`+rollupJoin+`
		WHERE a.viewer_id = ? AND a.last_interaction >= ?
		ORDER BY a.interaction_count DESC, c.published_at DESC, c.content_id
		LIMIT ?`,
		viewerID, historyCutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("affinity candidates for %s: %w", viewerID, err)
	}
	return scanCandidates(rows, models.SourceAffinity)
}

// scanCandidates materializes query rows into candidates tagged with their
// source and per-source rank.
func scanCandidates(rows *sql.Rows, source models.CandidateSource) ([]models.Candidate, error) {
	defer func() { _ = rows.Close() }()

	var out []models.Candidate
	rank := 0
	for rows.Next() {
		var c models.Candidate
		if err := rows.Scan(&c.ContentID, &c.AuthorID, &c.PublishedAt,
			&c.Likes, &c.Comments, &c.Shares, &c.Impressions, &c.Interactions90d); err != nil {
			return nil, fmt.Errorf("scan %s candidate: %w", source, err)
		}
		c.Source = source
		c.SourceRank = rank
		c.PublishedAt = c.PublishedAt.UTC()
		rank++
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s candidates: %w", source, err)
	}
	return out, nil
}

// MetricsFor returns the hourly engagement windows recorded for one content
// item, oldest first. Used by tests and the hot-content refresher.
func (db *DB) MetricsFor(ctx context.Context, contentID string) ([]models.AggregatedMetric, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT content_id, window_start, likes, comments, shares, impressions
		FROM engagement_hourly
		WHERE content_id = ?
		ORDER BY window_start`,
		contentID)
	if err != nil {
		return nil, fmt.Errorf("metrics for %s: %w", contentID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.AggregatedMetric
	for rows.Next() {
		var m models.AggregatedMetric
		if err := rows.Scan(&m.ContentID, &m.WindowStart, &m.Likes, &m.Comments, &m.Shares, &m.Impressions); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.WindowStart = m.WindowStart.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// InteractionCount returns the viewer's rolled-up interaction count with one
// author. Zero when no affinity row exists.
func (db *DB) InteractionCount(ctx context.Context, viewerID, authorID string) (int64, error) {
	var count int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT interaction_count FROM author_affinity
		WHERE viewer_id = ? AND author_id = ?`,
		viewerID, authorID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("interaction count %s->%s: %w", viewerID, authorID, err)
	}
	return count, nil
}

// ActiveViewers returns the viewers with the most interactions since the
// cutoff, bounding the feed pre-warm set. Cold viewers are computed on
// demand instead.
func (db *DB) ActiveViewers(ctx context.Context, since time.Time, limit int, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT viewer_id
		FROM author_affinity
		WHERE last_interaction >= ?
		GROUP BY viewer_id
		ORDER BY SUM(interaction_count) DESC, viewer_id
		LIMIT ?`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("active viewers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan viewer: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SuggestedAccounts recommends authors the viewer does not follow yet,
// ranked by follower overlap with the viewer's existing follows (accounts
// followed by the accounts the viewer follows), then by affinity.
func (db *DB) SuggestedAccounts(ctx context.Context, viewerID string, limit int, timeout time.Duration) ([]models.SuggestedAccount, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		WITH viewer_follows AS (
			SELECT followee_id FROM follows
			WHERE follower_id = ? AND NOT deleted
		)
		SELECT f2.followee_id,
			COUNT(*) AS overlap,
			(SELECT COUNT(*) FROM follows ff
			 WHERE ff.followee_id = f2.followee_id AND NOT ff.deleted) AS followers
		FROM follows f2
		JOIN viewer_follows vf ON f2.follower_id = vf.followee_id
		WHERE NOT f2.deleted
			AND f2.followee_id <> ?
			AND f2.followee_id NOT IN (SELECT followee_id FROM viewer_follows)
		GROUP BY f2.followee_id
		ORDER BY overlap DESC, followers DESC, f2.followee_id
		LIMIT ?`,
		viewerID, viewerID, limit)
	if err != nil {
		return nil, fmt.Errorf("suggested accounts for %s: %w", viewerID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.SuggestedAccount
	for rows.Next() {
		var s models.SuggestedAccount
		var overlap int64
		if err := rows.Scan(&s.AuthorID, &overlap, &s.Followers); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		s.Score = float64(overlap)
		out = append(out, s)
	}
	return out, rows.Err()
}
