// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/plumage/internal/models"
)

// Apply writes one ChangeEvent into the raw tables and incrementally updates
// the rollups.
//
// Apply is idempotent under re-delivery: applying the same event twice
// produces the same state. Required because the bridge guarantees
// at-least-once delivery, not exactly-once. Idempotency is achieved by
// keying raw rows on their entity ID and guarding rollup deltas on state
// transitions (a row that already exists contributes no second delta).
//
// Events for the same entity must arrive in order (the bridge publishes each
// entity to its own subject); events for different entities may be applied
// in any order.
func (db *DB) Apply(ctx context.Context, event *models.ChangeEvent) error {
	if err := event.Validate(); err != nil {
		return fatalf("invalid event %s: %w", event.EventID, err)
	}

	switch event.EntityType {
	case models.EntityContent:
		return db.applyContent(ctx, event)
	case models.EntityFollow:
		return db.applyFollow(ctx, event)
	case models.EntityComment:
		return db.applyComment(ctx, event)
	case models.EntityReaction:
		return db.applyReaction(ctx, event)
	default:
		return fatalf("unknown entity type %q", event.EntityType)
	}
}

func (db *DB) applyContent(ctx context.Context, event *models.ChangeEvent) error {
	if event.Operation == models.OpDelete {
		// Soft delete; idempotent, and a delete for a row never seen is
		// a no-op (the raw row may have aged out of retention).
		_, err := db.conn.ExecContext(ctx,
			`UPDATE content SET deleted = TRUE, source_ts = ?
			 WHERE content_id = ? AND source_ts <= ?`,
			event.SourceTimestamp, event.EntityID, event.SourceTimestamp)
		if err != nil {
			return transientf("delete content %s: %w", event.EntityID, err)
		}
		return nil
	}

	var row models.ContentRow
	if err := json.Unmarshal(event.Payload, &row); err != nil {
		return fatalf("malformed content payload for %s: %w", event.EntityID, err)
	}
	if row.ContentID == "" || row.AuthorID == "" {
		return fatalf("content payload for %s missing required fields", event.EntityID)
	}

	visibility := row.Visibility
	if visibility == "" {
		visibility = "public"
	}

	// Snapshot, insert, and update all take the same upsert path. The
	// source_ts guard makes stale redeliveries no-ops.
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO content (content_id, author_id, published_at, visibility, deleted, source_ts, arrived_at)
		 VALUES (?, ?, ?, ?, FALSE, ?, ?)
		 ON CONFLICT (content_id) DO UPDATE SET
			author_id = excluded.author_id,
			published_at = excluded.published_at,
			visibility = excluded.visibility,
			deleted = FALSE,
			source_ts = excluded.source_ts
		 WHERE excluded.source_ts >= content.source_ts`,
		row.ContentID, row.AuthorID, row.PublishedAt.UTC(), visibility,
		event.SourceTimestamp, db.nowFunc())
	if err != nil {
		return transientf("upsert content %s: %w", event.EntityID, err)
	}
	return nil
}

func (db *DB) applyFollow(ctx context.Context, event *models.ChangeEvent) error {
	var row models.FollowRow
	if err := json.Unmarshal(event.Payload, &row); err != nil && event.Operation != models.OpDelete {
		return fatalf("malformed follow payload for %s: %w", event.EntityID, err)
	}

	if event.Operation == models.OpDelete {
		if row.FollowerID == "" || row.FolloweeID == "" {
			// Delete payloads may be empty; fall back to the entity ID,
			// encoded as follower:followee by the transactional store.
			follower, followee, ok := splitFollowID(event.EntityID)
			if !ok {
				return fatalf("follow delete %s: cannot determine edge", event.EntityID)
			}
			row.FollowerID, row.FolloweeID = follower, followee
		}
		_, err := db.conn.ExecContext(ctx,
			`UPDATE follows SET deleted = TRUE, source_ts = ?
			 WHERE follower_id = ? AND followee_id = ? AND source_ts <= ?`,
			event.SourceTimestamp, row.FollowerID, row.FolloweeID, event.SourceTimestamp)
		if err != nil {
			return transientf("delete follow %s: %w", event.EntityID, err)
		}
		return nil
	}

	if row.FollowerID == "" || row.FolloweeID == "" {
		return fatalf("follow payload for %s missing required fields", event.EntityID)
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO follows (follower_id, followee_id, created_at, deleted, source_ts, arrived_at)
		 VALUES (?, ?, ?, FALSE, ?, ?)
		 ON CONFLICT (follower_id, followee_id) DO UPDATE SET
			created_at = excluded.created_at,
			deleted = FALSE,
			source_ts = excluded.source_ts
		 WHERE excluded.source_ts >= follows.source_ts`,
		row.FollowerID, row.FolloweeID, row.CreatedAt.UTC(),
		event.SourceTimestamp, db.nowFunc())
	if err != nil {
		return transientf("upsert follow %s: %w", event.EntityID, err)
	}
	return nil
}

func (db *DB) applyComment(ctx context.Context, event *models.ChangeEvent) error {
	if event.Operation == models.OpDelete {
		// Raw row is soft-deleted. The engagement rollup stays untouched:
		// windows are monotonic until they close, never decremented.
		_, err := db.conn.ExecContext(ctx,
			`UPDATE comments SET deleted = TRUE, source_ts = ?
			 WHERE comment_id = ? AND source_ts <= ?`,
			event.SourceTimestamp, event.EntityID, event.SourceTimestamp)
		if err != nil {
			return transientf("delete comment %s: %w", event.EntityID, err)
		}
		return nil
	}

	var row models.CommentRow
	if err := json.Unmarshal(event.Payload, &row); err != nil {
		return fatalf("malformed comment payload for %s: %w", event.EntityID, err)
	}
	if row.CommentID == "" || row.ContentID == "" || row.AuthorID == "" {
		return fatalf("comment payload for %s missing required fields", event.EntityID)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return transientf("begin comment apply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Rollup deltas fire only on the first sighting of this comment;
	// re-delivery and updates skip them, keeping apply idempotent.
	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM comments WHERE comment_id = ?)`, row.CommentID).Scan(&exists)
	if err != nil {
		return transientf("check comment %s: %w", row.CommentID, err)
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE comments SET content_id = ?, author_id = ?, created_at = ?, deleted = FALSE, source_ts = ?
			 WHERE comment_id = ? AND source_ts <= ?`,
			row.ContentID, row.AuthorID, row.CreatedAt.UTC(), event.SourceTimestamp,
			row.CommentID, event.SourceTimestamp)
		if err != nil {
			return transientf("update comment %s: %w", row.CommentID, err)
		}
		return commitApply(tx)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO comments (comment_id, content_id, author_id, created_at, deleted, source_ts, arrived_at)
		 VALUES (?, ?, ?, ?, FALSE, ?, ?)`,
		row.CommentID, row.ContentID, row.AuthorID, row.CreatedAt.UTC(),
		event.SourceTimestamp, db.nowFunc())
	if err != nil {
		return transientf("insert comment %s: %w", row.CommentID, err)
	}

	if err := incrementRollup(ctx, tx, row.ContentID, row.CreatedAt, 0, 1, 0, 0); err != nil {
		return err
	}
	if err := incrementAffinity(ctx, tx, row.AuthorID, row.ContentID, row.CreatedAt); err != nil {
		return err
	}
	return commitApply(tx)
}

func (db *DB) applyReaction(ctx context.Context, event *models.ChangeEvent) error {
	if event.Operation == models.OpDelete {
		_, err := db.conn.ExecContext(ctx,
			`UPDATE reactions SET deleted = TRUE, source_ts = ?
			 WHERE reaction_id = ? AND source_ts <= ?`,
			event.SourceTimestamp, event.EntityID, event.SourceTimestamp)
		if err != nil {
			return transientf("delete reaction %s: %w", event.EntityID, err)
		}
		return nil
	}

	var row models.ReactionRow
	if err := json.Unmarshal(event.Payload, &row); err != nil {
		return fatalf("malformed reaction payload for %s: %w", event.EntityID, err)
	}
	if row.ReactionID == "" || row.ContentID == "" || row.UserID == "" {
		return fatalf("reaction payload for %s missing required fields", event.EntityID)
	}

	var likes, shares, impressions int64
	switch row.Kind {
	case models.ReactionLike:
		likes = 1
	case models.ReactionShare:
		shares = 1
	case models.ReactionImpression:
		impressions = 1
	default:
		return fatalf("reaction %s has unknown kind %q", row.ReactionID, row.Kind)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return transientf("begin reaction apply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM reactions WHERE reaction_id = ?)`, row.ReactionID).Scan(&exists)
	if err != nil {
		return transientf("check reaction %s: %w", row.ReactionID, err)
	}
	if exists {
		return commitApply(tx) // re-delivery: state already reflects this event
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reactions (reaction_id, content_id, user_id, kind, created_at, deleted, source_ts, arrived_at)
		 VALUES (?, ?, ?, ?, ?, FALSE, ?, ?)`,
		row.ReactionID, row.ContentID, row.UserID, row.Kind, row.CreatedAt.UTC(),
		event.SourceTimestamp, db.nowFunc())
	if err != nil {
		return transientf("insert reaction %s: %w", row.ReactionID, err)
	}

	if err := incrementRollup(ctx, tx, row.ContentID, row.CreatedAt, likes, 0, shares, impressions); err != nil {
		return err
	}
	// Impressions are passive exposure, not an interaction: they feed the
	// engagement denominator but never viewer-author affinity.
	if row.Kind != models.ReactionImpression {
		if err := incrementAffinity(ctx, tx, row.UserID, row.ContentID, row.CreatedAt); err != nil {
			return err
		}
	}
	return commitApply(tx)
}

// incrementRollup adds deltas to the hourly engagement window containing
// eventTime. Counts within an open window only ever grow.
func incrementRollup(ctx context.Context, tx *sql.Tx, contentID string, eventTime time.Time, likes, comments, shares, impressions int64) error {
	windowStart := eventTime.UTC().Truncate(time.Hour)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO engagement_hourly (content_id, window_start, likes, comments, shares, impressions)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (content_id, window_start) DO UPDATE SET
			likes = engagement_hourly.likes + excluded.likes,
			comments = engagement_hourly.comments + excluded.comments,
			shares = engagement_hourly.shares + excluded.shares,
			impressions = engagement_hourly.impressions + excluded.impressions`,
		contentID, windowStart, likes, comments, shares, impressions)
	if err != nil {
		return transientf("increment rollup for %s: %w", contentID, err)
	}
	return nil
}

// incrementAffinity bumps the viewer's interaction count with the author of
// contentID. If the content row has not arrived yet (cross-entity ordering
// is not guaranteed), the affinity update is skipped; it converges on later
// interactions.
func incrementAffinity(ctx context.Context, tx *sql.Tx, viewerID, contentID string, at time.Time) error {
	var authorID string
	err := tx.QueryRowContext(ctx,
		`SELECT author_id FROM content WHERE content_id = ?`, contentID).Scan(&authorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return transientf("resolve author for %s: %w", contentID, err)
	}
	if authorID == viewerID {
		return nil // self-interactions carry no affinity signal
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO author_affinity (viewer_id, author_id, interaction_count, last_interaction)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT (viewer_id, author_id) DO UPDATE SET
			interaction_count = author_affinity.interaction_count + 1,
			last_interaction = greatest(author_affinity.last_interaction, excluded.last_interaction)`,
		viewerID, authorID, at.UTC())
	if err != nil {
		return transientf("increment affinity %s->%s: %w", viewerID, authorID, err)
	}
	return nil
}

func commitApply(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return transientf("commit apply: %w", err)
	}
	return nil
}

// splitFollowID splits a follower:followee composite entity ID.
func splitFollowID(id string) (follower, followee string, ok bool) {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[:i], id[i+1:], i > 0 && i < len(id)-1
		}
	}
	return "", "", false
}
