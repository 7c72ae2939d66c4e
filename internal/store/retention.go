// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/plumage/internal/logging"
)

// retentionTables lists the raw tables swept by arrival time.
var retentionTables = []string{"content", "follows", "comments", "reactions"}

// SweepRetention removes raw rows that arrived before the retention horizon
// and engagement windows that closed before it. Rollups are expired by
// window, never decremented row by row. Returns total rows removed.
func (db *DB) SweepRetention(ctx context.Context) (int64, error) {
	cutoff := db.nowFunc().AddDate(0, 0, -db.cfg.RetentionDays)

	var total int64
	for _, table := range retentionTables {
		res, err := db.conn.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE arrived_at < ?`, table), cutoff)
		if err != nil {
			return total, fmt.Errorf("sweep %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}

	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM engagement_hourly WHERE window_start < ?`, cutoff)
	if err != nil {
		return total, fmt.Errorf("sweep engagement_hourly: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	// Affinity rows whose last interaction fell out of the horizon no
	// longer influence retrieval; drop them too.
	res, err = db.conn.ExecContext(ctx,
		`DELETE FROM author_affinity WHERE last_interaction < ?`, cutoff)
	if err != nil {
		return total, fmt.Errorf("sweep author_affinity: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	if total > 0 {
		logging.Info().
			Str("component", "store").
			Int64("rows", total).
			Time("cutoff", cutoff).
			Msg("Retention sweep removed expired rows")
	}
	return total, nil
}

// RetentionInterval returns how often the sweeper should run.
func (db *DB) RetentionInterval() time.Duration {
	return db.cfg.RetentionSweepInterval
}
