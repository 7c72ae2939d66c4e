// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

// Package store maintains the query-optimized analytical replica of
// engagement and graph state in DuckDB.
//
// Two layers:
//
//   - Raw per-entity tables (content, follows, comments, reactions) that
//     mirror ChangeEvent row images. Append-only in spirit: rows are
//     upserted by entity key and soft-deleted, partitioned by arrival time
//     with a bounded retention.
//   - Continuously maintained rollups (engagement_hourly, author_affinity)
//     updated incrementally as events apply, so ranking queries never scan
//     raw events.
//
// The store is multi-writer (the bridge consumer) / multi-reader (candidate
// retrieval, refreshers). Consistency is eventual and per-entity-ordered;
// no cross-entity transactions are required.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/plumage/internal/config"
	"github.com/tomtom215/plumage/internal/logging"
)

// DB wraps the DuckDB connection and provides apply and retrieval methods.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// nowFunc allows tests to control the clock for window bucketing and
	// retention cutoffs.
	nowFunc func() time.Time
}

// schemaStatements creates the raw tables and rollups. Idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS content (
		content_id   VARCHAR PRIMARY KEY,
		author_id    VARCHAR NOT NULL,
		published_at TIMESTAMP NOT NULL,
		visibility   VARCHAR DEFAULT 'public',
		deleted      BOOLEAN DEFAULT FALSE,
		source_ts    TIMESTAMP NOT NULL,
		arrived_at   TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS follows (
		follower_id VARCHAR NOT NULL,
		followee_id VARCHAR NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		deleted     BOOLEAN DEFAULT FALSE,
		source_ts   TIMESTAMP NOT NULL,
		arrived_at  TIMESTAMP NOT NULL,
		PRIMARY KEY (follower_id, followee_id)
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		comment_id VARCHAR PRIMARY KEY,
		content_id VARCHAR NOT NULL,
		author_id  VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL,
		deleted    BOOLEAN DEFAULT FALSE,
		source_ts  TIMESTAMP NOT NULL,
		arrived_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reactions (
		reaction_id VARCHAR PRIMARY KEY,
		content_id  VARCHAR NOT NULL,
		user_id     VARCHAR NOT NULL,
		kind        VARCHAR NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		deleted     BOOLEAN DEFAULT FALSE,
		source_ts   TIMESTAMP NOT NULL,
		arrived_at  TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS engagement_hourly (
		content_id   VARCHAR NOT NULL,
		window_start TIMESTAMP NOT NULL,
		likes        BIGINT DEFAULT 0,
		comments     BIGINT DEFAULT 0,
		shares       BIGINT DEFAULT 0,
		impressions  BIGINT DEFAULT 0,
		PRIMARY KEY (content_id, window_start)
	)`,
	`CREATE TABLE IF NOT EXISTS author_affinity (
		viewer_id         VARCHAR NOT NULL,
		author_id         VARCHAR NOT NULL,
		interaction_count BIGINT DEFAULT 0,
		last_interaction  TIMESTAMP NOT NULL,
		PRIMARY KEY (viewer_id, author_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_content_author ON content (author_id, published_at)`,
	`CREATE INDEX IF NOT EXISTS idx_content_published ON content (published_at)`,
	`CREATE INDEX IF NOT EXISTS idx_follows_followee ON follows (followee_id)`,
	`CREATE INDEX IF NOT EXISTS idx_affinity_viewer ON author_affinity (viewer_id, interaction_count)`,
}

// New opens the DuckDB database, applies tuning options, and initializes the
// schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" && cfg.Path != "" {
		// Ensure parent directory exists for the database file.
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
			}
		}
		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
			cfg.Path, numThreads, cfg.MaxMemory)
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{
		conn:    conn,
		cfg:     cfg,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}

	if err := db.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	logging.Info().
		Str("component", "store").
		Str("path", cfg.Path).
		Int("retention_days", cfg.RetentionDays).
		Msg("Analytical store ready")

	return db, nil
}

// SetClock replaces the store's clock. Test use only.
func (db *DB) SetClock(now func() time.Time) {
	db.nowFunc = now
}

// initSchema creates tables, rollups, and indexes.
func (db *DB) initSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// Ping verifies the connection is alive. Used by readiness checks.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
