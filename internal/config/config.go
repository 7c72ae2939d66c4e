// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

// Package config provides koanf-based configuration for Plumage.
//
// Configuration is layered, later layers overriding earlier ones:
//  1. Struct defaults (defaultConfig)
//  2. YAML config file (config.yaml, or CONFIG_PATH)
//  3. Environment variables (PLUMAGE_ prefix, e.g. PLUMAGE_SERVER_PORT)
package config

import "time"

// Config is the root configuration for the feed engine.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	NATS      NATSConfig      `koanf:"nats"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Ranking   RankingConfig   `koanf:"ranking"`
	Cache     CacheConfig     `koanf:"cache"`
	Refresh   RefreshConfig   `koanf:"refresh"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	DefaultPageSize int           `koanf:"default_page_size"`
	MaxPageSize     int           `koanf:"max_page_size"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig holds DuckDB analytical store settings.
type DatabaseConfig struct {
	// Path is the DuckDB database file. ":memory:" opens an in-memory
	// store (used by tests).
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()

	// RetentionDays bounds the raw event tables. Rows older than this are
	// removed by the retention sweeper, never individually deleted.
	RetentionDays int `koanf:"retention_days"`

	// RetentionSweepInterval is how often the sweeper runs.
	RetentionSweepInterval time.Duration `koanf:"retention_sweep_interval"`
}

// NATSConfig holds NATS JetStream settings for the change propagation bridge.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`

	StreamName          string        `koanf:"stream_name"`
	StreamRetentionDays int           `koanf:"stream_retention_days"`
	DurableName         string        `koanf:"durable_name"`
	QueueGroup          string        `koanf:"queue_group"`
	SubscribersCount    int           `koanf:"subscribers_count"`
	AckWaitTimeout      time.Duration `koanf:"ack_wait_timeout"`
	MaxDeliver          int           `koanf:"max_deliver"`
	MaxAckPending       int           `koanf:"max_ack_pending"`
	MaxReconnects       int           `koanf:"max_reconnects"`
	ReconnectWait       time.Duration `koanf:"reconnect_wait"`

	// Router middleware settings (Watermill Router)
	RouterRetryCount           int           `koanf:"router_retry_count"`
	RouterRetryInitialInterval time.Duration `koanf:"router_retry_initial_interval"`
	RouterRetryMaxInterval     time.Duration `koanf:"router_retry_max_interval"`
	RouterCloseTimeout         time.Duration `koanf:"router_close_timeout"`
	PoisonQueueTopic           string        `koanf:"poison_queue_topic"`

	// SnapshotPublishRate paces republish during upstream snapshot replay
	// (events per second, 0 = unlimited).
	SnapshotPublishRate int `koanf:"snapshot_publish_rate"`

	// SourceURL is the upstream CDC connector's NDJSON stream endpoint.
	// Empty disables the bridge; the store then only serves what it has.
	SourceURL           string        `koanf:"source_url"`
	SourceReconnectWait time.Duration `koanf:"source_reconnect_wait"`
}

// RetrievalConfig holds candidate retrieval windows, caps, and SLOs.
// These are tuning defaults, not hard invariants.
type RetrievalConfig struct {
	FollowWindow time.Duration `koanf:"follow_window"` // recency window for followed authors
	FollowLimit  int           `koanf:"follow_limit"`

	TrendingWindow time.Duration `koanf:"trending_window"`
	TrendingLimit  int           `koanf:"trending_limit"`

	AffinityWindow time.Duration `koanf:"affinity_window"` // interaction history horizon
	AffinityLimit  int           `koanf:"affinity_limit"`

	// SourceTimeout is the per-source query SLO. A source that exceeds it
	// contributes an empty candidate list, never an error.
	SourceTimeout time.Duration `koanf:"source_timeout"`

	// Breaker settings for the per-source circuit breakers.
	BreakerMaxRequests uint32        `koanf:"breaker_max_requests"`
	BreakerInterval    time.Duration `koanf:"breaker_interval"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`
}

// RankingConfig holds scoring weights and the freshness decay constant.
// Weights are also adjustable at runtime through the admin API; these are
// the boot-time defaults.
type RankingConfig struct {
	FreshnessWeight  float64 `koanf:"freshness_weight"`
	EngagementWeight float64 `koanf:"engagement_weight"`
	AffinityWeight   float64 `koanf:"affinity_weight"`
	DecayLambda      float64 `koanf:"decay_lambda"` // per-hour freshness decay
}

// CacheConfig holds per-keyspace TTLs.
type CacheConfig struct {
	HotContentTTL        time.Duration `koanf:"hot_content_ttl"`
	SuggestedAccountsTTL time.Duration `koanf:"suggested_accounts_ttl"`
	FeedTTL              time.Duration `koanf:"feed_ttl"`
	SeenTTL              time.Duration `koanf:"seen_ttl"`

	// SeenStorePath is the Badger directory for seen markers. Empty uses
	// an in-memory Badger instance (tests, ephemeral deploys).
	SeenStorePath string `koanf:"seen_store_path"`
}

// RefreshConfig holds background refresher intervals.
type RefreshConfig struct {
	HotContentInterval        time.Duration `koanf:"hot_content_interval"`
	SuggestedAccountsInterval time.Duration `koanf:"suggested_accounts_interval"`
	FeedPrewarmInterval       time.Duration `koanf:"feed_prewarm_interval"`

	// PrewarmViewerCount bounds the most-active viewer set whose feed
	// pages are pre-computed. Cold viewers are computed on demand.
	PrewarmViewerCount int `koanf:"prewarm_viewer_count"`

	// PrewarmPageSize is the page size pre-warmed for active viewers.
	PrewarmPageSize int `koanf:"prewarm_page_size"`

	// SuggestedAccountsLimit is how many recommendations are computed per
	// viewer.
	SuggestedAccountsLimit int `koanf:"suggested_accounts_limit"`

	// HotContentLimit is how many trending items the hot-content
	// refresher caches.
	HotContentLimit int `koanf:"hot_content_limit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8680,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			DefaultPageSize: 20,
			MaxPageSize:     100,
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Path:                   "/data/plumage.duckdb",
			MaxMemory:              "2GB",
			Threads:                0, // 0 = use runtime.NumCPU()
			RetentionDays:          90,
			RetentionSweepInterval: time.Hour,
		},
		NATS: NATSConfig{
			Enabled:             true,
			URL:                 "nats://127.0.0.1:4222",
			EmbeddedServer:      true,
			StoreDir:            "/data/nats/jetstream",
			StreamName:          "CDC",
			StreamRetentionDays: 7,
			DurableName:         "store-writer",
			QueueGroup:          "appliers",
			SubscribersCount:    4,
			AckWaitTimeout:      30 * time.Second,
			MaxDeliver:          5,
			MaxAckPending:       1024,
			MaxReconnects:       -1, // retry forever; the bridge never drops events
			ReconnectWait:       2 * time.Second,

			RouterRetryCount:           5,
			RouterRetryInitialInterval: 100 * time.Millisecond,
			RouterRetryMaxInterval:     time.Minute,
			RouterCloseTimeout:         30 * time.Second,
			PoisonQueueTopic:           "cdc.poison",
			SnapshotPublishRate:        0, // unlimited
			SourceURL:                  "",
			SourceReconnectWait:        5 * time.Second,
		},
		Retrieval: RetrievalConfig{
			FollowWindow:   72 * time.Hour,
			FollowLimit:    500,
			TrendingWindow: 24 * time.Hour,
			TrendingLimit:  200,
			AffinityWindow: 90 * 24 * time.Hour,
			AffinityLimit:  200,
			SourceTimeout:  500 * time.Millisecond,

			BreakerMaxRequests: 3,
			BreakerInterval:    time.Minute,
			BreakerTimeout:     30 * time.Second,
		},
		Ranking: RankingConfig{
			FreshnessWeight:  0.30,
			EngagementWeight: 0.40,
			AffinityWeight:   0.30,
			DecayLambda:      0.10,
		},
		Cache: CacheConfig{
			HotContentTTL:        120 * time.Second,
			SuggestedAccountsTTL: 600 * time.Second,
			FeedTTL:              60 * time.Second,
			SeenTTL:              7 * 24 * time.Hour,
			SeenStorePath:        "/data/plumage-seen",
		},
		Refresh: RefreshConfig{
			HotContentInterval:        60 * time.Second,
			SuggestedAccountsInterval: 300 * time.Second,
			FeedPrewarmInterval:       120 * time.Second,
			PrewarmViewerCount:        500,
			PrewarmPageSize:           20,
			SuggestedAccountsLimit:    20,
			HotContentLimit:           100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
