// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

// Package main is the entry point for the Plumage server.
//
// Plumage serves personalized, ranked content feeds. Row-level changes from
// an upstream CDC connector are republished through NATS JetStream into a
// DuckDB analytical store; per-request candidate retrieval fans out to three
// sources (followed authors, trending, affinity), fuses and ranks them, and
// serves pages through a multi-keyspace cache.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered config (defaults, config.yaml, PLUMAGE_* env)
//  2. Analytical store: DuckDB with raw change tables and engagement rollups
//  3. Cache: in-memory keyspace cache plus a Badger-backed seen store
//  4. Feed service: retrieval fan-out, fusion, ranking, cache populate
//  5. NATS (optional): embedded JetStream server, CDC bridge, store-writer router
//  6. Refreshers: hot content, suggested accounts, feed pre-warm, retention sweep
//  7. HTTP server: feed API plus admin and health endpoints
//
// Everything long-running is supervised by a suture tree with ingest,
// refresh, and api layers for failure isolation.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete
//   - Drains the store-writer router and closes NATS connections
//   - Closes the seen store and the analytical store
package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/tomtom215/plumage/internal/api"
	"github.com/tomtom215/plumage/internal/bridge"
	"github.com/tomtom215/plumage/internal/cache"
	"github.com/tomtom215/plumage/internal/config"
	"github.com/tomtom215/plumage/internal/feed"
	"github.com/tomtom215/plumage/internal/logging"
	"github.com/tomtom215/plumage/internal/ranking"
	"github.com/tomtom215/plumage/internal/refresh"
	"github.com/tomtom215/plumage/internal/store"
	"github.com/tomtom215/plumage/internal/supervisor"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Bool("bridge_enabled", cfg.NATS.SourceURL != "").
		Msg("Starting Plumage")

	db, err := store.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open analytical store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing analytical store")
		}
	}()

	cacheStore := cache.New(cache.TTLs{
		HotContent: cfg.Cache.HotContentTTL,
		Suggested:  cfg.Cache.SuggestedAccountsTTL,
		Feed:       cfg.Cache.FeedTTL,
		Seen:       cfg.Cache.SeenTTL,
	})
	defer cacheStore.Close()

	seenStore, err := cache.NewSeenStore(cfg.Cache.SeenStorePath, cfg.Cache.SeenTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open seen store")
	}
	defer func() {
		if err := seenStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing seen store")
		}
	}()

	params := ranking.NewParamStore(ranking.ParamsFromConfig(cfg.Ranking))
	feedSvc := feed.New(db, cacheStore, seenStore, params, cfg)
	handler := api.NewHandler(feedSvc, params, cacheStore, db, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slogger := slog.New(logging.NewSlogHandler())
	tree, err := supervisor.NewTree(slogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build supervisor tree")
	}

	if cfg.NATS.Enabled {
		if err := setupIngest(ctx, cfg, db, tree); err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize ingest pipeline")
		}
	} else {
		logging.Info().Msg("NATS disabled, serving from existing store state only")
	}

	tree.AddRefreshService(refresh.NewHotContentRefresher(feedSvc, cfg.Refresh))
	tree.AddRefreshService(refresh.NewSuggestedAccountsRefresher(feedSvc, cfg.Refresh))
	tree.AddRefreshService(refresh.NewFeedPrewarmer(feedSvc, cfg.Refresh))
	tree.AddRefreshService(refresh.NewRetentionSweeper(db))

	tree.AddAPIService(api.NewServer(handler, cfg.Server))

	logging.Info().
		Str("addr", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Supervisor tree starting")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("Supervisor tree failed")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().
				Str("service", svc.Name).
				Msg("Service did not stop within shutdown timeout")
		}
	}

	logging.Info().Msg("Plumage stopped")
}

// setupIngest wires the CDC ingest pipeline: embedded NATS (optional),
// stream provisioning, the store-writer router, and the bridge when an
// upstream source is configured.
func setupIngest(ctx context.Context, cfg *config.Config, db *store.DB, tree *supervisor.Tree) error {
	if cfg.NATS.EmbeddedServer {
		srv, err := bridge.NewEmbeddedServer(cfg.NATS.StoreDir)
		if err != nil {
			return err
		}
		// Point every NATS client in this process at the embedded server.
		cfg.NATS.URL = srv.ClientURL()
		tree.AddIngestService(supervisor.NewNATSService(srv))
		logging.Info().Str("url", cfg.NATS.URL).Msg("Embedded NATS server started")
	}

	streamInit, err := bridge.NewStreamInitializer(&cfg.NATS)
	if err != nil {
		return err
	}
	if _, err := streamInit.EnsureStream(ctx); err != nil {
		return err
	}

	wmLogger := bridge.NewWatermillLogger()

	publisher, err := bridge.NewPublisher(&cfg.NATS, wmLogger)
	if err != nil {
		return err
	}

	subscriber, err := bridge.NewSubscriber(&cfg.NATS, wmLogger)
	if err != nil {
		return err
	}

	router, err := bridge.NewRouter(&cfg.NATS, publisher.WatermillPublisher(), wmLogger)
	if err != nil {
		return err
	}
	bridge.RegisterApplyHandler(router, subscriber.WatermillSubscriber(), db)
	tree.AddIngestService(supervisor.NewRouterService(router))

	if cfg.NATS.SourceURL != "" {
		source := bridge.NewHTTPSource(&cfg.NATS)
		tree.AddIngestService(supervisor.NewBridgeService(bridge.New(source, publisher, &cfg.NATS)))
	} else {
		logging.Info().Msg("No CDC source configured, store-writer consumes existing stream only")
	}

	return nil
}
