// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package bridge

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/tomtom215/plumage/internal/config"
	"github.com/tomtom215/plumage/internal/store"
)

// NewRouter builds the Watermill router that drives store writers.
//
// Middleware, outer to inner:
//  1. Recoverer converts handler panics to errors.
//  2. Retry backs off on transient failures. Exhausted retries nack the
//     message; JetStream redelivers it, so transient failures are never
//     dropped.
//  3. Poison queue quarantines fatal failures (malformed events, unknown
//     types) immediately, without burning retries on them.
func NewRouter(cfg *config.NATSConfig, poisonPublisher message.Publisher, logger watermill.LoggerAdapter) (*message.Router, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.RouterCloseTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.RouterRetryCount,
		InitialInterval: cfg.RouterRetryInitialInterval,
		MaxInterval:     cfg.RouterRetryMaxInterval,
		Multiplier:      2.0,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	if poisonPublisher != nil && cfg.PoisonQueueTopic != "" {
		poison, err := middleware.PoisonQueueWithFilter(
			poisonPublisher, cfg.PoisonQueueTopic, store.IsFatal)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		router.AddMiddleware(poison)
	}

	return router, nil
}
