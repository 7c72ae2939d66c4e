// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

// Package refresh runs the background workers that keep serving artifacts
// warm: the hot-content refresher, the suggested-accounts refresher, the
// feed pre-warmer, and the retention sweeper. Each worker is a suture
// service, restarted with backoff if it crashes.
package refresh

import (
	"context"
	"time"

	"github.com/tomtom215/plumage/internal/logging"
	"github.com/tomtom215/plumage/internal/metrics"
)

// Refresher runs a named task on a fixed interval. An error in one run is
// logged and counted; the refresher waits for the next tick rather than
// crashing, so a transient store failure never cascades into a supervisor
// restart loop.
type Refresher struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error
}

// NewRefresher wraps a task as a periodic supervised service.
func NewRefresher(name string, interval time.Duration, task func(ctx context.Context) error) *Refresher {
	return &Refresher{
		name:     name,
		interval: interval,
		task:     task,
	}
}

// Serve implements suture.Service. The task runs once immediately so a fresh
// process has warm artifacts before the first tick, then on every tick until
// the context is canceled.
func (r *Refresher) Serve(ctx context.Context) error {
	r.runOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Refresher) runOnce(ctx context.Context) {
	start := time.Now()
	err := r.task(ctx)
	elapsed := time.Since(start)

	metrics.RecordRefresherRun(r.name, elapsed, err)
	if err != nil {
		if ctx.Err() != nil {
			return // shutting down, not a task failure
		}
		logging.Warn().
			Str("component", "refresh").
			Str("refresher", r.name).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("Refresh run failed, waiting for next tick")
		return
	}

	logging.Debug().
		Str("component", "refresh").
		Str("refresher", r.name).
		Dur("elapsed", elapsed).
		Msg("Refresh run complete")
}

// String implements fmt.Stringer; suture uses it in event logs.
func (r *Refresher) String() string {
	return r.name
}
