// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package refresh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRefresher_RunsImmediatelyAndOnTicks(t *testing.T) {
	var runs atomic.Int64
	r := NewRefresher("test", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && runs.Load() < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("serve returned %v, want context.Canceled", err)
	}
	if got := runs.Load(); got < 3 {
		t.Errorf("runs = %d, want at least 3", got)
	}
}

func TestRefresher_SurvivesTaskErrors(t *testing.T) {
	var runs atomic.Int64
	r := NewRefresher("flaky", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("store busy")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && runs.Load() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := runs.Load(); got < 2 {
		t.Errorf("runs = %d, want at least 2 (errors must not stop the loop)", got)
	}
}

func TestRefresher_String(t *testing.T) {
	r := NewRefresher("hot-content", time.Minute, func(context.Context) error { return nil })
	if r.String() != "hot-content" {
		t.Errorf("String() = %s", r.String())
	}
}

type fakeSweeper struct {
	removed atomic.Int64
}

func (f *fakeSweeper) SweepRetention(context.Context) (int64, error) {
	f.removed.Add(7)
	return 7, nil
}

func (f *fakeSweeper) RetentionInterval() time.Duration {
	return 10 * time.Millisecond
}

func TestRetentionSweeper(t *testing.T) {
	sweeper := &fakeSweeper{}
	r := NewRetentionSweeper(sweeper)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sweeper.removed.Load() < 14 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if sweeper.removed.Load() < 14 {
		t.Errorf("sweeper ran %d rows, want at least two sweeps", sweeper.removed.Load())
	}
}
