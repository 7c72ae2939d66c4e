// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingService struct {
	name  string
	runs  atomic.Int64
	fail  atomic.Bool
	block chan struct{}
}

func newCountingService(name string) *countingService {
	return &countingService{name: name, block: make(chan struct{})}
}

func (s *countingService) Serve(ctx context.Context) error {
	s.runs.Add(1)
	if s.fail.Load() {
		s.fail.Store(false)
		return errors.New("induced failure")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.block:
		return nil
	}
}

func (s *countingService) String() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestTree_DefaultsApplied(t *testing.T) {
	tree, err := NewTree(testLogger(), TreeConfig{})
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	if tree.config.FailureThreshold != 5.0 {
		t.Errorf("FailureThreshold = %v, want 5", tree.config.FailureThreshold)
	}
	if tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", tree.config.ShutdownTimeout)
	}
}

func TestTree_RunsServicesInEachLayer(t *testing.T) {
	tree, err := NewTree(testLogger(), DefaultTreeConfig())
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}

	ingest := newCountingService("ingest-svc")
	refresh := newCountingService("refresh-svc")
	api := newCountingService("api-svc")
	tree.AddIngestService(ingest)
	tree.AddRefreshService(refresh)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	waitFor(t, func() bool {
		return ingest.runs.Load() >= 1 && refresh.runs.Load() >= 1 && api.runs.Load() >= 1
	}, "services never started")

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
}

func TestTree_RestartsFailedService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree, err := NewTree(testLogger(), cfg)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}

	svc := newCountingService("flaky")
	svc.fail.Store(true)
	tree.AddRefreshService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	waitFor(t, func() bool { return svc.runs.Load() >= 2 }, "failed service was not restarted")
}
