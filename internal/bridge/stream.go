// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/plumage/internal/config"
)

// duplicateWindow is the JetStream dedup window for republished events. The
// event ID travels as Nats-Msg-Id, so bridge retries inside this window are
// absorbed by the broker.
const duplicateWindow = 2 * time.Minute

// StreamInitializer provisions the change stream before publishers and
// subscribers start. Initialization is idempotent: an existing stream is
// updated in place.
type StreamInitializer struct {
	js  jetstream.JetStream
	cfg *config.NATSConfig
}

// NewStreamInitializer connects to NATS and prepares a JetStream handle.
func NewStreamInitializer(cfg *config.NATSConfig) (*StreamInitializer, error) {
	nc, err := natsgo.Connect(cfg.URL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &StreamInitializer{js: js, cfg: cfg}, nil
}

// EnsureStream creates or updates the change stream. The stream captures all
// per-entity subjects plus the poison topic, with file storage and an age
// limit matching the configured stream retention.
func (s *StreamInitializer) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:        s.cfg.StreamName,
		Subjects:    []string{"cdc.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      time.Duration(s.cfg.StreamRetentionDays) * 24 * time.Hour,
		Duplicates:  duplicateWindow,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
	}

	_, err := s.js.Stream(ctx, s.cfg.StreamName)
	if err == nil {
		stream, err := s.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", s.cfg.StreamName, err)
		}
		return stream, nil
	}

	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err := s.js.CreateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", s.cfg.StreamName, err)
		}
		return stream, nil
	}

	return nil, fmt.Errorf("check stream %s: %w", s.cfg.StreamName, err)
}

// IsHealthy reports whether the stream exists and is reachable.
func (s *StreamInitializer) IsHealthy(ctx context.Context) bool {
	_, err := s.js.Stream(ctx, s.cfg.StreamName)
	return err == nil
}
