// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package bridge

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/plumage/internal/config"
	"github.com/tomtom215/plumage/internal/logging"
	"github.com/tomtom215/plumage/internal/models"
)

// maxEventLine bounds a single NDJSON line. Row images are small; anything
// larger is a malformed feed.
const maxEventLine = 1 << 20

// HTTPSource consumes an upstream CDC connector's NDJSON stream. Each line
// is one ChangeEvent. The connection is re-established after errors; the
// upstream connector replays from its own checkpoint, so reconnects at worst
// redeliver (apply is idempotent).
type HTTPSource struct {
	url           string
	reconnectWait time.Duration
	client        *http.Client
}

// NewHTTPSource creates a source reading from the configured stream URL.
func NewHTTPSource(cfg *config.NATSConfig) *HTTPSource {
	wait := cfg.SourceReconnectWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &HTTPSource{
		url:           cfg.SourceURL,
		reconnectWait: wait,
		// No overall timeout: the stream is long-lived. Dial failures
		// surface through the per-connect error path.
		client: &http.Client{},
	}
}

// Changes opens the stream and returns the event channel. The channel is
// closed when ctx is canceled; transport errors trigger reconnects, not
// channel closure.
func (s *HTTPSource) Changes(ctx context.Context) (<-chan *models.ChangeEvent, error) {
	if s.url == "" {
		return nil, fmt.Errorf("cdc source url not configured")
	}

	out := make(chan *models.ChangeEvent)
	go s.run(ctx, out)
	return out, nil
}

func (s *HTTPSource) run(ctx context.Context, out chan<- *models.ChangeEvent) {
	defer close(out)

	for {
		if err := s.consume(ctx, out); err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Warn().
				Str("component", "bridge").
				Str("url", s.url).
				Err(err).
				Dur("reconnect_wait", s.reconnectWait).
				Msg("CDC stream interrupted, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectWait):
		}
	}
}

// consume holds one streaming connection open and forwards decoded events.
func (s *HTTPSource) consume(ctx context.Context, out chan<- *models.ChangeEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	logging.Info().
		Str("component", "bridge").
		Str("url", s.url).
		Msg("CDC stream connected")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event := &models.ChangeEvent{}
		if err := json.Unmarshal(line, event); err != nil {
			// Undecodable lines cannot be quarantined as events; log
			// and keep the stream alive.
			logging.Error().
				Str("component", "bridge").
				Err(err).
				Int("line_bytes", len(line)).
				Msg("Undecodable CDC line skipped")
			continue
		}

		select {
		case out <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return fmt.Errorf("stream closed by upstream")
}
