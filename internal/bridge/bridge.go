// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

// Package bridge propagates committed changes from the transactional system
// of record into the analytical store.
//
// The bridge consumes an ordered change feed, validates each event, and
// republishes it onto NATS JetStream at cdc.<entity_type>.<entity_id>.
// Per-entity subjects preserve per-entity ordering end to end; different
// entities flow independently. Malformed events are quarantined on the
// poison topic and never block the feed. Transient publish failures are
// retried with backoff and never dropped.
package bridge

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/plumage/internal/config"
	"github.com/tomtom215/plumage/internal/logging"
	"github.com/tomtom215/plumage/internal/metrics"
	"github.com/tomtom215/plumage/internal/models"
)

// Source is the external change feed boundary. Implementations stream
// committed mutations from the system of record in commit order per entity.
type Source interface {
	// Changes returns a channel of change events. The channel closes when
	// the feed ends or ctx is canceled.
	Changes(ctx context.Context) (<-chan *models.ChangeEvent, error)
}

// EventPublisher is the subset of Publisher the bridge needs. Narrowed for
// tests.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *models.ChangeEvent) error
	Publish(ctx context.Context, topic string, msg *message.Message) error
}

// publishBackoff caps the retry wait for transient publish failures.
const (
	publishBackoffInitial = 100 * time.Millisecond
	publishBackoffMax     = 30 * time.Second
)

// Bridge republishes change events from a Source onto the stream.
type Bridge struct {
	source      Source
	publisher   EventPublisher
	poisonTopic string

	// snapshotLimiter paces snapshot replay so a full-table rescan cannot
	// starve live traffic. Nil means unlimited.
	snapshotLimiter *rate.Limiter
}

// New creates a bridge from the source to the stream.
func New(source Source, publisher EventPublisher, cfg *config.NATSConfig) *Bridge {
	b := &Bridge{
		source:      source,
		publisher:   publisher,
		poisonTopic: cfg.PoisonQueueTopic,
	}
	if cfg.SnapshotPublishRate > 0 {
		b.snapshotLimiter = rate.NewLimiter(
			rate.Limit(cfg.SnapshotPublishRate), cfg.SnapshotPublishRate)
	}
	return b
}

// Run consumes the change feed until the context is canceled or the feed
// closes. Events are published in feed order; a failed publish blocks the
// feed (retrying with backoff) rather than skipping ahead, because skipping
// would break per-entity ordering.
func (b *Bridge) Run(ctx context.Context) error {
	changes, err := b.source.Changes(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-changes:
			if !ok {
				logging.Info().Str("component", "bridge").Msg("Change feed closed")
				return nil
			}
			if err := b.forward(ctx, event); err != nil {
				return err
			}
		}
	}
}

// forward validates and publishes one event. Only context cancellation is
// returned as an error; everything else is handled in place.
func (b *Bridge) forward(ctx context.Context, event *models.ChangeEvent) error {
	if err := event.Validate(); err != nil {
		logging.Warn().
			Str("component", "bridge").
			Str("event_id", event.EventID).
			Str("entity_type", event.EntityType).
			Err(err).
			Msg("Quarantining malformed event")
		return b.quarantine(ctx, event, "validation")
	}

	if event.Operation == models.OpSnapshot && b.snapshotLimiter != nil {
		if err := b.snapshotLimiter.Wait(ctx); err != nil {
			return err
		}
	}

	backoff := publishBackoffInitial
	for {
		err := b.publisher.PublishEvent(ctx, event)
		if err == nil {
			return nil
		}
		logging.Warn().
			Str("component", "bridge").
			Str("event_id", event.EventID).
			Dur("backoff", backoff).
			Err(err).
			Msg("Publish failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > publishBackoffMax {
			backoff = publishBackoffMax
		}
	}
}

// quarantine publishes an unusable event to the poison topic. The raw bytes
// are preserved so the event can be inspected and replayed after a fix.
func (b *Bridge) quarantine(ctx context.Context, event *models.ChangeEvent, reason string) error {
	// Marshal without validation; the event is known-bad.
	data, err := json.Marshal(event)
	if err != nil {
		data = []byte(event.EventID)
	}

	msg := message.NewMessage(event.EventID, data)
	msg.Metadata.Set("reason", reason)
	msg.Metadata.Set("entity_type", event.EntityType)

	if err := b.publisher.Publish(ctx, b.poisonTopic, msg); err != nil {
		return err
	}
	metrics.BridgeEventsPoisoned.WithLabelValues(event.EntityType, reason).Inc()
	return nil
}
