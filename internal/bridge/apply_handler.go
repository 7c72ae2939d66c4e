// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package bridge

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/plumage/internal/logging"
	"github.com/tomtom215/plumage/internal/metrics"
	"github.com/tomtom215/plumage/internal/models"
	"github.com/tomtom215/plumage/internal/store"
)

// Applier writes one change event into the analytical store. Implemented by
// *store.DB.
type Applier interface {
	Apply(ctx context.Context, event *models.ChangeEvent) error
}

// ApplyHandler is the store-writer side of the bridge: it consumes the
// per-entity subjects and applies each event to the analytical store.
//
// Error contract: fatal apply errors (malformed payloads, unknown kinds) are
// returned to the router, whose poison filter quarantines the message.
// Transient errors are also returned; the retry middleware backs off and,
// when retries are exhausted, the nack triggers JetStream redelivery. An
// event is acked only after a successful, idempotent apply.
type ApplyHandler struct {
	applier    Applier
	serializer *Serializer
}

// NewApplyHandler creates a handler that feeds the analytical store.
func NewApplyHandler(applier Applier) *ApplyHandler {
	return &ApplyHandler{
		applier:    applier,
		serializer: NewSerializer(),
	}
}

// Handle processes one stream message. Registered on the router as a
// consumer handler for "cdc.*.>", which matches every per-entity subject but
// not the poison topic (cdc.poison has no entity ID token).
func (h *ApplyHandler) Handle(msg *message.Message) error {
	event, err := h.serializer.Unmarshal(msg.Payload)
	if err != nil {
		// Undecodable bytes can never apply; classify as fatal so the
		// poison filter quarantines them.
		metrics.ApplyErrors.WithLabelValues("unknown", "fatal").Inc()
		return &store.ApplyError{Kind: store.ApplyFatal, Err: err}
	}

	start := time.Now()
	err = h.applier.Apply(msg.Context(), event)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		metrics.RecordApply(event.EntityType, event.Operation, elapsed, "")
		return nil
	case store.IsFatal(err):
		logging.Error().
			Str("component", "bridge").
			Str("event_id", event.EventID).
			Str("entity_type", event.EntityType).
			Err(err).
			Msg("Fatal apply error, quarantining event")
		metrics.RecordApply(event.EntityType, event.Operation, elapsed, "fatal")
		metrics.BridgeEventsPoisoned.WithLabelValues(event.EntityType, "apply_fatal").Inc()
		return err
	default:
		logging.Warn().
			Str("component", "bridge").
			Str("event_id", event.EventID).
			Err(err).
			Msg("Transient apply error, will retry")
		metrics.RecordApply(event.EntityType, event.Operation, elapsed, "transient")
		return err
	}
}

// RegisterApplyHandler wires the apply handler onto the router for all
// per-entity subjects.
func RegisterApplyHandler(router *message.Router, subscriber message.Subscriber, applier Applier) {
	handler := NewApplyHandler(applier)
	router.AddConsumerHandler(
		"store-writer",
		"cdc.*.>",
		subscriber,
		handler.Handle,
	)
}
