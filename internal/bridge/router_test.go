// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tomtom215/plumage/internal/config"
	"github.com/tomtom215/plumage/internal/models"
	"github.com/tomtom215/plumage/internal/store"
)

func routerConfig() *config.NATSConfig {
	return &config.NATSConfig{
		RouterRetryCount:           2,
		RouterRetryInitialInterval: time.Millisecond,
		RouterRetryMaxInterval:     10 * time.Millisecond,
		RouterCloseTimeout:         5 * time.Second,
		PoisonQueueTopic:           "cdc.poison",
	}
}

// TestRouter_FatalErrorsGoToPoisonTopic drives the full middleware chain
// over an in-memory pubsub: a handler that fails fatally must see its
// message quarantined, not redelivered.
func TestRouter_FatalErrorsGoToPoisonTopic(t *testing.T) {
	logger := watermill.NopLogger{}
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, logger)

	router, err := NewRouter(routerConfig(), pubsub, logger)
	if err != nil {
		t.Fatalf("create router: %v", err)
	}

	applier := &fakeApplier{err: &store.ApplyError{
		Kind: store.ApplyFatal,
		Err:  context.Canceled, // arbitrary wrapped cause
	}}
	handler := NewApplyHandler(applier)
	router.AddConsumerHandler("store-writer", "cdc.content.c1", pubsub, handler.Handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	poisoned, err := pubsub.Subscribe(ctx, "cdc.poison")
	if err != nil {
		t.Fatalf("subscribe poison: %v", err)
	}

	event := testEvent(models.EntityContent, "c1")
	if err := pubsub.Publish("cdc.content.c1", eventMessage(t, event)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-poisoned:
		msg.Ack()
		if msg.UUID != event.EventID {
			t.Errorf("poisoned message UUID = %s, want %s", msg.UUID, event.EventID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message never reached the poison topic")
	}
}

// TestRouter_TransientErrorsAreRetried verifies that a handler failing
// transiently is retried until it succeeds, and the message never touches
// the poison topic.
func TestRouter_TransientErrorsAreRetried(t *testing.T) {
	logger := watermill.NopLogger{}
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, logger)

	router, err := NewRouter(routerConfig(), pubsub, logger)
	if err != nil {
		t.Fatalf("create router: %v", err)
	}

	applied := make(chan string, 1)
	attempts := 0
	router.AddConsumerHandler("store-writer", "cdc.content.c1", pubsub,
		func(msg *message.Message) error {
			attempts++
			if attempts < 2 {
				return &store.ApplyError{Kind: store.ApplyTransient, Err: context.DeadlineExceeded}
			}
			applied <- msg.UUID
			return nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	poisoned, err := pubsub.Subscribe(ctx, "cdc.poison")
	if err != nil {
		t.Fatalf("subscribe poison: %v", err)
	}

	event := testEvent(models.EntityContent, "c1")
	if err := pubsub.Publish("cdc.content.c1", eventMessage(t, event)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case uuid := <-applied:
		if uuid != event.EventID {
			t.Errorf("applied UUID = %s, want %s", uuid, event.EventID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message was never applied")
	}

	select {
	case <-poisoned:
		t.Error("transient failure must not be quarantined")
	case <-time.After(100 * time.Millisecond):
	}
}
