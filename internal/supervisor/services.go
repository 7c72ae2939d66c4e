// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package supervisor

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/plumage/internal/bridge"
)

// BridgeService adapts the CDC bridge to suture.Service.
type BridgeService struct {
	bridge *bridge.Bridge
}

// NewBridgeService wraps a bridge for supervision.
func NewBridgeService(b *bridge.Bridge) *BridgeService {
	return &BridgeService{bridge: b}
}

// Serve runs the bridge until the context is canceled or the change feed
// closes. A closed feed completes the service; the supervisor restarts it,
// which reattaches to the source.
func (s *BridgeService) Serve(ctx context.Context) error {
	if err := s.bridge.Run(ctx); err != nil {
		return fmt.Errorf("cdc bridge: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logs.
func (s *BridgeService) String() string {
	return "cdc-bridge"
}

// RouterService adapts a watermill router (the store-writer pipeline) to
// suture.Service.
type RouterService struct {
	router *message.Router
}

// NewRouterService wraps a router for supervision.
func NewRouterService(r *message.Router) *RouterService {
	return &RouterService{router: r}
}

// Serve runs the router until the context is canceled. Run blocks through
// handler registration and subscription, so the service is restartable.
func (s *RouterService) Serve(ctx context.Context) error {
	if err := s.router.Run(ctx); err != nil {
		return fmt.Errorf("store-writer router: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logs.
func (s *RouterService) String() string {
	return "store-writer"
}

// NATSService holds the embedded JetStream server open for the lifetime of
// the process. The server itself runs on its own goroutines; this service
// only ties its shutdown to the supervision tree.
type NATSService struct {
	server *bridge.EmbeddedServer
}

// NewNATSService wraps an already-started embedded server.
func NewNATSService(srv *bridge.EmbeddedServer) *NATSService {
	return &NATSService{server: srv}
}

// Serve blocks until the context is canceled, then shuts the server down.
func (s *NATSService) Serve(ctx context.Context) error {
	<-ctx.Done()
	if err := s.server.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("embedded nats shutdown: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logs.
func (s *NATSService) String() string {
	return "embedded-nats"
}
