// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

// Package api exposes the feed serving surface over HTTP using chi.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes assembles the full HTTP handler tree.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route.
	r.Use(RequestID())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Metrics())

		r.Group(func(r chi.Router) {
			r.Use(RateLimit(h.cfg.Server.RateLimitReqs, h.cfg.Server.RateLimitWindow))

			r.Get("/feed", h.Feed)
			r.Post("/feed/seen", h.MarkSeen)
			r.Get("/suggested-accounts", h.SuggestedAccounts)
			r.Get("/hot-content", h.HotContent)
			r.Get("/cache/stats", h.CacheStats)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/cache/invalidate", h.CacheInvalidate)
				r.Get("/ranking/weights", h.RankingWeights)
				r.Put("/ranking/weights", h.UpdateWeights)
			})
		})

		// Health endpoints skip rate limiting so aggressive probes never
		// flap readiness.
		r.Route("/health", func(r chi.Router) {
			r.Get("/live", h.HealthLive)
			r.Get("/ready", h.HealthReady)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
