// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

// Package ranking implements the fusion and ranking engine: deduplication of
// the three candidate sources, signal normalization, weighted scoring, and
// deterministic ordering. The package performs no I/O; given identical
// inputs it always produces the same output, including tie-breaks.
package ranking

import (
	"sync/atomic"

	"github.com/tomtom215/plumage/internal/config"
)

// Params holds the scoring weights and freshness decay constant.
// Values are treated as immutable once published; updates swap the whole
// struct atomically so a ranking pass never observes a partial update.
type Params struct {
	FreshnessWeight  float64 `json:"freshness_weight"`
	EngagementWeight float64 `json:"engagement_weight"`
	AffinityWeight   float64 `json:"affinity_weight"`
	DecayLambda      float64 `json:"decay_lambda"`
}

// DefaultParams returns the default scoring parameters.
func DefaultParams() Params {
	return Params{
		FreshnessWeight:  0.30,
		EngagementWeight: 0.40,
		AffinityWeight:   0.30,
		DecayLambda:      0.10,
	}
}

// ParamsFromConfig builds Params from boot-time configuration.
func ParamsFromConfig(cfg config.RankingConfig) Params {
	return Params{
		FreshnessWeight:  cfg.FreshnessWeight,
		EngagementWeight: cfg.EngagementWeight,
		AffinityWeight:   cfg.AffinityWeight,
		DecayLambda:      cfg.DecayLambda,
	}
}

// ParamStore publishes ranking parameters to concurrent readers.
// The serving path reads on every request; the admin API writes rarely.
// Weight experiments update the store at runtime without redeploying.
type ParamStore struct {
	current atomic.Pointer[Params]
}

// NewParamStore creates a store seeded with the given parameters.
func NewParamStore(p Params) *ParamStore {
	s := &ParamStore{}
	s.current.Store(&p)
	return s
}

// Load returns the current parameters.
func (s *ParamStore) Load() Params {
	return *s.current.Load()
}

// Store atomically replaces the current parameters.
// Callers must validate weights first (config.ValidateWeights).
func (s *ParamStore) Store(p Params) {
	s.current.Store(&p)
}
