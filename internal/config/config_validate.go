// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package config

import (
	"errors"
	"fmt"
	"math"
)

// Validation errors.
var (
	ErrInvalidPort    = errors.New("server port must be between 1 and 65535")
	ErrInvalidWeights = errors.New("ranking weights must be non-negative and sum to 1.0")
	ErrInvalidDecay   = errors.New("decay lambda must be positive")
	ErrInvalidLimit   = errors.New("retrieval limits must be positive")
	ErrInvalidWindow  = errors.New("retrieval windows must be positive")
	ErrInvalidTTL     = errors.New("cache TTLs must be positive")
)

// weightSumTolerance allows for floating point drift when checking that
// ranking weights sum to 1.0.
const weightSumTolerance = 1e-6

// Validate checks the configuration for invalid or inconsistent values.
// Called once after Load; runtime weight updates are validated separately
// by the admin handler.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Server.Port)
	}
	if c.Server.DefaultPageSize < 1 || c.Server.DefaultPageSize > c.Server.MaxPageSize {
		return fmt.Errorf("server default_page_size %d must be in [1, %d]",
			c.Server.DefaultPageSize, c.Server.MaxPageSize)
	}

	if err := ValidateWeights(c.Ranking.FreshnessWeight, c.Ranking.EngagementWeight, c.Ranking.AffinityWeight); err != nil {
		return err
	}
	if c.Ranking.DecayLambda <= 0 {
		return fmt.Errorf("%w: got %g", ErrInvalidDecay, c.Ranking.DecayLambda)
	}

	if c.Retrieval.FollowLimit < 1 || c.Retrieval.TrendingLimit < 1 || c.Retrieval.AffinityLimit < 1 {
		return ErrInvalidLimit
	}
	if c.Retrieval.FollowWindow <= 0 || c.Retrieval.TrendingWindow <= 0 || c.Retrieval.AffinityWindow <= 0 {
		return ErrInvalidWindow
	}
	if c.Retrieval.SourceTimeout <= 0 {
		return errors.New("retrieval source_timeout must be positive")
	}

	if c.Cache.HotContentTTL <= 0 || c.Cache.SuggestedAccountsTTL <= 0 ||
		c.Cache.FeedTTL <= 0 || c.Cache.SeenTTL <= 0 {
		return ErrInvalidTTL
	}

	if c.Database.RetentionDays < 1 {
		return errors.New("database retention_days must be at least 1")
	}

	return nil
}

// ValidateWeights checks a ranking weight triple. Shared by config
// validation and the runtime weight-update endpoint.
func ValidateWeights(freshness, engagement, affinity float64) error {
	if freshness < 0 || engagement < 0 || affinity < 0 {
		return ErrInvalidWeights
	}
	if math.Abs(freshness+engagement+affinity-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: sum is %g", ErrInvalidWeights, freshness+engagement+affinity)
	}
	return nil
}
