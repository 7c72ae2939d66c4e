// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tomtom215/plumage/internal/cache"
	"github.com/tomtom215/plumage/internal/config"
	"github.com/tomtom215/plumage/internal/feed"
	"github.com/tomtom215/plumage/internal/models"
	"github.com/tomtom215/plumage/internal/ranking"
)

// Pinger reports analytical store health. Implemented by *store.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the serving dependencies for all HTTP endpoints.
type Handler struct {
	feed     *feed.Service
	params   *ranking.ParamStore
	cache    *cache.Store
	store    Pinger
	cfg      *config.Config
	validate *validator.Validate
}

// NewHandler creates the API handler.
func NewHandler(feedSvc *feed.Service, params *ranking.ParamStore, cacheStore *cache.Store, store Pinger, cfg *config.Config) *Handler {
	return &Handler{
		feed:     feedSvc,
		params:   params,
		cache:    cacheStore,
		store:    store,
		cfg:      cfg,
		validate: validator.New(),
	}
}

// Feed serves one page of a viewer's ranked feed.
//
// Method: GET
// Path: /api/v1/feed?viewer_id=...&cursor=...&page_size=...
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	viewerID := r.URL.Query().Get("viewer_id")
	if viewerID == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "viewer_id is required", nil)
		return
	}

	pageSize := getIntParam(r, "page_size", h.cfg.Server.DefaultPageSize)
	if pageSize <= 0 || pageSize > h.cfg.Server.MaxPageSize {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "page_size out of range", nil)
		return
	}

	page, err := h.feed.GetFeed(r.Context(), viewerID, r.URL.Query().Get("cursor"), pageSize)
	if err != nil {
		if errors.Is(err, feed.ErrAllSourcesFailed) {
			respondError(w, http.StatusServiceUnavailable, "SERVICE_ERROR", "Feed temporarily unavailable", err)
			return
		}
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   page,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
			Cached:      page.ServedFrom == models.ServedFromCache,
		},
	})
}

// markSeenRequest is the body for POST /api/v1/feed/seen.
type markSeenRequest struct {
	ViewerID   string   `json:"viewer_id" validate:"required"`
	ContentIDs []string `json:"content_ids" validate:"required,min=1,max=500,dive,required"`
}

// MarkSeen records client-reported impressions so served-and-scrolled items
// are suppressed from future pages.
//
// Method: POST
// Path: /api/v1/feed/seen
func (h *Handler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	var req markSeenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body", err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	if err := h.feed.MarkSeen(req.ViewerID, req.ContentIDs); err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to record seen markers", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]int{
			"marked": len(req.ContentIDs),
		},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// SuggestedAccounts returns follow recommendations for a viewer.
//
// Method: GET
// Path: /api/v1/suggested-accounts?viewer_id=...
func (h *Handler) SuggestedAccounts(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	viewerID := r.URL.Query().Get("viewer_id")
	if viewerID == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "viewer_id is required", nil)
		return
	}

	suggestions, err := h.feed.SuggestedAccountsFor(r.Context(), viewerID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to compute suggestions", err)
		return
	}
	if suggestions == nil {
		suggestions = []models.SuggestedAccount{}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   suggestions,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// HotContent returns the cached global trending list.
//
// Method: GET
// Path: /api/v1/hot-content
func (h *Handler) HotContent(w http.ResponseWriter, r *http.Request) {
	entries, err := h.feed.HotContent()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "CACHE_ERROR", "Failed to load hot content", err)
		return
	}
	if entries == nil {
		entries = []models.FeedEntry{}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     entries,
		Metadata: models.Metadata{Timestamp: time.Now(), Cached: true},
	})
}

// invalidateRequest is the body for POST /api/v1/admin/cache/invalidate.
type invalidateRequest struct {
	Scope string `json:"scope" validate:"required"`
}

// CacheInvalidate force-expires a cache scope ("all" bumps the version
// epoch). Incident response endpoint.
//
// Method: POST
// Path: /api/v1/admin/cache/invalidate
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body", err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	dropped, err := h.feed.InvalidateCache(req.Scope)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"scope":   req.Scope,
			"dropped": dropped,
		},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// weightsRequest is the body for PUT /api/v1/admin/ranking/weights.
type weightsRequest struct {
	FreshnessWeight  float64 `json:"freshness_weight" validate:"gte=0,lte=1"`
	EngagementWeight float64 `json:"engagement_weight" validate:"gte=0,lte=1"`
	AffinityWeight   float64 `json:"affinity_weight" validate:"gte=0,lte=1"`
	DecayLambda      float64 `json:"decay_lambda" validate:"gt=0,lte=10"`
}

// UpdateWeights swaps the ranking parameters at runtime. Weights must sum to
// 1; the swap is atomic, so an in-flight ranking pass never sees a partial
// update.
//
// Method: PUT
// Path: /api/v1/admin/ranking/weights
func (h *Handler) UpdateWeights(w http.ResponseWriter, r *http.Request) {
	var req weightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body", err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if err := config.ValidateWeights(req.FreshnessWeight, req.EngagementWeight, req.AffinityWeight); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	params := ranking.Params{
		FreshnessWeight:  req.FreshnessWeight,
		EngagementWeight: req.EngagementWeight,
		AffinityWeight:   req.AffinityWeight,
		DecayLambda:      req.DecayLambda,
	}
	h.params.Store(params)

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     params,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// RankingWeights returns the active ranking parameters.
//
// Method: GET
// Path: /api/v1/admin/ranking/weights
func (h *Handler) RankingWeights(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     h.params.Load(),
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// CacheStats returns hit/miss/eviction counts per key space.
//
// Method: GET
// Path: /api/v1/cache/stats
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]cache.Stats{}
	for _, ks := range []cache.Keyspace{
		cache.KeyspaceHotContent, cache.KeyspaceSuggested, cache.KeyspaceFeed, cache.KeyspaceSeen,
	} {
		stats[string(ks)] = h.cache.GetStats(ks)
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     stats,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// HealthLive reports process liveness. Always 200 while the process can
// serve HTTP.
//
// Method: GET
// Path: /api/v1/health/live
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]string{"state": "alive"},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// HealthReady reports readiness: the analytical store must answer a ping.
//
// Method: GET
// Path: /api/v1/health/ready
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_ERROR", "Analytical store unavailable", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]string{"state": "ready"},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}
