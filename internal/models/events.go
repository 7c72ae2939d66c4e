// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package models

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventSchemaVersion is the current ChangeEvent schema version.
// Increment this when making breaking changes to ChangeEvent.
const EventSchemaVersion = 1

// Entity types carried by the change feed. These mirror the four source
// tables in the transactional system of record.
const (
	EntityContent  = "content"
	EntityFollow   = "follow"
	EntityComment  = "comment"
	EntityReaction = "reaction"
)

// Change operations. Snapshot events are emitted when the upstream feed
// restarts from a full table scan and are applied as idempotent upserts.
const (
	OpInsert   = "insert"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpSnapshot = "snapshot"
)

// ChangeEvent represents one committed mutation in the transactional store.
// This is the canonical event format republished by the bridge; ordering is
// preserved per entity by publishing each entity to its own subject.
type ChangeEvent struct {
	// Schema version for forward/backward compatibility
	SchemaVersion int `json:"schema_version,omitempty"`

	EventID       string `json:"event_id"`
	EntityType    string `json:"entity_type"` // content, follow, comment, reaction
	EntityID      string `json:"entity_id"`
	Operation     string `json:"operation"` // insert, update, delete, snapshot
	SequenceToken string `json:"sequence_token,omitempty"`

	// SourceTimestamp is the commit time in the system of record, not the
	// time the event was observed by the bridge.
	SourceTimestamp time.Time `json:"source_timestamp"`

	// Payload is the new row image. Empty for deletes.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewChangeEvent creates an event with a unique ID and schema version.
func NewChangeEvent(entityType, entityID, operation string) *ChangeEvent {
	return &ChangeEvent{
		SchemaVersion:   EventSchemaVersion,
		EventID:         uuid.New().String(),
		EntityType:      entityType,
		EntityID:        entityID,
		Operation:       operation,
		SourceTimestamp: time.Now().UTC(),
	}
}

// Validate checks required fields and returns an error if validation fails.
func (e *ChangeEvent) Validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	switch e.EntityType {
	case EntityContent, EntityFollow, EntityComment, EntityReaction:
	default:
		return &ValidationError{Field: "entity_type", Message: "unknown entity type"}
	}
	if e.EntityID == "" {
		return &ValidationError{Field: "entity_id", Message: "required"}
	}
	switch e.Operation {
	case OpInsert, OpUpdate, OpDelete, OpSnapshot:
	default:
		return &ValidationError{Field: "operation", Message: "unknown operation"}
	}
	if e.Operation != OpDelete && len(e.Payload) == 0 {
		return &ValidationError{Field: "payload", Message: "required for non-delete operations"}
	}
	return nil
}

// Topic returns the NATS subject for this event.
// Format: cdc.<entity_type>.<entity_id>
//
// Publishing each entity to its own subject preserves per-entity ordering
// across consumers while letting different entities be applied out of order.
func (e *ChangeEvent) Topic() string {
	return "cdc." + e.EntityType + "." + e.EntityID
}

// IsUpsert reports whether the event should take the upsert apply path.
// Snapshot events use the same path as inserts and updates so a feed restart
// from snapshot converges to the same state.
func (e *ChangeEvent) IsUpsert() bool {
	return e.Operation == OpInsert || e.Operation == OpUpdate || e.Operation == OpSnapshot
}

// ValidationError describes a malformed event field. Malformed events are
// fatal for the offending unit of work: they are quarantined on the poison
// topic, never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Field + ": " + e.Message
}

// ContentRow is the row image for content entities.
type ContentRow struct {
	ContentID   string     `json:"content_id"`
	AuthorID    string     `json:"author_id"`
	PublishedAt time.Time  `json:"published_at"`
	Visibility  string     `json:"visibility,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// FollowRow is the row image for follow-edge entities.
type FollowRow struct {
	FollowerID string    `json:"follower_id"`
	FolloweeID string    `json:"followee_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// CommentRow is the row image for comment entities.
type CommentRow struct {
	CommentID string    `json:"comment_id"`
	ContentID string    `json:"content_id"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionRow is the row image for reaction entities.
type ReactionRow struct {
	ReactionID string    `json:"reaction_id"`
	ContentID  string    `json:"content_id"`
	UserID     string    `json:"user_id"`
	Kind       string    `json:"kind"` // like, share, impression
	CreatedAt  time.Time `json:"created_at"`
}

// Reaction kinds recognized by the engagement rollup.
const (
	ReactionLike       = "like"
	ReactionShare      = "share"
	ReactionImpression = "impression"
)
