package events

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// StagingRepo is the append-only holding area for raw records.
type StagingRepo interface {
	InsertStaged(ctx context.Context, staged StagedEvent) error
	ListStaged(ctx context.Context, limit int) ([]StagedEvent, error)
	DeleteStaged(ctx context.Context, id string) error
}

// EventRepo persists canonical events. UpsertByDedupeKey must be atomic per
// key: concurrent callers with the same key produce exactly one row.
type EventRepo interface {
	FindByDedupeKey(ctx context.Context, key string) (Event, error)
	UpsertByDedupeKey(ctx context.Context, id string, event NormalizedEvent, at time.Time) (UpsertOutcome, error)
	ListDueForCheck(ctx context.Context, checkedBefore time.Time, limit int) ([]Event, error)
	UpdateLinkHealth(ctx context.Context, key string, health LinkHealth) error
}

// SnapshotStore writes fetched page bodies and returns a URI.
type SnapshotStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes pipeline notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row IDs.
type IDGenerator interface {
	NewID() (string, error)
}
