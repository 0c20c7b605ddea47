package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/events-linkhealth/internal/events"
)

// EventStore keeps events keyed by dedupe key. The mutex makes the
// lookup-then-write in UpsertByDedupeKey atomic per key.
type EventStore struct {
	mu    sync.RWMutex
	byKey map[string]events.Event
}

// NewEventStore constructs an empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{byKey: make(map[string]events.Event)}
}

// FindByDedupeKey returns the event stored under key.
func (s *EventStore) FindByDedupeKey(_ context.Context, key string) (events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.byKey[key]
	if !ok {
		return events.Event{}, fmt.Errorf("event %s: %w", key, events.ErrNotFound)
	}
	return cloneEvent(ev), nil
}

// UpsertByDedupeKey inserts a pending, unpublished event or refreshes the
// mutable fields of the existing one.
func (s *EventStore) UpsertByDedupeKey(
	_ context.Context,
	id string,
	n events.NormalizedEvent,
	at time.Time,
) (events.UpsertOutcome, error) {
	if n.DedupeKey == "" {
		return events.UpsertOutcome{}, fmt.Errorf("dedupe key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[n.DedupeKey]; ok {
		existing.ApplyRefresh(events.RefreshOf(n), at)
		s.byKey[n.DedupeKey] = existing
		return events.UpsertOutcome{ID: existing.ID, Inserted: false}, nil
	}
	s.byKey[n.DedupeKey] = events.NewEvent(id, n, at)
	return events.UpsertOutcome{ID: id, Inserted: true}, nil
}

// ListDueForCheck returns events with a candidate URL that were never
// checked or were last checked before checkedBefore, oldest check first.
func (s *EventStore) ListDueForCheck(_ context.Context, checkedBefore time.Time, limit int) ([]events.Event, error) {
	s.mu.RLock()
	due := make([]events.Event, 0)
	for _, ev := range s.byKey {
		if ev.CandidateURL == "" {
			continue
		}
		if ev.LastCheckedAt != nil && !ev.LastCheckedAt.Before(checkedBefore) {
			continue
		}
		due = append(due, cloneEvent(ev))
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		a, b := lastChecked(due[i]), lastChecked(due[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		if !due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].DedupeKey < due[j].DedupeKey
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// UpdateLinkHealth overwrites only the link-health columns of an event.
func (s *EventStore) UpdateLinkHealth(_ context.Context, key string, health events.LinkHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.byKey[key]
	if !ok {
		return fmt.Errorf("event %s: %w", key, events.ErrNotFound)
	}
	ev.LinkHealth = cloneHealth(health)
	s.byKey[key] = ev
	return nil
}

// SetReview mimics the external review workflow.
func (s *EventStore) SetReview(key string, status events.ReviewStatus, publishable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.byKey[key]
	if !ok {
		return fmt.Errorf("event %s: %w", key, events.ErrNotFound)
	}
	ev.ReviewStatus = status
	ev.Publishable = publishable
	s.byKey[key] = ev
	return nil
}

// Len reports the number of stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

func lastChecked(ev events.Event) time.Time {
	if ev.LastCheckedAt == nil {
		return time.Time{}
	}
	return *ev.LastCheckedAt
}

func cloneEvent(ev events.Event) events.Event {
	ev.Tags = append([]string{}, ev.Tags...)
	ev.LinkHealth = cloneHealth(ev.LinkHealth)
	return ev
}

func cloneHealth(h events.LinkHealth) events.LinkHealth {
	h.RedirectChain = append([]string{}, h.RedirectChain...)
	if h.LastCheckedAt != nil {
		ts := *h.LastCheckedAt
		h.LastCheckedAt = &ts
	}
	return h
}
