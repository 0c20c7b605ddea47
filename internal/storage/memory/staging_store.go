package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/events-linkhealth/internal/events"
)

// StagingStore is an append-only in-memory staging area.
type StagingStore struct {
	mu   sync.Mutex
	seq  int
	rows map[string]stagedRow
}

type stagedRow struct {
	seq    int
	staged events.StagedEvent
}

// NewStagingStore constructs an empty StagingStore.
func NewStagingStore() *StagingStore {
	return &StagingStore{rows: make(map[string]stagedRow)}
}

// InsertStaged appends a staged record. Duplicate payloads are allowed;
// duplicate staging IDs are not.
func (s *StagingStore) InsertStaged(_ context.Context, staged events.StagedEvent) error {
	if staged.ID == "" {
		return errors.New("staging id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[staged.ID]; exists {
		return fmt.Errorf("staged event %s already exists", staged.ID)
	}
	s.seq++
	staged.Raw = append([]byte(nil), staged.Raw...)
	s.rows[staged.ID] = stagedRow{seq: s.seq, staged: staged}
	return nil
}

// ListStaged returns up to limit records, oldest first.
func (s *StagingStore) ListStaged(_ context.Context, limit int) ([]events.StagedEvent, error) {
	s.mu.Lock()
	rows := make([]stagedRow, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, row)
	}
	s.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.staged.CreatedAt.Equal(b.staged.CreatedAt) {
			return a.staged.CreatedAt.Before(b.staged.CreatedAt)
		}
		return a.seq < b.seq
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]events.StagedEvent, len(rows))
	for i, row := range rows {
		out[i] = row.staged
		out[i].Raw = append([]byte(nil), row.staged.Raw...)
	}
	return out, nil
}

// DeleteStaged removes a processed record.
func (s *StagingStore) DeleteStaged(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return fmt.Errorf("staged event %s: %w", id, events.ErrNotFound)
	}
	delete(s.rows, id)
	return nil
}

// Len reports how many records are waiting.
func (s *StagingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
