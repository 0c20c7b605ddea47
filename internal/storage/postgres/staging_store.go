package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/events-linkhealth/internal/events"
)

// DefaultClaimTTL is how long a listed row stays hidden from other batch
// runs before it can be claimed again.
const DefaultClaimTTL = 5 * time.Minute

// StagingStore persists raw records awaiting batch processing.
type StagingStore struct {
	db       DB
	table    string
	claimTTL time.Duration
}

// NewStagingStore wraps db. An empty table uses DefaultStagingTable.
func NewStagingStore(db DB, table string) (*StagingStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	name, err := tableName(table, DefaultStagingTable)
	if err != nil {
		return nil, err
	}
	return &StagingStore{db: db, table: name, claimTTL: DefaultClaimTTL}, nil
}

// InsertStaged appends one staged record.
func (s *StagingStore) InsertStaged(ctx context.Context, staged events.StagedEvent) error {
	if staged.ID == "" {
		return fmt.Errorf("staging id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, source, raw, dedupe_key, created_at)
VALUES ($1, $2, $3::jsonb, $4, $5)`, s.table)

	if _, err := s.db.Exec(ctx, query,
		staged.ID,
		staged.Source,
		string(staged.Raw),
		staged.DedupeKey,
		staged.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert staged event: %w", err)
	}
	return nil
}

// ListStaged claims up to limit unclaimed records, oldest first. A
// non-positive limit claims every row. Rows locked or claimed by an
// overlapping run are skipped until their claim is older than the claim TTL.
func (s *StagingStore) ListStaged(ctx context.Context, limit int) ([]events.StagedEvent, error) {
	query := fmt.Sprintf(`
WITH claimed AS (
	UPDATE %[1]s SET claimed_at = now()
	WHERE id IN (
		SELECT id FROM %[1]s
		WHERE claimed_at IS NULL OR claimed_at < now() - make_interval(secs => $2)
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, source, raw, dedupe_key, created_at
)
SELECT id::text, source, raw::text, dedupe_key, created_at
FROM claimed
ORDER BY created_at, id`, s.table)

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.Query(ctx, query, lim, s.claimTTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("list staged events: %w", err)
	}
	defer rows.Close()

	var out []events.StagedEvent
	for rows.Next() {
		var (
			staged events.StagedEvent
			raw    string
		)
		if err := rows.Scan(&staged.ID, &staged.Source, &raw, &staged.DedupeKey, &staged.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan staged event: %w", err)
		}
		staged.Raw = json.RawMessage(raw)
		out = append(out, staged)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staged events: %w", err)
	}
	return out, nil
}

// DeleteStaged removes a processed record.
func (s *StagingStore) DeleteStaged(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete staged event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("staged event %s: %w", id, events.ErrNotFound)
	}
	return nil
}
