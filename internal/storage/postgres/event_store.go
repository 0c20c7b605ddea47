package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/events-linkhealth/internal/events"
)

const eventColumns = `id::text, dedupe_key, title, description, start_date, end_date,
	location_city, location_state, candidate_url, tags, organizer, region, source,
	canonical_url, url_status, redirect_chain, link_health_score, last_checked_at,
	tombstoned, publishable, review_status, created_at, updated_at`

// EventStore persists canonical events, unique on dedupe_key.
type EventStore struct {
	db    DB
	table string
}

// NewEventStore wraps db. An empty table uses DefaultEventsTable.
func NewEventStore(db DB, table string) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	name, err := tableName(table, DefaultEventsTable)
	if err != nil {
		return nil, err
	}
	return &EventStore{db: db, table: name}, nil
}

// Ping checks connectivity.
func (s *EventStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// FindByDedupeKey loads one event.
func (s *EventStore) FindByDedupeKey(ctx context.Context, key string) (events.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE dedupe_key = $1`, eventColumns, s.table)
	ev, err := scanEvent(s.db.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return events.Event{}, fmt.Errorf("event %s: %w", key, events.ErrNotFound)
	}
	if err != nil {
		return events.Event{}, fmt.Errorf("find event: %w", err)
	}
	return ev, nil
}

// UpsertByDedupeKey inserts a pending, unpublished event or refreshes the
// mutable columns of the existing row in one statement. The unique
// constraint on dedupe_key makes concurrent upserts of one key collapse to a
// single row. Review and link-health columns never appear in the UPDATE.
func (s *EventStore) UpsertByDedupeKey(
	ctx context.Context,
	id string,
	n events.NormalizedEvent,
	at time.Time,
) (events.UpsertOutcome, error) {
	if n.DedupeKey == "" {
		return events.UpsertOutcome{}, fmt.Errorf("dedupe key is required")
	}
	query := upsertSQL(s.table)

	r := events.RefreshOf(n)
	var out events.UpsertOutcome
	err := s.db.QueryRow(ctx, query,
		id,
		n.DedupeKey,
		r.Title,
		r.Description,
		r.StartDate,
		r.EndDate,
		r.LocationCity,
		r.LocationState,
		r.CandidateURL,
		r.Tags,
		r.Organizer,
		r.Region,
		r.Source,
		string(events.ReviewPending),
		at,
	).Scan(&out.ID, &out.Inserted)
	if err != nil {
		return events.UpsertOutcome{}, fmt.Errorf("upsert event: %w", err)
	}
	return out, nil
}

// ListDueForCheck returns events with a candidate URL never checked or last
// checked before checkedBefore, oldest check first.
func (s *EventStore) ListDueForCheck(ctx context.Context, checkedBefore time.Time, limit int) ([]events.Event, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE candidate_url <> '' AND (last_checked_at IS NULL OR last_checked_at < $1)
ORDER BY last_checked_at ASC NULLS FIRST, created_at ASC
LIMIT $2`, eventColumns, s.table)

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.Query(ctx, query, checkedBefore, lim)
	if err != nil {
		return nil, fmt.Errorf("list events due for check: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// UpdateLinkHealth writes only the link-health columns.
func (s *EventStore) UpdateLinkHealth(ctx context.Context, key string, h events.LinkHealth) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	canonical_url = $2,
	url_status = $3,
	redirect_chain = $4,
	link_health_score = $5,
	last_checked_at = $6,
	tombstoned = $7
WHERE dedupe_key = $1`, s.table)

	chain := h.RedirectChain
	if chain == nil {
		chain = []string{}
	}
	tag, err := s.db.Exec(ctx, query, key, h.CanonicalURL, h.URLStatus, chain, h.Score, h.LastCheckedAt, h.Tombstoned)
	if err != nil {
		return fmt.Errorf("update link health: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", key, events.ErrNotFound)
	}
	return nil
}

func upsertSQL(table string) string {
	return fmt.Sprintf(`
INSERT INTO %s (
	id, dedupe_key, title, description, start_date, end_date,
	location_city, location_state, candidate_url, tags, organizer, region, source,
	publishable, review_status, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, false, $14, $15, $15
)
ON CONFLICT (dedupe_key) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	start_date = EXCLUDED.start_date,
	end_date = EXCLUDED.end_date,
	location_city = EXCLUDED.location_city,
	location_state = EXCLUDED.location_state,
	candidate_url = EXCLUDED.candidate_url,
	tags = EXCLUDED.tags,
	organizer = EXCLUDED.organizer,
	region = EXCLUDED.region,
	source = EXCLUDED.source,
	updated_at = EXCLUDED.updated_at
RETURNING id::text, (xmax = 0) AS inserted`, table)
}

func scanEvent(row pgx.Row) (events.Event, error) {
	var (
		ev     events.Event
		review string
	)
	err := row.Scan(
		&ev.ID,
		&ev.DedupeKey,
		&ev.Title,
		&ev.Description,
		&ev.StartDate,
		&ev.EndDate,
		&ev.LocationCity,
		&ev.LocationState,
		&ev.CandidateURL,
		&ev.Tags,
		&ev.Organizer,
		&ev.Region,
		&ev.Source,
		&ev.CanonicalURL,
		&ev.URLStatus,
		&ev.RedirectChain,
		&ev.Score,
		&ev.LastCheckedAt,
		&ev.Tombstoned,
		&ev.Publishable,
		&review,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	)
	if err != nil {
		return events.Event{}, err
	}
	ev.ReviewStatus = events.ReviewStatus(review)
	if ev.Tags == nil {
		ev.Tags = []string{}
	}
	if ev.RedirectChain == nil {
		ev.RedirectChain = []string{}
	}
	return ev, nil
}
