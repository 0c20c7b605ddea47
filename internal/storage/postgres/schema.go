package postgres

import (
	"context"
	"fmt"
)

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id          UUID PRIMARY KEY,
	source      TEXT NOT NULL DEFAULT '',
	raw         JSONB NOT NULL,
	dedupe_key  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	claimed_at  TIMESTAMPTZ
);
ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS claimed_at TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS idx_%[1]s_created_at ON %[1]s (created_at, id);
CREATE INDEX IF NOT EXISTS idx_%[1]s_dedupe_key ON %[1]s (dedupe_key);

CREATE TABLE IF NOT EXISTS %[2]s (
	id                 UUID PRIMARY KEY,
	dedupe_key         TEXT NOT NULL UNIQUE,
	title              TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	start_date         TEXT NOT NULL,
	end_date           TEXT NOT NULL DEFAULT '',
	location_city      TEXT NOT NULL DEFAULT '',
	location_state     TEXT NOT NULL DEFAULT '',
	candidate_url      TEXT NOT NULL DEFAULT '',
	tags               TEXT[] NOT NULL DEFAULT '{}',
	organizer          TEXT NOT NULL DEFAULT '',
	region             TEXT NOT NULL DEFAULT 'CA',
	source             TEXT NOT NULL DEFAULT '',
	canonical_url      TEXT NOT NULL DEFAULT '',
	url_status         INTEGER NOT NULL DEFAULT 0,
	redirect_chain     TEXT[] NOT NULL DEFAULT '{}',
	link_health_score  INTEGER NOT NULL DEFAULT 0 CHECK (link_health_score BETWEEN 0 AND 100),
	last_checked_at    TIMESTAMPTZ,
	tombstoned         BOOLEAN NOT NULL DEFAULT false,
	publishable        BOOLEAN NOT NULL DEFAULT false,
	review_status      TEXT NOT NULL DEFAULT 'pending_review'
		CHECK (review_status IN ('pending_review', 'approved', 'rejected')),
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_%[2]s_last_checked ON %[2]s (last_checked_at NULLS FIRST, created_at);
`

// Schema renders the DDL for the configured table names.
func Schema(cfg Config) (string, error) {
	staging, err := tableName(cfg.StagingTable, DefaultStagingTable)
	if err != nil {
		return "", err
	}
	events, err := tableName(cfg.EventsTable, DefaultEventsTable)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(schemaTemplate, staging, events), nil
}

// Migrate creates the staging and event tables when missing.
func Migrate(ctx context.Context, db DB, cfg Config) error {
	ddl, err := Schema(cfg)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
