// Package events defines the records and repository contracts shared by the
// staging, normalization, and link-health stages of the pipeline.
package events

import (
	"encoding/json"
	"time"
)

// ReviewStatus is the moderation state of a published event.
type ReviewStatus string

// Review states. Only the external review workflow moves an event out of
// ReviewPending.
const (
	ReviewPending  ReviewStatus = "pending_review"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// DefaultRegion is assigned when a record carries no usable region.
const DefaultRegion = "CA"

// RawEvent is an untyped record produced by a scraper or generator.
type RawEvent map[string]any

// StagedEvent is one ingestion attempt waiting for batch processing.
type StagedEvent struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	Raw       json.RawMessage `json:"raw"`
	DedupeKey string          `json:"dedupe_key"`
	CreatedAt time.Time       `json:"created_at"`
}

// StageResult reports the outcome of a staging write.
type StageResult struct {
	Success   bool   `json:"success"`
	StagingID string `json:"staging_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NormalizedEvent is the canonical shape of a raw record.
type NormalizedEvent struct {
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	StartDate     string   `json:"start_date"`
	EndDate       string   `json:"end_date,omitempty"`
	LocationCity  string   `json:"location_city,omitempty"`
	LocationState string   `json:"location_state,omitempty"`
	CandidateURL  string   `json:"candidate_url,omitempty"`
	Tags          []string `json:"tags"`
	Organizer     string   `json:"organizer,omitempty"`
	Region        string   `json:"region"`
	DedupeKey     string   `json:"dedupe_key"`
	Source        string   `json:"source,omitempty"`
}

// LinkHealth holds the columns written by the link-health pass.
type LinkHealth struct {
	CanonicalURL  string     `json:"canonical_url,omitempty"`
	URLStatus     int        `json:"url_status"`
	RedirectChain []string   `json:"redirect_chain"`
	Score         int        `json:"link_health_score"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	Tombstoned    bool       `json:"tombstoned"`
}

// Event is the persisted record.
type Event struct {
	ID string `json:"id"`
	NormalizedEvent
	LinkHealth
	Publishable  bool         `json:"publishable"`
	ReviewStatus ReviewStatus `json:"review_status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Refresh carries the fields an upstream re-ingest is allowed to change.
// Review and link-health columns are deliberately absent so a refresh can
// never publish, hide, or re-score an event.
type Refresh struct {
	Title         string
	Description   string
	StartDate     string
	EndDate       string
	LocationCity  string
	LocationState string
	CandidateURL  string
	Tags          []string
	Organizer     string
	Region        string
	Source        string
}

// RefreshOf extracts the mutable subset of a normalized record.
func RefreshOf(n NormalizedEvent) Refresh {
	return Refresh{
		Title:         n.Title,
		Description:   n.Description,
		StartDate:     n.StartDate,
		EndDate:       n.EndDate,
		LocationCity:  n.LocationCity,
		LocationState: n.LocationState,
		CandidateURL:  n.CandidateURL,
		Tags:          append([]string{}, n.Tags...),
		Organizer:     n.Organizer,
		Region:        n.Region,
		Source:        n.Source,
	}
}

// ApplyRefresh merges r into e and stamps UpdatedAt. The dedupe key is
// unchanged because it identifies the row being refreshed.
func (e *Event) ApplyRefresh(r Refresh, at time.Time) {
	e.Title = r.Title
	e.Description = r.Description
	e.StartDate = r.StartDate
	e.EndDate = r.EndDate
	e.LocationCity = r.LocationCity
	e.LocationState = r.LocationState
	e.CandidateURL = r.CandidateURL
	e.Tags = append([]string{}, r.Tags...)
	e.Organizer = r.Organizer
	e.Region = r.Region
	e.Source = r.Source
	e.UpdatedAt = at
}

// NewEvent builds a fresh, unpublished event awaiting review.
func NewEvent(id string, n NormalizedEvent, at time.Time) Event {
	n.Tags = append([]string{}, n.Tags...)
	return Event{
		ID:              id,
		NormalizedEvent: n,
		LinkHealth:      LinkHealth{RedirectChain: []string{}},
		Publishable:     false,
		ReviewStatus:    ReviewPending,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

// UpsertOutcome reports whether an upsert created or refreshed a row.
type UpsertOutcome struct {
	ID       string
	Inserted bool
}

// RecordFailure describes one record that could not be processed.
type RecordFailure struct {
	StagingID string `json:"staging_id,omitempty"`
	DedupeKey string `json:"dedupe_key,omitempty"`
	Error     string `json:"error"`
}

// BatchResult summarizes one processing run.
type BatchResult struct {
	Processed int             `json:"processed"`
	Inserted  int             `json:"inserted"`
	Updated   int             `json:"updated"`
	Skipped   int             `json:"skipped"`
	Errors    int             `json:"errors"`
	Failures  []RecordFailure `json:"failures,omitempty"`
}
