// Package normalize maps untrusted raw event records onto the canonical
// NormalizedEvent shape and derives their dedupe keys.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/events-linkhealth/internal/clock/system"
	"github.com/JakeFAU/events-linkhealth/internal/events"
	"github.com/JakeFAU/events-linkhealth/internal/hash/sha256"
	"github.com/JakeFAU/events-linkhealth/internal/linkhealth"
)

// Length limits applied to free text, in runes.
const (
	MaxTitleRunes       = 400
	MaxDescriptionRunes = 4000
)

// StaleAfter is how far in the past a start may lie before the record is dropped.
const StaleAfter = 24 * time.Hour

// ErrRejected marks records that are skipped rather than failed.
var ErrRejected = errors.New("event rejected")

// Rejection reasons. Each wraps ErrRejected.
var (
	ErrStaleEvent   = fmt.Errorf("%w: start is more than a day in the past", ErrRejected)
	ErrMissingTitle = fmt.Errorf("%w: no title", ErrRejected)
	ErrMissingStart = fmt.Errorf("%w: no start date", ErrRejected)
	ErrInvalidStart = fmt.Errorf("%w: unparseable start date", ErrRejected)
)

var startLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Normalizer is a pure transform apart from its clock read.
type Normalizer struct {
	clock events.Clock
}

// New returns a Normalizer reading time from clock, or the wall clock when nil.
func New(clock events.Clock) *Normalizer {
	if clock == nil {
		clock = system.New()
	}
	return &Normalizer{clock: clock}
}

// Normalize resolves raw into a NormalizedEvent. Records that should be
// skipped return an error wrapping ErrRejected.
func (n *Normalizer) Normalize(raw events.RawEvent, source string) (events.NormalizedEvent, error) {
	title := truncate(Resolve(raw, FieldTitle), MaxTitleRunes)
	if title == "" {
		return events.NormalizedEvent{}, ErrMissingTitle
	}
	start := Resolve(raw, FieldStart)
	if start == "" {
		return events.NormalizedEvent{}, ErrMissingStart
	}
	startsAt, err := ParseStart(start)
	if err != nil {
		return events.NormalizedEvent{}, fmt.Errorf("%w: %q", ErrInvalidStart, start)
	}
	if startsAt.Before(n.clock.Now().Add(-StaleAfter)) {
		return events.NormalizedEvent{}, ErrStaleEvent
	}

	organizer := Resolve(raw, FieldOrganizer)
	state := Resolve(raw, FieldLocationState)
	candidate := Resolve(raw, FieldCandidateURL)
	if candidate != "" {
		candidate = linkhealth.HealURL(candidate)
	}

	return events.NormalizedEvent{
		Title:         title,
		Description:   truncate(Resolve(raw, FieldDescription), MaxDescriptionRunes),
		StartDate:     start,
		EndDate:       Resolve(raw, FieldEnd),
		LocationCity:  Resolve(raw, FieldLocationCity),
		LocationState: state,
		CandidateURL:  candidate,
		Tags:          ResolveTags(raw),
		Organizer:     organizer,
		Region:        region(Resolve(raw, FieldRegion), state),
		DedupeKey:     DedupeKey(title, start, organizer),
		Source:        strings.TrimSpace(source),
	}, nil
}

// NormalizeJSON decodes a staged payload and normalizes it. Payloads that are
// not JSON objects fail with a decode error rather than a rejection.
func (n *Normalizer) NormalizeJSON(data []byte, source string) (events.NormalizedEvent, error) {
	raw, err := DecodeRaw(data)
	if err != nil {
		return events.NormalizedEvent{}, err
	}
	return n.Normalize(raw, source)
}

// DecodeRaw parses a JSON object into a RawEvent.
func DecodeRaw(data []byte) (events.RawEvent, error) {
	var raw events.RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode raw event: %w", err)
	}
	if raw == nil {
		return nil, errors.New("decode raw event: payload is not an object")
	}
	return raw, nil
}

// DedupeKey hashes the lowercased title, the start as given, and the
// lowercased organizer.
func DedupeKey(title, start, organizer string) string {
	return sha256.Key(strings.ToLower(title), start, strings.ToLower(organizer))
}

// BestEffortKey computes the dedupe key straight from raw aliases without
// validating the record. It matches Normalize's key for any accepted record.
func BestEffortKey(raw events.RawEvent) string {
	return DedupeKey(
		truncate(Resolve(raw, FieldTitle), MaxTitleRunes),
		Resolve(raw, FieldStart),
		Resolve(raw, FieldOrganizer),
	)
}

// ParseStart parses the date formats scrapers commonly emit. Zone-less
// values are read as UTC. Bare integers are Unix epochs: 9 to 11 digits in
// seconds, 12 to 14 digits in milliseconds.
func ParseStart(value string) (time.Time, error) {
	if t, ok := parseEpoch(value); ok {
		return t, nil
	}
	var lastErr error
	for _, layout := range startLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseEpoch(value string) (time.Time, bool) {
	if value == "" || strings.TrimFunc(value, unicode.IsDigit) != "" {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	switch digits := len(value); {
	case digits >= 9 && digits <= 11:
		return time.Unix(n, 0).UTC(), true
	case digits >= 12 && digits <= 14:
		return time.UnixMilli(n).UTC(), true
	default:
		return time.Time{}, false
	}
}

func region(explicit, state string) string {
	if explicit != "" {
		return explicit
	}
	if len(state) == 2 && isLetters(state) {
		return strings.ToUpper(state)
	}
	return events.DefaultRegion
}

func isLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}
