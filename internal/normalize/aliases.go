package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/JakeFAU/events-linkhealth/internal/events"
)

// Field names a canonical NormalizedEvent attribute.
type Field string

// Canonical fields resolved from raw aliases.
const (
	FieldTitle         Field = "title"
	FieldDescription   Field = "description"
	FieldStart         Field = "start"
	FieldEnd           Field = "end"
	FieldLocationCity  Field = "location_city"
	FieldLocationState Field = "location_state"
	FieldOrganizer     Field = "organizer"
	FieldCandidateURL  Field = "candidate_url"
	FieldTags          Field = "tags"
	FieldRegion        Field = "region"
)

// fieldAliases lists, per canonical field, the raw keys probed in order.
// The first key holding a non-empty value wins.
var fieldAliases = map[Field][]string{
	FieldTitle:         {"title", "summary"},
	FieldDescription:   {"description", "details"},
	FieldStart:         {"start", "startDate", "start_date"},
	FieldEnd:           {"end", "ends_at", "endsAt", "end_date"},
	FieldLocationCity:  {"location", "venue", "location_city"},
	FieldLocationState: {"location_state", "state"},
	FieldOrganizer:     {"organizer", "host", "publisher"},
	FieldCandidateURL:  {"url", "link", "website"},
	FieldTags:          {"tags"},
	FieldRegion:        {"region"},
}

// Aliases returns a copy of the ordered raw keys for field.
func Aliases(field Field) []string {
	return append([]string(nil), fieldAliases[field]...)
}

// Resolve returns the first non-empty scalar value found under field's
// aliases, trimmed. Non-scalar values are ignored.
func Resolve(raw events.RawEvent, field Field) string {
	for _, key := range fieldAliases[field] {
		if v, ok := raw[key]; ok {
			if s := scalarString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// ResolveTags reads the tags field as either an array or a comma-separated
// string. Blank entries and case-insensitive repeats are dropped.
func ResolveTags(raw events.RawEvent) []string {
	tags := []string{}
	seen := map[string]struct{}{}
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return
		}
		folded := strings.ToLower(tag)
		if _, dup := seen[folded]; dup {
			return
		}
		seen[folded] = struct{}{}
		tags = append(tags, tag)
	}

	for _, key := range fieldAliases[FieldTags] {
		switch v := raw[key].(type) {
		case []any:
			for _, item := range v {
				add(scalarString(item))
			}
		case []string:
			for _, item := range v {
				add(item)
			}
		case string:
			for _, item := range strings.Split(v, ",") {
				add(item)
			}
		}
		if len(tags) > 0 {
			break
		}
	}
	return tags
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
