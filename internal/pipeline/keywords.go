package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/events-linkhealth/internal/events"
)

const (
	minKeywordRunes  = 4
	maxTitleKeywords = 4
)

// Keywords picks the terms a destination page's title should mention: up
// to four distinct title words of at least four letters, then the tags.
func Keywords(ev events.NormalizedEvent) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(word string) bool {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" {
			return false
		}
		if _, dup := seen[word]; dup {
			return false
		}
		seen[word] = struct{}{}
		out = append(out, word)
		return true
	}

	fromTitle := 0
	words := strings.FieldsFunc(ev.Title, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if fromTitle == maxTitleKeywords {
			break
		}
		if utf8.RuneCountInString(w) < minKeywordRunes {
			continue
		}
		if add(w) {
			fromTitle++
		}
	}
	for _, tag := range ev.Tags {
		add(tag)
	}
	return out
}
