package linkhealth

import (
	"net/http"
	"strings"
	"time"
)

// FetchOutcome is the raw result of one outbound GET.
type FetchOutcome struct {
	RequestedURL  string
	FinalURL      string
	StatusCode    int
	RedirectChain []string
	Header        http.Header
	Body          []byte
	Duration      time.Duration
	Rendered      bool
}

// Result is the health verdict for one URL.
type Result struct {
	Score         int      `json:"score"`
	Status        int      `json:"status"`
	FinalURL      string   `json:"finalUrl"`
	RedirectChain []string `json:"redirectChain"`
	Title         string   `json:"title,omitempty"`
	Canonical     string   `json:"canonical,omitempty"`
	NeedsJS       bool     `json:"needsJs"`
	Error         string   `json:"error,omitempty"`
}

// Score turns a fetch outcome and the facts extracted from its body into a
// 0-100 trust score. It performs no I/O.
func Score(outcome FetchOutcome, facts PageFacts, keywords []string, cfg ScoringConfig) Result {
	res := Result{
		Status:        outcome.StatusCode,
		FinalURL:      outcome.FinalURL,
		RedirectChain: append([]string{}, outcome.RedirectChain...),
	}
	if res.FinalURL == "" {
		res.FinalURL = outcome.RequestedURL
	}
	if outcome.StatusCode < 200 || outcome.StatusCode >= 300 {
		return res
	}

	res.Title = facts.Title
	res.Canonical = facts.Canonical
	res.NeedsJS = facts.NeedsJS

	score := cfg.BaseOK
	score += keywordBonus(facts.Title, keywords, cfg.KeywordBudget)
	if facts.Canonical != "" {
		score += cfg.CanonicalBonus
	}
	if facts.NeedsJS {
		score -= cfg.SPAPenalty
	}
	penalty := len(outcome.RedirectChain) * cfg.RedirectPenaltyPerHop
	if cfg.MaxRedirectPenalty > 0 && penalty > cfg.MaxRedirectPenalty {
		penalty = cfg.MaxRedirectPenalty
	}
	score -= penalty

	res.Score = clamp(score, 0, 100)
	return res
}

func keywordBonus(title string, keywords []string, budget int) int {
	if title == "" || budget <= 0 {
		return 0
	}
	kws := cleanKeywords(keywords)
	if len(kws) == 0 {
		return 0
	}
	lowerTitle := strings.ToLower(title)
	matched := 0
	for _, kw := range kws {
		if strings.Contains(lowerTitle, kw) {
			matched++
		}
	}
	return budget * matched / len(kws)
}

func cleanKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// StatusClass groups a status code for metrics labels.
func StatusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
