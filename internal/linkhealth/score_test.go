package linkhealth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	titledPage = `<html><head><title>Spring Tax Planning Seminar | CalCPA</title>
<link rel="canonical" href="/events/spring-tax-seminar"></head>
<body><h1>Spring Tax Planning Seminar</h1><p>Join enrolled agents for a half-day session on planning.</p></body></html>`
	plainPage = `<html><head><title>Welcome</title></head>
<body><p>General landing page with nothing specific about the event in question.</p></body></html>`
	shellPage = `<html><head></head><body><div id="root"></div><script src="/static/js/main.js"></script></body></html>`
)

func TestInspectExtractsTitleAndCanonical(t *testing.T) {
	t.Parallel()

	facts := Inspect([]byte(titledPage), "https://events.example.com/old?x=1", 40)
	require.Equal(t, "Spring Tax Planning Seminar | CalCPA", facts.Title)
	require.Equal(t, "https://events.example.com/events/spring-tax-seminar", facts.Canonical)
	require.False(t, facts.NeedsJS)
}

func TestInspectDetectsShell(t *testing.T) {
	t.Parallel()

	require.True(t, Inspect([]byte(`<div id="root"></div>`), "https://a.example", 40).NeedsJS)
	require.True(t, Inspect([]byte(shellPage), "https://a.example", 40).NeedsJS)
	require.True(t, Inspect(nil, "https://a.example", 40).NeedsJS)
	require.False(t, Inspect([]byte(plainPage), "https://a.example", 40).NeedsJS)
}

func TestInspectIgnoresUnresolvableCanonical(t *testing.T) {
	t.Parallel()

	body := `<html><head><title>x</title><link rel="canonical" href="javascript:void(0)"></head></html>`
	require.Empty(t, Inspect([]byte(body), "https://a.example", 40).Canonical)
}

func TestScoreBands(t *testing.T) {
	t.Parallel()

	cfg := DefaultScoring()
	ok := FetchOutcome{RequestedURL: "https://a.example/e", FinalURL: "https://a.example/e", StatusCode: 200}

	full := Score(ok, PageFacts{Title: "Spring Tax Planning Seminar", Canonical: "https://a.example/e"},
		[]string{"Tax", "seminar"}, cfg)
	require.GreaterOrEqual(t, full.Score, 70)

	keywordsOnly := Score(ok, PageFacts{Title: "Spring Tax Planning Seminar"}, []string{"tax", "seminar"}, cfg)
	require.GreaterOrEqual(t, keywordsOnly.Score, 70)

	canonicalOnly := Score(ok, PageFacts{Title: "Welcome", Canonical: "https://a.example/e"}, nil, cfg)
	require.GreaterOrEqual(t, canonicalOnly.Score, 55)

	bare := Score(ok, PageFacts{Title: "Welcome"}, []string{"tax"}, cfg)
	require.GreaterOrEqual(t, bare.Score, 40)
	require.LessOrEqual(t, bare.Score, 55)

	partial := Score(ok, PageFacts{Title: "Tax day"}, []string{"tax", "seminar"}, cfg)
	require.Greater(t, partial.Score, bare.Score)
	require.Less(t, partial.Score, keywordsOnly.Score)
}

func TestScoreErrorStatusShortCircuits(t *testing.T) {
	t.Parallel()

	res := Score(FetchOutcome{StatusCode: 404, FinalURL: "https://a.example/gone"},
		PageFacts{Title: "Tax seminar", Canonical: "https://a.example/e"}, []string{"tax"}, DefaultScoring())
	require.Equal(t, 0, res.Score)
	require.Equal(t, 404, res.Status)
	require.Empty(t, res.Title)
}

func TestScoreSPAPenalty(t *testing.T) {
	t.Parallel()

	res := Score(FetchOutcome{StatusCode: 200}, PageFacts{NeedsJS: true}, nil, DefaultScoring())
	require.True(t, res.NeedsJS)
	require.Less(t, res.Score, 50)
}

func TestScoreRedirectPenaltyIsCapped(t *testing.T) {
	t.Parallel()

	cfg := DefaultScoring()
	facts := PageFacts{Title: "Tax seminar", Canonical: "https://a.example/e"}
	direct := Score(FetchOutcome{StatusCode: 200}, facts, []string{"tax"}, cfg)
	one := Score(FetchOutcome{StatusCode: 200, RedirectChain: []string{"https://a.example/e"}}, facts, []string{"tax"}, cfg)
	many := Score(FetchOutcome{StatusCode: 200, RedirectChain: make([]string, 20)}, facts, []string{"tax"}, cfg)

	require.Less(t, one.Score, direct.Score)
	require.Equal(t, direct.Score-cfg.MaxRedirectPenalty, many.Score)
}

func TestScoreClamps(t *testing.T) {
	t.Parallel()

	cfg := DefaultScoring()
	cfg.BaseOK = 95
	res := Score(FetchOutcome{StatusCode: 200}, PageFacts{Title: "tax", Canonical: "https://a.example"}, []string{"tax"}, cfg)
	require.Equal(t, 100, res.Score)

	cfg = DefaultScoring()
	cfg.SPAPenalty = 500
	res = Score(FetchOutcome{StatusCode: 200}, PageFacts{NeedsJS: true}, nil, cfg)
	require.Equal(t, 0, res.Score)
}
