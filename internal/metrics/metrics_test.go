package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserveRecordCountsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(batchRecordsTotal.WithLabelValues(OutcomeSkipped))
	ObserveRecord(OutcomeSkipped)
	ObserveRecord(OutcomeSkipped)
	after := testutil.ToFloat64(batchRecordsTotal.WithLabelValues(OutcomeSkipped))
	require.InDelta(t, 2, after-before, 0.001)
}

func TestObserveLinkCheckLabelsBySite(t *testing.T) {
	counter := linkChecksTotal.WithLabelValues("metrics-test.example", "4xx")
	before := testutil.ToFloat64(counter)
	ObserveLinkCheck("https://Metrics-Test.example/event", "4xx", 0, 150*time.Millisecond)
	require.InDelta(t, 1, testutil.ToFloat64(counter)-before, 0.001)
}

func TestObserveStagedDefaultsSource(t *testing.T) {
	counter := eventsStagedTotal.WithLabelValues("unknown", "error")
	before := testutil.ToFloat64(counter)
	ObserveStaged("", false)
	require.InDelta(t, 1, testutil.ToFloat64(counter)-before, 0.001)
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
