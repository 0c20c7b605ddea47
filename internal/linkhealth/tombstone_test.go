package linkhealth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldTombstone(t *testing.T) {
	t.Parallel()

	chainOf := func(n int) []string {
		chain := make([]string, n)
		for i := range chain {
			chain[i] = "https://hop.example/"
		}
		return chain
	}

	cases := []struct {
		name   string
		status int
		chain  []string
		score  int
		want   bool
	}{
		{"404 low score", 404, nil, 5, true},
		{"404 decent score", 404, []string{}, 80, false},
		{"410 low score", 410, nil, 0, true},
		{"500 very low score", 500, nil, 3, true},
		{"503 very low score", 503, nil, 4, true},
		{"500 modest score", 500, nil, 20, false},
		{"200 healthy", 200, []string{}, 70, false},
		{"200 long chain", 200, chainOf(6), 50, true},
		{"200 chain at limit", 200, chainOf(5), 50, false},
		{"network failure", 0, nil, 0, false},
		{"403 low score", 403, nil, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, ShouldTombstone(tc.status, tc.chain, tc.score))
		})
	}
}

func TestTombstoneConfigOverrides(t *testing.T) {
	t.Parallel()

	cfg := TombstoneConfig{ClientErrorMaxScore: 50, ServerErrorMaxScore: 5, MaxRedirectHops: 2}
	require.True(t, cfg.ShouldTombstone(404, nil, 40))
	require.True(t, cfg.ShouldTombstone(200, []string{"a", "b", "c"}, 90))
	require.False(t, cfg.ShouldTombstone(200, []string{"a", "b"}, 90))
}
