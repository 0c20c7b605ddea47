package linkhealth

import "net/http"

// ShouldTombstone applies the default thresholds.
func ShouldTombstone(status int, redirectChain []string, score int) bool {
	return DefaultTombstone().ShouldTombstone(status, redirectChain, score)
}

// ShouldTombstone reports whether a link is dead: a 404/410 with a low score,
// a 5xx with a very low score, or any redirect chain longer than the hop
// limit.
func (c TombstoneConfig) ShouldTombstone(status int, redirectChain []string, score int) bool {
	if c.MaxRedirectHops > 0 && len(redirectChain) > c.MaxRedirectHops {
		return true
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return score < c.ClientErrorMaxScore
	case status >= http.StatusInternalServerError:
		return score < c.ServerErrorMaxScore
	default:
		return false
	}
}
