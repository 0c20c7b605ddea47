// Package linkhealth validates outbound event links: it cleans URLs, fetches
// the destination once, scores how trustworthy the page is, and decides when a
// link should be tombstoned.
package linkhealth

import "time"

// ScoringConfig holds the additive scoring knobs used by Score.
type ScoringConfig struct {
	// BaseOK is awarded to any 2xx response.
	BaseOK int `mapstructure:"base_ok"`
	// KeywordBudget is split evenly across the supplied keywords.
	KeywordBudget int `mapstructure:"keyword_budget"`
	// CanonicalBonus is added when the page declares a resolvable canonical URL.
	CanonicalBonus int `mapstructure:"canonical_bonus"`
	// SPAPenalty is subtracted when the body is an empty client-rendered shell.
	SPAPenalty int `mapstructure:"spa_penalty"`
	// RedirectPenaltyPerHop is subtracted for every redirect followed.
	RedirectPenaltyPerHop int `mapstructure:"redirect_penalty_per_hop"`
	// MaxRedirectPenalty caps the total redirect penalty.
	MaxRedirectPenalty int `mapstructure:"max_redirect_penalty"`
	// MinVisibleText is the visible-text length below which an untitled body
	// counts as a shell.
	MinVisibleText int `mapstructure:"min_visible_text"`
}

// TombstoneConfig holds the dead-link thresholds used by ShouldTombstone.
type TombstoneConfig struct {
	ClientErrorMaxScore int `mapstructure:"client_error_max_score"`
	ServerErrorMaxScore int `mapstructure:"server_error_max_score"`
	MaxRedirectHops     int `mapstructure:"max_redirect_hops"`
}

// Config bundles the link-health policy.
type Config struct {
	UserAgent      string          `mapstructure:"user_agent"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	MaxRedirects   int             `mapstructure:"max_redirects"`
	MaxBodyBytes   int             `mapstructure:"max_body_bytes"`
	Scoring        ScoringConfig   `mapstructure:"scoring"`
	Tombstone      TombstoneConfig `mapstructure:"tombstone"`
}

// DefaultScoring returns the scoring knobs the pipeline ships with.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		BaseOK:                40,
		KeywordBudget:         30,
		CanonicalBonus:        15,
		SPAPenalty:            25,
		RedirectPenaltyPerHop: 5,
		MaxRedirectPenalty:    25,
		MinVisibleText:        40,
	}
}

// DefaultTombstone returns the tombstone thresholds the pipeline ships with.
func DefaultTombstone() TombstoneConfig {
	return TombstoneConfig{
		ClientErrorMaxScore: 10,
		ServerErrorMaxScore: 5,
		MaxRedirectHops:     5,
	}
}

// DefaultConfig returns a complete policy with all defaults applied.
func DefaultConfig() Config {
	return Config{
		UserAgent:      "events-linkhealth/1.0",
		RequestTimeout: 12 * time.Second,
		MaxRedirects:   10,
		MaxBodyBytes:   2 * 1024 * 1024,
		Scoring:        DefaultScoring(),
		Tombstone:      DefaultTombstone(),
	}
}

// WithDefaults fills zero-valued knobs from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = def.MaxRedirects
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.Scoring == (ScoringConfig{}) {
		c.Scoring = def.Scoring
	}
	if c.Tombstone == (TombstoneConfig{}) {
		c.Tombstone = def.Tombstone
	}
	return c
}
