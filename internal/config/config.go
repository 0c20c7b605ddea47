// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/events-linkhealth/internal/linkhealth"
	"github.com/JakeFAU/events-linkhealth/internal/logging"
	"github.com/JakeFAU/events-linkhealth/internal/storage/postgres"
)

// EnvPrefix namespaces environment overrides, e.g. EVENTPIPE_SERVER_PORT.
const EnvPrefix = "EVENTPIPE"

// Storage and snapshot backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendNone     = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	LinkHealth LinkHealthConfig `mapstructure:"linkhealth"`
	Snapshots  SnapshotConfig   `mapstructure:"snapshots"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DatabaseConfig selects and tunes the event repositories.
type DatabaseConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	StagingTable    string        `mapstructure:"staging_table"`
	EventsTable     string        `mapstructure:"events_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// Postgres converts the section into pool settings.
func (d DatabaseConfig) Postgres() postgres.Config {
	return postgres.Config{
		DSN:             d.DSN,
		StagingTable:    d.StagingTable,
		EventsTable:     d.EventsTable,
		MaxConns:        d.MaxConns,
		MinConns:        d.MinConns,
		MaxConnLifetime: d.MaxConnLifetime,
	}
}

// PipelineConfig tunes batch processing and pass scheduling.
type PipelineConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	RecheckInterval time.Duration `mapstructure:"recheck_interval"`
	PassLimit       int           `mapstructure:"pass_limit"`
}

// LinkHealthConfig embeds the checker policy plus pass-level throttling.
type LinkHealthConfig struct {
	linkhealth.Config `mapstructure:",squash"`

	Concurrency   int                       `mapstructure:"concurrency"`
	RatePerDomain float64                   `mapstructure:"rate_per_domain"`
	Burst         int                       `mapstructure:"burst"`
	Headless      linkhealth.HeadlessConfig `mapstructure:"headless"`
}

// SnapshotConfig selects where fetched page bodies are archived.
type SnapshotConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// project ID keeps notifications in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	lh := linkhealth.DefaultConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("database.backend", BackendMemory)
	v.SetDefault("database.staging_table", postgres.DefaultStagingTable)
	v.SetDefault("database.events_table", postgres.DefaultEventsTable)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.migrate", true)

	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.recheck_interval", "24h")
	v.SetDefault("pipeline.pass_limit", 100)

	v.SetDefault("linkhealth.user_agent", lh.UserAgent)
	v.SetDefault("linkhealth.request_timeout", lh.RequestTimeout.String())
	v.SetDefault("linkhealth.max_redirects", lh.MaxRedirects)
	v.SetDefault("linkhealth.max_body_bytes", lh.MaxBodyBytes)
	v.SetDefault("linkhealth.concurrency", 4)
	v.SetDefault("linkhealth.rate_per_domain", 1.0)
	v.SetDefault("linkhealth.burst", 2)
	v.SetDefault("linkhealth.scoring.base_ok", lh.Scoring.BaseOK)
	v.SetDefault("linkhealth.scoring.keyword_budget", lh.Scoring.KeywordBudget)
	v.SetDefault("linkhealth.scoring.canonical_bonus", lh.Scoring.CanonicalBonus)
	v.SetDefault("linkhealth.scoring.spa_penalty", lh.Scoring.SPAPenalty)
	v.SetDefault("linkhealth.scoring.redirect_penalty_per_hop", lh.Scoring.RedirectPenaltyPerHop)
	v.SetDefault("linkhealth.scoring.max_redirect_penalty", lh.Scoring.MaxRedirectPenalty)
	v.SetDefault("linkhealth.scoring.min_visible_text", lh.Scoring.MinVisibleText)
	v.SetDefault("linkhealth.tombstone.client_error_max_score", lh.Tombstone.ClientErrorMaxScore)
	v.SetDefault("linkhealth.tombstone.server_error_max_score", lh.Tombstone.ServerErrorMaxScore)
	v.SetDefault("linkhealth.tombstone.max_redirect_hops", lh.Tombstone.MaxRedirectHops)
	v.SetDefault("linkhealth.headless.enabled", false)
	v.SetDefault("linkhealth.headless.max_parallel", 1)
	v.SetDefault("linkhealth.headless.nav_timeout", "15s")
	v.SetDefault("linkhealth.headless.idle_timeout", "8s")

	v.SetDefault("snapshots.backend", BackendNone)
	v.SetDefault("snapshots.prefix", "snapshots")
	v.SetDefault("pubsub.topic_name", "eventpipe")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Database.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("database.backend %q is not supported", c.Database.Backend)
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Pipeline.RecheckInterval <= 0 {
		return fmt.Errorf("pipeline.recheck_interval must be > 0")
	}
	if c.LinkHealth.Concurrency <= 0 {
		return fmt.Errorf("linkhealth.concurrency must be > 0")
	}
	if c.LinkHealth.RequestTimeout <= 0 {
		return fmt.Errorf("linkhealth.request_timeout must be > 0")
	}
	if c.LinkHealth.RatePerDomain < 0 {
		return fmt.Errorf("linkhealth.rate_per_domain must be >= 0")
	}
	if c.LinkHealth.Headless.Enabled && c.LinkHealth.Headless.MaxParallel <= 0 {
		return fmt.Errorf("linkhealth.headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Snapshots.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Snapshots.BaseDir == "" {
			return fmt.Errorf("snapshots.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Snapshots.Bucket == "" {
			return fmt.Errorf("snapshots.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("snapshots.backend %q is not supported", c.Snapshots.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// Checker returns the link-health policy with unset knobs defaulted.
func (c Config) Checker() linkhealth.Config {
	return c.LinkHealth.Config.WithDefaults()
}

// HeadlessFetcher returns the headless settings with the checker's user agent.
func (c Config) HeadlessFetcher() linkhealth.HeadlessConfig {
	h := c.LinkHealth.Headless
	h.UserAgent = c.Checker().UserAgent
	return h
}
