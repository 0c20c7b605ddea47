package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/events-linkhealth/internal/clock/system"
	"github.com/JakeFAU/events-linkhealth/internal/events"
	"github.com/JakeFAU/events-linkhealth/internal/linkhealth"
	"github.com/JakeFAU/events-linkhealth/internal/metrics"
	"github.com/JakeFAU/events-linkhealth/internal/policy/ratelimit"
)

// Health pass defaults.
const (
	DefaultConcurrency     = 4
	DefaultRecheckInterval = 24 * time.Hour
	DefaultPassLimit       = 100
	snapshotContentType    = "text/html; charset=utf-8"
)

// HealthConfig controls HealthPass behavior.
type HealthConfig struct {
	Concurrency     int
	RecheckInterval time.Duration
	// SnapshotPrefix roots archived page bodies; snapshots are written only
	// when a SnapshotStore is wired.
	SnapshotPrefix string
}

// LinkReport is the per-event outcome of a pass.
type LinkReport struct {
	DedupeKey  string `json:"dedupe_key"`
	URL        string `json:"url"`
	Status     int    `json:"status"`
	Score      int    `json:"score"`
	Tombstoned bool   `json:"tombstoned"`
	Rendered   bool   `json:"rendered,omitempty"`
	Snapshot   string `json:"snapshot,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PassResult summarizes one link-health pass.
type PassResult struct {
	Checked    int          `json:"checked"`
	Tombstoned int          `json:"tombstoned"`
	Promoted   int          `json:"promoted"`
	Errors     int          `json:"errors"`
	Reports    []LinkReport `json:"reports"`
}

// HealthPass checks candidate URLs of due events and writes the link-health
// columns back.
type HealthPass struct {
	repo      events.EventRepo
	checker   *linkhealth.Checker
	headless  *linkhealth.Checker
	limiter   *ratelimit.Limiter
	snapshots events.SnapshotStore
	publisher events.Publisher
	clock     events.Clock
	cfg       HealthConfig
	logger    *zap.Logger
}

// HealthDeps groups the optional collaborators of a HealthPass.
type HealthDeps struct {
	// Headless re-checks pages the plain fetch flags as needing JavaScript.
	Headless  *linkhealth.Checker
	Limiter   *ratelimit.Limiter
	Snapshots events.SnapshotStore
	Publisher events.Publisher
	Clock     events.Clock
}

// NewHealthPass constructs a HealthPass.
func NewHealthPass(
	repo events.EventRepo,
	checker *linkhealth.Checker,
	deps HealthDeps,
	cfg HealthConfig,
	logger *zap.Logger,
) *HealthPass {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = DefaultRecheckInterval
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthPass{
		repo:      repo,
		checker:   checker,
		headless:  deps.Headless,
		limiter:   deps.Limiter,
		snapshots: deps.Snapshots,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run checks up to limit due events with bounded concurrency. Only a
// failure to list due events is returned as an error.
func (h *HealthPass) Run(ctx context.Context, limit int) (PassResult, error) {
	if limit <= 0 {
		limit = DefaultPassLimit
	}
	start := time.Now()
	due, err := h.repo.ListDueForCheck(ctx, h.clock.Now().Add(-h.cfg.RecheckInterval), limit)
	if err != nil {
		h.logger.Error("list events due for check failed", zap.Error(err))
		return PassResult{}, fmt.Errorf("list events due for check: %w", err)
	}

	outcomes := make([]checkOutcome, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Concurrency)
	for i, ev := range due {
		g.Go(func() error {
			outcomes[i] = h.checkOne(gctx, ev)
			return nil
		})
	}
	_ = g.Wait()

	result := PassResult{Reports: make([]LinkReport, 0, len(outcomes))}
	for _, o := range outcomes {
		result.Checked++
		result.Reports = append(result.Reports, o.report)
		if o.report.Tombstoned {
			result.Tombstoned++
		}
		if o.promoted {
			result.Promoted++
		}
		if o.failed {
			result.Errors++
		}
	}
	elapsed := time.Since(start)
	metrics.ObserveBatch("linkhealth", elapsed)
	h.logger.Info("link health pass completed",
		zap.Int("checked", result.Checked),
		zap.Int("tombstoned", result.Tombstoned),
		zap.Int("promoted", result.Promoted),
		zap.Int("errors", result.Errors),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

// checkOutcome is one event's result. failed marks errors of the pass
// itself (throttling, cancellation or persistence), not of the remote site.
type checkOutcome struct {
	report   LinkReport
	promoted bool
	failed   bool
}

func (h *HealthPass) checkOne(ctx context.Context, ev events.Event) checkOutcome {
	url := ev.CandidateURL
	report := LinkReport{DedupeKey: ev.DedupeKey, URL: url}
	logger := h.logger.With(zap.String("dedupe_key", ev.DedupeKey), zap.String("url", url))

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx, url); err != nil {
			report.Error = err.Error()
			logger.Warn("link check throttled out", zap.Error(err))
			return checkOutcome{report: report, failed: true}
		}
	}

	keywords := Keywords(ev.NormalizedEvent)
	res, outcome := h.checker.Check(ctx, url, keywords)
	promoted := false
	if res.NeedsJS && h.headless != nil {
		rendered, renderedOutcome := h.headless.Check(ctx, url, keywords)
		if rendered.Error == "" {
			res, outcome, promoted = rendered, renderedOutcome, true
			logger.Debug("headless promotion applied", zap.Int("score", res.Score))
		} else {
			logger.Warn("headless promotion failed", zap.String("error", rendered.Error))
		}
	}
	// A result produced after the pass itself was cancelled says nothing
	// about the remote site and must not overwrite stored health.
	if err := ctx.Err(); err != nil {
		report.Error = fmt.Sprintf("link check interrupted: %v", err)
		logger.Warn("link check interrupted", zap.Error(err))
		return checkOutcome{report: report, promoted: promoted, failed: true}
	}
	if h.limiter != nil && (res.Status == http.StatusTooManyRequests || res.Status == http.StatusServiceUnavailable) {
		h.limiter.Backoff(url)
	}

	tombstone := h.checker.Config().Tombstone.ShouldTombstone(res.Status, res.RedirectChain, res.Score)
	checkedAt := h.clock.Now()
	health := events.LinkHealth{
		CanonicalURL:  res.Canonical,
		URLStatus:     res.Status,
		RedirectChain: res.RedirectChain,
		Score:         res.Score,
		LastCheckedAt: &checkedAt,
		Tombstoned:    tombstone,
	}
	report.Status = res.Status
	report.Score = res.Score
	report.Tombstoned = tombstone
	report.Rendered = outcome.Rendered
	report.Error = res.Error

	if err := h.repo.UpdateLinkHealth(ctx, ev.DedupeKey, health); err != nil {
		report.Error = err.Error()
		logger.Error("update link health failed", zap.Error(err))
		return checkOutcome{report: report, promoted: promoted, failed: true}
	}
	report.Snapshot = h.archive(ctx, logger, ev.DedupeKey, checkedAt, outcome.Body)

	if tombstone {
		metrics.ObserveTombstone()
		if !ev.Tombstoned {
			notify(ctx, h.publisher, logger, TopicLinkTombstoned, map[string]any{
				"dedupe_key":     ev.DedupeKey,
				"event_id":       ev.ID,
				"url":            url,
				"status":         res.Status,
				"score":          res.Score,
				"redirect_chain": res.RedirectChain,
				"checked_at":     checkedAt.Format(time.RFC3339),
			})
		}
		logger.Info("link tombstoned", zap.Int("status", res.Status), zap.Int("score", res.Score))
	}
	return checkOutcome{report: report, promoted: promoted}
}

func (h *HealthPass) archive(ctx context.Context, logger *zap.Logger, key string, at time.Time, body []byte) string {
	if h.snapshots == nil || len(body) == 0 {
		return ""
	}
	path := SnapshotPath(h.cfg.SnapshotPrefix, key, at)
	uri, err := h.snapshots.PutObject(ctx, path, snapshotContentType, bytes.NewReader(body))
	if err != nil {
		logger.Warn("snapshot upload failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	logger.Debug("snapshot stored", zap.String("uri", uri))
	return uri
}

// SnapshotPath lays snapshots out as <prefix>/<dedupe_key>/<unix>.html.
func SnapshotPath(prefix, key string, at time.Time) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%d.html", key, at.Unix())
	}
	return fmt.Sprintf("%s/%s/%d.html", prefix, key, at.Unix())
}
