package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/events-linkhealth/internal/clock/system"
	"github.com/JakeFAU/events-linkhealth/internal/events"
	"github.com/JakeFAU/events-linkhealth/internal/metrics"
	"github.com/JakeFAU/events-linkhealth/internal/normalize"
)

// DefaultBatchSize applies when neither the caller nor config sets one.
const DefaultBatchSize = 50

// Batch modes used in metrics and notifications.
const (
	ModeStaged = "staged"
	ModeDirect = "direct"
)

// ProcessorConfig controls Processor behavior.
type ProcessorConfig struct {
	BatchSize int
}

// Processor moves records from staging into the event store. Records are
// handled one at a time; a failing record never stops the batch.
type Processor struct {
	staging    events.StagingRepo
	events     events.EventRepo
	normalizer *normalize.Normalizer
	ids        events.IDGenerator
	clock      events.Clock
	publisher  events.Publisher
	cfg        ProcessorConfig
	logger     *zap.Logger
}

// NewProcessor constructs a Processor. publisher may be nil.
func NewProcessor(
	staging events.StagingRepo,
	repo events.EventRepo,
	normalizer *normalize.Normalizer,
	ids events.IDGenerator,
	clock events.Clock,
	publisher events.Publisher,
	cfg ProcessorConfig,
	logger *zap.Logger,
) *Processor {
	if clock == nil {
		clock = system.New()
	}
	if normalizer == nil {
		normalizer = normalize.New(clock)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Processor{
		staging:    staging,
		events:     repo,
		normalizer: normalizer,
		ids:        ids,
		clock:      clock,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
	}
}

// ProcessStaged handles up to batchSize of the oldest staged records. A
// non-positive batchSize uses the configured default. Only a failure to
// list the batch is returned as an error.
func (p *Processor) ProcessStaged(ctx context.Context, batchSize int) (events.BatchResult, error) {
	if batchSize <= 0 {
		batchSize = p.cfg.BatchSize
	}
	start := time.Now()
	rows, err := p.staging.ListStaged(ctx, batchSize)
	if err != nil {
		p.logger.Error("list staged events failed", zap.Error(err))
		return events.BatchResult{}, fmt.Errorf("list staged events: %w", err)
	}

	var result events.BatchResult
	for i, row := range rows {
		if p.interrupted(ctx, len(rows)-i) {
			break
		}
		result.Processed++
		p.guard(&result, events.RecordFailure{StagingID: row.ID, DedupeKey: row.DedupeKey}, func() {
			p.processStaged(ctx, row, &result)
		})
	}
	p.finish(ctx, ModeStaged, start, result)
	return result, nil
}

// Ingest normalizes and upserts raws directly, bypassing staging.
func (p *Processor) Ingest(ctx context.Context, raws []events.RawEvent, source string) events.BatchResult {
	start := time.Now()
	var result events.BatchResult
	for i, raw := range raws {
		if p.interrupted(ctx, len(raws)-i) {
			break
		}
		result.Processed++
		p.guard(&result, events.RecordFailure{}, func() {
			p.ingestOne(ctx, raw, source, &result)
		})
	}
	p.finish(ctx, ModeDirect, start, result)
	return result
}

func (p *Processor) ingestOne(ctx context.Context, raw events.RawEvent, source string, result *events.BatchResult) {
	n, err := p.normalizer.Normalize(raw, source)
	if errors.Is(err, normalize.ErrRejected) {
		p.skip(result, "", err)
		return
	}
	if err != nil {
		p.fail(result, events.RecordFailure{}, err)
		return
	}
	inserted, err := p.upsert(ctx, n)
	if err != nil {
		p.fail(result, events.RecordFailure{DedupeKey: n.DedupeKey}, err)
		return
	}
	p.count(result, inserted)
}

// guard runs one record's work, converting a panic into a record failure.
func (p *Processor) guard(result *events.BatchResult, failure events.RecordFailure, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.fail(result, failure, fmt.Errorf("panic: %v", r))
		}
	}()
	fn()
}

// interrupted reports whether ctx is done. Records not yet started are left
// untouched and are not counted.
func (p *Processor) interrupted(ctx context.Context, remaining int) bool {
	if ctx.Err() == nil {
		return false
	}
	p.logger.Warn("batch interrupted", zap.Int("remaining", remaining), zap.Error(ctx.Err()))
	return true
}

func (p *Processor) processStaged(ctx context.Context, row events.StagedEvent, result *events.BatchResult) {
	n, err := p.normalizer.NormalizeJSON(row.Raw, row.Source)
	if errors.Is(err, normalize.ErrRejected) {
		if delErr := p.staging.DeleteStaged(ctx, row.ID); delErr != nil && !errors.Is(delErr, events.ErrNotFound) {
			p.fail(result, events.RecordFailure{StagingID: row.ID}, fmt.Errorf("delete skipped staged event: %w", delErr))
			return
		}
		p.skip(result, row.ID, err)
		return
	}
	if err != nil {
		p.fail(result, events.RecordFailure{StagingID: row.ID, DedupeKey: row.DedupeKey}, err)
		return
	}

	failure := events.RecordFailure{StagingID: row.ID, DedupeKey: n.DedupeKey}
	inserted, err := p.upsert(ctx, n)
	if err != nil {
		p.fail(result, failure, err)
		return
	}
	// The staged copy stays until the upsert lands; a failed delete leaves
	// it to be replayed as a refresh once its claim lapses. A row already
	// gone was finished by an overlapping run.
	if err := p.staging.DeleteStaged(ctx, row.ID); err != nil && !errors.Is(err, events.ErrNotFound) {
		p.fail(result, failure, fmt.Errorf("delete staged event: %w", err))
		return
	}
	p.count(result, inserted)
}

func (p *Processor) upsert(ctx context.Context, n events.NormalizedEvent) (bool, error) {
	id, err := p.ids.NewID()
	if err != nil {
		return false, fmt.Errorf("event id: %w", err)
	}
	out, err := p.events.UpsertByDedupeKey(ctx, id, n, p.clock.Now())
	if err != nil {
		return false, fmt.Errorf("upsert event: %w", err)
	}
	p.logger.Debug("event upserted",
		zap.String("event_id", out.ID),
		zap.String("dedupe_key", n.DedupeKey),
		zap.Bool("inserted", out.Inserted),
	)
	return out.Inserted, nil
}

func (p *Processor) count(result *events.BatchResult, inserted bool) {
	if inserted {
		result.Inserted++
		metrics.ObserveRecord(metrics.OutcomeInserted)
		return
	}
	result.Updated++
	metrics.ObserveRecord(metrics.OutcomeUpdated)
}

func (p *Processor) skip(result *events.BatchResult, stagingID string, reason error) {
	result.Skipped++
	metrics.ObserveRecord(metrics.OutcomeSkipped)
	p.logger.Debug("event skipped", zap.String("staging_id", stagingID), zap.String("reason", reason.Error()))
}

func (p *Processor) fail(result *events.BatchResult, failure events.RecordFailure, err error) {
	result.Errors++
	failure.Error = err.Error()
	result.Failures = append(result.Failures, failure)
	metrics.ObserveRecord(metrics.OutcomeError)
	p.logger.Error("event processing failed",
		zap.String("staging_id", failure.StagingID),
		zap.String("dedupe_key", failure.DedupeKey),
		zap.Error(err),
	)
}

func (p *Processor) finish(ctx context.Context, mode string, start time.Time, result events.BatchResult) {
	elapsed := time.Since(start)
	metrics.ObserveBatch(mode, elapsed)
	p.logger.Info("batch completed",
		zap.String("mode", mode),
		zap.Int("processed", result.Processed),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
		zap.Duration("elapsed", elapsed),
	)
	notify(ctx, p.publisher, p.logger, TopicBatchCompleted, map[string]any{
		"mode":         mode,
		"processed":    result.Processed,
		"inserted":     result.Inserted,
		"updated":      result.Updated,
		"skipped":      result.Skipped,
		"errors":       result.Errors,
		"completed_at": p.clock.Now().Format(time.RFC3339),
	})
}
