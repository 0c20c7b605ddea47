// Package staging appends raw records to the staging area ahead of batch
// processing. Writes never block on validation or deduplication.
package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/events-linkhealth/internal/clock/system"
	"github.com/JakeFAU/events-linkhealth/internal/events"
	"github.com/JakeFAU/events-linkhealth/internal/metrics"
	"github.com/JakeFAU/events-linkhealth/internal/normalize"
)

// Writer stages raw records.
type Writer struct {
	repo   events.StagingRepo
	ids    events.IDGenerator
	clock  events.Clock
	logger *zap.Logger
}

// NewWriter wires a Writer. A nil clock uses the wall clock.
func NewWriter(repo events.StagingRepo, ids events.IDGenerator, clock events.Clock, logger *zap.Logger) *Writer {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{repo: repo, ids: ids, clock: clock, logger: logger}
}

// Stage appends raw under source. The dedupe key stored alongside is
// computed best-effort for tracing; the authoritative key is derived when
// the record is normalized. A failed write is reported both in the result
// and as an error.
func (w *Writer) Stage(ctx context.Context, raw events.RawEvent, source string) (events.StageResult, error) {
	source = strings.TrimSpace(source)
	if raw == nil {
		raw = events.RawEvent{}
	}

	result, err := w.stage(ctx, raw, source)
	metrics.ObserveStaged(source, err == nil)
	if err != nil {
		w.logger.Error("stage raw event failed", zap.String("source", source), zap.Error(err))
		return events.StageResult{Success: false, Error: err.Error()}, err
	}
	return result, nil
}

func (w *Writer) stage(ctx context.Context, raw events.RawEvent, source string) (events.StageResult, error) {
	payload, err := json.Marshal(raw)
	if err != nil {
		return events.StageResult{}, fmt.Errorf("encode raw event: %w", err)
	}
	id, err := w.ids.NewID()
	if err != nil {
		return events.StageResult{}, fmt.Errorf("staging id: %w", err)
	}
	staged := events.StagedEvent{
		ID:        id,
		Source:    source,
		Raw:       payload,
		DedupeKey: normalize.BestEffortKey(raw),
		CreatedAt: w.clock.Now(),
	}
	if err := w.repo.InsertStaged(ctx, staged); err != nil {
		return events.StageResult{}, fmt.Errorf("insert staged event: %w", err)
	}
	w.logger.Debug("raw event staged",
		zap.String("staging_id", id),
		zap.String("source", source),
		zap.String("dedupe_key", staged.DedupeKey),
	)
	return events.StageResult{Success: true, StagingID: id}, nil
}
