package staging

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/events-linkhealth/internal/events"
	"github.com/JakeFAU/events-linkhealth/internal/normalize"
	"github.com/JakeFAU/events-linkhealth/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("stg-%d", s.n), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

type failingRepo struct{ events.StagingRepo }

func (failingRepo) InsertStaged(context.Context, events.StagedEvent) error {
	return errors.New("disk full")
}

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestStageAppendsWithBestEffortKey(t *testing.T) {
	t.Parallel()

	repo := memory.NewStagingStore()
	w := NewWriter(repo, &seqIDs{}, fixedClock{now: now}, zap.NewNop())
	raw := events.RawEvent{"summary": "Payroll Update", "startDate": "2026-04-01", "host": "IRS"}

	res, err := w.Stage(context.Background(), raw, " scraper ")
	require.NoError(t, err)
	require.Equal(t, events.StageResult{Success: true, StagingID: "stg-1"}, res)

	rows, err := repo.ListStaged(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "scraper", rows[0].Source)
	require.Equal(t, now, rows[0].CreatedAt)
	require.Equal(t, normalize.DedupeKey("Payroll Update", "2026-04-01", "IRS"), rows[0].DedupeKey)
	require.JSONEq(t, `{"summary":"Payroll Update","startDate":"2026-04-01","host":"IRS"}`, string(rows[0].Raw))
}

func TestStageNeverRejectsDuplicatesOrInvalidRecords(t *testing.T) {
	t.Parallel()

	repo := memory.NewStagingStore()
	w := NewWriter(repo, &seqIDs{}, fixedClock{now: now}, nil)
	dup := events.RawEvent{"title": "Same", "start": "2026-04-01"}
	stale := events.RawEvent{"title": "Old", "start": "2001-01-01"}

	for _, raw := range []events.RawEvent{dup, dup, stale, nil} {
		res, err := w.Stage(context.Background(), raw, "feed")
		require.NoError(t, err)
		require.True(t, res.Success)
	}
	require.Equal(t, 4, repo.Len())
}

func TestStageReportsPersistenceFailure(t *testing.T) {
	t.Parallel()

	w := NewWriter(failingRepo{}, &seqIDs{}, nil, zap.NewNop())
	res, err := w.Stage(context.Background(), events.RawEvent{"title": "x"}, "feed")
	require.Error(t, err)
	require.False(t, res.Success)
	require.Empty(t, res.StagingID)
	require.Contains(t, res.Error, "disk full")
}

func TestStageReportsIDFailure(t *testing.T) {
	t.Parallel()

	w := NewWriter(memory.NewStagingStore(), failingIDs{}, nil, nil)
	res, err := w.Stage(context.Background(), events.RawEvent{}, "feed")
	require.Error(t, err)
	require.Contains(t, res.Error, "entropy exhausted")
}

func TestStageReportsEncodeFailure(t *testing.T) {
	t.Parallel()

	w := NewWriter(memory.NewStagingStore(), &seqIDs{}, nil, nil)
	res, err := w.Stage(context.Background(), events.RawEvent{"bad": make(chan int)}, "feed")
	require.Error(t, err)
	require.False(t, res.Success)
}
