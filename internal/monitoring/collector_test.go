package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/o2c-export/internal/model"
	"github.com/sells-group/o2c-export/internal/store"
)

type mockLister struct {
	runs []model.Run
	err  error
}

func (m *mockLister) ListRuns(_ context.Context, _ store.RunFilter) ([]model.Run, error) {
	return m.runs, m.err
}

func TestCollector_Collect(t *testing.T) {
	now := time.Now().UTC()
	lister := &mockLister{runs: []model.Run{
		{ID: "5", Status: model.RunStatusKeysStaged, CreatedAt: now},
		{ID: "4", Status: model.RunStatusFailed, Error: "latest failure", CreatedAt: now.Add(-time.Hour)},
		{ID: "3", Status: model.RunStatusFailed, Error: "older failure", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "2", Status: model.RunStatusComplete, Period: "2025-06", CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-3 * time.Hour),
			Result: &model.RunResult{Files: []model.ExportFile{{Rows: 10}, {Rows: 5}}}},
		{ID: "1", Status: model.RunStatusFailed, CreatedAt: now.Add(-100 * time.Hour)},
	}}

	snap, err := NewCollector(lister).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 2, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsInProgress)
	assert.InDelta(t, 2.0/3.0, snap.FailRate, 0.001)
	assert.Equal(t, 2, snap.FilesWritten)
	assert.Equal(t, 15, snap.RowsExported)
	assert.Equal(t, 2, snap.ConsecutiveFailures)
	assert.Equal(t, "latest failure", snap.LastError)
	assert.Equal(t, "2025-06", snap.LastSuccessPeriod)
	assert.Equal(t, "2025-06", snap.LatestPeriod)
	assert.False(t, snap.LastSuccessAt.IsZero())
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(&mockLister{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.FailRate)
	assert.True(t, snap.LastSuccessAt.IsZero())
}

func TestCollector_ListError(t *testing.T) {
	_, err := NewCollector(&mockLister{err: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list runs")
}
