package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/o2c-export/internal/model"
	"github.com/sells-group/o2c-export/internal/store"
)

// MetricsSnapshot holds a point-in-time view of export run health.
type MetricsSnapshot struct {
	RunsTotal      int     `json:"runs_total"`
	RunsComplete   int     `json:"runs_complete"`
	RunsFailed     int     `json:"runs_failed"`
	RunsInProgress int     `json:"runs_in_progress"`
	FailRate       float64 `json:"fail_rate"`
	RowsExported   int     `json:"rows_exported"`
	FilesWritten   int     `json:"files_written"`

	// ConsecutiveFailures counts failed runs since the most recent success.
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`

	LastSuccessAt     time.Time `json:"last_success_at"`
	LastSuccessPeriod string    `json:"last_success_period,omitempty"`
	// LatestPeriod is the newest YYYY-MM any run has exported successfully.
	LatestPeriod string `json:"latest_period,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the slice of store.Store the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from the run store.
type Collector struct {
	store RunLister
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot over the given lookback window. The streak and
// last success look at the full recent history regardless of the window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Newest first.
	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: 1000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	streakOpen := true
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			if snap.LastSuccessAt.IsZero() {
				snap.LastSuccessAt = r.UpdatedAt
				snap.LastSuccessPeriod = r.Period
			}
			if r.Period > snap.LatestPeriod {
				snap.LatestPeriod = r.Period
			}
			streakOpen = false
		case model.RunStatusFailed:
			if streakOpen {
				snap.ConsecutiveFailures++
				if snap.LastError == "" {
					snap.LastError = r.Error
				}
			}
		}

		if lookbackHours > 0 && r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch {
		case r.Status == model.RunStatusComplete:
			snap.RunsComplete++
		case r.Status == model.RunStatusFailed:
			snap.RunsFailed++
		default:
			snap.RunsInProgress++
		}
		if r.Result != nil {
			snap.FilesWritten += len(r.Result.Files)
			for _, f := range r.Result.Files {
				snap.RowsExported += f.Rows
			}
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	return snap, nil
}
