package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/o2c-export/internal/config"
	"github.com/sells-group/o2c-export/internal/period"
)

// AlertMissedPeriod fires when a closed reporting month has no successful export.
const AlertMissedPeriod AlertType = "missed_period"

// Checker watches export health from the serve command and alerts when the
// run history looks unhealthy or a month was never exported.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	cutoffDay int
	now       func() time.Time
}

// NewChecker builds a Checker. cutoffDay is the export cutoff used to decide
// which month is overdue.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, cutoffDay int) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		cutoffDay: cutoffDay,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run checks once immediately and then on every interval until ctx ends.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("watching export health",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
		zap.Int("cutoff_day", c.cutoffDay),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if alerts, err := c.Check(ctx); err != nil {
			log.Error("health check failed", zap.Error(err))
		} else if len(alerts) > 0 {
			sent := c.alerter.SendAlerts(ctx, alerts)
			log.Info("health check raised alerts",
				zap.Int("alerts", len(alerts)),
				zap.Int("sent", sent),
			)
		}

		select {
		case <-ctx.Done():
			log.Info("health watch stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects a snapshot and returns every alert it warrants without
// sending anything.
func (c *Checker) Check(ctx context.Context) ([]Alert, error) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		return nil, err
	}
	alerts := c.alerter.Evaluate(snap)
	if a, ok := c.missedPeriod(snap); ok {
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// DuePeriod is the newest month that should already be exported on today:
// the month before the one the default period currently points at.
func DuePeriod(today time.Time, cutoffDay int) period.Period {
	current := period.Default(today, cutoffDay)
	prev := current.Start.AddDate(0, -1, 0)
	return period.Month(prev.Year(), prev.Month())
}

func (c *Checker) missedPeriod(snap *MetricsSnapshot) (Alert, bool) {
	now := c.now()
	due := DuePeriod(now, c.cutoffDay).Month()
	if snap.LatestPeriod >= due {
		return Alert{}, false
	}
	latest := snap.LatestPeriod
	if latest == "" {
		latest = "none"
	}
	return Alert{
		Type:     AlertMissedPeriod,
		Severity: "high",
		Message:  fmt.Sprintf("Orders-to-cash export for %s is overdue (latest exported: %s)", due, latest),
		Details: map[string]any{
			"due_period":    due,
			"latest_period": snap.LatestPeriod,
		},
		Timestamp: now,
	}, true
}
