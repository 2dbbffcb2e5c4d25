package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/o2c-export/internal/config"
	"github.com/sells-group/o2c-export/internal/model"
	"github.com/sells-group/o2c-export/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailed           AlertType = "run_failed"
	AlertConsecutiveFailures AlertType = "consecutive_failures"
	AlertStaleExport         AlertType = "stale_export"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns failed runs and unhealthy snapshots into webhook alerts.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	backoff resilience.Backoff
	now     func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		backoff: resilience.DefaultBackoff(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunFailed sends an immediate alert for a failed run. Without a webhook it
// is a no-op.
func (a *Alerter) RunFailed(ctx context.Context, run *model.Run, stage string, cause error) error {
	if a.cfg.WebhookURL == "" || run == nil {
		return nil
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	alert := Alert{
		Type:     AlertRunFailed,
		Severity: "high",
		Message:  fmt.Sprintf("Orders-to-cash export for %s failed during %s: %s", run.Period, stage, msg),
		Details: map[string]any{
			"run_id":  run.ID,
			"period":  run.Period,
			"trigger": string(run.Trigger),
			"stage":   stage,
		},
		Timestamp: a.now(),
	}
	return a.sendWebhook(ctx, alert)
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := a.now()

	if a.cfg.ConsecutiveFailures > 0 && snap.ConsecutiveFailures >= a.cfg.ConsecutiveFailures {
		alerts = append(alerts, Alert{
			Type:     AlertConsecutiveFailures,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d consecutive export runs failed (threshold %d)",
				snap.ConsecutiveFailures, a.cfg.ConsecutiveFailures,
			),
			Details: map[string]any{
				"consecutive_failures": snap.ConsecutiveFailures,
				"last_error":           snap.LastError,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleAfterDays > 0 && !snap.LastSuccessAt.IsZero() {
		age := now.Sub(snap.LastSuccessAt)
		if age > time.Duration(a.cfg.StaleAfterDays)*24*time.Hour {
			alerts = append(alerts, Alert{
				Type:     AlertStaleExport,
				Severity: "medium",
				Message: fmt.Sprintf(
					"No successful export for %d days (last %s, period %s)",
					int(age.Hours()/24), snap.LastSuccessAt.Format(time.DateOnly), snap.LastSuccessPeriod,
				),
				Details: map[string]any{
					"last_success_at":     snap.LastSuccessAt,
					"last_success_period": snap.LastSuccessPeriod,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert, retrying transient failures.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	_, err = resilience.Retry(ctx, a.backoff, "monitoring.webhook", nil, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.post(ctx, payload)
	})
	return err
}

func (a *Alerter) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Wrap(&resilience.StatusError{Code: resp.StatusCode}, "monitoring: webhook")
	}
	return nil
}
