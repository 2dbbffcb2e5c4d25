package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/o2c-export/internal/config"
	"github.com/sells-group/o2c-export/internal/model"
	"github.com/sells-group/o2c-export/internal/resilience"
)

func fixedNow(a *Alerter, t time.Time) {
	a.now = func() time.Time { return t }
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		ConsecutiveFailures: 2,
		StaleAfterDays:      35,
	})
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	fixedNow(a, now)

	snap := &MetricsSnapshot{
		ConsecutiveFailures: 1,
		LastSuccessAt:       now.AddDate(0, 0, -10),
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ConsecutiveFailures(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ConsecutiveFailures: 2})

	alerts := a.Evaluate(&MetricsSnapshot{ConsecutiveFailures: 3, LastError: "warehouse: connect"})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertConsecutiveFailures, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "3 consecutive")
	assert.Equal(t, "warehouse: connect", alerts[0].Details["last_error"])
}

func TestAlerter_Evaluate_StaleExport(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{StaleAfterDays: 35})
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	fixedNow(a, now)

	alerts := a.Evaluate(&MetricsSnapshot{
		LastSuccessAt:     now.AddDate(0, 0, -40),
		LastSuccessPeriod: "2025-05",
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleExport, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "40 days")
	assert.Contains(t, alerts[0].Message, "2025-05")
}

func TestAlerter_Evaluate_NeverSucceededIsNotStale(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{StaleAfterDays: 1})
	assert.Empty(t, a.Evaluate(&MetricsSnapshot{}))
}

func TestAlerter_Evaluate_DisabledThresholds(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	alerts := a.Evaluate(&MetricsSnapshot{
		ConsecutiveFailures: 10,
		LastSuccessAt:       time.Now().AddDate(-1, 0, 0),
	})
	assert.Empty(t, alerts)
}

func TestAlerter_RunFailed_Webhook(t *testing.T) {
	var got Alert
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	run := &model.Run{ID: "run-1", Period: "2025-06", Trigger: model.TriggerAPI}

	err := a.RunFailed(context.Background(), run, "item_query", errors.New("relation does not exist"))
	require.NoError(t, err)
	assert.Equal(t, AlertRunFailed, got.Type)
	assert.Contains(t, got.Message, "2025-06")
	assert.Contains(t, got.Message, "item_query")
	assert.Contains(t, got.Message, "relation does not exist")
	assert.Equal(t, "run-1", got.Details["run_id"])
}

func TestAlerter_RunFailed_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.NoError(t, a.RunFailed(context.Background(), &model.Run{}, "connect", errors.New("x")))
}

func TestAlerter_RunFailed_WebhookError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	a.backoff = resilience.Backoff{Attempts: 2, Initial: time.Millisecond}
	err := a.RunFailed(context.Background(), &model.Run{ID: "r"}, "export", errors.New("disk full"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlerter_RunFailed_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	a.backoff = resilience.Backoff{Attempts: 3, Initial: time.Millisecond}
	err := a.RunFailed(context.Background(), &model.Run{ID: "r"}, "export", errors.New("disk full"))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	alerts := []Alert{
		{Type: AlertConsecutiveFailures, Severity: "high", Message: "test alert 1"},
		{Type: AlertStaleExport, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailed, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	a.backoff = resilience.Backoff{Attempts: 1}
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailed, Message: "test"}})
	assert.Equal(t, 0, sent)
}
