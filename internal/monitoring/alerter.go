package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/attribution-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertStuckRuns      AlertType = "stuck_runs"
	AlertRejectionRate  AlertType = "rejection_rate"
)

// minFinishedRuns and minTransactions keep small samples from alerting.
const (
	minFinishedRuns = 5
	minTransactions = 20
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= minFinishedRuns && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh; websites: %s)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
				strings.Join(snap.FailedWebsites, ", "),
			),
			Details: map[string]any{
				"failure_rate":    snap.FailRate,
				"threshold":       a.cfg.FailureRateThreshold,
				"failed":          snap.RunsFailed,
				"finished":        finished,
				"failed_websites": snap.FailedWebsites,
			},
			Timestamp: now,
		})
	}

	if snap.RunsStuck > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStuckRuns,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d run(s) still running after %d minutes",
				snap.RunsStuck, a.cfg.StuckAfterMins,
			),
			Details: map[string]any{
				"stuck":   snap.RunsStuck,
				"running": snap.RunsRunning,
			},
			Timestamp: now,
		})
	}

	seen := snap.Transactions + snap.Rejected
	if a.cfg.RejectionRateThreshold > 0 && seen >= minTransactions && snap.RejectionRate > a.cfg.RejectionRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRejectionRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of transactions rejected in last %dh (%d of %d), threshold %.1f%%",
				snap.RejectionRate*100, snap.LookbackHours,
				snap.Rejected, seen, a.cfg.RejectionRateThreshold*100,
			),
			Details: map[string]any{
				"rejection_rate": snap.RejectionRate,
				"threshold":      a.cfg.RejectionRateThreshold,
				"rejected":       snap.Rejected,
				"transactions":   snap.Transactions,
			},
			Timestamp: now,
		})
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

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

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
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
