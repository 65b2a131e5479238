package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-insights/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRemoteErrorRate AlertType = "remote_error_rate"
	AlertScansSkipped    AlertType = "scans_skipped"
	AlertStaleScans      AlertType = "stale_scans"
)

// minAttempts is how many remote lookups the lookback needs before the
// error rate is judged.
const minAttempts = 10

// serviceName tags every notification.
const serviceName = "crm-insights"

// Alert is one breached threshold.
type Alert struct {
	Type     AlertType      `json:"type"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// Notification is the webhook payload: the alerts raised by one check and
// the snapshot they were raised from.
type Notification struct {
	Service  string    `json:"service"`
	Alerts   []Alert   `json:"alerts"`
	Snapshot *Snapshot `json:"snapshot"`
	SentAt   time.Time `json:"sent_at"`
}

// rule inspects a snapshot and reports an alert when its threshold is
// breached.
type rule func(cfg config.MonitoringConfig, snap *Snapshot) (Alert, bool)

var rules = []rule{remoteErrorRule, skippedRule, staleRule}

func remoteErrorRule(cfg config.MonitoringConfig, snap *Snapshot) (Alert, bool) {
	if snap.Attempted < minAttempts || snap.RemoteErrorRate <= cfg.RemoteErrorRateThreshold {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertRemoteErrorRate,
		Severity: "high",
		Message: fmt.Sprintf("CRM lookup error rate %.1f%% is above %.1f%% (%d of %d lookups, last %dh)",
			snap.RemoteErrorRate*100, cfg.RemoteErrorRateThreshold*100,
			snap.RemoteErrors, snap.Attempted, snap.LookbackHours),
		Details: map[string]any{
			"error_rate": snap.RemoteErrorRate,
			"threshold":  cfg.RemoteErrorRateThreshold,
			"errors":     snap.RemoteErrors,
			"attempted":  snap.Attempted,
		},
	}, true
}

func skippedRule(_ config.MonitoringConfig, snap *Snapshot) (Alert, bool) {
	if snap.Skipped == 0 {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertScansSkipped,
		Severity: "medium",
		Message:  fmt.Sprintf("%d deal(s) were not searched because the CRM circuit was open (last %dh)", snap.Skipped, snap.LookbackHours),
		Details:  map[string]any{"skipped": snap.Skipped, "scans": snap.ScansTotal},
	}, true
}

func staleRule(_ config.MonitoringConfig, snap *Snapshot) (Alert, bool) {
	if snap.StaleRuns == 0 {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertStaleScans,
		Severity: "low",
		Message:  fmt.Sprintf("%d scan run(s) still marked running after %s", snap.StaleRuns, staleAfter),
		Details:  map[string]any{"stale_runs": snap.StaleRuns},
	}, true
}

// Alerter turns snapshots into alerts and posts them to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts snap breaches, in rule order.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	for _, r := range rules {
		if alert, ok := r(a.cfg, snap); ok {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// Enabled reports whether a webhook is configured.
func (a *Alerter) Enabled() bool {
	return a.cfg.WebhookURL != ""
}

// Notify posts alerts in a single notification. It is a no-op without a
// webhook or alerts.
func (a *Alerter) Notify(ctx context.Context, snap *Snapshot, alerts []Alert) error {
	if !a.Enabled() || len(alerts) == 0 {
		return nil
	}

	payload, err := json.Marshal(Notification{
		Service:  serviceName,
		Alerts:   alerts,
		Snapshot: snap,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook status %d", resp.StatusCode)
	}
	return nil
}
