// Package monitoring exposes reconciliation metrics to Prometheus and raises
// webhook alerts when deep scans degrade.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/reconcile"
	"github.com/sells-group/crm-insights/internal/resilience"
)

const namespace = "crm_insights"

// Metrics holds the Prometheus collectors for fetches and scans.
type Metrics struct {
	DealsScanned  *prometheus.CounterVec
	RemoteErrors  *prometheus.CounterVec
	ScanProgress  prometheus.Gauge
	Scans         *prometheus.CounterVec
	ScanDuration  prometheus.Histogram
	FetchDuration *prometheus.HistogramVec

	reg prometheus.Registerer
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DealsScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "deals_scanned_total",
			Help:      "Deals resolved by a deep scan, by resulting tier.",
		}, []string{"tier"}),
		RemoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "remote_errors_total",
			Help:      "Failed CRM lookups during deep scans.",
		}, []string{"op", "class"}),
		ScanProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "scan_progress_percent",
			Help:      "Progress of the current or last deep scan.",
		}),
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "scans_total",
			Help:      "Deep scans by trigger and final status.",
		}, []string{"trigger", "status"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "scan_duration_seconds",
			Help:      "Wall time of deep scans.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crm",
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of bulk record fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		reg: reg,
	}
	if reg != nil {
		reg.MustRegister(m.DealsScanned, m.RemoteErrors, m.ScanProgress, m.Scans, m.ScanDuration, m.FetchDuration)
	}
	return m
}

// Hooks returns reconcile hooks that feed the collectors. Each next hook,
// when set, is called after the metric is updated.
func (m *Metrics) Hooks(next reconcile.Hooks) reconcile.Hooks {
	return reconcile.Hooks{
		OnProgress: func(pct float64) {
			m.ScanProgress.Set(pct)
			if next.OnProgress != nil {
				next.OnProgress(pct)
			}
		},
		OnRemoteError: func(op string, err error) {
			m.RemoteErrors.WithLabelValues(op, resilience.Classify(err)).Inc()
			if next.OnRemoteError != nil {
				next.OnRemoteError(op, err)
			}
		},
		OnScanned: func(dealID string, tier model.MatchTier) {
			m.DealsScanned.WithLabelValues(string(tier)).Inc()
			if next.OnScanned != nil {
				next.OnScanned(dealID, tier)
			}
		},
	}
}

// WatchBreaker exports the state and consecutive failure count of the CRM
// circuit breaker. It is a no-op without a registerer or breaker.
func (m *Metrics) WatchBreaker(cb *resilience.CircuitBreaker) error {
	if m.reg == nil || cb == nil {
		return nil
	}
	state := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "crm",
		Name:      "circuit_state",
		Help:      "CRM circuit breaker state: 0 closed, 1 open, 2 half-open.",
	}, func() float64 { return float64(cb.State()) })
	failures := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "crm",
		Name:      "circuit_consecutive_failures",
		Help:      "Consecutive CRM lookup failures counted by the circuit breaker.",
	}, func() float64 {
		n, _ := cb.Counters()
		return float64(n)
	})
	for _, c := range []prometheus.Collector{state, failures} {
		if err := m.reg.Register(c); err != nil {
			return eris.Wrap(err, "monitoring: register circuit gauges")
		}
	}
	return nil
}

// ObserveScan records a finished scan.
func (m *Metrics) ObserveScan(trigger model.ScanTrigger, status model.ScanStatus, elapsed time.Duration) {
	m.Scans.WithLabelValues(string(trigger), string(status)).Inc()
	m.ScanDuration.Observe(elapsed.Seconds())
}

// ObserveFetch records a bulk fetch.
func (m *Metrics) ObserveFetch(elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.FetchDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
