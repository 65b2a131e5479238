package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/crm-insights/internal/config"
)

// defaultCheckInterval applies when none is configured.
const defaultCheckInterval = 5 * time.Minute

// Checker evaluates scan health on a fixed interval. An alert is posted
// when its condition starts; it is posted again only after the condition
// clears and returns.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	lookback  int
	interval  time.Duration

	// firing holds the alert types already delivered for the current episode.
	firing map[AlertType]bool
}

// NewChecker creates a background scan health checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		lookback:  cfg.LookbackWindowHours,
		interval:  interval,
		firing:    make(map[AlertType]bool),
	}
}

// Run blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().Named("monitoring")
	log.Info("scan health checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
		zap.Bool("webhook", c.alerter.Enabled()),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("scan health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check runs one evaluation and returns how many new alerts were delivered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Warn("collect scan runs", zap.Error(err))
		return 0
	}

	alerts := c.alerter.Evaluate(snap)
	active := make(map[AlertType]bool, len(alerts))
	var raised []Alert
	for _, a := range alerts {
		active[a.Type] = true
		if !c.firing[a.Type] {
			raised = append(raised, a)
		}
	}
	for t := range c.firing {
		if !active[t] {
			log.Info("alert cleared", zap.String("type", string(t)))
			delete(c.firing, t)
		}
	}
	if len(raised) == 0 {
		return 0
	}

	for _, a := range raised {
		log.Warn(a.Message, zap.String("type", string(a.Type)), zap.String("severity", a.Severity))
	}
	sent := 0
	if c.alerter.Enabled() {
		if err := c.alerter.Notify(ctx, snap, raised); err != nil {
			// Left out of firing so the next tick retries.
			log.Error("deliver alerts", zap.Int("alerts", len(raised)), zap.Error(err))
			return 0
		}
		sent = len(raised)
	}
	for _, a := range raised {
		c.firing[a.Type] = true
	}
	return sent
}
