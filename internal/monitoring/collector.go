package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/store"
)

// Snapshot summarizes recorded scan runs over a lookback window.
type Snapshot struct {
	ScansTotal     int `json:"scans_total"`
	ScansComplete  int `json:"scans_complete"`
	ScansCancelled int `json:"scans_cancelled"`
	ScansRunning   int `json:"scans_running"`
	// StaleRuns are runs still marked running long after they started,
	// usually left behind by a process that exited mid-scan.
	StaleRuns int `json:"stale_runs"`

	Attempted       int     `json:"attempted"`
	Confirmed       int     `json:"confirmed"`
	RemoteErrors    int     `json:"remote_errors"`
	Skipped         int     `json:"skipped"`
	RemoteErrorRate float64 `json:"remote_error_rate"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// staleAfter is how long a run may stay running before it counts as stale.
const staleAfter = time.Hour

// RunLister is the store capability the collector needs.
type RunLister interface {
	ListScanRuns(ctx context.Context, filter store.RunFilter) ([]model.ScanRun, error)
}

// Collector gathers scan health from the run audit trail.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot of the runs started within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{LookbackHours: lookbackHours, CollectedAt: now}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListScanRuns(ctx, store.RunFilter{Limit: 1000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list scan runs")
	}

	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.ScansTotal++
		switch r.Status {
		case model.ScanStatusComplete:
			snap.ScansComplete++
		case model.ScanStatusCancelled:
			snap.ScansCancelled++
		case model.ScanStatusRunning:
			snap.ScansRunning++
			if now.Sub(r.StartedAt) > staleAfter {
				snap.StaleRuns++
			}
		}
		snap.Attempted += r.Attempted
		snap.Confirmed += r.Confirmed
		snap.RemoteErrors += r.RemoteErrors
		snap.Skipped += r.Skipped
	}
	if snap.Attempted > 0 {
		snap.RemoteErrorRate = float64(snap.RemoteErrors) / float64(snap.Attempted)
	}
	return snap, nil
}
