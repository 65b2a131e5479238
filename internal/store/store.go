// Package store persists deep-scan confirmations, demand goals and the scan
// run audit trail.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-insights/internal/model"
)

// RunFilter specifies criteria for listing scan runs.
type RunFilter struct {
	WindowKey string `json:"window_key,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the dashboard.
type Store interface {
	// Key-value cache
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	// Goals
	LoadGoals(ctx context.Context) (*model.DemandGoals, error)
	SaveGoals(ctx context.Context, goals model.DemandGoals) error

	// Scan runs
	CreateScanRun(ctx context.Context, windowKey string, trigger model.ScanTrigger) (*model.ScanRun, error)
	FinishScanRun(ctx context.Context, runID string, status model.ScanStatus, counts model.ScanCounts) error
	ListScanRuns(ctx context.Context, filter RunFilter) ([]model.ScanRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// goalsKey is the row id demand goals are stored under.
const goalsKey = "default"

// defaultListLimit caps ListScanRuns when no limit is given.
const defaultListLimit = 100

// Open returns the store for driver, which is "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "":
		if dsn == "" {
			dsn = "crm-insights.db"
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
