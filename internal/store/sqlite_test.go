package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/reconcile"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore_ImplementsCache(t *testing.T) {
	var _ reconcile.Cache = (*SQLiteStore)(nil)
	var _ Store = (*SQLiteStore)(nil)
}

func TestSQLiteStore_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSQLiteStore_KeyValue(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "deep-scan:2025-03-01_2025-03-31")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "deep-scan:2025-03-01_2025-03-31", `["C"]`))
	require.NoError(t, s.Set(ctx, "deep-scan:2025-03-01_2025-03-31", `["C","Z"]`))

	v, ok, err := s.Get(ctx, "deep-scan:2025-03-01_2025-03-31")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["C","Z"]`, v)

	require.NoError(t, s.Delete(ctx, "deep-scan:2025-03-01_2025-03-31"))
	_, ok, err = s.Get(ctx, "deep-scan:2025-03-01_2025-03-31")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Set(ctx, "deep-scan:open_2025-03-31", `["A"]`))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	v, ok, err := s.Get(ctx, "deep-scan:open_2025-03-31")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["A"]`, v)
}

func TestSQLiteStore_Goals(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	g, err := s.LoadGoals(ctx)
	require.NoError(t, err)
	assert.Nil(t, g)

	want := model.DemandGoals{
		Channels:       map[string]model.ChannelGoal{"Meta": {Revenue: 50000, Pipeline: 200000}},
		ConversionRate: 12.5,
	}
	require.NoError(t, s.SaveGoals(ctx, want))
	want.ConversionRate = 15
	require.NoError(t, s.SaveGoals(ctx, want))

	g, err = s.LoadGoals(ctx)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, want, *g)
}

func TestSQLiteStore_ScanRuns(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	first, err := s.CreateScanRun(ctx, "2025-03-01_2025-03-31", model.ScanTriggerAuto)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, model.ScanStatusRunning, first.Status)

	second, err := s.CreateScanRun(ctx, "2025-02-01_2025-02-28", model.ScanTriggerManual)
	require.NoError(t, err)

	counts := model.ScanCounts{Attempted: 4, Confirmed: 2, RemoteErrors: 1}
	require.NoError(t, s.FinishScanRun(ctx, first.ID, model.ScanStatusComplete, counts))

	runs, err := s.ListScanRuns(ctx, RunFilter{WindowKey: "2025-03-01_2025-03-31"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, model.ScanTriggerAuto, got.Trigger)
	assert.Equal(t, model.ScanStatusComplete, got.Status)
	assert.Equal(t, 4, got.Attempted)
	assert.Equal(t, 2, got.Confirmed)
	assert.Equal(t, 1, got.RemoteErrors)
	require.NotNil(t, got.FinishedAt)

	all, err := s.ListScanRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	limited, err := s.ListScanRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	open, err := s.ListScanRuns(ctx, RunFilter{WindowKey: "2025-02-01_2025-02-28"})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second.ID, open[0].ID)
	assert.Nil(t, open[0].FinishedAt)
}

func TestSQLiteStore_FinishUnknownRun(t *testing.T) {
	s := newTestSQLite(t)
	err := s.FinishScanRun(context.Background(), "missing", model.ScanStatusCancelled, model.ScanCounts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan run not found")
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestOpen_SQLite(t *testing.T) {
	s, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "open.db"))
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
}
