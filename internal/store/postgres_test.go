package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-insights/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS kv_cache`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT cache_value FROM kv_cache WHERE cache_key = \$1`).
		WithArgs("deep-scan:open_open").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := s.Get(context.Background(), "deep-scan:open_open")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT cache_value FROM kv_cache`).
		WithArgs("deep-scan:2025-03-01_2025-03-31").
		WillReturnRows(pgxmock.NewRows([]string{"cache_value"}).AddRow(`["C"]`))

	v, ok, err := s.Get(context.Background(), "deep-scan:2025-03-01_2025-03-31")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["C"]`, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT cache_value FROM kv_cache`).
		WithArgs("k").
		WillReturnError(errors.New("connection reset"))

	_, _, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: get k")
}

func TestPostgresStore_Set_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(cache_key\)`).
		WithArgs("deep-scan:2025-03-01_2025-03-31", `["C","Z"]`, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Set(context.Background(), "deep-scan:2025-03-01_2025-03-31", `["C","Z"]`))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM kv_cache WHERE cache_key = \$1`).
		WithArgs("k").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.Delete(context.Background(), "k"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadGoals(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT goals FROM demand_goals WHERE id = \$1`).
		WithArgs("default").
		WillReturnRows(pgxmock.NewRows([]string{"goals"}).
			AddRow([]byte(`{"channels":{"Google":{"revenue":1000,"pipeline":5000}},"conversion_rate":20}`)))

	g, err := s.LoadGoals(context.Background())
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.InDelta(t, 20, g.ConversionRate, 0.001)
	assert.InDelta(t, 1000, g.Channels["Google"].Revenue, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadGoals_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT goals FROM demand_goals`).
		WithArgs("default").
		WillReturnError(pgx.ErrNoRows)

	g, err := s.LoadGoals(context.Background())
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestPostgresStore_SaveGoals(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO demand_goals`).
		WithArgs("default", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveGoals(context.Background(), model.DemandGoals{ConversionRate: 10})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateAndFinishScanRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO scan_runs`).
		WithArgs(pgxmock.AnyArg(), "2025-03-01_2025-03-31", "manual", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateScanRun(context.Background(), "2025-03-01_2025-03-31", model.ScanTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, model.ScanTriggerManual, run.Trigger)

	mock.ExpectExec(`UPDATE scan_runs SET status`).
		WithArgs("complete", 3, 1, 0, 2, pgxmock.AnyArg(), run.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = s.FinishScanRun(context.Background(), run.ID, model.ScanStatusComplete,
		model.ScanCounts{Attempted: 3, Confirmed: 1, Skipped: 2})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishScanRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE scan_runs`).
		WithArgs("cancelled", 0, 0, 0, 0, pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishScanRun(context.Background(), "missing", model.ScanStatusCancelled, model.ScanCounts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan run not found")
}

func TestPostgresStore_ListScanRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	mock.ExpectQuery(`FROM scan_runs WHERE window_key = \$1 ORDER BY started_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("2025-03-01_2025-03-31", 100, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "window_key", "scan_trigger", "status", "attempted", "confirmed", "remote_errors", "skipped", "started_at", "finished_at",
		}).AddRow("run-1", "2025-03-01_2025-03-31", "auto", "complete", 5, 2, 0, 0, started, &finished))

	runs, err := s.ListScanRuns(context.Background(), RunFilter{WindowKey: "2025-03-01_2025-03-31"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.ScanTriggerAuto, runs[0].Trigger)
	assert.Equal(t, model.ScanStatusComplete, runs[0].Status)
	require.NotNil(t, runs[0].FinishedAt)
	assert.Equal(t, finished, *runs[0].FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
