package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/crm-insights/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS kv_cache (
	cache_key   TEXT PRIMARY KEY,
	cache_value TEXT NOT NULL,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS demand_goals (
	id         TEXT PRIMARY KEY,
	goals      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scan_runs (
	id            TEXT PRIMARY KEY,
	window_key    TEXT NOT NULL,
	scan_trigger  TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	attempted     INTEGER NOT NULL DEFAULT 0,
	confirmed     INTEGER NOT NULL DEFAULT 0,
	remote_errors INTEGER NOT NULL DEFAULT 0,
	skipped       INTEGER NOT NULL DEFAULT 0,
	started_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_scan_runs_window ON scan_runs(window_key);
CREATE INDEX IF NOT EXISTS idx_scan_runs_started ON scan_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT cache_value FROM kv_cache WHERE cache_key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: get %s", key)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_cache (cache_key, cache_value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET cache_value = excluded.cache_value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set %s", key)
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_cache WHERE cache_key = ?`, key)
	return eris.Wrapf(err, "sqlite: delete %s", key)
}

func (s *SQLiteStore) LoadGoals(ctx context.Context) (*model.DemandGoals, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT goals FROM demand_goals WHERE id = ?`, goalsKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load goals")
	}
	var g model.DemandGoals
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal goals")
	}
	return &g, nil
}

func (s *SQLiteStore) SaveGoals(ctx context.Context, goals model.DemandGoals) error {
	data, err := json.Marshal(goals)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal goals")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO demand_goals (id, goals, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET goals = excluded.goals, updated_at = excluded.updated_at`,
		goalsKey, string(data), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save goals")
}

func (s *SQLiteStore) CreateScanRun(ctx context.Context, windowKey string, trigger model.ScanTrigger) (*model.ScanRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_runs (id, window_key, scan_trigger, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, windowKey, string(trigger), string(model.ScanStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert scan run")
	}
	return &model.ScanRun{
		ID:        id,
		WindowKey: windowKey,
		Trigger:   trigger,
		Status:    model.ScanStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) FinishScanRun(ctx context.Context, runID string, status model.ScanStatus, counts model.ScanCounts) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scan_runs SET status = ?, attempted = ?, confirmed = ?, remote_errors = ?, skipped = ?, finished_at = ?
		 WHERE id = ?`,
		string(status), counts.Attempted, counts.Confirmed, counts.RemoteErrors, counts.Skipped, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish scan run %s", runID)
	}
	return checkRowsAffected(res, "scan run", runID)
}

func (s *SQLiteStore) ListScanRuns(ctx context.Context, filter RunFilter) ([]model.ScanRun, error) {
	query := `SELECT id, window_key, scan_trigger, status, attempted, confirmed, remote_errors, skipped, started_at, finished_at
		FROM scan_runs WHERE 1=1`
	var args []any

	if filter.WindowKey != "" {
		query += ` AND window_key = ?`
		args = append(args, filter.WindowKey)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scan runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.ScanRun
	for rows.Next() {
		var (
			r        model.ScanRun
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.WindowKey, &r.Trigger, &r.Status, &r.Attempted, &r.Confirmed,
			&r.RemoteErrors, &r.Skipped, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run row")
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list scan runs iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
