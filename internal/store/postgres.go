package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-insights/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS kv_cache (
	cache_key   TEXT PRIMARY KEY,
	cache_value TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS demand_goals (
	id         TEXT PRIMARY KEY,
	goals      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scan_runs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	window_key    TEXT NOT NULL,
	scan_trigger  TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	attempted     INTEGER NOT NULL DEFAULT 0,
	confirmed     INTEGER NOT NULL DEFAULT 0,
	remote_errors INTEGER NOT NULL DEFAULT 0,
	skipped       INTEGER NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_scan_runs_window ON scan_runs(window_key);
CREATE INDEX IF NOT EXISTS idx_scan_runs_started ON scan_runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT cache_value FROM kv_cache WHERE cache_key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: get %s", key)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_cache (cache_key, cache_value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (cache_key) DO UPDATE SET cache_value = EXCLUDED.cache_value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set %s", key)
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kv_cache WHERE cache_key = $1`, key)
	return eris.Wrapf(err, "postgres: delete %s", key)
}

func (s *PostgresStore) LoadGoals(ctx context.Context) (*model.DemandGoals, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT goals FROM demand_goals WHERE id = $1`, goalsKey).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load goals")
	}
	var g model.DemandGoals
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal goals")
	}
	return &g, nil
}

func (s *PostgresStore) SaveGoals(ctx context.Context, goals model.DemandGoals) error {
	data, err := json.Marshal(goals)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal goals")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO demand_goals (id, goals, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET goals = EXCLUDED.goals, updated_at = EXCLUDED.updated_at`,
		goalsKey, data, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save goals")
}

func (s *PostgresStore) CreateScanRun(ctx context.Context, windowKey string, trigger model.ScanTrigger) (*model.ScanRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO scan_runs (id, window_key, scan_trigger, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, windowKey, string(trigger), string(model.ScanStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert scan run")
	}
	return &model.ScanRun{
		ID:        id,
		WindowKey: windowKey,
		Trigger:   trigger,
		Status:    model.ScanStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) FinishScanRun(ctx context.Context, runID string, status model.ScanStatus, counts model.ScanCounts) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scan_runs SET status = $1, attempted = $2, confirmed = $3, remote_errors = $4, skipped = $5, finished_at = $6
		 WHERE id = $7`,
		string(status), counts.Attempted, counts.Confirmed, counts.RemoteErrors, counts.Skipped, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish scan run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("scan run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListScanRuns(ctx context.Context, filter RunFilter) ([]model.ScanRun, error) {
	query := `SELECT id, window_key, scan_trigger, status, attempted, confirmed, remote_errors, skipped, started_at, finished_at
		FROM scan_runs`
	var args []any

	if filter.WindowKey != "" {
		args = append(args, filter.WindowKey)
		query += ` WHERE window_key = $1`
	}
	args = append(args, limitOrDefault(filter.Limit), max(filter.Offset, 0))
	if filter.WindowKey != "" {
		query += ` ORDER BY started_at DESC LIMIT $2 OFFSET $3`
	} else {
		query += ` ORDER BY started_at DESC LIMIT $1 OFFSET $2`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scan runs")
	}
	defer rows.Close()

	var runs []model.ScanRun
	for rows.Next() {
		var (
			r               model.ScanRun
			trigger, status string
			finished        *time.Time
		)
		if err := rows.Scan(&r.ID, &r.WindowKey, &trigger, &status, &r.Attempted, &r.Confirmed,
			&r.RemoteErrors, &r.Skipped, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run row")
		}
		r.Trigger = model.ScanTrigger(trigger)
		r.Status = model.ScanStatus(status)
		r.FinishedAt = finished
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list scan runs iterate")
}
