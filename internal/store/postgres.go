package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sub-zapper/internal/db"
	"github.com/sells-group/sub-zapper/internal/model"
)

// PostgresStore implements Store using pgxpool. Completed runs also have
// their subscriptions copied into run_subscriptions for ad-hoc SQL.
type PostgresStore struct {
	pool db.Pool
	now  func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = min(minConns, maxConns)
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
	return newPostgresStore(pool), nil
}

func newPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status         TEXT NOT NULL DEFAULT 'running',
	source         TEXT NOT NULL DEFAULT '',
	analyzed_count INTEGER NOT NULL DEFAULT 0,
	result         JSONB,
	error          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_subscriptions (
	run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	id              TEXT NOT NULL,
	name            TEXT NOT NULL,
	type            TEXT NOT NULL,
	price           DOUBLE PRECISION,
	renewal_date    TEXT,
	email           TEXT,
	unsubscribe_url TEXT,
	detected_date   TEXT NOT NULL,
	PRIMARY KEY (run_id, id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_subscriptions_type ON run_subscriptions(type);
`

var subscriptionColumns = []string{
	"run_id", "id", "name", "type", "price", "renewal_date", "email", "unsubscribe_url", "detected_date",
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, source string, analyzedCount int) (*model.Run, error) {
	id := uuid.New().String()
	now := s.now()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, source, analyzed_count, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(model.RunStatusRunning), source, analyzedCount, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:            id,
		Status:        model.RunStatusRunning,
		Source:        source,
		AnalyzedCount: analyzedCount,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.AnalysisResult) (err error) {
	if result == nil {
		return eris.New("postgres: complete run: nil result")
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx) //nolint:errcheck
		}
	}()

	tag, err := tx.Exec(ctx,
		`UPDATE runs SET result = $1, analyzed_count = $2, status = $3, updated_at = $4 WHERE id = $5`,
		resultJSON, result.AnalyzedCount, string(model.RunStatusComplete), s.now(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", runID)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM run_subscriptions WHERE run_id = $1`, runID); err != nil {
		return eris.Wrapf(err, "postgres: clear subscriptions %s", runID)
	}
	if _, err = db.CopyFrom(ctx, tx, "run_subscriptions", subscriptionColumns, subscriptionRows(runID, result.Subscriptions)); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func subscriptionRows(runID string, subs []model.SubscriptionRecord) [][]any {
	rows := make([][]any, 0, len(subs))
	for _, sub := range subs {
		rows = append(rows, []any{
			runID, sub.ID, sub.Name, string(sub.Type), sub.Price,
			nullable(sub.RenewalDate), nullable(sub.Email), nullable(sub.UnsubscribeURL),
			sub.DetectedDate,
		})
	}
	return rows
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET error = $1, status = $2, updated_at = $3 WHERE id = $4`,
		errMsg, string(model.RunStatusFailed), s.now(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", runID)
	}
	return nil
}

const postgresRunColumns = `id, status, source, analyzed_count, result, error, created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPostgresRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultNull *[]byte

	if err := row.Scan(&r.ID, &r.Status, &r.Source, &r.AnalyzedCount, &resultNull, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if resultNull != nil && len(*resultNull) > 0 {
		r.Result = &model.AnalysisResult{}
		if err := json.Unmarshal(*resultNull, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}
