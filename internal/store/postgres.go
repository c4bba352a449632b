package store

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/attribution-cli/internal/attribution"
	"github.com/sells-group/attribution-cli/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID keys the advisory lock held while migrating.
const migrationLockID = 4271983

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	d       dialect
}

// NewPostgres connects to Postgres and returns a store over the pool.
func NewPostgres(ctx context.Context, connString string, maxConns int32) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, maxConns)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, d: postgresDialect}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns its lifetime.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, d: postgresDialect}
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Migrate applies pending SQL migrations in filename order under an
// advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration advisory lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS attribution;
		CREATE TABLE IF NOT EXISTS attribution.schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	names, err := migrationNames()
	if err != nil {
		return err
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO attribution.schema_migrations (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
	}
	return nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: read migration dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM attribution.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "postgres: iterate migrations")
}

func (s *PostgresStore) insertRun(ctx context.Context, b attribution.Batch, status RunStatus, errMsg string) (*Run, error) {
	now := time.Now().UTC()
	r := &Run{
		ID:        uuid.New().String(),
		Website:   b.Website,
		ViewID:    b.ViewID,
		Date:      b.Date,
		Status:    status,
		Error:     errMsg,
		StartedAt: now,
	}
	if status != RunStatusRunning {
		r.CompletedAt = &now
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO attribution.runs (id, website, view_id, ga_date, status, error, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.Website, r.ViewID, r.Date, string(r.Status), r.Error, r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert run for %s", b)
	}
	return r, nil
}

func (s *PostgresStore) StartRun(ctx context.Context, b attribution.Batch) (*Run, error) {
	return s.insertRun(ctx, b, RunStatusRunning, "")
}

func (s *PostgresStore) SkipRun(ctx context.Context, b attribution.Batch, reason string) (*Run, error) {
	return s.insertRun(ctx, b, RunStatusSkipped, reason)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result RunResult) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE attribution.runs
		 SET status = $1, transactions = $2, rejected = $3, duplicates = $4, rows_written = $5, completed_at = $6
		 WHERE id = $7`,
		string(RunStatusComplete), result.Transactions, result.Rejected, result.Duplicates,
		result.RowsWritten, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE attribution.runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(RunStatusFailed), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

// LastSuccess returns the most recent complete run for a website and day,
// or nil if there is none.
func (s *PostgresStore) LastSuccess(ctx context.Context, website string, date time.Time) (*Run, error) {
	runs, err := s.ListRuns(ctx, RunFilter{Website: website, Date: date, Status: RunStatusComplete, Limit: 1})
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: last success for %s", website)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	query, args, err := s.d.builder.Select(runColumns...).From(s.d.runs).
		Where("id = ?", runID).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build get run query")
	}

	r, err := scanPostgresRun(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query, args, err := s.d.runsQuery(filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list runs query")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveCredits replaces the batch's credit rows in one transaction.
func (s *PostgresStore) SaveCredits(ctx context.Context, b attribution.Batch, rows []attribution.CreditRow) (int64, error) {
	copyRows := make([][]any, len(rows))
	pos := 0
	for i, r := range rows {
		if i > 0 && rows[i-1].TransactionID != r.TransactionID {
			pos = 0
		}
		copyRows[i] = []any{
			r.Date, r.Website, r.TransactionID, r.Source, r.Medium, r.Campaign,
			toNumeric(r.RevenueProportion), pos,
		}
		pos++
	}

	res, err := db.ReplaceRows(ctx, s.pool, db.ReplaceConfig{
		Schema:    "attribution",
		Table:     "revenue_credits",
		Columns:   creditInsertColumns,
		MatchCols: []string{"website", "ga_date"},
		MatchArgs: []any{b.Website, b.Date},
	}, copyRows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: save credits for %s", b)
	}

	zap.L().Debug("credits replaced",
		zap.String("component", "store.postgres"),
		zap.String("batch", b.String()),
		zap.Int64("deleted", res.Deleted),
		zap.Int64("inserted", res.Inserted),
	)
	return res.Inserted, nil
}

func (s *PostgresStore) ListCredits(ctx context.Context, filter CreditFilter) ([]attribution.CreditRow, error) {
	query, args, err := s.d.creditsQuery(filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list credits query")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list credits")
	}
	defer rows.Close()

	var out []attribution.CreditRow
	for rows.Next() {
		var r attribution.CreditRow
		var share pgtype.Numeric
		if err := rows.Scan(&r.Date, &r.Website, &r.TransactionID, &r.Source, &r.Medium, &r.Campaign, &share); err != nil {
			return nil, eris.Wrap(err, "postgres: scan credit")
		}
		r.RevenueProportion = fromNumeric(share)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list credits iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPostgresRun(row scannable) (*Run, error) {
	var r Run
	var status string
	err := row.Scan(&r.ID, &r.Website, &r.ViewID, &r.Date, &status,
		&r.Transactions, &r.Rejected, &r.Duplicates, &r.RowsWritten,
		&r.Error, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	return &r, nil
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
