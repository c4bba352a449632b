package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/attribution-cli/internal/attribution"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	d  dialect
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
	return &SQLiteStore{db: db, d: sqliteDialect}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	website      TEXT NOT NULL,
	view_id      TEXT NOT NULL,
	ga_date      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	transactions INTEGER NOT NULL DEFAULT 0,
	rejected     INTEGER NOT NULL DEFAULT 0,
	duplicates   INTEGER NOT NULL DEFAULT 0,
	rows_written INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS revenue_credits (
	ga_date            TEXT NOT NULL,
	website            TEXT NOT NULL,
	transaction_id     TEXT NOT NULL,
	source             TEXT NOT NULL,
	medium             TEXT NOT NULL,
	campaign           TEXT NOT NULL,
	revenue_proportion TEXT NOT NULL,
	position           INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (website, ga_date, transaction_id, source, medium, campaign)
);

CREATE INDEX IF NOT EXISTS idx_runs_website_date ON runs(website, ga_date, status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_revenue_credits_txn ON revenue_credits(transaction_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) insertRun(ctx context.Context, b attribution.Batch, status RunStatus, errMsg string) (*Run, error) {
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
	var completed sql.NullTime
	if status != RunStatusRunning {
		r.CompletedAt = &now
		completed = sql.NullTime{Time: now, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, website, view_id, ga_date, status, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Website, r.ViewID, b.Day(), string(r.Status), r.Error, now, completed,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run for %s", b)
	}
	return r, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, b attribution.Batch) (*Run, error) {
	return s.insertRun(ctx, b, RunStatusRunning, "")
}

func (s *SQLiteStore) SkipRun(ctx context.Context, b attribution.Batch, reason string) (*Run, error) {
	return s.insertRun(ctx, b, RunStatusSkipped, reason)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result RunResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs
		 SET status = ?, transactions = ?, rejected = ?, duplicates = ?, rows_written = ?, completed_at = ?
		 WHERE id = ?`,
		string(RunStatusComplete), result.Transactions, result.Rejected, result.Duplicates,
		result.RowsWritten, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(RunStatusFailed), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

// LastSuccess returns the most recent complete run for a website and day,
// or nil if there is none.
func (s *SQLiteStore) LastSuccess(ctx context.Context, website string, date time.Time) (*Run, error) {
	runs, err := s.ListRuns(ctx, RunFilter{Website: website, Date: date, Status: RunStatusComplete, Limit: 1})
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: last success for %s", website)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	query, args, err := s.d.builder.Select(runColumns...).From(s.d.runs).
		Where("id = ?", runID).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build get run query")
	}

	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query, args, err := s.d.runsQuery(filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list runs query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// SaveCredits replaces the batch's credit rows in one transaction.
func (s *SQLiteStore) SaveCredits(ctx context.Context, b attribution.Batch, rows []attribution.CreditRow) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM revenue_credits WHERE website = ? AND ga_date = ?`,
		b.Website, b.Day(),
	); err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete credits for %s", b)
	}

	insert, _, err := s.d.builder.Insert(s.d.credits).Columns(creditInsertColumns...).
		Values(make([]any, len(creditInsertColumns))...).ToSql()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: build insert")
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	pos := 0
	for i, r := range rows {
		if i > 0 && rows[i-1].TransactionID != r.TransactionID {
			pos = 0
		}
		if _, err := stmt.ExecContext(ctx,
			r.Date.Format(attribution.DateLayout), r.Website, r.TransactionID,
			r.Source, r.Medium, r.Campaign, r.RevenueProportion.String(), pos,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert credit %s", r.TransactionID)
		}
		pos++
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit credits")
	}
	return n, nil
}

func (s *SQLiteStore) ListCredits(ctx context.Context, filter CreditFilter) ([]attribution.CreditRow, error) {
	query, args, err := s.d.creditsQuery(filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list credits query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list credits")
	}
	defer rows.Close() //nolint:errcheck

	var out []attribution.CreditRow
	for rows.Next() {
		var r attribution.CreditRow
		var day, share string
		if err := rows.Scan(&day, &r.Website, &r.TransactionID, &r.Source, &r.Medium, &r.Campaign, &share); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan credit")
		}
		if r.Date, err = time.Parse(attribution.DateLayout, day); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse ga_date %q", day)
		}
		if r.RevenueProportion, err = decimal.NewFromString(share); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse revenue_proportion %q", share)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list credits iterate")
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func scanSQLiteRun(row scannable) (*Run, error) {
	var r Run
	var day, status string
	var completed sql.NullTime
	err := row.Scan(&r.ID, &r.Website, &r.ViewID, &day, &status,
		&r.Transactions, &r.Rejected, &r.Duplicates, &r.RowsWritten,
		&r.Error, &r.StartedAt, &completed)
	if err != nil {
		return nil, err
	}
	if r.Date, err = time.Parse(attribution.DateLayout, day); err != nil {
		return nil, eris.Wrapf(err, "parse ga_date %q", day)
	}
	r.Status = RunStatus(status)
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	return &r, nil
}
