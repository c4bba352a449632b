package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ReplaceConfig describes a partition of a table that is rewritten as a unit.
type ReplaceConfig struct {
	Schema    string   // e.g. "attribution"
	Table     string   // e.g. "revenue_credits"
	Columns   []string // columns being copied
	MatchCols []string // columns identifying the partition
	MatchArgs []any    // values for MatchCols, same order
}

// ReplaceResult reports how many rows were removed and written.
type ReplaceResult struct {
	Deleted  int64
	Inserted int64
}

// ReplaceRows deletes every row matching cfg.MatchCols and COPYs rows in
// their place inside one transaction. Readers never see a half-written
// partition. An empty rows slice clears the partition.
func ReplaceRows(ctx context.Context, pool Pool, cfg ReplaceConfig, rows [][]any) (ReplaceResult, error) {
	var res ReplaceResult

	if len(cfg.Columns) == 0 {
		return res, eris.New("db: replace: no columns specified")
	}
	if len(cfg.MatchCols) == 0 {
		return res, eris.New("db: replace: no match columns specified")
	}
	if len(cfg.MatchCols) != len(cfg.MatchArgs) {
		return res, eris.Errorf("db: replace: %d match columns but %d values", len(cfg.MatchCols), len(cfg.MatchArgs))
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, deleteSQL(cfg), cfg.MatchArgs...)
	if err != nil {
		return res, eris.Wrapf(err, "db: replace: delete from %s.%s", cfg.Schema, cfg.Table)
	}
	res.Deleted = tag.RowsAffected()

	res.Inserted, err = CopyFromSchema(ctx, tx, cfg.Schema, cfg.Table, cfg.Columns, rows)
	if err != nil {
		return res, err
	}

	if err := tx.Commit(ctx); err != nil {
		return res, eris.Wrap(err, "db: replace: commit tx")
	}
	return res, nil
}

func deleteSQL(cfg ReplaceConfig) string {
	where := make([]string, len(cfg.MatchCols))
	for i, c := range cfg.MatchCols {
		where[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), i+1)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s",
		pgx.Identifier{cfg.Schema, cfg.Table}.Sanitize(),
		strings.Join(where, " AND "),
	)
}
