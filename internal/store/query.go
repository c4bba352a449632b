package store

import (
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/sells-group/attribution-cli/internal/attribution"
)

var runColumns = []string{
	"id", "website", "view_id", "ga_date", "status",
	"transactions", "rejected", "duplicates", "rows_written",
	"error", "started_at", "completed_at",
}

var creditColumns = []string{
	"ga_date", "website", "transaction_id", "source", "medium", "campaign", "revenue_proportion",
}

// creditInsertColumns adds the row's position within its transaction so
// reads return credits in path order.
var creditInsertColumns = append(append([]string{}, creditColumns...), "position")

// dialect holds what differs between the Postgres and SQLite queries.
type dialect struct {
	builder sq.StatementBuilderType
	runs    string
	credits string
	date    func(time.Time) any
}

var (
	postgresDialect = dialect{
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		runs:    "attribution.runs",
		credits: "attribution.revenue_credits",
		date:    func(t time.Time) any { return t },
	}
	sqliteDialect = dialect{
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		runs:    "runs",
		credits: "revenue_credits",
		date:    func(t time.Time) any { return t.Format(attribution.DateLayout) },
	}
)

func (d dialect) runsQuery(f RunFilter) sq.SelectBuilder {
	q := d.builder.Select(runColumns...).From(d.runs)
	if f.Website != "" {
		q = q.Where(sq.Eq{"website": f.Website})
	}
	if !f.Date.IsZero() {
		q = q.Where(sq.Eq{"ga_date": d.date(f.Date)})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if !f.StartedAfter.IsZero() {
		q = q.Where(sq.GtOrEq{"started_at": f.StartedAfter.UTC()})
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}
	q = q.OrderBy("started_at DESC").Limit(uint64(limit))
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q
}

func (d dialect) creditsQuery(f CreditFilter) sq.SelectBuilder {
	q := d.builder.Select(creditColumns...).From(d.credits)
	if f.Website != "" {
		q = q.Where(sq.Eq{"website": f.Website})
	}
	if !f.Date.IsZero() {
		q = q.Where(sq.Eq{"ga_date": d.date(f.Date)})
	}
	if f.TransactionID != "" {
		q = q.Where(sq.Eq{"transaction_id": f.TransactionID})
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultCreditLimit
	}
	q = q.OrderBy("ga_date", "website", "transaction_id", "position").Limit(uint64(limit))
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q
}
