// Package store persists attribution runs and the revenue credits they
// produce.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/attribution-cli/internal/attribution"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
	RunStatusSkipped  RunStatus = "skipped"
)

// Run records one execution of a batch.
type Run struct {
	ID           string     `json:"id"`
	Website      string     `json:"website"`
	ViewID       string     `json:"view_id"`
	Date         time.Time  `json:"date"`
	Status       RunStatus  `json:"status"`
	Transactions int        `json:"transactions"`
	Rejected     int        `json:"rejected"`
	Duplicates   int        `json:"duplicates"`
	RowsWritten  int64      `json:"rows_written"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// RunResult holds the counters recorded when a run completes.
type RunResult struct {
	Transactions int   `json:"transactions"`
	Rejected     int   `json:"rejected"`
	Duplicates   int   `json:"duplicates"`
	RowsWritten  int64 `json:"rows_written"`
}

// RunFilter specifies criteria for listing runs. Zero fields match all.
type RunFilter struct {
	Website string    `json:"website,omitempty"`
	Date    time.Time `json:"date,omitempty"`
	Status  RunStatus `json:"status,omitempty"`
	// StartedAfter keeps runs started at or after this instant.
	StartedAfter time.Time `json:"started_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// CreditFilter specifies criteria for listing credit rows.
type CreditFilter struct {
	Website       string    `json:"website,omitempty"`
	Date          time.Time `json:"date,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Limit         int       `json:"limit,omitempty"`
	Offset        int       `json:"offset,omitempty"`
}

const (
	defaultRunLimit    = 100
	defaultCreditLimit = 1000
)

// Store defines the persistence interface for attribution runs.
type Store interface {
	// Runs
	StartRun(ctx context.Context, b attribution.Batch) (*Run, error)
	CompleteRun(ctx context.Context, runID string, result RunResult) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	SkipRun(ctx context.Context, b attribution.Batch, reason string) (*Run, error)
	LastSuccess(ctx context.Context, website string, date time.Time) (*Run, error)
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Credits
	SaveCredits(ctx context.Context, b attribution.Batch, rows []attribution.CreditRow) (int64, error)
	ListCredits(ctx context.Context, filter CreditFilter) ([]attribution.CreditRow, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
