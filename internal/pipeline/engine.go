// Package pipeline runs attribution batches: fetch a day's conversion paths
// for a website, allocate credit, and persist the result.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/attribution-cli/internal/attribution"
	"github.com/sells-group/attribution-cli/internal/store"
	"github.com/sells-group/attribution-cli/internal/views"
)

// PathSource fetches raw conversion paths for one view and day.
type PathSource interface {
	FetchPaths(ctx context.Context, viewID string, date time.Time) ([]attribution.RawPath, error)
}

// Engine runs batches concurrently. Each batch owns its own table; results
// only meet in the store.
type Engine struct {
	source      PathSource
	store       store.Store
	alloc       *attribution.Allocator
	concurrency int
}

// RunOpts configures one engine run.
type RunOpts struct {
	Force   bool // re-run batches that already have a complete run
	DryRun  bool // compute credits without touching the store
	Collect bool // keep every credit row in the Summary
}

// BatchError is a batch that failed and why.
type BatchError struct {
	Batch attribution.Batch
	Err   error
}

// Summary totals a run across batches.
type Summary struct {
	Batches      int
	Completed    int
	Skipped      int
	Failed       int
	Transactions int
	Rejected     int
	Duplicates   int
	RowsWritten  int64
	Failures     []BatchError
	Rows         []attribution.CreditRow
}

// Err returns a non-nil error when any batch failed.
func (s *Summary) Err() error {
	if s.Failed == 0 {
		return nil
	}
	return eris.Errorf("%d of %d batches failed", s.Failed, s.Batches)
}

// NewEngine creates an Engine. st may be nil for dry runs.
func NewEngine(source PathSource, st store.Store, alloc *attribution.Allocator, concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Engine{source: source, store: st, alloc: alloc, concurrency: concurrency}
}

// Plan expands views and days into batches, day-major.
func Plan(vs []views.View, days []time.Time) []attribution.Batch {
	batches := make([]attribution.Batch, 0, len(vs)*len(days))
	for _, d := range days {
		for _, v := range vs {
			batches = append(batches, attribution.Batch{Website: v.Website, ViewID: v.ViewID, Date: d})
		}
	}
	return batches
}

type batchOutcome struct {
	skipped      bool
	transactions int
	rejected     int
	duplicates   int
	rowsWritten  int64
	rows         []attribution.CreditRow
}

// Run executes batches with at most the engine's concurrency in flight. A
// failed batch is recorded and does not stop its siblings. The returned
// error is non-nil only when ctx was cancelled or the engine is misconfigured.
func (e *Engine) Run(ctx context.Context, batches []attribution.Batch, opts RunOpts) (*Summary, error) {
	log := zap.L().With(zap.String("component", "pipeline.engine"))

	if e.store == nil && !opts.DryRun {
		return nil, eris.New("engine: a store is required unless running dry")
	}

	summary := &Summary{Batches: len(batches)}
	if len(batches) == 0 {
		log.Info("no batches to run")
		return summary, nil
	}

	log.Info("starting run",
		zap.Int("batches", len(batches)),
		zap.Int("concurrency", e.concurrency),
		zap.Bool("force", opts.Force),
		zap.Bool("dry_run", opts.DryRun),
	)

	var (
		mu                           sync.Mutex
		completed, skipped, failedN  atomic.Int64
		transactions, rejected, dups atomic.Int64
		rowsWritten                  atomic.Int64
		rowsByBatch                  = make(map[int][]attribution.CreditRow)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, b := range batches {
		i, b := i, b
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			out, err := e.runBatch(gctx, b, opts)
			if err != nil {
				failedN.Add(1)
				mu.Lock()
				summary.Failures = append(summary.Failures, BatchError{Batch: b, Err: err})
				mu.Unlock()
				return nil
			}
			if out.skipped {
				skipped.Add(1)
				return nil
			}

			completed.Add(1)
			transactions.Add(int64(out.transactions))
			rejected.Add(int64(out.rejected))
			dups.Add(int64(out.duplicates))
			rowsWritten.Add(out.rowsWritten)
			if opts.Collect {
				mu.Lock()
				rowsByBatch[i] = out.rows
				mu.Unlock()
			}
			return nil
		})
	}

	waitErr := g.Wait()

	summary.Completed = int(completed.Load())
	summary.Skipped = int(skipped.Load())
	summary.Failed = int(failedN.Load())
	summary.Transactions = int(transactions.Load())
	summary.Rejected = int(rejected.Load())
	summary.Duplicates = int(dups.Load())
	summary.RowsWritten = rowsWritten.Load()

	sort.Slice(summary.Failures, func(i, j int) bool {
		a, b := summary.Failures[i].Batch, summary.Failures[j].Batch
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Website < b.Website
	})
	if opts.Collect {
		for i := range batches {
			summary.Rows = append(summary.Rows, rowsByBatch[i]...)
		}
	}

	log.Info("run complete",
		zap.Int("completed", summary.Completed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("transactions", summary.Transactions),
		zap.Int("rejected", summary.Rejected),
		zap.Int64("rows_written", summary.RowsWritten),
	)

	if waitErr != nil {
		return summary, eris.Wrap(waitErr, "engine: run interrupted")
	}
	if err := ctx.Err(); err != nil {
		return summary, eris.Wrap(err, "engine: run interrupted")
	}
	return summary, nil
}

// runBatch attributes one batch. Errors are already logged and recorded on
// the run.
func (e *Engine) runBatch(ctx context.Context, b attribution.Batch, opts RunOpts) (batchOutcome, error) {
	log := zap.L().With(
		zap.String("component", "pipeline.batch"),
		zap.String("website", b.Website),
		zap.String("view_id", b.ViewID),
		zap.String("date", b.Day()),
	)
	var out batchOutcome

	var run *store.Run
	if !opts.DryRun {
		if !opts.Force {
			last, err := e.store.LastSuccess(ctx, b.Website, b.Date)
			if err != nil {
				log.Error("checking last run failed", zap.Error(err))
				return out, eris.Wrapf(err, "batch %s: check last run", b)
			}
			if last != nil {
				log.Debug("skipping, already attributed", zap.String("run_id", last.ID))
				if _, err := e.store.SkipRun(ctx, b, "complete run "+last.ID+" exists"); err != nil {
					log.Warn("failed to record skipped run", zap.Error(err))
				}
				out.skipped = true
				return out, nil
			}
		}

		var err error
		if run, err = e.store.StartRun(ctx, b); err != nil {
			log.Error("starting run failed", zap.Error(err))
			return out, eris.Wrapf(err, "batch %s: start run", b)
		}
		log = log.With(zap.String("run_id", run.ID))
	}

	fail := func(err error) (batchOutcome, error) {
		log.Error("batch failed", zap.Error(err))
		if run != nil {
			// Record the failure even if the run was cancelled.
			if logErr := e.store.FailRun(context.WithoutCancel(ctx), run.ID, err.Error()); logErr != nil {
				log.Error("failed to record run failure", zap.Error(logErr))
			}
		}
		return out, err
	}

	start := time.Now()
	raws, err := e.source.FetchPaths(ctx, b.ViewID, b.Date)
	if err != nil {
		return fail(eris.Wrapf(err, "batch %s: fetch paths", b))
	}

	table, rejections := attribution.BuildTable(raws, e.alloc)
	rows := table.Rows(b.Date, b.Website)

	out.transactions = table.Len()
	out.rejected = len(rejections)
	out.duplicates = table.Duplicates
	out.rows = rows

	if !opts.DryRun {
		n, err := e.store.SaveCredits(ctx, b, rows)
		if err != nil {
			return fail(eris.Wrapf(err, "batch %s: save credits", b))
		}
		out.rowsWritten = n

		if err := e.store.CompleteRun(ctx, run.ID, store.RunResult{
			Transactions: out.transactions,
			Rejected:     out.rejected,
			Duplicates:   out.duplicates,
			RowsWritten:  n,
		}); err != nil {
			return fail(eris.Wrapf(err, "batch %s: complete run", b))
		}
	}

	log.Info("batch complete",
		zap.Int("raw_rows", len(raws)),
		zap.Int("transactions", out.transactions),
		zap.Int("rejected", out.rejected),
		zap.Int("duplicates", out.duplicates),
		zap.Int("credit_rows", len(rows)),
		zap.Int64("rows_written", out.rowsWritten),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}
