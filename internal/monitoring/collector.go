package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/attribution-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of attribution run health.
type MetricsSnapshot struct {
	// Run counts within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsSkipped  int     `json:"runs_skipped"`
	RunsRunning  int     `json:"runs_running"`
	RunsStuck    int     `json:"runs_stuck"`
	FailRate     float64 `json:"fail_rate"`

	// Transaction totals across completed runs.
	Transactions  int     `json:"transactions"`
	Rejected      int     `json:"rejected"`
	RejectionRate float64 `json:"rejection_rate"`
	RowsWritten   int64   `json:"rows_written"`

	FailedWebsites []string `json:"failed_websites,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the slice of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]store.Run, error)
}

// Collector gathers metrics from the run log.
type Collector struct {
	runs       RunLister
	stuckAfter time.Duration
}

// NewCollector creates a new metrics collector. A run still running after
// stuckAfter counts as stuck; zero disables the check.
func NewCollector(runs RunLister, stuckAfter time.Duration) *Collector {
	return &Collector{runs: runs, stuckAfter: stuckAfter}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		StartedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	failed := make(map[string]bool)
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case store.RunStatusComplete:
			snap.RunsComplete++
			snap.Transactions += r.Transactions
			snap.Rejected += r.Rejected
			snap.RowsWritten += r.RowsWritten
		case store.RunStatusFailed:
			snap.RunsFailed++
			failed[r.Website] = true
		case store.RunStatusSkipped:
			snap.RunsSkipped++
		case store.RunStatusRunning:
			snap.RunsRunning++
			if c.stuckAfter > 0 && now.Sub(r.StartedAt) > c.stuckAfter {
				snap.RunsStuck++
			}
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if seen := snap.Transactions + snap.Rejected; seen > 0 {
		snap.RejectionRate = float64(snap.Rejected) / float64(seen)
	}

	for w := range failed {
		snap.FailedWebsites = append(snap.FailedWebsites, w)
	}
	sort.Strings(snap.FailedWebsites)

	return snap, nil
}
