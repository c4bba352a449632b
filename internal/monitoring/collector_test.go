package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/attribution-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeRuns serves a fixed run log, honoring StartedAfter and Status.
type fakeRuns struct {
	runs    []store.Run
	listErr error
	filters []store.RunFilter
}

func (f *fakeRuns) ListRuns(_ context.Context, filter store.RunFilter) ([]store.Run, error) {
	f.filters = append(f.filters, filter)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []store.Run
	for _, r := range f.runs {
		if !filter.StartedAfter.IsZero() && r.StartedAt.Before(filter.StartedAfter) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func run(website string, status store.RunStatus, ago time.Duration) store.Run {
	return store.Run{
		ID:        website + string(status),
		Website:   website,
		Status:    status,
		StartedAt: time.Now().UTC().Add(-ago),
	}
}

func TestCollector_Collect(t *testing.T) {
	complete := run("a.com", store.RunStatusComplete, time.Hour)
	complete.Transactions = 90
	complete.Rejected = 10
	complete.RowsWritten = 240

	runs := &fakeRuns{runs: []store.Run{
		complete,
		run("b.com", store.RunStatusFailed, 2*time.Hour),
		run("a.com", store.RunStatusFailed, 3*time.Hour),
		run("b.com", store.RunStatusFailed, 4*time.Hour),
		run("c.com", store.RunStatusSkipped, time.Hour),
		run("d.com", store.RunStatusRunning, 5*time.Minute),
		run("e.com", store.RunStatusRunning, 3*time.Hour),
		run("old.com", store.RunStatusFailed, 48*time.Hour),
	}}

	snap, err := NewCollector(runs, time.Hour).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 7, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 3, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsSkipped)
	assert.Equal(t, 2, snap.RunsRunning)
	assert.Equal(t, 1, snap.RunsStuck)
	assert.InDelta(t, 0.75, snap.FailRate, 0.0001)
	assert.Equal(t, 90, snap.Transactions)
	assert.Equal(t, 10, snap.Rejected)
	assert.InDelta(t, 0.10, snap.RejectionRate, 0.0001)
	assert.Equal(t, int64(240), snap.RowsWritten)
	assert.Equal(t, []string{"a.com", "b.com"}, snap.FailedWebsites)
	assert.Equal(t, 24, snap.LookbackHours)

	require.Len(t, runs.filters, 1)
	assert.Equal(t, 10000, runs.filters[0].Limit)
	assert.False(t, runs.filters[0].StartedAfter.IsZero())
}

func TestCollector_StuckCheckDisabled(t *testing.T) {
	runs := &fakeRuns{runs: []store.Run{run("a.com", store.RunStatusRunning, 10*time.Hour)}}

	snap, err := NewCollector(runs, 0).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.Zero(t, snap.RunsStuck)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(&fakeRuns{}, time.Hour).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.RejectionRate)
	assert.Empty(t, snap.FailedWebsites)
}

func TestCollector_ListError(t *testing.T) {
	runs := &fakeRuns{listErr: errors.New("db down")}

	_, err := NewCollector(runs, time.Hour).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
