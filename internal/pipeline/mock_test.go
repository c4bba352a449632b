package pipeline

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/attribution-cli/internal/attribution"
	"github.com/sells-group/attribution-cli/internal/store"
)

// --- PathSource Mock ---

type mockSource struct {
	mock.Mock
}

func (m *mockSource) FetchPaths(ctx context.Context, viewID string, date time.Time) ([]attribution.RawPath, error) {
	args := m.Called(ctx, viewID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]attribution.RawPath), args.Error(1)
}

// --- Store wrapper that fails selected calls ---

type failingStore struct {
	store.Store
	saveErr     error
	lastSuccErr error
}

func (f *failingStore) SaveCredits(ctx context.Context, b attribution.Batch, rows []attribution.CreditRow) (int64, error) {
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	return f.Store.SaveCredits(ctx, b, rows)
}

func (f *failingStore) LastSuccess(ctx context.Context, website string, date time.Time) (*store.Run, error) {
	if f.lastSuccErr != nil {
		return nil, f.lastSuccErr
	}
	return f.Store.LastSuccess(ctx, website, date)
}
