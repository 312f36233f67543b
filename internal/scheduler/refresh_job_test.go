package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/lictracker-backend/internal/adapter/repository/memory"
	"github.com/simaogato/lictracker-backend/internal/domain"
	"github.com/simaogato/lictracker-backend/internal/usecase/refresh"
)

// MockCycleRunner is a mock implementation of CycleRunner
type MockCycleRunner struct {
	mock.Mock
}

func (m *MockCycleRunner) RunCycle(ctx context.Context, marketCode string) (*refresh.CycleReport, error) {
	args := m.Called(ctx, marketCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*refresh.CycleReport), args.Error(1)
}

func seedMarkets(t *testing.T, codes ...string) domain.MarketRepository {
	t.Helper()
	repo := memory.NewMarketRepository(memory.NewStore())
	for _, code := range codes {
		m, err := domain.NewMarket(code, "Australia/Sydney", domain.TimeOfDay{Hour: 10}, domain.TimeOfDay{Hour: 16}, "AX", "AUD", domain.SystemClock{})
		require.NoError(t, err)
		require.NoError(t, repo.Save(context.Background(), m))
	}
	return repo
}

func TestRefreshJob_RunsEveryMarket(t *testing.T) {
	runner := new(MockCycleRunner)
	job := NewRefreshJob(context.Background(), runner, seedMarkets(t, "ASX", "NZX"), time.Minute, zerolog.Nop())

	runner.On("RunCycle", mock.Anything, "ASX").Return(&refresh.CycleReport{Market: "ASX"}, nil).Once()
	runner.On("RunCycle", mock.Anything, "NZX").Return(&refresh.CycleReport{Market: "NZX", Skipped: true}, nil).Once()

	err := job.Run()

	require.NoError(t, err)
	assert.Equal(t, "refresh", job.Name())
	runner.AssertExpectations(t)
}

func TestRefreshJob_ContinuesAfterFailure(t *testing.T) {
	runner := new(MockCycleRunner)
	job := NewRefreshJob(context.Background(), runner, seedMarkets(t, "ASX", "NZX"), 0, zerolog.Nop())

	runner.On("RunCycle", mock.Anything, "ASX").Return(&refresh.CycleReport{}, errors.New("db down")).Once()
	runner.On("RunCycle", mock.Anything, "NZX").Return(&refresh.CycleReport{}, nil).Once()

	err := job.Run()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "market ASX: db down")
	runner.AssertExpectations(t)
}

func TestRefreshJob_CancelledContext(t *testing.T) {
	runner := new(MockCycleRunner)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := NewRefreshJob(ctx, runner, seedMarkets(t, "ASX"), time.Minute, zerolog.Nop())

	err := job.Run()

	assert.True(t, errors.Is(err, context.Canceled))
	runner.AssertNotCalled(t, "RunCycle", mock.Anything, mock.Anything)
}

func TestRefreshJob_SkipsOverlappingRun(t *testing.T) {
	runner := new(MockCycleRunner)
	job := NewRefreshJob(context.Background(), runner, seedMarkets(t, "ASX"), time.Minute, zerolog.Nop())

	job.running.Lock()
	err := job.Run()
	job.running.Unlock()

	assert.NoError(t, err)
	runner.AssertNotCalled(t, "RunCycle", mock.Anything, mock.Anything)
}
