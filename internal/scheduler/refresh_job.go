package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/simaogato/lictracker-backend/internal/domain"
	"github.com/simaogato/lictracker-backend/internal/usecase/refresh"
)

// CycleRunner runs one refresh cycle for a market
type CycleRunner interface {
	RunCycle(ctx context.Context, marketCode string) (*refresh.CycleReport, error)
}

// RefreshJob refreshes every known market, one cycle each
type RefreshJob struct {
	ctx     context.Context
	runner  CycleRunner
	markets domain.MarketRepository
	timeout time.Duration
	running sync.Mutex
	log     zerolog.Logger
}

// NewRefreshJob creates a refresh job. Cycles are cancelled when ctx is done
// or after timeout, whichever comes first.
func NewRefreshJob(ctx context.Context, runner CycleRunner, markets domain.MarketRepository, timeout time.Duration, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{
		ctx:     ctx,
		runner:  runner,
		markets: markets,
		timeout: timeout,
		log:     log.With().Str("job", "refresh").Logger(),
	}
}

// Name returns the job name
func (j *RefreshJob) Name() string {
	return "refresh"
}

// Run executes one cycle per market. An overlapping run is skipped.
func (j *RefreshJob) Run() error {
	if !j.running.TryLock() {
		j.log.Warn().Msg("Refresh already running, skipping")
		return nil
	}
	defer j.running.Unlock()

	ctx := j.ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	markets, err := j.markets.List(ctx)
	if err != nil {
		return fmt.Errorf("list markets: %w", err)
	}

	var errs []error
	for _, m := range markets {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		report, err := j.runner.RunCycle(ctx, m.Code)
		if err != nil {
			errs = append(errs, fmt.Errorf("market %s: %w", m.Code, err))
			continue
		}
		if report.Skipped {
			j.log.Debug().Str("market", m.Code).Msg("Market closed, cycle skipped")
		}
	}
	return errors.Join(errs...)
}
