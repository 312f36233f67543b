// Package refresh runs price refresh cycles over the registry and
// recomputes portfolio valuations from the refreshed prices.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/simaogato/lictracker-backend/internal/domain"
	"github.com/simaogato/lictracker-backend/internal/usecase/tracking"
)

// Config holds the refresh settings
type Config struct {
	FetchTimeout          time.Duration
	Concurrency           int
	RefreshOutsideSession bool
	Backoff               BackoffPolicy
}

// CycleReport summarises one refresh cycle of a market
type CycleReport struct {
	ID        uuid.UUID
	Market    string
	Skipped   bool // market closed
	Refreshed []string
	Fresh     []string
	BackedOff []string
	Failed    map[string]error
	Valued    []string
	Duration  time.Duration
}

type outcome int

const (
	outcomeFresh outcome = iota
	outcomeRefreshed
	outcomeBackedOff
	outcomeFailed
)

// RefreshService refreshes prices and recomputes NTAs
type RefreshService struct {
	Registry       *tracking.Registry
	InstrumentRepo domain.InstrumentRepository
	Prices         domain.PriceDataSource
	Clock          domain.Clock
	cfg            Config
	backoff        *backoff
	log            zerolog.Logger
}

// NewRefreshService creates a new RefreshService instance
func NewRefreshService(
	registry *tracking.Registry,
	instrumentRepo domain.InstrumentRepository,
	prices domain.PriceDataSource,
	clock domain.Clock,
	cfg Config,
	log zerolog.Logger,
) *RefreshService {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = tracking.DefaultFetchTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Backoff == (BackoffPolicy{}) {
		cfg.Backoff = DefaultBackoffPolicy
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &RefreshService{
		Registry:       registry,
		InstrumentRepo: instrumentRepo,
		Prices:         prices,
		Clock:          clock,
		cfg:            cfg,
		backoff:        newBackoff(cfg.Backoff),
		log:            log.With().Str("component", "refresh").Logger(),
	}
}

// RunCycle refreshes every instrument of a market, plus every instrument held
// by its portfolios, then recomputes the portfolios' NTA.
// Logic:
//  1. skip the market outside its session unless configured otherwise
//  2. refresh targets in parallel, each under its own fetch timeout
//  3. value portfolios only after all refreshes have finished
//  4. persist held instruments before the portfolios that hold them
//
// One ticker's failure never aborts the others. The returned error only
// reports persistence failures.
func (s *RefreshService) RunCycle(ctx context.Context, marketCode string) (*CycleReport, error) {
	start := s.Clock.Now()
	report := &CycleReport{
		ID:     uuid.New(),
		Market: marketCode,
		Failed: make(map[string]error),
	}

	err := s.Registry.Exclusive(ctx, func(st *tracking.State) error {
		market, ok := st.Market(marketCode)
		if !ok {
			return fmt.Errorf("market %s: %w", marketCode, domain.ErrNotFound)
		}
		report.Market = market.Code

		if !s.cfg.RefreshOutsideSession && !market.IsOpen(market.TimeSource().Now()) {
			report.Skipped = true
			return nil
		}

		entities := st.Entities(market.Code)
		targets := collectTargets(st, entities)
		s.refreshAll(ctx, targets, report)

		var portfolios []*domain.Portfolio
		for _, e := range entities {
			if p, ok := e.(*domain.Portfolio); ok {
				portfolios = append(portfolios, p)
				if s.value(p) {
					report.Valued = append(report.Valued, p.Ticker())
				}
			}
		}

		return s.persist(ctx, st, targets, portfolios)
	})

	report.Duration = s.Clock.Now().Sub(start)
	if err != nil {
		return report, err
	}

	if !report.Skipped {
		s.log.Info().
			Str("cycle_id", report.ID.String()).
			Str("market", report.Market).
			Int("refreshed", len(report.Refreshed)).
			Int("fresh", len(report.Fresh)).
			Int("backed_off", len(report.BackedOff)).
			Int("failed", len(report.Failed)).
			Int("valued", len(report.Valued)).
			Dur("duration", report.Duration).
			Msg("Refresh cycle completed")
	}

	return report, nil
}

// ValuePortfolio refreshes a portfolio and its holdings (staleness gated),
// computes its NTA and persists the result. Refreshed prices are persisted
// even when the valuation fails.
func (s *RefreshService) ValuePortfolio(ctx context.Context, ticker string) (domain.InstrumentRecord, error) {
	var rec domain.InstrumentRecord
	err := s.Registry.Exclusive(ctx, func(st *tracking.State) error {
		p, err := st.Portfolio(ticker)
		if err != nil {
			return err
		}

		targets := collectTargets(st, []domain.Entity{p})
		report := &CycleReport{Failed: make(map[string]error)}
		s.refreshAll(ctx, targets, report)

		_, valErr := p.ComputeNTA()
		if err := s.persist(ctx, st, targets, []*domain.Portfolio{p}); err != nil {
			return err
		}
		if valErr != nil {
			return valErr
		}
		rec = p.Record()
		return nil
	})
	return rec, err
}

// collectTargets returns the distinct instruments of entities and their
// holdings, in first-seen order
func collectTargets(st *tracking.State, entities []domain.Entity) []*domain.Instrument {
	seen := make(map[string]bool)
	var out []*domain.Instrument
	add := func(inst *domain.Instrument) {
		if inst == nil || seen[inst.Ticker()] {
			return
		}
		seen[inst.Ticker()] = true
		out = append(out, inst)
	}

	for _, e := range entities {
		add(e.Base())
		p, ok := e.(*domain.Portfolio)
		if !ok {
			continue
		}
		for _, held := range p.HeldTickers() {
			if he, ok := st.Entity(held); ok {
				add(he.Base())
			}
		}
	}
	return out
}

// refreshAll refreshes targets in parallel. Each goroutine owns exactly one
// instrument.
func (s *RefreshService) refreshAll(ctx context.Context, targets []*domain.Instrument, report *CycleReport) {
	outcomes := make([]outcome, len(targets))
	errs := make([]error, len(targets))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, inst := range targets {
		i, inst := i, inst
		g.Go(func() error {
			outcomes[i], errs[i] = s.refreshOne(ctx, inst)
			return nil
		})
	}
	_ = g.Wait()

	for i, inst := range targets {
		t := inst.Ticker()
		switch outcomes[i] {
		case outcomeRefreshed:
			report.Refreshed = append(report.Refreshed, t)
		case outcomeFresh:
			report.Fresh = append(report.Fresh, t)
		case outcomeBackedOff:
			report.BackedOff = append(report.BackedOff, t)
		case outcomeFailed:
			report.Failed[t] = errs[i]
		}
	}
}

func (s *RefreshService) refreshOne(ctx context.Context, inst *domain.Instrument) (outcome, error) {
	now := inst.Market().TimeSource().Now()
	if !inst.IsStale(now) {
		return outcomeFresh, nil
	}
	if s.backoff.blocked(inst.Ticker(), now) {
		return outcomeBackedOff, nil
	}

	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	called, err := inst.RefreshPrice(fctx, s.Prices)
	if err != nil {
		// abandoned by the caller, not a data source failure
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			s.log.Debug().Err(err).Str("ticker", inst.Ticker()).Msg("Price refresh abandoned")
			return outcomeFailed, err
		}
		until := s.backoff.failure(inst.Ticker(), err, now)
		event := s.log.Warn()
		if errors.Is(err, domain.ErrMalformedResponse) {
			event = s.log.Error()
		}
		event.Err(err).
			Str("ticker", inst.Ticker()).
			Str("market", inst.Market().Code).
			Time("retry_after", until).
			Msg("Price refresh failed")
		return outcomeFailed, err
	}
	if !called {
		return outcomeFresh, nil
	}

	s.backoff.success(inst.Ticker())
	return outcomeRefreshed, nil
}

// value recomputes the NTA of p, keeping the previous valuation on failure
func (s *RefreshService) value(p *domain.Portfolio) bool {
	v, err := p.ComputeNTA()
	if err != nil {
		s.log.Warn().Err(err).Str("ticker", p.Ticker()).Msg("NTA not computed")
		return false
	}
	s.log.Debug().
		Str("ticker", p.Ticker()).
		Str("nta", v.Value.StringFixed(4)).
		Str("computed_at", p.Market().TimeSource().Format(v.ComputedAt)).
		Msg("NTA computed")
	return true
}

// persist saves non-portfolio targets first, then portfolio targets, then the
// given portfolios. Every save is attempted.
func (s *RefreshService) persist(ctx context.Context, st *tracking.State, targets []*domain.Instrument, portfolios []*domain.Portfolio) error {
	var ordered []domain.Entity
	var heldPortfolios []domain.Entity
	saved := make(map[string]bool)
	for _, inst := range targets {
		e, ok := st.Entity(inst.Ticker())
		if !ok {
			continue
		}
		if e.Kind() == domain.KindPortfolio {
			heldPortfolios = append(heldPortfolios, e)
			continue
		}
		ordered = append(ordered, e)
	}
	ordered = append(ordered, heldPortfolios...)
	for _, p := range portfolios {
		ordered = append(ordered, p)
	}

	var errs []error
	for _, e := range ordered {
		t := e.Base().Ticker()
		if saved[t] {
			continue
		}
		saved[t] = true
		if err := s.InstrumentRepo.Save(ctx, e); err != nil {
			s.log.Error().Err(err).Str("ticker", t).Msg("Failed to persist instrument")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
