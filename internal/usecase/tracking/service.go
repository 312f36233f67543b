// Package tracking owns the write side of the registry: restoring it at
// startup, adding instruments and editing portfolio composition.
package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

// DefaultFetchTimeout bounds every external call made on behalf of one ticker
const DefaultFetchTimeout = 10 * time.Second

// TrackingService handles instrument and portfolio lifecycle operations
type TrackingService struct {
	Registry       *Registry
	InstrumentRepo domain.InstrumentRepository
	MarketRepo     domain.MarketRepository
	Prices         domain.PriceDataSource
	Fundamentals   domain.FundamentalsFetcher
	Clock          domain.Clock
	FetchTimeout   time.Duration
	log            zerolog.Logger
}

// NewTrackingService creates a new TrackingService instance
func NewTrackingService(
	registry *Registry,
	instrumentRepo domain.InstrumentRepository,
	marketRepo domain.MarketRepository,
	prices domain.PriceDataSource,
	fundamentals domain.FundamentalsFetcher,
	clock domain.Clock,
	fetchTimeout time.Duration,
	log zerolog.Logger,
) *TrackingService {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &TrackingService{
		Registry:       registry,
		InstrumentRepo: instrumentRepo,
		MarketRepo:     marketRepo,
		Prices:         prices,
		Fundamentals:   fundamentals,
		Clock:          clock,
		FetchTimeout:   fetchTimeout,
		log:            log.With().Str("component", "tracking").Logger(),
	}
}

// Restore rebuilds the registry from the repositories.
// Logic:
//  1. restore every market, every instrument and an empty shell of every
//     portfolio, so that each ticker resolves regardless of market or kind
//  2. attach portfolio holdings once every entity is registered; portfolios
//     may hold each other
func (s *TrackingService) Restore(ctx context.Context) error {
	return s.Registry.Exclusive(ctx, func(st *State) error {
		markets, err := s.MarketRepo.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list markets: %w", err)
		}

		type shell struct {
			portfolio *domain.Portfolio
			holdings  []domain.HoldingRecord
		}
		var shells []shell

		for _, mr := range markets {
			market, err := domain.RestoreMarket(*mr, s.Clock)
			if err != nil {
				return fmt.Errorf("failed to restore market %s: %w", mr.Code, err)
			}
			st.PutMarket(market)

			records, err := s.InstrumentRepo.ListByMarket(ctx, market.Code)
			if err != nil {
				return fmt.Errorf("failed to list instruments of %s: %w", market.Code, err)
			}
			for _, rec := range records {
				if !rec.IsPortfolio() {
					inst, err := domain.RestoreInstrument(*rec, market)
					if err != nil {
						return fmt.Errorf("failed to restore %s: %w", rec.Ticker, err)
					}
					st.Put(inst)
					continue
				}

				bare := *rec
				bare.Holdings = nil
				p, err := domain.RestorePortfolio(bare, market, nil)
				if err != nil {
					return fmt.Errorf("failed to restore portfolio %s: %w", rec.Ticker, err)
				}
				st.Put(p)
				shells = append(shells, shell{portfolio: p, holdings: rec.Holdings})
			}
		}

		for _, sh := range shells {
			for _, hr := range sh.holdings {
				held, ok := st.Entity(hr.Ticker)
				if !ok {
					return fmt.Errorf("failed to restore portfolio %s: held instrument %s: %w",
						sh.portfolio.Ticker(), hr.Ticker, domain.ErrNotFound)
				}
				if err := sh.portfolio.UpsertHolding(held.Base(), hr.Units); err != nil {
					return fmt.Errorf("failed to restore portfolio %s: %w", sh.portfolio.Ticker(), err)
				}
			}
		}

		s.log.Info().
			Int("markets", len(markets)).
			Int("portfolios", len(shells)).
			Msg("Registry restored")
		return nil
	})
}

// Track starts tracking ticker on a market. Fundamentals are required; the
// first price is best effort. Tracking a known ticker returns its snapshot.
func (s *TrackingService) Track(ctx context.Context, ticker, marketCode string, kind domain.Kind) (domain.InstrumentRecord, error) {
	var rec domain.InstrumentRecord
	err := s.Registry.Exclusive(ctx, func(st *State) error {
		e, err := s.track(ctx, st, ticker, marketCode, kind)
		if err != nil {
			return err
		}
		rec = e.Record()
		return nil
	})
	return rec, err
}

// track must be called with the registry locked
func (s *TrackingService) track(ctx context.Context, st *State, ticker, marketCode string, kind domain.Kind) (domain.Entity, error) {
	market, ok := st.Market(marketCode)
	if !ok {
		return nil, fmt.Errorf("market %s: %w", marketCode, domain.ErrNotFound)
	}
	if kind != domain.KindPortfolio {
		kind = domain.KindStock
	}

	var entity domain.Entity
	switch kind {
	case domain.KindPortfolio:
		p, err := domain.NewPortfolio(ticker, market)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		entity = p
	default:
		inst, err := domain.NewInstrument(ticker, market)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		entity = inst
	}
	base := entity.Base()

	if existing, ok := st.Entity(base.Ticker()); ok {
		if existing.Kind() != kind || existing.Base().Market() != market {
			return nil, fmt.Errorf("%w: %s is already tracked as a %s on %s",
				domain.ErrInvalidArgument, base.Ticker(), existing.Kind(), existing.Base().Market().Code)
		}
		return existing, nil
	}

	fctx, cancel := context.WithTimeout(ctx, s.FetchTimeout)
	err := base.RefreshFundamentals(fctx, s.Fundamentals)
	cancel()
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, s.FetchTimeout)
	_, err = base.RefreshPrice(pctx, s.Prices)
	cancel()
	if err != nil {
		s.log.Warn().Err(err).Str("ticker", base.Ticker()).Str("market", market.Code).Msg("Initial price unavailable")
	}

	if err := s.InstrumentRepo.Save(ctx, entity); err != nil {
		return nil, err
	}
	st.Put(entity)

	s.log.Info().
		Str("ticker", base.Ticker()).
		Str("market", market.Code).
		Str("kind", string(kind)).
		Int64("shares_issued", base.SharesIssued()).
		Msg("Instrument tracked")

	return entity, nil
}

// UpsertHolding sets the units a portfolio holds of heldTicker.
// Logic: an untracked held ticker is tracked first as a stock on the
// portfolio's market.
func (s *TrackingService) UpsertHolding(ctx context.Context, portfolioTicker, heldTicker string, units int64) (domain.InstrumentRecord, error) {
	if units < 0 {
		return domain.InstrumentRecord{}, fmt.Errorf("%w: units must not be negative", domain.ErrInvalidArgument)
	}

	var rec domain.InstrumentRecord
	err := s.Registry.Exclusive(ctx, func(st *State) error {
		p, err := st.Portfolio(portfolioTicker)
		if err != nil {
			return err
		}

		held, ok := st.Entity(heldTicker)
		if !ok {
			held, err = s.track(ctx, st, heldTicker, p.Market().Code, domain.KindStock)
			if err != nil {
				return fmt.Errorf("failed to track held instrument %s: %w", heldTicker, err)
			}
		}

		if err := p.UpsertHolding(held.Base(), units); err != nil {
			return err
		}
		if err := s.InstrumentRepo.Save(ctx, p); err != nil {
			return err
		}
		rec = p.Record()
		return nil
	})
	return rec, err
}

// SetCash replaces the cash balance of a portfolio
func (s *TrackingService) SetCash(ctx context.Context, ticker string, cash decimal.Decimal) (domain.InstrumentRecord, error) {
	var rec domain.InstrumentRecord
	err := s.Registry.Exclusive(ctx, func(st *State) error {
		p, err := st.Portfolio(ticker)
		if err != nil {
			return err
		}
		if err := p.SetCash(cash); err != nil {
			return err
		}
		if err := s.InstrumentRepo.Save(ctx, p); err != nil {
			return err
		}
		rec = p.Record()
		return nil
	})
	return rec, err
}

// RefreshFundamentals re-scrapes the fundamentals of a tracked instrument
func (s *TrackingService) RefreshFundamentals(ctx context.Context, ticker string) (domain.InstrumentRecord, error) {
	var rec domain.InstrumentRecord
	err := s.Registry.Exclusive(ctx, func(st *State) error {
		e, ok := st.Entity(ticker)
		if !ok {
			return notFound(ticker)
		}

		fctx, cancel := context.WithTimeout(ctx, s.FetchTimeout)
		defer cancel()
		if err := e.Base().RefreshFundamentals(fctx, s.Fundamentals); err != nil {
			return err
		}
		if err := s.InstrumentRepo.Save(ctx, e); err != nil {
			return err
		}
		rec = e.Record()
		return nil
	})
	return rec, err
}

func notFound(ticker string) error {
	return fmt.Errorf("instrument %s: %w", ticker, domain.ErrNotFound)
}

func notPortfolio(ticker string) error {
	return fmt.Errorf("%w: %s", domain.ErrNotPortfolio, ticker)
}
