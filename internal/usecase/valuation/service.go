// Package valuation serves instrument snapshots and on-demand NTA valuations.
package valuation

import (
	"context"
	"fmt"
	"strings"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

// PortfolioValuer refreshes a portfolio's holdings and recomputes its NTA
type PortfolioValuer interface {
	ValuePortfolio(ctx context.Context, ticker string) (domain.InstrumentRecord, error)
}

// Snapshot pairs an instrument record with its market, for presentation
type Snapshot struct {
	Instrument *domain.InstrumentRecord
	Market     *domain.MarketRecord
}

// ValuationService handles read-side queries
type ValuationService struct {
	InstrumentRepo domain.InstrumentRepository
	MarketRepo     domain.MarketRepository
	Valuer         PortfolioValuer
}

// NewValuationService creates a new ValuationService instance
func NewValuationService(instrumentRepo domain.InstrumentRepository, marketRepo domain.MarketRepository, valuer PortfolioValuer) *ValuationService {
	return &ValuationService{
		InstrumentRepo: instrumentRepo,
		MarketRepo:     marketRepo,
		Valuer:         valuer,
	}
}

// GetInstrument returns the persisted snapshot of ticker with its market
func (s *ValuationService) GetInstrument(ctx context.Context, ticker string) (*Snapshot, error) {
	rec, err := s.InstrumentRepo.Load(ctx, normalize(ticker))
	if err != nil {
		return nil, err
	}
	market, err := s.MarketRepo.Get(ctx, rec.MarketCode)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Instrument: rec, Market: market}, nil
}

// ListMarket returns the market and all of its instrument snapshots
func (s *ValuationService) ListMarket(ctx context.Context, code string) (*domain.MarketRecord, []*domain.InstrumentRecord, error) {
	market, err := s.MarketRepo.Get(ctx, normalize(code))
	if err != nil {
		return nil, nil, err
	}
	records, err := s.InstrumentRepo.ListByMarket(ctx, market.Code)
	if err != nil {
		return nil, nil, err
	}
	return market, records, nil
}

// ValuePortfolio refreshes stale holdings, recomputes and persists the NTA of
// a portfolio and returns the new snapshot
func (s *ValuationService) ValuePortfolio(ctx context.Context, ticker string) (*Snapshot, error) {
	rec, err := s.Valuer.ValuePortfolio(ctx, normalize(ticker))
	if err != nil {
		return nil, err
	}
	if rec.NTA == nil {
		return nil, fmt.Errorf("%s: %w", rec.Ticker, domain.ErrIncompleteValuation)
	}
	market, err := s.MarketRepo.Get(ctx, rec.MarketCode)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Instrument: &rec, Market: market}, nil
}

func normalize(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
