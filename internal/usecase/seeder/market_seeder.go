package seeder

import (
	"context"
	"errors"
	"fmt"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

// MarketDefinition describes a market that must exist at startup
type MarketDefinition struct {
	Code         string
	Timezone     string
	SessionOpen  domain.TimeOfDay
	SessionClose domain.TimeOfDay
	APICode      string
	Currency     string
}

// ASX is the Australian Securities Exchange
var ASX = MarketDefinition{
	Code:         "ASX",
	Timezone:     "Australia/Sydney",
	SessionOpen:  domain.TimeOfDay{Hour: 10},
	SessionClose: domain.TimeOfDay{Hour: 16},
	APICode:      "AX",
	Currency:     "AUD",
}

// DefaultMarkets are seeded when no definitions are given
var DefaultMarkets = []MarketDefinition{ASX}

// MarketSeeder handles seeding of required markets
type MarketSeeder struct {
	repo    domain.MarketRepository
	clock   domain.Clock
	markets []MarketDefinition
}

// NewMarketSeeder creates a new MarketSeeder instance
func NewMarketSeeder(repo domain.MarketRepository, clock domain.Clock, markets ...MarketDefinition) *MarketSeeder {
	if len(markets) == 0 {
		markets = DefaultMarkets
	}
	return &MarketSeeder{
		repo:    repo,
		clock:   clock,
		markets: markets,
	}
}

// Seed ensures all required markets exist in the repository.
// Existing markets are left as stored.
func (s *MarketSeeder) Seed(ctx context.Context) error {
	for _, def := range s.markets {
		_, err := s.repo.Get(ctx, def.Code)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to look up market %s: %w", def.Code, err)
		}

		market, err := domain.NewMarket(def.Code, def.Timezone, def.SessionOpen, def.SessionClose, def.APICode, def.Currency, s.clock)
		if err != nil {
			return fmt.Errorf("invalid market definition %s: %w", def.Code, err)
		}

		if err := s.repo.Save(ctx, market); err != nil {
			return err
		}
	}

	return nil
}
