package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentRecord is the persisted, tagged-variant snapshot of an Entity.
// Cash, Holdings and NTA are only meaningful when Kind is KindPortfolio.
type InstrumentRecord struct {
	Ticker                string
	Kind                  Kind
	MarketCode            string
	Name                  string
	SourceURL             string
	Sector                string
	SharesIssued          int64
	LatestPrice           *PriceObservation
	LastFetchedAt         time.Time
	FundamentalsFetchedAt time.Time // zero until the first scrape
	Cash                  decimal.Decimal
	Holdings              []HoldingRecord
	NTA                   *Valuation
}

// HoldingRecord is one row of the portfolio→instrument join
type HoldingRecord struct {
	Ticker string
	Units  int64
}

// IsPortfolio reports whether the record carries the portfolio discriminator
func (r *InstrumentRecord) IsPortfolio() bool {
	return r.Kind == KindPortfolio
}
