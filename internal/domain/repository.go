package domain

import "context"

// PriceDataSource fetches intraday quotes from a market-data API
type PriceDataSource interface {
	// FetchIntraday returns the intraday series for ticker on the market
	// identified by marketSuffix. It must honour ctx cancellation.
	FetchIntraday(ctx context.Context, ticker, marketSuffix string) (*IntradayResponse, error)
}

// Statistics holds the share statistics of a listed company
type Statistics struct {
	SharesIssued int64
}

// Details holds the descriptive fundamentals of a listed company
type Details struct {
	Name      string
	SourceURL string
	Sector    string
}

// FundamentalsFetcher scrapes fundamentals from a research website
type FundamentalsFetcher interface {
	// FetchStatistics returns shares issued for ticker
	FetchStatistics(ctx context.Context, ticker string) (*Statistics, error)

	// FetchDetails returns name, listing url and sector for ticker
	FetchDetails(ctx context.Context, ticker string) (*Details, error)
}

// InstrumentRepository defines the interface for instrument persistence operations.
// Saves are upserts: writing an existing ticker never errors.
type InstrumentRepository interface {
	// Save writes the snapshot of an instrument or portfolio.
	// Held instruments must be saved before the portfolio that holds them.
	Save(ctx context.Context, entity Entity) error

	// Load retrieves the snapshot for ticker, or ErrNotFound
	Load(ctx context.Context, ticker string) (*InstrumentRecord, error)

	// ListByMarket retrieves all snapshots of a market ordered by ticker
	ListByMarket(ctx context.Context, marketCode string) ([]*InstrumentRecord, error)
}

// MarketRepository defines the interface for market persistence operations
type MarketRepository interface {
	// Get retrieves a market by code, or ErrNotFound
	Get(ctx context.Context, code string) (*MarketRecord, error)

	// Save upserts a market
	Save(ctx context.Context, market *Market) error

	// List retrieves all markets ordered by code
	List(ctx context.Context) ([]*MarketRecord, error)
}
