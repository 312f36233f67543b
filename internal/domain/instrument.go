package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the persisted instrument variants
type Kind string

const (
	KindStock     Kind = "stock"
	KindPortfolio Kind = "portfolio"
)

// ParseKind validates a persisted or user-supplied kind
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindStock, "":
		return KindStock, nil
	case KindPortfolio:
		return KindPortfolio, nil
	default:
		return "", fmt.Errorf("%w: unknown instrument kind %q", ErrInvalidArgument, s)
	}
}

// StalenessThreshold is how long a fetched price stays authoritative
const StalenessThreshold = 300 * time.Second

// SectorLIC is the sector assigned to listed investment companies
const SectorLIC = "LIC"

// NeverFetched is the initial lastFetchedAt of every instrument, far enough in
// the past that the first refresh is always stale.
var NeverFetched = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Entity is either a plain Instrument or a Portfolio
type Entity interface {
	Base() *Instrument
	Kind() Kind
	Record() InstrumentRecord
}

// Instrument is one tradable entity tracked by the system.
// Its price and fundamentals are mutated only by its own refresh methods.
type Instrument struct {
	ticker string
	market *Market

	name         string
	sourceURL    string
	sector       string
	sharesIssued int64

	latestPrice           *PriceObservation
	lastFetchedAt         time.Time
	fundamentalsFetchedAt time.Time
}

// NewInstrument creates an instrument that has never been fetched
func NewInstrument(ticker string, market *Market) (*Instrument, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, errors.New("instrument ticker cannot be empty")
	}
	if market == nil {
		return nil, errors.New("instrument must reference a market")
	}
	return &Instrument{
		ticker:        ticker,
		market:        market,
		lastFetchedAt: NeverFetched,
	}, nil
}

func (i *Instrument) Ticker() string                   { return i.ticker }
func (i *Instrument) Market() *Market                  { return i.market }
func (i *Instrument) Name() string                     { return i.name }
func (i *Instrument) SourceURL() string                { return i.sourceURL }
func (i *Instrument) Sector() string                   { return i.sector }
func (i *Instrument) SharesIssued() int64              { return i.sharesIssued }
func (i *Instrument) LastFetchedAt() time.Time         { return i.lastFetchedAt }
func (i *Instrument) FundamentalsFetchedAt() time.Time { return i.fundamentalsFetchedAt }

// Base returns the instrument itself
func (i *Instrument) Base() *Instrument { return i }

// Kind returns KindStock
func (i *Instrument) Kind() Kind { return KindStock }

// Price returns a copy of the latest observation, if any
func (i *Instrument) Price() (PriceObservation, bool) {
	if i.latestPrice == nil {
		return PriceObservation{}, false
	}
	return *i.latestPrice, true
}

// IsStale reports whether more than StalenessThreshold has elapsed between the
// last retrieval and now.
func (i *Instrument) IsStale(now time.Time) bool {
	return now.Sub(i.lastFetchedAt) > StalenessThreshold
}

// RefreshPrice fetches a new observation when the cached one is stale.
// It reports whether the data source was called. On any error the instrument
// is left untouched.
//
// Staleness is measured against the source's retrieval time rather than the
// bar's own timestamp: intraday bars near session boundaries are legitimately
// older than the poll interval.
func (i *Instrument) RefreshPrice(ctx context.Context, src PriceDataSource) (bool, error) {
	ts := i.market.TimeSource()
	if !i.IsStale(ts.Now()) {
		return false, nil
	}

	resp, err := src.FetchIntraday(ctx, i.ticker, i.market.APICode)
	if err != nil {
		return true, classifyFetchError(i.ticker, "intraday", err)
	}

	bar, err := resp.Latest()
	if err != nil {
		return true, fmt.Errorf("%s: %w", i.ticker, err)
	}
	if resp.RetrievedAt.IsZero() {
		return true, fmt.Errorf("%s: %w: retrieval time is missing", i.ticker, ErrMalformedResponse)
	}

	obs, err := NormalizeObservation(bar, resp.SourceTimezone, ts.Location())
	if err != nil {
		return true, fmt.Errorf("%s: %w", i.ticker, err)
	}

	i.latestPrice = &obs
	i.lastFetchedAt = resp.RetrievedAt
	return true, nil
}

// RefreshFundamentals scrapes shares issued, name, url and sector.
// There is no staleness policy; callers invoke it at creation or on demand.
func (i *Instrument) RefreshFundamentals(ctx context.Context, fetcher FundamentalsFetcher) error {
	stats, err := fetcher.FetchStatistics(ctx, i.ticker)
	if err != nil {
		return classifyFetchError(i.ticker, "statistics", err)
	}
	if stats == nil || stats.SharesIssued < 0 {
		return fmt.Errorf("%s: %w: shares issued must be present and non-negative", i.ticker, ErrMalformedResponse)
	}

	details, err := fetcher.FetchDetails(ctx, i.ticker)
	if err != nil {
		return classifyFetchError(i.ticker, "details", err)
	}
	if details == nil || strings.TrimSpace(details.Name) == "" {
		return fmt.Errorf("%s: %w: company name is missing", i.ticker, ErrMalformedResponse)
	}

	i.sharesIssued = stats.SharesIssued
	i.name = strings.TrimSpace(details.Name)
	i.sourceURL = strings.TrimSpace(details.SourceURL)
	i.sector = strings.TrimSpace(details.Sector)
	i.fundamentalsFetchedAt = i.market.TimeSource().Now()
	return nil
}

// Record returns the persisted snapshot of the instrument
func (i *Instrument) Record() InstrumentRecord {
	rec := InstrumentRecord{
		Ticker:                i.ticker,
		Kind:                  KindStock,
		MarketCode:            i.market.Code,
		Name:                  i.name,
		SourceURL:             i.sourceURL,
		Sector:                i.sector,
		SharesIssued:          i.sharesIssued,
		LastFetchedAt:         i.lastFetchedAt,
		FundamentalsFetchedAt: i.fundamentalsFetchedAt,
	}
	if i.latestPrice != nil {
		obs := *i.latestPrice
		rec.LatestPrice = &obs
	}
	return rec
}

// RestoreInstrument rebuilds an instrument from its persisted snapshot.
// The observation timestamp is re-expressed in the market zone.
func RestoreInstrument(rec InstrumentRecord, market *Market) (*Instrument, error) {
	inst, err := NewInstrument(rec.Ticker, market)
	if err != nil {
		return nil, err
	}
	if rec.MarketCode != "" && rec.MarketCode != market.Code {
		return nil, fmt.Errorf("%w: %s belongs to market %s, not %s", ErrInvalidArgument, rec.Ticker, rec.MarketCode, market.Code)
	}

	inst.name = rec.Name
	inst.sourceURL = rec.SourceURL
	inst.sector = rec.Sector
	inst.sharesIssued = rec.SharesIssued
	inst.fundamentalsFetchedAt = rec.FundamentalsFetchedAt
	if !rec.LastFetchedAt.IsZero() {
		inst.lastFetchedAt = rec.LastFetchedAt
	}
	if rec.LatestPrice != nil {
		inst.latestPrice = &PriceObservation{
			Price:      rec.LatestPrice.Price,
			ObservedAt: rec.LatestPrice.ObservedAt.In(market.TimeSource().Location()),
		}
	}
	return inst, nil
}

// classifyFetchError keeps typed errors from adapters and treats anything
// else, including context deadlines, as an unavailable source.
func classifyFetchError(ticker, what string, err error) error {
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrDataSourceUnavailable) {
		return fmt.Errorf("%s: %s fetch: %w", ticker, what, err)
	}
	return fmt.Errorf("%s: %s fetch: %w: %w", ticker, what, ErrDataSourceUnavailable, err)
}
