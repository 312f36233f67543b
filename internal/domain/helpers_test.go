package domain

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable Clock
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// MockPriceDataSource is a mock implementation of PriceDataSource for testing
type MockPriceDataSource struct {
	mock.Mock
}

func (m *MockPriceDataSource) FetchIntraday(ctx context.Context, ticker, marketSuffix string) (*IntradayResponse, error) {
	args := m.Called(ctx, ticker, marketSuffix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*IntradayResponse), args.Error(1)
}

// MockFundamentalsFetcher is a mock implementation of FundamentalsFetcher for testing
type MockFundamentalsFetcher struct {
	mock.Mock
}

func (m *MockFundamentalsFetcher) FetchStatistics(ctx context.Context, ticker string) (*Statistics, error) {
	args := m.Called(ctx, ticker)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Statistics), args.Error(1)
}

func (m *MockFundamentalsFetcher) FetchDetails(ctx context.Context, ticker string) (*Details, error) {
	args := m.Called(ctx, ticker)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Details), args.Error(1)
}

func newTestMarket(t *testing.T, clock Clock) *Market {
	t.Helper()
	m, err := NewMarket("ASX", "Australia/Sydney", TimeOfDay{Hour: 10}, TimeOfDay{Hour: 16}, "AX", "AUD", clock)
	require.NoError(t, err)
	return m
}

func pricedInstrument(t *testing.T, m *Market, ticker string, price string) *Instrument {
	t.Helper()
	inst, err := NewInstrument(ticker, m)
	require.NoError(t, err)
	if price != "" {
		inst.latestPrice = &PriceObservation{
			Price:      requireDecimal(t, price),
			ObservedAt: m.TimeSource().Now(),
		}
	}
	return inst
}

func requireDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}
