package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func intradayAt(retrievedAt time.Time) *IntradayResponse {
	return &IntradayResponse{
		Series: []IntradayBar{
			{Timestamp: "2024-01-01 09:30:00", Close: "5.0000"},
			{Timestamp: "2024-01-01 09:25:00", Close: "4.9000"},
		},
		SourceTimezone: "US/Eastern",
		RetrievedAt:    retrievedAt,
	}
}

func TestNewInstrument(t *testing.T) {
	m := newTestMarket(t, &fakeClock{})

	inst, err := NewInstrument(" mlt ", m)
	require.NoError(t, err)
	assert.Equal(t, "MLT", inst.Ticker())
	assert.Equal(t, NeverFetched, inst.LastFetchedAt())
	assert.Equal(t, KindStock, inst.Kind())
	_, ok := inst.Price()
	assert.False(t, ok)

	_, err = NewInstrument("", m)
	assert.Error(t, err)

	_, err = NewInstrument("MLT", nil)
	assert.Error(t, err)
}

func TestRefreshPrice_FirstRefreshIsAlwaysStale(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	m := newTestMarket(t, clock)
	inst, err := NewInstrument("MLT", m)
	require.NoError(t, err)

	src := new(MockPriceDataSource)
	src.On("FetchIntraday", ctx, "MLT", "AX").Return(intradayAt(clock.now), nil).Once()

	fetched, err := inst.RefreshPrice(ctx, src)

	require.NoError(t, err)
	assert.True(t, fetched)
	src.AssertExpectations(t)
}

func TestRefreshPrice_StalenessGating(t *testing.T) {
	ctx := context.Background()
	lastFetched := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		elapsed     time.Duration
		wantFetched bool
	}{
		{"Fresh at 299s", 299 * time.Second, false},
		{"Boundary at exactly 300s", 300 * time.Second, false},
		{"Stale at 301s", 301 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: lastFetched.Add(tt.elapsed)}
			m := newTestMarket(t, clock)
			inst := pricedInstrument(t, m, "MLT", "4.50")
			inst.lastFetchedAt = lastFetched

			src := new(MockPriceDataSource)
			retrievedAt := clock.now.Add(2 * time.Second)
			if tt.wantFetched {
				src.On("FetchIntraday", ctx, "MLT", "AX").Return(intradayAt(retrievedAt), nil).Once()
			}

			fetched, err := inst.RefreshPrice(ctx, src)

			require.NoError(t, err)
			assert.Equal(t, tt.wantFetched, fetched)
			obs, ok := inst.Price()
			require.True(t, ok)
			if tt.wantFetched {
				assert.Equal(t, "5", obs.Price.String())
				assert.Equal(t, retrievedAt, inst.LastFetchedAt())
			} else {
				assert.Equal(t, "4.5", obs.Price.String())
				assert.Equal(t, lastFetched, inst.LastFetchedAt())
				src.AssertNotCalled(t, "FetchIntraday", mock.Anything, mock.Anything, mock.Anything)
			}
			src.AssertExpectations(t)
		})
	}
}

func TestRefreshPrice_UsesRetrievalTimeNotWallClock(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	m := newTestMarket(t, clock)
	inst, err := NewInstrument("MLT", m)
	require.NoError(t, err)

	// Source clock lags the local clock by four minutes
	retrievedAt := clock.now.Add(-4 * time.Minute)
	src := new(MockPriceDataSource)
	src.On("FetchIntraday", ctx, "MLT", "AX").Return(intradayAt(retrievedAt), nil)

	_, err = inst.RefreshPrice(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, retrievedAt, inst.LastFetchedAt())

	// 61s later the local clock is 301s past the source's retrieval time
	clock.Advance(61 * time.Second)
	fetched, err := inst.RefreshPrice(ctx, src)
	require.NoError(t, err)
	assert.True(t, fetched)
	src.AssertNumberOfCalls(t, "FetchIntraday", 2)
}

func TestRefreshPrice_ObservationInMarketZone(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	m := newTestMarket(t, clock)
	inst, err := NewInstrument("MLT", m)
	require.NoError(t, err)

	src := new(MockPriceDataSource)
	src.On("FetchIntraday", ctx, "MLT", "AX").Return(intradayAt(clock.now), nil)

	_, err = inst.RefreshPrice(ctx, src)
	require.NoError(t, err)

	obs, ok := inst.Price()
	require.True(t, ok)
	assert.Equal(t, "Australia/Sydney", obs.ObservedAt.Location().String())
	assert.Equal(t, "01:30 02/01/24", m.TimeSource().Format(obs.ObservedAt))
}

func TestRefreshPrice_MalformedResponseDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	lastFetched := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		resp *IntradayResponse
	}{
		{
			name: "Missing series",
			resp: &IntradayResponse{SourceTimezone: "US/Eastern", RetrievedAt: lastFetched.Add(time.Hour)},
		},
		{
			name: "Non numeric close",
			resp: &IntradayResponse{
				Series:         []IntradayBar{{Timestamp: "2024-01-01 09:30:00", Close: "abc"}},
				SourceTimezone: "US/Eastern",
				RetrievedAt:    lastFetched.Add(time.Hour),
			},
		},
		{
			name: "Missing timezone",
			resp: &IntradayResponse{
				Series:      []IntradayBar{{Timestamp: "2024-01-01 09:30:00", Close: "1.0"}},
				RetrievedAt: lastFetched.Add(time.Hour),
			},
		},
		{
			name: "Missing retrieval time",
			resp: &IntradayResponse{
				Series:         []IntradayBar{{Timestamp: "2024-01-01 09:30:00", Close: "1.0"}},
				SourceTimezone: "US/Eastern",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: lastFetched.Add(10 * time.Minute)}
			m := newTestMarket(t, clock)
			inst := pricedInstrument(t, m, "MLT", "4.50")
			inst.lastFetchedAt = lastFetched
			before, _ := inst.Price()

			src := new(MockPriceDataSource)
			src.On("FetchIntraday", ctx, "MLT", "AX").Return(tt.resp, nil).Once()

			fetched, err := inst.RefreshPrice(ctx, src)

			assert.True(t, fetched)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedResponse))
			assert.False(t, errors.Is(err, ErrDataSourceUnavailable))
			after, _ := inst.Price()
			assert.Equal(t, before, after)
			assert.Equal(t, lastFetched, inst.LastFetchedAt())
			src.AssertExpectations(t)
		})
	}
}

func TestRefreshPrice_SourceErrorsAreClassified(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		srcErr    error
		wantIs    error
		wantNotIs error
	}{
		{"Plain transport error", errors.New("connection reset"), ErrDataSourceUnavailable, ErrMalformedResponse},
		{"Deadline exceeded", context.DeadlineExceeded, ErrDataSourceUnavailable, ErrMalformedResponse},
		{"Typed malformed error is kept", ErrMalformedResponse, ErrMalformedResponse, ErrDataSourceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
			m := newTestMarket(t, clock)
			inst, err := NewInstrument("MLT", m)
			require.NoError(t, err)

			src := new(MockPriceDataSource)
			src.On("FetchIntraday", ctx, "MLT", "AX").Return(nil, tt.srcErr)

			_, err = inst.RefreshPrice(ctx, src)

			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantIs))
			assert.False(t, errors.Is(err, tt.wantNotIs))
			assert.True(t, errors.Is(err, tt.srcErr))
			assert.Equal(t, NeverFetched, inst.LastFetchedAt())
			_, ok := inst.Price()
			assert.False(t, ok)
		})
	}
}

func TestRefreshFundamentals(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	m := newTestMarket(t, clock)
	inst, err := NewInstrument("AFI", m)
	require.NoError(t, err)

	fetcher := new(MockFundamentalsFetcher)
	fetcher.On("FetchStatistics", ctx, "AFI").Return(&Statistics{SharesIssued: 1_250_000_000}, nil)
	fetcher.On("FetchDetails", ctx, "AFI").Return(&Details{
		Name:      " Australian Foundation Investment Company ",
		SourceURL: "https://www.afi.com.au",
		Sector:    SectorLIC,
	}, nil)

	err = inst.RefreshFundamentals(ctx, fetcher)

	require.NoError(t, err)
	assert.Equal(t, int64(1_250_000_000), inst.SharesIssued())
	assert.Equal(t, "Australian Foundation Investment Company", inst.Name())
	assert.Equal(t, "https://www.afi.com.au", inst.SourceURL())
	assert.Equal(t, SectorLIC, inst.Sector())
	assert.True(t, clock.now.Equal(inst.FundamentalsFetchedAt()))
	fetcher.AssertExpectations(t)
}

func TestRefreshFundamentals_FailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	m := newTestMarket(t, &fakeClock{now: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)})
	inst, err := NewInstrument("AFI", m)
	require.NoError(t, err)

	fetcher := new(MockFundamentalsFetcher)
	fetcher.On("FetchStatistics", ctx, "AFI").Return(&Statistics{SharesIssued: 100}, nil)
	fetcher.On("FetchDetails", ctx, "AFI").Return(nil, errors.New("timeout waiting for page"))

	err = inst.RefreshFundamentals(ctx, fetcher)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataSourceUnavailable))
	assert.Equal(t, int64(0), inst.SharesIssued())
	assert.True(t, inst.FundamentalsFetchedAt().IsZero())
}

func TestRefreshFundamentals_NegativeSharesIsMalformed(t *testing.T) {
	ctx := context.Background()
	m := newTestMarket(t, &fakeClock{})
	inst, err := NewInstrument("AFI", m)
	require.NoError(t, err)

	fetcher := new(MockFundamentalsFetcher)
	fetcher.On("FetchStatistics", ctx, "AFI").Return(&Statistics{SharesIssued: -1}, nil)

	err = inst.RefreshFundamentals(ctx, fetcher)

	assert.True(t, errors.Is(err, ErrMalformedResponse))
	fetcher.AssertNotCalled(t, "FetchDetails", mock.Anything, mock.Anything)
}

func TestInstrument_RecordRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	m := newTestMarket(t, clock)
	inst := pricedInstrument(t, m, "MLT", "4.25")
	inst.name = "Milton Corporation"
	inst.sharesIssued = 670_000_000
	inst.lastFetchedAt = clock.now

	rec := inst.Record()
	assert.Equal(t, KindStock, rec.Kind)
	assert.Equal(t, "ASX", rec.MarketCode)

	restored, err := RestoreInstrument(rec, m)
	require.NoError(t, err)
	assert.Equal(t, rec, restored.Record())

	rec.MarketCode = "NYSE"
	_, err = RestoreInstrument(rec, m)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}
