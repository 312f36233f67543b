//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

var db *DB

// TestMain connects to the database and applies migrations
func TestMain(m *testing.M) {
	var err error
	db, err = NewDB(getDBConnectionString())
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to database: %v", err))
	}

	if err := db.Migrate(context.Background()); err != nil {
		panic(fmt.Sprintf("Failed to migrate database: %v", err))
	}

	code := m.Run()

	db.Close()
	os.Exit(code)
}

func getDBConnectionString() string {
	if connStr := os.Getenv("DB_CONN_STR"); connStr != "" {
		return connStr
	}
	return "host=localhost port=5432 user=postgres password=postgres dbname=lictracker_test sslmode=disable"
}

// fixedClock pins market time for deterministic NTA timestamps
type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func uniqueTicker(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano()%1_000_000)
}

func setupMarket(t *testing.T, ctx context.Context, code string) *domain.Market {
	t.Helper()
	clock := fixedClock{now: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	m, err := domain.NewMarket(code, "Australia/Sydney", domain.TimeOfDay{Hour: 10}, domain.TimeOfDay{Hour: 16}, "AX", "AUD", clock)
	require.NoError(t, err)
	require.NoError(t, NewMarketRepository(db).Save(ctx, m))
	return m
}

func TestMarketRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := NewMarketRepository(db)
	code := uniqueTicker("M")

	m := setupMarket(t, ctx, code)
	require.NoError(t, repo.Save(ctx, m))

	rec, err := repo.Get(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, m.Record(), *rec)

	_, err = repo.Get(ctx, "MISSING-MARKET")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestInstrumentRepository_PortfolioRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewInstrumentRepository(db)
	m := setupMarket(t, ctx, uniqueTicker("M"))

	a, err := domain.NewInstrument(uniqueTicker("A"), m)
	require.NoError(t, err)
	b, err := domain.NewInstrument(uniqueTicker("B"), m)
	require.NoError(t, err)
	p, err := domain.NewPortfolio(uniqueTicker("P"), m)
	require.NoError(t, err)
	require.NoError(t, p.SetCash(decimal.RequireFromString("1000.25")))
	require.NoError(t, p.UpsertHolding(a, 10))
	require.NoError(t, p.UpsertHolding(b, 0))

	require.NoError(t, repo.Save(ctx, a))
	require.NoError(t, repo.Save(ctx, b))
	require.NoError(t, repo.Save(ctx, p))
	// duplicate writes are upserts
	require.NoError(t, repo.Save(ctx, p))

	rec, err := repo.Load(ctx, p.Ticker())
	require.NoError(t, err)
	assert.Equal(t, domain.KindPortfolio, rec.Kind)
	assert.Equal(t, "1000.25", rec.Cash.String())
	assert.Nil(t, rec.NTA)
	assert.Nil(t, rec.LatestPrice)
	assert.Equal(t, []domain.HoldingRecord{
		{Ticker: a.Ticker(), Units: 10},
		{Ticker: b.Ticker(), Units: 0},
	}, rec.Holdings)

	list, err := repo.ListByMarket(ctx, m.Code)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for _, r := range list {
		if r.IsPortfolio() {
			assert.Len(t, r.Holdings, 2)
		} else {
			assert.Empty(t, r.Holdings)
		}
	}
}

func TestInstrumentRepository_LoadNotFound(t *testing.T) {
	_, err := NewInstrumentRepository(db).Load(context.Background(), "NO-SUCH-TICKER")

	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
