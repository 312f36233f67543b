package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/simaogato/lictracker-backend/internal/domain"
)

const instrumentColumns = `
	ticker, kind, market_code, name, source_url, sector, shares_issued,
	price, price_observed_at, last_fetched_at, fundamentals_fetched_at,
	cash, nta, nta_computed_at
`

// instrumentRepository implements domain.InstrumentRepository
type instrumentRepository struct {
	db *DB
}

// NewInstrumentRepository creates a new instrument repository
func NewInstrumentRepository(db *DB) domain.InstrumentRepository {
	return &instrumentRepository{db: db}
}

// Save upserts the instrument row and, for portfolios, its holdings.
// Kind and market are identity attributes and are never rewritten.
func (r *instrumentRepository) Save(ctx context.Context, entity domain.Entity) error {
	rec := entity.Record()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO instruments (` + instrumentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (ticker) DO UPDATE SET
			name = EXCLUDED.name,
			source_url = EXCLUDED.source_url,
			sector = EXCLUDED.sector,
			shares_issued = EXCLUDED.shares_issued,
			price = EXCLUDED.price,
			price_observed_at = EXCLUDED.price_observed_at,
			last_fetched_at = EXCLUDED.last_fetched_at,
			fundamentals_fetched_at = EXCLUDED.fundamentals_fetched_at,
			cash = EXCLUDED.cash,
			nta = EXCLUDED.nta,
			nta_computed_at = EXCLUDED.nta_computed_at
	`

	var price, priceObservedAt, cash, nta, ntaComputedAt interface{}
	if rec.LatestPrice != nil {
		price = rec.LatestPrice.Price.String()
		priceObservedAt = rec.LatestPrice.ObservedAt
	}
	if rec.IsPortfolio() {
		cash = rec.Cash.String()
		if rec.NTA != nil {
			nta = rec.NTA.Value.String()
			ntaComputedAt = rec.NTA.ComputedAt
		}
	}

	_, err = tx.ExecContext(ctx, query,
		rec.Ticker,
		string(rec.Kind),
		rec.MarketCode,
		rec.Name,
		rec.SourceURL,
		rec.Sector,
		rec.SharesIssued,
		price,
		priceObservedAt,
		rec.LastFetchedAt,
		nullTime(rec.FundamentalsFetchedAt),
		cash,
		nta,
		ntaComputedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert instrument %s: %w", rec.Ticker, err)
	}

	if rec.IsPortfolio() {
		holdingQuery := `
			INSERT INTO portfolio_holdings (portfolio_ticker, held_ticker, units, position)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (portfolio_ticker, held_ticker) DO UPDATE SET
				units = EXCLUDED.units,
				position = EXCLUDED.position
		`
		for i, h := range rec.Holdings {
			if _, err := tx.ExecContext(ctx, holdingQuery, rec.Ticker, h.Ticker, h.Units, i); err != nil {
				return fmt.Errorf("failed to upsert holding %s of %s: %w", h.Ticker, rec.Ticker, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit instrument %s: %w", rec.Ticker, err)
	}

	return nil
}

// Load retrieves the snapshot for ticker
func (r *instrumentRepository) Load(ctx context.Context, ticker string) (*domain.InstrumentRecord, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments WHERE ticker = $1`

	rec, err := scanInstrument(r.db.QueryRowContext(ctx, query, ticker))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("instrument %s: %w", ticker, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get instrument %s: %w", ticker, err)
	}

	if rec.IsPortfolio() {
		holdings, err := r.holdings(ctx, `
			SELECT portfolio_ticker, held_ticker, units
			FROM portfolio_holdings
			WHERE portfolio_ticker = $1
			ORDER BY position ASC
		`, ticker)
		if err != nil {
			return nil, err
		}
		rec.Holdings = holdings[ticker]
	}

	return rec, nil
}

// ListByMarket retrieves all snapshots of a market ordered by ticker
func (r *instrumentRepository) ListByMarket(ctx context.Context, marketCode string) ([]*domain.InstrumentRecord, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments WHERE market_code = $1 ORDER BY ticker ASC`

	rows, err := r.db.QueryContext(ctx, query, marketCode)
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments of market %s: %w", marketCode, err)
	}
	defer rows.Close()

	var records []*domain.InstrumentRecord
	hasPortfolios := false
	for rows.Next() {
		rec, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		hasPortfolios = hasPortfolios || rec.IsPortfolio()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instruments: %w", err)
	}

	if hasPortfolios {
		holdings, err := r.holdings(ctx, `
			SELECT h.portfolio_ticker, h.held_ticker, h.units
			FROM portfolio_holdings h
			JOIN instruments i ON i.ticker = h.portfolio_ticker
			WHERE i.market_code = $1
			ORDER BY h.portfolio_ticker ASC, h.position ASC
		`, marketCode)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if rec.IsPortfolio() {
				rec.Holdings = holdings[rec.Ticker]
			}
		}
	}

	return records, nil
}

// holdings runs a join-table query and groups the rows by portfolio ticker
func (r *instrumentRepository) holdings(ctx context.Context, query string, arg string) (map[string][]domain.HoldingRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.HoldingRecord)
	for rows.Next() {
		var portfolio string
		var h domain.HoldingRecord
		if err := rows.Scan(&portfolio, &h.Ticker, &h.Units); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		out[portfolio] = append(out[portfolio], h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanInstrument reads one row selected with instrumentColumns
func scanInstrument(row rowScanner) (*domain.InstrumentRecord, error) {
	var rec domain.InstrumentRecord
	var kind string
	var priceStr, cashStr, ntaStr sql.NullString
	var priceObservedAt, fundamentalsFetchedAt, ntaComputedAt sql.NullTime

	err := row.Scan(
		&rec.Ticker,
		&kind,
		&rec.MarketCode,
		&rec.Name,
		&rec.SourceURL,
		&rec.Sector,
		&rec.SharesIssued,
		&priceStr,
		&priceObservedAt,
		&rec.LastFetchedAt,
		&fundamentalsFetchedAt,
		&cashStr,
		&ntaStr,
		&ntaComputedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind, err = domain.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	if fundamentalsFetchedAt.Valid {
		rec.FundamentalsFetchedAt = fundamentalsFetchedAt.Time
	}

	// Parse price (NUMERIC, nullable)
	if priceStr.Valid {
		price, err := decimal.NewFromString(priceStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse price of %s: %w", rec.Ticker, err)
		}
		rec.LatestPrice = &domain.PriceObservation{Price: price, ObservedAt: priceObservedAt.Time}
	}

	// Parse cash (NUMERIC, nullable for stocks)
	rec.Cash = decimal.Zero
	if cashStr.Valid {
		cash, err := decimal.NewFromString(cashStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cash of %s: %w", rec.Ticker, err)
		}
		rec.Cash = cash
	}

	// Parse nta (NUMERIC, nullable)
	if ntaStr.Valid {
		nta, err := decimal.NewFromString(ntaStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse nta of %s: %w", rec.Ticker, err)
		}
		rec.NTA = &domain.Valuation{Value: nta, ComputedAt: ntaComputedAt.Time}
	}

	return &rec, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
