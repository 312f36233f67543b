package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

// marketRepository implements domain.MarketRepository
type marketRepository struct {
	db *DB
}

// NewMarketRepository creates a new market repository
func NewMarketRepository(db *DB) domain.MarketRepository {
	return &marketRepository{db: db}
}

// Get retrieves a market by code
func (r *marketRepository) Get(ctx context.Context, code string) (*domain.MarketRecord, error) {
	query := `
		SELECT code, timezone, session_open, session_close, api_code, currency
		FROM markets
		WHERE code = $1
	`

	var rec domain.MarketRecord
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&rec.Code,
		&rec.Timezone,
		&rec.SessionOpen,
		&rec.SessionClose,
		&rec.APICode,
		&rec.Currency,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("market %s: %w", code, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get market %s: %w", code, err)
	}

	return &rec, nil
}

// Save upserts a market
func (r *marketRepository) Save(ctx context.Context, market *domain.Market) error {
	query := `
		INSERT INTO markets (code, timezone, session_open, session_close, api_code, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			session_open = EXCLUDED.session_open,
			session_close = EXCLUDED.session_close,
			api_code = EXCLUDED.api_code,
			currency = EXCLUDED.currency
	`

	rec := market.Record()
	_, err := r.db.ExecContext(ctx, query,
		rec.Code,
		rec.Timezone,
		rec.SessionOpen,
		rec.SessionClose,
		rec.APICode,
		rec.Currency,
	)
	if err != nil {
		return fmt.Errorf("failed to save market %s: %w", rec.Code, err)
	}

	return nil
}

// List retrieves all markets ordered by code
func (r *marketRepository) List(ctx context.Context) ([]*domain.MarketRecord, error) {
	query := `
		SELECT code, timezone, session_open, session_close, api_code, currency
		FROM markets
		ORDER BY code ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list markets: %w", err)
	}
	defer rows.Close()

	var markets []*domain.MarketRecord
	for rows.Next() {
		var rec domain.MarketRecord
		if err := rows.Scan(&rec.Code, &rec.Timezone, &rec.SessionOpen, &rec.SessionClose, &rec.APICode, &rec.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		markets = append(markets, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating markets: %w", err)
	}

	return markets, nil
}
