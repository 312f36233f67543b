// Package memory provides in-process repositories used when no database is
// configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

// Store holds snapshots keyed by ticker and market code
type Store struct {
	mu          sync.RWMutex
	instruments map[string]domain.InstrumentRecord
	markets     map[string]domain.MarketRecord
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		instruments: make(map[string]domain.InstrumentRecord),
		markets:     make(map[string]domain.MarketRecord),
	}
}

/* ---- Instrument repo ---- */

type instrumentRepository struct{ s *Store }

// NewInstrumentRepository creates an instrument repository backed by s
func NewInstrumentRepository(s *Store) domain.InstrumentRepository {
	return &instrumentRepository{s: s}
}

func (r *instrumentRepository) Save(_ context.Context, entity domain.Entity) error {
	rec := entity.Record()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	// kind and market never change once written
	if prev, ok := r.s.instruments[rec.Ticker]; ok {
		rec.Kind = prev.Kind
		rec.MarketCode = prev.MarketCode
		rec.Holdings = mergeHoldings(prev.Holdings, rec.Holdings)
	}
	r.s.instruments[rec.Ticker] = cloneRecord(rec)
	return nil
}

func (r *instrumentRepository) Load(_ context.Context, ticker string) (*domain.InstrumentRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.instruments[ticker]
	if !ok {
		return nil, fmt.Errorf("instrument %s: %w", ticker, domain.ErrNotFound)
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (r *instrumentRepository) ListByMarket(_ context.Context, marketCode string) ([]*domain.InstrumentRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*domain.InstrumentRecord, 0)
	for _, rec := range r.s.instruments {
		if rec.MarketCode != marketCode {
			continue
		}
		c := cloneRecord(rec)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

/* ---- Market repo ---- */

type marketRepository struct{ s *Store }

// NewMarketRepository creates a market repository backed by s
func NewMarketRepository(s *Store) domain.MarketRepository {
	return &marketRepository{s: s}
}

func (r *marketRepository) Get(_ context.Context, code string) (*domain.MarketRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.markets[code]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", code, domain.ErrNotFound)
	}
	return &rec, nil
}

func (r *marketRepository) Save(_ context.Context, market *domain.Market) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.markets[market.Code] = market.Record()
	return nil
}

func (r *marketRepository) List(_ context.Context) ([]*domain.MarketRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*domain.MarketRecord, 0, len(r.s.markets))
	for _, rec := range r.s.markets {
		rec := rec
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// mergeHoldings mirrors the join-table upsert: rows are never deleted, incoming
// rows overwrite units and take the incoming order, and rows only present in
// prev keep their place after them.
func mergeHoldings(prev, next []domain.HoldingRecord) []domain.HoldingRecord {
	if len(prev) == 0 {
		return next
	}
	seen := make(map[string]bool, len(next))
	out := make([]domain.HoldingRecord, 0, len(prev)+len(next))
	for _, h := range next {
		seen[h.Ticker] = true
		out = append(out, h)
	}
	for _, h := range prev {
		if !seen[h.Ticker] {
			out = append(out, h)
		}
	}
	return out
}

func cloneRecord(rec domain.InstrumentRecord) domain.InstrumentRecord {
	out := rec
	if rec.LatestPrice != nil {
		p := *rec.LatestPrice
		out.LatestPrice = &p
	}
	if rec.NTA != nil {
		v := *rec.NTA
		out.NTA = &v
	}
	if rec.Holdings != nil {
		out.Holdings = append([]domain.HoldingRecord(nil), rec.Holdings...)
	}
	return out
}
