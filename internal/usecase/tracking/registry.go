package tracking

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

// Registry holds the live markets and entities of the process.
// All access goes through Exclusive, so every mutation path has a single
// writer. Callers that fan work out inside Exclusive must hand each
// goroutine a distinct instrument.
type Registry struct {
	mu    sync.Mutex
	state State
}

// State is the registry content, only reachable while the lock is held
type State struct {
	markets  map[string]*domain.Market
	entities map[string]domain.Entity
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		state: State{
			markets:  make(map[string]*domain.Market),
			entities: make(map[string]domain.Entity),
		},
	}
}

// Exclusive runs fn with the registry locked. fn is not run when ctx is
// done by the time the lock is acquired.
func (r *Registry) Exclusive(ctx context.Context, fn func(s *State) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&r.state)
}

// Market returns the market registered under code
func (s *State) Market(code string) (*domain.Market, bool) {
	m, ok := s.markets[normalize(code)]
	return m, ok
}

// Markets returns every registered market ordered by code
func (s *State) Markets() []*domain.Market {
	out := make([]*domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// PutMarket registers m, replacing any market with the same code
func (s *State) PutMarket(m *domain.Market) {
	s.markets[m.Code] = m
}

// Entity returns the entity registered under ticker
func (s *State) Entity(ticker string) (domain.Entity, bool) {
	e, ok := s.entities[normalize(ticker)]
	return e, ok
}

// Put registers e and adds the back-reference on its market
func (s *State) Put(e domain.Entity) {
	base := e.Base()
	s.entities[base.Ticker()] = e
	base.Market().AddInstrument(base.Ticker())
}

// Entities returns the entities of a market ordered by ticker
func (s *State) Entities(marketCode string) []domain.Entity {
	m, ok := s.markets[normalize(marketCode)]
	if !ok {
		return nil
	}
	var out []domain.Entity
	for _, t := range m.Tickers() {
		if e, ok := s.entities[t]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Portfolio returns the portfolio registered under ticker, or ErrNotFound /
// ErrNotPortfolio
func (s *State) Portfolio(ticker string) (*domain.Portfolio, error) {
	e, ok := s.Entity(ticker)
	if !ok {
		return nil, notFound(ticker)
	}
	p, ok := e.(*domain.Portfolio)
	if !ok {
		return nil, notPortfolio(ticker)
	}
	return p, nil
}

// normalize matches the casing applied by domain constructors
func normalize(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
