package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Valuation is a computed NTA per share
type Valuation struct {
	Value      decimal.Decimal
	ComputedAt time.Time
}

// Holding is a read-only view of one position of a portfolio
type Holding struct {
	Ticker string
	Units  int64
	held   *Instrument
}

// Price returns the held instrument's latest observation
func (h Holding) Price() (PriceObservation, bool) {
	if h.held == nil {
		return PriceObservation{}, false
	}
	return h.held.Price()
}

// Portfolio is an instrument (a listed investment company) that also holds
// cash and units of other instruments. Held instruments are referenced, never
// mutated, and may be refreshed independently of the portfolio.
//
// The stored NTA is not invalidated when cash or a held price changes;
// callers refresh holdings and recompute before reading it.
type Portfolio struct {
	*Instrument

	cash     decimal.Decimal
	holdings map[string]*Holding
	order    []string
	nta      *Valuation
}

// NewPortfolio creates an empty portfolio with zero cash
func NewPortfolio(ticker string, market *Market) (*Portfolio, error) {
	inst, err := NewInstrument(ticker, market)
	if err != nil {
		return nil, err
	}
	return &Portfolio{
		Instrument: inst,
		cash:       decimal.Zero,
		holdings:   make(map[string]*Holding),
	}, nil
}

// Kind returns KindPortfolio
func (p *Portfolio) Kind() Kind { return KindPortfolio }

// Cash returns the portfolio's cash balance
func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

// SetCash replaces the cash balance
func (p *Portfolio) SetCash(cash decimal.Decimal) error {
	if cash.IsNegative() {
		return fmt.Errorf("%w: cash must not be negative", ErrInvalidArgument)
	}
	p.cash = cash
	return nil
}

// UpsertHolding sets the units held of inst, inserting it when absent.
// Zero units are kept as a holding. Cross-market holdings are allowed.
func (p *Portfolio) UpsertHolding(inst *Instrument, units int64) error {
	if inst == nil {
		return errors.New("holding must reference an instrument")
	}
	if inst == p.Instrument || inst.Ticker() == p.Ticker() {
		return fmt.Errorf("%w: portfolio %s cannot hold itself", ErrInvalidArgument, p.Ticker())
	}
	if units < 0 {
		return fmt.Errorf("%w: units must not be negative", ErrInvalidArgument)
	}

	if h, ok := p.holdings[inst.Ticker()]; ok {
		h.Units = units
		h.held = inst
		return nil
	}
	p.holdings[inst.Ticker()] = &Holding{Ticker: inst.Ticker(), Units: units, held: inst}
	p.order = append(p.order, inst.Ticker())
	return nil
}

// Holdings returns the positions in insertion order
func (p *Portfolio) Holdings() []Holding {
	out := make([]Holding, 0, len(p.order))
	for _, t := range p.order {
		out = append(out, *p.holdings[t])
	}
	return out
}

// HeldTickers returns the tickers held, in insertion order
func (p *Portfolio) HeldTickers() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// NTA returns the last computed valuation, if any
func (p *Portfolio) NTA() (Valuation, bool) {
	if p.nta == nil {
		return Valuation{}, false
	}
	return *p.nta, true
}

// ComputeNTA derives (cash + Σ price×units) / sharesIssued from in-memory
// state. It never fetches; refresh the holdings first. On error the previous
// valuation is kept.
func (p *Portfolio) ComputeNTA() (Valuation, error) {
	if p.SharesIssued() <= 0 {
		return Valuation{}, fmt.Errorf("%s: %w: shares issued must be positive, got %d", p.Ticker(), ErrStaleConfiguration, p.SharesIssued())
	}

	total := p.cash
	var missing []string
	for _, t := range p.order {
		h := p.holdings[t]
		obs, ok := h.Price()
		if !ok {
			missing = append(missing, t)
			continue
		}
		total = total.Add(obs.Price.Mul(decimal.NewFromInt(h.Units)))
	}
	if len(missing) > 0 {
		return Valuation{}, fmt.Errorf("%s: %w: no price for %s", p.Ticker(), ErrIncompleteValuation, strings.Join(missing, ", "))
	}

	v := Valuation{
		Value:      total.Div(decimal.NewFromInt(p.SharesIssued())),
		ComputedAt: p.Market().TimeSource().Now(),
	}
	p.nta = &v
	return v, nil
}

// Record returns the persisted snapshot including cash, holdings and NTA
func (p *Portfolio) Record() InstrumentRecord {
	rec := p.Instrument.Record()
	rec.Kind = KindPortfolio
	rec.Cash = p.cash
	rec.Holdings = make([]HoldingRecord, 0, len(p.order))
	for _, t := range p.order {
		rec.Holdings = append(rec.Holdings, HoldingRecord{Ticker: t, Units: p.holdings[t].Units})
	}
	if p.nta != nil {
		v := *p.nta
		rec.NTA = &v
	}
	return rec
}

// RestorePortfolio rebuilds a portfolio from its snapshot. resolve looks up
// already-restored held instruments by ticker and is only called for
// rec.Holdings.
func RestorePortfolio(rec InstrumentRecord, market *Market, resolve func(ticker string) (*Instrument, bool)) (*Portfolio, error) {
	if rec.Kind != KindPortfolio {
		return nil, fmt.Errorf("%w: %s", ErrNotPortfolio, rec.Ticker)
	}
	inst, err := RestoreInstrument(rec, market)
	if err != nil {
		return nil, err
	}

	p := &Portfolio{
		Instrument: inst,
		cash:       rec.Cash,
		holdings:   make(map[string]*Holding),
	}
	for _, hr := range rec.Holdings {
		held, ok := resolve(hr.Ticker)
		if !ok {
			return nil, fmt.Errorf("%s: held instrument %s: %w", rec.Ticker, hr.Ticker, ErrNotFound)
		}
		if err := p.UpsertHolding(held, hr.Units); err != nil {
			return nil, err
		}
	}
	if rec.NTA != nil {
		v := Valuation{Value: rec.NTA.Value, ComputedAt: rec.NTA.ComputedAt.In(market.TimeSource().Location())}
		p.nta = &v
	}
	return p, nil
}
