package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time in a market's local zone
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: time of day %q must be HH:MM", ErrInvalidArgument, s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// String renders the time as "HH:MM"
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) minutes() int {
	return t.Hour*60 + t.Minute
}

// Market groups instruments under a trading venue.
// It keeps back-references to its instruments by ticker only; it does not own
// their lifecycle.
type Market struct {
	Code         string
	APICode      string // suffix appended to tickers by the price source, e.g. "AX"
	Currency     string // ISO 4217 code used for display
	SessionOpen  TimeOfDay
	SessionClose TimeOfDay

	time        TimeSource
	instruments map[string]struct{}
}

// MarketRecord is the persisted shape of a Market
type MarketRecord struct {
	Code         string
	Timezone     string
	SessionOpen  string
	SessionClose string
	APICode      string
	Currency     string
}

// NewMarket builds a market whose clock reads in zone
func NewMarket(code, zone string, open, close TimeOfDay, apiCode, currency string, clock Clock) (*Market, error) {
	ts, err := NewTimeSource(zone, clock)
	if err != nil {
		return nil, err
	}

	m := &Market{
		Code:         strings.ToUpper(strings.TrimSpace(code)),
		APICode:      apiCode,
		Currency:     currency,
		SessionOpen:  open,
		SessionClose: close,
		time:         ts,
		instruments:  make(map[string]struct{}),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// RestoreMarket rebuilds a market from its persisted record
func RestoreMarket(rec MarketRecord, clock Clock) (*Market, error) {
	open, err := ParseTimeOfDay(rec.SessionOpen)
	if err != nil {
		return nil, err
	}
	closeAt, err := ParseTimeOfDay(rec.SessionClose)
	if err != nil {
		return nil, err
	}
	return NewMarket(rec.Code, rec.Timezone, open, closeAt, rec.APICode, rec.Currency, clock)
}

// Validate ensures the market adheres to domain rules
func (m *Market) Validate() error {
	if m.Code == "" {
		return errors.New("market code cannot be empty")
	}
	if m.SessionClose.minutes() <= m.SessionOpen.minutes() {
		return fmt.Errorf("%w: session close %s must be after open %s", ErrInvalidArgument, m.SessionClose, m.SessionOpen)
	}
	return nil
}

// TimeSource returns the market-local clock
func (m *Market) TimeSource() TimeSource {
	return m.time
}

// Timezone returns the IANA name of the market zone
func (m *Market) Timezone() string {
	return m.time.Location().String()
}

// IsOpen reports whether t falls inside a weekday trading session.
// Holidays are not modelled.
func (m *Market) IsOpen(t time.Time) bool {
	local := t.In(m.time.Location())
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	now := local.Hour()*60 + local.Minute()
	return now >= m.SessionOpen.minutes() && now < m.SessionClose.minutes()
}

// AddInstrument records a back-reference to ticker
func (m *Market) AddInstrument(ticker string) {
	m.instruments[ticker] = struct{}{}
}

// RemoveInstrument drops the back-reference to ticker
func (m *Market) RemoveInstrument(ticker string) {
	delete(m.instruments, ticker)
}

// Tickers returns the instruments grouped under this market, sorted
func (m *Market) Tickers() []string {
	out := make([]string, 0, len(m.instruments))
	for t := range m.instruments {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Record returns the persisted shape of the market
func (m *Market) Record() MarketRecord {
	return MarketRecord{
		Code:         m.Code,
		Timezone:     m.Timezone(),
		SessionOpen:  m.SessionOpen.String(),
		SessionClose: m.SessionClose.String(),
		APICode:      m.APICode,
		Currency:     m.Currency,
	}
}
