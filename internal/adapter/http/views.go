package http

import (
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

type marketView struct {
	Code         string `json:"code"`
	Timezone     string `json:"timezone"`
	SessionOpen  string `json:"session_open"`
	SessionClose string `json:"session_close"`
	Currency     string `json:"currency"`
}

// amountView carries the exact decimal and a currency-formatted display string
type amountView struct {
	Value   string `json:"value"`
	Display string `json:"display"`
}

type priceView struct {
	amountView
	ObservedAt        string `json:"observed_at"`
	ObservedAtDisplay string `json:"observed_at_display"`
}

type ntaView struct {
	amountView
	ComputedAt        string `json:"computed_at"`
	ComputedAtDisplay string `json:"computed_at_display"`
}

type holdingView struct {
	Ticker string `json:"ticker"`
	Units  int64  `json:"units"`
}

type instrumentView struct {
	Ticker       string        `json:"ticker"`
	Kind         string        `json:"kind"`
	Market       string        `json:"market"`
	Name         string        `json:"name,omitempty"`
	SourceURL    string        `json:"source_url,omitempty"`
	Sector       string        `json:"sector,omitempty"`
	SharesIssued int64         `json:"shares_issued"`
	LastFetched  string        `json:"last_fetched,omitempty"`
	Price        *priceView    `json:"price,omitempty"`
	Cash         *amountView   `json:"cash,omitempty"`
	Holdings     []holdingView `json:"holdings,omitempty"`
	NTA          *ntaView      `json:"nta,omitempty"`
}

func newMarketView(m *domain.MarketRecord) marketView {
	return marketView{
		Code:         m.Code,
		Timezone:     m.Timezone,
		SessionOpen:  m.SessionOpen,
		SessionClose: m.SessionClose,
		Currency:     m.Currency,
	}
}

func newInstrumentView(rec *domain.InstrumentRecord, market *domain.MarketRecord) instrumentView {
	loc := time.UTC
	currency := ""
	if market != nil {
		currency = market.Currency
		if l, err := time.LoadLocation(market.Timezone); err == nil {
			loc = l
		}
	}

	v := instrumentView{
		Ticker:       rec.Ticker,
		Kind:         string(rec.Kind),
		Market:       rec.MarketCode,
		Name:         rec.Name,
		SourceURL:    rec.SourceURL,
		Sector:       rec.Sector,
		SharesIssued: rec.SharesIssued,
	}
	if !rec.LastFetchedAt.Equal(domain.NeverFetched) {
		v.LastFetched = rec.LastFetchedAt.In(loc).Format(time.RFC3339)
	}
	if rec.LatestPrice != nil {
		v.Price = &priceView{
			amountView:        newAmountView(rec.LatestPrice.Price, currency),
			ObservedAt:        rec.LatestPrice.ObservedAt.In(loc).Format(time.RFC3339),
			ObservedAtDisplay: displayTime(rec.LatestPrice.ObservedAt, loc),
		}
	}

	if rec.IsPortfolio() {
		cash := newAmountView(rec.Cash, currency)
		v.Cash = &cash
		v.Holdings = make([]holdingView, 0, len(rec.Holdings))
		for _, h := range rec.Holdings {
			v.Holdings = append(v.Holdings, holdingView{Ticker: h.Ticker, Units: h.Units})
		}
		if rec.NTA != nil {
			v.NTA = &ntaView{
				amountView:        newAmountView(rec.NTA.Value, currency),
				ComputedAt:        rec.NTA.ComputedAt.In(loc).Format(time.RFC3339),
				ComputedAtDisplay: displayTime(rec.NTA.ComputedAt, loc),
			}
		}
	}
	return v
}

func newAmountView(amount decimal.Decimal, currency string) amountView {
	return amountView{Value: amount.String(), Display: displayAmount(amount, currency)}
}

// displayAmount formats amount in currency, rounded to the currency's minor
// unit. Unknown currencies fall back to the plain decimal.
func displayAmount(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.String()
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}

// displayTime renders t in the market zone using the canonical display layout
func displayTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(domain.DisplayTimeLayout)
}
