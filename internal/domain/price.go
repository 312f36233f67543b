package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SourceTimestampLayout is the layout of intraday series keys
const SourceTimestampLayout = "2006-01-02 15:04:05"

// PriceObservation is the latest known price of an instrument.
// ObservedAt is always expressed in the owning market's zone; the conversion
// happens once, in NormalizeObservation.
type PriceObservation struct {
	Price      decimal.Decimal
	ObservedAt time.Time
}

// IntradayBar is one raw entry of an intraday series
type IntradayBar struct {
	Timestamp string // source-local, SourceTimestampLayout
	Close     string
}

// IntradayResponse is what a PriceDataSource returns for one ticker
type IntradayResponse struct {
	// Series holds bars in the order the source returned them, newest first
	Series         []IntradayBar
	SourceTimezone string
	// RetrievedAt is the transport-level clock of the response (e.g. the
	// HTTP Date header), not the local wall clock
	RetrievedAt time.Time
}

// Latest returns the most recent bar. The source is trusted to order the
// series newest first.
func (r *IntradayResponse) Latest() (IntradayBar, error) {
	if r == nil || len(r.Series) == 0 {
		return IntradayBar{}, fmt.Errorf("%w: intraday series is missing or empty", ErrMalformedResponse)
	}
	return r.Series[0], nil
}

// NormalizeObservation parses bar in sourceZone and converts it to target.
func NormalizeObservation(bar IntradayBar, sourceZone string, target *time.Location) (PriceObservation, error) {
	if strings.TrimSpace(sourceZone) == "" {
		return PriceObservation{}, fmt.Errorf("%w: source timezone is missing", ErrMalformedResponse)
	}
	srcLoc, err := time.LoadLocation(sourceZone)
	if err != nil {
		return PriceObservation{}, fmt.Errorf("%w: unknown source timezone %q", ErrMalformedResponse, sourceZone)
	}

	observed, err := time.ParseInLocation(SourceTimestampLayout, strings.TrimSpace(bar.Timestamp), srcLoc)
	if err != nil {
		return PriceObservation{}, fmt.Errorf("%w: bad series timestamp %q: %v", ErrMalformedResponse, bar.Timestamp, err)
	}

	price, err := decimal.NewFromString(strings.TrimSpace(bar.Close))
	if err != nil {
		return PriceObservation{}, fmt.Errorf("%w: close price %q is not numeric", ErrMalformedResponse, bar.Close)
	}
	if price.IsNegative() {
		return PriceObservation{}, fmt.Errorf("%w: close price %s is negative", ErrMalformedResponse, price)
	}

	return PriceObservation{
		Price:      price,
		ObservedAt: observed.In(target),
	}, nil
}
