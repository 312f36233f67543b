package domain

import (
	"fmt"
	"time"
	_ "time/tzdata" // market zones must resolve on hosts without zoneinfo
)

// DisplayTimeLayout is the canonical human format for market-local timestamps
// (hour:minute day/month/two-digit-year).
const DisplayTimeLayout = "15:04 02/01/06"

// Clock supplies the current instant. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time {
	return time.Now()
}

// TimeSource produces timestamps in a named market timezone.
// It is immutable once built.
type TimeSource struct {
	loc   *time.Location
	clock Clock
}

// NewTimeSource resolves zone (an IANA name such as "Australia/Sydney") and
// binds it to clock. A nil clock means the system clock.
func NewTimeSource(zone string, clock Clock) (TimeSource, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return TimeSource{}, fmt.Errorf("%w: unknown timezone %q: %v", ErrInvalidArgument, zone, err)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return TimeSource{loc: loc, clock: clock}, nil
}

// Now returns the current time expressed in the market zone
func (ts TimeSource) Now() time.Time {
	return ts.clock.Now().In(ts.loc)
}

// Location returns the market zone
func (ts TimeSource) Location() *time.Location {
	return ts.loc
}

// Format renders t in the market zone using DisplayTimeLayout
func (ts TimeSource) Format(t time.Time) string {
	return t.In(ts.loc).Format(DisplayTimeLayout)
}
