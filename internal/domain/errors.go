package domain

import "errors"

// Error taxonomy shared by the domain, usecases and adapters.
// Adapters wrap transport and decoding failures with these sentinels so
// callers can branch with errors.Is.
var (
	// ErrDataSourceUnavailable covers network errors, timeouts, non-2xx
	// responses and rate-limit notes from an external source. Recoverable:
	// the next refresh cycle retries with backoff.
	ErrDataSourceUnavailable = errors.New("data source unavailable")

	// ErrMalformedResponse means the external payload violates the expected
	// shape (missing keys, non-numeric price, unknown timezone).
	ErrMalformedResponse = errors.New("malformed response")

	// ErrIncompleteValuation is returned when NTA is requested while a
	// holding has no price observation yet.
	ErrIncompleteValuation = errors.New("incomplete valuation")

	// ErrStaleConfiguration is returned when shares issued is unset or zero
	// at valuation time.
	ErrStaleConfiguration = errors.New("stale configuration")

	ErrNotFound        = errors.New("not found")
	ErrNotPortfolio    = errors.New("instrument is not a portfolio")
	ErrInvalidArgument = errors.New("invalid argument")
)
