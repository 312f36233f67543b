package refresh

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

// BackoffPolicy controls how long a failing ticker is skipped
type BackoffPolicy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction of the delay, applied both ways
}

// DefaultBackoffPolicy doubles from 30s up to 30m with ±10% jitter
var DefaultBackoffPolicy = BackoffPolicy{
	Base:   30 * time.Second,
	Max:    30 * time.Minute,
	Jitter: 0.1,
}

type backoffEntry struct {
	failures int
	until    time.Time
}

// backoff tracks per-ticker retry windows. Safe for concurrent use.
type backoff struct {
	mu      sync.Mutex
	policy  BackoffPolicy
	random  func() float64
	entries map[string]*backoffEntry
}

func newBackoff(policy BackoffPolicy) *backoff {
	return &backoff{
		policy:  policy,
		random:  rand.Float64,
		entries: make(map[string]*backoffEntry),
	}
}

// blocked reports whether ticker is still inside its retry window
func (b *backoff) blocked(ticker string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[ticker]
	return ok && now.Before(e.until)
}

// failure records a failed fetch and returns the end of the retry window.
// Malformed responses are not expected to fix themselves soon and go
// straight to the cap.
func (b *backoff) failure(ticker string, err error, now time.Time) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[ticker]
	if !ok {
		e = &backoffEntry{}
		b.entries[ticker] = e
	}
	e.failures++

	delay := b.policy.Max
	if !errors.Is(err, domain.ErrMalformedResponse) {
		delay = b.policy.Base
		for i := 1; i < e.failures && delay < b.policy.Max; i++ {
			delay *= 2
		}
		if delay > b.policy.Max {
			delay = b.policy.Max
		}
	}
	if b.policy.Jitter > 0 {
		delay = time.Duration(float64(delay) * (1 + b.policy.Jitter*(2*b.random()-1)))
	}

	e.until = now.Add(delay)
	return e.until
}

// success clears any retry state of ticker
func (b *backoff) success(ticker string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, ticker)
}
