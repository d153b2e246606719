package resilience

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrCircuitOpen is returned by guarded calls while the breaker is open.
// Callers should treat it as "try again later", not as data loss.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Breaker is a circuit breaker over a single downstream resource.
// It opens after a configured number of consecutive failures, fails fast
// while open, and probes with a single call after the reset timeout.
type Breaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	openedAt     time.Time
	threshold    int
	resetTimeout time.Duration

	// now is swappable in tests
	now func() time.Time
}

func NewBreaker(failureThreshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		state:        StateClosed,
		threshold:    failureThreshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen while
// the breaker is open and the reset timeout has not elapsed yet. When the
// timeout has elapsed the breaker transitions to half-open and lets the next
// call through as a probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return errors.WithStack(ErrCircuitOpen)
		}
		b.state = StateHalfOpen
	}
	return nil
}

// Success records a successful call, closing the breaker and resetting the
// consecutive failure counter.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = StateClosed
}

// Failure records a failed call. The half-open probe failing reopens the
// breaker immediately, regardless of the failure counter.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
