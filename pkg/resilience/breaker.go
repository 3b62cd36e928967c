package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when the breaker rejects a call without
// executing it.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit breaker lifecycle state.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a circuit breaker. After Threshold consecutive failures it
// opens and rejects calls for ResetTimeout, then allows a single half-open
// probe; further calls are rejected until that probe resolves.
type Breaker struct {
	threshold    int
	resetTimeout time.Duration

	mu          sync.Mutex
	state       BreakerState
	failures    int
	probing     bool
	lastFailure time.Time
}

// NewBreaker creates a closed Breaker.
func NewBreaker(threshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
	}
}

// Allow reports whether a call may proceed right now, transitioning
// open -> half-open once the reset timeout has elapsed. While half-open,
// exactly one probe is admitted until RecordSuccess or RecordFailure
// resolves it.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	case BreakerOpen:
		if time.Since(b.lastFailure) >= b.resetTimeout {
			b.state = BreakerHalfOpen
			b.probing = true
			return true
		}
		return false
	}
	return true
}

// RecordSuccess resets the breaker to closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a failure, opening the breaker at the threshold.
// A half-open probe failure reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()
	b.probing = false
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
	}
}

// State returns the current state, applying the open -> half-open
// transition if the reset timeout has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.lastFailure) >= b.resetTimeout {
		b.state = BreakerHalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Execute runs fn under the breaker, recording the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return fmt.Errorf("%w (last failure %s ago)", ErrBreakerOpen, time.Since(b.lastFailureTime()).Round(time.Millisecond))
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

func (b *Breaker) lastFailureTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure
}
