package router

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

const (
	failMax         = 3
	baseRecovery    = 5 * time.Second
	maxRecovery     = 120 * time.Second
)

// CircuitBreaker guards calls to the selected Detector. It opens after
// failMax consecutive failures and probes for recovery on a backoff that
// doubles on each consecutive open, capped at maxRecovery, and resets to
// baseRecovery on a clean close.
type CircuitBreaker struct {
	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	recovery time.Duration
}

// NewCircuitBreaker returns a breaker in the closed state.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{recovery: baseRecovery}
}

// ShouldCall reports whether a call is currently allowed. A closed breaker
// always allows calls. An open breaker allows a single half-open probe once
// the recovery window has elapsed.
func (b *CircuitBreaker) ShouldCall() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateHalfOpen:
		return true
	case stateOpen:
		if time.Since(b.openedAt) >= b.recovery {
			b.state = stateHalfOpen
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the breaker and resets its failure count and
// recovery window.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = stateClosed
	b.failures = 0
	b.recovery = baseRecovery
}

// RecordFailure counts a failed or refused call. Once failMax consecutive
// failures accrue, the breaker opens; a failure while half-open reopens it
// and doubles the recovery window, up to maxRecovery.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.open()
		return
	}

	b.failures++
	if b.failures >= failMax {
		b.open()
	}
}

// open must be called with b.mu held.
func (b *CircuitBreaker) open() {
	wasOpen := b.state == stateOpen || b.state == stateHalfOpen
	b.state = stateOpen
	b.openedAt = time.Now()
	b.failures = failMax
	if wasOpen {
		b.recovery *= 2
		if b.recovery > maxRecovery {
			b.recovery = maxRecovery
		}
	}
}

// State returns a human-readable breaker state, for status endpoints and logs.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
