// Package resilience holds the failure-handling primitives that guard the
// relational storage backend. The circuit breaker decides when repeated
// database failures should stop reaching the database at all, so the
// failover store can switch to the flat file quickly instead of paying a
// connection timeout on every call.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the guarded backend is quarantined.
var ErrCircuitOpen = errors.New("circuit open: backend quarantined")

// Breaker quarantines a backend after a streak of consecutive failures.
// While quarantined every call is rejected immediately; once the cooldown
// elapses a single trial call is let through, and its outcome decides
// whether the quarantine lifts or extends.
type Breaker struct {
	mu          sync.Mutex
	streak      int // consecutive failures since the last success
	maxFailures int
	cooldown    time.Duration
	openUntil   time.Time // zero while the circuit is closed
	probing     bool      // a trial call is in flight after cooldown
	clock       func() time.Time
}

// NewBreaker creates a breaker that quarantines the backend after
// maxFailures consecutive failures, for at least the given cooldown.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		clock:       time.Now,
	}
}

// Execute runs fn unless the backend is quarantined, in which case it
// returns ErrCircuitOpen without calling fn. fn's error is passed through.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return true
	}
	if b.clock().Before(b.openUntil) {
		return false
	}
	// Cooldown over. Admit one trial call against the backend.
	b.probing = true
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.streak = 0
		b.openUntil = time.Time{}
		b.probing = false
		return
	}
	b.streak++
	if b.probing || b.streak >= b.maxFailures {
		b.openUntil = b.clock().Add(b.cooldown)
		b.probing = false
	}
}

// quarantined reports whether calls are currently rejected. Test hook.
func (b *Breaker) quarantined() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.openUntil.IsZero() && b.clock().Before(b.openUntil)
}
