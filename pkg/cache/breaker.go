package cache

import (
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
)

// BreakerState is a read-only snapshot of the circuit breaker
type BreakerState struct {
	Open         bool      `json:"open"`
	HalfOpen     bool      `json:"half_open"`
	Failures     int       `json:"failures"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
	OpenedAt     time.Time `json:"opened_at,omitempty"`
	CooldownLeft string    `json:"cooldown_left,omitempty"`
}

// Breaker trips after a number of consecutive backend failures and bypasses
// the backend for a cool-down window. After the cool-down a single probe is
// let through, success closes the breaker, failure reopens it.
// State is owned exclusively by the breaker, callers only report outcomes.
type Breaker struct {
	threshold int
	cooldown  time.Duration

	mu          sync.Mutex
	failures    int
	open        bool
	probing     bool
	openedAt    time.Time
	lastFailure time.Time
	nowFn       func() time.Time
}

// NewBreaker creates a breaker tripping after threshold consecutive failures
// with the given cool-down window
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, nowFn: time.Now}
}

// Allow reports whether a backend call may proceed. During the cool-down
// window it returns false; once the window elapses it admits a single probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}

	if b.nowFn().Sub(b.openedAt) < b.cooldown {
		return false
	}

	// cool-down elapsed, admit one probe at a time
	if b.probing {
		return false
	}
	b.probing = true
	return true
}

// Success records a successful backend call, closing the breaker if open
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		lgr.Printf("[INFO] cache breaker closed after successful probe")
	}
	b.open = false
	b.probing = false
	b.failures = 0
}

// Failure records a failed backend call, opening the breaker once the
// consecutive failure count reaches the threshold
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.nowFn()

	if b.open {
		// failed probe, restart the cool-down
		b.openedAt = b.lastFailure
		b.probing = false
		lgr.Printf("[WARN] cache breaker probe failed, reopened for %v", b.cooldown)
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.open = true
		b.probing = false
		b.openedAt = b.lastFailure
		lgr.Printf("[WARN] cache breaker opened after %d consecutive failures, bypassing backend for %v", b.failures, b.cooldown)
	}
}

// State returns a snapshot of the breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BreakerState{
		Open:        b.open,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
	if b.open {
		st.OpenedAt = b.openedAt
		left := b.cooldown - b.nowFn().Sub(b.openedAt)
		if left > 0 {
			st.CooldownLeft = left.Round(time.Millisecond).String()
		} else {
			st.HalfOpen = true
		}
	}
	return st
}

// Reset closes the breaker and clears the failure counter
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.probing = false
	b.failures = 0
	lgr.Printf("[INFO] cache breaker reset")
}
