// Package circuitbreaker sheds calls to endpoints that keep failing, so a
// sick RPC provider slows one chain's scanning instead of tying up every
// worker in timeouts.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Defaults to 5.
	FailureThreshold int
	// SuccessThreshold is the probe-success count that closes a half-open
	// breaker. Defaults to 2.
	SuccessThreshold int
	// OpenTimeout is how long an open breaker rejects before letting a
	// probe through. Defaults to 30s.
	OpenTimeout time.Duration
	// OnStateChange, when set, runs under the breaker lock on every
	// transition. Keep it fast.
	OnStateChange func(from, to State)
}

// Breaker is a three-state circuit breaker. Closed counts consecutive
// failures, open rejects everything until a deadline, half-open admits
// probes and closes once enough of them succeed. Any probe failure reopens
// on the spot.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu         sync.Mutex
	state      State
	failStreak int
	probeHits  int
	probeAt    time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed, flipping an expired open
// breaker to half-open first.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.probeDue() {
		b.transition(StateHalfOpen)
	}
	if b.state == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess clears the failure streak and, in half-open, counts the
// probe toward closing.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failStreak = 0
	if b.state != StateHalfOpen {
		return
	}
	b.probeHits++
	if b.probeHits >= b.cfg.SuccessThreshold {
		b.transition(StateClosed)
	}
}

// RecordFailure counts a failure. A closed breaker opens at the threshold;
// a half-open one reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failStreak++
	b.probeHits = 0
	switch {
	case b.state == StateHalfOpen:
		b.transition(StateOpen)
	case b.state == StateClosed && b.failStreak >= b.cfg.FailureThreshold:
		b.transition(StateOpen)
	}
}

// State returns the current state, accounting for an elapsed open timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.probeDue() {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// probeDue reports whether an open breaker has waited out its timeout.
// Callers hold b.mu.
func (b *Breaker) probeDue() bool {
	return b.state == StateOpen && !b.now().Before(b.probeAt)
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.probeHits = 0
	switch to {
	case StateOpen:
		b.probeAt = b.now().Add(b.cfg.OpenTimeout)
	case StateClosed:
		b.failStreak = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
