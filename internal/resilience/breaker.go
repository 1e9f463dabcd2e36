// Package resilience limits how hard voxline retries a failing pipeline.
//
// [Breaker] is a three-state breaker (closed, open, half-open) that counts
// consecutive failed runs. [Backoff] spaces out retries while the breaker is
// closed.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Execute] while the breaker is open.
var ErrOpen = errors.New("resilience: breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a single probe through. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the tuning knobs of a [Breaker].
type BreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that open the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before it lets a probe
	// through. Default: 1m.
	ResetTimeout time.Duration
}

// Breaker opens after too many consecutive failures.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	probeActive bool
}

// NewBreaker creates a closed [Breaker]. Zero config fields take their
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = time.Minute
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		now:          time.Now,
	}
}

// Execute runs fn unless the breaker is open. While half-open only one call
// runs at a time; concurrent callers get [ErrOpen].
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		b.state = StateHalfOpen
		slog.Info("breaker half-open; probing", "name", b.name)
	}
	switch {
	case b.state == StateOpen:
		b.mu.Unlock()
		return ErrOpen
	case b.state == StateHalfOpen && b.probeActive:
		b.mu.Unlock()
		return ErrOpen
	}
	probe := b.state == StateHalfOpen
	b.probeActive = probe
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probeActive = false
	}
	if err != nil {
		b.failure(probe)
	} else {
		b.success(probe)
	}
	return err
}

// failure must be called with b.mu held.
func (b *Breaker) failure(probe bool) {
	b.failures++
	if probe || b.failures >= b.maxFailures {
		if b.state != StateOpen {
			slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
		}
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// success must be called with b.mu held.
func (b *Breaker) success(probe bool) {
	if probe {
		slog.Info("breaker closed after a successful probe", "name", b.name)
	}
	b.state = StateClosed
	b.failures = 0
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [Breaker.Execute].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// RetryIn returns how long an open breaker keeps rejecting calls. It is zero
// otherwise.
func (b *Breaker) RetryIn() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	return max(b.resetTimeout-b.now().Sub(b.openedAt), 0)
}

// Reset closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probeActive = false
}
