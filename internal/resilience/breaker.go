// Package resilience keeps the agent conversing when a dialog backend
// degrades. A per-backend [Breaker] trips after repeated connect failures
// and cools down before letting probes through again, and a
// [ProviderChain] fails over across an ordered list of backends so a
// tripped primary never strands the session.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBackendCooling is returned when a breaker refuses a connect because
// its backend is cooling down after tripping.
var ErrBackendCooling = errors.New("resilience: dialog backend cooling down")

// BreakerState describes a breaker's position.
type BreakerState int

const (
	// BreakerClosed lets connects through; the backend is healthy.
	BreakerClosed BreakerState = iota

	// BreakerTripped rejects connects until the cooldown elapses.
	BreakerTripped

	// BreakerProbing lets a limited number of trial connects through
	// after the cooldown to see whether the backend recovered.
	BreakerProbing
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerTripped:
		return "tripped"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a [Breaker]. Zero values get defaults.
type BreakerConfig struct {
	// Backend names the dialog backend the breaker guards, for logging.
	Backend string

	// TripAfter is the number of consecutive connect failures that trips
	// the breaker. Defaults to 3.
	TripAfter int

	// Cooldown is how long a tripped breaker rejects connects before
	// probing the backend again. Defaults to 20s.
	Cooldown time.Duration

	// ProbeBudget is how many trial connects the probing state allows,
	// and how many must succeed to close the breaker. Defaults to 2.
	ProbeBudget int
}

// Breaker guards one dialog backend's connect path. Consecutive failures
// trip it; after the cooldown it probes the backend with a few trial
// connects and closes again once they succeed.
type Breaker struct {
	backend     string
	tripAfter   int
	cooldown    time.Duration
	probeBudget int

	mu         sync.Mutex
	state      BreakerState
	failStreak int
	trippedAt  time.Time
	probes     int
	probeFails int
}

// NewBreaker creates a Breaker from cfg, applying defaults for zero
// values.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 20 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 2
	}
	return &Breaker{
		backend:     cfg.Backend,
		tripAfter:   cfg.TripAfter,
		cooldown:    cfg.Cooldown,
		probeBudget: cfg.ProbeBudget,
		state:       BreakerClosed,
	}
}

// Do runs one guarded connect attempt. It returns [ErrBackendCooling]
// without calling fn when the backend is cooling down or the probe budget
// is spent; otherwise it runs fn and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// admit decides whether an attempt may proceed, advancing a tripped
// breaker into probing once its cooldown has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerTripped:
		if time.Since(b.trippedAt) < b.cooldown {
			return ErrBackendCooling
		}
		b.state = BreakerProbing
		b.probes = 0
		b.probeFails = 0
		slog.Info("dialog backend probing after cooldown", "backend", b.backend)
		fallthrough
	case BreakerProbing:
		if b.probes >= b.probeBudget {
			return ErrBackendCooling
		}
		b.probes++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerProbing:
		// One failed probe is enough: the backend is still down.
		b.probeFails++
		b.trip()
	case BreakerClosed:
		b.failStreak++
		if b.failStreak >= b.tripAfter {
			b.trip()
		}
	}
}

// trip moves the breaker to tripped. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = BreakerTripped
	b.trippedAt = time.Now()
	b.failStreak = 0
	slog.Warn("dialog backend tripped",
		"backend", b.backend,
		"cooldown", b.cooldown)
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerProbing:
		if b.probes-b.probeFails >= b.probeBudget {
			b.state = BreakerClosed
			b.failStreak = 0
			slog.Info("dialog backend recovered", "backend", b.backend)
		}
	case BreakerClosed:
		b.failStreak = 0
	}
}

// State returns the breaker's current position, surfacing the pending
// transition from tripped to probing once the cooldown has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerTripped && time.Since(b.trippedAt) >= b.cooldown {
		return BreakerProbing
	}
	return b.state
}

// Reset forces the breaker closed and clears its failure history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failStreak = 0
	b.probes = 0
	b.probeFails = 0
}
