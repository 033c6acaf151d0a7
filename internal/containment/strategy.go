package containment

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/usersync/internal/clock"
)

// Default strategy settings.
const (
	DefaultMaxAttempts = 3
	DefaultCooldown    = 30 * time.Second
)

// Strategy names used by the engine.
const (
	StrategyContextRefresh    = "context-refresh-retry"
	StrategySubscriptionPrune = "subscription-pruning"
)

// Strategy bounds the recovery attempts of one operation.
//
// Each strategy has its own attempt counter. Attempts stop at MaxAttempts
// and are spaced at least Cooldown apart; a success resets the counter.
// Strategies know nothing about the breaker or recovery mode.
type Strategy struct {
	name        string
	maxAttempts int
	cooldown    time.Duration
	clock       clock.Clock

	mu        sync.Mutex
	attempts  int
	last      time.Time
	successes int
	exhausted int
}

// NewStrategy creates a strategy. Non-positive limits select the defaults.
func NewStrategy(name string, maxAttempts int, cooldown time.Duration, c clock.Clock) *Strategy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Strategy{name: name, maxAttempts: maxAttempts, cooldown: cooldown, clock: c}
}

// Name returns the strategy name.
func (s *Strategy) Name() string { return s.name }

// Cooldown returns the minimum spacing between attempts.
func (s *Strategy) Cooldown() time.Duration { return s.cooldown }

// Attempt runs fn if the ceiling and the cooldown permit. fn's error is
// returned as is; nil resets the counter.
//
// Returns AttemptsExceededError when the ceiling is reached and
// CoolingDownError when the previous attempt is too recent. fn is not run
// in either case.
func (s *Strategy) Attempt(fn func() error) error {
	if err := s.reserve(s.clock.Now()); err != nil {
		return err
	}
	err := fn()
	if err == nil {
		s.Succeeded()
	}
	return err
}

// Schedule reserves the next attempt and returns how long the caller must
// wait before making it. The caller reports the result with Succeeded or
// by scheduling again.
func (s *Strategy) Schedule() (time.Duration, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts >= s.maxAttempts {
		s.exhausted++
		return 0, &AttemptsExceededError{Strategy: s.name, Attempts: s.attempts, Limit: s.maxAttempts}
	}
	wait := s.cooldown
	if !s.last.IsZero() {
		if since := now.Sub(s.last); since < s.cooldown {
			wait = s.cooldown - since
		} else {
			wait = 0
		}
	}
	s.attempts++
	s.last = now.Add(wait)
	return wait, nil
}

func (s *Strategy) reserve(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts >= s.maxAttempts {
		s.exhausted++
		return &AttemptsExceededError{Strategy: s.name, Attempts: s.attempts, Limit: s.maxAttempts}
	}
	if !s.last.IsZero() {
		if since := now.Sub(s.last); since < s.cooldown {
			return &CoolingDownError{Strategy: s.name, Remaining: s.cooldown - since}
		}
	}
	s.attempts++
	s.last = now
	return nil
}

// Succeeded resets the attempt counter.
func (s *Strategy) Succeeded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = 0
	s.last = time.Time{}
	s.successes++
}

// Reset clears the counter without counting a success.
func (s *Strategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = 0
	s.last = time.Time{}
}

// StrategyStats is a snapshot of a strategy's counters.
type StrategyStats struct {
	Name        string `json:"name"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	Successes   int    `json:"successes"`
	Exhausted   int    `json:"exhausted"`
}

// Stats returns the current counters.
func (s *Strategy) Stats() StrategyStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StrategyStats{
		Name:        s.name,
		Attempts:    s.attempts,
		MaxAttempts: s.maxAttempts,
		Successes:   s.successes,
		Exhausted:   s.exhausted,
	}
}

// AttemptsExceededError is returned once a strategy has used all of its
// attempts without a success.
type AttemptsExceededError struct {
	Strategy string
	Attempts int
	Limit    int
}

func (e *AttemptsExceededError) Error() string {
	return fmt.Sprintf("strategy %s exhausted: %d attempts of %d", e.Strategy, e.Attempts, e.Limit)
}

// IsAttemptsExceeded reports whether err is an AttemptsExceededError.
func IsAttemptsExceeded(err error) bool {
	var ae *AttemptsExceededError
	return errors.As(err, &ae)
}

// CoolingDownError is returned when an attempt comes too soon after the
// previous one.
type CoolingDownError struct {
	Strategy  string
	Remaining time.Duration
}

func (e *CoolingDownError) Error() string {
	return fmt.Sprintf("strategy %s cooling down: %s remaining", e.Strategy, e.Remaining)
}

// IsCoolingDown reports whether err is a CoolingDownError.
func IsCoolingDown(err error) bool {
	var ce *CoolingDownError
	return errors.As(err, &ce)
}
