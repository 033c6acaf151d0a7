// Package config holds the engine's tuning knobs.
//
// Every knob has a default, so the zero-configuration engine behaves like
// the reference: 100ms debounce, 500ms liveness floor, 15-subscriber
// batches, 5 minute cache TTL, 24h sessions with a 30 minute idle timeout,
// a breaker tripping above 10 failures per minute, and a 60s recovery dwell.
//
// Files may be CUE or YAML. Both are unified with the embedded #Config
// schema, which supplies defaults and rejects unknown or out-of-range
// fields, then checked for cross-field rules by Validate.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the engine configuration.
type Config struct {
	DebounceWindow    time.Duration
	MaxUpdateInterval time.Duration
	BatchSize         int
	BatchDelay        time.Duration

	CacheTTL           time.Duration
	CacheMaxEntries    int
	CacheMaxBytes      int64
	ContextScopedCache bool

	SessionDuration      time.Duration
	ActivityTimeout      time.Duration
	SessionCheckInterval time.Duration

	ErrorThreshold  int
	ErrorWindow     time.Duration
	CircuitCooldown time.Duration
	RecoveryDwell   time.Duration

	RollbackTimeout time.Duration

	RecoveryMaxAttempts    int
	RecoveryCooldown       time.Duration
	SubscriberFailureLimit int

	TransitionHistory int
	SmoothThreshold   time.Duration
	RefreshTimeout    time.Duration

	// Database is the sqlite path used by the CLI. Empty means in-memory
	// persistence only.
	Database string
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		DebounceWindow:    100 * time.Millisecond,
		MaxUpdateInterval: 500 * time.Millisecond,
		BatchSize:         15,
		BatchDelay:        10 * time.Millisecond,

		CacheTTL:           5 * time.Minute,
		CacheMaxEntries:    100,
		CacheMaxBytes:      1 << 20,
		ContextScopedCache: true,

		SessionDuration:      24 * time.Hour,
		ActivityTimeout:      30 * time.Minute,
		SessionCheckInterval: 30 * time.Second,

		ErrorThreshold:  10,
		ErrorWindow:     60 * time.Second,
		CircuitCooldown: 30 * time.Second,
		RecoveryDwell:   60 * time.Second,

		RollbackTimeout: 5 * time.Second,

		RecoveryMaxAttempts:    3,
		RecoveryCooldown:       30 * time.Second,
		SubscriberFailureLimit: 3,

		TransitionHistory: 50,
		SmoothThreshold:   300 * time.Millisecond,
		RefreshTimeout:    10 * time.Second,
	}
}

// Validate checks that every knob is usable and that related knobs agree.
// All violations are reported together.
func (c Config) Validate() error {
	var errs []error

	positiveDurations := []struct {
		name string
		d    time.Duration
	}{
		{"debounce_window", c.DebounceWindow},
		{"max_update_interval", c.MaxUpdateInterval},
		{"batch_delay", c.BatchDelay},
		{"cache_ttl", c.CacheTTL},
		{"session_duration", c.SessionDuration},
		{"activity_timeout", c.ActivityTimeout},
		{"session_check_interval", c.SessionCheckInterval},
		{"error_window", c.ErrorWindow},
		{"circuit_cooldown", c.CircuitCooldown},
		{"recovery_dwell", c.RecoveryDwell},
		{"rollback_timeout", c.RollbackTimeout},
		{"recovery_cooldown", c.RecoveryCooldown},
		{"smooth_threshold", c.SmoothThreshold},
		{"refresh_timeout", c.RefreshTimeout},
	}
	for _, p := range positiveDurations {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", p.name, p.d))
		}
	}

	positiveInts := []struct {
		name string
		n    int64
	}{
		{"batch_size", int64(c.BatchSize)},
		{"cache_max_entries", int64(c.CacheMaxEntries)},
		{"cache_max_bytes", c.CacheMaxBytes},
		{"error_threshold", int64(c.ErrorThreshold)},
		{"recovery_max_attempts", int64(c.RecoveryMaxAttempts)},
		{"subscriber_failure_limit", int64(c.SubscriberFailureLimit)},
		{"transition_history", int64(c.TransitionHistory)},
	}
	for _, p := range positiveInts {
		if p.n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.n))
		}
	}

	if c.ActivityTimeout > c.SessionDuration {
		errs = append(errs, fmt.Errorf("activity_timeout (%s) exceeds session_duration (%s)",
			c.ActivityTimeout, c.SessionDuration))
	}
	if c.DebounceWindow >= c.MaxUpdateInterval {
		errs = append(errs, fmt.Errorf("debounce_window (%s) must be shorter than max_update_interval (%s)",
			c.DebounceWindow, c.MaxUpdateInterval))
	}

	return errors.Join(errs...)
}

// Map renders the configuration with durations in milliseconds, keyed like
// the file format.
func (c Config) Map() map[string]any {
	ms := func(d time.Duration) int64 { return d.Milliseconds() }
	return map[string]any{
		"debounce_window_ms":        ms(c.DebounceWindow),
		"max_update_interval_ms":    ms(c.MaxUpdateInterval),
		"batch_size":                int64(c.BatchSize),
		"batch_delay_ms":            ms(c.BatchDelay),
		"cache_ttl_ms":              ms(c.CacheTTL),
		"cache_max_entries":         int64(c.CacheMaxEntries),
		"cache_max_bytes":           c.CacheMaxBytes,
		"context_scoped_cache":      c.ContextScopedCache,
		"session_duration_ms":       ms(c.SessionDuration),
		"activity_timeout_ms":       ms(c.ActivityTimeout),
		"session_check_interval_ms": ms(c.SessionCheckInterval),
		"error_threshold":           int64(c.ErrorThreshold),
		"error_window_ms":           ms(c.ErrorWindow),
		"circuit_cooldown_ms":       ms(c.CircuitCooldown),
		"recovery_dwell_ms":         ms(c.RecoveryDwell),
		"rollback_timeout_ms":       ms(c.RollbackTimeout),
		"recovery_max_attempts":     int64(c.RecoveryMaxAttempts),
		"recovery_cooldown_ms":      ms(c.RecoveryCooldown),
		"subscriber_failure_limit":  int64(c.SubscriberFailureLimit),
		"transition_history":        int64(c.TransitionHistory),
		"smooth_threshold_ms":       ms(c.SmoothThreshold),
		"refresh_timeout_ms":        ms(c.RefreshTimeout),
		"database":                  c.Database,
	}
}
