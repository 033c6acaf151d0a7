package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/usersync/internal/bg"
	"github.com/roach88/usersync/internal/clock"
	"github.com/roach88/usersync/internal/metrics"
	"github.com/roach88/usersync/internal/usercontext"
)

// PreferenceStore persists preferences per user. Implemented by
// store.Store (sqlite) and store.Memory.
type PreferenceStore interface {
	SavePreferences(ctx context.Context, userID string, prefs usercontext.Preferences) error
	LoadPreferences(ctx context.Context, userID string) (usercontext.Preferences, bool, error)
}

// SnapshotStore keeps the best-effort local snapshot of the last applied
// context. Implemented by store.Store and store.Memory.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, c usercontext.UserContext, savedAt time.Time) error
	LoadSnapshot(ctx context.Context) (usercontext.UserContext, time.Time, bool, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the wall clock. Default: clock.Real().
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithIDGenerator sets the id source for sessions and updates.
// Default: UUIDv7Generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(e *Engine) {
		if ids != nil {
			e.ids = ids
		}
	}
}

// WithRunner sets how collaborator calls run in the background.
// Default: bg.Async. Tests use bg.Sync for determinism.
func WithRunner(r bg.Runner) Option {
	return func(e *Engine) {
		if r != nil {
			e.runner = r
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metric sink. Default: metrics.Noop.
func WithMetrics(m metrics.Observer) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithPreferenceStore enables preference persistence.
func WithPreferenceStore(s PreferenceStore) Option {
	return func(e *Engine) { e.prefs = s }
}

// WithSnapshotStore enables the local snapshot.
func WithSnapshotStore(s SnapshotStore) Option {
	return func(e *Engine) { e.snapshots = s }
}

// WithFallbackPreferences sets the preferences of the anonymous context and
// of users without stored preferences. Default:
// usercontext.DefaultPreferences().
func WithFallbackPreferences(p usercontext.Preferences) Option {
	return func(e *Engine) { e.fallbackPrefs = p }
}
