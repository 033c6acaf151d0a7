// Package optimistic applies tentative context changes immediately and rolls
// them back unless they are confirmed in time.
//
// Each update resolves exactly once. Confirm and the rollback timer race
// through a per-update check-and-set flag; the loser is a no-op.
package optimistic

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/usersync/internal/clock"
	"github.com/roach88/usersync/internal/scheduler"
	"github.com/roach88/usersync/internal/usercontext"
)

// DefaultTimeout is how long an unconfirmed update stays applied.
const DefaultTimeout = 5 * time.Second

var (
	// ErrUnknownUpdate is returned for ids that were never issued or have
	// already been discarded.
	ErrUnknownUpdate = errors.New("optimistic: unknown update")

	// ErrResolved is returned when the update was already confirmed or
	// rolled back.
	ErrResolved = errors.New("optimistic: update already resolved")

	// ErrNoChanges is returned when Begin is given nothing to apply.
	ErrNoChanges = errors.New("optimistic: no changes")
)

// Kind is the closed set of optimistic update kinds.
type Kind string

const (
	PreferenceChange Kind = "preference_change"
	ContextRefresh   Kind = "context_refresh"
	AuthStateChange  Kind = "auth_state_change"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case PreferenceChange, ContextRefresh, AuthStateChange:
		return true
	}
	return false
}

// Changes carries the payload of an update. PreferenceChange reads
// Preferences; the other kinds read Context.
type Changes struct {
	Preferences *usercontext.PreferencesPatch
	Context     *usercontext.UserContext
}

// Origin tells the target why a context is being applied.
type Origin string

const (
	OriginBegin    Origin = "optimistic_begin"
	OriginRollback Origin = "optimistic_rollback"
)

// Target is the owner of the current context.
type Target interface {
	Current() usercontext.UserContext
	Apply(next usercontext.UserContext, origin Origin) error
}

// IDGenerator issues update ids.
type IDGenerator interface {
	Generate() string
}

// Outcome is how an update ended.
type Outcome string

const (
	Begun      Outcome = "begun"
	Confirmed  Outcome = "confirmed"
	RolledBack Outcome = "rolled_back"
	Superseded Outcome = "superseded"
	Discarded  Outcome = "discarded"
)

// Metrics receives update outcomes.
type Metrics interface {
	Optimistic(outcome Outcome)
}

// NoopMetrics discards every event.
type NoopMetrics struct{}

func (NoopMetrics) Optimistic(Outcome) {}

// Update is one tentative change.
type Update struct {
	ID        string
	Kind      Kind
	Before    usercontext.UserContext
	After     usercontext.UserContext
	CreatedAt time.Time
	Deadline  time.Time

	timer    scheduler.Handle
	resolved atomic.Bool
}

// Info is the caller-visible view of a pending update.
type Info struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
}

// Manager tracks pending updates for one target.
type Manager struct {
	sched   *scheduler.Scheduler
	clock   clock.Clock
	ids     IDGenerator
	target  Target
	timeout time.Duration
	logger  *slog.Logger
	metrics Metrics

	mu      sync.Mutex
	updates map[string]*Update
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the default rollback timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the outcome sink.
func WithMetrics(mt Metrics) Option {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// NewManager creates a Manager applying updates to target.
func NewManager(sched *scheduler.Scheduler, c clock.Clock, ids IDGenerator, target Target, opts ...Option) *Manager {
	m := &Manager{
		sched:   sched,
		clock:   c,
		ids:     ids,
		target:  target,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		metrics: NoopMetrics{},
		updates: make(map[string]*Update),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tentative computes the context Begin would apply, without applying it.
func Tentative(current usercontext.UserContext, kind Kind, changes Changes) (usercontext.UserContext, error) {
	switch kind {
	case PreferenceChange:
		if changes.Preferences == nil || changes.Preferences.Empty() {
			return usercontext.UserContext{}, ErrNoChanges
		}
		next := current.Clone()
		prefs, err := changes.Preferences.Apply(current.Preferences).Normalize()
		if err != nil {
			return usercontext.UserContext{}, err
		}
		next.Preferences = prefs
		return next, nil
	case ContextRefresh, AuthStateChange:
		if changes.Context == nil {
			return usercontext.UserContext{}, ErrNoChanges
		}
		return changes.Context.Clone(), nil
	default:
		return usercontext.UserContext{}, fmt.Errorf("optimistic: unknown kind %q", kind)
	}
}

// Begin applies the change right away and arms its rollback timer. A zero
// timeout selects the manager default. An invalid tentative context is
// rejected and nothing is applied.
func (m *Manager) Begin(kind Kind, changes Changes, timeout time.Duration) (string, error) {
	before := m.target.Current()
	after, err := Tentative(before, kind, changes)
	if err != nil {
		return "", err
	}
	if err := after.Validate(); err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = m.timeout
	}

	now := m.clock.Now()
	u := &Update{
		ID:        m.ids.Generate(),
		Kind:      kind,
		Before:    before.Clone(),
		After:     after.Clone(),
		CreatedAt: now,
		Deadline:  now.Add(timeout),
	}

	if err := m.target.Apply(after, OriginBegin); err != nil {
		return "", err
	}

	m.mu.Lock()
	u.timer = m.sched.After(timeout, "optimistic.rollback", func() {
		if _, err := m.rollback(u, "timeout"); err != nil {
			m.logger.Warn("timed rollback failed",
				"event", "rollback_failed",
				"update", u.ID,
				"error", err)
		}
	})
	m.updates[u.ID] = u
	m.mu.Unlock()

	m.metrics.Optimistic(Begun)
	m.logger.Debug("optimistic update applied",
		"event", "optimistic_begin",
		"update", u.ID,
		"kind", string(kind),
		"timeout", timeout)
	return u.ID, nil
}

// Confirm makes the tentative value permanent.
func (m *Manager) Confirm(id string) error {
	u, err := m.lookup(id)
	if err != nil {
		return err
	}
	if !u.resolved.CompareAndSwap(false, true) {
		return ErrResolved
	}
	m.forget(u)

	m.metrics.Optimistic(Confirmed)
	m.logger.Debug("optimistic update confirmed",
		"event", "optimistic_confirm",
		"update", id)
	return nil
}

// Rollback restores the pre-change state now. It returns the outcome:
// RolledBack when the snapshot was reapplied, Superseded when the context
// has since moved to another identity and nothing was reapplied.
func (m *Manager) Rollback(id string) (Outcome, error) {
	u, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	return m.rollback(u, "forced")
}

func (m *Manager) rollback(u *Update, cause string) (Outcome, error) {
	if !u.resolved.CompareAndSwap(false, true) {
		return "", ErrResolved
	}
	m.forget(u)

	current := m.target.Current()
	restore, outcome := restoreTarget(u, current)
	if outcome == Superseded {
		m.metrics.Optimistic(Superseded)
		m.logger.Info("rollback superseded by a newer identity",
			"event", "rollback_superseded",
			"update", u.ID,
			"cause", cause)
		return Superseded, nil
	}

	if err := m.target.Apply(restore, OriginRollback); err != nil {
		return "", err
	}
	m.metrics.Optimistic(RolledBack)
	m.logger.Info("optimistic update rolled back",
		"event", "rollback",
		"update", u.ID,
		"kind", string(u.Kind),
		"cause", cause)
	return RolledBack, nil
}

// restoreTarget decides what a rollback applies. If the current context is
// still the tentative one (activity timestamps aside), the snapshot comes
// back exactly. If only later changes of the same identity happened on top
// of a preference change, just the preferences revert. Anything else is
// superseded.
func restoreTarget(u *Update, current usercontext.UserContext) (usercontext.UserContext, Outcome) {
	probe := current.Clone()
	probe.LastActivity = u.After.LastActivity
	if probe.Equal(u.After) {
		out := u.Before.Clone()
		if current.LastActivity.After(out.LastActivity) && current.UserID() == out.UserID() {
			out.LastActivity = current.LastActivity
		}
		return out, RolledBack
	}
	if u.Kind == PreferenceChange && current.UserID() == u.Before.UserID() &&
		current.Session.ID == u.Before.Session.ID {
		out := current.Clone()
		out.Preferences = u.Before.Preferences
		return out, RolledBack
	}
	return usercontext.UserContext{}, Superseded
}

// DiscardAll resolves every pending update without applying its rollback.
// It returns how many were discarded.
func (m *Manager) DiscardAll() int {
	m.mu.Lock()
	pending := make([]*Update, 0, len(m.updates))
	for _, u := range m.updates {
		pending = append(pending, u)
	}
	m.mu.Unlock()

	n := 0
	for _, u := range pending {
		if u.resolved.CompareAndSwap(false, true) {
			m.forget(u)
			m.metrics.Optimistic(Discarded)
			n++
		}
	}
	if n > 0 {
		m.logger.Info("discarded pending optimistic updates",
			"event", "optimistic_discard",
			"count", n)
	}
	return n
}

// Pending lists unresolved updates ordered by creation time, then id.
func (m *Manager) Pending() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.updates))
	for _, u := range m.updates {
		out = append(out, Info{ID: u.ID, Kind: u.Kind, CreatedAt: u.CreatedAt, Deadline: u.Deadline})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of unresolved updates.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

// Close discards every pending update.
func (m *Manager) Close() {
	m.DiscardAll()
}

func (m *Manager) lookup(id string) (*Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.updates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUpdate, id)
	}
	return u, nil
}

func (m *Manager) forget(u *Update) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sched.Cancel(u.timer)
	delete(m.updates, u.ID)
}
