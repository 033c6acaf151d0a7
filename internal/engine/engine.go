package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/usersync/internal/auth"
	"github.com/roach88/usersync/internal/bg"
	"github.com/roach88/usersync/internal/broadcast"
	"github.com/roach88/usersync/internal/cache"
	"github.com/roach88/usersync/internal/clock"
	"github.com/roach88/usersync/internal/config"
	"github.com/roach88/usersync/internal/containment"
	"github.com/roach88/usersync/internal/metrics"
	"github.com/roach88/usersync/internal/optimistic"
	"github.com/roach88/usersync/internal/scheduler"
	"github.com/roach88/usersync/internal/session"
	"github.com/roach88/usersync/internal/transition"
	"github.com/roach88/usersync/internal/usercontext"
)

// Engine owns the current user context, its observers and every timer that
// touches them.
//
// Thread-safety model:
//   - every exported method is safe from any goroutine
//   - subscriber callbacks run inside scheduler tasks, one at a time
//   - Run (or RunPending) must be driven by exactly one goroutine
//
// INVARIANTS:
//   - the current context always passes usercontext.Validate
//   - the current context is replaced whole, never field by field
//   - every applied change gets a strictly larger sequence number
type Engine struct {
	cfg       config.Config
	clock     clock.Clock
	ids       IDGenerator
	runner    bg.Runner
	logger    *slog.Logger
	metrics   metrics.Observer
	provider  auth.Provider
	prefs     PreferenceStore
	snapshots SnapshotStore

	fallbackPrefs usercontext.Preferences
	policy        session.Policy

	sched    *scheduler.Scheduler
	seq      *Sequence
	current  *cache.Current[usercontext.UserContext]
	contexts *cache.Store[usercontext.UserContext]

	values      *broadcast.Broadcaster[usercontext.UserContext]
	transitions *broadcast.Registry[func(transition.Transition)]
	updates     *optimistic.Manager

	breaker      *containment.Breaker
	recovery     *containment.Recovery
	refreshRetry *containment.Strategy
	pruning      *containment.Strategy

	flight singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	curSeq       uint64
	history      *transition.History
	started      bool
	closed       bool
	sessionTimer scheduler.Handle
	retryTimer   scheduler.Handle
}

// New creates an engine serving the anonymous fallback context. Nothing
// runs until Start (or the first Refresh).
func New(cfg config.Config, provider auth.Provider, opts ...Option) (*Engine, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	e := &Engine{
		cfg:           cfg,
		clock:         clock.Real(),
		ids:           UUIDv7Generator{},
		runner:        bg.Async{},
		logger:        slog.Default(),
		metrics:       metrics.Noop{},
		provider:      provider,
		fallbackPrefs: usercontext.DefaultPreferences(),
		seq:           NewSequence(),
		history:       transition.NewHistory(cfg.TransitionHistory),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.fallbackPrefs.Validate(); err != nil {
		return nil, fmt.Errorf("fallback preferences: %w", err)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.policy = session.Policy{
		SessionDuration: cfg.SessionDuration,
		ActivityTimeout: cfg.ActivityTimeout,
	}

	e.sched = scheduler.New(e.clock, e.logger)
	e.current = cache.NewCurrent(e.clock, cfg.CacheTTL, e.fallback())
	e.contexts = cache.NewStore(e.clock, cache.Options[usercontext.UserContext]{
		TTL:        cfg.CacheTTL,
		MaxEntries: cfg.CacheMaxEntries,
		MaxBytes:   cfg.CacheMaxBytes,
		Scoped:     cfg.ContextScopedCache,
		Size:       usercontext.EstimateSize,
		Metrics:    e.metrics,
		OnEvict: func(entry cache.Entry[usercontext.UserContext], reason cache.EvictReason) {
			e.logger.Debug("context cache eviction",
				"event", "cache_evict",
				"reason", string(reason),
				"accesses", entry.AccessCount,
				"bytes", entry.Size)
		},
	})
	e.contexts.SetScope(e.current.Load().Fingerprint())

	e.values = broadcast.New(e.sched, e.clock, broadcast.Options[usercontext.UserContext]{
		Config: broadcast.Config{
			DebounceWindow:    cfg.DebounceWindow,
			MaxUpdateInterval: cfg.MaxUpdateInterval,
			BatchSize:         cfg.BatchSize,
			BatchDelay:        cfg.BatchDelay,
		},
		Copy:      usercontext.UserContext.Clone,
		Logger:    e.logger,
		Metrics:   e.metrics,
		OnFailure: e.onSubscriberFailure,
	})
	e.transitions = broadcast.NewRegistry[func(transition.Transition)]()

	e.updates = optimistic.NewManager(e.sched, e.clock, e.ids, target{e},
		optimistic.WithTimeout(cfg.RollbackTimeout),
		optimistic.WithLogger(e.logger),
		optimistic.WithMetrics(e.metrics),
	)

	e.breaker = containment.NewBreaker(e.sched, e.clock, containment.BreakerConfig{
		Threshold: cfg.ErrorThreshold,
		Window:    cfg.ErrorWindow,
		Cooldown:  cfg.CircuitCooldown,
		OnOpen:    e.onBreakerOpen,
		OnClose:   e.onBreakerClose,
	}, e.logger)
	e.recovery = containment.NewRecovery(e.sched, e.clock, containment.RecoveryConfig{
		Dwell:   cfg.RecoveryDwell,
		OnEnter: e.onRecoveryEnter,
		OnExit:  e.onRecoveryExit,
	}, e.logger)
	e.refreshRetry = containment.NewStrategy(containment.StrategyContextRefresh,
		cfg.RecoveryMaxAttempts, cfg.RecoveryCooldown, e.clock)
	e.pruning = containment.NewStrategy(containment.StrategySubscriptionPrune,
		cfg.RecoveryMaxAttempts, cfg.RecoveryCooldown, e.clock)

	e.sched.OnPanic = func(name string, recovered any) {
		e.contain(containment.New(containment.KindCritical, name, fmt.Errorf("task panicked: %v", recovered)))
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// Start restores the local snapshot if it is still valid, arms session
// polling and performs the first provider refresh. A failed first refresh is
// critical: the engine enters recovery mode and Start returns the contained
// error. Calling Start again is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	e.logger.Info("engine starting",
		"debounce_window", e.cfg.DebounceWindow,
		"session_check_interval", e.cfg.SessionCheckInterval)

	e.restoreSnapshot(ctx)
	e.armSessionTimer()

	if _, err := e.refresh(ctx); err != nil {
		if IsClosed(err) {
			return err
		}
		return e.escalate("start", err)
	}
	return nil
}

// Run drives the scheduler until ctx is cancelled or Close is called.
// Must be called from exactly one goroutine.
func (e *Engine) Run(ctx context.Context) error {
	return e.sched.Run(ctx)
}

// RunPending runs every due task on the calling goroutine and returns how
// many ran. Hosts that do not call Run step the engine with it.
func (e *Engine) RunPending() int {
	return e.sched.RunPending()
}

// NextDeadline reports when the next timer is due.
func (e *Engine) NextDeadline() (time.Time, bool) {
	return e.sched.NextDeadline()
}

// Close cancels every timer and background call, drops pending updates
// without rolling them back, and unregisters every subscriber. Safe to call
// more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.sessionTimer, e.retryTimer = 0, 0
	e.mu.Unlock()

	e.cancel()
	e.updates.Close()
	e.breaker.Close()
	e.recovery.Close()
	e.values.Close()
	e.transitions.Clear()
	e.sched.Close()
	e.logger.Info("engine stopped")
}

// Reset returns the engine to its freshly constructed state: anonymous
// fallback context, no subscribers, no pending updates, closed breaker,
// normal mode, empty cache and history. Session polling stays armed if the
// engine was started. The sequence keeps counting.
func (e *Engine) Reset() {
	if e.isClosed() {
		return
	}
	e.updates.DiscardAll()
	e.values.Reset()
	e.transitions.Clear()
	e.breaker.Close()
	e.recovery.Close()
	e.refreshRetry.Reset()
	e.pruning.Reset()
	e.contexts.Clear()

	fallback := e.fallback()
	e.mu.Lock()
	e.cancelRetryLocked()
	e.current.Reset(fallback)
	e.curSeq = e.seq.Next()
	e.history.Clear()
	started := e.started
	e.mu.Unlock()

	e.contexts.SetScope(fallback.Fingerprint())
	e.metrics.Breaker(false)
	e.metrics.Recovery(false)
	if started {
		e.armSessionTimer()
	}
	e.logger.Info("engine reset", "event", "engine_reset")
}

// Current returns a snapshot of the current context. It is always valid,
// possibly the anonymous fallback.
func (e *Engine) Current() usercontext.UserContext {
	c, _ := e.snapshot()
	return c
}

// Transitions returns the recent transition history, oldest first.
func (e *Engine) Transitions() []transition.Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := e.history.All()
	out := make([]transition.Transition, len(all))
	for i, t := range all {
		out[i] = t.Clone()
	}
	return out
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Seq               uint64                      `json:"seq"`
	UserID            string                      `json:"user_id,omitempty"`
	Authenticated     bool                        `json:"authenticated"`
	Fresh             bool                        `json:"fresh"`
	Subscribers       int                         `json:"subscribers"`
	TransitionSubs    int                         `json:"transition_subscribers"`
	PendingUpdates    int                         `json:"pending_updates"`
	Updating          bool                        `json:"updating"`
	Breaker           containment.BreakerState    `json:"breaker"`
	ErrorCount        int                         `json:"error_count"`
	ErrorTotals       map[containment.Kind]int64  `json:"error_totals"`
	Trips             int                         `json:"trips"`
	Mode              containment.Mode            `json:"mode"`
	RecoveryEntries   int                         `json:"recovery_entries"`
	RecoveryReentries int                         `json:"recovery_reentries"`
	SessionPolling    bool                        `json:"session_polling"`
	RetryArmed        bool                        `json:"retry_armed"`
	Cache             cache.Stats                 `json:"cache"`
	Transitions       int                         `json:"transitions"`
	Strategies        []containment.StrategyStats `json:"strategies"`
	Timers            int                         `json:"timers"`
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	c, fresh := e.current.Get()

	e.mu.Lock()
	seq := e.curSeq
	polling := e.sessionTimer != 0 && e.sched.Active(e.sessionTimer)
	retry := e.retryTimer != 0 && e.sched.Active(e.retryTimer)
	transitions := e.history.Len()
	e.mu.Unlock()

	return Stats{
		Seq:               seq,
		UserID:            c.UserID(),
		Authenticated:     c.Authenticated,
		Fresh:             fresh,
		Subscribers:       e.values.Subscribers().Len(),
		TransitionSubs:    e.transitions.Len(),
		PendingUpdates:    e.updates.Len(),
		Updating:          e.values.Updating(),
		Breaker:           e.breaker.State(),
		ErrorCount:        e.breaker.Count(),
		ErrorTotals:       e.breaker.Tracker().ByKind(),
		Trips:             e.breaker.Trips(),
		Mode:              e.recovery.Mode(),
		RecoveryEntries:   e.recovery.Entries(),
		RecoveryReentries: e.recovery.Reentries(),
		SessionPolling:    polling,
		RetryArmed:        retry,
		Cache:             e.contexts.Stats(),
		Transitions:       transitions,
		Strategies:        []containment.StrategyStats{e.refreshRetry.Stats(), e.pruning.Stats()},
		Timers:            e.sched.Pending(),
	}
}

// PendingUpdates lists unresolved optimistic updates.
func (e *Engine) PendingUpdates() []optimistic.Info {
	return e.updates.Pending()
}

// Cached returns the cached context of userID if it is still visible: not
// older than the cache TTL and, with context scoping on, owned by the active
// context.
func (e *Engine) Cached(userID string) (usercontext.UserContext, bool) {
	c, ok := e.contexts.Get(usercontext.IdentityKey(userID))
	if !ok {
		return usercontext.UserContext{}, false
	}
	return c.Clone(), true
}

func (e *Engine) snapshot() (usercontext.UserContext, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.Load().Clone(), e.curSeq
}

func (e *Engine) fallback() usercontext.UserContext {
	return usercontext.Anonymous(e.fallbackPrefs)
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
