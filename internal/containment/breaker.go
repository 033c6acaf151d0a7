package containment

import (
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/usersync/internal/clock"
	"github.com/roach88/usersync/internal/scheduler"
)

// Default breaker settings.
const (
	DefaultErrorThreshold  = 10
	DefaultErrorWindow     = 60 * time.Second
	DefaultCircuitCooldown = 30 * time.Second
)

// BreakerState is the circuit state.
type BreakerState string

const (
	BreakerClosed BreakerState = "closed"
	BreakerOpen   BreakerState = "open"
)

// BreakerConfig tunes a Breaker. Zero values select the defaults.
type BreakerConfig struct {
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration

	// OnOpen runs when the breaker trips. OnClose runs after the cooldown,
	// once the failure count has been reset.
	OnOpen  func()
	OnClose func()
}

// Breaker trips when more than Threshold failures land inside Window.
type Breaker struct {
	sched   *scheduler.Scheduler
	clock   clock.Clock
	cfg     BreakerConfig
	tracker *Tracker
	logger  *slog.Logger

	mu       sync.Mutex
	state    BreakerState
	cooldown scheduler.Handle
	trips    int
	openedAt time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(sched *scheduler.Scheduler, c clock.Clock, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultErrorThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultErrorWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCircuitCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		sched:   sched,
		clock:   c,
		cfg:     cfg,
		tracker: NewTracker(cfg.Window),
		logger:  logger,
		state:   BreakerClosed,
	}
}

// Record counts one failure and reports whether it tripped the breaker.
// Failures while open are counted but never re-trip.
func (b *Breaker) Record(kind Kind) bool {
	now := b.clock.Now()
	count := b.tracker.Record(kind, now)

	b.mu.Lock()
	if b.state == BreakerOpen || count <= b.cfg.Threshold {
		b.mu.Unlock()
		return false
	}
	b.state = BreakerOpen
	b.trips++
	b.openedAt = now
	b.cooldown = b.sched.After(b.cfg.Cooldown, "containment.breaker.cooldown", b.reset)
	onOpen := b.cfg.OnOpen
	b.mu.Unlock()

	b.logger.Warn("circuit breaker opened",
		"event", "circuit_open",
		"failures", count,
		"threshold", b.cfg.Threshold,
		"cooldown", b.cfg.Cooldown)
	if onOpen != nil {
		onOpen()
	}
	return true
}

func (b *Breaker) reset() {
	b.mu.Lock()
	if b.state != BreakerOpen {
		b.mu.Unlock()
		return
	}
	b.tracker.Reset()
	b.state = BreakerClosed
	b.cooldown = 0
	onClose := b.cfg.OnClose
	b.mu.Unlock()

	b.logger.Info("circuit breaker closed",
		"event", "circuit_close")
	if onClose != nil {
		onClose()
	}
}

// Open reports whether the breaker is open.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == BreakerOpen
}

// State returns the circuit state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Count returns the failures inside the current window.
func (b *Breaker) Count() int {
	return b.tracker.Count(b.clock.Now())
}

// Trips returns how many times the breaker has opened.
func (b *Breaker) Trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}

// Tracker exposes the failure tracker.
func (b *Breaker) Tracker() *Tracker { return b.tracker }

// Close cancels the cooldown timer and forces the breaker closed without
// running OnClose.
func (b *Breaker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cooldown != 0 {
		b.sched.Cancel(b.cooldown)
		b.cooldown = 0
	}
	b.state = BreakerClosed
	b.tracker.Reset()
}
