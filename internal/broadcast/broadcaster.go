package broadcast

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/usersync/internal/clock"
	"github.com/roach88/usersync/internal/scheduler"
)

// Default delivery settings.
const (
	DefaultDebounceWindow    = 100 * time.Millisecond
	DefaultMaxUpdateInterval = 500 * time.Millisecond
	DefaultBatchSize         = 15
	DefaultBatchDelay        = 10 * time.Millisecond
)

// Config tunes debounce and batching. Zero values select the defaults.
type Config struct {
	DebounceWindow    time.Duration
	MaxUpdateInterval time.Duration
	BatchSize         int
	BatchDelay        time.Duration
}

func (c Config) withDefaults() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.MaxUpdateInterval <= 0 {
		c.MaxUpdateInterval = DefaultMaxUpdateInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	return c
}

// IndicatorFunc observes the update indicator. progress is in [0, 1].
type IndicatorFunc func(updating bool, progress float64)

// Metrics receives delivery events.
type Metrics interface {
	Broadcast(subscribers int)
	Delivered()
	SubscriberFailure()
}

// NoopMetrics discards every event.
type NoopMetrics struct{}

func (NoopMetrics) Broadcast(int)      {}
func (NoopMetrics) Delivered()         {}
func (NoopMetrics) SubscriberFailure() {}

// FailureFunc is told about every recovered subscriber panic.
type FailureFunc func(subscriberID string, err error)

// Options wires a Broadcaster to its collaborators.
type Options[T any] struct {
	Config Config

	// Copy produces the immutable snapshot handed to each subscriber. Nil
	// passes values through unchanged.
	Copy func(T) T

	Logger    *slog.Logger
	Metrics   Metrics
	OnFailure FailureFunc
}

type pendingValue[T any] struct {
	value T
	seq   uint64
}

// Broadcaster debounces published values and fans them out in batches.
type Broadcaster[T any] struct {
	sched  *scheduler.Scheduler
	clock  clock.Clock
	cfg    Config
	copy   func(T) T
	logger *slog.Logger
	obs    Metrics
	onFail FailureFunc

	subs       *Registry[func(T)]
	indicators *Registry[IndicatorFunc]

	mu           sync.Mutex
	pending      *pendingValue[T]
	pendingSince time.Time
	debounce     scheduler.Handle
	generation   uint64
	batchTimer   scheduler.Handle
	batching     bool
	held         bool
	lastUpdating bool
	lastProgress float64
	closed       bool
}

// New creates a Broadcaster scheduling its work on sched.
func New[T any](sched *scheduler.Scheduler, c clock.Clock, opts Options[T]) *Broadcaster[T] {
	if opts.Copy == nil {
		opts.Copy = func(v T) T { return v }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	return &Broadcaster[T]{
		sched:        sched,
		clock:        c,
		cfg:          opts.Config.withDefaults(),
		copy:         opts.Copy,
		logger:       opts.Logger,
		obs:          opts.Metrics,
		onFail:       opts.OnFailure,
		subs:         NewRegistry[func(T)](),
		indicators:   NewRegistry[IndicatorFunc](),
		lastProgress: 1,
	}
}

// Config returns the effective settings.
func (b *Broadcaster[T]) Config() Config { return b.cfg }

// Subscribers exposes the value registry.
func (b *Broadcaster[T]) Subscribers() *Registry[func(T)] { return b.subs }

// Subscribe registers fn under id. Nothing is delivered until the next
// flush or an explicit DeliverTo.
func (b *Broadcaster[T]) Subscribe(id string, fn func(T)) *Subscription[func(T)] {
	return b.subs.Add(id, fn)
}

// SubscribeIndicator registers fn for update indicator changes. The current
// indicator state is delivered on the next tick.
func (b *Broadcaster[T]) SubscribeIndicator(id string, fn IndicatorFunc) *Subscription[IndicatorFunc] {
	sub := b.indicators.Add(id, fn)

	b.mu.Lock()
	updating, progress := b.lastUpdating, b.lastProgress
	b.mu.Unlock()

	b.sched.Post("broadcast.indicator.initial", func() {
		b.callIndicator(sub, updating, progress)
	})
	return sub
}

// Publish makes v the pending value, carrying sequence number seq.
func (b *Broadcaster[T]) Publish(v T, seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	now := b.clock.Now()
	b.pending = &pendingValue[T]{value: v, seq: seq}
	if b.pendingSince.IsZero() {
		b.pendingSince = now
	}
	if b.debounce != 0 {
		b.sched.Cancel(b.debounce)
	}

	wait := b.cfg.DebounceWindow
	if now.Sub(b.pendingSince) >= b.cfg.MaxUpdateInterval {
		wait = 0
	}
	b.debounce = b.sched.After(wait, "broadcast.flush", b.flush)
}

// Flush delivers the pending value on the next tick without waiting for the
// debounce window.
func (b *Broadcaster[T]) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.pending == nil {
		return
	}
	if b.debounce != 0 {
		b.sched.Cancel(b.debounce)
	}
	b.debounce = b.sched.After(0, "broadcast.flush", b.flush)
}

// HasPending reports whether a published value is waiting for its flush.
func (b *Broadcaster[T]) HasPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending != nil
}

// DeliverTo sends v to sub alone on the next tick, subject to the same
// sequence rule as a broadcast.
func (b *Broadcaster[T]) DeliverTo(sub *Subscription[func(T)], v T, seq uint64) {
	b.sched.Post("broadcast.deliver."+sub.ID, func() {
		b.deliver(sub, v, seq)
	})
}

// Hold pins the update indicator to "updating" until released. Batches
// still report progress while held.
func (b *Broadcaster[T]) Hold(held bool) {
	b.mu.Lock()
	if b.held == held || b.closed {
		b.mu.Unlock()
		return
	}
	b.held = held
	updating, progress := b.held || b.batching, b.lastProgress
	if !updating {
		progress = 1
	}
	b.mu.Unlock()

	b.setIndicator(updating, progress)
}

// Updating reports the indicator state.
func (b *Broadcaster[T]) Updating() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdating
}

// Close cancels every timer and drops pending work and all subscriptions.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.cancelLocked()
	b.subs.Clear()
	b.indicators.Clear()
}

// Cancel drops the pending value and any batches still in flight. The
// broadcaster stays usable.
func (b *Broadcaster[T]) Cancel() {
	b.mu.Lock()
	wasBatching, held := b.batching, b.held
	b.cancelLocked()
	b.mu.Unlock()

	if wasBatching && !held {
		b.setIndicator(false, 1)
	}
}

// Reset drops pending work and every subscription and releases the
// indicator hold. Unlike Close, the broadcaster stays usable.
func (b *Broadcaster[T]) Reset() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.cancelLocked()
	b.held = false
	b.lastUpdating, b.lastProgress = false, 1
	b.mu.Unlock()

	b.subs.Clear()
	b.indicators.Clear()
}

func (b *Broadcaster[T]) cancelLocked() {
	if b.debounce != 0 {
		b.sched.Cancel(b.debounce)
		b.debounce = 0
	}
	if b.batchTimer != 0 {
		b.sched.Cancel(b.batchTimer)
		b.batchTimer = 0
	}
	b.pending = nil
	b.pendingSince = time.Time{}
	b.generation++
	b.batching = false
}

func (b *Broadcaster[T]) flush() {
	b.mu.Lock()
	p := b.pending
	b.pending = nil
	b.pendingSince = time.Time{}
	b.debounce = 0
	if p == nil || b.closed {
		b.mu.Unlock()
		return
	}
	if b.batchTimer != 0 {
		b.sched.Cancel(b.batchTimer)
		b.batchTimer = 0
	}
	b.generation++
	gen := b.generation
	b.mu.Unlock()

	subs := b.subs.Snapshot()
	b.obs.Broadcast(len(subs))
	b.logger.Debug("broadcasting context",
		"event", "broadcast",
		"seq", p.seq,
		"subscribers", len(subs))

	b.deliverBatch(gen, p, subs, 0)
}

func (b *Broadcaster[T]) deliverBatch(gen uint64, p *pendingValue[T], subs []*Subscription[func(T)], start int) {
	b.mu.Lock()
	if gen != b.generation || b.closed {
		b.mu.Unlock()
		return
	}
	b.batchTimer = 0
	multi := len(subs) > b.cfg.BatchSize
	if multi && start == 0 {
		b.batching = true
	}
	b.mu.Unlock()

	if multi && start == 0 {
		b.setIndicator(true, 0)
	}

	end := min(start+b.cfg.BatchSize, len(subs))
	for _, sub := range subs[start:end] {
		b.deliver(sub, p.value, p.seq)
	}

	if end < len(subs) {
		b.mu.Lock()
		if gen == b.generation && !b.closed {
			b.batchTimer = b.sched.After(b.cfg.BatchDelay, "broadcast.batch", func() {
				b.deliverBatch(gen, p, subs, end)
			})
		}
		b.mu.Unlock()
		b.setIndicator(true, float64(end)/float64(len(subs)))
		return
	}

	if multi {
		b.mu.Lock()
		b.batching = false
		held := b.held
		b.mu.Unlock()
		b.setIndicator(held, 1)
	}
}

func (b *Broadcaster[T]) deliver(sub *Subscription[func(T)], v T, seq uint64) {
	if !sub.Active() || !sub.claim(seq) {
		return
	}
	snapshot := b.copy(v)
	if err := Call(func() { sub.Fn(snapshot) }); err != nil {
		b.fail(sub.ID, &sub.failures, err)
		return
	}
	sub.failures.Store(0)
	b.obs.Delivered()
}

func (b *Broadcaster[T]) fail(id string, failures *atomic.Int64, err error) {
	n := failures.Add(1)
	b.obs.SubscriberFailure()
	b.logger.Warn("subscriber failed",
		"event", "subscriber_panic",
		"subscriber", id,
		"consecutive_failures", n,
		"error", err)
	if b.onFail != nil {
		b.onFail(id, err)
	}
}

func (b *Broadcaster[T]) setIndicator(updating bool, progress float64) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.lastUpdating, b.lastProgress = updating, progress
	b.mu.Unlock()

	subs := b.indicators.Snapshot()
	if len(subs) == 0 {
		return
	}
	b.sched.Post("broadcast.indicator", func() {
		for _, sub := range subs {
			b.callIndicator(sub, updating, progress)
		}
	})
}

func (b *Broadcaster[T]) callIndicator(sub *Subscription[IndicatorFunc], updating bool, progress float64) {
	if !sub.Active() {
		return
	}
	if err := Call(func() { sub.Fn(updating, progress) }); err != nil {
		b.fail(sub.ID, &sub.failures, err)
	}
}

// Failing returns the ids of value subscribers with at least threshold
// consecutive failed deliveries.
func (b *Broadcaster[T]) Failing(threshold int64) []string {
	var ids []string
	for _, sub := range b.subs.Snapshot() {
		if sub.Failures() >= threshold {
			ids = append(ids, sub.ID)
		}
	}
	return ids
}

// Prune unregisters the given value subscribers and returns how many were
// removed.
func (b *Broadcaster[T]) Prune(ids []string) int {
	removed := 0
	for _, id := range ids {
		if sub, ok := b.subs.Get(id); ok {
			sub.Cancel()
			removed++
		}
	}
	if removed > 0 {
		b.logger.Info("pruned failing subscribers",
			"event", "subscription_pruned",
			"count", removed)
	}
	return removed
}

// Call runs fn and converts a panic into an error.
func Call(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	fn()
	return nil
}
