package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/usersync/internal/clock"
)

// Task is a unit of work run by the scheduler.
type Task func()

// Handle identifies a timer. The zero Handle is never issued.
type Handle uint64

// maxRounds bounds one RunPending call. A task that keeps posting new work
// would otherwise starve the caller.
const maxRounds = 10000

// Scheduler multiplexes posted tasks and timers onto one execution thread.
//
// Thread-safety model:
//   - Post, After, Every, Cancel: safe from any goroutine, including tasks
//   - RunPending, Run: serialised by an internal mutex; tasks never overlap
type Scheduler struct {
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint64
	posted []posted
	timers timerHeap
	byID   map[Handle]*timer
	closed bool
	signal chan struct{} // buffered, size 1; coalesces wake-ups

	runMu sync.Mutex

	// OnPanic is called after a task panic has been recovered. Optional.
	OnPanic func(name string, recovered any)
}

type posted struct {
	name string
	fn   Task
}

type timer struct {
	id       Handle
	name     string
	deadline time.Time
	interval time.Duration // non-zero for periodic timers
	seq      uint64
	fn       Task
	index    int
}

// New creates a Scheduler reading time from c.
func New(c clock.Clock, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		clock:  c,
		logger: logger,
		byID:   make(map[Handle]*timer),
		signal: make(chan struct{}, 1),
	}
}

// Post queues fn to run on the next tick. Returns false after Close.
func (s *Scheduler) Post(name string, fn Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.posted = append(s.posted, posted{name: name, fn: fn})
	s.wakeLocked()
	return true
}

// After arms a one-shot timer firing d from now. d <= 0 means "due now,
// after posted tasks". Returns 0 after Close.
func (s *Scheduler) After(d time.Duration, name string, fn Task) Handle {
	return s.addTimer(d, 0, name, fn)
}

// Every arms a periodic timer firing every d. Panics if d <= 0.
func (s *Scheduler) Every(d time.Duration, name string, fn Task) Handle {
	if d <= 0 {
		panic(fmt.Sprintf("scheduler: non-positive interval %v for %q", d, name))
	}
	return s.addTimer(d, d, name, fn)
}

func (s *Scheduler) addTimer(d, interval time.Duration, name string, fn Task) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}
	if d < 0 {
		d = 0
	}
	s.nextID++
	t := &timer{
		id:       Handle(s.nextID),
		name:     name,
		deadline: s.clock.Now().Add(d),
		interval: interval,
		seq:      s.nextID,
		fn:       fn,
	}
	heap.Push(&s.timers, t)
	s.byID[t.id] = t
	s.wakeLocked()
	return t.id
}

// Cancel stops the timer h. Returns false if it already fired (one-shot),
// was already cancelled, or never existed.
func (s *Scheduler) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[h]
	if !ok {
		return false
	}
	heap.Remove(&s.timers, t.index)
	delete(s.byID, h)
	return true
}

// Active reports whether timer h is still armed.
func (s *Scheduler) Active(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[h]
	return ok
}

// Pending returns the number of armed timers plus queued posted tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers) + len(s.posted)
}

// NextDeadline returns the earliest armed timer deadline.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return time.Time{}, false
	}
	return s.timers[0].deadline, true
}

// RunPending runs all posted tasks and due timers on the calling goroutine
// and returns how many tasks ran.
func (s *Scheduler) RunPending() int {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	ran := 0
	for round := 0; round < maxRounds; round++ {
		name, fn, ok := s.next()
		if !ok {
			return ran
		}
		s.execute(name, fn)
		ran++
	}
	s.logger.Warn("scheduler round limit reached",
		"limit", maxRounds,
		"event", "scheduler_saturated",
	)
	return ran
}

// next pops the next runnable task: posted work first, then the earliest
// due timer. Periodic timers are re-armed before they run.
func (s *Scheduler) next() (string, Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", nil, false
	}

	if len(s.posted) > 0 {
		p := s.posted[0]
		s.posted[0] = posted{}
		s.posted = s.posted[1:]
		if len(s.posted) == 0 {
			s.posted = nil
		}
		return p.name, p.fn, true
	}

	if len(s.timers) == 0 {
		return "", nil, false
	}
	now := s.clock.Now()
	t := s.timers[0]
	if t.deadline.After(now) {
		return "", nil, false
	}

	if t.interval > 0 {
		t.deadline = t.deadline.Add(t.interval)
		if !t.deadline.After(now) {
			// Skip missed ticks rather than replaying them in a burst.
			t.deadline = now.Add(t.interval)
		}
		s.nextID++
		t.seq = s.nextID
		heap.Fix(&s.timers, t.index)
	} else {
		heap.Pop(&s.timers)
		delete(s.byID, t.id)
	}
	return t.name, t.fn, true
}

func (s *Scheduler) execute(name string, fn Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked",
				"task", name,
				"panic", r,
				"event", "task_panic",
			)
			if s.OnPanic != nil {
				s.OnPanic(name, r)
			}
		}
	}()
	fn()
}

// Run drives the scheduler until ctx is cancelled or Close is called.
// Must be called from exactly one goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting")
	for {
		s.RunPending()

		var wait <-chan time.Time
		if deadline, ok := s.NextDeadline(); ok {
			wait = s.clock.After(deadline.Sub(s.clock.Now()))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping: context cancelled")
			return ctx.Err()
		case _, open := <-s.signal:
			if !open {
				s.logger.Info("scheduler stopping: closed")
				return nil
			}
		case <-wait:
		}
	}
}

// Close cancels all timers, drops posted tasks and stops Run.
// Safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.posted = nil
	s.timers = nil
	s.byID = make(map[Handle]*timer)
	close(s.signal)
}

// Closed reports whether Close has been called.
func (s *Scheduler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scheduler) wakeLocked() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// timerHeap orders timers by deadline, then creation sequence.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
