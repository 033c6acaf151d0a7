package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/usersync/internal/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	s := New(clk, nil)
	t.Cleanup(s.Close)
	return s, clk
}

func TestScheduler_PostRunsFIFO(t *testing.T) {
	s, _ := newTestScheduler(t)
	var order []string

	s.Post("a", func() { order = append(order, "a") })
	s.Post("b", func() { order = append(order, "b") })
	s.Post("c", func() { order = append(order, "c") })

	assert.Equal(t, 3, s.RunPending())
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_TimerFiresAtDeadline(t *testing.T) {
	s, clk := newTestScheduler(t)
	fired := 0
	s.After(100*time.Millisecond, "t", func() { fired++ })

	s.RunPending()
	assert.Equal(t, 0, fired)

	clk.Advance(99 * time.Millisecond)
	s.RunPending()
	assert.Equal(t, 0, fired)

	clk.Advance(time.Millisecond)
	s.RunPending()
	assert.Equal(t, 1, fired)

	clk.Advance(time.Hour)
	s.RunPending()
	assert.Equal(t, 1, fired, "one-shot fires once")
}

func TestScheduler_TimerOrdering(t *testing.T) {
	s, clk := newTestScheduler(t)
	var order []string

	s.After(20*time.Millisecond, "late", func() { order = append(order, "late") })
	s.After(10*time.Millisecond, "early", func() { order = append(order, "early") })
	s.After(10*time.Millisecond, "early-2", func() { order = append(order, "early-2") })
	s.Post("posted", func() { order = append(order, "posted") })

	clk.Advance(time.Second)
	s.RunPending()
	assert.Equal(t, []string{"posted", "early", "early-2", "late"}, order)
}

func TestScheduler_Cancel(t *testing.T) {
	s, clk := newTestScheduler(t)
	fired := false
	h := s.After(time.Second, "t", func() { fired = true })

	assert.True(t, s.Active(h))
	assert.True(t, s.Cancel(h))
	assert.False(t, s.Cancel(h), "second cancel is a no-op")
	assert.False(t, s.Active(h))

	clk.Advance(2 * time.Second)
	s.RunPending()
	assert.False(t, fired)
	assert.False(t, s.Cancel(0))
}

func TestScheduler_Every(t *testing.T) {
	s, clk := newTestScheduler(t)
	ticks := 0
	h := s.Every(30*time.Second, "poll", func() { ticks++ })

	for i := 0; i < 3; i++ {
		clk.Advance(30 * time.Second)
		s.RunPending()
	}
	assert.Equal(t, 3, ticks)

	// A long gap runs the periodic task once, not once per missed tick.
	clk.Advance(10 * time.Minute)
	s.RunPending()
	assert.Equal(t, 4, ticks)

	assert.True(t, s.Cancel(h))
	clk.Advance(time.Minute)
	s.RunPending()
	assert.Equal(t, 4, ticks)
}

func TestScheduler_EveryPanicsOnZeroInterval(t *testing.T) {
	s, _ := newTestScheduler(t)
	assert.Panics(t, func() { s.Every(0, "bad", func() {}) })
}

func TestScheduler_TaskSchedulesDueWork(t *testing.T) {
	s, _ := newTestScheduler(t)
	var order []string

	s.Post("first", func() {
		order = append(order, "first")
		s.Post("second", func() { order = append(order, "second") })
		s.After(0, "third", func() { order = append(order, "third") })
	})

	assert.Equal(t, 3, s.RunPending())
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestScheduler_PanicIsContained(t *testing.T) {
	s, _ := newTestScheduler(t)
	var panicked string
	s.OnPanic = func(name string, _ any) { panicked = name }
	ran := false

	s.Post("boom", func() { panic("subscriber exploded") })
	s.Post("after", func() { ran = true })

	assert.NotPanics(t, func() { s.RunPending() })
	assert.Equal(t, "boom", panicked)
	assert.True(t, ran)
}

func TestScheduler_NextDeadline(t *testing.T) {
	s, _ := newTestScheduler(t)
	_, ok := s.NextDeadline()
	assert.False(t, ok)

	s.After(5*time.Second, "b", func() {})
	s.After(2*time.Second, "a", func() {})

	d, ok := s.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, epoch.Add(2*time.Second), d)
}

func TestScheduler_CloseClearsEverything(t *testing.T) {
	s, clk := newTestScheduler(t)
	fired := false
	s.After(time.Second, "t", func() { fired = true })
	s.Every(time.Second, "p", func() { fired = true })
	s.Post("x", func() { fired = true })
	require.Equal(t, 3, s.Pending())

	s.Close()
	assert.Equal(t, 0, s.Pending())
	assert.True(t, s.Closed())
	assert.False(t, s.Post("late", func() {}))
	assert.Equal(t, Handle(0), s.After(time.Second, "late", func() {}))

	clk.Advance(time.Minute)
	assert.Equal(t, 0, s.RunPending())
	assert.False(t, fired)

	assert.NotPanics(t, s.Close)
}

func TestScheduler_RunStopsOnClose(t *testing.T) {
	s := New(clock.Real(), nil)
	done := make(chan error, 1)
	ran := make(chan struct{})

	go func() { done <- s.Run(context.Background()) }()
	s.Post("x", func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("posted task never ran")
	}

	s.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestScheduler_RunStopsOnContext(t *testing.T) {
	s := New(clock.Real(), nil)
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestScheduler_RunFiresTimers(t *testing.T) {
	s := New(clock.Real(), nil)
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fired := make(chan struct{})

	go func() { _ = s.Run(ctx) }()
	s.After(20*time.Millisecond, "t", func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired under Run")
	}
}
