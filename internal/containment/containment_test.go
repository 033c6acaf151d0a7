package containment

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/usersync/internal/clock"
	"github.com/roach88/usersync/internal/scheduler"
	"github.com/roach88/usersync/internal/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newSched(t *testing.T) (*scheduler.Scheduler, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	s := scheduler.New(clk, nil)
	t.Cleanup(s.Close)
	return s, clk
}

func TestError_KindHelpers(t *testing.T) {
	base := errors.New("provider down")
	err := fmt.Errorf("refresh: %w", New(KindRefresh, "refresh", base))

	assert.True(t, IsRefresh(err))
	assert.False(t, IsCritical(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "refresh: refresh: provider down", New(KindRefresh, "refresh", base).Error())

	k, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindRefresh, k)

	_, ok = KindOf(base)
	assert.False(t, ok)

	assert.True(t, IsValidation(New(KindValidation, "apply", nil)))
	assert.True(t, IsSubscriber(New(KindSubscriber, "deliver", nil)))
	assert.True(t, IsPersistence(New(KindPersistence, "save", nil)))
	assert.Equal(t, "critical: start", New(KindCritical, "start", nil).Error())
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("cosmic-ray")
	assert.Error(t, err)
}

func TestTracker_RollingWindow(t *testing.T) {
	tr := NewTracker(time.Minute)
	assert.Equal(t, 1, tr.Record(KindRefresh, epoch))
	assert.Equal(t, 2, tr.Record(KindSubscriber, epoch.Add(30*time.Second)))

	assert.Equal(t, 2, tr.Count(epoch.Add(59*time.Second)))
	assert.Equal(t, 1, tr.Count(epoch.Add(60*time.Second)), "the window excludes its start")
	assert.Equal(t, 0, tr.Count(epoch.Add(2*time.Minute)))

	assert.Equal(t, int64(2), tr.Total())
	assert.Equal(t, map[Kind]int64{KindRefresh: 1, KindSubscriber: 1}, tr.ByKind())

	tr.Record(KindRefresh, epoch.Add(3*time.Minute))
	tr.Reset()
	assert.Equal(t, 0, tr.Count(epoch.Add(3*time.Minute)))
	assert.Equal(t, int64(3), tr.Total(), "reset keeps lifetime totals")
}

func TestBreaker_TripsAboveThresholdAndResets(t *testing.T) {
	sched, clk := newSched(t)
	var opened, closed int
	b := NewBreaker(sched, clk, BreakerConfig{
		OnOpen:  func() { opened++ },
		OnClose: func() { closed++ },
	}, nil)

	for i := 0; i < 10; i++ {
		assert.False(t, b.Record(KindRefresh), "failure %d", i+1)
		clk.Advance(time.Second)
	}
	assert.Equal(t, BreakerClosed, b.State())

	assert.True(t, b.Record(KindRefresh), "the eleventh failure trips")
	assert.True(t, b.Open())
	assert.Equal(t, 1, opened)
	assert.Equal(t, 11, b.Count())

	assert.False(t, b.Record(KindRefresh), "no re-trip while open")
	assert.Equal(t, 1, b.Trips())

	testutil.Drive(sched, clk, 29*time.Second)
	assert.True(t, b.Open())

	testutil.Drive(sched, clk, time.Second)
	assert.False(t, b.Open())
	assert.Equal(t, 1, closed)
	assert.Equal(t, 0, b.Count(), "counter resets after cooldown")
}

func TestBreaker_SpreadOutFailuresNeverTrip(t *testing.T) {
	sched, clk := newSched(t)
	b := NewBreaker(sched, clk, BreakerConfig{}, nil)

	for i := 0; i < 30; i++ {
		assert.False(t, b.Record(KindRefresh))
		clk.Advance(7 * time.Second) // at most 9 inside any 60s window
	}
	assert.Equal(t, 0, b.Trips())
}

func TestBreaker_CloseCancelsCooldown(t *testing.T) {
	sched, clk := newSched(t)
	closed := 0
	b := NewBreaker(sched, clk, BreakerConfig{Threshold: 1, OnClose: func() { closed++ }}, nil)
	b.Record(KindCritical)
	b.Record(KindCritical)
	require.True(t, b.Open())

	b.Close()
	assert.Equal(t, 0, sched.Pending())
	assert.False(t, b.Open())
	testutil.Drive(sched, clk, time.Hour)
	assert.Equal(t, 0, closed)
}

func TestRecovery_EnterDwellExit(t *testing.T) {
	sched, clk := newSched(t)
	var entered []error
	exits := 0
	r := NewRecovery(sched, clk, RecoveryConfig{
		OnEnter: func(cause error) { entered = append(entered, cause) },
		OnExit:  func() { exits++ },
	}, nil)

	cause := errors.New("init failed")
	assert.True(t, r.Enter(cause))
	assert.True(t, r.Active())
	assert.False(t, r.Enter(errors.New("again")), "already recovering")
	assert.Equal(t, []error{cause}, entered)

	testutil.Drive(sched, clk, 59*time.Second)
	assert.Equal(t, ModeRecovering, r.Mode())

	testutil.Drive(sched, clk, time.Second)
	assert.Equal(t, ModeNormal, r.Mode())
	assert.Equal(t, 1, exits)
	assert.Equal(t, cause, r.LastCause())
}

func TestRecovery_ReentryIsCountedNotPrevented(t *testing.T) {
	sched, clk := newSched(t)
	var r *Recovery
	failures := 0
	r = NewRecovery(sched, clk, RecoveryConfig{
		Dwell: time.Minute,
		// The exit refresh keeps failing, so recovery re-enters right away.
		OnExit: func() {
			if failures < 2 {
				failures++
				r.Enter(errors.New("refresh failed"))
			}
		},
	}, nil)

	r.Enter(errors.New("init failed"))
	testutil.Drive(sched, clk, 3*time.Minute)

	assert.Equal(t, 3, r.Entries())
	assert.Equal(t, 2, r.Reentries())
	assert.False(t, r.Active())

	// An entry long after the last exit is not a re-entry.
	clk.Advance(10 * time.Minute)
	r.Enter(errors.New("later"))
	assert.Equal(t, 2, r.Reentries())
}

func TestRecovery_Close(t *testing.T) {
	sched, clk := newSched(t)
	exits := 0
	r := NewRecovery(sched, clk, RecoveryConfig{OnExit: func() { exits++ }}, nil)
	r.Enter(errors.New("x"))
	r.Close()

	assert.False(t, r.Active())
	assert.Equal(t, 0, sched.Pending())
	testutil.Drive(sched, clk, time.Hour)
	assert.Equal(t, 0, exits)
}

func TestStrategy_AttemptCeilingAndCooldown(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewStrategy(StrategySubscriptionPrune, 3, 30*time.Second, clk)
	fail := func() error { return errors.New("still failing") }

	require.Error(t, s.Attempt(fail))

	err := s.Attempt(fail)
	assert.True(t, IsCoolingDown(err))
	var cd *CoolingDownError
	require.ErrorAs(t, err, &cd)
	assert.Equal(t, 30*time.Second, cd.Remaining)

	clk.Advance(30 * time.Second)
	assert.EqualError(t, s.Attempt(fail), "still failing")
	clk.Advance(30 * time.Second)
	assert.EqualError(t, s.Attempt(fail), "still failing")
	clk.Advance(30 * time.Second)

	ran := false
	err = s.Attempt(func() error { ran = true; return nil })
	assert.True(t, IsAttemptsExceeded(err))
	assert.False(t, ran)
	assert.Equal(t, 1, s.Stats().Exhausted)
}

func TestStrategy_SuccessResets(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewStrategy(StrategyContextRefresh, 3, 30*time.Second, clk)

	require.Error(t, s.Attempt(func() error { return errors.New("x") }))
	clk.Advance(30 * time.Second)
	require.NoError(t, s.Attempt(func() error { return nil }))

	st := s.Stats()
	assert.Equal(t, 0, st.Attempts)
	assert.Equal(t, 1, st.Successes)

	// No cooldown applies after a success.
	assert.NoError(t, s.Attempt(func() error { return nil }))
}

func TestStrategy_Schedule(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewStrategy(StrategyContextRefresh, 3, 30*time.Second, clk)

	for i := 0; i < 3; i++ {
		wait, err := s.Schedule()
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, wait, "attempt %d", i+1)
		clk.Advance(wait)
	}
	_, err := s.Schedule()
	assert.True(t, IsAttemptsExceeded(err))

	s.Succeeded()
	wait, err := s.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, wait)
}

func TestStrategy_ScheduleHonoursEarlierReservation(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewStrategy(StrategyContextRefresh, 3, 30*time.Second, clk)

	wait, _ := s.Schedule()
	assert.Equal(t, 30*time.Second, wait)

	// A second failure before the reserved retry waits for the reserved slot
	// plus one cooldown.
	clk.Advance(10 * time.Second)
	wait, _ = s.Schedule()
	assert.Equal(t, 50*time.Second, wait)
}

func TestStrategy_Defaults(t *testing.T) {
	s := NewStrategy("x", 0, 0, clock.NewFake(epoch))
	assert.Equal(t, DefaultMaxAttempts, s.Stats().MaxAttempts)
	assert.Equal(t, DefaultCooldown, s.Cooldown())
	assert.Equal(t, "x", s.Name())
}
