package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/usersync/internal/auth"
	"github.com/roach88/usersync/internal/bg"
	"github.com/roach88/usersync/internal/clock"
	"github.com/roach88/usersync/internal/config"
	"github.com/roach88/usersync/internal/containment"
	"github.com/roach88/usersync/internal/optimistic"
	"github.com/roach88/usersync/internal/store"
	"github.com/roach88/usersync/internal/testutil"
	"github.com/roach88/usersync/internal/transition"
	"github.com/roach88/usersync/internal/usercontext"
)

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	clk      *clock.Fake
	provider *auth.Static
	mem      *store.Memory
	cfg      config.Config
	e        *Engine
}

func newFixture(t *testing.T, tweak ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	for _, fn := range tweak {
		fn(&cfg)
	}
	f := &fixture{
		clk:      clock.NewFake(epoch),
		provider: auth.NewStatic(nil),
		mem:      store.NewMemory(),
		cfg:      cfg,
	}
	f.e = f.newEngine(t)
	return f
}

func (f *fixture) newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(f.cfg, f.provider,
		WithClock(f.clk),
		WithIDGenerator(testutil.NewSequentialIDs("id")),
		WithRunner(bg.Sync{}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPreferenceStore(f.mem),
		WithSnapshotStore(f.mem),
	)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func (f *fixture) drive(d time.Duration) {
	testutil.Drive(f.e, f.clk, d)
}

// login starts the engine and signs in id with role.
func (f *fixture) login(t *testing.T, id string, role usercontext.Role) {
	t.Helper()
	require.NoError(t, f.e.Start(context.Background()))
	_, err := f.e.SetIdentity(context.Background(), &auth.Identity{ID: id, Role: role})
	require.NoError(t, err)
}

// recorder collects deliveries in order.
type recorder struct {
	got []usercontext.UserContext
}

func (r *recorder) fn(c usercontext.UserContext) { r.got = append(r.got, c) }

func (r *recorder) last() usercontext.UserContext { return r.got[len(r.got)-1] }

type transitionLog struct {
	got []transition.Transition
}

func (l *transitionLog) fn(tr transition.Transition) { l.got = append(l.got, tr) }

func (l *transitionLog) types() []transition.Type {
	out := make([]transition.Type, len(l.got))
	for i, tr := range l.got {
		out[i] = tr.Type
	}
	return out
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(config.Default(), nil)
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.BatchSize = 0
	_, err := New(cfg, auth.NewStatic(nil))
	assert.ErrorContains(t, err, "batch_size")
}

func TestEngine_StartsAnonymous(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.e.Start(context.Background()))

	cur := f.e.Current()
	assert.False(t, cur.Authenticated)
	assert.Equal(t, usercontext.CapabilitiesFor(usercontext.RoleNone), cur.Capabilities)
	assert.NoError(t, cur.Validate())
	assert.Equal(t, 1, f.provider.Calls())
}

func TestEngine_LoginThenSubscribeDeliversWithinDebounceWindow(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleAgent)

	var rec recorder
	f.e.Subscribe("ui", rec.fn)
	f.drive(f.cfg.DebounceWindow)

	require.Len(t, rec.got, 1, "initial delivery and the pending broadcast share one sequence number")
	got := rec.last()
	assert.True(t, got.Authenticated)
	assert.Equal(t, "u-1", got.UserID())
	assert.Equal(t, usercontext.CapabilitiesFor(usercontext.RoleAgent), got.Capabilities)
}

func TestEngine_SubscribeWhenStaleRefreshesFirst(t *testing.T) {
	f := newFixture(t)
	f.provider.Set(&auth.Identity{ID: "u-1", Role: usercontext.RoleUser})

	var rec recorder
	f.e.Subscribe("ui", rec.fn)
	f.drive(f.cfg.DebounceWindow)

	require.Len(t, rec.got, 1)
	assert.Equal(t, "u-1", rec.last().UserID())
	assert.Equal(t, 1, f.provider.Calls())
}

func TestEngine_SubscribeServesFallbackWhenRefreshFails(t *testing.T) {
	f := newFixture(t)
	f.provider.Fail(auth.ErrUnavailable)

	var rec recorder
	f.e.Subscribe("ui", rec.fn)
	f.drive(f.cfg.DebounceWindow)

	require.Len(t, rec.got, 1)
	assert.False(t, rec.last().Authenticated)
}

func TestEngine_UnsubscribeBeforeBroadcastMeansNoCalls(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)

	calls := 0
	unsubscribe := f.e.Subscribe("ui", func(usercontext.UserContext) { calls++ })
	unsubscribe()
	unsubscribe()

	_, err := f.e.SetIdentity(context.Background(), &auth.Identity{ID: "u-1", Role: usercontext.RoleAdmin})
	require.NoError(t, err)
	f.drive(time.Second)

	assert.Zero(t, calls)
	assert.Zero(t, f.e.Stats().Subscribers)
}

func TestEngine_DebounceCoalescesCloseUpdates(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	var rec recorder
	f.e.Subscribe("ui", rec.fn)
	f.drive(time.Second)
	require.Len(t, rec.got, 1)

	_, err := f.e.SetIdentity(context.Background(), &auth.Identity{ID: "u-1", Role: usercontext.RoleAgent})
	require.NoError(t, err)
	f.drive(10 * time.Millisecond)
	_, err = f.e.SetIdentity(context.Background(), &auth.Identity{ID: "u-1", Role: usercontext.RoleSupervisor})
	require.NoError(t, err)
	f.drive(time.Second)

	require.Len(t, rec.got, 2)
	assert.Equal(t, usercontext.RoleSupervisor, rec.last().Role)
}

func TestEngine_DebounceDeliversSeparatedUpdates(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	var rec recorder
	f.e.Subscribe("ui", rec.fn)
	f.drive(time.Second)
	require.Len(t, rec.got, 1)

	_, err := f.e.SetIdentity(context.Background(), &auth.Identity{ID: "u-1", Role: usercontext.RoleAgent})
	require.NoError(t, err)
	f.drive(600 * time.Millisecond)
	_, err = f.e.SetIdentity(context.Background(), &auth.Identity{ID: "u-1", Role: usercontext.RoleSupervisor})
	require.NoError(t, err)
	f.drive(600 * time.Millisecond)

	require.Len(t, rec.got, 3)
	assert.Equal(t, usercontext.RoleAgent, rec.got[1].Role)
	assert.Equal(t, usercontext.RoleSupervisor, rec.got[2].Role)
}

func TestEngine_SubscribersGetIndependentSnapshots(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)

	f.e.Subscribe("mutator", func(c usercontext.UserContext) {
		c.User.ID = "mallory"
		c.Capabilities[0] = "everything"
	})
	var rec recorder
	f.e.Subscribe("reader", rec.fn)
	f.drive(time.Second)

	require.Len(t, rec.got, 1)
	assert.Equal(t, "u-1", rec.last().UserID())
	assert.Equal(t, usercontext.CapabilitiesFor(usercontext.RoleUser), rec.last().Capabilities)
	assert.Equal(t, "u-1", f.e.Current().UserID())
	assert.NoError(t, f.e.Current().Validate())
}

func TestEngine_SubscriberPanicIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)

	f.e.Subscribe("bad", func(usercontext.UserContext) { panic("render failed") })
	var rec recorder
	f.e.Subscribe("good", rec.fn)
	f.drive(time.Second)

	assert.Len(t, rec.got, 1)
	assert.Equal(t, int64(1), f.e.Stats().ErrorTotals[containment.KindSubscriber])
}

func TestEngine_RepeatedlyFailingSubscriberIsPruned(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)

	f.e.Subscribe("bad", func(usercontext.UserContext) { panic("render failed") })
	var rec recorder
	f.e.Subscribe("good", rec.fn)
	f.drive(time.Second)

	for _, role := range []usercontext.Role{usercontext.RoleAgent, usercontext.RoleSupervisor} {
		_, err := f.e.SetIdentity(context.Background(), &auth.Identity{ID: "u-1", Role: role})
		require.NoError(t, err)
		f.drive(time.Second)
	}

	st := f.e.Stats()
	assert.Equal(t, 1, st.Subscribers)
	assert.Equal(t, int64(3), st.ErrorTotals[containment.KindSubscriber])
	assert.Len(t, rec.got, 3)
}

func TestEngine_TransitionsAreClassified(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.e.Start(context.Background()))
	var log transitionLog
	f.e.SubscribeToTransitions("audit", log.fn)

	ctx := context.Background()
	_, err := f.e.SetIdentity(ctx, &auth.Identity{ID: "u-1", Role: usercontext.RoleUser})
	require.NoError(t, err)
	_, err = f.e.SetIdentity(ctx, &auth.Identity{ID: "u-1", Role: usercontext.RoleAdmin})
	require.NoError(t, err)
	theme := usercontext.ThemeDark
	_, err = f.e.UpdatePreferences(usercontext.PreferencesPatch{Theme: &theme})
	require.NoError(t, err)
	_, err = f.e.Logout(ctx)
	require.NoError(t, err)
	f.drive(time.Second)

	assert.Equal(t, []transition.Type{
		transition.Login,
		transition.RoleChange,
		transition.PreferenceUpdate,
		transition.Logout,
	}, log.types())
	assert.Len(t, f.e.Transitions(), 4)
	assert.Nil(t, log.got[0].From.User)
}

func TestEngine_IdleSessionLogsOut(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	var log transitionLog
	f.e.SubscribeToTransitions("audit", log.fn)

	f.drive(31 * time.Minute)

	assert.False(t, f.e.Current().Authenticated)
	assert.Equal(t, []transition.Type{transition.Logout}, log.types())
}

func TestEngine_RecordedActivityKeepsSessionAlive(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	var rec recorder
	f.e.Subscribe("ui", rec.fn)
	f.drive(time.Second)

	for range 3 {
		f.drive(20 * time.Minute)
		f.e.RecordActivity()
	}

	assert.True(t, f.e.Current().Authenticated)
	assert.Equal(t, epoch.Add(time.Second+60*time.Minute), f.e.Current().LastActivity)
	assert.Len(t, rec.got, 1, "activity is not broadcast")
}

func TestEngine_SessionExpiresAfterDuration(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.SessionDuration = time.Hour
	})
	f.login(t, "u-1", usercontext.RoleUser)
	var log transitionLog
	f.e.SubscribeToTransitions("audit", log.fn)

	for range 3 {
		f.drive(20 * time.Minute)
		f.e.RecordActivity()
	}
	assert.True(t, f.e.Current().Authenticated)

	f.drive(time.Minute)
	assert.False(t, f.e.Current().Authenticated)
	assert.Equal(t, []transition.Type{transition.Logout}, log.types())
}

func TestEngine_OptimisticConfirmKeepsChange(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)

	theme := usercontext.ThemeDark
	id, err := f.e.BeginUpdate(optimistic.PreferenceChange,
		optimistic.Changes{Preferences: &usercontext.PreferencesPatch{Theme: &theme}}, 0)
	require.NoError(t, err)
	assert.Equal(t, usercontext.ThemeDark, f.e.Current().Preferences.Theme)

	require.NoError(t, f.e.Confirm(id))
	f.drive(10 * time.Second)

	assert.Equal(t, usercontext.ThemeDark, f.e.Current().Preferences.Theme)
	assert.Empty(t, f.e.PendingUpdates())
	assert.ErrorIs(t, f.e.Confirm(id), optimistic.ErrUnknownUpdate)
}

func TestEngine_OptimisticTimeoutRestoresSnapshot(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	before := f.e.Current()

	theme := usercontext.ThemeDark
	_, err := f.e.BeginUpdate(optimistic.PreferenceChange,
		optimistic.Changes{Preferences: &usercontext.PreferencesPatch{Theme: &theme}}, 0)
	require.NoError(t, err)

	f.drive(f.cfg.RollbackTimeout - time.Millisecond)
	assert.Equal(t, usercontext.ThemeDark, f.e.Current().Preferences.Theme)

	f.drive(time.Millisecond)
	assert.Equal(t, before, f.e.Current())
	assert.Empty(t, f.e.PendingUpdates())
}

func TestEngine_BeginUpdateRejectsInvalidChange(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	before := f.e.Current()

	theme := usercontext.Theme("neon")
	_, err := f.e.BeginUpdate(optimistic.PreferenceChange,
		optimistic.Changes{Preferences: &usercontext.PreferencesPatch{Theme: &theme}}, 0)
	require.Error(t, err)
	assert.True(t, containment.IsValidation(err))
	assert.Equal(t, before, f.e.Current())
	assert.Equal(t, int64(1), f.e.Stats().ErrorTotals[containment.KindValidation])
}

func TestEngine_UpdatePreferencesPersists(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)

	lang := "de-CH"
	_, err := f.e.UpdatePreferences(usercontext.PreferencesPatch{Language: &lang})
	require.NoError(t, err)
	f.drive(time.Second)

	assert.Empty(t, f.e.PendingUpdates())
	saved, ok, err := f.mem.LoadPreferences(context.Background(), "u-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "de-CH", saved.Language)

	ctx := context.Background()
	_, err = f.e.Logout(ctx)
	require.NoError(t, err)
	_, err = f.e.SetIdentity(ctx, &auth.Identity{ID: "u-1", Role: usercontext.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, "de-CH", f.e.Current().Preferences.Language)
}

func TestEngine_FailedSaveRollsBack(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	before := f.e.Current()
	f.mem.FailSaves(errors.New("disk full"))

	theme := usercontext.ThemeLight
	_, err := f.e.UpdatePreferences(usercontext.PreferencesPatch{Theme: &theme})
	require.NoError(t, err)
	assert.Equal(t, usercontext.ThemeLight, f.e.Current().Preferences.Theme)

	f.drive(0)

	assert.Equal(t, before, f.e.Current())
	assert.Empty(t, f.e.PendingUpdates())
	assert.Positive(t, f.e.Stats().ErrorTotals[containment.KindPersistence])
}

func TestEngine_AnonymousPreferenceChangeConfirmsAtOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.e.Start(context.Background()))

	theme := usercontext.ThemeDark
	_, err := f.e.UpdatePreferences(usercontext.PreferencesPatch{Theme: &theme})
	require.NoError(t, err)

	assert.Empty(t, f.e.PendingUpdates())
	assert.Zero(t, f.mem.Saves())
	assert.Equal(t, usercontext.ThemeDark, f.e.Current().Preferences.Theme)
}

func TestEngine_InvalidIdentityServesFallback(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)

	cur, err := f.e.SetIdentity(context.Background(), &auth.Identity{ID: "u-1", Role: "wizard"})
	require.Error(t, err)
	assert.True(t, containment.IsValidation(err))
	assert.False(t, cur.Authenticated)
	assert.NoError(t, cur.Validate())
}

func TestEngine_BreakerOpensAndRecovers(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	require.True(t, f.e.Stats().SessionPolling)

	for range f.cfg.ErrorThreshold {
		f.e.ReportError(containment.KindRefresh, "test", errors.New("boom"))
	}
	assert.Equal(t, containment.BreakerClosed, f.e.Stats().Breaker)

	f.e.ReportError(containment.KindRefresh, "test", errors.New("boom"))
	st := f.e.Stats()
	assert.Equal(t, containment.BreakerOpen, st.Breaker)
	assert.False(t, st.SessionPolling)
	_, err := f.e.Refresh(context.Background())
	assert.True(t, IsCircuitOpen(err))

	f.drive(f.cfg.CircuitCooldown)

	st = f.e.Stats()
	assert.Equal(t, containment.BreakerClosed, st.Breaker)
	assert.Zero(t, st.ErrorCount)
	assert.True(t, st.SessionPolling)
	assert.Equal(t, 1, st.Trips)

	f.provider.Set(&auth.Identity{ID: "u-1", Role: usercontext.RoleUser})
	cur, err := f.e.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u-1", cur.UserID())
}

func TestEngine_FailedRefreshSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	f.provider.Fail(auth.ErrUnavailable)

	cur, err := f.e.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, containment.IsRefresh(err))
	assert.Equal(t, "u-1", cur.UserID(), "a failed refresh keeps the current context")
	assert.True(t, f.e.Stats().RetryArmed)

	f.provider.Set(&auth.Identity{ID: "u-2", Role: usercontext.RoleUser})
	f.drive(f.cfg.RecoveryCooldown)

	st := f.e.Stats()
	assert.False(t, st.RetryArmed)
	assert.Equal(t, "u-2", st.UserID)
	assert.Zero(t, st.Strategies[0].Attempts)
}

func TestEngine_FailedStartEntersRecovery(t *testing.T) {
	f := newFixture(t)
	f.provider.Fail(auth.ErrUnavailable)

	err := f.e.Start(context.Background())
	require.Error(t, err)
	assert.True(t, containment.IsCritical(err))

	st := f.e.Stats()
	assert.Equal(t, containment.ModeRecovering, st.Mode)
	assert.True(t, st.Updating)
	assert.False(t, st.RetryArmed)
	assert.False(t, f.e.Current().Authenticated)

	_, err = f.e.BeginUpdate(optimistic.PreferenceChange, optimistic.Changes{}, 0)
	assert.True(t, IsRecovering(err))
	_, err = f.e.Refresh(context.Background())
	assert.True(t, IsRecovering(err))

	f.provider.Set(&auth.Identity{ID: "u-1", Role: usercontext.RoleSupervisor})
	f.drive(f.cfg.RecoveryDwell)

	st = f.e.Stats()
	assert.Equal(t, containment.ModeNormal, st.Mode)
	assert.False(t, st.Updating)
	assert.Equal(t, "u-1", st.UserID)
}

func TestEngine_RecoveryReentersWhenExitRefreshFails(t *testing.T) {
	f := newFixture(t)
	f.provider.Fail(auth.ErrUnavailable)
	require.Error(t, f.e.Start(context.Background()))

	f.drive(f.cfg.RecoveryDwell)

	st := f.e.Stats()
	assert.Equal(t, containment.ModeRecovering, st.Mode)
	assert.Equal(t, 2, st.RecoveryEntries)
	assert.Equal(t, 1, st.RecoveryReentries)
	assert.True(t, st.Updating)
}

func TestEngine_RecoveryDiscardsPendingUpdates(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	theme := usercontext.ThemeDark
	_, err := f.e.BeginUpdate(optimistic.PreferenceChange,
		optimistic.Changes{Preferences: &usercontext.PreferencesPatch{Theme: &theme}}, 0)
	require.NoError(t, err)

	f.e.ReportError(containment.KindCritical, "test", errors.New("storage corrupted"))

	assert.Empty(t, f.e.PendingUpdates())
	assert.False(t, f.e.Current().Authenticated)
	assert.Equal(t, containment.ModeRecovering, f.e.Stats().Mode)
}

func TestEngine_UpdateIndicatorFollowsRecovery(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.e.Start(context.Background()))

	var states []bool
	f.e.SubscribeToUpdateIndicator("spinner", func(updating bool, _ float64) {
		states = append(states, updating)
	})
	f.drive(0)

	f.e.ReportError(containment.KindCritical, "test", errors.New("boom"))
	f.drive(f.cfg.RecoveryDwell)

	assert.Equal(t, []bool{false, true, false}, states)
}

func TestEngine_RestoresValidSnapshot(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	sessionID := f.e.Current().Session.ID
	f.e.Close()

	f.provider.Set(&auth.Identity{ID: "u-1", Role: usercontext.RoleUser})
	f.clk.Advance(time.Minute)
	f.e = f.newEngine(t)
	require.NoError(t, f.e.Start(context.Background()))

	cur := f.e.Current()
	assert.Equal(t, "u-1", cur.UserID())
	assert.Equal(t, sessionID, cur.Session.ID, "the restored session is kept by the refresh")
}

func TestEngine_IgnoresExpiredSnapshot(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	f.e.Close()

	f.clk.Advance(time.Hour)
	f.e = f.newEngine(t)
	require.NoError(t, f.e.Start(context.Background()))

	assert.False(t, f.e.Current().Authenticated)
	assert.Empty(t, f.e.Transitions())
}

func TestEngine_ContextCacheEvicts(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.CacheMaxEntries = 2
		c.ContextScopedCache = false
	})
	require.NoError(t, f.e.Start(context.Background()))
	for _, id := range []string{"u-1", "u-2", "u-3"} {
		_, err := f.e.SetIdentity(context.Background(), &auth.Identity{ID: id, Role: usercontext.RoleUser})
		require.NoError(t, err)
	}

	_, ok := f.e.Cached("u-1")
	assert.False(t, ok)
	_, ok = f.e.Cached("u-3")
	assert.True(t, ok)
	assert.Equal(t, int64(1), f.e.Stats().Cache.Evictions)

	f.clk.Advance(f.cfg.CacheTTL + time.Second)
	_, ok = f.e.Cached("u-3")
	assert.False(t, ok)
}

func TestEngine_ScopedCacheHidesOtherIdentities(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	_, ok := f.e.Cached("u-1")
	assert.True(t, ok)

	_, err := f.e.SetIdentity(context.Background(), &auth.Identity{ID: "u-2", Role: usercontext.RoleUser})
	require.NoError(t, err)

	_, ok = f.e.Cached("u-1")
	assert.False(t, ok)
	_, ok = f.e.Cached("u-2")
	assert.True(t, ok)
}

func TestEngine_ResetClearsEverything(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	f.e.Subscribe("ui", func(usercontext.UserContext) {})
	f.e.SubscribeToTransitions("audit", func(transition.Transition) {})
	theme := usercontext.ThemeDark
	_, err := f.e.BeginUpdate(optimistic.PreferenceChange,
		optimistic.Changes{Preferences: &usercontext.PreferencesPatch{Theme: &theme}}, 0)
	require.NoError(t, err)

	f.e.Reset()

	st := f.e.Stats()
	assert.False(t, st.Authenticated)
	assert.Zero(t, st.Subscribers)
	assert.Zero(t, st.TransitionSubs)
	assert.Zero(t, st.PendingUpdates)
	assert.Zero(t, st.Transitions)
	assert.Zero(t, st.Cache.Entries)
	assert.True(t, st.SessionPolling)
	assert.Equal(t, containment.BreakerClosed, st.Breaker)
}

func TestEngine_CloseLeavesNoTimers(t *testing.T) {
	f := newFixture(t)
	f.login(t, "u-1", usercontext.RoleUser)
	f.e.Subscribe("ui", func(usercontext.UserContext) {})
	theme := usercontext.ThemeDark
	_, err := f.e.BeginUpdate(optimistic.PreferenceChange,
		optimistic.Changes{Preferences: &usercontext.PreferencesPatch{Theme: &theme}}, 0)
	require.NoError(t, err)
	require.Positive(t, f.e.Stats().Timers)

	f.e.Close()
	f.e.Close()

	st := f.e.Stats()
	assert.Zero(t, st.Timers)
	assert.Zero(t, st.Subscribers)
	assert.False(t, st.SessionPolling)

	_, err = f.e.Refresh(context.Background())
	assert.True(t, IsClosed(err))
	calls := 0
	f.e.Subscribe("late", func(usercontext.UserContext) { calls++ })
	f.drive(time.Second)
	assert.Zero(t, calls)
}

func TestEngine_ReloginRestoresCachedPreferences(t *testing.T) {
	for _, scoped := range []bool{true, false} {
		t.Run(fmt.Sprintf("scoped=%t", scoped), func(t *testing.T) {
			cfg := config.Default()
			cfg.ContextScopedCache = scoped
			clk := clock.NewFake(epoch)
			e, err := New(cfg, auth.NewStatic(nil),
				WithClock(clk),
				WithIDGenerator(testutil.NewSequentialIDs("id")),
				WithRunner(bg.Sync{}),
				WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			)
			require.NoError(t, err)
			t.Cleanup(e.Close)

			ctx := context.Background()
			require.NoError(t, e.Start(ctx))
			_, err = e.SetIdentity(ctx, &auth.Identity{ID: "u-1", Role: usercontext.RoleUser})
			require.NoError(t, err)
			theme := usercontext.ThemeDark
			_, err = e.UpdatePreferences(usercontext.PreferencesPatch{Theme: &theme})
			require.NoError(t, err)
			_, err = e.Logout(ctx)
			require.NoError(t, err)

			_, err = e.SetIdentity(ctx, &auth.Identity{ID: "u-1", Role: usercontext.RoleUser})
			require.NoError(t, err)
			assert.Equal(t, usercontext.ThemeDark, e.Current().Preferences.Theme)
		})
	}
}

func TestEngine_FailedStartCountsOnce(t *testing.T) {
	f := newFixture(t)
	f.provider.Fail(auth.ErrUnavailable)

	err := f.e.Start(context.Background())
	assert.True(t, containment.IsCritical(err))

	st := f.e.Stats()
	assert.Equal(t, containment.ModeRecovering, st.Mode)
	assert.Equal(t, 1, st.ErrorCount)
	assert.Equal(t, int64(1), st.ErrorTotals[containment.KindRefresh])
	assert.Zero(t, st.ErrorTotals[containment.KindCritical])

	f.drive(f.cfg.RecoveryDwell)

	st = f.e.Stats()
	assert.Equal(t, 2, st.RecoveryEntries, "the failed exit refresh re-enters")
	assert.Equal(t, int64(f.provider.Calls()), st.ErrorTotals[containment.KindRefresh])
	assert.Zero(t, st.ErrorTotals[containment.KindCritical])
}

func TestEngine_ReportedCriticalCounts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.e.Start(context.Background()))

	f.e.ReportError(containment.KindCritical, "test", errors.New("storage corrupted"))

	st := f.e.Stats()
	assert.Equal(t, 1, st.ErrorCount)
	assert.Equal(t, int64(1), st.ErrorTotals[containment.KindCritical])
}
