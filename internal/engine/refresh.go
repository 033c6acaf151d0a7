package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/usersync/internal/auth"
	"github.com/roach88/usersync/internal/containment"
	"github.com/roach88/usersync/internal/usercontext"
)

// Refresh asks the auth provider who is signed in and applies the derived
// context. Concurrent calls share one provider call.
//
// It always returns the current context. The error is ErrClosed,
// ErrRecovering, ErrCircuitOpen, or a contained refresh or validation
// failure; a failed refresh arms the context-refresh-retry strategy.
func (e *Engine) Refresh(ctx context.Context) (usercontext.UserContext, error) {
	if e.isClosed() {
		return e.Current(), ErrClosed
	}
	if e.recovery.Active() {
		return e.Current(), ErrRecovering
	}
	return e.refresh(ctx)
}

func (e *Engine) refresh(ctx context.Context) (usercontext.UserContext, error) {
	if e.breaker.Open() {
		return e.Current(), ErrCircuitOpen
	}
	_, err, shared := e.flight.Do("refresh", func() (any, error) {
		return nil, e.refreshOnce(ctx)
	})
	if shared {
		e.logger.Debug("joined in-flight refresh", "event", "refresh_shared")
	}
	return e.Current(), err
}

func (e *Engine) refreshOnce(ctx context.Context) error {
	started := e.clock.Now()
	rctx, cancel := context.WithTimeout(ctx, e.cfg.RefreshTimeout)
	defer cancel()

	identity, err := e.currentUser(rctx)
	e.metrics.Refresh(err == nil, e.clock.Now().Sub(started))
	if err != nil {
		if e.isClosed() {
			return ErrClosed
		}
		cerr := containment.New(containment.KindRefresh, "refresh", err)
		e.contain(cerr)
		e.scheduleRetry()
		return cerr
	}

	e.refreshRetry.Succeeded()
	e.mu.Lock()
	e.cancelRetryLocked()
	e.mu.Unlock()

	return e.applyIdentity(ctx, identity, "refresh", started)
}

// currentUser calls the provider, converting a panic into an error.
func (e *Engine) currentUser(ctx context.Context) (identity *auth.Identity, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("auth provider panicked: %v", r)
		}
	}()
	return e.provider.CurrentUser(ctx)
}

// SetIdentity applies an identity pushed by an auth collaborator. nil
// means nobody is signed in. An identity that cannot form a valid context
// (an unknown role, a missing id) is rejected: the anonymous fallback is
// served and the validation error returned.
func (e *Engine) SetIdentity(ctx context.Context, identity *auth.Identity) (usercontext.UserContext, error) {
	if e.isClosed() {
		return e.Current(), ErrClosed
	}
	if e.recovery.Active() {
		return e.Current(), ErrRecovering
	}
	err := e.applyIdentity(ctx, identity, "set_identity", e.clock.Now())
	return e.Current(), err
}

// Logout clears to the anonymous context.
func (e *Engine) Logout(ctx context.Context) (usercontext.UserContext, error) {
	return e.SetIdentity(ctx, nil)
}

func (e *Engine) applyIdentity(ctx context.Context, identity *auth.Identity, cause string, started time.Time) error {
	next := e.derive(ctx, identity, started)
	err := e.apply(next, cause, started, restartWindow)
	if err == nil || IsClosed(err) {
		return err
	}
	cerr := e.containAs(containment.KindValidation, cause, err)
	e.applyFallback(cause+"_rejected", started)
	return cerr
}

// derive builds the context for identity. The same user keeps its session
// (only the role and profile may change); a different user starts a new
// session with preferences loaded for them.
func (e *Engine) derive(ctx context.Context, identity *auth.Identity, now time.Time) usercontext.UserContext {
	if identity == nil {
		return e.fallback()
	}

	cur := e.Current()
	if cur.Authenticated && cur.UserID() == identity.ID && e.policy.IsValid(cur, now) {
		next := cur.WithRole(identity.Role)
		u := identity.User()
		next.User = &u
		next.Session.LastUpdate = now
		return next
	}

	prefs := e.loadPreferences(ctx, identity.ID)
	return usercontext.Login(identity.User(), identity.Role, e.ids.Generate(), prefs, now)
}

// loadPreferences looks in persistence, then the context cache, then falls
// back to defaults. Persistence failures are contained, never fatal. The
// cache read ignores the scope: the scope still belongs to whoever was
// signed in before.
func (e *Engine) loadPreferences(ctx context.Context, userID string) usercontext.Preferences {
	if e.prefs != nil {
		prefs, ok, err := e.prefs.LoadPreferences(ctx, userID)
		switch {
		case err != nil:
			e.contain(containment.New(containment.KindPersistence, "load_preferences", err))
		case ok:
			return prefs
		}
	}
	if c, ok := e.contexts.GetUnscoped(usercontext.IdentityKey(userID)); ok {
		return c.Preferences
	}
	return e.fallbackPrefs
}

// scheduleRetry arms one background refresh per the context-refresh-retry
// strategy. Nothing is armed while one is already pending, while the
// breaker is open, or once the strategy is exhausted.
func (e *Engine) scheduleRetry() {
	if e.breaker.Open() || e.recovery.Active() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.retryTimer != 0 {
		return
	}

	wait, err := e.refreshRetry.Schedule()
	if err != nil {
		e.logger.Warn("refresh retries exhausted",
			"event", "strategy_exhausted",
			"strategy", e.refreshRetry.Name(),
			"error", err)
		return
	}
	e.retryTimer = e.sched.After(wait, "engine.refresh.retry", func() {
		e.mu.Lock()
		e.retryTimer = 0
		e.mu.Unlock()
		e.runner.Do(func() {
			if _, err := e.Refresh(e.ctx); err != nil {
				e.logger.Debug("refresh retry failed",
					"event", "refresh_retry_failed",
					"error", err)
			}
		})
	})
	e.logger.Info("refresh retry scheduled",
		"event", "refresh_retry",
		"wait", wait,
		"attempt", e.refreshRetry.Stats().Attempts)
}

func (e *Engine) cancelRetryLocked() {
	if e.retryTimer != 0 {
		e.sched.Cancel(e.retryTimer)
		e.retryTimer = 0
	}
}
