package engine

import (
	"github.com/roach88/usersync/internal/session"
)

// RecordActivity stamps the current session with the present time. The
// context is swapped, not re-broadcast: activity is bookkeeping for the
// idle timeout, not something observers redraw for.
func (e *Engine) RecordActivity() {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	cur := e.current.Load()
	if !cur.Authenticated {
		return
	}
	next := cur.Clone()
	next.LastActivity = now
	e.current.Swap(next)
}

// CheckSession validates the current session. An expired or idle session
// is cleared to the anonymous fallback, which observers see as a logout
// transition.
func (e *Engine) CheckSession() session.Verdict {
	now := e.clock.Now()
	cur := e.Current()
	verdict := e.policy.Check(cur, now)
	if verdict == session.Valid || verdict == session.NoSession {
		return verdict
	}

	e.logger.Info("session no longer valid",
		"event", "session_invalid",
		"verdict", string(verdict),
		"user", cur.UserID(),
		"login_time", cur.Session.LoginTime,
		"last_activity", cur.LastActivity)
	e.applyFallback("session_"+string(verdict), now)
	return verdict
}

// armSessionTimer starts periodic session checks unless they already run.
// Each tick also sweeps expired entries out of the context cache.
func (e *Engine) armSessionTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.started || (e.sessionTimer != 0 && e.sched.Active(e.sessionTimer)) {
		return
	}
	e.sessionTimer = e.sched.Every(e.cfg.SessionCheckInterval, "engine.session.check", func() {
		e.CheckSession()
		if n := e.contexts.Sweep(); n > 0 {
			e.logger.Debug("swept context cache", "event", "cache_sweep", "removed", n)
		}
	})
}

// suspendBackground cancels session polling and any pending refresh
// retry.
func (e *Engine) suspendBackground() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessionTimer != 0 {
		e.sched.Cancel(e.sessionTimer)
		e.sessionTimer = 0
	}
	e.cancelRetryLocked()
}
