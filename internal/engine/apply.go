package engine

import (
	"context"
	"time"

	"github.com/roach88/usersync/internal/containment"
	"github.com/roach88/usersync/internal/session"
	"github.com/roach88/usersync/internal/transition"
	"github.com/roach88/usersync/internal/usercontext"
)

// window says what an applied context does to the cache validity window.
type window int

const (
	// restartWindow: the value was just fetched from the provider.
	restartWindow window = iota
	// keepWindow: a local edit of an already fetched value.
	keepWindow
	// staleWindow: a fallback or restored value that should be refreshed.
	staleWindow
)

// apply swaps next in as the current context, records the transition and
// publishes it. started is when the request that caused the change began,
// and cause names it in logs.
//
// An invalid context is rejected with a validation error and nothing
// changes. A context equal to the current one (timestamps aside) is not
// re-published; a fetched one still restarts the validity window.
func (e *Engine) apply(next usercontext.UserContext, cause string, started time.Time, w window) error {
	if err := next.Validate(); err != nil {
		return containment.New(containment.KindValidation, cause, err)
	}
	next = next.Clone()
	now := e.clock.Now()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	prev := e.current.Load()
	if sameState(prev, next) {
		if w == restartWindow {
			e.current.Store(next)
		}
		e.mu.Unlock()
		return nil
	}

	seq := e.seq.Next()
	switch w {
	case restartWindow:
		e.current.Store(next)
	case keepWindow:
		e.current.Swap(next)
	case staleWindow:
		e.current.Reset(next)
	}
	e.curSeq = seq
	tr := transition.New(&prev, next, now.Sub(started), e.cfg.SmoothThreshold, now)
	e.history.Add(tr)
	e.contexts.SetScope(next.Fingerprint())
	if next.Authenticated {
		e.contexts.Set(usercontext.IdentityKey(next.UserID()), next, next.Fingerprint())
	}
	e.mu.Unlock()

	e.values.Publish(next, seq)
	e.metrics.Transition(tr.Type)
	e.notifyTransition(tr)
	e.saveSnapshot(next, now)

	e.logger.Debug("context applied",
		"event", "context_applied",
		"seq", seq,
		"transition", string(tr.Type),
		"user", next.UserID(),
		"cause", cause)
	return nil
}

// applyFallback serves the anonymous fallback context. It cannot fail
// validation; the only error is ErrClosed.
func (e *Engine) applyFallback(cause string, started time.Time) {
	if err := e.apply(e.fallback(), cause, started, staleWindow); err != nil && !IsClosed(err) {
		e.logger.Error("fallback context rejected",
			"event", "fallback_failed",
			"cause", cause,
			"error", err)
	}
}

// sameState reports whether next only differs from prev in bookkeeping
// timestamps.
func sameState(prev, next usercontext.UserContext) bool {
	probe := next.Clone()
	probe.Session.LastUpdate = prev.Session.LastUpdate
	probe.LastActivity = prev.LastActivity
	return probe.Equal(prev)
}

// saveSnapshot persists c in the background. Failures are contained.
func (e *Engine) saveSnapshot(c usercontext.UserContext, at time.Time) {
	if e.snapshots == nil {
		return
	}
	e.runner.Do(func() {
		if err := e.snapshots.SaveSnapshot(e.ctx, c, at); err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.contain(containment.New(containment.KindPersistence, "save_snapshot", err))
		}
	})
}

// restoreSnapshot applies the saved context if it is authenticated and its
// session is still valid. The restored value is stale, so the first
// refresh replaces it.
func (e *Engine) restoreSnapshot(ctx context.Context) {
	if e.snapshots == nil {
		return
	}
	c, savedAt, ok, err := e.snapshots.LoadSnapshot(ctx)
	if err != nil {
		e.contain(containment.New(containment.KindPersistence, "load_snapshot", err))
		return
	}
	if !ok || !c.Authenticated {
		return
	}
	now := e.clock.Now()
	if verdict := e.policy.Check(c, now); verdict != session.Valid {
		e.logger.Info("discarding stale snapshot",
			"event", "snapshot_stale",
			"verdict", string(verdict),
			"saved_at", savedAt)
		return
	}
	if err := e.apply(c, "restore", now, staleWindow); err != nil {
		if !IsClosed(err) {
			e.containAs(containment.KindValidation, "restore", err)
		}
		return
	}
	e.logger.Info("restored context snapshot",
		"event", "snapshot_restored",
		"user", c.UserID(),
		"saved_at", savedAt)
}
