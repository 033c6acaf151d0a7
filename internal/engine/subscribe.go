package engine

import (
	"github.com/roach88/usersync/internal/broadcast"
	"github.com/roach88/usersync/internal/containment"
	"github.com/roach88/usersync/internal/transition"
	"github.com/roach88/usersync/internal/usercontext"
)

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

func noopUnsubscribe() {}

// Subscribe registers fn for context broadcasts under id. A second
// subscription with the same id replaces the first.
//
// fn gets the current context on the next tick when it is still fresh.
// Otherwise a refresh runs first and fn gets whatever context results, the
// fallback included, so a subscriber is never left without a value.
func (e *Engine) Subscribe(id string, fn func(usercontext.UserContext)) Unsubscribe {
	if e.isClosed() || fn == nil {
		return noopUnsubscribe
	}
	sub := e.values.Subscribe(id, fn)

	if cur, seq, fresh := e.freshSnapshot(); fresh {
		e.values.DeliverTo(sub, cur, seq)
		return sub.Cancel
	}

	e.runner.Do(func() {
		if _, err := e.Refresh(e.ctx); err != nil {
			e.logger.Debug("subscribe refresh failed, serving current context",
				"event", "subscribe_refresh_failed",
				"subscriber", id,
				"error", err)
		}
		cur, seq := e.snapshot()
		e.values.DeliverTo(sub, cur, seq)
	})
	return sub.Cancel
}

// SubscribeToUpdateIndicator registers fn for update indicator changes. The
// indicator is on while a multi-batch broadcast is in flight and for the
// whole of recovery mode; progress is the delivered fraction in [0, 1].
func (e *Engine) SubscribeToUpdateIndicator(id string, fn broadcast.IndicatorFunc) Unsubscribe {
	if e.isClosed() || fn == nil {
		return noopUnsubscribe
	}
	return e.values.SubscribeIndicator(id, fn).Cancel
}

// SubscribeToTransitions registers fn for every applied transition, in
// order. Transitions are not replayed: fn only sees changes applied after
// it subscribed.
func (e *Engine) SubscribeToTransitions(id string, fn func(transition.Transition)) Unsubscribe {
	if e.isClosed() || fn == nil {
		return noopUnsubscribe
	}
	return e.transitions.Add(id, fn).Cancel
}

func (e *Engine) notifyTransition(tr transition.Transition) {
	subs := e.transitions.Snapshot()
	if len(subs) == 0 {
		return
	}
	e.sched.Post("engine.transition", func() {
		for _, sub := range subs {
			if !sub.Active() {
				continue
			}
			snapshot := tr.Clone()
			if err := broadcast.Call(func() { sub.Fn(snapshot) }); err != nil {
				e.logger.Warn("transition subscriber failed",
					"event", "subscriber_panic",
					"subscriber", sub.ID,
					"error", err)
				e.contain(containment.New(containment.KindSubscriber, "transition:"+sub.ID, err))
			}
		}
	})
}

// freshSnapshot returns the current context and its sequence number, and
// whether the context is still within its validity window.
func (e *Engine) freshSnapshot() (usercontext.UserContext, uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, fresh := e.current.Get()
	return c.Clone(), e.curSeq, fresh
}
