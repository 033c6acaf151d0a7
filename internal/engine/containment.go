package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/usersync/internal/containment"
)

// ReportError feeds an external failure into containment. A critical
// failure enters recovery mode; every kind counts toward the breaker.
func (e *Engine) ReportError(kind containment.Kind, op string, err error) {
	if err == nil {
		err = errors.New("unspecified failure")
	}
	e.contain(containment.New(kind, op, err))
}

// contain logs and counts one failure. It must not be called with e.mu
// held: the breaker and recovery hooks take it.
func (e *Engine) contain(err *containment.Error) {
	e.metrics.Error(err.Kind)
	e.logger.Warn("contained failure",
		"event", "contained_error",
		"kind", string(err.Kind),
		"op", err.Op,
		"error", err.Err)
	if e.isClosed() {
		return
	}
	e.breaker.Record(err.Kind)
	if err.Kind == containment.KindCritical {
		e.recovery.Enter(err)
	}
}

// escalate raises a failure that was contained on a lower path to critical
// and enters recovery. A cause that already carries a classification was
// counted toward the breaker when it happened and is not counted again.
func (e *Engine) escalate(op string, cause error) *containment.Error {
	cerr := containment.New(containment.KindCritical, op, cause)
	var inner *containment.Error
	if !errors.As(cause, &inner) {
		e.contain(cerr)
		return cerr
	}
	e.metrics.Error(cerr.Kind)
	e.logger.Warn("contained failure escalated",
		"event", "contained_error",
		"kind", string(cerr.Kind),
		"cause_kind", string(inner.Kind),
		"op", op,
		"error", cause)
	if !e.isClosed() {
		e.recovery.Enter(cerr)
	}
	return cerr
}

// containAs contains err, keeping its own classification when it already
// carries one.
func (e *Engine) containAs(kind containment.Kind, op string, err error) *containment.Error {
	var cerr *containment.Error
	if !errors.As(err, &cerr) {
		cerr = containment.New(kind, op, err)
	}
	e.contain(cerr)
	return cerr
}

func (e *Engine) onBreakerOpen() {
	e.metrics.Breaker(true)
	e.suspendBackground()
}

func (e *Engine) onBreakerClose() {
	e.metrics.Breaker(false)
	e.armSessionTimer()
}

// onRecoveryEnter serves the fallback: pending updates are dropped without
// rollback, retries stop, and the update indicator stays on until exit.
func (e *Engine) onRecoveryEnter(cause error) {
	e.metrics.Recovery(true)
	e.updates.DiscardAll()
	e.mu.Lock()
	e.cancelRetryLocked()
	e.mu.Unlock()
	e.values.Hold(true)
	e.applyFallback("recovery", e.clock.Now())
}

// onRecoveryExit releases the indicator and makes one refresh attempt. A
// failure is critical again, so recovery re-enters with a fresh dwell.
func (e *Engine) onRecoveryExit() {
	e.metrics.Recovery(false)
	e.values.Hold(false)
	e.runner.Do(func() {
		if _, err := e.Refresh(e.ctx); err != nil && !IsClosed(err) {
			e.escalate("recovery_refresh", err)
		}
	})
}

// onSubscriberFailure counts a failed delivery and prunes subscribers that
// keep failing, within the subscription-pruning strategy's limits.
func (e *Engine) onSubscriberFailure(id string, err error) {
	e.contain(containment.New(containment.KindSubscriber, "deliver:"+id, err))

	limit := int64(e.cfg.SubscriberFailureLimit)
	failing := e.values.Failing(limit)
	if len(failing) == 0 {
		return
	}
	perr := e.pruning.Attempt(func() error {
		e.values.Prune(failing)
		if rest := e.values.Failing(limit); len(rest) > 0 {
			return fmt.Errorf("%d subscribers still failing", len(rest))
		}
		return nil
	})
	switch {
	case perr == nil:
	case containment.IsCoolingDown(perr):
		e.logger.Debug("subscription pruning cooling down",
			"event", "strategy_cooldown",
			"strategy", e.pruning.Name(),
			"error", perr)
	default:
		e.logger.Warn("subscription pruning failed",
			"event", "strategy_failed",
			"strategy", e.pruning.Name(),
			"error", perr)
	}
}
