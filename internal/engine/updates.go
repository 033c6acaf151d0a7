package engine

import (
	"errors"
	"time"

	"github.com/roach88/usersync/internal/containment"
	"github.com/roach88/usersync/internal/optimistic"
	"github.com/roach88/usersync/internal/usercontext"
)

// target adapts the engine to optimistic.Target without exposing an
// unchecked Apply on the facade.
type target struct{ e *Engine }

func (t target) Current() usercontext.UserContext { return t.e.Current() }

func (t target) Apply(next usercontext.UserContext, origin optimistic.Origin) error {
	w := keepWindow
	if next.UserID() != t.e.Current().UserID() {
		w = staleWindow
	}
	return t.e.apply(next, string(origin), t.e.clock.Now(), w)
}

// UpdatePreferences applies patch optimistically and saves the result for
// the signed-in user in the background. A successful save confirms the
// update; a failed one rolls it back at once and counts as a persistence
// failure. Changes made while anonymous (or without a preference store)
// have nothing to save and are confirmed immediately.
//
// It returns the update id, which stays usable with Confirm and Rollback
// until the save resolves it.
func (e *Engine) UpdatePreferences(patch usercontext.PreferencesPatch) (string, error) {
	id, err := e.BeginUpdate(optimistic.PreferenceChange, optimistic.Changes{Preferences: &patch}, 0)
	if err != nil {
		return "", err
	}

	cur := e.Current()
	if !cur.Authenticated || e.prefs == nil {
		if err := e.updates.Confirm(id); err != nil {
			return id, err
		}
		return id, nil
	}

	userID, prefs := cur.UserID(), cur.Preferences
	e.runner.Do(func() {
		saveErr := e.prefs.SavePreferences(e.ctx, userID, prefs)
		e.sched.Post("engine.preferences.saved", func() {
			e.resolveSave(id, userID, saveErr)
		})
	})
	return id, nil
}

func (e *Engine) resolveSave(id, userID string, saveErr error) {
	if saveErr == nil {
		if err := e.updates.Confirm(id); err != nil {
			e.logger.Debug("preference save landed after resolution",
				"event", "save_late",
				"update", id,
				"error", err)
		}
		return
	}

	e.contain(containment.New(containment.KindPersistence, "save_preferences", saveErr))
	outcome, err := e.updates.Rollback(id)
	if err != nil {
		e.logger.Debug("preference save failed after resolution",
			"event", "save_failed_late",
			"update", id,
			"error", err)
		return
	}
	e.logger.Warn("preference save failed, change reverted",
		"event", "save_failed",
		"update", id,
		"user", userID,
		"outcome", string(outcome),
		"error", saveErr)
}

// BeginUpdate applies a tentative change now and rolls it back after
// timeout (zero: the configured rollback timeout) unless confirmed.
// Suppressed in recovery mode. An invalid tentative context is contained as
// a validation failure and nothing changes.
func (e *Engine) BeginUpdate(kind optimistic.Kind, changes optimistic.Changes, timeout time.Duration) (string, error) {
	if e.isClosed() {
		return "", ErrClosed
	}
	if e.recovery.Active() {
		return "", ErrRecovering
	}
	id, err := e.updates.Begin(kind, changes, timeout)
	if err == nil {
		return id, nil
	}
	if usercontext.IsValidationError(err) || containment.IsValidation(err) {
		return "", e.containAs(containment.KindValidation, "begin_"+string(kind), err)
	}
	return "", err
}

// Confirm makes a tentative change permanent. Returns
// optimistic.ErrResolved if it was already confirmed or rolled back, and
// optimistic.ErrUnknownUpdate for ids never issued.
func (e *Engine) Confirm(id string) error {
	if e.isClosed() {
		return ErrClosed
	}
	return e.updates.Confirm(id)
}

// Rollback reverts a tentative change now. See optimistic.Manager.Rollback
// for the outcomes.
func (e *Engine) Rollback(id string) (optimistic.Outcome, error) {
	if e.isClosed() {
		return "", ErrClosed
	}
	return e.updates.Rollback(id)
}

// IsResolved reports whether err says the update already had its outcome.
func IsResolved(err error) bool {
	return errors.Is(err, optimistic.ErrResolved)
}
