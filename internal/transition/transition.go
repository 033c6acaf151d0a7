// Package transition labels changes of the user context for observers that
// care about what happened rather than the raw value.
//
// Classification is metadata only; nothing in the engine branches on it.
package transition

import (
	"time"

	"github.com/roach88/usersync/internal/usercontext"
)

// Type is the closed set of transition kinds.
type Type string

const (
	Login            Type = "login"
	Logout           Type = "logout"
	RoleChange       Type = "role_change"
	PreferenceUpdate Type = "preference_update"
	SessionRefresh   Type = "session_refresh"
)

// DefaultSmoothThreshold is the duration under which a transition counts as
// smooth.
const DefaultSmoothThreshold = 300 * time.Millisecond

// Transition describes one applied change of the current context.
type Transition struct {
	// From is nil for the first context the engine ever applies.
	From *usercontext.UserContext `json:"from,omitempty"`
	To   usercontext.UserContext  `json:"to"`
	Type Type                     `json:"type"`

	// Duration is the time between the request that caused the change and
	// its application.
	Duration time.Duration `json:"duration"`
	Smooth   bool          `json:"smooth"`
	At       time.Time     `json:"at"`
}

// Classify labels the change from -> to. The first matching rule wins:
//
//  1. no previous identity (from is nil, or from is anonymous and to is
//     authenticated) -> Login
//  2. from authenticated, to not -> Logout
//  3. both authenticated, role differs -> RoleChange
//  4. preferences differ -> PreferenceUpdate
//  5. otherwise -> SessionRefresh (session id changed or nothing notable did)
func Classify(from *usercontext.UserContext, to usercontext.UserContext) Type {
	if from == nil || (from.User == nil && to.Authenticated) {
		return Login
	}
	if from.Authenticated && !to.Authenticated {
		return Logout
	}
	if from.Authenticated && to.Authenticated && from.Role != to.Role {
		return RoleChange
	}
	if from.Preferences != to.Preferences {
		return PreferenceUpdate
	}
	return SessionRefresh
}

// New classifies and stamps a transition. smoothUnder is the smoothness
// threshold; zero means DefaultSmoothThreshold.
func New(from *usercontext.UserContext, to usercontext.UserContext, duration, smoothUnder time.Duration, at time.Time) Transition {
	if smoothUnder <= 0 {
		smoothUnder = DefaultSmoothThreshold
	}
	var prev *usercontext.UserContext
	if from != nil {
		c := from.Clone()
		prev = &c
	}
	return Transition{
		From:     prev,
		To:       to.Clone(),
		Type:     Classify(from, to),
		Duration: duration,
		Smooth:   duration < smoothUnder,
		At:       at,
	}
}

// Clone returns a deep copy.
func (t Transition) Clone() Transition {
	out := t
	if t.From != nil {
		c := t.From.Clone()
		out.From = &c
	}
	out.To = t.To.Clone()
	return out
}

// CanonicalMap renders the transition for traces. Contexts are reduced to the
// fields observers key on.
func (t Transition) CanonicalMap() map[string]any {
	m := map[string]any{
		"type":        string(t.Type),
		"to":          summary(t.To),
		"duration_ms": t.Duration.Milliseconds(),
		"smooth":      t.Smooth,
	}
	if t.From != nil {
		m["from"] = summary(*t.From)
	}
	return m
}

func summary(c usercontext.UserContext) map[string]any {
	return map[string]any{
		"user_id":       c.UserID(),
		"authenticated": c.Authenticated,
		"role":          string(c.Role),
	}
}
