// Package session decides whether a user context still has a fresh session.
//
// The validator is pure: it reads the context and a clock reading and
// reports a verdict. What to do with a stale session (usually clearing to
// the anonymous context) is the caller's business.
package session

import (
	"time"

	"github.com/roach88/usersync/internal/usercontext"
)

// Default limits.
const (
	DefaultSessionDuration = 24 * time.Hour
	DefaultActivityTimeout = 30 * time.Minute
)

// Verdict is the outcome of a session check.
type Verdict string

const (
	// Valid means the session is authenticated and fresh.
	Valid Verdict = "valid"

	// NoSession means the context is anonymous. There is nothing to expire.
	NoSession Verdict = "no_session"

	// Expired means the session outlived SessionDuration since login.
	Expired Verdict = "expired"

	// IdleTimeout means no activity was recorded for ActivityTimeout.
	IdleTimeout Verdict = "idle_timeout"
)

// Policy holds the two session limits.
type Policy struct {
	SessionDuration time.Duration
	ActivityTimeout time.Duration
}

// DefaultPolicy returns the 24h / 30min policy.
func DefaultPolicy() Policy {
	return Policy{
		SessionDuration: DefaultSessionDuration,
		ActivityTimeout: DefaultActivityTimeout,
	}
}

// Check classifies the session of c at now.
//
// Expiry is checked before idleness, so a session that is both expired and
// idle reports Expired. Both limits are strict: a session exactly
// SessionDuration old is still valid.
func (p Policy) Check(c usercontext.UserContext, now time.Time) Verdict {
	if !c.Authenticated {
		return NoSession
	}
	if c.Session.Expired {
		return Expired
	}
	if now.Sub(c.Session.LoginTime) > p.SessionDuration {
		return Expired
	}
	if now.Sub(c.LastActivity) > p.ActivityTimeout {
		return IdleTimeout
	}
	return Valid
}

// IsValid reports whether c has a fresh authenticated session at now.
// Anonymous contexts are never valid.
func (p Policy) IsValid(c usercontext.UserContext, now time.Time) bool {
	return p.Check(c, now) == Valid
}
