package usercontext

import (
	"slices"
	"time"

	"github.com/roach88/usersync/internal/canon"
)

// Anonymous returns the safe fallback context: nobody is signed in, only
// public capabilities, the given preferences.
func Anonymous(prefs Preferences) UserContext {
	return UserContext{
		Authenticated: false,
		Role:          RoleNone,
		Capabilities:  CapabilitiesFor(RoleNone),
		Preferences:   prefs,
	}
}

// Login builds the context of a freshly started session.
func Login(user User, role Role, sessionID string, prefs Preferences, now time.Time) UserContext {
	u := user
	return UserContext{
		User:          &u,
		Authenticated: true,
		Role:          role,
		Capabilities:  CapabilitiesFor(role),
		Preferences:   prefs,
		Session: SessionMeta{
			ID:         sessionID,
			LoginTime:  now,
			LastUpdate: now,
		},
		LastActivity: now,
	}
}

// UserID returns the user's id, or "" for the anonymous context.
func (c UserContext) UserID() string {
	if c.User == nil {
		return ""
	}
	return c.User.ID
}

// Clone returns a deep copy. Mutating the copy never affects c.
func (c UserContext) Clone() UserContext {
	out := c
	if c.User != nil {
		u := *c.User
		out.User = &u
	}
	out.Capabilities = slices.Clone(c.Capabilities)
	return out
}

// WithRole returns a copy with the role and its capabilities replaced.
func (c UserContext) WithRole(r Role) UserContext {
	out := c.Clone()
	out.Role = r
	out.Capabilities = CapabilitiesFor(r)
	return out
}

// Equal is deep equality. Times compare with time.Time.Equal so values that
// went through a serialisation round trip still compare equal.
func (c UserContext) Equal(o UserContext) bool {
	if (c.User == nil) != (o.User == nil) {
		return false
	}
	if c.User != nil && *c.User != *o.User {
		return false
	}
	return c.Authenticated == o.Authenticated &&
		c.Role == o.Role &&
		slices.Equal(c.Capabilities, o.Capabilities) &&
		c.Preferences == o.Preferences &&
		c.Session.ID == o.Session.ID &&
		c.Session.Expired == o.Session.Expired &&
		c.Session.LoginTime.Equal(o.Session.LoginTime) &&
		c.Session.LastUpdate.Equal(o.Session.LastUpdate) &&
		c.LastActivity.Equal(o.LastActivity)
}

// CanonicalMap renders the context as a canonical-JSON-ready map. Times are
// Unix milliseconds.
func (c UserContext) CanonicalMap() map[string]any {
	caps := make([]any, len(c.Capabilities))
	for i, cp := range c.Capabilities {
		caps[i] = string(cp)
	}
	m := map[string]any{
		"authenticated": c.Authenticated,
		"role":          string(c.Role),
		"capabilities":  caps,
		"preferences":   c.Preferences.CanonicalMap(),
		"session": map[string]any{
			"id":          c.Session.ID,
			"login_time":  c.Session.LoginTime.UnixMilli(),
			"last_update": c.Session.LastUpdate.UnixMilli(),
			"expired":     c.Session.Expired,
		},
		"last_activity": c.LastActivity.UnixMilli(),
	}
	if c.User != nil {
		m["user"] = map[string]any{
			"id":           c.User.ID,
			"email":        c.User.Email,
			"display_name": c.User.DisplayName,
		}
	}
	return m
}

// CanonicalMap renders the preferences as a canonical-JSON-ready map.
func (p Preferences) CanonicalMap() map[string]any {
	return map[string]any{
		"language": p.Language,
		"theme":    string(p.Theme),
		"accessibility": map[string]any{
			"high_contrast":  p.Accessibility.HighContrast,
			"large_text":     p.Accessibility.LargeText,
			"reduced_motion": p.Accessibility.ReducedMotion,
			"screen_reader":  p.Accessibility.ScreenReader,
		},
	}
}

// EstimateSize approximates the in-memory footprint of c as the length of
// its canonical JSON encoding. It is an estimate, not an exact count.
func EstimateSize(c UserContext) int64 {
	b, err := canon.Marshal(c.CanonicalMap())
	if err != nil {
		return 0
	}
	return int64(len(b))
}
