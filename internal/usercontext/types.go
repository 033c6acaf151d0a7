package usercontext

import "time"

// UserContext is the distributed snapshot of the current actor.
type UserContext struct {
	// User is nil for the anonymous context.
	User *User `json:"user,omitempty" cbor:"user,omitempty"`

	Authenticated bool         `json:"authenticated" cbor:"authenticated"`
	Role          Role         `json:"role,omitempty" cbor:"role,omitempty"`
	Capabilities  []Capability `json:"capabilities" cbor:"capabilities"`
	Preferences   Preferences  `json:"preferences" cbor:"preferences"`
	Session       SessionMeta  `json:"session" cbor:"session"`
	LastActivity  time.Time    `json:"last_activity" cbor:"last_activity"`
}

// User is the identity supplied by an auth collaborator.
type User struct {
	ID          string `json:"id" cbor:"id"`
	Email       string `json:"email,omitempty" cbor:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty" cbor:"display_name,omitempty"`
}

// SessionMeta describes the session a context belongs to.
type SessionMeta struct {
	ID         string    `json:"id,omitempty" cbor:"id,omitempty"`
	LoginTime  time.Time `json:"login_time" cbor:"login_time"`
	LastUpdate time.Time `json:"last_update" cbor:"last_update"`
	Expired    bool      `json:"expired" cbor:"expired"`
}

// Preferences is the user-editable part of the context.
type Preferences struct {
	Language      string        `json:"language" cbor:"language"`
	Theme         Theme         `json:"theme" cbor:"theme"`
	Accessibility Accessibility `json:"accessibility" cbor:"accessibility"`
}

// Accessibility flags.
type Accessibility struct {
	HighContrast  bool `json:"high_contrast" cbor:"high_contrast"`
	LargeText     bool `json:"large_text" cbor:"large_text"`
	ReducedMotion bool `json:"reduced_motion" cbor:"reduced_motion"`
	ScreenReader  bool `json:"screen_reader" cbor:"screen_reader"`
}

// Theme is the colour scheme preference.
type Theme string

const (
	ThemeSystem Theme = "system"
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
)

// ValidThemes lists the accepted themes.
var ValidThemes = map[Theme]bool{
	ThemeSystem: true,
	ThemeLight:  true,
	ThemeDark:   true,
}
