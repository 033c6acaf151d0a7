package usercontext

import (
	"errors"
	"fmt"
	"slices"

	"golang.org/x/text/language"
)

// ValidationError reports a malformed context.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid context: %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the package invariants. It returns the first violation.
func (c UserContext) Validate() error {
	if !c.Authenticated {
		if c.User != nil {
			return &ValidationError{Field: "user", Reason: "must be nil when not authenticated"}
		}
		if c.Role != RoleNone {
			return &ValidationError{Field: "role", Reason: "must be empty when not authenticated"}
		}
	} else {
		if c.User == nil {
			return &ValidationError{Field: "user", Reason: "required when authenticated"}
		}
		if c.User.ID == "" {
			return &ValidationError{Field: "user.id", Reason: "required when authenticated"}
		}
		if c.Role == RoleNone {
			return &ValidationError{Field: "role", Reason: "required when authenticated"}
		}
		if c.Session.ID == "" {
			return &ValidationError{Field: "session.id", Reason: "required when authenticated"}
		}
	}

	if !ValidRole(c.Role) {
		return &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", c.Role)}
	}
	if !slices.Equal(c.Capabilities, CapabilitiesFor(c.Role)) {
		return &ValidationError{Field: "capabilities", Reason: fmt.Sprintf("do not match role %q", c.Role)}
	}
	return c.Preferences.Validate()
}

// Validate checks a preferences record.
func (p Preferences) Validate() error {
	if p.Language == "" {
		return &ValidationError{Field: "preferences.language", Reason: "required"}
	}
	tag, err := language.Parse(p.Language)
	if err != nil {
		return &ValidationError{Field: "preferences.language", Reason: err.Error()}
	}
	if tag.String() != p.Language {
		return &ValidationError{Field: "preferences.language", Reason: fmt.Sprintf("not canonical, want %q", tag.String())}
	}
	if !ValidThemes[p.Theme] {
		return &ValidationError{Field: "preferences.theme", Reason: fmt.Sprintf("unknown theme %q", p.Theme)}
	}
	return nil
}
