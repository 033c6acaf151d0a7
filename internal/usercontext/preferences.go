package usercontext

import (
	"fmt"

	"golang.org/x/text/language"
)

// DefaultLanguage is used when no preference has been stored.
const DefaultLanguage = "en"

// DefaultPreferences returns the preferences of a user who never changed any.
func DefaultPreferences() Preferences {
	return Preferences{
		Language: DefaultLanguage,
		Theme:    ThemeSystem,
	}
}

// PreferencesPatch is a partial preferences change. Nil fields are left
// untouched by Apply.
type PreferencesPatch struct {
	Language      *string `json:"language,omitempty" yaml:"language,omitempty"`
	Theme         *Theme  `json:"theme,omitempty" yaml:"theme,omitempty"`
	HighContrast  *bool   `json:"high_contrast,omitempty" yaml:"high_contrast,omitempty"`
	LargeText     *bool   `json:"large_text,omitempty" yaml:"large_text,omitempty"`
	ReducedMotion *bool   `json:"reduced_motion,omitempty" yaml:"reduced_motion,omitempty"`
	ScreenReader  *bool   `json:"screen_reader,omitempty" yaml:"screen_reader,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p PreferencesPatch) Empty() bool {
	return p.Language == nil && p.Theme == nil && p.HighContrast == nil &&
		p.LargeText == nil && p.ReducedMotion == nil && p.ScreenReader == nil
}

// Apply returns base with the patch merged in. base is not modified.
func (p PreferencesPatch) Apply(base Preferences) Preferences {
	out := base
	if p.Language != nil {
		out.Language = *p.Language
	}
	if p.Theme != nil {
		out.Theme = *p.Theme
	}
	if p.HighContrast != nil {
		out.Accessibility.HighContrast = *p.HighContrast
	}
	if p.LargeText != nil {
		out.Accessibility.LargeText = *p.LargeText
	}
	if p.ReducedMotion != nil {
		out.Accessibility.ReducedMotion = *p.ReducedMotion
	}
	if p.ScreenReader != nil {
		out.Accessibility.ScreenReader = *p.ScreenReader
	}
	return out
}

// Normalize canonicalises the language tag ("EN-us" becomes "en-US") and
// fills empty fields with defaults. Unparseable tags are an error.
func (p Preferences) Normalize() (Preferences, error) {
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
	tag, err := language.Parse(p.Language)
	if err != nil {
		return p, &ValidationError{Field: "preferences.language", Reason: fmt.Sprintf("%q: %v", p.Language, err)}
	}
	p.Language = tag.String()
	if p.Theme == "" {
		p.Theme = ThemeSystem
	}
	return p, nil
}
