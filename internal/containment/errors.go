package containment

import (
	"errors"
	"fmt"
)

// Kind is the failure taxonomy.
type Kind string

const (
	// KindValidation: a malformed context was rejected and replaced.
	KindValidation Kind = "validation"

	// KindSubscriber: an observer callback failed.
	KindSubscriber Kind = "subscriber"

	// KindRefresh: the auth collaborator call failed.
	KindRefresh Kind = "refresh"

	// KindCritical: initialization or another failure that enters recovery.
	KindCritical Kind = "critical"

	// KindPersistence: the preference or snapshot store failed.
	KindPersistence Kind = "persistence"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{KindValidation, KindSubscriber, KindRefresh, KindCritical, KindPersistence}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown error kind %q", s)
}

// ErrRecovering is returned by operations suppressed while recovery mode is
// active.
var ErrRecovering = errors.New("recovery mode active")

// Error is a contained failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err as a contained failure of kind raised by op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first contained failure in err's chain.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

func is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsValidation reports whether err is a contained validation failure.
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsSubscriber reports whether err is a contained subscriber failure.
func IsSubscriber(err error) bool { return is(err, KindSubscriber) }

// IsRefresh reports whether err is a contained refresh failure.
func IsRefresh(err error) bool { return is(err, KindRefresh) }

// IsCritical reports whether err is a contained critical failure.
func IsCritical(err error) bool { return is(err, KindCritical) }

// IsPersistence reports whether err is a contained persistence failure.
func IsPersistence(err error) bool { return is(err, KindPersistence) }
