package engine

import (
	"errors"

	"github.com/roach88/usersync/internal/containment"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("engine: closed")

	// ErrRecovering is returned by mutations and provider refreshes while
	// recovery mode serves the fallback context.
	ErrRecovering = containment.ErrRecovering

	// ErrCircuitOpen is returned by provider refreshes while the circuit
	// breaker is open.
	ErrCircuitOpen = errors.New("engine: circuit breaker open")

	// ErrNoProvider is returned by New without an auth provider.
	ErrNoProvider = errors.New("engine: auth provider required")
)

// IsClosed reports whether err is ErrClosed.
func IsClosed(err error) bool { return errors.Is(err, ErrClosed) }

// IsRecovering reports whether err is ErrRecovering.
func IsRecovering(err error) bool { return errors.Is(err, ErrRecovering) }

// IsCircuitOpen reports whether err is ErrCircuitOpen.
func IsCircuitOpen(err error) bool { return errors.Is(err, ErrCircuitOpen) }
