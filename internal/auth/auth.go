// Package auth is the boundary to authentication collaborators.
//
// The engine never talks to an identity provider directly. It asks a
// Provider for the raw current identity and derives everything else (role
// capabilities, session metadata, preferences) itself.
package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/usersync/internal/usercontext"
)

// ErrUnavailable is returned by providers that cannot answer right now.
var ErrUnavailable = errors.New("auth: provider unavailable")

// Identity is the raw value an auth collaborator supplies.
type Identity struct {
	ID          string           `json:"id" yaml:"id"`
	Email       string           `json:"email,omitempty" yaml:"email,omitempty"`
	DisplayName string           `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Role        usercontext.Role `json:"role" yaml:"role"`
}

// User returns the identity part of the context.
func (i Identity) User() usercontext.User {
	return usercontext.User{ID: i.ID, Email: i.Email, DisplayName: i.DisplayName}
}

// Provider answers "who is signed in". A nil identity with a nil error
// means nobody is.
type Provider interface {
	CurrentUser(ctx context.Context) (*Identity, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (*Identity, error)

// CurrentUser calls f.
func (f ProviderFunc) CurrentUser(ctx context.Context) (*Identity, error) {
	return f(ctx)
}

// Static is a settable Provider for tests, the harness and the CLI. The
// zero value reports nobody signed in.
type Static struct {
	mu       sync.Mutex
	identity *Identity
	err      error
	calls    int
}

// NewStatic creates a provider returning identity.
func NewStatic(identity *Identity) *Static {
	s := &Static{}
	s.Set(identity)
	return s
}

// Set replaces the identity and clears any failure.
func (s *Static) Set(identity *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity != nil {
		cp := *identity
		identity = &cp
	}
	s.identity = identity
	s.err = nil
}

// Fail makes every call return err until the next Set or Fail(nil).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns how many times CurrentUser ran.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// CurrentUser returns the configured identity or failure.
func (s *Static) CurrentUser(ctx context.Context) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.identity == nil {
		return nil, nil
	}
	cp := *s.identity
	return &cp, nil
}
