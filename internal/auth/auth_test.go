package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/usersync/internal/usercontext"
)

func TestStatic_ZeroValueIsAnonymous(t *testing.T) {
	var s Static
	id, err := s.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, id)
	assert.Equal(t, 1, s.Calls())
}

func TestStatic_SetCopies(t *testing.T) {
	in := &Identity{ID: "u-1", Role: usercontext.RoleAgent}
	s := NewStatic(in)
	in.ID = "mutated"

	got, err := s.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.ID)

	got.Role = usercontext.RoleAdmin
	again, _ := s.CurrentUser(context.Background())
	assert.Equal(t, usercontext.RoleAgent, again.Role)
}

func TestStatic_Fail(t *testing.T) {
	s := NewStatic(&Identity{ID: "u-1", Role: usercontext.RoleUser})
	s.Fail(ErrUnavailable)

	_, err := s.CurrentUser(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	s.Set(nil)
	id, err := s.CurrentUser(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, id)
}

func TestStatic_HonoursContext(t *testing.T) {
	s := NewStatic(&Identity{ID: "u-1", Role: usercontext.RoleUser})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CurrentUser(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Calls())
}

func TestProviderFunc(t *testing.T) {
	boom := errors.New("boom")
	var p Provider = ProviderFunc(func(context.Context) (*Identity, error) { return nil, boom })
	_, err := p.CurrentUser(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestIdentity_User(t *testing.T) {
	id := Identity{ID: "u-1", Email: "a@example.com", DisplayName: "A", Role: usercontext.RoleAdmin}
	assert.Equal(t, usercontext.User{ID: "u-1", Email: "a@example.com", DisplayName: "A"}, id.User())
}
