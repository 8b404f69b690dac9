package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eremconecta/portal/internal/model"
)

func TestMemory_SignUpAndSignIn(t *testing.T) {
	m := NewMemory(testSecret)
	ctx := context.Background()

	var events []model.AuthEventKind
	m.OnSessionChange(func(ev model.AuthEvent) { events = append(events, ev.Kind) })

	p, err := m.SignUp(ctx, "Ana@Erem.test", "segredo1", map[string]any{"name": "Ana"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "ana@erem.test", p.Email)

	s, err := m.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = m.SignUp(ctx, "ana@erem.test", "outra123", nil)
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = m.SignInWithPassword(ctx, "ana@erem.test", "errada")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	s, err = m.SignInWithPassword(ctx, "ana@erem.test", "segredo1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, s.Principal.ID)

	verified, err := VerifyToken(s.Token.AccessToken, testSecret)
	require.NoError(t, err)
	assert.Equal(t, p.ID, verified.ID)
	assert.Equal(t, "Ana", verified.Metadata["name"])

	require.NoError(t, m.SignOut(ctx))
	s, err = m.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	assert.Equal(t, []model.AuthEventKind{model.EventSignedIn, model.EventSignedOut}, events)
}

func TestMemory_AutoConfirmAndUpdate(t *testing.T) {
	m := NewMemory(testSecret)
	m.AutoConfirm = true
	ctx := context.Background()

	var events []model.AuthEvent
	m.OnSessionChange(func(ev model.AuthEvent) { events = append(events, ev) })

	_, err := m.UpdateMetadata(ctx, nil)
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = m.SignUp(ctx, "bia@erem.test", "segredo1", nil)
	require.NoError(t, err)
	s, err := m.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)

	p, err := m.UpdateMetadata(ctx, map[string]any{"name": "Bia"})
	require.NoError(t, err)
	assert.Equal(t, "Bia", p.Metadata["name"])

	require.Len(t, events, 2)
	assert.Equal(t, model.EventSignedIn, events[0].Kind)
	assert.Equal(t, model.EventUserUpdated, events[1].Kind)
	assert.Equal(t, "Bia", events[1].Session.Principal.Metadata["name"])
}

func TestMemory_RejectsShortPassword(t *testing.T) {
	m := NewMemory(testSecret)
	_, err := m.SignUp(context.Background(), "c@erem.test", "123", nil)
	assert.Error(t, err)
}
