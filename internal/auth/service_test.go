package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eremconecta/portal/internal/model"
)

func signToken(t *testing.T, secret []byte, sub string, exp time.Time) string {
	t.Helper()
	claims := Claims{
		Email:        sub + "@erem.test",
		UserMetadata: map[string]any{"name": "Ana"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestBroadcaster_OrderAndUnsubscribe(t *testing.T) {
	var b Broadcaster
	var got []string

	unsubA := b.Subscribe(func(ev model.AuthEvent) { got = append(got, "a:"+string(ev.Kind)) })
	b.Subscribe(func(ev model.AuthEvent) { got = append(got, "b:"+string(ev.Kind)) })

	b.Emit(model.AuthEvent{Kind: model.EventSignedIn})
	unsubA()
	unsubA()
	b.Emit(model.AuthEvent{Kind: model.EventSignedOut})

	assert.Equal(t, []string{"a:SIGNED_IN", "b:SIGNED_IN", "b:SIGNED_OUT"}, got)
}

func TestBroadcaster_ListenerMayUnsubscribeDuringEmit(t *testing.T) {
	var b Broadcaster
	calls := 0
	var unsub func()
	unsub = b.Subscribe(func(model.AuthEvent) {
		calls++
		unsub()
	})
	b.Emit(model.AuthEvent{Kind: model.EventSignedIn})
	b.Emit(model.AuthEvent{Kind: model.EventSignedIn})
	assert.Equal(t, 1, calls)
}

func TestPrincipalFromToken(t *testing.T) {
	// Expired and signed with an unknown key: still readable.
	tok := signToken(t, []byte("other"), "u1", time.Now().Add(-time.Hour))

	p, err := PrincipalFromToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, "u1@erem.test", p.Email)
	assert.Equal(t, "Ana", p.Metadata["name"])

	_, err = PrincipalFromToken("not-a-jwt")
	assert.Error(t, err)
}

func TestVerifyToken(t *testing.T) {
	secret := []byte("project-secret")

	p, err := VerifyToken(signToken(t, secret, "u1", time.Now().Add(time.Hour)), secret)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)

	_, err = VerifyToken(signToken(t, []byte("wrong"), "u1", time.Now().Add(time.Hour)), secret)
	assert.Error(t, err)

	_, err = VerifyToken(signToken(t, []byte{}, "victim", time.Now().Add(time.Hour)), nil)
	assert.ErrorIs(t, err, ErrNoVerificationKey)
	_, err = VerifyToken(signToken(t, []byte{}, "victim", time.Now().Add(time.Hour)), []byte{})
	assert.ErrorIs(t, err, ErrNoVerificationKey)

	_, err = VerifyToken(signToken(t, secret, "u1", time.Now().Add(-time.Hour)), secret)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestError_Sentinels(t *testing.T) {
	err := decodeError(400, []byte(`{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, "Invalid login credentials", model.ErrorMessage(err, ""))

	err = decodeError(400, []byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = decodeError(422, []byte(`{"msg":"User already registered"}`))
	assert.ErrorIs(t, err, ErrUserExists)

	err = decodeError(502, nil)
	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "Bad Gateway", aerr.Message)
	assert.False(t, aerr.Rejected())

	err = decodeError(401, []byte(`{"msg":"JWT expired"}`))
	require.True(t, errors.As(err, &aerr))
	assert.True(t, aerr.Rejected())
	assert.NotErrorIs(t, err, ErrUserExists)
}
