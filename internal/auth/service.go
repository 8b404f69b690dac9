// Package auth talks to the authentication service: password sign-in, sign-up, sign-out,
// the current session and session-change notifications.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eremconecta/portal/internal/model"
)

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrUserExists         = errors.New("user already registered")
	ErrNoSession          = errors.New("no active session")
	ErrNoVerificationKey  = errors.New("no token verification key configured")
)

// Service is the authentication service as seen by the portal.
type Service interface {
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*model.Session, error)

	// OnSessionChange registers fn for session changes and returns its unsubscribe func.
	OnSessionChange(fn func(model.AuthEvent)) (unsubscribe func())

	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)

	// SignUp registers a principal with metadata. Depending on the project settings
	// the principal may need to confirm the email before signing in.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.Principal, error)

	SignOut(ctx context.Context) error
}

// Error is an error response from the authentication service.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"error_code,omitempty"`
	Message string `json:"msg,omitempty"`

	sentinel error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth: %s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("auth: %s (%d)", e.Message, e.Status)
}

func (e *Error) UserMessage() string { return e.Message }

func (e *Error) Unwrap() error { return e.sentinel }

// Rejected reports whether the service refused the request itself, as opposed to
// failing to answer it.
func (e *Error) Rejected() bool {
	return e.Status == http.StatusBadRequest || e.Status == http.StatusUnauthorized
}

// Broadcaster fans session changes out to listeners in registration order.
// The zero value is ready to use.
type Broadcaster struct {
	mu        sync.Mutex
	nextID    int
	listeners []listener
}

type listener struct {
	id int
	fn func(model.AuthEvent)
}

// Subscribe registers fn. The returned func removes it and is safe to call twice.
func (b *Broadcaster) Subscribe(fn func(model.AuthEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, l := range b.listeners {
				if l.id == id {
					b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit delivers ev to every listener registered at the time of the call.
func (b *Broadcaster) Emit(ev model.AuthEvent) {
	b.mu.Lock()
	fns := make([]func(model.AuthEvent), len(b.listeners))
	for i, l := range b.listeners {
		fns[i] = l.fn
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Claims are the access token claims the portal reads.
type Claims struct {
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// PrincipalFromToken rebuilds the principal from an access token without verifying its
// signature. Only use it on tokens received from the authentication service itself.
func PrincipalFromToken(accessToken string) (model.Principal, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return model.Principal{}, fmt.Errorf("parse access token: %w", err)
	}
	if claims.Subject == "" {
		return model.Principal{}, errors.New("access token has no subject")
	}
	return model.Principal{ID: claims.Subject, Email: claims.Email, Metadata: claims.UserMetadata}, nil
}

// VerifyToken validates an HS256 access token signed with secret and returns its principal.
// An empty secret verifies nothing.
func VerifyToken(accessToken string, secret []byte) (model.Principal, error) {
	if len(secret) == 0 {
		return model.Principal{}, ErrNoVerificationKey
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(accessToken, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Principal{}, err
	}
	if !token.Valid || claims.Subject == "" {
		return model.Principal{}, errors.New("invalid token")
	}
	return model.Principal{ID: claims.Subject, Email: claims.Email, Metadata: claims.UserMetadata}, nil
}
