package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/eremconecta/portal/internal/model"
)

const memoryTokenTTL = time.Hour

type memoryUser struct {
	principal model.Principal
	hash      []byte
}

// Memory is an in-process authentication service for dev mode and tests. Access tokens
// are HS256 JWTs signed with the configured secret, so they verify like real ones.
type Memory struct {
	secret []byte
	now    func() time.Time
	events Broadcaster

	// AutoConfirm signs new principals in on sign-up.
	AutoConfirm bool

	mu      sync.Mutex
	users   map[string]memoryUser
	session *model.Session
}

// NewMemory returns an empty service signing tokens with secret.
func NewMemory(secret []byte) *Memory {
	return &Memory{
		secret: secret,
		now:    time.Now,
		users:  make(map[string]memoryUser),
	}
}

func (m *Memory) GetSession(ctx context.Context) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, nil
}

func (m *Memory) OnSessionChange(fn func(model.AuthEvent)) func() {
	return m.events.Subscribe(fn)
}

func (m *Memory) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(password) < 6 {
		return nil, &Error{Status: http.StatusUnprocessableEntity, Code: "weak_password", Message: "Password should be at least 6 characters."}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	m.mu.Lock()
	if _, ok := m.users[email]; ok {
		m.mu.Unlock()
		return nil, &Error{Status: http.StatusUnprocessableEntity, Code: "user_already_exists", Message: "User already registered", sentinel: ErrUserExists}
	}
	p := model.Principal{ID: uuid.NewString(), Email: email, Metadata: metadata}
	m.users[email] = memoryUser{principal: p, hash: hash}
	var s *model.Session
	if m.AutoConfirm {
		s, err = m.issueLocked(p)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	m.mu.Unlock()

	if s != nil {
		m.events.Emit(model.AuthEvent{Kind: model.EventSignedIn, Session: s})
	}
	return &p, nil
}

func (m *Memory) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	u, ok := m.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok || bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		m.mu.Unlock()
		return nil, &Error{Status: http.StatusBadRequest, Code: "invalid_credentials", Message: "Invalid login credentials", sentinel: ErrInvalidCredentials}
	}
	s, err := m.issueLocked(u.principal)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m.events.Emit(model.AuthEvent{Kind: model.EventSignedIn, Session: s})
	return s, nil
}

func (m *Memory) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	m.events.Emit(model.AuthEvent{Kind: model.EventSignedOut})
	return nil
}

// UpdateMetadata replaces the signed-in principal's metadata and emits USER_UPDATED.
func (m *Memory) UpdateMetadata(ctx context.Context, metadata map[string]any) (*model.Principal, error) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	p := m.session.Principal
	p.Metadata = metadata
	u := m.users[p.Email]
	u.principal = p
	m.users[p.Email] = u
	s, err := m.issueLocked(p)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m.events.Emit(model.AuthEvent{Kind: model.EventUserUpdated, Session: s})
	return &p, nil
}

func (m *Memory) issueLocked(p model.Principal) (*model.Session, error) {
	now := m.now()
	expiry := now.Add(memoryTokenTTL)
	claims := Claims{
		Email:        p.Email,
		Role:         "authenticated",
		UserMetadata: p.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	s := &model.Session{
		Token: &oauth2.Token{
			AccessToken:  signed,
			TokenType:    "Bearer",
			RefreshToken: uuid.NewString(),
			Expiry:       expiry,
		},
		Principal: p,
	}
	m.session = s
	return s, nil
}
