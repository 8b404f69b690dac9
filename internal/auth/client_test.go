package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/eremconecta/portal/internal/crypto"
	"github.com/eremconecta/portal/internal/model"
)

var testSecret = []byte("gotrue-secret")

// fakeGoTrue serves the token, signup and logout endpoints.
type fakeGoTrue struct {
	t *testing.T

	mu         sync.Mutex
	refreshes  int
	logouts    int
	rejectNext bool
	downNext   bool
	expiresIn  int64
	lastBearer string
}

func (f *fakeGoTrue) tokenBody(sub string) map[string]any {
	exp := f.expiresIn
	if exp == 0 {
		exp = 3600
	}
	return map[string]any{
		"access_token":  signToken(f.t, testSecret, sub, time.Now().Add(time.Duration(exp)*time.Second)),
		"token_type":    "bearer",
		"expires_in":    exp,
		"refresh_token": fmt.Sprintf("refresh-%d", f.refreshes),
		"user":          map[string]any{"id": sub, "email": sub + "@erem.test"},
	}
}

func (f *fakeGoTrue) stats() (refreshes, logouts int, bearer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes, f.logouts, f.lastBearer
}

func (f *fakeGoTrue) configure(fn func(f *fakeGoTrue)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeGoTrue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBearer = r.Header.Get("Authorization")
	w.Header().Set("Content-Type", "application/json")

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	switch {
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "password":
		if body["password"] != "segredo1" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`)
			return
		}
		json.NewEncoder(w).Encode(f.tokenBody("u1"))
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "refresh_token":
		if f.downNext {
			f.downNext = false
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"msg":"upstream unavailable"}`)
			return
		}
		if f.rejectNext {
			f.rejectNext = false
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":400,"error_code":"refresh_token_not_found","msg":"Invalid Refresh Token"}`)
			return
		}
		f.refreshes++
		json.NewEncoder(w).Encode(f.tokenBody("u1"))
	case r.URL.Path == "/auth/v1/signup":
		if body["email"] == "taken@erem.test" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"code":422,"error_code":"user_already_exists","msg":"User already registered"}`)
			return
		}
		data, _ := body["data"].(map[string]any)
		json.NewEncoder(w).Encode(map[string]any{"id": "new-user", "email": body["email"], "user_metadata": data})
	case r.URL.Path == "/auth/v1/logout":
		f.logouts++
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, store SessionStore) (*Client, *fakeGoTrue) {
	t.Helper()
	fake := &fakeGoTrue{t: t}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	var opts []ClientOption
	if store != nil {
		opts = append(opts, WithSessionStore(store, "cli"))
	}
	c, err := NewClient(srv.URL, "anon", opts...)
	require.NoError(t, err)
	return c, fake
}

func TestClient_SignInEmitsAndPersists(t *testing.T) {
	store := NewDynamoStore(nil, "sessions", crypto.NewPlainEncryptor())
	c, _ := newTestClient(t, store)
	ctx := context.Background()

	var events []model.AuthEventKind
	c.OnSessionChange(func(ev model.AuthEvent) { events = append(events, ev.Kind) })

	s, err := c.SignInWithPassword(ctx, "u1@erem.test", "segredo1")
	require.NoError(t, err)
	assert.Equal(t, "u1", s.Principal.ID)
	assert.True(t, s.Valid())
	assert.Equal(t, []model.AuthEventKind{model.EventSignedIn}, events)

	got, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Same(t, s, got)

	tok, err := store.Load(ctx, "cli")
	require.NoError(t, err)
	assert.Equal(t, s.Token.AccessToken, tok.AccessToken)
	assert.Equal(t, "refresh-0", tok.RefreshToken)
}

func TestClient_InvalidCredentials(t *testing.T) {
	c, _ := newTestClient(t, nil)
	_, err := c.SignInWithPassword(context.Background(), "u1@erem.test", "errada")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	s, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestClient_RestoresPersistedSession(t *testing.T) {
	store := NewDynamoStore(nil, "sessions", crypto.NewPlainEncryptor())
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "cli", "u1", &oauth2.Token{
		AccessToken:  signToken(t, testSecret, "u1", time.Now().Add(time.Hour)),
		RefreshToken: "stored-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}))

	c, fake := newTestClient(t, store)
	s, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "u1", s.Principal.ID)
	assert.Equal(t, "u1@erem.test", s.Principal.Email)
	refreshes, _, _ := fake.stats()
	assert.Equal(t, 0, refreshes)
}

func TestClient_ExpiredSessionIsRefreshed(t *testing.T) {
	store := NewDynamoStore(nil, "sessions", crypto.NewPlainEncryptor())
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "cli", "u1", &oauth2.Token{
		AccessToken:  signToken(t, testSecret, "u1", time.Now().Add(-time.Minute)),
		RefreshToken: "stored-refresh",
		Expiry:       time.Now().Add(-time.Minute),
	}))

	c, fake := newTestClient(t, store)
	var events []model.AuthEventKind
	c.OnSessionChange(func(ev model.AuthEvent) { events = append(events, ev.Kind) })

	s, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, s.Valid())
	refreshes, _, _ := fake.stats()
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, []model.AuthEventKind{model.EventTokenRefreshed}, events)
}

func TestClient_RejectedRefreshSignsOut(t *testing.T) {
	store := NewDynamoStore(nil, "sessions", crypto.NewPlainEncryptor())
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "cli", "u1", &oauth2.Token{
		AccessToken:  signToken(t, testSecret, "u1", time.Now().Add(-time.Minute)),
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Minute),
	}))

	c, fake := newTestClient(t, store)
	fake.configure(func(f *fakeGoTrue) { f.rejectNext = true })

	s, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = store.Load(ctx, "cli")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestClient_UnavailableRefreshKeepsSession(t *testing.T) {
	store := NewDynamoStore(nil, "sessions", crypto.NewPlainEncryptor())
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "cli", "u1", &oauth2.Token{
		AccessToken:  signToken(t, testSecret, "u1", time.Now().Add(-time.Minute)),
		RefreshToken: "stored-refresh",
		Expiry:       time.Now().Add(-time.Minute),
	}))

	c, fake := newTestClient(t, store)
	fake.configure(func(f *fakeGoTrue) { f.downNext = true })
	var events []model.AuthEventKind
	c.OnSessionChange(func(ev model.AuthEvent) { events = append(events, ev.Kind) })

	s, err := c.GetSession(ctx)
	assert.Nil(t, s)
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, http.StatusServiceUnavailable, aerr.Status)
	assert.Equal(t, "upstream unavailable", model.ErrorMessage(err, "fallback"))
	assert.Empty(t, events)

	tok, err := store.Load(ctx, "cli")
	require.NoError(t, err)
	assert.Equal(t, "stored-refresh", tok.RefreshToken)

	// The next lookup retries and succeeds.
	s, err = c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, s.Valid())
	assert.Equal(t, []model.AuthEventKind{model.EventTokenRefreshed}, events)
}

func TestClient_RefreshWithoutSession(t *testing.T) {
	c, _ := newTestClient(t, nil)
	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = c.TokenSource().Token()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestClient_SignUp(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()

	p, err := c.SignUp(ctx, "nova@erem.test", "segredo1", map[string]any{"user_type": "student"})
	require.NoError(t, err)
	assert.Equal(t, "new-user", p.ID)
	assert.Equal(t, "student", p.Metadata["user_type"])

	s, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, s, "unconfirmed sign-up must not sign in")

	_, err = c.SignUp(ctx, "taken@erem.test", "segredo1", nil)
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestClient_SignOut(t *testing.T) {
	store := NewDynamoStore(nil, "sessions", crypto.NewPlainEncryptor())
	c, fake := newTestClient(t, store)
	ctx := context.Background()

	s, err := c.SignInWithPassword(ctx, "u1@erem.test", "segredo1")
	require.NoError(t, err)

	var last model.AuthEvent
	c.OnSessionChange(func(ev model.AuthEvent) { last = ev })

	require.NoError(t, c.SignOut(ctx))
	_, logouts, bearer := fake.stats()
	assert.Equal(t, 1, logouts)
	assert.Equal(t, "Bearer "+s.Token.AccessToken, bearer)
	assert.Equal(t, model.EventSignedOut, last.Kind)
	assert.Nil(t, last.Session)

	got, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	_, err = store.Load(ctx, "cli")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestClient_AutoRefresh(t *testing.T) {
	c, fake := newTestClient(t, nil)
	// Tokens expire inside the refresh margin, so every loop refreshes at once.
	fake.configure(func(f *fakeGoTrue) { f.expiresIn = 30 })

	_, err := c.SignInWithPassword(context.Background(), "u1@erem.test", "segredo1")
	require.NoError(t, err)

	refreshed := make(chan struct{}, 8)
	c.OnSessionChange(func(ev model.AuthEvent) {
		if ev.Kind != model.EventTokenRefreshed {
			return
		}
		select {
		case refreshed <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.AutoRefresh(ctx)
		close(done)
	}()

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("session was not refreshed")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("AutoRefresh did not stop")
	}
}
