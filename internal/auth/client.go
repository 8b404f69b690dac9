package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/eremconecta/portal/internal/model"
)

const (
	authPath = "/auth/v1/"

	// RefreshMargin is how long before expiry AutoRefresh rotates the tokens.
	RefreshMargin = 60 * time.Second

	// DefaultSessionKey is the SessionStore key used when none is configured.
	DefaultSessionKey = "default"
)

// Client is the authentication service over HTTP (GoTrue).
type Client struct {
	baseURL  *url.URL
	anonKey  string
	http     *http.Client
	store    SessionStore
	storeKey string
	logger   *slog.Logger
	now      func() time.Time
	events   Broadcaster

	mu       sync.Mutex
	session  *model.Session
	restored bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithSessionStore persists the session in store under key.
func WithSessionStore(store SessionStore, key string) ClientOption {
	return func(c *Client) {
		c.store = store
		if key != "" {
			c.storeKey = key
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// NewClient returns a client for the project at baseURL.
func NewClient(baseURL, anonKey string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		baseURL:  u,
		anonKey:  anonKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		storeKey: DefaultSessionKey,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// tokenResponse is the body of the token and sign-up endpoints. Sign-up returns the bare
// user instead when email confirmation is required.
type tokenResponse struct {
	AccessToken  string           `json:"access_token"`
	TokenType    string           `json:"token_type"`
	ExpiresIn    int64            `json:"expires_in"`
	ExpiresAt    int64            `json:"expires_at"`
	RefreshToken string           `json:"refresh_token"`
	User         *model.Principal `json:"user"`

	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata"`
}

func (r *tokenResponse) session(now time.Time) *model.Session {
	if r.AccessToken == "" || r.User == nil {
		return nil
	}
	expiry := now.Add(time.Duration(r.ExpiresIn) * time.Second)
	if r.ExpiresAt > 0 {
		expiry = time.Unix(r.ExpiresAt, 0)
	}
	tokenType := r.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &model.Session{
		Token: &oauth2.Token{
			AccessToken:  r.AccessToken,
			TokenType:    tokenType,
			RefreshToken: r.RefreshToken,
			Expiry:       expiry,
		},
		Principal: *r.User,
	}
}

func (c *Client) OnSessionChange(fn func(model.AuthEvent)) func() {
	return c.events.Subscribe(fn)
}

// GetSession returns the current session. On first use the persisted session is restored;
// an expired session is refreshed, and a refresh the service rejects signs the client out.
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	c.mu.Lock()
	if !c.restored {
		c.restored = true
		c.restoreLocked(ctx)
	}
	s := c.session
	if s == nil || s.Valid() {
		c.mu.Unlock()
		return s, nil
	}

	refreshed, err := c.refreshLocked(ctx, s.Token.RefreshToken)
	if err != nil {
		var aerr *Error
		if !errors.As(err, &aerr) || !aerr.Rejected() {
			c.mu.Unlock()
			return nil, err
		}
		c.logger.Warn("stored session rejected", "user_id", s.Principal.ID, "error", err)
		c.clearLocked(ctx)
		c.mu.Unlock()
		c.events.Emit(model.AuthEvent{Kind: model.EventSignedOut})
		return nil, nil
	}
	c.mu.Unlock()
	c.events.Emit(model.AuthEvent{Kind: model.EventTokenRefreshed, Session: refreshed})
	return refreshed, nil
}

func (c *Client) restoreLocked(ctx context.Context) {
	if c.store == nil || c.session != nil {
		return
	}
	tok, err := c.store.Load(ctx, c.storeKey)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			c.logger.Warn("load stored session", "error", err)
		}
		return
	}
	principal, err := PrincipalFromToken(tok.AccessToken)
	if err != nil {
		c.logger.Warn("stored access token unreadable", "error", err)
		return
	}
	c.session = &model.Session{Token: tok, Principal: principal}
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	var resp tokenResponse
	err := c.post(ctx, "token", url.Values{"grant_type": {"password"}}, "", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	s := resp.session(c.now())
	if s == nil {
		return nil, errors.New("auth: token response without session")
	}

	c.mu.Lock()
	c.restored = true
	c.setLocked(ctx, s)
	c.mu.Unlock()

	c.events.Emit(model.AuthEvent{Kind: model.EventSignedIn, Session: s})
	return s, nil
}

func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.Principal, error) {
	var resp tokenResponse
	err := c.post(ctx, "signup", nil, "", map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if s := resp.session(c.now()); s != nil {
		c.mu.Lock()
		c.restored = true
		c.setLocked(ctx, s)
		c.mu.Unlock()
		c.events.Emit(model.AuthEvent{Kind: model.EventSignedIn, Session: s})
		p := s.Principal
		return &p, nil
	}
	if resp.User != nil {
		return resp.User, nil
	}
	if resp.ID == "" {
		return nil, nil
	}
	return &model.Principal{ID: resp.ID, Email: resp.Email, Metadata: resp.Metadata}, nil
}

// SignOut revokes the session on the service and forgets it locally. A session the
// service no longer knows still signs out.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s != nil && s.Token != nil {
		err := c.post(ctx, "logout", nil, s.Token.AccessToken, nil, nil)
		var aerr *Error
		if err != nil && !(errors.As(err, &aerr) && (aerr.Status == http.StatusUnauthorized || aerr.Status == http.StatusForbidden || aerr.Status == http.StatusNotFound)) {
			return err
		}
	}

	c.mu.Lock()
	c.restored = true
	c.clearLocked(ctx)
	c.mu.Unlock()

	c.events.Emit(model.AuthEvent{Kind: model.EventSignedOut})
	return nil
}

// Refresh rotates the session tokens.
func (c *Client) Refresh(ctx context.Context) (*model.Session, error) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return nil, ErrNoSession
	}
	s, err := c.refreshLocked(ctx, c.session.Token.RefreshToken)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.events.Emit(model.AuthEvent{Kind: model.EventTokenRefreshed, Session: s})
	return s, nil
}

func (c *Client) refreshLocked(ctx context.Context, refreshToken string) (*model.Session, error) {
	var resp tokenResponse
	err := c.post(ctx, "token", url.Values{"grant_type": {"refresh_token"}}, "", map[string]string{
		"refresh_token": refreshToken,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	s := resp.session(c.now())
	if s == nil {
		return nil, errors.New("auth: refresh response without session")
	}
	c.setLocked(ctx, s)
	return s, nil
}

// AutoRefresh refreshes the session RefreshMargin before it expires until ctx is done.
func (c *Client) AutoRefresh(ctx context.Context) {
	const idle = 30 * time.Second
	for {
		wait := idle
		c.mu.Lock()
		if c.session != nil && c.session.Token != nil {
			wait = c.session.Token.Expiry.Sub(c.now()) - RefreshMargin
		}
		c.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		c.mu.Lock()
		has := c.session != nil
		c.mu.Unlock()
		if !has {
			continue
		}
		if _, err := c.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("auto refresh failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(idle):
			}
		}
	}
}

// TokenSource exposes the current access token, refreshing it when expired.
func (c *Client) TokenSource() oauth2.TokenSource {
	return sessionTokenSource{c}
}

type sessionTokenSource struct{ c *Client }

func (ts sessionTokenSource) Token() (*oauth2.Token, error) {
	s, err := ts.c.GetSession(context.Background())
	if err != nil {
		return nil, err
	}
	if s == nil || s.Token == nil {
		return nil, ErrNoSession
	}
	return s.Token, nil
}

func (c *Client) setLocked(ctx context.Context, s *model.Session) {
	c.session = s
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, c.storeKey, s.Principal.ID, s.Token); err != nil {
		c.logger.Warn("persist session", "user_id", s.Principal.ID, "error", err)
	}
}

func (c *Client) clearLocked(ctx context.Context) {
	c.session = nil
	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, c.storeKey); err != nil {
		c.logger.Warn("delete stored session", "error", err)
	}
}

func (c *Client) post(ctx context.Context, endpoint string, params url.Values, bearer string, payload, dest any) error {
	u := c.baseURL.JoinPath(authPath, endpoint)
	u.RawQuery = params.Encode()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if dest == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	var body struct {
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(raw, &body)

	e := &Error{Status: status, Code: body.ErrorCode}
	for _, m := range []string{body.Msg, body.Message, body.ErrorDescription, body.Error} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	if e.Code == "" {
		e.Code = body.Error
	}

	lower := strings.ToLower(e.Message)
	switch {
	case e.Code == "invalid_credentials" || (e.Code == "invalid_grant" && strings.Contains(lower, "credentials")):
		e.sentinel = ErrInvalidCredentials
	case e.Code == "user_already_exists" || e.Code == "email_exists" || strings.Contains(lower, "already registered"):
		e.sentinel = ErrUserExists
	}
	return e
}
