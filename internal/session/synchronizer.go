// Package session keeps a consistent view of the signed-in principal and its profile.
//
// A Synchronizer owns one goroutine that applies every transition. Session lookups and
// profile fetches run concurrently and report back to it tagged with a request id; only
// the result of the most recently issued request is applied, whatever order results
// arrive in.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/eremconecta/portal/internal/model"
)

var (
	ErrAlreadyMounted = errors.New("session: synchronizer already mounted")
	ErrNotMounted     = errors.New("session: synchronizer not mounted")
)

const (
	profileErrorFallback = "Não foi possível carregar o perfil"
	sessionErrorFallback = "Não foi possível carregar a sessão"
)

// State is the synchronizer state.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	}
	return "unknown"
}

// Snapshot is the observable view. Principal is set only when authenticated, and Profile
// only alongside a Principal. Err is the last error as a human-readable message.
type Snapshot struct {
	State     State
	Principal *model.Principal
	Profile   *model.Profile
	Loading   bool
	Err       string
}

// AuthSource is the part of the authentication service the synchronizer observes.
type AuthSource interface {
	GetSession(ctx context.Context) (*model.Session, error)
	OnSessionChange(fn func(model.AuthEvent)) (unsubscribe func())
}

// ProfileLoader fetches the profile of a principal. A nil profile without error means
// the principal has not enrolled.
type ProfileLoader interface {
	Load(ctx context.Context, userID string) (*model.Profile, error)
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// Synchronizer relays session changes into (principal, profile) snapshots.
type Synchronizer struct {
	auth     AuthSource
	profiles ProfileLoader
	logger   *slog.Logger

	// mu guards the published snapshot and the lifecycle flags.
	mu        sync.RWMutex
	published Snapshot
	mounted   bool
	unmounted bool

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	stopOnce    sync.Once

	inboxMu sync.Mutex
	inbox   []any
	wake    chan struct{}

	subsMu sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int

	// Owned by the loop goroutine.
	st          Snapshot
	latest      uint64
	initialDone bool
	waiters     map[uint64][]chan struct{}
}

// New returns an unmounted synchronizer.
func New(auth AuthSource, profiles ProfileLoader, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		auth:     auth,
		profiles: profiles,
		logger:   slog.Default(),
		wake:     make(chan struct{}, 1),
		subs:     make(map[int]func(Snapshot)),
		waiters:  make(map[uint64][]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type sessionResult struct {
	id      uint64
	session *model.Session
	err     error
}

type profileResult struct {
	id      uint64
	userID  string
	profile *model.Profile
	err     error
}

type start struct{}

type authEvent struct {
	ev model.AuthEvent
}

type refreshRequest struct {
	done chan struct{}
}

// Mount starts the synchronizer: it subscribes to session changes and requests the
// current session. The synchronizer stops when ctx ends or Unmount is called.
func (s *Synchronizer) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return ErrAlreadyMounted
	}
	s.mounted = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.st = Snapshot{State: StateLoading, Loading: true}
	s.published = s.st
	s.mu.Unlock()

	go s.loop()
	s.post(start{})

	unsubscribe := s.auth.OnSessionChange(func(ev model.AuthEvent) {
		s.post(authEvent{ev: ev})
	})
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	stopped := s.unmounted
	s.mu.Unlock()
	if stopped {
		unsubscribe()
	}
	return nil
}

// Unmount unsubscribes from session changes and stops the synchronizer. Results that
// arrive afterwards are dropped. Safe to call more than once.
func (s *Synchronizer) Unmount() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.unmounted = true
		unsubscribe := s.unsubscribe
		cancel := s.cancel
		s.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		if cancel != nil {
			cancel()
		}
	})
}

// Snapshot returns the current view.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published
}

// Subscribe calls fn with every applied snapshot until the returned func is called.
// fn runs on the synchronizer goroutine and must not call Refresh.
func (s *Synchronizer) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.subsMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// Refresh re-fetches the profile of the signed-in principal and waits until the result
// is applied or superseded by a newer request. It does nothing unless authenticated.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.RLock()
	mounted, unmounted, lifetime := s.mounted, s.unmounted, s.ctx
	s.mu.RUnlock()
	if !mounted || unmounted {
		return ErrNotMounted
	}

	req := refreshRequest{done: make(chan struct{})}
	s.post(req)
	select {
	case <-req.done:
		return nil
	case <-lifetime.Done():
		return ErrNotMounted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues msg for the loop without blocking.
func (s *Synchronizer) post(msg any) {
	s.inboxMu.Lock()
	s.inbox = append(s.inbox, msg)
	s.inboxMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.Unmount()
			return
		case <-s.wake:
		}

		s.inboxMu.Lock()
		msgs := s.inbox
		s.inbox = nil
		s.inboxMu.Unlock()

		for _, msg := range msgs {
			if s.ctx.Err() != nil {
				s.Unmount()
				return
			}
			s.handle(msg)
		}
	}
}

func (s *Synchronizer) handle(msg any) {
	switch m := msg.(type) {
	case start:
		s.notify(s.st)
		s.lookupSession()
	case sessionResult:
		s.applySession(m)
	case profileResult:
		s.applyProfile(m)
	case authEvent:
		s.applyEvent(m.ev)
	case refreshRequest:
		if s.st.State != StateAuthenticated || s.st.Principal == nil {
			close(m.done)
			return
		}
		id := s.fetchProfile(s.st.Principal.ID)
		s.waiters[id] = append(s.waiters[id], m.done)
	}
}

// issue starts a new request generation. Waiters of older requests are released as
// superseded.
func (s *Synchronizer) issue() uint64 {
	s.latest++
	for id := range s.waiters {
		s.release(id)
	}
	return s.latest
}

func (s *Synchronizer) lookupSession() {
	id := s.issue()
	ctx := s.ctx
	go func() {
		sess, err := s.auth.GetSession(ctx)
		s.post(sessionResult{id: id, session: sess, err: err})
	}()
}

func (s *Synchronizer) fetchProfile(userID string) uint64 {
	id := s.issue()
	ctx := s.ctx
	go func() {
		p, err := s.profiles.Load(ctx, userID)
		s.post(profileResult{id: id, userID: userID, profile: p, err: err})
	}()
	return id
}

func (s *Synchronizer) applySession(m sessionResult) {
	if m.id != s.latest {
		s.logger.Debug("dropping superseded session lookup", "request", m.id, "latest", s.latest)
		return
	}
	if m.err != nil {
		s.logger.Warn("get session failed", "error", m.err)
		s.st.Err = model.ErrorMessage(m.err, sessionErrorFallback)
		s.signedOut()
		return
	}
	if m.session == nil {
		s.signedOut()
		return
	}
	s.signedIn(m.session.Principal)
}

func (s *Synchronizer) applyEvent(ev model.AuthEvent) {
	if ev.Session == nil {
		s.issue()
		s.signedOut()
		return
	}
	s.signedIn(ev.Session.Principal)
}

func (s *Synchronizer) signedIn(p model.Principal) {
	prev := s.st.Principal
	principal := p
	s.st.State = StateAuthenticated
	s.st.Principal = &principal
	if prev == nil || prev.ID != p.ID {
		s.st.Profile = nil
	}
	s.commit()
	s.fetchProfile(p.ID)
}

func (s *Synchronizer) signedOut() {
	s.st.State = StateAnonymous
	s.st.Principal = nil
	s.st.Profile = nil
	s.initialDone = true
	s.commit()
}

func (s *Synchronizer) applyProfile(m profileResult) {
	if m.id != s.latest {
		s.logger.Debug("dropping superseded profile fetch", "user_id", m.userID, "request", m.id, "latest", s.latest)
		return
	}
	defer s.release(m.id)
	if s.st.Principal == nil || s.st.Principal.ID != m.userID {
		return
	}
	if m.err != nil {
		s.logger.Warn("load profile failed", "user_id", m.userID, "error", m.err)
		s.st.Profile = nil
		s.st.Err = model.ErrorMessage(m.err, profileErrorFallback)
	} else {
		s.st.Profile = m.profile
		s.st.Err = ""
	}
	s.initialDone = true
	s.commit()
}

func (s *Synchronizer) release(id uint64) {
	for _, w := range s.waiters[id] {
		close(w)
	}
	delete(s.waiters, id)
}

// commit publishes the loop state unless the synchronizer was unmounted.
func (s *Synchronizer) commit() {
	s.st.Loading = !s.initialDone
	snap := s.st

	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return
	}
	s.published = snap
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Synchronizer) notify(snap Snapshot) {
	s.subsMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
