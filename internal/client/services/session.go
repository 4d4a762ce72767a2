// Package services contains application services for the donorsync client.
// This file defines the session manager: login, register, token refresh,
// logout and start-up restore, and the session lifecycle they drive.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/donorsync/internal/client/auth"
	"github.com/dmitrijs2005/donorsync/internal/client/client"
	"github.com/dmitrijs2005/donorsync/internal/client/metrics"
	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"github.com/dmitrijs2005/donorsync/internal/client/repositories/tokens"
	"github.com/dmitrijs2005/donorsync/internal/logging"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidTransition    = errors.New("invalid session transition")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrNoRefreshToken       = errors.New("no refresh token stored")
)

// Executor performs API requests. *client.HTTPClient implements it.
type Executor interface {
	Execute(ctx context.Context, req client.Request) (*client.Response, error)
}

// AuthEndpoints are the server paths of the auth calls.
type AuthEndpoints struct {
	Login    string
	Register string
	Refresh  string
}

func DefaultAuthEndpoints() AuthEndpoints {
	return AuthEndpoints{
		Login:    "/auth/local/login",
		Register: "/auth/local/register",
		Refresh:  "/auth/refresh",
	}
}

// SessionService defines session operations for the CLI.
//
// Contract:
//   - Login/Register: anonymous|expired -> authenticating -> authenticated,
//     back to anonymous on failure.
//   - Refresh: authenticated|expired -> authenticated, or expired with the
//     token store cleared on failure. Concurrent calls share one request.
//   - Logout: any state -> anonymous; local only.
//   - Restore: resume a persisted session at start-up.
//
// All methods must honor context cancellation/timeouts.
type SessionService interface {
	Login(ctx context.Context, creds models.Credentials) error
	Register(ctx context.Context, creds models.Credentials) error
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
	Restore(ctx context.Context) error
	Status() models.SessionStatus
	Session() models.Session
	Epoch() uint64
	Context() context.Context
	Subscribe(fn func(models.Session)) (unsubscribe func())
}

type SessionOption func(*SessionManager)

func WithSessionLogger(l logging.Logger) SessionOption {
	return func(s *SessionManager) {
		if l != nil {
			s.log = l
		}
	}
}

func WithSessionMetrics(m *metrics.Metrics) SessionOption {
	return func(s *SessionManager) { s.metrics = m }
}

func WithEndpoints(e AuthEndpoints) SessionOption {
	return func(s *SessionManager) { s.endpoints = e }
}

func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionManager) { s.now = now }
}

// SessionManager owns the session state machine. It is the only component
// that writes the token store, and it implements client.Refresher.
type SessionManager struct {
	exec      Executor
	tokens    tokens.Store
	endpoints AuthEndpoints
	log       logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	// single slot for auth transitions
	authMu sync.Mutex
	sf     singleflight.Group

	mu     sync.RWMutex
	status models.SessionStatus
	epoch  uint64
	// generation changes on every stored pair; a refresh that waited behind
	// another transition compares it to skip a second request
	generation uint64
	accessExp  time.Time
	ctx        context.Context
	cancel     context.CancelFunc

	subMu  sync.RWMutex
	subs   map[int]func(models.Session)
	nextID int
}

var (
	_ SessionService   = (*SessionManager)(nil)
	_ client.Refresher = (*SessionManager)(nil)
)

func NewSessionManager(exec Executor, store tokens.Store, opts ...SessionOption) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	s := &SessionManager{
		exec:      exec,
		tokens:    store,
		endpoints: DefaultAuthEndpoints(),
		log:       logging.Nop(),
		now:       time.Now,
		status:    models.StatusAnonymous,
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[int]func(models.Session)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Status returns the current status. An authenticated session whose access
// token has passed its exp claim reports expired until it is refreshed.
func (s *SessionManager) Status() models.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *SessionManager) statusLocked() models.SessionStatus {
	if s.status == models.StatusAuthenticated && !s.accessExp.IsZero() && !s.now().Before(s.accessExp) {
		return models.StatusExpired
	}
	return s.status
}

func (s *SessionManager) Session() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.Session{Status: s.statusLocked(), Epoch: s.epoch}
}

func (s *SessionManager) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Context is cancelled when the current session ends.
func (s *SessionManager) Context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

// Subscribe registers fn for every status or epoch change. fn runs
// synchronously and must not start session transitions itself.
func (s *SessionManager) Subscribe(fn func(models.Session)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *SessionManager) notify() {
	snap := s.Session()

	s.subMu.RLock()
	fns := make([]func(models.Session), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// setStatus changes the status within the current epoch.
func (s *SessionManager) setStatus(st models.SessionStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()

	s.metrics.Transition(st.String())
	s.notify()
}

// begin starts a new authenticated session for pair.
func (s *SessionManager) begin(pair models.TokenPair) {
	exp, _ := auth.ExpiresAt(pair.AccessToken)

	s.mu.Lock()
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.epoch++
	s.generation++
	s.accessExp = exp
	s.status = models.StatusAuthenticated
	s.mu.Unlock()

	s.metrics.Transition(models.StatusAuthenticated.String())
	s.notify()
}

// end finishes the current session, cancelling its in-flight work.
func (s *SessionManager) end(st models.SessionStatus) {
	s.mu.Lock()
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.epoch++
	s.accessExp = time.Time{}
	s.status = st
	s.mu.Unlock()

	s.metrics.Transition(st.String())
	s.notify()
}

func (s *SessionManager) Login(ctx context.Context, creds models.Credentials) error {
	return s.authenticate(ctx, s.endpoints.Login, creds)
}

func (s *SessionManager) Register(ctx context.Context, creds models.Credentials) error {
	return s.authenticate(ctx, s.endpoints.Register, creds)
}

func (s *SessionManager) authenticate(ctx context.Context, path string, creds models.Credentials) error {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	switch s.Status() {
	case models.StatusAuthenticated:
		return ErrAlreadyAuthenticated
	case models.StatusAuthenticating:
		return fmt.Errorf("%w: authentication already in progress", ErrInvalidTransition)
	}

	s.setStatus(models.StatusAuthenticating)

	pair, err := s.requestPair(ctx, path, creds)
	if err == nil {
		err = s.tokens.Set(ctx, pair)
	}
	if err != nil {
		if cerr := s.tokens.Clear(ctx); cerr != nil {
			s.log.Warn(ctx, "clear tokens after failed authentication", "error", cerr)
		}
		s.end(models.StatusAnonymous)
		s.log.Info(ctx, "authentication failed", "path", path, "email", creds.Email, "error", err)
		return err
	}

	s.begin(pair)
	s.log.Info(ctx, "authenticated", "email", creds.Email)
	return nil
}

func (s *SessionManager) requestPair(ctx context.Context, path string, body any) (models.TokenPair, error) {
	resp, err := s.exec.Execute(ctx, client.Request{Method: http.MethodPost, Path: path, Body: body})
	if err != nil {
		return models.TokenPair{}, err
	}

	out, err := client.DecodeJSON[models.TokenPair](resp)
	if err != nil {
		return models.TokenPair{}, err
	}
	return out.Data, nil
}

// Refresh renews the token pair with the stored refresh token. Concurrent
// callers share one request; a caller that waited behind another successful
// transition returns without issuing its own.
func (s *SessionManager) Refresh(ctx context.Context) error {
	s.mu.RLock()
	gen := s.generation
	s.mu.RUnlock()

	return s.shared(ctx, func(*models.TokenPair) bool {
		return s.generation != gen
	})
}

// RefreshAccess renews the pair after staleAccess was rejected by the server.
// Nothing is sent when the stored access token already differs from it.
func (s *SessionManager) RefreshAccess(ctx context.Context, staleAccess string) error {
	return s.shared(ctx, func(stored *models.TokenPair) bool {
		return stored != nil && stored.AccessToken != staleAccess
	})
}

// shared runs one refresh for all concurrent callers. The refresh itself is
// detached from ctx so a caller giving up does not fail it for the others.
func (s *SessionManager) shared(ctx context.Context, renewed func(stored *models.TokenPair) bool) error {
	ch := s.sf.DoChan("refresh", func() (any, error) {
		return nil, s.refresh(context.WithoutCancel(ctx), renewed)
	})

	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SessionManager) refresh(ctx context.Context, renewed func(stored *models.TokenPair) bool) error {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	st := s.rawStatus()
	if st != models.StatusAuthenticated && st != models.StatusExpired {
		return fmt.Errorf("%w: refresh from %s", ErrInvalidTransition, st)
	}

	stored, err := s.tokens.Get(ctx)
	if err == nil && stored == nil {
		err = ErrNoRefreshToken
	}
	if err != nil {
		return s.expire(ctx, err)
	}

	s.mu.RLock()
	skip := st == models.StatusAuthenticated && renewed(stored)
	s.mu.RUnlock()
	if skip {
		return nil
	}

	pair, err := s.requestPair(ctx, s.endpoints.Refresh, map[string]string{"refreshToken": stored.RefreshToken})
	if err == nil && pair.RefreshToken == "" {
		// some deployments rotate only the access token
		pair.RefreshToken = stored.RefreshToken
	}
	if err == nil {
		err = pair.Validate()
	}
	if err == nil {
		err = s.tokens.Set(ctx, pair)
	}
	if err != nil {
		return s.expire(ctx, err)
	}

	s.metrics.Refresh(true)
	if st == models.StatusExpired {
		s.begin(pair)
		return nil
	}

	exp, _ := auth.ExpiresAt(pair.AccessToken)
	s.mu.Lock()
	s.generation++
	s.accessExp = exp
	s.mu.Unlock()
	s.log.Debug(ctx, "tokens refreshed")
	return nil
}

func (s *SessionManager) rawStatus() models.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *SessionManager) expire(ctx context.Context, cause error) error {
	s.metrics.Refresh(false)
	if cerr := s.tokens.Clear(ctx); cerr != nil {
		s.log.Warn(ctx, "clear tokens after failed refresh", "error", cerr)
	}
	s.end(models.StatusExpired)
	s.log.Info(ctx, "session expired", "error", cause)
	return fmt.Errorf("refresh: %w", cause)
}

// Logout ends the session locally and clears the token store.
func (s *SessionManager) Logout(ctx context.Context) error {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	err := s.tokens.Clear(ctx)
	s.end(models.StatusAnonymous)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	s.log.Info(ctx, "logged out")
	return nil
}

// Restore resumes a persisted session: a live access token resumes
// authenticated, an expired one leaves the session expired (the refresh
// token is kept), no stored pair stays anonymous.
func (s *SessionManager) Restore(ctx context.Context) error {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	if st := s.Status(); st != models.StatusAnonymous {
		return fmt.Errorf("%w: restore from %s", ErrInvalidTransition, st)
	}

	pair, err := s.tokens.Get(ctx)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if pair == nil {
		return nil
	}

	if auth.IsExpired(pair.AccessToken, s.now()) {
		s.setStatus(models.StatusExpired)
		s.log.Info(ctx, "restored expired session")
		return nil
	}

	s.begin(*pair)
	s.log.Info(ctx, "restored session")
	return nil
}

// Reset is implemented by caches bound to the session lifetime.
type Reset interface {
	Reset()
}

// BindCache resets c whenever the session epoch changes.
func BindCache(s SessionService, c Reset) (unsubscribe func()) {
	var mu sync.Mutex
	last := s.Epoch()
	return s.Subscribe(func(snap models.Session) {
		mu.Lock()
		changed := snap.Epoch != last
		last = snap.Epoch
		mu.Unlock()
		if changed {
			c.Reset()
		}
	})
}
