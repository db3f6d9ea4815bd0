package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dijker/com.netatmo/internal/netatmo"
	"github.com/Dijker/com.netatmo/internal/settings"
)

// State is the authentication state of a session.
type State int

// Session states.
const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Logger defines the logging interface used by the auth package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ErrorReporter receives background failures that no caller is waiting on.
type ErrorReporter interface {
	Report(err error)
}

type noopReporter struct{}

func (noopReporter) Report(error) {}

// Session holds one account's OAuth credential and its authentication
// state.
//
// The underlying API client notifies the session of every token rotation
// before the request that caused it is sent; the session persists the new
// pair from within that notification.
type Session struct {
	api      netatmo.API
	store    settings.Store
	logger   Logger
	reporter ErrorReporter
	now      func() time.Time

	mu          sync.Mutex
	accountID   string
	expectedID  string
	state       State
	started     bool
	access      string
	refresh     string
	authed      chan struct{}
	subscribers []func(accountID string)
}

// NewSession creates an unauthenticated session whose client is built from
// factory with the session's rotation hooks.
func NewSession(factory netatmo.Factory, store settings.Store) *Session {
	s := &Session{
		store:    store,
		logger:   noopLogger{},
		reporter: noopReporter{},
		now:      time.Now,
		authed:   make(chan struct{}),
	}
	s.api = factory(netatmo.Hooks{
		OnAccessToken:   s.onAccessToken,
		OnRefreshToken:  s.onRefreshToken,
		OnAuthenticated: s.onClientAuthenticated,
		OnError:         s.onClientError,
	})
	return s
}

// newAccountSession creates a session that must resolve to accountID.
func newAccountSession(factory netatmo.Factory, store settings.Store, accountID string) *Session {
	s := NewSession(factory, store)
	s.expectedID = accountID
	return s
}

// API returns the account's remote client.
func (s *Session) API() netatmo.API {
	return s.api
}

// AccountID returns the durable account identity, empty until the first
// successful authentication.
func (s *Session) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

// State returns the current authentication state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnAuthenticated subscribes fn to unauthenticated to authenticated
// transitions. fn runs on the goroutine completing the transition.
func (s *Session) OnAuthenticated(fn func(accountID string)) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// Authenticate exchanges creds for a token pair, resolves the account's
// identity and persists the pair. It is never retried automatically; on
// failure the session is left unauthenticated.
func (s *Session) Authenticate(ctx context.Context, creds netatmo.Credentials) (string, error) {
	s.mu.Lock()
	s.started = true
	wasAuthenticated := s.state == StateAuthenticated
	if !wasAuthenticated {
		s.state = StateAuthenticating
	}
	s.mu.Unlock()

	tok, err := s.api.Exchange(ctx, creds)
	if err != nil {
		return "", s.fail(err)
	}
	s.setTokens(tok.AccessToken, tok.RefreshToken)

	id, err := s.api.Identify(ctx)
	if err != nil {
		return "", s.fail(err)
	}

	s.mu.Lock()
	if s.expectedID != "" && id != s.expectedID {
		s.mu.Unlock()
		return "", s.fail(fmt.Errorf("%w: tokens for %s belong to %s", ErrIdentityMismatch, s.expectedID, id))
	}
	s.accountID = id
	s.mu.Unlock()

	// Identify may have rotated the pair; persist whatever is current.
	if err := s.persist(ctx); err != nil {
		return "", s.fail(err)
	}

	s.markAuthenticated()
	s.logger.Info("account authenticated", "account_id", id)
	return id, nil
}

// EnsureAuthenticated returns immediately when the session is
// authenticated and otherwise waits for the transition or ctx. It returns
// ErrUnknownAccount if Authenticate was never called.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrUnknownAccount
	}
	if s.state == StateAuthenticated {
		s.mu.Unlock()
		return nil
	}
	authed := s.authed
	s.mu.Unlock()

	select {
	case <-authed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invalidate drops the session to unauthenticated. It is a no-op unless
// the session is authenticated.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked()
}

func (s *Session) invalidateLocked() {
	if s.state != StateAuthenticated {
		return
	}
	s.state = StateUnauthenticated
	s.authed = make(chan struct{})
}

// Tokens returns the current token pair.
func (s *Session) Tokens() StoredTokens {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StoredTokens{AccessToken: s.access, RefreshToken: s.refresh}
}

func (s *Session) fail(cause error) error {
	s.mu.Lock()
	if s.state == StateAuthenticated {
		s.invalidateLocked()
	} else {
		s.state = StateUnauthenticated
	}
	s.mu.Unlock()
	return fmt.Errorf("%w: %w", ErrAuthenticationFailed, cause)
}

func (s *Session) markAuthenticated() {
	s.mu.Lock()
	if s.state == StateAuthenticated {
		s.mu.Unlock()
		return
	}
	s.state = StateAuthenticated
	close(s.authed)
	id := s.accountID
	subscribers := append([]func(string){}, s.subscribers...)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(id)
	}
}

func (s *Session) setTokens(access, refresh string) {
	s.mu.Lock()
	s.access = access
	s.refresh = refresh
	s.mu.Unlock()
}

// persist writes the current pair. A new account has no key to write
// under until its identity is known; Authenticate persists once it is.
func (s *Session) persist(ctx context.Context) error {
	s.mu.Lock()
	id := s.accountID
	if id == "" {
		id = s.expectedID
	}
	tok := StoredTokens{AccessToken: s.access, RefreshToken: s.refresh, SavedAt: s.now().UTC()}
	s.mu.Unlock()

	if id == "" {
		return nil
	}
	return saveTokens(ctx, s.store, id, tok)
}

func (s *Session) persistRotated(which string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.persist(ctx); err != nil {
		s.logger.Error("persisting rotated token failed", "token", which, "error", err)
		s.reporter.Report(fmt.Errorf("persisting rotated %s token: %w", which, err))
		return
	}
	s.logger.Debug("rotated token persisted", "token", which, "account_id", s.AccountID())
}

func (s *Session) onAccessToken(token string) {
	s.mu.Lock()
	s.access = token
	s.mu.Unlock()
	s.persistRotated("access")
}

func (s *Session) onRefreshToken(token string) {
	s.mu.Lock()
	s.refresh = token
	s.mu.Unlock()
	s.persistRotated("refresh")
}

func (s *Session) onClientAuthenticated() {
	s.logger.Debug("token exchange completed")
}

// onClientError receives refresh failures from the client. A permanent
// one ends the authenticated state.
func (s *Session) onClientError(err error) {
	if !errors.Is(err, netatmo.ErrTokenRefresh) {
		return
	}
	s.Invalidate()

	id := s.AccountID()
	s.logger.Warn("token refresh rejected, account needs authorization", "account_id", id, "error", err)
	s.reporter.Report(fmt.Errorf("%w: account %s: %w", ErrTokenRefreshFailed, id, err))
}
