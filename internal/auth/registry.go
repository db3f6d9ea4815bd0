package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Dijker/com.netatmo/internal/netatmo"
	"github.com/Dijker/com.netatmo/internal/settings"
)

// restoreConcurrency bounds parallel token resumption at startup.
const restoreConcurrency = 4

// DeviceLister reports the devices of one category that reference an
// account.
type DeviceLister interface {
	DevicesForAccount(ctx context.Context, accountID string) ([]string, error)
}

// AccountInfo summarises a registered account.
type AccountInfo struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// entry tracks one account. done is closed once the first authentication
// attempt for the entry has finished; err holds its outcome and is
// cleared by a later successful re-authorization.
type entry struct {
	session *Session
	done    chan struct{}
	err     error
}

// Registry owns the sessions of every account, keyed by durable account
// identity.
//
// All public methods are thread-safe.
type Registry struct {
	factory  netatmo.Factory
	store    settings.Store
	logger   Logger
	reporter ErrorReporter

	mu          sync.RWMutex
	entries     map[string]*entry
	listers     []DeviceLister
	subscribers []func(accountID string)
}

// NewRegistry creates an empty registry.
func NewRegistry(factory netatmo.Factory, store settings.Store) *Registry {
	return &Registry{
		factory:  factory,
		store:    store,
		logger:   noopLogger{},
		reporter: noopReporter{},
		entries:  make(map[string]*entry),
	}
}

// SetLogger sets the logger for the registry and the sessions it creates.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetReporter sets the channel for background failures.
func (r *Registry) SetReporter(reporter ErrorReporter) {
	r.reporter = reporter
}

// AddDeviceLister registers a device category consulted by CanRemove.
func (r *Registry) AddDeviceLister(l DeviceLister) {
	r.mu.Lock()
	r.listers = append(r.listers, l)
	r.mu.Unlock()
}

// OnAuthenticated subscribes fn to authentication transitions of every
// account, present and future.
func (r *Registry) OnAuthenticated(fn func(accountID string)) {
	r.mu.Lock()
	r.subscribers = append(r.subscribers, fn)
	r.mu.Unlock()
}

func (r *Registry) newSession(accountID string) *Session {
	var s *Session
	if accountID == "" {
		s = NewSession(r.factory, r.store)
	} else {
		s = newAccountSession(r.factory, r.store, accountID)
	}
	s.logger = r.logger
	s.reporter = r.reporter
	return s
}

// attach subscribes the registry to later transitions of an entry's
// session. The transition that settled the entry is not seen by the
// subscription; callers emit it once the entry is resolvable.
func (r *Registry) attach(s *Session) {
	s.OnAuthenticated(r.notifyAuthenticated)
}

func (r *Registry) notifyAuthenticated(accountID string) {
	r.mu.RLock()
	subscribers := append([]func(string){}, r.subscribers...)
	r.mu.RUnlock()

	for _, fn := range subscribers {
		fn(accountID)
	}
}

// Authenticate authorizes an account from credentials, usually an
// authorization code. An account seen before keeps its session and
// adopts the new token pair; subscribers hear of it only if the account
// was not authenticated.
func (r *Registry) Authenticate(ctx context.Context, creds netatmo.Credentials) (string, error) {
	fresh := r.newSession("")
	id, err := fresh.Authenticate(ctx, creds)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	e, exists := r.entries[id]
	if !exists {
		r.attach(fresh)
		done := make(chan struct{})
		close(done)
		r.entries[id] = &entry{session: fresh, done: done}
		r.mu.Unlock()
		r.logger.Info("account added", "account_id", id)
		r.notifyAuthenticated(id)
		return id, nil
	}
	r.mu.Unlock()

	if err := waitDone(ctx, e.done); err != nil {
		return "", err
	}

	tok := fresh.Tokens()
	_, err = e.session.Authenticate(ctx, netatmo.Credentials{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken})

	r.mu.Lock()
	e.err = err
	r.mu.Unlock()

	if err != nil {
		return "", err
	}
	r.logger.Info("account re-authorized", "account_id", id)
	return id, nil
}

// Restore resumes a persisted account. The account is registered as
// pending before the resume starts, so Resolve callers arriving meanwhile
// wait for the same outcome. Restoring an account already registered
// returns that account's outcome.
func (r *Registry) Restore(ctx context.Context, accountID string, tok StoredTokens) error {
	if accountID == "" {
		return fmt.Errorf("%w: empty account id", ErrUnknownAccount)
	}

	r.mu.Lock()
	if _, exists := r.entries[accountID]; exists {
		r.mu.Unlock()
		_, err := r.Resolve(ctx, accountID)
		return err
	}
	e := &entry{session: r.newSession(accountID), done: make(chan struct{})}
	r.entries[accountID] = e
	r.mu.Unlock()

	_, err := e.session.Authenticate(ctx, netatmo.Credentials{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken})

	r.mu.Lock()
	r.attach(e.session)
	e.err = err
	close(e.done)
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("account restore failed", "account_id", accountID, "error", err)
		return err
	}
	r.logger.Info("account restored", "account_id", accountID)
	r.notifyAuthenticated(accountID)
	return nil
}

// RestoreAll resumes every account persisted in the settings store. It
// returns the number restored and the joined failures; a failed account
// stays registered so it can be re-authorized.
func (r *Registry) RestoreAll(ctx context.Context) (int, error) {
	keys, err := r.store.List(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("listing persisted accounts: %w", err)
	}

	var (
		mu       sync.Mutex
		restored int
		errs     []error
	)
	g := new(errgroup.Group)
	g.SetLimit(restoreConcurrency)

	for _, key := range keys {
		id, ok := accountFromKey(key)
		if !ok {
			continue
		}
		g.Go(func() error {
			tok, found, err := LoadTokens(ctx, r.store, id)
			if err == nil && !found {
				return nil
			}
			if err == nil {
				err = r.Restore(ctx, id, tok)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("account %s: %w", id, err))
				return nil
			}
			restored++
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers collect their own errors

	return restored, errors.Join(errs...)
}

// Resolve returns the session for accountID, waiting for an in-flight
// authentication to finish. It returns ErrUnknownAccount if no such
// account is registered, or the error of its failed authentication.
func (r *Registry) Resolve(ctx context.Context, accountID string) (*Session, error) {
	r.mu.RLock()
	e, ok := r.entries[accountID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}

	if err := waitDone(ctx, e.done); err != nil {
		return nil, err
	}

	r.mu.RLock()
	err := e.err
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return e.session, nil
}

// ListAuthenticated returns the ids of currently authenticated accounts,
// sorted.
func (r *Registry) ListAuthenticated() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, e := range r.entries {
		if e.session.State() == StateAuthenticated {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// List returns every registered account, sorted by id.
func (r *Registry) List() []AccountInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]AccountInfo, 0, len(r.entries))
	for id, e := range r.entries {
		info := AccountInfo{ID: id, State: e.session.State().String()}
		if e.err != nil {
			info.Error = e.err.Error()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// CanRemove reports whether no device of any registered category
// references accountID.
func (r *Registry) CanRemove(ctx context.Context, accountID string) (bool, error) {
	r.mu.RLock()
	_, ok := r.entries[accountID]
	listers := append([]DeviceLister{}, r.listers...)
	r.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}

	for _, l := range listers {
		ids, err := l.DevicesForAccount(ctx, accountID)
		if err != nil {
			return false, fmt.Errorf("listing devices for account %s: %w", accountID, err)
		}
		if len(ids) > 0 {
			return false, nil
		}
	}
	return true, nil
}

// Remove deletes the account's session and persisted tokens. It fails with
// ErrAccountInUse while devices reference the account.
func (r *Registry) Remove(ctx context.Context, accountID string) error {
	ok, err := r.CanRemove(ctx, accountID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountInUse, accountID)
	}

	if err := r.store.Delete(ctx, accountKey(accountID)); err != nil {
		return fmt.Errorf("deleting tokens for account %s: %w", accountID, err)
	}

	r.mu.Lock()
	e, exists := r.entries[accountID]
	delete(r.entries, accountID)
	r.mu.Unlock()

	if exists {
		e.session.Invalidate()
	}
	r.logger.Info("account removed", "account_id", accountID)
	return nil
}

func waitDone(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
