package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Dijker/com.netatmo/internal/netatmo"
)

// memStore is an in-memory settings.Store.
type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	sets    []string
	failSet error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	m.data[key] = value
	m.sets = append(m.sets, key)
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStore) setCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sets)
}

// fakeCloud plays the remote service for every client it creates.
type fakeCloud struct {
	mu         sync.Mutex
	identities map[string]string        // access token -> user id
	codes      map[string]netatmo.Token // authorization code -> pair
	rotations  map[string]netatmo.Token // access token -> rotated pair
	clients    []*fakeAPI

	// identifyStarted receives a value when Identify begins; identifyGate,
	// when set, blocks Identify until closed.
	identifyStarted chan struct{}
	identifyGate    chan struct{}

	// afterRotate runs after rotation hooks fired, before the call proceeds.
	afterRotate func(netatmo.Token)
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		identities: make(map[string]string),
		codes:      make(map[string]netatmo.Token),
		rotations:  make(map[string]netatmo.Token),
	}
}

func (c *fakeCloud) factory(hooks netatmo.Hooks) netatmo.API {
	api := &fakeAPI{cloud: c, hooks: hooks}
	c.mu.Lock()
	c.clients = append(c.clients, api)
	c.mu.Unlock()
	return api
}

type fakeAPI struct {
	cloud *fakeCloud
	hooks netatmo.Hooks

	mu  sync.Mutex
	tok netatmo.Token
	has bool
}

func (f *fakeAPI) Exchange(_ context.Context, creds netatmo.Credentials) (netatmo.Token, error) {
	var tok netatmo.Token
	switch {
	case creds.IsCode():
		f.cloud.mu.Lock()
		pair, ok := f.cloud.codes[creds.Code]
		f.cloud.mu.Unlock()
		if !ok {
			return netatmo.Token{}, errors.New("invalid_grant")
		}
		tok = pair
	case creds.AccessToken != "":
		tok = netatmo.Token{AccessToken: creds.AccessToken, RefreshToken: creds.RefreshToken}
	default:
		return netatmo.Token{}, netatmo.ErrInvalidCredentials
	}

	f.mu.Lock()
	f.tok, f.has = tok, true
	f.mu.Unlock()
	if f.hooks.OnAuthenticated != nil {
		f.hooks.OnAuthenticated()
	}
	return tok, nil
}

// rotate simulates a refresh: hooks fire before the call goes on.
func (f *fakeAPI) rotate() {
	f.mu.Lock()
	next, ok := f.cloud.rotationFor(f.tok.AccessToken)
	if ok {
		f.tok = next
	}
	f.mu.Unlock()
	if !ok {
		return
	}

	f.hooks.OnAccessToken(next.AccessToken)
	f.hooks.OnRefreshToken(next.RefreshToken)
	if f.cloud.afterRotate != nil {
		f.cloud.afterRotate(next)
	}
}

func (c *fakeCloud) rotationFor(access string) (netatmo.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, ok := c.rotations[access]
	if ok {
		delete(c.rotations, access)
		c.identities[next.AccessToken] = c.identities[access]
	}
	return next, ok
}

func (f *fakeAPI) Identify(ctx context.Context) (string, error) {
	if f.cloud.identifyStarted != nil {
		f.cloud.identifyStarted <- struct{}{}
	}
	if gate := f.cloud.identifyGate; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.rotate()

	f.mu.Lock()
	access := f.tok.AccessToken
	f.mu.Unlock()

	f.cloud.mu.Lock()
	id, ok := f.cloud.identities[access]
	f.cloud.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("identify: %w", netatmo.ErrUnauthorized)
	}
	return id, nil
}

func (f *fakeAPI) FetchDevices(context.Context) ([]netatmo.Record, error) {
	f.rotate()
	return nil, nil
}

func (f *fakeAPI) SetThermPoint(context.Context, netatmo.SetpointSpec) error   { return nil }
func (f *fakeAPI) SwitchSchedule(context.Context, netatmo.ScheduleSpec) error { return nil }

func (f *fakeAPI) Token() (netatmo.Token, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tok, f.has
}

// failRefresh reports a permanent refresh failure as the real client does.
func (f *fakeAPI) failRefresh() {
	f.hooks.OnError(fmt.Errorf("%w: invalid_grant", netatmo.ErrTokenRefresh))
}

type errorRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *errorRecorder) Report(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *errorRecorder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error{}, r.errs...)
}

type fakeLister struct {
	devices map[string][]string
	err     error
}

func (l *fakeLister) DevicesForAccount(_ context.Context, accountID string) ([]string, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.devices[accountID], nil
}
