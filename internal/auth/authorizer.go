package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dijker/com.netatmo/internal/netatmo"
)

// DefaultStateTTL is how long an issued OAuth state stays redeemable.
const DefaultStateTTL = 10 * time.Minute

// Authorizer runs the browser consent flow: Begin issues a consent URL
// bound to a one-time state value, Complete redeems the callback.
type Authorizer struct {
	cfg      netatmo.Config
	registry *Registry
	ttl      time.Duration
	now      func() time.Time

	mu     sync.Mutex
	states map[string]time.Time
}

// NewAuthorizer creates an authorizer that adds accounts to registry.
func NewAuthorizer(cfg netatmo.Config, registry *Registry) *Authorizer {
	return &Authorizer{
		cfg:      cfg,
		registry: registry,
		ttl:      DefaultStateTTL,
		now:      time.Now,
		states:   make(map[string]time.Time),
	}
}

// Begin returns the consent URL and the state value it carries.
func (a *Authorizer) Begin() (consentURL, state string) {
	state = uuid.NewString()

	a.mu.Lock()
	now := a.now()
	for s, expires := range a.states {
		if now.After(expires) {
			delete(a.states, s)
		}
	}
	a.states[state] = now.Add(a.ttl)
	a.mu.Unlock()

	return a.cfg.AuthCodeURL(state), state
}

// Complete redeems state and exchanges code for a new or re-authorized
// account. Each state is accepted at most once.
func (a *Authorizer) Complete(ctx context.Context, state, code string) (string, error) {
	a.mu.Lock()
	expires, ok := a.states[state]
	delete(a.states, state)
	a.mu.Unlock()

	if !ok || a.now().After(expires) {
		return "", ErrInvalidState
	}
	if code == "" {
		return "", fmt.Errorf("%w: missing authorization code", ErrAuthenticationFailed)
	}
	return a.registry.Authenticate(ctx, netatmo.Credentials{Code: code})
}
