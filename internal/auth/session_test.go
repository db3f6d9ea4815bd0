package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dijker/com.netatmo/internal/netatmo"
)

func TestSession_EnsureAuthenticatedBeforeAuthenticate(t *testing.T) {
	s := NewSession(newFakeCloud().factory, newMemStore())

	if err := s.EnsureAuthenticated(context.Background()); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("EnsureAuthenticated() error = %v, want ErrUnknownAccount", err)
	}
}

func TestSession_AuthenticateWithTokenPair(t *testing.T) {
	cloud := newFakeCloud()
	cloud.identities["a1"] = "user-1"
	store := newMemStore()
	s := NewSession(cloud.factory, store)

	fired := 0
	s.OnAuthenticated(func(id string) {
		if id != "user-1" {
			t.Errorf("OnAuthenticated id = %q", id)
		}
		fired++
	})

	id, err := s.Authenticate(context.Background(), netatmo.Credentials{AccessToken: "a1", RefreshToken: "r1"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if id != "user-1" || s.AccountID() != "user-1" {
		t.Errorf("Authenticate() id = %q, AccountID() = %q", id, s.AccountID())
	}
	if s.State() != StateAuthenticated {
		t.Errorf("State() = %v, want authenticated", s.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.EnsureAuthenticated(ctx); err != nil {
		t.Errorf("EnsureAuthenticated() after authenticate = %v", err)
	}

	tok, found, err := LoadTokens(context.Background(), store, "user-1")
	if err != nil || !found {
		t.Fatalf("LoadTokens() = %v, %v", found, err)
	}
	if tok.AccessToken != "a1" || tok.RefreshToken != "r1" || tok.SavedAt.IsZero() {
		t.Errorf("persisted tokens = %+v", tok)
	}

	// Re-authenticating an authenticated session does not re-emit.
	if _, err := s.Authenticate(context.Background(), netatmo.Credentials{AccessToken: "a1", RefreshToken: "r1"}); err != nil {
		t.Fatalf("second Authenticate() error = %v", err)
	}
	if fired != 1 {
		t.Errorf("OnAuthenticated fired %d times, want 1", fired)
	}
}

func TestSession_AuthenticateFailure(t *testing.T) {
	tests := []struct {
		name  string
		creds netatmo.Credentials
	}{
		{"rejected code", netatmo.Credentials{Code: "unknown"}},
		{"empty credentials", netatmo.Credentials{}},
		{"identity lookup rejected", netatmo.Credentials{AccessToken: "stale", RefreshToken: "r"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			s := NewSession(newFakeCloud().factory, store)

			_, err := s.Authenticate(context.Background(), tt.creds)
			if !errors.Is(err, ErrAuthenticationFailed) {
				t.Fatalf("Authenticate() error = %v, want ErrAuthenticationFailed", err)
			}
			if s.State() != StateUnauthenticated {
				t.Errorf("State() = %v, want unauthenticated", s.State())
			}
			if store.setCount() != 0 {
				t.Errorf("tokens persisted after failure")
			}
		})
	}
}

func TestSession_AuthenticateWithCode(t *testing.T) {
	cloud := newFakeCloud()
	cloud.codes["C"] = netatmo.Token{AccessToken: "a1", RefreshToken: "r1"}
	cloud.identities["a1"] = "user-1"
	s := NewSession(cloud.factory, newMemStore())

	id, err := s.Authenticate(context.Background(), netatmo.Credentials{Code: "C"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if id != "user-1" {
		t.Errorf("Authenticate() = %q", id)
	}
	if tok := s.Tokens(); tok.RefreshToken != "r1" {
		t.Errorf("Tokens() = %+v", tok)
	}
}

func TestSession_EnsureAuthenticatedWaitsForTransition(t *testing.T) {
	cloud := newFakeCloud()
	cloud.identities["a1"] = "user-1"
	cloud.identifyStarted = make(chan struct{}, 1)
	cloud.identifyGate = make(chan struct{})
	s := NewSession(cloud.factory, newMemStore())

	go func() {
		_, _ = s.Authenticate(context.Background(), netatmo.Credentials{AccessToken: "a1", RefreshToken: "r1"})
	}()
	<-cloud.identifyStarted

	if s.State() != StateAuthenticating {
		t.Fatalf("State() = %v, want authenticating", s.State())
	}

	result := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		result <- s.EnsureAuthenticated(ctx)
	}()

	select {
	case err := <-result:
		t.Fatalf("EnsureAuthenticated() returned %v before authentication finished", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(cloud.identifyGate)
	if err := <-result; err != nil {
		t.Errorf("EnsureAuthenticated() = %v", err)
	}
}

func TestSession_EnsureAuthenticatedHonoursContext(t *testing.T) {
	s := NewSession(newFakeCloud().factory, newMemStore())
	_, _ = s.Authenticate(context.Background(), netatmo.Credentials{Code: "bad"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.EnsureAuthenticated(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("EnsureAuthenticated() = %v, want deadline exceeded", err)
	}
}

func TestSession_RotatedTokensPersistedBeforeCallProceeds(t *testing.T) {
	cloud := newFakeCloud()
	cloud.identities["a1"] = "user-1"
	store := newMemStore()
	s := NewSession(cloud.factory, store)

	if _, err := s.Authenticate(context.Background(), netatmo.Credentials{AccessToken: "a1", RefreshToken: "r1"}); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	cloud.rotations["a1"] = netatmo.Token{AccessToken: "a2", RefreshToken: "r2"}
	checked := false
	cloud.afterRotate = func(next netatmo.Token) {
		tok, _, err := LoadTokens(context.Background(), store, "user-1")
		if err != nil {
			t.Errorf("LoadTokens() error = %v", err)
		}
		if tok.AccessToken != next.AccessToken || tok.RefreshToken != next.RefreshToken {
			t.Errorf("persisted %+v before call proceeded, want %+v", tok, next)
		}
		checked = true
	}

	if _, err := s.API().FetchDevices(context.Background()); err != nil {
		t.Fatalf("FetchDevices() error = %v", err)
	}
	if !checked {
		t.Fatal("rotation did not happen")
	}
	if tok := s.Tokens(); tok.AccessToken != "a2" {
		t.Errorf("Tokens() = %+v", tok)
	}
}

func TestSession_RotationPersistFailureReported(t *testing.T) {
	cloud := newFakeCloud()
	cloud.identities["a1"] = "user-1"
	store := newMemStore()
	rec := &errorRecorder{}
	s := NewSession(cloud.factory, store)
	s.reporter = rec

	if _, err := s.Authenticate(context.Background(), netatmo.Credentials{AccessToken: "a1", RefreshToken: "r1"}); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	store.failSet = errors.New("disk full")
	cloud.rotations["a1"] = netatmo.Token{AccessToken: "a2", RefreshToken: "r2"}
	_, _ = s.API().FetchDevices(context.Background())

	if n := len(rec.all()); n != 2 {
		t.Errorf("reported %d errors, want one per rotated token", n)
	}
}

func TestSession_PermanentRefreshFailureInvalidates(t *testing.T) {
	cloud := newFakeCloud()
	cloud.identities["a1"] = "user-1"
	rec := &errorRecorder{}
	s := NewSession(cloud.factory, newMemStore())
	s.reporter = rec

	if _, err := s.Authenticate(context.Background(), netatmo.Credentials{AccessToken: "a1", RefreshToken: "r1"}); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	s.API().(*fakeAPI).failRefresh()

	if s.State() != StateUnauthenticated {
		t.Errorf("State() = %v, want unauthenticated", s.State())
	}
	errs := rec.all()
	if len(errs) != 1 || !errors.Is(errs[0], ErrTokenRefreshFailed) {
		t.Errorf("reported %v, want one ErrTokenRefreshFailed", errs)
	}

	// A later authentication fires the transition again.
	fired := 0
	s.OnAuthenticated(func(string) { fired++ })
	if _, err := s.Authenticate(context.Background(), netatmo.Credentials{AccessToken: "a1", RefreshToken: "r1"}); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if fired != 1 {
		t.Errorf("OnAuthenticated fired %d times after recovery, want 1", fired)
	}
}

func TestSession_IdentityMismatch(t *testing.T) {
	cloud := newFakeCloud()
	cloud.identities["a1"] = "someone-else"
	s := newAccountSession(cloud.factory, newMemStore(), "user-1")

	_, err := s.Authenticate(context.Background(), netatmo.Credentials{AccessToken: "a1", RefreshToken: "r1"})
	if !errors.Is(err, ErrIdentityMismatch) || !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Authenticate() error = %v, want identity mismatch", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnauthenticated, "unauthenticated"},
		{StateAuthenticating, "authenticating"},
		{StateAuthenticated, "authenticated"},
		{State(9), "State(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
