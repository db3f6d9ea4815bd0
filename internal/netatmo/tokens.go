package netatmo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// permanentRefreshCodes are OAuth error codes that no amount of retrying fixes.
var permanentRefreshCodes = map[string]bool{
	"invalid_grant":       true,
	"invalid_client":      true,
	"unauthorized_client": true,
}

// tokenSource holds one account's token pair and refreshes it on demand.
// Rotation hooks fire while the lock is held, so a concurrent caller never
// observes a rotated token before it was handed to the hooks.
type tokenSource struct {
	conf       *oauth2.Config
	httpClient *http.Client
	hooks      Hooks
	now        func() time.Time

	mu  sync.Mutex
	tok *oauth2.Token
}

func (s *tokenSource) set(tok *oauth2.Token) {
	s.mu.Lock()
	s.tok = tok
	s.mu.Unlock()
}

func (s *tokenSource) current() (*oauth2.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok == nil {
		return nil, false
	}
	cpy := *s.tok
	return &cpy, true
}

func (s *tokenSource) canRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tok != nil && s.tok.RefreshToken != ""
}

// expire forces the next token call to refresh.
func (s *tokenSource) expire() {
	s.mu.Lock()
	if s.tok != nil {
		s.tok.Expiry = s.now().Add(-time.Minute)
	}
	s.mu.Unlock()
}

// token returns a valid token, refreshing it first if it has expired.
func (s *tokenSource) token(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tok == nil || s.tok.AccessToken == "" {
		return nil, ErrNoToken
	}
	if s.tok.Valid() {
		cpy := *s.tok
		return &cpy, nil
	}
	return s.refreshLocked(ctx)
}

func (s *tokenSource) refreshLocked(ctx context.Context) (*oauth2.Token, error) {
	if s.tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrTokenRefresh)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	next, err := s.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: s.tok.RefreshToken}).Token()
	if err != nil {
		err = classifyRefreshError(err)
		if s.hooks.OnError != nil {
			s.hooks.OnError(err)
		}
		return nil, err
	}

	// The token endpoint may omit the refresh token when it is not rotated.
	if next.RefreshToken == "" {
		next.RefreshToken = s.tok.RefreshToken
	}

	prev := s.tok
	s.tok = next

	if next.AccessToken != prev.AccessToken && s.hooks.OnAccessToken != nil {
		s.hooks.OnAccessToken(next.AccessToken)
	}
	if next.RefreshToken != prev.RefreshToken && s.hooks.OnRefreshToken != nil {
		s.hooks.OnRefreshToken(next.RefreshToken)
	}

	cpy := *next
	return &cpy, nil
}

// classifyRefreshError maps an oauth2 failure onto ErrTokenRefresh for
// permanent rejections and ErrTransient for everything else.
func classifyRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if permanentRefreshCodes[strings.ToLower(re.ErrorCode)] {
			return fmt.Errorf("%w: %w", ErrTokenRefresh, err)
		}
		if re.Response != nil {
			switch code := re.Response.StatusCode; {
			case code >= http.StatusInternalServerError, code == http.StatusTooManyRequests:
				return fmt.Errorf("%w: refreshing token: %w", ErrTransient, err)
			case code >= http.StatusBadRequest:
				return fmt.Errorf("%w: %w", ErrTokenRefresh, err)
			}
		}
	}
	return fmt.Errorf("%w: refreshing token: %w", ErrTransient, err)
}

// classifyExchangeError maps a code exchange failure. A rejected code is
// reported as is; network trouble is marked transient for the caller's
// information, although code exchange is never retried automatically.
func classifyExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
