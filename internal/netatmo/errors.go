package netatmo

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes. Concrete errors wrap one of these; check with errors.Is().
var (
	// ErrTransient marks a failure worth retrying: network errors, 5xx,
	// rate limiting and vendor usage limits.
	ErrTransient = errors.New("netatmo: transient failure")

	// ErrUnauthorized marks an invalid or expired access token that could
	// not be recovered by refreshing.
	ErrUnauthorized = errors.New("netatmo: unauthorized")

	// ErrTokenRefresh marks a permanent refresh failure (revoked or invalid
	// refresh token). The account needs a new authorization.
	ErrTokenRefresh = errors.New("netatmo: token refresh failed")

	// ErrNoToken is returned when a call is made before Exchange succeeded.
	ErrNoToken = errors.New("netatmo: no token")

	// ErrInvalidCredentials is returned when neither a code nor an access token is given.
	ErrInvalidCredentials = errors.New("netatmo: invalid credentials")
)

// Vendor error codes from the {"error":{"code":n}} envelope.
const (
	codeInvalidToken    = 2
	codeExpiredToken    = 3
	codeUsageLimit      = 26
	codeTooManyRequests = 29 // delivered alongside HTTP 429
)

// APIError is an error response from the cloud API.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Path    string `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("netatmo: %s: status %d code %d: %s", e.Path, e.Status, e.Code, e.Message)
}

// Is classifies the error so callers can test errors.Is(err, ErrTransient)
// or errors.Is(err, ErrUnauthorized) without inspecting codes.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.unauthorized()
	case ErrTransient:
		return e.transient()
	default:
		return false
	}
}

func (e *APIError) unauthorized() bool {
	return e.Code == codeInvalidToken || e.Code == codeExpiredToken
}

func (e *APIError) transient() bool {
	if e.Code == codeUsageLimit || e.Code == codeTooManyRequests {
		return true
	}
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// IsAuthError reports whether err requires the account to re-authenticate.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrTokenRefresh) || errors.Is(err, ErrNoToken)
}
