package auth

import "errors"

// Domain errors for account sessions.
var (
	// ErrUnknownAccount is returned when no session exists for an account,
	// or a session was never asked to authenticate.
	ErrUnknownAccount = errors.New("auth: unknown account")

	// ErrAccountInUse is returned when removing an account that devices
	// still reference.
	ErrAccountInUse = errors.New("auth: account in use")

	// ErrAuthenticationFailed wraps the cause of a failed code exchange,
	// token resume or identity lookup.
	ErrAuthenticationFailed = errors.New("auth: authentication failed")

	// ErrTokenRefreshFailed marks a permanent refresh failure. The account
	// must be authorized again.
	ErrTokenRefreshFailed = errors.New("auth: token refresh failed")

	// ErrInvalidState is returned when an OAuth callback carries an unknown
	// or expired state value.
	ErrInvalidState = errors.New("auth: invalid oauth state")

	// ErrIdentityMismatch is returned when resumed tokens belong to a
	// different account than the one they were stored under.
	ErrIdentityMismatch = errors.New("auth: identity mismatch")
)
