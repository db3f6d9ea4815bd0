package cloudsync

import "errors"

// Scheduler errors.
var (
	// ErrRetriesExhausted wraps the last failure of a refresh chain that
	// used up its retry budget.
	ErrRetriesExhausted = errors.New("sync: retries exhausted")

	// ErrNotAuthenticated is returned when a deferred refresh gave up
	// waiting for its account to authenticate.
	ErrNotAuthenticated = errors.New("sync: account not authenticated")

	// ErrNoValue is returned when a never-synced device still has no value
	// after its initial refresh attempts.
	ErrNoValue = errors.New("sync: no value available")

	// ErrStopped is returned for refreshes requested after Stop.
	ErrStopped = errors.New("sync: scheduler stopped")
)
