// Package auth manages the OAuth sessions of every linked cloud account.
//
// A Session holds one account's token pair and moves between
// unauthenticated, authenticating and authenticated. Token rotations
// reported by the API client are persisted to the settings store before
// the request that triggered them continues.
//
// The Registry owns all sessions, keyed by the account's durable user id
// (resolved after the first successful exchange, not the pairing state).
// Accounts resumed from persisted tokens are registered as pending first,
// so concurrent Resolve callers share the outcome of the resume instead of
// seeing a half-initialised session. An account can only be removed once
// no device of any category references it.
//
// The Authorizer drives the consent redirect with one-time state values.
package auth
