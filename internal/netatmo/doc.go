// Package netatmo is the per-account client for the Netatmo cloud API.
//
// A Client owns one account's OAuth token pair. It refreshes the access
// token when it expires or is rejected, and hands every rotated token to
// the caller's Hooks before the request that needed it goes out, so the
// caller can persist it immediately.
//
// Errors are classified with sentinels:
//
//	errors.Is(err, netatmo.ErrTransient)    // retry later
//	errors.Is(err, netatmo.ErrUnauthorized) // token rejected after refresh
//	errors.Is(err, netatmo.ErrTokenRefresh) // refresh token revoked
//
// Use IsAuthError to test for any failure that needs re-authentication.
package netatmo
