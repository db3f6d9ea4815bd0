// Package cloudsync schedules device state refreshes per account.
//
// Every refresh of an account runs as a chain: resolve the account session,
// wait for it to be authenticated, fetch all devices, route the records of
// paired devices into the device state store. Failed fetches are retried
// with a linearly growing delay (30s, 60s, 90s by default) before the chain
// gives up with ErrRetriesExhausted. Every failure is reported to the
// operator error channel, whether or not it is retried.
//
// Concurrent refreshes for the same account share one chain, and for a
// short cool-down after completion late callers receive the finished
// outcome. Refreshes for different accounts run in parallel.
//
// Drivers read values through GetCapability, which distinguishes a device
// that has never synced (refresh and retry) from a capability that the
// synced device does not report (fail fast).
package cloudsync
