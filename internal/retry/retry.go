// Package retry defines the bounded, linearly escalating backoff used by
// refresh chains.
//
// An Attempt is an immutable value threaded through each step of a chain.
// The chain starts at Count 0 (the initial try); each failure produces the
// next Attempt, which is retried after Policy.Delay unless the policy is
// exhausted.
//
//	a := retry.Start(accountID)
//	for {
//	    err := fetch(ctx)
//	    if err == nil {
//	        return nil
//	    }
//	    a = a.Next()
//	    if policy.Exhausted(a) {
//	        return err
//	    }
//	    if err := retry.Sleep(ctx, policy.Delay(a)); err != nil {
//	        return err
//	    }
//	}
package retry

import (
	"context"
	"time"
)

// Default policy values.
const (
	DefaultMaxRetries = 3
	DefaultStep       = 30 * time.Second
)

// Attempt identifies one step of a refresh chain for an account.
type Attempt struct {
	AccountID string
	Count     int
}

// Start returns the initial attempt of a fresh chain.
func Start(accountID string) Attempt {
	return Attempt{AccountID: accountID}
}

// Next returns the following attempt. The receiver is not modified.
func (a Attempt) Next() Attempt {
	return Attempt{AccountID: a.AccountID, Count: a.Count + 1}
}

// IsRetry reports whether this attempt follows at least one failure.
func (a Attempt) IsRetry() bool {
	return a.Count > 0
}

// Policy is a stateless backoff schedule.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// Step is multiplied by the attempt count to obtain the delay.
	Step time.Duration
}

// DefaultPolicy retries three times after 30s, 60s and 90s.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, Step: DefaultStep}
}

// Delay returns how long to wait before running attempt a.
func (p Policy) Delay(a Attempt) time.Duration {
	if a.Count <= 0 {
		return 0
	}
	return time.Duration(a.Count) * p.Step
}

// Exhausted reports whether a lies beyond the retry budget.
func (p Policy) Exhausted(a Attempt) bool {
	return a.Count > p.MaxRetries
}

// Schedule lists the delays of every retry the policy permits.
func (p Policy) Schedule() []time.Duration {
	delays := make([]time.Duration, 0, p.MaxRetries)
	for a := Start("").Next(); !p.Exhausted(a); a = a.Next() {
		delays = append(delays, p.Delay(a))
	}
	return delays
}

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits for d, returning ctx.Err() if the context ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
