package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Dijker/com.netatmo/internal/auth"
	"github.com/Dijker/com.netatmo/internal/device"
	"github.com/Dijker/com.netatmo/internal/netatmo"
	"github.com/Dijker/com.netatmo/internal/retry"
)

// Logger defines the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ErrorReporter receives every refresh failure, retried or not.
type ErrorReporter interface {
	Report(err error)
}

type noopReporter struct{}

func (noopReporter) Report(error) {}

// Sessions resolves the session of an account.
type Sessions interface {
	Resolve(ctx context.Context, accountID string) (*auth.Session, error)
}

// Directory answers which paired devices exist and who owns them.
// *device.Registry implements it.
type Directory interface {
	AccountIDs(ctx context.Context) ([]string, error)
	ListByAccount(ctx context.Context, accountID string) ([]device.Device, error)
	GetDevice(ctx context.Context, id string) (*device.Device, error)
}

// OutcomeHandler observes the end of every refresh chain.
type OutcomeHandler func(accountID string, err error, elapsed time.Duration)

// Options tunes the scheduler.
type Options struct {
	// SweepInterval separates the end of one periodic sweep from the start
	// of the next.
	SweepInterval time.Duration

	// SweepTimeout bounds how long a sweep waits for its refreshes.
	SweepTimeout time.Duration

	// Cooldown is the window after a refresh completes during which its
	// outcome is handed to new callers without another fetch.
	Cooldown time.Duration

	// AuthWait bounds how long a refresh deferred on an unauthenticated
	// session waits for authentication.
	AuthWait time.Duration

	// InitialReadAttempts caps the refreshes GetCapability runs for a
	// device that has never produced a value.
	InitialReadAttempts int

	Policy retry.Policy
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		SweepInterval:       5 * time.Minute,
		SweepTimeout:        4 * time.Minute,
		Cooldown:            10 * time.Second,
		AuthWait:            2 * time.Minute,
		InitialReadAttempts: 3,
		Policy:              retry.DefaultPolicy(),
	}
}

type outcome struct {
	err error
	at  time.Time
}

// Scheduler keeps the device state store fresh: a periodic sweep over
// every account with devices, plus coalesced on-demand refreshes.
//
// For one account at most one refresh chain runs at a time. Chains run on
// the scheduler's own context, so a caller giving up does not abort the
// chain other callers are waiting on.
type Scheduler struct {
	sessions Sessions
	dir      Directory
	store    *device.StateStore
	opts     Options
	logger   Logger
	reporter ErrorReporter
	sleep    retry.SleepFunc
	now      func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	recent   map[string]outcome
	handlers []OutcomeHandler

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
}

// New creates a scheduler. Zero option fields take their defaults, except
// Cooldown, where zero disables outcome reuse.
func New(sessions Sessions, dir Directory, store *device.StateStore, opts Options) *Scheduler {
	def := DefaultOptions()
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	if opts.SweepTimeout <= 0 {
		opts.SweepTimeout = def.SweepTimeout
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	if opts.AuthWait <= 0 {
		opts.AuthWait = def.AuthWait
	}
	if opts.InitialReadAttempts <= 0 {
		opts.InitialReadAttempts = def.InitialReadAttempts
	}
	if opts.Policy.Step <= 0 {
		opts.Policy = def.Policy
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sessions: sessions,
		dir:      dir,
		store:    store,
		opts:     opts,
		logger:   noopLogger{},
		reporter: noopReporter{},
		sleep:    retry.Sleep,
		now:      time.Now,
		recent:   make(map[string]outcome),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// SetReporter sets the operator error channel.
func (s *Scheduler) SetReporter(reporter ErrorReporter) {
	s.reporter = reporter
}

// OnOutcome registers an observer of refresh chain outcomes.
func (s *Scheduler) OnOutcome(h OutcomeHandler) {
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
}

// Start begins the periodic sweep. The first sweep runs immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.ctx.Err() != nil {
		return
	}
	s.started = true

	s.wg.Add(1)
	go s.sweepLoop()

	s.logger.Info("sync scheduler started",
		"sweep_interval", s.opts.SweepInterval,
		"cooldown", s.opts.Cooldown)
}

// Stop ends the sweep and aborts running chains, waiting for background
// work to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.cancel()
		s.mu.Unlock()

		s.wg.Wait()
		s.logger.Info("sync scheduler stopped")
	})
}

func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
			if err := s.Sweep(s.ctx); err != nil && s.ctx.Err() == nil {
				s.logger.Warn("sweep finished with errors", "error", err)
			}
			// Re-armed only once the sweep returned, so sweeps never overlap.
			timer.Reset(s.opts.SweepInterval)
		}
	}
}

// Sweep refreshes every account that has at least one device, in
// parallel, and returns once all refreshes finished or SweepTimeout
// elapsed. It returns the first refresh error.
func (s *Scheduler) Sweep(ctx context.Context) error {
	accounts, err := s.dir.AccountIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.SweepTimeout)
	defer cancel()

	start := s.now()
	g := new(errgroup.Group)
	for _, id := range accounts {
		id := id
		g.Go(func() error {
			if err := s.RefreshAccount(ctx, id); err != nil {
				return fmt.Errorf("account %s: %w", id, err)
			}
			return nil
		})
	}
	err = g.Wait()

	s.logger.Debug("sweep completed", "accounts", len(accounts), "duration", s.now().Sub(start))
	return err
}

// RefreshAccount fetches the account's devices and applies them to the
// state store. Concurrent callers share one in-flight chain; callers
// arriving within Cooldown of its completion receive its outcome without
// a new fetch. ctx only bounds how long this caller waits.
func (s *Scheduler) RefreshAccount(ctx context.Context, accountID string) error {
	if s.ctx.Err() != nil {
		return ErrStopped
	}

	s.mu.Lock()
	o, ok := s.recentLocked(accountID)
	s.mu.Unlock()
	if ok {
		return o.err
	}

	ch := s.startChain(accountID)
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recentLocked returns the outcome of a chain that finished within
// Cooldown. s.mu must be held.
func (s *Scheduler) recentLocked(accountID string) (outcome, bool) {
	o, ok := s.recent[accountID]
	if !ok || s.now().Sub(o.at) >= s.opts.Cooldown {
		return outcome{}, false
	}
	return o, true
}

// startChain joins or starts the account's chain. The cool-down is checked
// again inside the flight: a chain may have finished since the caller
// looked. Running chains are counted in s.wg so Stop waits for them.
func (s *Scheduler) startChain(accountID string) <-chan singleflight.Result {
	return s.group.DoChan(accountID, func() (any, error) {
		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			return nil, ErrStopped
		}
		if o, ok := s.recentLocked(accountID); ok {
			s.mu.Unlock()
			return nil, o.err
		}
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()

		start := s.now()
		err := s.runChain(s.ctx, accountID)

		s.mu.Lock()
		s.recent[accountID] = outcome{err: err, at: s.now()}
		handlers := append([]OutcomeHandler{}, s.handlers...)
		s.mu.Unlock()

		for _, h := range handlers {
			h(accountID, err, s.now().Sub(start))
		}
		return nil, err
	})
}

// RequestRefresh starts a refresh in the background. Failures reach the
// error channel; nobody waits on the result.
func (s *Scheduler) RequestRefresh(accountID string) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.SweepTimeout)
		defer cancel()
		_ = s.RefreshAccount(ctx, accountID) //nolint:errcheck // reported by the chain
	}()
}

// runChain is one refresh chain: resolve the session, make sure it is
// authenticated, fetch, route. Failed fetches are retried per the policy;
// an authentication failure invalidates the session and defers the chain
// once until the account is authenticated again.
func (s *Scheduler) runChain(ctx context.Context, accountID string) error {
	session, err := s.sessions.Resolve(ctx, accountID)
	if err != nil {
		err = fmt.Errorf("resolving account %s: %w", accountID, err)
		s.report(err)
		return err
	}

	deferred := false
	attempt := retry.Start(accountID)
	for {
		if session.State() != auth.StateAuthenticated {
			if err := s.awaitAuthenticated(ctx, session, accountID); err != nil {
				s.report(err)
				return err
			}
			deferred = true
			attempt = retry.Start(accountID)
		}

		records, err := session.API().FetchDevices(ctx)
		if err == nil {
			return s.route(ctx, accountID, records)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		s.report(fmt.Errorf("refreshing account %s (attempt %d): %w", accountID, attempt.Count+1, err))

		if netatmo.IsAuthError(err) {
			session.Invalidate()
			if deferred {
				return fmt.Errorf("%w: account %s: %w", ErrNotAuthenticated, accountID, err)
			}
			s.logger.Warn("refresh deferred until account authenticates", "account_id", accountID)
			continue
		}

		attempt = attempt.Next()
		if s.opts.Policy.Exhausted(attempt) {
			return fmt.Errorf("%w: account %s after %d attempts: %w", ErrRetriesExhausted, accountID, attempt.Count, err)
		}

		delay := s.opts.Policy.Delay(attempt)
		s.logger.Debug("refresh retry scheduled", "account_id", accountID, "attempt", attempt.Count, "delay", delay)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Scheduler) awaitAuthenticated(ctx context.Context, session *auth.Session, accountID string) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.AuthWait)
	defer cancel()

	err := session.EnsureAuthenticated(waitCtx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return fmt.Errorf("%w: account %s after %s", ErrNotAuthenticated, accountID, s.opts.AuthWait)
	default:
		return fmt.Errorf("waiting for account %s: %w", accountID, err)
	}
}

// route applies the records that belong to a paired device of the
// account; everything else in the payload is ignored.
func (s *Scheduler) route(ctx context.Context, accountID string, records []netatmo.Record) error {
	devices, err := s.dir.ListByAccount(ctx, accountID)
	if err != nil {
		err = fmt.Errorf("listing devices of account %s: %w", accountID, err)
		s.report(err)
		return err
	}

	known := make(map[string]bool, len(devices))
	for i := range devices {
		known[devices[i].ID] = true
	}

	applied, changed := 0, 0
	for _, rec := range records {
		id := device.ComposeID(rec.StationID, rec.ModuleID)
		if !known[id] {
			continue
		}
		applied++
		changed += len(s.store.Apply(id, device.RawState{Type: rec.Type, Payload: rec.Payload}))
	}

	s.logger.Debug("account refreshed",
		"account_id", accountID,
		"records", len(records),
		"applied", applied,
		"changes", changed)
	return nil
}

// GetCapability returns the current value of a device capability.
//
// A cached value is returned as is. A device that already produced values
// but lacks this one fails fast with ErrCapabilityUnsupported. A device
// that never produced any value gets up to InitialReadAttempts refreshes
// before ErrNoValue.
func (s *Scheduler) GetCapability(ctx context.Context, deviceID, capabilityID string) (any, error) {
	dev, err := s.dir.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !dev.HasCapability(capabilityID) {
		return nil, fmt.Errorf("%w: %s on %s", device.ErrCapabilityUnsupported, capabilityID, deviceID)
	}

	for i := 0; ; i++ {
		if v, ok := s.store.Read(deviceID, capabilityID); ok {
			return v, nil
		}
		if s.store.HasValues(deviceID) {
			return nil, fmt.Errorf("%w: %s absent from %s", device.ErrCapabilityUnsupported, capabilityID, deviceID)
		}
		if i == s.opts.InitialReadAttempts {
			return nil, fmt.Errorf("%w: %s on %s", ErrNoValue, capabilityID, deviceID)
		}
		if i > 0 {
			// Let the previous outcome's cool-down pass so the next pass fetches.
			if err := s.sleep(ctx, s.opts.Cooldown); err != nil {
				return nil, err
			}
		}
		if err := s.RefreshAccount(ctx, dev.AccountID); err != nil {
			return nil, fmt.Errorf("%w: %s on %s: %w", ErrNoValue, capabilityID, deviceID, err)
		}
	}
}

func (s *Scheduler) report(err error) {
	s.logger.Error("refresh failed", "error", err)
	s.reporter.Report(err)
}
