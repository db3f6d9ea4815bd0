package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Dijker/com.netatmo/internal/audit"
	"github.com/Dijker/com.netatmo/internal/auth"
	"github.com/Dijker/com.netatmo/internal/device"
	"github.com/Dijker/com.netatmo/internal/driver"
	"github.com/Dijker/com.netatmo/internal/infrastructure/config"
	"github.com/Dijker/com.netatmo/internal/infrastructure/logging"
	"github.com/Dijker/com.netatmo/internal/netatmo"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Accounts is the account registry. *auth.Registry implements it.
type Accounts interface {
	Authenticate(ctx context.Context, creds netatmo.Credentials) (string, error)
	List() []auth.AccountInfo
	Remove(ctx context.Context, accountID string) error
}

// Authorizer runs the OAuth consent flow. *auth.Authorizer implements it.
type Authorizer interface {
	Begin() (consentURL, state string)
	Complete(ctx context.Context, state, code string) (string, error)
}

// Refresher forces a refresh of one account. *cloudsync.Scheduler
// implements it.
type Refresher interface {
	RefreshAccount(ctx context.Context, accountID string) error
}

// Catalog lists and renames paired devices. *device.Registry implements it.
type Catalog interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	ListDevices(ctx context.Context) ([]device.Device, error)
	ListByAccount(ctx context.Context, accountID string) ([]device.Device, error)
	RenameDevice(ctx context.Context, id, name string) (*device.Device, error)
}

// StateView exposes cached capability values. *device.StateStore
// implements it.
type StateView interface {
	Snapshot(deviceID string) map[string]any
	LastSynced(deviceID string) (time.Time, bool)
}

// HistoryReader reads recorded capability transitions.
type HistoryReader interface {
	GetHistory(ctx context.Context, deviceID string, limit int) ([]device.HistoryEntry, error)
}

// AuditTrail records and lists administrative actions.
// *audit.SQLiteRepository implements it.
type AuditTrail interface {
	Record(ctx context.Context, e audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.Page, error)
}

// HealthChecker is a component that can report its health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the API server. History, State, Audit,
// Checks and OnAccountRemoved are optional.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Accounts   Accounts
	Authorizer Authorizer
	Refresher  Refresher
	Catalog    Catalog
	Drivers    *driver.Set
	State      StateView
	History    HistoryReader
	Audit      AuditTrail
	Checks     map[string]HealthChecker
	Version    string

	// OnAccountRemoved runs after an account was removed.
	OnAccountRemoved func(accountID string)
}

// Server is the HTTP API server.
type Server struct {
	cfg              config.APIConfig
	logger           *logging.Logger
	accounts         Accounts
	authorizer       Authorizer
	refresher        Refresher
	catalog          Catalog
	drivers          *driver.Set
	state            StateView
	history          HistoryReader
	audit            AuditTrail
	checks           map[string]HealthChecker
	version          string
	onAccountRemoved func(accountID string)
	server           *http.Server
}

// New creates a server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Accounts == nil || deps.Authorizer == nil:
		return nil, fmt.Errorf("account registry and authorizer are required")
	case deps.Catalog == nil || deps.Drivers == nil:
		return nil, fmt.Errorf("device catalog and drivers are required")
	case deps.Refresher == nil:
		return nil, fmt.Errorf("refresher is required")
	}

	return &Server{
		cfg:              deps.Config,
		logger:           deps.Logger,
		accounts:         deps.Accounts,
		authorizer:       deps.Authorizer,
		refresher:        deps.Refresher,
		catalog:          deps.Catalog,
		drivers:          deps.Drivers,
		state:            deps.State,
		history:          deps.History,
		audit:            deps.Audit,
		checks:           deps.Checks,
		version:          deps.Version,
		onAccountRemoved: deps.OnAccountRemoved,
	}, nil
}

// Start launches the HTTP listener in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close waits up to gracefulShutdownTimeout for in-flight requests, then
// closes the listener.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server was started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
