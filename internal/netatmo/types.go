package netatmo

import (
	"context"
	"time"

	"github.com/Dijker/com.netatmo/internal/capability"
)

// Credentials start a session: either an authorization code from the
// consent redirect, or a previously persisted token pair.
type Credentials struct {
	Code         string
	AccessToken  string
	RefreshToken string
}

// IsCode reports whether the credentials carry an authorization code.
func (c Credentials) IsCode() bool {
	return c.Code != ""
}

// Token is an OAuth token pair.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Record is one station, module, relay or thermostat from a device listing.
type Record struct {
	StationID string             `json:"station_id"`
	ModuleID  string             `json:"module_id,omitempty"`
	Type      capability.TypeTag `json:"type"`
	Name      string             `json:"name"`
	Payload   map[string]any     `json:"payload"`
}

// SetpointSpec changes a thermostat's setpoint mode, optionally with a
// manual temperature and end time.
type SetpointSpec struct {
	RelayID     string
	ThermID     string
	Mode        string
	Temperature *float64
	EndTime     time.Time
}

// ScheduleSpec selects a thermostat program.
type ScheduleSpec struct {
	RelayID    string
	ThermID    string
	ScheduleID string
}

// Hooks receive token lifecycle events. They run synchronously on the
// goroutine making the call; a rotated token is delivered before the
// request that needed it is sent.
type Hooks struct {
	OnAccessToken   func(accessToken string)
	OnRefreshToken  func(refreshToken string)
	OnAuthenticated func()
	// OnError receives token refresh failures.
	OnError func(err error)
}

// API is the per-account remote client.
type API interface {
	// Exchange establishes the token pair from credentials.
	Exchange(ctx context.Context, creds Credentials) (Token, error)

	// Identify returns the stable user id of the authenticated account.
	Identify(ctx context.Context) (string, error)

	// FetchDevices lists every station, module and thermostat of the account.
	FetchDevices(ctx context.Context) ([]Record, error)

	SetThermPoint(ctx context.Context, spec SetpointSpec) error
	SwitchSchedule(ctx context.Context, spec ScheduleSpec) error

	// Token returns the current token pair, if any.
	Token() (Token, bool)
}

// Factory builds a client bound to the given hooks.
type Factory func(hooks Hooks) API
