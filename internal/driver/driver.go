package driver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/Dijker/com.netatmo/internal/auth"
	"github.com/Dijker/com.netatmo/internal/capability"
	"github.com/Dijker/com.netatmo/internal/device"
	"github.com/Dijker/com.netatmo/internal/netatmo"
)

// ManualSetpointDuration is how long a manual target temperature holds
// before the thermostat returns to its program.
const ManualSetpointDuration = 3 * time.Hour

// DefaultAuthWait bounds how long a driver call waits for an account that
// is being re-authorized.
const DefaultAuthWait = 15 * time.Second

// Logger defines the logging interface used by drivers.
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

// Sessions resolves account sessions.
type Sessions interface {
	Resolve(ctx context.Context, accountID string) (*auth.Session, error)
}

// Catalog is the persistent device catalogue. *device.Registry implements it.
type Catalog interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	ListByDriver(ctx context.Context, driver device.Driver) ([]device.Device, error)
	CreateDevice(ctx context.Context, d *device.Device) error
	DeleteDevice(ctx context.Context, id string) error
}

// Refresher reads capability values and requests account refreshes.
// *cloudsync.Scheduler implements it.
type Refresher interface {
	GetCapability(ctx context.Context, deviceID, capabilityID string) (any, error)
	RequestRefresh(accountID string)
}

// StateCache drops cached values of deleted devices.
type StateCache interface {
	Forget(deviceID string)
}

// Definition describes one device category.
type Definition struct {
	Name  device.Driver
	Types []capability.TypeTag
}

// WeatherStation pairs stations and their outdoor, wind, rain and indoor
// modules.
func WeatherStation() Definition {
	return Definition{
		Name: device.DriverWeatherStation,
		Types: []capability.TypeTag{
			capability.TypeStation,
			capability.TypeOutdoor,
			capability.TypeWind,
			capability.TypeRain,
			capability.TypeIndoor,
		},
	}
}

// Thermostat pairs thermostats, addressed through their relay.
func Thermostat() Definition {
	return Definition{
		Name:  device.DriverThermostat,
		Types: []capability.TypeTag{capability.TypeThermostat},
	}
}

// Deps are the collaborators a driver needs.
type Deps struct {
	Sessions  Sessions
	Catalog   Catalog
	Mapper    *capability.Registry
	Refresher Refresher
	State     StateCache

	// AuthWait bounds the wait for an unauthenticated account. Zero means
	// DefaultAuthWait.
	AuthWait time.Duration
}

// Candidate is a device offered for pairing.
type Candidate struct {
	ID           string             `json:"id"`
	AccountID    string             `json:"account_id"`
	StationID    string             `json:"station_id"`
	ModuleID     string             `json:"module_id,omitempty"`
	Type         capability.TypeTag `json:"type"`
	Name         string             `json:"name"`
	Capabilities []string           `json:"capabilities"`
	Paired       bool               `json:"paired"`
}

// Driver manages the devices of one category: pairing, capability reads
// and writes, and deletion.
type Driver struct {
	def    Definition
	types  map[capability.TypeTag]bool
	deps   Deps
	now    func() time.Time
	logger Logger
}

// New creates a driver.
func New(def Definition, deps Deps) *Driver {
	types := make(map[capability.TypeTag]bool, len(def.Types))
	for _, t := range def.Types {
		types[t] = true
	}
	if deps.AuthWait <= 0 {
		deps.AuthWait = DefaultAuthWait
	}
	return &Driver{
		def:    def,
		types:  types,
		deps:   deps,
		now:    time.Now,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the driver.
func (d *Driver) SetLogger(logger Logger) {
	d.logger = logger
}

// Name returns the driver's category name.
func (d *Driver) Name() device.Driver {
	return d.def.Name
}

// Handles reports whether the driver pairs devices of type tag.
func (d *Driver) Handles(tag capability.TypeTag) bool {
	return d.types[tag]
}

// DevicesForAccount returns the ids of this driver's devices owned by the
// account.
func (d *Driver) DevicesForAccount(ctx context.Context, accountID string) ([]string, error) {
	devices, err := d.deps.Catalog.ListByDriver(ctx, d.def.Name)
	if err != nil {
		return nil, err
	}

	var ids []string
	for i := range devices {
		if devices[i].AccountID == accountID {
			ids = append(ids, devices[i].ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *Driver) awaitAuthenticated(ctx context.Context, session *auth.Session, accountID string) error {
	waitCtx, cancel := context.WithTimeout(ctx, d.deps.AuthWait)
	defer cancel()

	err := session.EnsureAuthenticated(waitCtx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return fmt.Errorf("%w: account %s after %s", ErrNotAuthenticated, accountID, d.deps.AuthWait)
	default:
		return fmt.Errorf("account %s: %w", accountID, err)
	}
}

// ListPairable fetches the account's devices and returns those of this
// driver's types.
func (d *Driver) ListPairable(ctx context.Context, accountID string) ([]Candidate, error) {
	session, err := d.deps.Sessions.Resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := d.awaitAuthenticated(ctx, session, accountID); err != nil {
		return nil, err
	}

	records, err := session.API().FetchDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices of account %s: %w", accountID, err)
	}

	paired, err := d.DevicesForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	isPaired := make(map[string]bool, len(paired))
	for _, id := range paired {
		isPaired[id] = true
	}

	var candidates []Candidate
	for _, rec := range records {
		if !d.types[rec.Type] {
			continue
		}
		id := device.ComposeID(rec.StationID, rec.ModuleID)
		candidates = append(candidates, Candidate{
			ID:           id,
			AccountID:    accountID,
			StationID:    rec.StationID,
			ModuleID:     rec.ModuleID,
			Type:         rec.Type,
			Name:         rec.Name,
			Capabilities: d.deps.Mapper.IDs(rec.Type),
			Paired:       isPaired[id],
		})
	}
	return candidates, nil
}

// AddDevice pairs a candidate. Its capability set and capability map are
// fixed from the mapping table at this point. A refresh is requested so
// the device gets values without waiting for the next sweep.
func (d *Driver) AddDevice(ctx context.Context, c Candidate) (*device.Device, error) {
	if !d.types[c.Type] {
		return nil, fmt.Errorf("%w: %s does not pair %q", ErrUnsupportedType, d.def.Name, c.Type)
	}
	if _, err := d.deps.Sessions.Resolve(ctx, c.AccountID); err != nil {
		return nil, err
	}

	name := c.Name
	if name == "" {
		name = device.ComposeID(c.StationID, c.ModuleID)
	}
	dev := &device.Device{
		ID:            device.ComposeID(c.StationID, c.ModuleID),
		AccountID:     c.AccountID,
		Driver:        d.def.Name,
		Type:          c.Type,
		StationID:     c.StationID,
		ModuleID:      c.ModuleID,
		Name:          name,
		Capabilities:  d.deps.Mapper.IDs(c.Type),
		CapabilityMap: d.deps.Mapper.Paths(c.Type),
	}
	if err := d.deps.Catalog.CreateDevice(ctx, dev); err != nil {
		return nil, err
	}

	d.deps.Refresher.RequestRefresh(dev.AccountID)
	d.logger.Info("device added", "driver", d.def.Name, "device_id", dev.ID, "account_id", dev.AccountID)
	return dev, nil
}

// DeleteDevice unpairs a device. The owning account stays registered.
func (d *Driver) DeleteDevice(ctx context.Context, id string) error {
	if _, err := d.device(ctx, id); err != nil {
		return err
	}
	if err := d.deps.Catalog.DeleteDevice(ctx, id); err != nil {
		return err
	}
	if d.deps.State != nil {
		d.deps.State.Forget(id)
	}
	d.logger.Info("device deleted", "driver", d.def.Name, "device_id", id)
	return nil
}

// Get returns the current value of a device capability.
func (d *Driver) Get(ctx context.Context, id, capabilityID string) (any, error) {
	dev, err := d.device(ctx, id)
	if err != nil {
		return nil, err
	}
	if !dev.HasCapability(capabilityID) {
		return nil, fmt.Errorf("%w: %s on %s", device.ErrCapabilityUnsupported, capabilityID, id)
	}
	return d.deps.Refresher.GetCapability(ctx, id, capabilityID)
}

// Set writes a capability value to the cloud and requests a refresh so
// the new state is read back.
//
// Accepted values: target_temperature a number (held for
// ManualSetpointDuration), thermostat_mode one of the mode strings,
// program_list a program id or a capability.Program.
func (d *Driver) Set(ctx context.Context, id, capabilityID string, value any) error {
	dev, err := d.device(ctx, id)
	if err != nil {
		return err
	}
	if !dev.HasCapability(capabilityID) {
		return fmt.Errorf("%w: %s on %s", device.ErrCapabilityUnsupported, capabilityID, id)
	}
	desc, ok := d.deps.Mapper.Lookup(dev.Type, capabilityID)
	if !ok || !desc.Writable {
		return fmt.Errorf("%w: %s", ErrReadOnly, capabilityID)
	}

	session, err := d.deps.Sessions.Resolve(ctx, dev.AccountID)
	if err != nil {
		return err
	}
	if err := d.awaitAuthenticated(ctx, session, dev.AccountID); err != nil {
		return err
	}
	api := session.API()

	switch capabilityID {
	case capability.TargetTemperature:
		temp, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("%w: %s needs a number, got %T", ErrInvalidValue, capabilityID, value)
		}
		err = api.SetThermPoint(ctx, netatmo.SetpointSpec{
			RelayID:     dev.StationID,
			ThermID:     dev.ModuleID,
			Mode:        capability.ModeManual,
			Temperature: &temp,
			EndTime:     d.now().Add(ManualSetpointDuration),
		})

	case capability.ThermostatMode:
		mode, ok := value.(string)
		if !ok || !slices.Contains(desc.Values, mode) {
			return fmt.Errorf("%w: %s must be one of %s", ErrInvalidValue, capabilityID, strings.Join(desc.Values, ", "))
		}
		spec := netatmo.SetpointSpec{RelayID: dev.StationID, ThermID: dev.ModuleID, Mode: mode}
		if mode == capability.ModeManual {
			current, err := d.deps.Refresher.GetCapability(ctx, id, capability.TargetTemperature)
			if err != nil {
				return fmt.Errorf("manual mode needs a target temperature: %w", err)
			}
			temp, _ := toFloat(current)
			spec.Temperature = &temp
			spec.EndTime = d.now().Add(ManualSetpointDuration)
		}
		err = api.SetThermPoint(ctx, spec)

	case capability.ProgramList:
		programID, ok := programIDOf(value)
		if !ok {
			return fmt.Errorf("%w: %s needs a program id", ErrInvalidValue, capabilityID)
		}
		err = api.SwitchSchedule(ctx, netatmo.ScheduleSpec{
			RelayID:    dev.StationID,
			ThermID:    dev.ModuleID,
			ScheduleID: programID,
		})

	default:
		return fmt.Errorf("%w: %s", ErrReadOnly, capabilityID)
	}
	if err != nil {
		return fmt.Errorf("setting %s on %s: %w", capabilityID, id, err)
	}

	d.logger.Info("capability set", "device_id", id, "capability", capabilityID, "value", value)
	d.deps.Refresher.RequestRefresh(dev.AccountID)
	return nil
}

// device loads a device and checks it belongs to this driver.
func (d *Driver) device(ctx context.Context, id string) (*device.Device, error) {
	dev, err := d.deps.Catalog.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if dev.Driver != d.def.Name {
		return nil, fmt.Errorf("%w: %s belongs to %s", ErrWrongDriver, id, dev.Driver)
	}
	return dev, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func programIDOf(v any) (string, bool) {
	switch p := v.(type) {
	case string:
		return p, p != ""
	case capability.Program:
		return p.ID, p.ID != ""
	case map[string]any:
		id, ok := p["program_id"].(string)
		return id, ok && id != ""
	default:
		return "", false
	}
}

// IsClientError reports whether err stems from the caller's input rather
// than from the service or the cloud.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidValue) || errors.Is(err, ErrReadOnly) ||
		errors.Is(err, ErrUnsupportedType) || errors.Is(err, ErrWrongDriver)
}
