package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the device package.
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

// Registry is the catalogue of paired devices. It wraps a Repository with
// an in-memory cache loaded by RefreshCache and kept in sync by its own
// mutating operations.
//
// All public methods are thread-safe. Returned devices are deep copies.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	loaded  bool
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].ID] = devices[i].DeepCopy()
	}
	r.loaded = true

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice returns ErrDeviceNotFound if no device has the given ID.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	loaded := r.loaded
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	if loaded {
		return nil, ErrDeviceNotFound
	}

	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = d.DeepCopy()
	r.cacheMu.Unlock()

	return d, nil
}

// ListDevices returns all devices sorted by name.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	return r.filter(ctx, func(*Device) bool { return true }, r.repo.List)
}

// ListByAccount returns the devices owned by accountID.
func (r *Registry) ListByAccount(ctx context.Context, accountID string) ([]Device, error) {
	return r.filter(ctx,
		func(d *Device) bool { return d.AccountID == accountID },
		func(ctx context.Context) ([]Device, error) { return r.repo.ListByAccount(ctx, accountID) },
	)
}

// ListByDriver returns the devices paired through driver.
func (r *Registry) ListByDriver(ctx context.Context, driver Driver) ([]Device, error) {
	return r.filter(ctx,
		func(d *Device) bool { return d.Driver == driver },
		func(ctx context.Context) ([]Device, error) { return r.repo.ListByDriver(ctx, driver) },
	)
}

// AccountIDs returns the distinct accounts owning at least one device, sorted.
func (r *Registry) AccountIDs(ctx context.Context) ([]string, error) {
	devices, err := r.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	for _, d := range devices {
		if !seen[d.AccountID] {
			seen[d.AccountID] = true
			ids = append(ids, d.AccountID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Registry) filter(ctx context.Context, keep func(*Device) bool, fallback func(context.Context) ([]Device, error)) ([]Device, error) {
	r.cacheMu.RLock()
	if !r.loaded {
		r.cacheMu.RUnlock()
		return fallback(ctx)
	}

	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		if keep(d) {
			devices = append(devices, *d.DeepCopy())
		}
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
	return devices, nil
}

// CreateDevice validates and persists a newly paired device.
func (r *Registry) CreateDevice(ctx context.Context, d *Device) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device paired", "device_id", d.ID, "account_id", d.AccountID, "type", d.Type)
	return nil
}

// RenameDevice changes the display name of a device.
func (r *Registry) RenameDevice(ctx context.Context, id, name string) (*Device, error) {
	d, err := r.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Name = name
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := r.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = d.DeepCopy()
	r.cacheMu.Unlock()
	return d, nil
}

// DeleteDevice removes a device. The owning account is left untouched.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "device_id", id)
	return nil
}
