package driver

import (
	"context"
	"fmt"

	"github.com/Dijker/com.netatmo/internal/device"
)

// Set is the collection of drivers, one per device category.
type Set struct {
	catalog Catalog
	drivers map[device.Driver]*Driver
	order   []device.Driver
}

// NewSet creates a set over drivers sharing catalog.
func NewSet(catalog Catalog, drivers ...*Driver) *Set {
	s := &Set{catalog: catalog, drivers: make(map[device.Driver]*Driver, len(drivers))}
	for _, d := range drivers {
		s.drivers[d.Name()] = d
		s.order = append(s.order, d.Name())
	}
	return s
}

// Get returns the driver registered under name.
func (s *Set) Get(name device.Driver) (*Driver, error) {
	d, ok := s.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
	return d, nil
}

// All returns the drivers in registration order.
func (s *Set) All() []*Driver {
	out := make([]*Driver, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.drivers[name])
	}
	return out
}

// ForDevice returns the driver a device was paired through.
func (s *Set) ForDevice(ctx context.Context, id string) (*Driver, error) {
	dev, err := s.catalog.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Get(dev.Driver)
}

// DevicesForAccount returns the devices of every driver owned by the account.
func (s *Set) DevicesForAccount(ctx context.Context, accountID string) ([]string, error) {
	var ids []string
	for _, d := range s.All() {
		got, err := d.DevicesForAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, got...)
	}
	return ids, nil
}

// SetCapability writes a capability through the driver the device was
// paired with.
func (s *Set) SetCapability(ctx context.Context, deviceID, capabilityID string, value any) error {
	d, err := s.ForDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	return d.Set(ctx, deviceID, capabilityID, value)
}
