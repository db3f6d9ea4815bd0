package device

import (
	"fmt"
	"time"

	"github.com/Dijker/com.netatmo/internal/capability"
)

// Driver names the device category a device was paired through.
type Driver string

// Known drivers.
const (
	DriverWeatherStation Driver = "weatherstation"
	DriverThermostat     Driver = "thermostat"
)

// Device is a paired Netatmo station, module or thermostat.
// It matches the devices table in migrations/20261001_120100_devices.up.sql.
type Device struct {
	// ID is the vendor station id, composed with the module id for modules.
	ID string `json:"id"`

	// AccountID is the stable user identity of the owning account.
	AccountID string `json:"account_id"`

	Driver Driver             `json:"driver"`
	Type   capability.TypeTag `json:"type"`

	StationID string `json:"station_id"`
	ModuleID  string `json:"module_id,omitempty"`
	Name      string `json:"name"`

	// Capabilities are declared at pairing time and never change afterwards.
	Capabilities []string `json:"capabilities"`

	// CapabilityMap records the payload path of each capability at pairing time.
	CapabilityMap map[string]string `json:"capability_map"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ComposeID builds a device ID from the vendor station and module ids.
// A station itself, or a thermostat addressed by its relay, uses the bare
// station id.
func ComposeID(stationID, moduleID string) string {
	if moduleID == "" || moduleID == stationID {
		return stationID
	}
	return stationID + "-" + moduleID
}

// HasCapability reports whether the device declared capability id at pairing.
func (d *Device) HasCapability(id string) bool {
	for _, c := range d.Capabilities {
		if c == id {
			return true
		}
	}
	return false
}

// Validate checks required fields.
func (d *Device) Validate() error {
	switch {
	case d.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	case d.AccountID == "":
		return fmt.Errorf("%w: account_id is required", ErrInvalidDevice)
	case d.StationID == "":
		return fmt.Errorf("%w: station_id is required", ErrInvalidDevice)
	case d.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if d.Driver != DriverWeatherStation && d.Driver != DriverThermostat {
		return fmt.Errorf("%w: unknown driver %q", ErrInvalidDevice, d.Driver)
	}
	if !capability.Known(d.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDevice, d.Type)
	}
	if d.ID != ComposeID(d.StationID, d.ModuleID) {
		return fmt.Errorf("%w: id %q does not match station/module", ErrInvalidDevice, d.ID)
	}
	return nil
}

// DeepCopy returns an independent copy so cached devices cannot be mutated
// through returned values.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	if d.Capabilities != nil {
		cpy.Capabilities = append([]string(nil), d.Capabilities...)
	}
	if d.CapabilityMap != nil {
		cpy.CapabilityMap = make(map[string]string, len(d.CapabilityMap))
		for k, v := range d.CapabilityMap {
			cpy.CapabilityMap[k] = v
		}
	}
	return &cpy
}
