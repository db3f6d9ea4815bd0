package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/Dijker/com.netatmo/internal/capability"
)

// SetMode switches a thermostat to one of the setpoint modes.
func (d *Driver) SetMode(ctx context.Context, id, mode string) error {
	return d.Set(ctx, id, capability.ThermostatMode, mode)
}

// SetSchedule activates the thermostat program with the given id.
func (d *Driver) SetSchedule(ctx context.Context, id, programID string) error {
	return d.Set(ctx, id, capability.ProgramList, programID)
}

// ScheduleAutocomplete returns the device's programs whose name contains
// query, ignoring case. An empty query matches every program.
func (d *Driver) ScheduleAutocomplete(ctx context.Context, id, query string) ([]capability.Program, error) {
	v, err := d.Get(ctx, id, capability.ProgramList)
	if err != nil {
		return nil, err
	}
	programs, ok := v.([]capability.Program)
	if !ok {
		return nil, fmt.Errorf("%w: program list of %s has type %T", ErrInvalidValue, id, v)
	}

	query = strings.ToLower(query)
	matches := make([]capability.Program, 0, len(programs))
	for _, p := range programs {
		if strings.Contains(strings.ToLower(p.Name), query) {
			matches = append(matches, capability.Program{ID: p.ID, Name: p.Name})
		}
	}
	return matches, nil
}
