package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCapability = "capability"
	MeasurementRefresh    = "refresh"
)

// WriteCapability records a numeric capability value at the time it was
// synced.
func (c *Client) WriteCapability(deviceID, capabilityID string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = c.now()
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementCapability,
		map[string]string{
			"device_id":  deviceID,
			"capability": capabilityID,
		},
		map[string]any{"value": value},
		at,
	))
}

// WriteRefresh records the outcome and duration of one refresh chain.
func (c *Client) WriteRefresh(accountID string, success bool, elapsed time.Duration) {
	if !c.IsConnected() {
		return
	}

	result := "ok"
	if !success {
		result = "error"
	}
	c.writer.WritePoint(write.NewPoint(
		MeasurementRefresh,
		map[string]string{
			"account_id": accountID,
			"result":     result,
		},
		map[string]any{
			"success":     success,
			"duration_ms": elapsed.Milliseconds(),
		},
		c.now(),
	))
}
