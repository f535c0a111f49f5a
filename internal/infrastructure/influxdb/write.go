package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteHeartbeat records a heartbeat observation for a device.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Charting heartbeat points per device shows gaps where a device went
// quiet, which lines up with inactive/removed transitions.
//
// Parameters:
//   - deviceID: The registered device identifier (e.g., "cam-1")
//   - deviceType: The device type (e.g., "rear-camera")
//   - isNew: Whether this observation created the registration
func (c *Client) WriteHeartbeat(deviceID, deviceType string, isNew bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"fleet_heartbeats",
		map[string]string{
			"device_id":   deviceID,
			"device_type": deviceType,
		},
		map[string]interface{}{
			"count": 1,
			"new":   isNew,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSweepResult records the outcome of a liveness sweep.
//
// Parameters:
//   - markedInactive: Number of devices marked inactive this sweep
//   - removed: Number of devices removed this sweep
//   - remaining: Devices still registered after the sweep
func (c *Client) WriteSweepResult(markedInactive, removed, remaining int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"fleet_sweeps",
		map[string]string{},
		map[string]interface{}{
			"marked_inactive": markedInactive,
			"removed":         removed,
			"remaining":       remaining,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDispatchFailure records a failed command dispatch to a device.
//
// Parameters:
//   - deviceID: The target device identifier
//   - command: The command that failed (e.g., "up")
//   - failureCount: The device's cumulative failure count after this failure
func (c *Client) WriteDispatchFailure(deviceID, command string, failureCount int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"fleet_dispatch_failures",
		map[string]string{
			"device_id": deviceID,
			"command":   command,
		},
		map[string]interface{}{
			"failure_count": failureCount,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
