package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// commandPaths maps each device type to its commands and the HTTP path
// each command hits on the device. The table is static: a command not
// listed here is unknown, whatever the device might actually serve.
var commandPaths = map[DeviceType]map[string]string{
	DeviceTypeRearCamera: {
		"up":     "/api/v1/rear-camera/up",
		"down":   "/api/v1/rear-camera/down",
		"status": "/api/v1/rear-camera/status",
	},
}

// CommandsFor returns the commands available for a device type.
func CommandsFor(t DeviceType) []string {
	paths, ok := commandPaths[t]
	if !ok {
		return nil
	}
	commands := make([]string, 0, len(paths))
	for cmd := range paths {
		commands = append(commands, cmd)
	}
	return commands
}

// DispatchMetrics receives dispatch failure counts. Implemented by the
// InfluxDB client; nil disables metric recording.
type DispatchMetrics interface {
	WriteDispatchFailure(deviceID, command string, failureCount int)
}

// CommFailure wraps ErrCommunication with the device's cumulative failure
// count so the API can surface it.
type CommFailure struct {
	FailureCount int
	Err          error
}

func (e *CommFailure) Error() string {
	return fmt.Sprintf("%v (failure_count=%d)", e.Err, e.FailureCount)
}

func (e *CommFailure) Unwrap() error { return ErrCommunication }

// DeviceFault wraps ErrDevice with the status code and payload the device
// answered with.
type DeviceFault struct {
	StatusCode int
	Payload    map[string]any
}

func (e *DeviceFault) Error() string {
	return fmt.Sprintf("%v: status %d", ErrDevice, e.StatusCode)
}

func (e *DeviceFault) Unwrap() error { return ErrDevice }

// Dispatcher forwards commands to registered devices over HTTP.
//
// The store lock is never held across the outbound call: the pre-dispatch
// check and the post-failure increment are separate short acquisitions.
// A heartbeat or sweep can therefore land mid-dispatch; the dispatch
// completes against the endpoint it read.
type Dispatcher struct {
	store   *Store
	client  *http.Client
	logger  Logger
	metrics DispatchMetrics
}

// NewDispatcher creates a dispatcher with the given per-command timeout.
func NewDispatcher(store *Store, timeout time.Duration, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// SetMetrics attaches a metrics recorder.
func (d *Dispatcher) SetMetrics(metrics DispatchMetrics) {
	d.metrics = metrics
}

// Dispatch forwards a command to a device and returns its response payload.
//
// Returns ErrNotFound for an unregistered ID, ErrNotActive for an inactive
// device (no transport call is made), and ErrUnknownCommand when the
// command is not in the device type's table. A transport failure increments
// the device's failure count and returns a *CommFailure wrapping
// ErrCommunication. A non-2xx device reply increments the count and returns
// a *DeviceFault wrapping ErrDevice.
//
// On success the device's payload is returned unmodified. Success does not
// reset the failure count; only heartbeats do.
func (d *Dispatcher) Dispatch(ctx context.Context, id, command string, params map[string]any) (map[string]any, error) {
	rec, ok := d.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	if rec.Status != StatusActive {
		return nil, fmt.Errorf("%w: %q is %s", ErrNotActive, id, rec.Status)
	}

	path, ok := commandPaths[rec.Type][command]
	if !ok {
		return nil, fmt.Errorf("%w: %q for type %q", ErrUnknownCommand, command, rec.Type)
	}

	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding command parameters: %w", err)
	}

	url := rec.BaseURL() + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	d.logger.Debug("dispatching command",
		"device_id", id,
		"command", command,
		"url", url,
	)

	// Outbound call made without any store lock held.
	resp, err := d.client.Do(req)
	if err != nil {
		count := d.recordFailure(id, command)
		d.logger.Warn("device unreachable",
			"device_id", id,
			"command", command,
			"failure_count", count,
			"error", err,
		)
		return nil, &CommFailure{FailureCount: count, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // Best effort cleanup

	payload := decodePayload(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		count := d.recordFailure(id, command)
		d.logger.Warn("device rejected command",
			"device_id", id,
			"command", command,
			"status", resp.StatusCode,
			"failure_count", count,
		)
		return nil, &DeviceFault{StatusCode: resp.StatusCode, Payload: payload}
	}

	return payload, nil
}

// recordFailure bumps the failure counter and records the metric.
func (d *Dispatcher) recordFailure(id, command string) int {
	count := d.store.IncrementFailure(id)
	if d.metrics != nil && count >= 0 {
		d.metrics.WriteDispatchFailure(id, command, count)
	}
	return count
}

// decodePayload parses a device response body as JSON. Non-JSON bodies
// are preserved under a "raw" key so nothing the device said is lost.
func decodePayload(r io.Reader) map[string]any {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil || len(data) == 0 {
		return map[string]any{}
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return map[string]any{"raw": string(data)}
	}
	return payload
}
