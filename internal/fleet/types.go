package fleet

import (
	"fmt"
	"time"
)

// DeviceType represents the kind of accessory a device is.
type DeviceType string

// Known device types. The set of registrable types is defined by the
// fleet.type_limits table in config; these constants name the built-ins.
const (
	DeviceTypeRearCamera DeviceType = "rear-camera"
)

// Status represents the liveness state of a registered device.
type Status string

// Status constants. A device is Active while heartbeats keep arriving and
// becomes Inactive once it has been silent past the inactivity threshold.
// Silence past the removal threshold deletes the record entirely.
const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Endpoint is the network address a device registered from, and where
// forwarded commands are sent.
type Endpoint struct {
	Address string `json:"ip_address"`
	Port    int    `json:"port"`
}

// BaseURL returns the device's HTTP base URL.
func (e Endpoint) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", e.Address, e.Port)
}

// DeviceRecord is a registered device as held by the store.
//
// The record is the unit of copy: store operations hand out value copies,
// so callers can never mutate registry state through a returned record.
type DeviceRecord struct {
	DeviceID string     `json:"device_id"`
	Type     DeviceType `json:"device_type"`
	Endpoint

	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastSeen     time.Time `json:"last_seen"`
	FailureCount int       `json:"failure_count"`
}

// Stats summarises the registry for monitoring endpoints.
type Stats struct {
	TotalDevices int                `json:"total_devices"`
	Active       int                `json:"active_devices"`
	Inactive     int                `json:"inactive_devices"`
	ByType       map[DeviceType]int `json:"devices_by_type"`
	Limits       map[DeviceType]int `json:"device_limits"`
}

// RegistrationResult reports what a register-or-heartbeat call did.
type RegistrationResult struct {
	Record  DeviceRecord
	Created bool
}

// Filter narrows List results.
type Filter struct {
	// ActiveOnly restricts results to devices that are currently live:
	// status Active and last heartbeat within the inactivity threshold.
	// A record the sweeper has not visited yet is still reported inactive
	// once its threshold has passed.
	ActiveOnly bool

	// Type restricts results to a single device type when non-empty.
	Type DeviceType
}

// Logger defines the logging interface used by this package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
