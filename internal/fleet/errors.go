package fleet

import "errors"

// Domain errors for the fleet package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, fleet.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrValidation is returned when registration input fails validation.
	ErrValidation = errors.New("fleet: validation failed")

	// ErrInvalidDeviceType is returned when a device type is not recognised.
	// Validation wraps it together with ErrValidation so either check succeeds.
	ErrInvalidDeviceType = errors.New("fleet: invalid device type")

	// ErrIdentityConflict is returned when a registration reuses an existing
	// device ID from a different network address. The stored record is
	// left untouched.
	ErrIdentityConflict = errors.New("fleet: device id registered from different address")

	// ErrCapacityExceeded is returned when registering a new device would
	// exceed the configured limit for its type.
	ErrCapacityExceeded = errors.New("fleet: device type at capacity")

	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("fleet: device not found")

	// ErrNotActive is returned when dispatching a command to a device that
	// is not currently active. No transport call is made.
	ErrNotActive = errors.New("fleet: device not active")

	// ErrUnknownCommand is returned when a command is not defined for the
	// target device's type.
	ErrUnknownCommand = errors.New("fleet: unknown command for device type")

	// ErrCommunication is returned when a forwarded command cannot reach
	// the device (timeout, refused connection, transport failure).
	ErrCommunication = errors.New("fleet: device communication failed")

	// ErrDevice is returned when the device was reached but answered a
	// command with a non-success status.
	ErrDevice = errors.New("fleet: device reported error")
)
