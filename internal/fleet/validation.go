package fleet

import (
	"fmt"
	"net"
	"regexp"
)

// maxDeviceIDLength bounds device identifiers. Long enough for any sane
// naming scheme, short enough to keep log lines and topics readable.
const maxDeviceIDLength = 64

// deviceIDPattern matches identifiers like "cam-1" or "rear_camera_2".
var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateDeviceID checks that a device identifier is usable.
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: device id is required", ErrValidation)
	}
	if len(id) > maxDeviceIDLength {
		return fmt.Errorf("%w: device id exceeds %d characters", ErrValidation, maxDeviceIDLength)
	}
	if !deviceIDPattern.MatchString(id) {
		return fmt.Errorf("%w: device id %q contains invalid characters", ErrValidation, id)
	}
	return nil
}

// ValidateAddress checks that an address is a literal IP address.
// Hostnames are rejected: the registry records where a device actually
// registered from, not what it claims to resolve to.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: ip address is required", ErrValidation)
	}
	if net.ParseIP(addr) == nil {
		return fmt.Errorf("%w: %q is not a valid ip address", ErrValidation, addr)
	}
	return nil
}

// ValidatePort checks that a port is in the valid TCP range.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrValidation, port)
	}
	return nil
}
