package fleet

import (
	"context"
	"time"
)

// Registrar processes device registrations and heartbeats.
//
// The same operation serves both: an unknown ID creates a registration,
// a known ID from the same address refreshes it. Devices never need to
// know which one happened.
type Registrar struct {
	store  *Store
	sink   Sink
	logger Logger
}

// NewRegistrar creates a registrar over the given store.
// Events are emitted to sink; pass nil to disable emission.
func NewRegistrar(store *Store, sink Sink, logger Logger) *Registrar {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registrar{
		store:  store,
		sink:   sink,
		logger: logger,
	}
}

// RegisterOrHeartbeat registers a device or refreshes an existing registration.
//
// Input failures return ErrValidation (empty/malformed id, unknown type,
// non-IP address, port out of range). A new ID at type capacity returns
// ErrCapacityExceeded and changes nothing. A known ID from a different
// address returns ErrIdentityConflict and leaves the record untouched.
//
// On success the record is active with last_seen set to now, the failure
// count reset to zero, and a new_device or heartbeat_update event emitted.
func (r *Registrar) RegisterOrHeartbeat(ctx context.Context, id string, deviceType DeviceType, sourceAddr string, port int) (RegistrationResult, error) {
	if err := ValidateDeviceID(id); err != nil {
		return RegistrationResult{}, err
	}
	if err := ValidateAddress(sourceAddr); err != nil {
		return RegistrationResult{}, err
	}
	if err := ValidatePort(port); err != nil {
		return RegistrationResult{}, err
	}

	result, err := r.store.register(id, deviceType, sourceAddr, port, time.Now().UTC())
	if err != nil {
		return RegistrationResult{}, err
	}

	action := ActionHeartbeat
	if result.Created {
		action = ActionNewDevice
		r.logger.Info("device registered",
			"device_id", id,
			"device_type", string(deviceType),
			"address", sourceAddr,
			"port", port,
		)
	} else {
		r.logger.Debug("heartbeat received",
			"device_id", id,
			"address", sourceAddr,
		)
	}

	r.emit(ctx, NewEvent(action, id, deviceType, map[string]any{
		"ip_address": sourceAddr,
		"port":       port,
	}))

	return result, nil
}

// emit delivers an event to the sink, logging failures. A journal or
// broker outage must never fail a registration.
func (r *Registrar) emit(ctx context.Context, event Event) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Emit(ctx, event); err != nil {
		r.logger.Warn("event emission failed",
			"event_id", event.ID,
			"action", string(event.Action),
			"error", err,
		)
	}
}
