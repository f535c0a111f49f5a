package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action identifies what happened to a device.
type Action string

// Lifecycle actions.
const (
	ActionNewDevice     Action = "new_device"
	ActionHeartbeat     Action = "heartbeat_update"
	ActionRemovedStale  Action = "removed_stale"
	ActionRemovedManual Action = "removed_manual"
)

// Event is a device lifecycle event, fanned out to the configured sinks
// (structured log, SQLite journal, MQTT, WebSocket stream).
type Event struct {
	ID         string         `json:"id"`
	Action     Action         `json:"action"`
	DeviceID   string         `json:"device_id"`
	DeviceType DeviceType     `json:"device_type"`
	Details    map[string]any `json:"details,omitempty"`
	Time       time.Time      `json:"time"`
}

// NewEvent builds an event with a fresh ID and the current time.
func NewEvent(action Action, deviceID string, deviceType DeviceType, details map[string]any) Event {
	return Event{
		ID:         "evt-" + uuid.NewString()[:8],
		Action:     action,
		DeviceID:   deviceID,
		DeviceType: deviceType,
		Details:    details,
		Time:       time.Now().UTC(),
	}
}

// Sink receives lifecycle events. Implementations must be safe for
// concurrent use; emission happens from API handlers and the sweeper.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// MultiSink fans one event out to several sinks. Every sink sees the
// event even when an earlier one fails; errors are joined.
type MultiSink []Sink

// Emit delivers the event to all sinks.
func (m MultiSink) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to the structured log.
type LogSink struct {
	Logger Logger
}

// Emit logs the event.
func (s LogSink) Emit(_ context.Context, event Event) error {
	s.Logger.Info("device lifecycle event",
		"event_id", event.ID,
		"action", string(event.Action),
		"device_id", event.DeviceID,
		"device_type", string(event.DeviceType),
	)
	return nil
}
