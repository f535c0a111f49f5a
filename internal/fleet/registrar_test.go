package fleet

import (
	"context"
	"sync"
	"testing"
)

// captureSink records emitted events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Emit(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestRegistrar_RegisterOrHeartbeat_Validation(t *testing.T) {
	store := NewStore(testStoreConfig())
	registrar := NewRegistrar(store, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		id   string
		typ  DeviceType
		addr string
		port int
	}{
		{
			name: "empty id",
			id:   "",
			typ:  DeviceTypeRearCamera,
			addr: "192.168.4.20",
			port: 5001,
		},
		{
			name: "id with invalid characters",
			id:   "cam 1!",
			typ:  DeviceTypeRearCamera,
			addr: "192.168.4.20",
			port: 5001,
		},
		{
			name: "unknown type",
			id:   "dev-1",
			typ:  "toaster",
			addr: "192.168.4.20",
			port: 5001,
		},
		{
			name: "hostname instead of ip",
			id:   "cam-1",
			typ:  DeviceTypeRearCamera,
			addr: "camera.local",
			port: 5001,
		},
		{
			name: "empty address",
			id:   "cam-1",
			typ:  DeviceTypeRearCamera,
			addr: "",
			port: 5001,
		},
		{
			name: "port zero",
			id:   "cam-1",
			typ:  DeviceTypeRearCamera,
			addr: "192.168.4.20",
			port: 0,
		},
		{
			name: "port too high",
			id:   "cam-1",
			typ:  DeviceTypeRearCamera,
			addr: "192.168.4.20",
			port: 70000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registrar.RegisterOrHeartbeat(ctx, tt.id, tt.typ, tt.addr, tt.port)
			if !isErr(err, ErrValidation) {
				t.Errorf("RegisterOrHeartbeat() error = %v, want ErrValidation", err)
			}
		})
	}

	if store.Count() != 0 {
		t.Errorf("Count() = %d after rejected registrations, want 0", store.Count())
	}
}

func TestRegistrar_EmitsLifecycleEvents(t *testing.T) {
	store := NewStore(testStoreConfig())
	sink := &captureSink{}
	registrar := NewRegistrar(store, sink, nil)
	ctx := context.Background()

	result, err := registrar.RegisterOrHeartbeat(ctx, "cam-1", DeviceTypeRearCamera, "192.168.4.20", 5001)
	if err != nil {
		t.Fatalf("RegisterOrHeartbeat() error = %v", err)
	}
	if !result.Created {
		t.Error("Created = false for first registration")
	}

	if _, err := registrar.RegisterOrHeartbeat(ctx, "cam-1", DeviceTypeRearCamera, "192.168.4.20", 5001); err != nil {
		t.Fatalf("heartbeat error = %v", err)
	}

	events := sink.all()
	if len(events) != 2 {
		t.Fatalf("emitted %d events, want 2", len(events))
	}
	if events[0].Action != ActionNewDevice {
		t.Errorf("first action = %q, want %q", events[0].Action, ActionNewDevice)
	}
	if events[1].Action != ActionHeartbeat {
		t.Errorf("second action = %q, want %q", events[1].Action, ActionHeartbeat)
	}
	for _, e := range events {
		if e.DeviceID != "cam-1" || e.DeviceType != DeviceTypeRearCamera {
			t.Errorf("event identity = %s/%s", e.DeviceID, e.DeviceType)
		}
		if e.ID == "" || e.Time.IsZero() {
			t.Error("event missing id or timestamp")
		}
	}
}

func TestRegistrar_ConflictAndCapacityScenario(t *testing.T) {
	// cam-1 registers; cam-2 of the same single-slot type is rejected for
	// capacity; cam-1 heartbeats from another address and is rejected for
	// identity; the original registration keeps working.
	store := NewStore(testStoreConfig())
	sink := &captureSink{}
	registrar := NewRegistrar(store, sink, nil)
	ctx := context.Background()

	if _, err := registrar.RegisterOrHeartbeat(ctx, "cam-1", DeviceTypeRearCamera, "192.168.4.20", 5001); err != nil {
		t.Fatalf("cam-1 registration error = %v", err)
	}

	_, err := registrar.RegisterOrHeartbeat(ctx, "cam-2", DeviceTypeRearCamera, "192.168.4.21", 5001)
	if !isErr(err, ErrCapacityExceeded) {
		t.Fatalf("cam-2 error = %v, want ErrCapacityExceeded", err)
	}

	_, err = registrar.RegisterOrHeartbeat(ctx, "cam-1", DeviceTypeRearCamera, "192.168.4.99", 5001)
	if !isErr(err, ErrIdentityConflict) {
		t.Fatalf("cross-address error = %v, want ErrIdentityConflict", err)
	}

	if _, err := registrar.RegisterOrHeartbeat(ctx, "cam-1", DeviceTypeRearCamera, "192.168.4.20", 5001); err != nil {
		t.Errorf("cam-1 heartbeat error = %v, want nil", err)
	}

	// Failed registrations emit no events
	for _, e := range sink.all() {
		if e.DeviceID != "cam-1" {
			t.Errorf("unexpected event for %q", e.DeviceID)
		}
	}
}

func TestRegistrar_SinkFailureDoesNotFailRegistration(t *testing.T) {
	store := NewStore(testStoreConfig())
	failing := SinkFunc(func(context.Context, Event) error {
		return context.DeadlineExceeded
	})
	registrar := NewRegistrar(store, failing, nil)

	if _, err := registrar.RegisterOrHeartbeat(context.Background(), "cam-1", DeviceTypeRearCamera, "192.168.4.20", 5001); err != nil {
		t.Errorf("RegisterOrHeartbeat() error = %v, want nil despite sink failure", err)
	}
}
