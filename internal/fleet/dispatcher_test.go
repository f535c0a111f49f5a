package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// registerDeviceAt registers a device pointing at a test server's address.
func registerDeviceAt(t *testing.T, store *Store, id string, serverURL string) {
	t.Helper()

	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("parsing server url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("splitting host port: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	if _, err := store.register(id, DeviceTypeRearCamera, host, port, time.Now().UTC()); err != nil {
		t.Fatalf("register() error = %v", err)
	}
}

func TestDispatcher_Success(t *testing.T) {
	var gotPath atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"position": "up", "moved": true}) //nolint:errcheck
	}))
	defer server.Close()

	store := NewStore(testStoreConfig())
	registerDeviceAt(t, store, "cam-1", server.URL)
	dispatcher := NewDispatcher(store, 2*time.Second, nil)

	payload, err := dispatcher.Dispatch(context.Background(), "cam-1", "up", map[string]any{"speed": 2})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if gotPath.Load() != "/api/v1/rear-camera/up" {
		t.Errorf("device path = %v, want /api/v1/rear-camera/up", gotPath.Load())
	}
	if payload["position"] != "up" {
		t.Errorf("payload = %v, want device response unmodified", payload)
	}

	// Success does not touch the failure counter
	rec, _ := store.Get("cam-1")
	if rec.FailureCount != 0 {
		t.Errorf("FailureCount = %d after success, want 0", rec.FailureCount)
	}
}

func TestDispatcher_NotFound(t *testing.T) {
	store := NewStore(testStoreConfig())
	dispatcher := NewDispatcher(store, time.Second, nil)

	_, err := dispatcher.Dispatch(context.Background(), "ghost", "up", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Dispatch() error = %v, want ErrNotFound", err)
	}
}

func TestDispatcher_NotActive_NoTransportCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testStoreConfig()
	cfg.InactiveAfter = 10 * time.Millisecond
	cfg.RemoveAfter = time.Hour
	store := NewStore(cfg)
	registerDeviceAt(t, store, "cam-1", server.URL)

	// Sweep past the inactivity threshold so the stored status flips
	store.Sweep(time.Now().UTC().Add(time.Minute))

	dispatcher := NewDispatcher(store, time.Second, nil)
	_, err := dispatcher.Dispatch(context.Background(), "cam-1", "up", nil)
	if !errors.Is(err, ErrNotActive) {
		t.Fatalf("Dispatch() error = %v, want ErrNotActive", err)
	}

	if calls.Load() != 0 {
		t.Errorf("device received %d calls, want 0 for inactive device", calls.Load())
	}
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	store := NewStore(testStoreConfig())
	if _, err := store.register("cam-1", DeviceTypeRearCamera, "192.168.4.20", 5001, time.Now().UTC()); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	dispatcher := NewDispatcher(store, time.Second, nil)

	_, err := dispatcher.Dispatch(context.Background(), "cam-1", "self_destruct", nil)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Dispatch() error = %v, want ErrUnknownCommand", err)
	}
}

func TestDispatcher_CommunicationFailure(t *testing.T) {
	// Server closed before dispatch: connection refused
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	store := NewStore(testStoreConfig())
	registerDeviceAt(t, store, "cam-1", server.URL)
	server.Close()

	dispatcher := NewDispatcher(store, time.Second, nil)

	_, err := dispatcher.Dispatch(context.Background(), "cam-1", "up", nil)
	if !errors.Is(err, ErrCommunication) {
		t.Fatalf("Dispatch() error = %v, want ErrCommunication", err)
	}

	var comm *CommFailure
	if !errors.As(err, &comm) {
		t.Fatalf("Dispatch() error type = %T, want *CommFailure", err)
	}
	if comm.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", comm.FailureCount)
	}

	// Counter accumulates across failures
	_, _ = dispatcher.Dispatch(context.Background(), "cam-1", "up", nil)
	rec, _ := store.Get("cam-1")
	if rec.FailureCount != 2 {
		t.Errorf("stored FailureCount = %d, want 2", rec.FailureCount)
	}
}

func TestDispatcher_DeviceFault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{"error": "servo jammed"}) //nolint:errcheck
	}))
	defer server.Close()

	store := NewStore(testStoreConfig())
	registerDeviceAt(t, store, "cam-1", server.URL)
	dispatcher := NewDispatcher(store, time.Second, nil)

	_, err := dispatcher.Dispatch(context.Background(), "cam-1", "up", nil)
	if !errors.Is(err, ErrDevice) {
		t.Fatalf("Dispatch() error = %v, want ErrDevice", err)
	}

	var fault *DeviceFault
	if !errors.As(err, &fault) {
		t.Fatalf("Dispatch() error type = %T, want *DeviceFault", err)
	}
	if fault.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", fault.StatusCode)
	}
	if fault.Payload["error"] != "servo jammed" {
		t.Errorf("Payload = %v, want device error surfaced", fault.Payload)
	}

	rec, _ := store.Get("cam-1")
	if rec.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", rec.FailureCount)
	}
}

type captureDispatchMetrics struct {
	deviceID, command string
	failureCount      int
	calls             int
}

func (m *captureDispatchMetrics) WriteDispatchFailure(deviceID, command string, failureCount int) {
	m.deviceID, m.command, m.failureCount = deviceID, command, failureCount
	m.calls++
}

func TestDispatcher_RecordsFailureMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	store := NewStore(testStoreConfig())
	registerDeviceAt(t, store, "cam-1", server.URL)
	server.Close()

	dispatcher := NewDispatcher(store, time.Second, nil)
	metrics := &captureDispatchMetrics{}
	dispatcher.SetMetrics(metrics)

	_, _ = dispatcher.Dispatch(context.Background(), "cam-1", "up", nil)

	if metrics.calls != 1 {
		t.Fatalf("metrics calls = %d, want 1", metrics.calls)
	}
	if metrics.deviceID != "cam-1" || metrics.command != "up" || metrics.failureCount != 1 {
		t.Errorf("metrics = %s/%s/%d", metrics.deviceID, metrics.command, metrics.failureCount)
	}
}

func TestCommandsFor(t *testing.T) {
	commands := CommandsFor(DeviceTypeRearCamera)
	if len(commands) != 3 {
		t.Errorf("CommandsFor(rear-camera) = %v, want 3 commands", commands)
	}

	if got := CommandsFor("toaster"); got != nil {
		t.Errorf("CommandsFor(unknown) = %v, want nil", got)
	}
}
