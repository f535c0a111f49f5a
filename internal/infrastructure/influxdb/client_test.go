package influxdb

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/camper-fleet/internal/infrastructure/config"
)

// Connection-dependent tests run in the integration environment against a
// live InfluxDB. These cover everything that runs without one.

func TestConnect_Disabled(t *testing.T) {
	cfg := config.InfluxDBConfig{
		Enabled: false,
	}

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestFlush_NilWriteAPI(t *testing.T) {
	client := &Client{}
	// Must not panic
	client.Flush()
}

func TestWrite_Disconnected(t *testing.T) {
	client := &Client{}

	// Writes on a disconnected client are dropped silently, never panic
	client.WriteHeartbeat("cam-1", "rear-camera", true)
	client.WriteSweepResult(1, 0, 3)
	client.WriteDispatchFailure("cam-1", "up", 2)
	client.WritePoint("custom", map[string]string{"a": "b"}, map[string]interface{}{"v": 1})
}

func TestHealthCheck_Disconnected(t *testing.T) {
	client := &Client{}

	err := client.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}
