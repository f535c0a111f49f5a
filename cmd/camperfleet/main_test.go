package main

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/camper-fleet/internal/fleet"
	"github.com/nerrad567/camper-fleet/internal/infrastructure/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CAMPERFLEET_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("CAMPERFLEET_CONFIG", "/etc/camperfleet/config.yaml")
	if got := getConfigPath(); got != "/etc/camperfleet/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
}

func TestBuildStoreConfig(t *testing.T) {
	storeCfg := buildStoreConfig(config.FleetConfig{
		TypeLimits: map[string]int{
			"rear-camera": 1,
			"awning":      2,
		},
		InactiveAfter: 120,
		RemoveAfter:   300,
	})

	if storeCfg.InactiveAfter != 120*time.Second {
		t.Errorf("InactiveAfter = %v, want 120s", storeCfg.InactiveAfter)
	}
	if storeCfg.RemoveAfter != 300*time.Second {
		t.Errorf("RemoveAfter = %v, want 300s", storeCfg.RemoveAfter)
	}
	if storeCfg.TypeLimits[fleet.DeviceTypeRearCamera] != 1 {
		t.Errorf("rear-camera limit = %d, want 1", storeCfg.TypeLimits[fleet.DeviceTypeRearCamera])
	}
	if storeCfg.TypeLimits["awning"] != 2 {
		t.Errorf("awning limit = %d, want 2", storeCfg.TypeLimits["awning"])
	}
}

type captureHeartbeatWriter struct {
	deviceID   string
	deviceType string
	isNew      bool
	calls      int
}

func (w *captureHeartbeatWriter) WriteHeartbeat(deviceID, deviceType string, isNew bool) {
	w.deviceID, w.deviceType, w.isNew = deviceID, deviceType, isNew
	w.calls++
}

func TestHeartbeatMetricsSink(t *testing.T) {
	writer := &captureHeartbeatWriter{}
	sink := heartbeatMetricsSink(writer)
	ctx := context.Background()

	if err := sink.Emit(ctx, fleet.NewEvent(fleet.ActionNewDevice, "cam-1", fleet.DeviceTypeRearCamera, nil)); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if writer.calls != 1 || !writer.isNew || writer.deviceID != "cam-1" {
		t.Errorf("writer = %+v, want new heartbeat for cam-1", writer)
	}

	if err := sink.Emit(ctx, fleet.NewEvent(fleet.ActionHeartbeat, "cam-1", fleet.DeviceTypeRearCamera, nil)); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if writer.calls != 2 || writer.isNew {
		t.Errorf("writer = %+v, want refresh heartbeat", writer)
	}

	// Removals are not heartbeats
	if err := sink.Emit(ctx, fleet.NewEvent(fleet.ActionRemovedStale, "cam-1", fleet.DeviceTypeRearCamera, nil)); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if writer.calls != 2 {
		t.Errorf("calls = %d after removal event, want 2", writer.calls)
	}
}
