package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/camper-fleet/internal/fleet"
	"github.com/nerrad567/camper-fleet/internal/infrastructure/database"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})

	repo, err := NewRepository(context.Background(), db.DB)
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	return repo
}

func TestRepository_CreateAndList(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	event := fleet.NewEvent(fleet.ActionNewDevice, "cam-1", fleet.DeviceTypeRearCamera,
		map[string]any{"ip_address": "192.168.4.20", "port": 5001})
	if err := repo.Create(ctx, event); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 || len(result.Events) != 1 {
		t.Fatalf("List() total = %d, events = %d, want 1/1", result.Total, len(result.Events))
	}

	got := result.Events[0]
	if got.ID != event.ID {
		t.Errorf("ID = %q, want %q", got.ID, event.ID)
	}
	if got.Action != fleet.ActionNewDevice {
		t.Errorf("Action = %q, want %q", got.Action, fleet.ActionNewDevice)
	}
	if got.DeviceID != "cam-1" || got.DeviceType != fleet.DeviceTypeRearCamera {
		t.Errorf("identity = %s/%s", got.DeviceID, got.DeviceType)
	}
	if got.Details["ip_address"] != "192.168.4.20" {
		t.Errorf("Details = %v, want ip_address preserved", got.Details)
	}
	if got.Time.IsZero() {
		t.Error("Time is zero after round trip")
	}
}

func TestRepository_CreateFillsMissingIDAndTime(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, fleet.Event{
		Action:     fleet.ActionRemovedManual,
		DeviceID:   "cam-1",
		DeviceType: fleet.DeviceTypeRearCamera,
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(result.Events))
	}
	if result.Events[0].ID == "" {
		t.Error("ID not generated for hand-built event")
	}
	if result.Events[0].Time.IsZero() {
		t.Error("Time not set for hand-built event")
	}
}

func TestRepository_EmitImplementsSink(t *testing.T) {
	repo := setupRepo(t)
	var sink fleet.Sink = repo

	event := fleet.NewEvent(fleet.ActionHeartbeat, "cam-1", fleet.DeviceTypeRearCamera, nil)
	if err := sink.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	result, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 {
		t.Errorf("Total = %d, want 1", result.Total)
	}
	if result.Events[0].Details != nil {
		t.Errorf("Details = %v, want nil for event without details", result.Events[0].Details)
	}
}

func TestRepository_ListFilters(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	seed := []struct {
		action   fleet.Action
		deviceID string
	}{
		{fleet.ActionNewDevice, "cam-1"},
		{fleet.ActionHeartbeat, "cam-1"},
		{fleet.ActionHeartbeat, "cam-1"},
		{fleet.ActionNewDevice, "cam-2"},
		{fleet.ActionRemovedStale, "cam-2"},
	}
	for _, s := range seed {
		if err := repo.Create(ctx, fleet.NewEvent(s.action, s.deviceID, fleet.DeviceTypeRearCamera, nil)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"no filter", Filter{}, 5},
		{"by action", Filter{Action: string(fleet.ActionHeartbeat)}, 2},
		{"by device", Filter{DeviceID: "cam-2"}, 2},
		{"by action and device", Filter{Action: string(fleet.ActionNewDevice), DeviceID: "cam-2"}, 1},
		{"no match", Filter{DeviceID: "ghost"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if result.Total != tt.want {
				t.Errorf("Total = %d, want %d", result.Total, tt.want)
			}
			if len(result.Events) != tt.want {
				t.Errorf("events = %d, want %d", len(result.Events), tt.want)
			}
		})
	}
}

func TestRepository_ListNewestFirst(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		event := fleet.NewEvent(fleet.ActionHeartbeat, "cam-1", fleet.DeviceTypeRearCamera, nil)
		event.ID = fmt.Sprintf("evt-order-%d", i)
		event.Time = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, event); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(result.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(result.Events))
	}
	if result.Events[0].ID != "evt-order-2" || result.Events[2].ID != "evt-order-0" {
		t.Errorf("order = %s..%s, want newest first", result.Events[0].ID, result.Events[2].ID)
	}
}

func TestRepository_ListPagination(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		event := fleet.NewEvent(fleet.ActionHeartbeat, "cam-1", fleet.DeviceTypeRearCamera, nil)
		event.Time = base.Add(time.Duration(i) * time.Second)
		if err := repo.Create(ctx, event); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	result, err := repo.List(ctx, Filter{Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 5 || len(result.Events) != 2 {
		t.Errorf("page 1: total = %d, events = %d, want 5/2", result.Total, len(result.Events))
	}

	result, err = repo.List(ctx, Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(result.Events) != 1 {
		t.Errorf("last page events = %d, want 1", len(result.Events))
	}
}

func TestRepository_ListClampsLimit(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	result, err := repo.List(ctx, Filter{Limit: 0})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Limit != 50 {
		t.Errorf("default limit = %d, want 50", result.Limit)
	}

	result, err = repo.List(ctx, Filter{Limit: 9999, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Limit != 200 {
		t.Errorf("clamped limit = %d, want 200", result.Limit)
	}
	if result.Offset != 0 {
		t.Errorf("offset = %d, want 0", result.Offset)
	}
	if result.Events == nil {
		t.Error("Events = nil, want empty slice")
	}
}

func TestRepository_CreateDuplicateID(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	event := fleet.NewEvent(fleet.ActionNewDevice, "cam-1", fleet.DeviceTypeRearCamera, nil)
	if err := repo.Create(ctx, event); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, event); err == nil {
		t.Error("Create() with duplicate id succeeded, want error")
	} else if errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error class: %v", err)
	}
}
