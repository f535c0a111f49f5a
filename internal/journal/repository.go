// Package journal persists device lifecycle events to SQLite for later
// inspection. Only events are journalled; the registry itself is
// memory-resident and rebuilt by device re-registration after a restart.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/camper-fleet/internal/fleet"
)

// schema creates the journal table. A single append-mostly table; created
// at open rather than through a migration framework.
const schema = `
CREATE TABLE IF NOT EXISTS fleet_events (
	id          TEXT PRIMARY KEY,
	action      TEXT NOT NULL,
	device_id   TEXT NOT NULL,
	device_type TEXT NOT NULL,
	details     TEXT,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fleet_events_action ON fleet_events(action);
CREATE INDEX IF NOT EXISTS idx_fleet_events_device ON fleet_events(device_id);
CREATE INDEX IF NOT EXISTS idx_fleet_events_created ON fleet_events(created_at);
`

// Filter controls which events to return.
type Filter struct {
	Action   string // optional: filter by action (new_device, heartbeat_update, removed_stale, removed_manual)
	DeviceID string // optional: filter by device
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains the paginated journal results.
type ListResult struct {
	Events []fleet.Event `json:"events"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// Repository stores and queries lifecycle events in SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates the repository and ensures the schema exists.
func NewRepository(ctx context.Context, db *sql.DB) (*Repository, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// Emit implements fleet.Sink, so the repository can be wired directly
// into the lifecycle event fan-out.
func (r *Repository) Emit(ctx context.Context, event fleet.Event) error {
	return r.Create(ctx, event)
}

// Create inserts a lifecycle event. Events arriving without an ID or
// timestamp (hand-built rather than via fleet.NewEvent) get them here.
func (r *Repository) Create(ctx context.Context, event fleet.Event) error {
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()[:8]
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	var detailsJSON *string
	if event.Details != nil {
		b, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshalling event details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fleet_events (id, action, device_id, device_type, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Action), event.DeviceID, string(event.DeviceType),
		detailsJSON,
		event.Time.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting lifecycle event: %w", err)
	}

	return nil
}

// List returns events matching the filter, ordered by most recent first.
func (r *Repository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for journal queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM fleet_events %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting lifecycle events: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, action, device_id, device_type, details, created_at FROM fleet_events %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying lifecycle events: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only iteration

	var events []fleet.Event
	for rows.Next() {
		var event fleet.Event
		var action, deviceType, createdAt string
		var detailsJSON sql.NullString

		if err := rows.Scan(&event.ID, &action, &event.DeviceID,
			&deviceType, &detailsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning lifecycle event: %w", err)
		}

		event.Action = fleet.Action(action)
		event.DeviceType = fleet.DeviceType(deviceType)

		if detailsJSON.Valid && detailsJSON.String != "" {
			var details map[string]any
			if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
				event.Details = details
			}
		}

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp %q: %w", createdAt, err)
		}
		event.Time = t

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lifecycle events: %w", err)
	}

	if events == nil {
		events = []fleet.Event{}
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
