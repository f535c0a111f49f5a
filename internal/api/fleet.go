package api

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/camper-fleet/internal/fleet"
	"github.com/nerrad567/camper-fleet/internal/journal"
)

// registrationRequest is the body a device sends with its heartbeat PUT.
type registrationRequest struct {
	DeviceType string `json:"device_type"`
	IPAddress  string `json:"ip_address"`
	Port       int    `json:"port"`
}

// handleRegisterDevice registers a device or refreshes its heartbeat.
//
// PUT /api/v1/fleet/device/{id}
//
// The same request serves both purposes: an unknown ID creates the
// registration, a known ID from the same address refreshes it. Devices
// send the identical request either way.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	// Devices behind NAT-free van networks usually announce their own IP;
	// fall back to the connection's source address when they don't.
	addr := req.IPAddress
	if addr == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			addr = host
		}
	}

	result, err := s.registrar.RegisterOrHeartbeat(r.Context(), id, fleet.DeviceType(req.DeviceType), addr, req.Port)
	if err != nil {
		switch {
		case errors.Is(err, fleet.ErrCapacityExceeded):
			writeConflict(w, err.Error())
		case errors.Is(err, fleet.ErrIdentityConflict):
			writeError(w, http.StatusBadRequest, ErrCodeConflict, err.Error())
		case errors.Is(err, fleet.ErrValidation):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			writeInternalError(w, "registration failed")
		}
		return
	}

	// Registration and refresh both answer 200; the created flag tells
	// them apart.
	writeJSON(w, http.StatusOK, map[string]any{
		"device":  result.Record,
		"created": result.Created,
	})
}

// handleGetDevice returns a single device with its available commands.
//
// GET /api/v1/fleet/device/{id}
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, ok := s.store.Get(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":   rec,
		"commands": fleet.CommandsFor(rec.Type),
	})
}

// handleListDevices returns registered devices, with optional query filters.
//
// GET /api/v1/fleet/devices
//
// Query parameters:
//   - active_only: "true" restricts to devices with a recent heartbeat
//   - device_type: restrict to one device type
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	filter := fleet.Filter{
		ActiveOnly: r.URL.Query().Get("active_only") == "true",
		Type:       fleet.DeviceType(r.URL.Query().Get("device_type")),
	}

	devices := s.store.List(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleStats returns registry statistics.
//
// GET /api/v1/fleet/stats
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.GetStats())
}

// handleRemoveDevice deregisters a device manually.
//
// DELETE /api/v1/fleet/device/{id}
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, ok := s.store.Remove(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	s.logger.Info("device removed manually", "device_id", id, "device_type", string(rec.Type))
	s.emitEvent(r, fleet.NewEvent(fleet.ActionRemovedManual, rec.DeviceID, rec.Type, map[string]any{
		"ip_address": rec.Address,
		"port":       rec.Port,
	}))

	writeJSON(w, http.StatusOK, map[string]any{
		"removed": rec,
	})
}

// handleCleanup runs a liveness sweep immediately.
//
// POST /api/v1/fleet/cleanup
//
// The outcome is identical to what the next timer tick would produce;
// calling it twice in a row removes nothing further.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	result := s.sweeper.Force(r.Context())

	removed := make([]string, 0, len(result.Removed))
	for _, rec := range result.Removed {
		removed = append(removed, rec.DeviceID)
	}
	marked := make([]string, 0, len(result.MarkedInactive))
	for _, rec := range result.MarkedInactive {
		marked = append(marked, rec.DeviceID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"marked_inactive": marked,
		"removed":         removed,
		"remaining":       result.Remaining,
	})
}

// handleControl forwards a command to a device and relays its response.
//
// POST /api/v1/fleet/control/{id}/{command}
//
// The body, if present, is a JSON object of command parameters passed
// through to the device.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	command := chi.URLParam(r, "command")

	// An empty body is a command with no parameters
	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	payload, err := s.dispatcher.Dispatch(r.Context(), id, command, params)
	if err != nil {
		s.writeDispatchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, payload)
}

// writeDispatchError maps dispatcher errors onto HTTP responses.
//
// An unreachable device answers 503 with the cumulative failure count; a
// device that answered with an error relays the device's own payload as a
// 400 so the caller sees what the accessory said.
func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	var comm *fleet.CommFailure
	var fault *fleet.DeviceFault

	switch {
	case errors.Is(err, fleet.ErrNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, fleet.ErrNotActive):
		writeBadRequest(w, err.Error())
	case errors.Is(err, fleet.ErrUnknownCommand):
		writeBadRequest(w, err.Error())
	case errors.As(err, &comm):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":        http.StatusServiceUnavailable,
			"code":          ErrCodeUnavailable,
			"message":       "device unreachable",
			"failure_count": comm.FailureCount,
		})
	case errors.As(err, &fault):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":        http.StatusBadRequest,
			"code":          ErrCodeBadRequest,
			"message":       "device reported an error",
			"device_status": fault.StatusCode,
			"device_error":  fault.Payload,
		})
	default:
		writeInternalError(w, "command dispatch failed")
	}
}

// handleListEvents returns the lifecycle event history from the journal.
//
// GET /api/v1/fleet/events
//
// Query parameters:
//   - action: filter by action (new_device, heartbeat_update, removed_stale, removed_manual)
//   - device_id: filter by device
//   - limit, offset: pagination (default 50, max 200)
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusOK, journal.ListResult{Events: []fleet.Event{}})
		return
	}

	filter := journal.Filter{
		Action:   r.URL.Query().Get("action"),
		DeviceID: r.URL.Query().Get("device_id"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v) //nolint:errcheck // zero falls back to default
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v) //nolint:errcheck // zero is the first page
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("event history query failed", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// emitEvent delivers an event to the configured sink, logging failures.
func (s *Server) emitEvent(r *http.Request, event fleet.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(r.Context(), event); err != nil {
		s.logger.Warn("event emission failed",
			"event_id", event.ID,
			"action", string(event.Action),
			"error", err,
		)
	}
}
