// Camper Fleet Device Agent
//
// This is the entry point for the on-device agent that runs next to an
// accessory (currently the rear camera). It serves the accessory's local
// command API and keeps the device registered with the fleet controller
// through periodic heartbeats.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/camper-fleet/internal/heartbeat"
	"github.com/nerrad567/camper-fleet/internal/infrastructure/config"
	"github.com/nerrad567/camper-fleet/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown" //nolint:unused // set via ldflags alongside version
	date    = "unknown" //nolint:unused // set via ldflags alongside version
)

// Default configuration file path
const defaultConfigPath = "configs/device.yaml"

// gracefulShutdownTimeout bounds how long in-flight command requests may
// run during shutdown.
const gracefulShutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := logging.Default()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Device.ID == "" {
		return fmt.Errorf("device.id is required (set CAMPERFLEET_DEVICE_ID)")
	}

	log = logging.New(cfg.Logging, version)
	log.Info("starting device agent",
		"device_id", cfg.Device.ID,
		"device_type", cfg.Device.Type,
		"controller", cfg.Device.ControllerURL,
	)

	camera := newRearCamera(log)

	// Heartbeat loop keeps the controller's registry entry alive
	hb := heartbeat.NewClient(heartbeat.Config{
		DeviceID:      cfg.Device.ID,
		DeviceType:    cfg.Device.Type,
		AdvertiseIP:   cfg.Device.AdvertiseIP,
		Port:          cfg.Device.Port,
		ControllerURL: cfg.Device.ControllerURL,
		Interval:      cfg.Device.Heartbeat.IntervalDuration(),
		RetryAttempts: cfg.Device.Heartbeat.RetryAttempts,
		RetryDelay:    cfg.Device.Heartbeat.RetryDelayDuration(),
	}, log)
	hb.Start(ctx)
	defer func() {
		log.Info("stopping heartbeat loop")
		hb.Stop()
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Device.ListenHost, cfg.Device.Port),
		Handler:           buildRouter(camera, hb, version),
		ReadTimeout:       cfg.GetReadTimeout(),
		ReadHeaderTimeout: cfg.GetReadTimeout(),
		WriteTimeout:      cfg.GetWriteTimeout(),
		IdleTimeout:       cfg.GetIdleTimeout(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("device API server error", "error", err)
		}
	}()
	log.Info("device API listening", "address", server.Addr)

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down device API: %w", err)
	}

	log.Info("device agent stopped")
	return nil
}

// loadConfig reads the config file, falling back to built-in defaults
// when no file exists at the configured path.
func loadConfig() (*config.Config, error) {
	path := getConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default()
	}
	return config.Load(path)
}

// getConfigPath returns the configuration file path.
// Uses CAMPERFLEET_DEVICE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CAMPERFLEET_DEVICE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildRouter creates the device's local command API.
//
// The controller forwards commands to these paths; the path set must
// match the controller's command table for the device type.
func buildRouter(camera *rearCamera, hb *heartbeat.Client, version string) http.Handler {
	r := chi.NewRouter()

	r.Get("/api/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		stats := hb.Stats()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"version":   version,
			"heartbeat": string(hb.Status()),
			"delivery":  stats,
		})
	})

	r.Route("/api/v1/rear-camera", func(r chi.Router) {
		r.Post("/up", camera.handleUp)
		r.Post("/down", camera.handleDown)
		r.Post("/status", camera.handleStatus)
	})

	return r
}

// Camera positions.
const (
	positionUp   = "up"
	positionDown = "down"
)

// travelTime is how long the camera mast takes to move between positions.
// The real servo is driven by GPIO; the agent mirrors its timing so the
// controller-facing API behaves the same during bench testing.
const travelTime = 2 * time.Second

// rearCamera simulates the motorised rear camera mast.
type rearCamera struct {
	mu        sync.Mutex
	position  string
	movingTo  string
	moveEnds  time.Time
	lastMoved time.Time
	logger    *logging.Logger
}

func newRearCamera(logger *logging.Logger) *rearCamera {
	return &rearCamera{
		position: positionDown,
		logger:   logger,
	}
}

// moveTo starts a move towards the target position. Returns false when
// the camera is already there.
func (c *rearCamera) moveTo(target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.settle()

	if c.position == target && c.movingTo == "" {
		return false
	}

	c.movingTo = target
	c.moveEnds = time.Now().Add(travelTime)
	c.logger.Info("camera moving", "target", target)
	return true
}

// settle completes any finished move. Callers must hold the lock.
func (c *rearCamera) settle() {
	if c.movingTo != "" && time.Now().After(c.moveEnds) {
		c.position = c.movingTo
		c.movingTo = ""
		c.lastMoved = time.Now().UTC()
	}
}

// snapshot returns the current state.
func (c *rearCamera) snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.settle()

	state := map[string]any{
		"position": c.position,
		"moving":   c.movingTo != "",
	}
	if c.movingTo != "" {
		state["moving_to"] = c.movingTo
	}
	if !c.lastMoved.IsZero() {
		state["last_moved"] = c.lastMoved.Format(time.RFC3339)
	}
	return state
}

func (c *rearCamera) handleUp(w http.ResponseWriter, _ *http.Request) {
	moved := c.moveTo(positionUp)
	state := c.snapshot()
	state["moved"] = moved
	writeJSON(w, http.StatusOK, state)
}

func (c *rearCamera) handleDown(w http.ResponseWriter, _ *http.Request) {
	moved := c.moveTo(positionDown)
	state := c.snapshot()
	state["moved"] = moved
	writeJSON(w, http.StatusOK, state)
}

func (c *rearCamera) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.snapshot())
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	json.NewEncoder(w).Encode(v)
}
