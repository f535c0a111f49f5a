// Camper Fleet Controller
//
// This is the main entry point for the fleet controller. It tracks the
// camper van's accessory devices (rear camera, and whatever joins the
// fleet next), keeps their liveness state current, forwards commands to
// them, and feeds lifecycle events to the journal, MQTT, and WebSocket
// subscribers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/camper-fleet/internal/api"
	"github.com/nerrad567/camper-fleet/internal/fleet"
	"github.com/nerrad567/camper-fleet/internal/infrastructure/config"
	"github.com/nerrad567/camper-fleet/internal/infrastructure/database"
	"github.com/nerrad567/camper-fleet/internal/infrastructure/influxdb"
	"github.com/nerrad567/camper-fleet/internal/infrastructure/logging"
	"github.com/nerrad567/camper-fleet/internal/infrastructure/mqtt"
	"github.com/nerrad567/camper-fleet/internal/journal"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting camper fleet controller",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration; a bare install without a config file runs on
	// defaults plus environment overrides.
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the event journal database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	journalRepo, err := journal.NewRepository(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("initialising event journal: %w", err)
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Initialise the fleet registry
	store := fleet.NewStore(buildStoreConfig(cfg.Fleet))
	log.Info("fleet registry initialised",
		"type_limits", cfg.Fleet.TypeLimits,
		"inactive_after", cfg.Fleet.InactiveThreshold().String(),
		"remove_after", cfg.Fleet.RemovalThreshold().String(),
	)

	// WebSocket hub is created here (not by the API server) because the
	// event fan-out needs it as a sink.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// Assemble the lifecycle event fan-out
	sinks := fleet.MultiSink{
		fleet.LogSink{Logger: log},
		journalRepo,
		hub,
	}
	if mqttClient != nil {
		sinks = append(sinks, &mqttEventSink{client: mqttClient})
	}
	if influxClient != nil {
		sinks = append(sinks, heartbeatMetricsSink(influxClient))
	}

	registrar := fleet.NewRegistrar(store, sinks, log)

	sweeper := fleet.NewSweeper(store, cfg.Fleet.SweepEvery(), sinks, log)
	dispatcher := fleet.NewDispatcher(store, cfg.Dispatch.CommandTimeout(), log)
	if influxClient != nil {
		sweeper.SetMetrics(influxClient)
		dispatcher.SetMetrics(influxClient)
	}

	sweeper.Start(ctx)
	defer func() {
		log.Info("stopping sweeper")
		sweeper.Stop()
	}()

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Store:      store,
		Registrar:  registrar,
		Sweeper:    sweeper,
		Dispatcher: dispatcher,
		Journal:    journalRepo,
		Events:     sinks,
		Hub:        hub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Sweeper
	// 3. InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Database

	log.Info("camper fleet controller stopped")
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
// Uses CAMPERFLEET_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CAMPERFLEET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildStoreConfig converts the YAML fleet section into store configuration.
func buildStoreConfig(cfg config.FleetConfig) fleet.StoreConfig {
	limits := make(map[fleet.DeviceType]int, len(cfg.TypeLimits))
	for t, limit := range cfg.TypeLimits {
		limits[fleet.DeviceType(t)] = limit
	}
	return fleet.StoreConfig{
		TypeLimits:    limits,
		InactiveAfter: cfg.InactiveThreshold(),
		RemoveAfter:   cfg.RemovalThreshold(),
	}
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}

// mqttEventSink publishes lifecycle events to the MQTT feed. Each event
// goes to its action topic, and registrations and removals additionally
// update the device's retained status topic so late subscribers see the
// current fleet.
type mqttEventSink struct {
	client *mqtt.Client
	topics mqtt.Topics
}

// Emit implements fleet.Sink.
func (s *mqttEventSink) Emit(_ context.Context, event fleet.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	if err := s.client.PublishEvent(s.topics.FleetEvent(string(event.Action)), payload); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	switch event.Action {
	case fleet.ActionNewDevice:
		return s.publishStatus(event, "active")
	case fleet.ActionRemovedStale, fleet.ActionRemovedManual:
		return s.publishStatus(event, "removed")
	case fleet.ActionHeartbeat:
		// Heartbeats don't change the retained status
	}
	return nil
}

func (s *mqttEventSink) publishStatus(event fleet.Event, status string) error {
	payload, err := json.Marshal(map[string]any{
		"device_id":   event.DeviceID,
		"device_type": string(event.DeviceType),
		"status":      status,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshalling device status: %w", err)
	}
	if err := s.client.PublishRetained(s.topics.FleetDeviceStatus(event.DeviceID), payload); err != nil {
		return fmt.Errorf("publishing device status: %w", err)
	}
	return nil
}

// heartbeatWriter records heartbeat arrivals. Implemented by the InfluxDB client.
type heartbeatWriter interface {
	WriteHeartbeat(deviceID, deviceType string, isNew bool)
}

// heartbeatMetricsSink records registrations and heartbeats as time-series
// points. Removal events are covered by the sweeper's own metrics.
func heartbeatMetricsSink(w heartbeatWriter) fleet.Sink {
	return fleet.SinkFunc(func(_ context.Context, event fleet.Event) error {
		switch event.Action {
		case fleet.ActionNewDevice:
			w.WriteHeartbeat(event.DeviceID, string(event.DeviceType), true)
		case fleet.ActionHeartbeat:
			w.WriteHeartbeat(event.DeviceID, string(event.DeviceType), false)
		case fleet.ActionRemovedStale, fleet.ActionRemovedManual:
			// Not a heartbeat
		}
		return nil
	})
}
