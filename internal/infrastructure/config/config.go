package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Camper Fleet controller.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	Device    DeviceConfig    `yaml:"device"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// FleetConfig contains device registry and liveness lifecycle settings.
type FleetConfig struct {
	// TypeLimits caps how many devices of each type may be registered at once.
	TypeLimits map[string]int `yaml:"type_limits"`

	// InactiveAfter is the time since the last heartbeat before a device
	// is marked inactive (seconds).
	InactiveAfter int `yaml:"inactive_after"`

	// RemoveAfter is the time since the last heartbeat before a device
	// is removed from the registry entirely (seconds).
	// Must be greater than InactiveAfter.
	RemoveAfter int `yaml:"remove_after"`

	// SweepInterval is how often the liveness sweeper runs (seconds).
	SweepInterval int `yaml:"sweep_interval"`
}

// DispatchConfig contains outbound device command settings.
type DispatchConfig struct {
	// Timeout is the maximum time to wait for a device to answer a
	// forwarded command (seconds).
	Timeout int `yaml:"timeout"`
}

// DatabaseConfig contains SQLite event journal settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DeviceConfig contains settings for the device-side agent (camperdevice).
// The controller binary ignores this section.
type DeviceConfig struct {
	ID            string          `yaml:"id"`
	Type          string          `yaml:"type"`
	AdvertiseIP   string          `yaml:"advertise_ip"`
	ListenHost    string          `yaml:"listen_host"`
	Port          int             `yaml:"port"`
	ControllerURL string          `yaml:"controller_url"`
	Heartbeat     HeartbeatConfig `yaml:"heartbeat"`
}

// HeartbeatConfig contains device-side heartbeat settings.
type HeartbeatConfig struct {
	Interval      int `yaml:"interval"`
	RetryAttempts int `yaml:"retry_attempts"`
	RetryDelay    int `yaml:"retry_delay"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CAMPERFLEET_SECTION_KEY
// For example: CAMPERFLEET_DATABASE_PATH, CAMPERFLEET_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in default configuration with environment
// overrides applied. Used when no config file is present so the controller
// can run on a bare install.
//
// Returns:
//   - *Config: Default configuration
//   - error: If validation fails after env overrides
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// Liveness timing: heartbeats arrive every 30s, a device is marked
// inactive after 120s of silence and removed after 300s, with the
// sweeper running every 60s.
func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 5000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Fleet: FleetConfig{
			TypeLimits: map[string]int{
				"rear-camera": 1,
			},
			InactiveAfter: 120,
			RemoveAfter:   300,
			SweepInterval: 60,
		},
		Dispatch: DispatchConfig{
			Timeout: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/camperfleet.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "camperfleet-controller",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Device: DeviceConfig{
			Type:          "rear-camera",
			ListenHost:    "0.0.0.0",
			Port:          5001,
			ControllerURL: "http://192.168.4.1:5000",
			Heartbeat: HeartbeatConfig{
				Interval:      30,
				RetryAttempts: 3,
				RetryDelay:    5,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CAMPERFLEET_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// API
	if v := os.Getenv("CAMPERFLEET_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("CAMPERFLEET_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Database
	if v := os.Getenv("CAMPERFLEET_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("CAMPERFLEET_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CAMPERFLEET_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CAMPERFLEET_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("CAMPERFLEET_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Device agent
	if v := os.Getenv("CAMPERFLEET_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("CAMPERFLEET_DEVICE_ADVERTISE_IP"); v != "" {
		cfg.Device.AdvertiseIP = v
	}
	if v := os.Getenv("CAMPERFLEET_CONTROLLER_URL"); v != "" {
		cfg.Device.ControllerURL = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Fleet validation
	if c.Fleet.InactiveAfter <= 0 {
		errs = append(errs, "fleet.inactive_after must be positive")
	}
	if c.Fleet.RemoveAfter <= c.Fleet.InactiveAfter {
		errs = append(errs, "fleet.remove_after must be greater than fleet.inactive_after")
	}
	if c.Fleet.SweepInterval <= 0 {
		errs = append(errs, "fleet.sweep_interval must be positive")
	}
	for deviceType, limit := range c.Fleet.TypeLimits {
		if limit < 0 {
			errs = append(errs, fmt.Sprintf("fleet.type_limits[%s] must not be negative", deviceType))
		}
	}

	// Dispatch validation
	if c.Dispatch.Timeout <= 0 {
		errs = append(errs, "dispatch.timeout must be positive")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Device agent validation
	if c.Device.Port < 1 || c.Device.Port > 65535 {
		errs = append(errs, "device.port must be between 1 and 65535")
	}
	if c.Device.Heartbeat.Interval <= 0 {
		errs = append(errs, "device.heartbeat.interval must be positive")
	}
	if c.Device.Heartbeat.RetryAttempts < 1 {
		errs = append(errs, "device.heartbeat.retry_attempts must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// InactiveThreshold returns the inactivity threshold as a Duration.
func (f FleetConfig) InactiveThreshold() time.Duration {
	return time.Duration(f.InactiveAfter) * time.Second
}

// RemovalThreshold returns the removal threshold as a Duration.
func (f FleetConfig) RemovalThreshold() time.Duration {
	return time.Duration(f.RemoveAfter) * time.Second
}

// SweepEvery returns the sweep interval as a Duration.
func (f FleetConfig) SweepEvery() time.Duration {
	return time.Duration(f.SweepInterval) * time.Second
}

// CommandTimeout returns the dispatch timeout as a Duration.
func (d DispatchConfig) CommandTimeout() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// IntervalDuration returns the heartbeat interval as a Duration.
func (h HeartbeatConfig) IntervalDuration() time.Duration {
	return time.Duration(h.Interval) * time.Second
}

// RetryDelayDuration returns the delay between heartbeat attempts as a Duration.
func (h HeartbeatConfig) RetryDelayDuration() time.Duration {
	return time.Duration(h.RetryDelay) * time.Second
}
