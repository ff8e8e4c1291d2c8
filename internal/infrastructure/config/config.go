package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the RIO bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	RIO       RIOConfig       `yaml:"rio"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RIOConfig contains the controller connection settings.
// Durations are whole seconds.
type RIOConfig struct {
	// Host is the controller's address. Required.
	Host string `yaml:"host"`

	// Port is the RIO TCP port. Default: 9621
	Port int `yaml:"port"`

	// Reconnect enables automatic reconnection after a lost connection.
	// Default: true
	Reconnect bool `yaml:"reconnect"`

	// ReconnectDelay is the fixed wait between attempts. Default: 5
	ReconnectDelay int `yaml:"reconnect_delay"`

	// MaxReconnectAttempts caps consecutive attempts. 0 means unlimited.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// KeepAliveInterval is the period of the VERSION keep-alive. Default: 900
	KeepAliveInterval int `yaml:"keepalive_interval"`

	// ConnectTimeout bounds the TCP dial. Default: 10
	ConnectTimeout int `yaml:"connect_timeout"`

	// CommandTimeout bounds each command. 0 disables the limit.
	// Default: 10
	CommandTimeout int `yaml:"command_timeout"`

	// MinVersion is the lowest accepted controller API version.
	// Default: "1.03.00"
	MinVersion string `yaml:"min_version"`
}

// BridgeConfig contains the MQTT bridge settings.
type BridgeConfig struct {
	// ID identifies this bridge in health messages. Default: "rio-bridge-01"
	ID string `yaml:"id"`

	// HealthInterval is the health publish period in seconds. Default: 30
	HealthInterval int `yaml:"health_interval"`

	// QueueSize bounds pending variable updates. Default: 1024
	QueueSize int `yaml:"queue_size"`

	// Zones lists the zones to watch and publish.
	Zones []ZoneConfig `yaml:"zones"`

	// Sources lists the source numbers to watch and publish.
	Sources []int `yaml:"sources"`
}

// ZoneConfig addresses one zone.
type ZoneConfig struct {
	Controller int    `yaml:"controller"`
	Zone       int    `yaml:"zone"`
	Name       string `yaml:"name,omitempty"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetention is how many days of variable history to keep.
	// 0 keeps everything. Default: 30
	HistoryRetention int `yaml:"history_retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
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
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_RIO_HOST, GRAYLOGIC_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		RIO: RIOConfig{
			Port:              9621,
			Reconnect:         true,
			ReconnectDelay:    5,
			KeepAliveInterval: 900,
			ConnectTimeout:    10,
			CommandTimeout:    10,
			MinVersion:        "1.03.00",
		},
		Bridge: BridgeConfig{
			ID:             "rio-bridge-01",
			HealthInterval: 30,
			QueueSize:      1024,
		},
		Database: DatabaseConfig{
			Path:             "./data/riobridge.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-rio",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "rio",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// RIO
	if v := os.Getenv("GRAYLOGIC_RIO_HOST"); v != "" {
		cfg.RIO.Host = v
	}
	if v, ok := envInt("GRAYLOGIC_RIO_PORT"); ok {
		cfg.RIO.Port = v
	}
	if v := os.Getenv("GRAYLOGIC_RIO_RECONNECT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RIO.Reconnect = b
		}
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v, ok := envInt("GRAYLOGIC_MQTT_PORT"); ok {
		cfg.MQTT.Broker.Port = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v, ok := envInt("GRAYLOGIC_API_PORT"); ok {
		cfg.API.Port = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// envInt reads an integer environment variable. Unparsable values are ignored.
func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// RIO validation
	if c.RIO.Host == "" {
		errs = append(errs, "rio.host is required (set GRAYLOGIC_RIO_HOST environment variable)")
	}
	if c.RIO.Port < 1 || c.RIO.Port > 65535 {
		errs = append(errs, "rio.port must be between 1 and 65535")
	}
	if c.RIO.ReconnectDelay < 0 || c.RIO.MaxReconnectAttempts < 0 ||
		c.RIO.KeepAliveInterval < 0 || c.RIO.ConnectTimeout < 0 || c.RIO.CommandTimeout < 0 {
		errs = append(errs, "rio timeouts and attempt limits must not be negative")
	}
	if !validVersion(c.RIO.MinVersion) {
		errs = append(errs, fmt.Sprintf("rio.min_version %q must look like 1.03.00", c.RIO.MinVersion))
	}

	// Bridge validation
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	for i, z := range c.Bridge.Zones {
		if z.Controller < 1 || z.Zone < 1 {
			errs = append(errs, fmt.Sprintf("bridge.zones[%d]: controller and zone must be positive", i))
		}
	}
	for i, s := range c.Bridge.Sources {
		if s < 1 {
			errs = append(errs, fmt.Sprintf("bridge.sources[%d]: source must be positive", i))
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validVersion reports whether v has the MAJOR.MM.PP shape.
func validVersion(v string) bool {
	parts := strings.Split(v, ".")
	if len(parts) != 3 || len(parts[0]) < 1 || len(parts[0]) > 2 ||
		len(parts[1]) != 2 || len(parts[2]) != 2 {
		return false
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			return false
		}
	}
	return true
}

// seconds converts an integer number of seconds to a Duration.
func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return seconds(c.API.Timeouts.Read)
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return seconds(c.API.Timeouts.Write)
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return seconds(c.API.Timeouts.Idle)
}

// ReconnectDelayDuration returns the RIO reconnect delay as a Duration.
func (r RIOConfig) ReconnectDelayDuration() time.Duration {
	return seconds(r.ReconnectDelay)
}

// KeepAliveDuration returns the keep-alive interval as a Duration.
func (r RIOConfig) KeepAliveDuration() time.Duration {
	return seconds(r.KeepAliveInterval)
}

// ConnectTimeoutDuration returns the dial timeout as a Duration.
func (r RIOConfig) ConnectTimeoutDuration() time.Duration {
	return seconds(r.ConnectTimeout)
}

// CommandTimeoutDuration returns the per-command timeout as a Duration.
func (r RIOConfig) CommandTimeoutDuration() time.Duration {
	return seconds(r.CommandTimeout)
}

// HealthIntervalDuration returns the bridge health period as a Duration.
func (b BridgeConfig) HealthIntervalDuration() time.Duration {
	return seconds(b.HealthInterval)
}
