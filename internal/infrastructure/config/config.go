package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Lumen Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site        SiteConfig        `yaml:"site"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Connection  ConnectionConfig  `yaml:"connection"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DiscoveryConfig controls the multicast search/advertisement scanner.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Group is the multicast group and port devices listen on.
	// Default: "239.255.255.250:1982"
	Group string `yaml:"group"`

	// Interface optionally pins the multicast join to one network interface.
	// Empty means the system default.
	Interface string `yaml:"interface"`

	// Interval is the period between search broadcasts.
	// Default: 1s
	Interval time.Duration `yaml:"interval"`

	// MaxSearches caps the number of search broadcasts. 0 means unbounded.
	MaxSearches int `yaml:"max_searches"`
}

// ConnectionConfig contains per-device control stream settings.
type ConnectionConfig struct {
	// DialTimeout bounds a single connect attempt.
	// Default: 3s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// KeepAlive is the TCP keep-alive period on the control stream.
	// Default: 15s
	KeepAlive time.Duration `yaml:"keep_alive"`

	// OperationTimeout is how long a sent command may stay unanswered before
	// the device is considered unresponsive.
	// Default: 1s
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	// ProbeInterval is the liveness probe period while connected.
	// Default: 3s
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// ProbeTimeout bounds a single liveness probe.
	// Default: 1s
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// Prober selects the liveness probe: "icmp" (unprivileged echo) or
	// "tcp" (connect to the control port).
	// Default: "icmp"
	Prober string `yaml:"prober"`

	// ReconnectInitial is the first reconnect delay after a retryable
	// connect error; later delays grow exponentially up to ReconnectMax.
	// 0 retries immediately, every time.
	// Default: 250ms
	ReconnectInitial time.Duration `yaml:"reconnect_initial"`

	// ReconnectMax caps the reconnect delay.
	// Default: 30s
	ReconnectMax time.Duration `yaml:"reconnect_max"`
}

// PersistenceConfig selects where the known-device list is stored.
type PersistenceConfig struct {
	// Backend is "sqlite" or "json".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// File is the JSON device list used by the "json" backend.
	// Default: "./data/devices.json"
	File string `yaml:"file"`

	// MergePolicy is "prefer_discovered" or "prefer_persisted".
	// Default: "prefer_discovered"
	MergePolicy string `yaml:"merge_policy"`

	// HistoryRetention keeps light state history in the SQLite database
	// for this long. 0 disables history. Ignored by the "json" backend.
	// Default: 168h (7 days)
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// DatabaseConfig contains SQLite database settings.
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
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
// Environment variables follow the pattern: LUMEN_SECTION_KEY
// For example: LUMEN_DATABASE_PATH, LUMEN_API_PORT
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

// Default returns the built-in configuration, with environment overrides
// applied. Used when no configuration file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Lumen",
		},
		Discovery: DiscoveryConfig{
			Enabled:  true,
			Group:    "239.255.255.250:1982",
			Interval: time.Second,
		},
		Connection: ConnectionConfig{
			DialTimeout:      3 * time.Second,
			KeepAlive:        15 * time.Second,
			OperationTimeout: time.Second,
			ProbeInterval:    3 * time.Second,
			ProbeTimeout:     time.Second,
			Prober:           "icmp",
			ReconnectInitial: 250 * time.Millisecond,
			ReconnectMax:     30 * time.Second,
		},
		Persistence: PersistenceConfig{
			Backend:          "sqlite",
			File:             "./data/devices.json",
			MergePolicy:      "prefer_discovered",
			HistoryRetention: 7 * 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Path:        "./data/lumen.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lumen-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
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
// Environment variables follow the pattern: LUMEN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Discovery
	if v := os.Getenv("LUMEN_DISCOVERY_INTERFACE"); v != "" {
		cfg.Discovery.Interface = v
	}

	// Persistence
	if v := os.Getenv("LUMEN_PERSISTENCE_BACKEND"); v != "" {
		cfg.Persistence.Backend = v
	}
	if v := os.Getenv("LUMEN_PERSISTENCE_FILE"); v != "" {
		cfg.Persistence.File = v
	}

	// Database
	if v := os.Getenv("LUMEN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("LUMEN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LUMEN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LUMEN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("LUMEN_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("LUMEN_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("LUMEN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Discovery validation
	if c.Discovery.Enabled {
		if c.Discovery.Group == "" {
			errs = append(errs, "discovery.group is required")
		}
		if c.Discovery.Interval <= 0 {
			errs = append(errs, "discovery.interval must be positive")
		}
	}
	if c.Discovery.MaxSearches < 0 {
		errs = append(errs, "discovery.max_searches must not be negative")
	}

	// Connection validation
	if c.Connection.OperationTimeout <= 0 {
		errs = append(errs, "connection.operation_timeout must be positive")
	}
	if c.Connection.ProbeInterval <= 0 {
		errs = append(errs, "connection.probe_interval must be positive")
	}
	if c.Connection.ProbeTimeout <= 0 || c.Connection.ProbeTimeout > c.Connection.ProbeInterval {
		errs = append(errs, "connection.probe_timeout must be positive and not exceed probe_interval")
	}
	switch c.Connection.Prober {
	case "icmp", "tcp":
	default:
		errs = append(errs, "connection.prober must be \"icmp\" or \"tcp\"")
	}
	if c.Connection.ReconnectInitial < 0 {
		errs = append(errs, "connection.reconnect_initial must not be negative")
	}
	if c.Connection.ReconnectInitial > 0 && c.Connection.ReconnectMax < c.Connection.ReconnectInitial {
		errs = append(errs, "connection.reconnect_max must be at least reconnect_initial")
	}

	// Persistence validation
	switch c.Persistence.Backend {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite backend")
		}
	case "json":
		if c.Persistence.File == "" {
			errs = append(errs, "persistence.file is required for the json backend")
		}
	default:
		errs = append(errs, "persistence.backend must be \"sqlite\" or \"json\"")
	}
	switch c.Persistence.MergePolicy {
	case "prefer_discovered", "prefer_persisted":
	default:
		errs = append(errs, "persistence.merge_policy must be \"prefer_discovered\" or \"prefer_persisted\"")
	}
	if c.Persistence.HistoryRetention < 0 {
		errs = append(errs, "persistence.history_retention must not be negative")
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
