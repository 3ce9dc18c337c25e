package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Protocol versions accepted in mqtt.broker.protocol_version.
const (
	ProtocolV311 = 4
	ProtocolV5   = 5
)

// Config is the root configuration structure for the TouchPortal MQTT plugin.
// All configuration is loaded from YAML and can be overridden by environment variables.
//
// Broker credentials and topics normally arrive from TouchPortal's settings
// store; the values here are defaults that those settings are layered onto.
type Config struct {
	TouchPortal TouchPortalConfig `yaml:"touchportal"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Database    DatabaseConfig    `yaml:"database"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// TouchPortalConfig contains the plugin socket settings.
type TouchPortalConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	PluginID       string `yaml:"plugin_id"`
	ConnectTimeout int    `yaml:"connect_timeout"`
	EntryPath      string `yaml:"entry_path"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker         MQTTBrokerConfig    `yaml:"broker"`
	Auth           MQTTAuthConfig      `yaml:"auth"`
	QoS            int                 `yaml:"qos"`
	KeepAlive      int                 `yaml:"keep_alive"`
	ConnectTimeout int                 `yaml:"connect_timeout"`
	StatusTopic    string              `yaml:"status_topic"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	TLS             bool   `yaml:"tls"`
	ClientID        string `yaml:"client_id"`
	ProtocolVersion int    `yaml:"protocol_version"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// BridgeConfig controls how MQTT deliveries become TouchPortal state updates.
type BridgeConfig struct {
	// TopicSlots is the number of "Mqtt Topic #N" settings declared in entry.tp.
	// TouchPortal requires settings and states to be declared statically,
	// so the count must match the installed entry file.
	TopicSlots int `yaml:"topic_slots"`

	// ResetDelay is how long the "Topic N" indicator is held before it is
	// reset to "Any topic". Empirical; tune for the host's event timing.
	// Must be positive.
	ResetDelay time.Duration `yaml:"reset_delay"`

	// QueueSize bounds deliveries buffered between the MQTT callback and
	// the state-update worker.
	QueueSize int `yaml:"queue_size"`
}

// DatabaseConfig contains SQLite payload history settings.
type DatabaseConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout int           `yaml:"busy_timeout"`
	Retention   time.Duration `yaml:"retention"`
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

// APIConfig contains the local status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: TPMQTT_SECTION_KEY
// For example: TPMQTT_MQTT_HOST, TPMQTT_BRIDGE_TOPIC_SLOTS
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

// LoadOrDefault behaves like Load but falls back to defaults (plus
// environment overrides) when the file does not exist. TouchPortal starts
// the plugin from its install directory, where a config file is optional.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		TouchPortal: TouchPortalConfig{
			Host:           "127.0.0.1",
			Port:           12136,
			PluginID:       "TouchPortalMQTTPlugin",
			ConnectTimeout: 10,
			EntryPath:      "entry.tp",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:            "localhost",
				Port:            1883,
				ClientID:        "mqtt-client-id",
				ProtocolVersion: ProtocolV5,
			},
			QoS:            1,
			KeepAlive:      60,
			ConnectTimeout: 10,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Bridge: BridgeConfig{
			TopicSlots: 4,
			ResetDelay: 10 * time.Millisecond,
			QueueSize:  256,
		},
		Database: DatabaseConfig{
			Path:        "./data/tpmqtt.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   7 * 24 * time.Hour,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8089,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TPMQTT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// TouchPortal
	if v := os.Getenv("TPMQTT_TOUCHPORTAL_HOST"); v != "" {
		cfg.TouchPortal.Host = v
	}
	if v, ok := envInt("TPMQTT_TOUCHPORTAL_PORT"); ok {
		cfg.TouchPortal.Port = v
	}
	if v := os.Getenv("TPMQTT_PLUGIN_ID"); v != "" {
		cfg.TouchPortal.PluginID = v
	}

	// MQTT
	if v := os.Getenv("TPMQTT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v, ok := envInt("TPMQTT_MQTT_PORT"); ok {
		cfg.MQTT.Broker.Port = v
	}
	if v := os.Getenv("TPMQTT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TPMQTT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Bridge
	if v, ok := envInt("TPMQTT_BRIDGE_TOPIC_SLOTS"); ok {
		cfg.Bridge.TopicSlots = v
	}
	if v := os.Getenv("TPMQTT_BRIDGE_RESET_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bridge.ResetDelay = d
		}
	}

	// Database
	if v := os.Getenv("TPMQTT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("TPMQTT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("TPMQTT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

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
func (c *Config) Validate() error {
	var errs []string

	if c.TouchPortal.Port < 1 || c.TouchPortal.Port > 65535 {
		errs = append(errs, "touchportal.port must be between 1 and 65535")
	}
	if c.TouchPortal.PluginID == "" {
		errs = append(errs, "touchportal.plugin_id is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if v := c.MQTT.Broker.ProtocolVersion; v != ProtocolV311 && v != ProtocolV5 {
		errs = append(errs, "mqtt.broker.protocol_version must be 4 (3.1.1) or 5")
	}

	if c.Bridge.TopicSlots < 1 {
		errs = append(errs, "bridge.topic_slots must be at least 1")
	}
	if c.Bridge.ResetDelay <= 0 {
		errs = append(errs, "bridge.reset_delay must be positive")
	}
	if c.Bridge.QueueSize < 0 {
		errs = append(errs, "bridge.queue_size cannot be negative")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Timeout returns the TouchPortal dial timeout as a Duration.
func (t TouchPortalConfig) Timeout() time.Duration {
	return time.Duration(t.ConnectTimeout) * time.Second
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
