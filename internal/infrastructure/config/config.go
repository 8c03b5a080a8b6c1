package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Lumen Core.
// All configuration is loaded from YAML and can be overridden by
// environment variables (LUMEN_SECTION_KEY).
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Bus       BusConfig       `yaml:"bus"`
	Database  DatabaseConfig  `yaml:"database"`
	Modules   []ModuleConfig  `yaml:"modules"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies the installation this instance controls.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// BusConfig tunes the message-routing core.
type BusConfig struct {
	// QueueCapacity bounds the single-flight FIFO queue. Messages
	// admitted while the bus is saturated evict the oldest pending
	// message. Default 1000.
	QueueCapacity int `yaml:"queue_capacity"`

	// RateWindowSeconds is the trailing window for event/error rates.
	// Default 60.
	RateWindowSeconds int `yaml:"rate_window_seconds"`

	// LatencyHistory caps the latency samples kept for the average
	// latency figure. Default 1000.
	LatencyHistory int `yaml:"latency_history"`
}

// DatabaseConfig contains SQLite state-store settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// AutosaveInterval is the seconds between autosave sweeps of dirty
	// runtime state. Default 30.
	AutosaveInterval int `yaml:"autosave_interval"`
}

// ModuleConfig declares one I/O module instance to start at boot.
type ModuleConfig struct {
	// ID is the module's identity on the bus (route targets, sources).
	ID string `yaml:"id"`

	// Kind selects the module implementation ("timer", "loopback",
	// "mqtt-bridge", ...).
	Kind string `yaml:"kind"`

	// Enabled gates the module without removing its config.
	Enabled bool `yaml:"enabled"`

	// Settings carries kind-specific options.
	Settings map[string]any `yaml:"settings"`
}

// MQTTConfig contains MQTT bridge connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	QoS       int                 `yaml:"qos"`

	// ExportPatterns are bus patterns mirrored out to the broker.
	ExportPatterns []string `yaml:"export_patterns"`

	// ImportTopics are broker topics injected into the bus.
	ImportTopics []string `yaml:"import_topics"`
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

// MQTTReconnectConfig tunes automatic reconnection backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings for the
// visual editor.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket broadcaster settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains metrics-export settings.
type InfluxDBConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	Token          string `yaml:"token"`
	Org            string `yaml:"org"`
	Bucket         string `yaml:"bucket"`
	ExportInterval int    `yaml:"export_interval"`
	BatchSize      int    `yaml:"batch_size"`
	FlushInterval  int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings for the HTTP surface.
type SecurityConfig struct {
	Token TokenConfig `yaml:"token"`
}

// TokenConfig contains API bearer-token settings.
type TokenConfig struct {
	// Secret signs editor API tokens. Must be set via config or
	// LUMEN_TOKEN_SECRET before the API will start.
	Secret string `yaml:"secret"`

	// TTLMinutes is the lifetime of issued tokens. Default 60.
	TTLMinutes int `yaml:"ttl_minutes"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The loading order is: hardcoded defaults, then YAML file values, then
// environment variables (LUMEN_SECTION_KEY, e.g. LUMEN_DATABASE_PATH).
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
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Lumen",
			Timezone: "UTC",
		},
		Bus: BusConfig{
			QueueCapacity:     1000,
			RateWindowSeconds: 60,
			LatencyHistory:    1000,
		},
		Database: DatabaseConfig{
			Path:             "./data/lumen.db",
			WALMode:          true,
			BusyTimeout:      5,
			AutosaveInterval: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lumen-core",
			},
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			QoS: 1,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
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
			ExportInterval: 15,
			BatchSize:      100,
			FlushInterval:  10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			Token: TokenConfig{
				TTLMinutes: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides.
// Variables follow the pattern LUMEN_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LUMEN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LUMEN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LUMEN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LUMEN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("LUMEN_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("LUMEN_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("LUMEN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("LUMEN_TOKEN_SECRET"); v != "" {
		cfg.Security.Token.Secret = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Bus.QueueCapacity < 0 {
		errs = append(errs, "bus.queue_capacity must not be negative")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	// Port 0 lets the kernel choose (useful in tests).
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be 0-65535")
	}

	seen := make(map[string]bool)
	for i, m := range c.Modules {
		if m.ID == "" {
			errs = append(errs, fmt.Sprintf("modules[%d].id is required", i))
			continue
		}
		if seen[m.ID] {
			errs = append(errs, fmt.Sprintf("modules[%d].id %q is duplicated", i, m.ID))
		}
		seen[m.ID] = true
		if m.Kind == "" {
			errs = append(errs, fmt.Sprintf("modules[%d].kind is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
