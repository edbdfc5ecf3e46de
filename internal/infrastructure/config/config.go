package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Relay.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig    `yaml:"service"`
	Database  DatabaseConfig   `yaml:"database"`
	Relay     RelayConfig      `yaml:"relay"`
	Instances []InstanceConfig `yaml:"instances"`
	API       APIConfig        `yaml:"api"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
	MQTT      MQTTConfig       `yaml:"mqtt"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Logging   LoggingConfig    `yaml:"logging"`
	Security  SecurityConfig   `yaml:"security"`
}

// ServiceConfig contains service-level identification.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RelayConfig contains the tunables for the mailbox relay: how the connection
// workers drain the queue, how callers poll, and how long entries are retained.
type RelayConfig struct {
	// DrainInterval is how often a connection worker checks for pending
	// entries while the queue is active.
	DrainInterval time.Duration `yaml:"drain_interval"`

	// DrainMaxBackoff caps the drain backoff when the queue stays empty.
	DrainMaxBackoff time.Duration `yaml:"drain_max_backoff"`

	// PollInterval is the base interval at which callers poll their mailbox
	// entry. A random jitter of up to half this interval is added per poll.
	PollInterval time.Duration `yaml:"poll_interval"`

	// DefaultCallTimeout is the wall-clock deadline for calls that don't
	// specify their own timeout.
	DefaultCallTimeout time.Duration `yaml:"default_call_timeout"`

	// SubscribeTimeout is how long Subscribe waits for the instance to
	// acknowledge a new subscription.
	SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`

	// RetentionWindow is the maximum age a mailbox entry may reach before the
	// reaper deletes it unconditionally, regardless of state.
	RetentionWindow time.Duration `yaml:"retention_window"`

	// ReaperInterval is how often the reaper sweeps expired entries.
	ReaperInterval time.Duration `yaml:"reaper_interval"`

	// ReconnectInitialDelay is the first reconnection delay after an
	// instance connection drops.
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay"`

	// ReconnectMaxDelay caps the exponential reconnection backoff.
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
}

// InstanceConfig describes one external hub instance the relay connects to.
// Exactly one connection worker is started per configured instance.
type InstanceConfig struct {
	// ID is the instance reference recorded on every mailbox entry.
	ID string `yaml:"id"`

	// Name is a human-readable label for logs and the API.
	Name string `yaml:"name"`

	// Host and Port locate the instance's websocket endpoint.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// TLS enables wss:// instead of ws://.
	TLS bool `yaml:"tls"`

	// Token is the access token presented during the auth handshake.
	Token string `yaml:"token"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
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

// WebSocketConfig contains settings for the notification WebSocket server.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for the optional
// notification republisher.
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// MetricsConfig contains InfluxDB settings for relay telemetry.
type MetricsConfig struct {
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains rotating file log settings.
// When Path is set, logs are mirrored to the file with size-based rotation.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT  JWTConfig  `yaml:"jwt"`
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig contains the login credential pair for the API. An empty
// password disables the login endpoint entirely.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYRELAY_SECTION_KEY
// For example: GRAYRELAY_DATABASE_PATH, GRAYRELAY_JWT_SECRET
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "relay-001",
			Name: "Gray Logic Relay",
		},
		Database: DatabaseConfig{
			Path:        "./data/grayrelay.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Relay: RelayConfig{
			DrainInterval:         250 * time.Millisecond,
			DrainMaxBackoff:       2 * time.Second,
			PollInterval:          200 * time.Millisecond,
			DefaultCallTimeout:    30 * time.Second,
			SubscribeTimeout:      10 * time.Second,
			RetentionWindow:       time.Hour,
			ReaperInterval:        5 * time.Minute,
			ReconnectInitialDelay: time.Second,
			ReconnectMaxDelay:     60 * time.Second,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
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
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "grayrelay",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:  15,
				RefreshTokenTTL: 1440,
			},
			Auth: AuthConfig{
				Username: "admin",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYRELAY_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYRELAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("GRAYRELAY_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// MQTT
	if v := os.Getenv("GRAYRELAY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYRELAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYRELAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Metrics
	if v := os.Getenv("GRAYRELAY_METRICS_TOKEN"); v != "" {
		cfg.Metrics.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("GRAYRELAY_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("GRAYRELAY_AUTH_USERNAME"); v != "" {
		cfg.Security.Auth.Username = v
	}
	if v := os.Getenv("GRAYRELAY_AUTH_PASSWORD"); v != "" {
		cfg.Security.Auth.Password = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Relay.RetentionWindow <= 0 {
		errs = append(errs, "relay.retention_window must be positive")
	}
	if c.Relay.PollInterval <= 0 {
		errs = append(errs, "relay.poll_interval must be positive")
	}
	if c.Relay.DrainInterval <= 0 {
		errs = append(errs, "relay.drain_interval must be positive")
	}

	// Every instance needs an id: the instance reference is mandatory on
	// mailbox entries, so an unidentifiable instance cannot be relayed to.
	seen := make(map[string]bool, len(c.Instances))
	for i, inst := range c.Instances {
		if inst.ID == "" {
			errs = append(errs, fmt.Sprintf("instances[%d].id is required", i))
			continue
		}
		if seen[inst.ID] {
			errs = append(errs, fmt.Sprintf("instances[%d].id %q is duplicated", i, inst.ID))
		}
		seen[inst.ID] = true
		if inst.Host == "" {
			errs = append(errs, fmt.Sprintf("instances[%d].host is required", i))
		}
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// JWT secret is required: the relay fronts physical-world instances, so
	// forged tokens could drive real devices.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set GRAYRELAY_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Instance returns the configuration for the given instance id.
//
// Returns:
//   - *InstanceConfig: The instance configuration, or nil if not configured
func (c *Config) Instance(id string) *InstanceConfig {
	for i := range c.Instances {
		if c.Instances[i].ID == id {
			return &c.Instances[i]
		}
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
