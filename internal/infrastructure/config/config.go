package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Netatmo sync service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Netatmo  NetatmoConfig  `yaml:"netatmo"`
	Sync     SyncConfig     `yaml:"sync"`
}

// ServiceConfig identifies this service instance.
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APIAuthConfig contains bearer token settings for the HTTP API. With an
// empty JWTSecret the API accepts unauthenticated writes.
type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	TokenTTL  int    `yaml:"token_ttl"` // minutes
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
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

// NetatmoConfig contains the OAuth application registered with the Netatmo cloud.
type NetatmoConfig struct {
	APIURL       string   `yaml:"api_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
	// RequestTimeout bounds a single cloud HTTP call, in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

// SyncConfig controls the refresh scheduler. All values are in seconds.
type SyncConfig struct {
	SweepInterval int `yaml:"sweep_interval"`
	SweepTimeout  int `yaml:"sweep_timeout"`
	Cooldown      int `yaml:"cooldown"`
	RetryStep     int `yaml:"retry_step"`
	MaxRetries    int `yaml:"max_retries"`
	// AuthWait bounds how long a deferred refresh waits for its account
	// to become authenticated again.
	AuthWait int `yaml:"auth_wait"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NETATMOSYNC_SECTION_KEY
// For example: NETATMOSYNC_DATABASE_PATH, NETATMOSYNC_CLIENT_SECRET
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
		Service: ServiceConfig{
			ID:   "netatmosync-001",
			Name: "Netatmo Sync",
		},
		Database: DatabaseConfig{
			Path:        "./data/netatmosync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "netatmosync",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Auth: APIAuthConfig{
				TokenTTL: 1440,
			},
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
		Netatmo: NetatmoConfig{
			APIURL:         "https://api.netatmo.net",
			Scopes:         []string{"read_station", "read_thermostat", "write_thermostat"},
			RequestTimeout: 30,
		},
		Sync: SyncConfig{
			SweepInterval: 300,
			SweepTimeout:  240,
			Cooldown:      10,
			RetryStep:     30,
			MaxRetries:    3,
			AuthWait:      120,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NETATMOSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("NETATMOSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NETATMOSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NETATMOSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("NETATMOSYNC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("NETATMOSYNC_API_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}

	if v := os.Getenv("NETATMOSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// OAuth application credentials belong in the environment, not the file.
	if v := os.Getenv("NETATMOSYNC_CLIENT_ID"); v != "" {
		cfg.Netatmo.ClientID = v
	}
	if v := os.Getenv("NETATMOSYNC_CLIENT_SECRET"); v != "" {
		cfg.Netatmo.ClientSecret = v
	}
}

const minJWTSecretLength = 32

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if s := c.API.Auth.JWTSecret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "api.auth.jwt_secret must be at least 32 characters")
	}
	if c.API.Auth.TokenTTL <= 0 {
		errs = append(errs, "api.auth.token_ttl must be positive")
	}

	if c.Netatmo.APIURL == "" {
		errs = append(errs, "netatmo.api_url is required")
	}
	if c.Netatmo.ClientID == "" {
		errs = append(errs, "netatmo.client_id is required (set NETATMOSYNC_CLIENT_ID environment variable)")
	}
	if c.Netatmo.ClientSecret == "" {
		errs = append(errs, "netatmo.client_secret is required (set NETATMOSYNC_CLIENT_SECRET environment variable)")
	}

	if c.Sync.SweepInterval <= 0 {
		errs = append(errs, "sync.sweep_interval must be positive")
	}
	if c.Sync.SweepTimeout <= 0 || c.Sync.SweepTimeout > c.Sync.SweepInterval {
		errs = append(errs, "sync.sweep_timeout must be positive and not exceed sync.sweep_interval")
	}
	if c.Sync.Cooldown < 0 {
		errs = append(errs, "sync.cooldown must not be negative")
	}
	if c.Sync.RetryStep <= 0 {
		errs = append(errs, "sync.retry_step must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		errs = append(errs, "sync.max_retries must not be negative")
	}
	if c.Sync.AuthWait <= 0 {
		errs = append(errs, "sync.auth_wait must be positive")
	}

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

// Seconds converts one of the integer-second settings into a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// String renders the configuration for logging with secrets redacted.
func (n NetatmoConfig) String() string {
	secret := ""
	if n.ClientSecret != "" {
		secret = "[REDACTED]"
	}
	return fmt.Sprintf("api_url=%s client_id=%s client_secret=%s scopes=%s",
		n.APIURL, n.ClientID, secret, strings.Join(n.Scopes, ","))
}
