package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the HMS console.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Console  ConsoleConfig  `yaml:"console" envPrefix:"CONSOLE_"`
	API      APIConfig      `yaml:"api" envPrefix:"API_"`
	Session  SessionConfig  `yaml:"session" envPrefix:"SESSION_"`
	Storage  StorageConfig  `yaml:"storage" envPrefix:"STORAGE_"`
	Audit    AuditConfig    `yaml:"audit" envPrefix:"AUDIT_"`
	MQTT     MQTTConfig     `yaml:"mqtt" envPrefix:"MQTT_"`
	InfluxDB InfluxDBConfig `yaml:"influxdb" envPrefix:"INFLUXDB_"`
	Status   StatusConfig   `yaml:"status" envPrefix:"STATUS_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
}

// ConsoleConfig identifies this console instance.
type ConsoleConfig struct {
	// ClientID names this console in published session events.
	// Empty means "hmsconsole-<random>" is generated at startup.
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`

	// LoginRoute is the login surface. Booting on this route skips verification,
	// and forced logouts redirect here.
	LoginRoute string `yaml:"login_route" env:"LOGIN_ROUTE"`
}

// APIConfig describes the HMS backend the console talks to.
type APIConfig struct {
	BaseURL   string          `yaml:"base_url" env:"BASE_URL"`
	Timeout   time.Duration   `yaml:"timeout" env:"TIMEOUT"`
	UserAgent string          `yaml:"user_agent" env:"USER_AGENT"`
	Endpoints EndpointsConfig `yaml:"endpoints" envPrefix:"ENDPOINT_"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

// EndpointsConfig holds the identity provider paths, relative to BaseURL.
type EndpointsConfig struct {
	Login   string `yaml:"login" env:"LOGIN"`
	Refresh string `yaml:"refresh" env:"REFRESH"`
	Me      string `yaml:"me" env:"ME"`
	Logout  string `yaml:"logout" env:"LOGOUT"`
}

// RateLimitConfig throttles outbound API calls.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" env:"ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RPS"`
	Burst             int     `yaml:"burst" env:"BURST"`
}

// SessionConfig tunes renewal behaviour.
type SessionConfig struct {
	// RenewInterval is the fallback proactive renewal period, used when the
	// access credential's lifetime cannot be read.
	RenewInterval time.Duration `yaml:"renew_interval" env:"RENEW_INTERVAL"`

	// RenewMargin is how long before credential expiry a proactive renewal fires.
	RenewMargin time.Duration `yaml:"renew_margin" env:"RENEW_MARGIN"`

	// RenewalTimeout bounds a single renewal call. Zero disables the bound.
	RenewalTimeout time.Duration `yaml:"renewal_timeout" env:"RENEWAL_TIMEOUT"`

	// AccessCookie is the cookie carrying the access credential.
	AccessCookie string `yaml:"access_cookie" env:"ACCESS_COOKIE"`

	// Degraded lists resources that resolve to a neutral value on 401/403.
	Degraded []DegradedRuleConfig `yaml:"degraded"`
}

// DegradedRuleConfig maps a URL path fragment to a neutral value.
type DegradedRuleConfig struct {
	Fragment string `yaml:"fragment"`
	Neutral  string `yaml:"neutral"` // "empty_list" or "null"
}

// StorageConfig selects the credential store backend.
type StorageConfig struct {
	// Backend is one of "file", "sqlite" or "memory".
	Backend string `yaml:"backend" env:"BACKEND"`

	// Path is the credential file (file backend) or database path (sqlite backend).
	Path string `yaml:"path" env:"PATH"`

	// Watch enables cross-process sync for the file backend.
	Watch bool `yaml:"watch" env:"WATCH"`

	WALMode     bool `yaml:"wal_mode" env:"WAL_MODE"`
	BusyTimeout int  `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`
}

// AuditConfig controls the SQLite session audit trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`

	// Retention is how long entries are kept; older ones are pruned at
	// startup. Zero keeps everything.
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
}

// MQTTConfig contains MQTT broker connection settings for the session event feed.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled" env:"ENABLED"`
	Broker    MQTTBrokerConfig    `yaml:"broker" envPrefix:"BROKER_"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos" env:"QOS"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	TLS      bool   `yaml:"tls" env:"TLS"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for session telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	URL           string `yaml:"url" env:"URL"`
	Token         string `yaml:"token" env:"TOKEN"`
	Org           string `yaml:"org" env:"ORG"`
	Bucket        string `yaml:"bucket" env:"BUCKET"`
	BatchSize     int    `yaml:"batch_size" env:"BATCH_SIZE"`
	FlushInterval int    `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
}

// StatusConfig contains the local status API settings used by "hmsconsole serve".
type StatusConfig struct {
	Host     string           `yaml:"host" env:"HOST"`
	Port     int              `yaml:"port" env:"PORT"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	// WebSocket configures the live session event stream.
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// WebSocketConfig contains WebSocket settings for the session event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"` // seconds
	PongTimeout    int `yaml:"pong_timeout"`  // seconds
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// envPrefix is prepended to every environment override, e.g. HMS_API_BASE_URL.
const envPrefix = "HMS_"

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// A missing file is an error; use LoadDefaults for environment-only setups.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

// LoadDefaults builds a configuration from defaults and environment variables only.
func LoadDefaults() (*Config, error) {
	return finish(defaultConfig())
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Console: ConsoleConfig{
			LoginRoute: "/login",
		},
		API: APIConfig{
			BaseURL:   "http://localhost:5000/api",
			Timeout:   30 * time.Second,
			UserAgent: "hmsconsole",
			Endpoints: EndpointsConfig{
				Login:   "/auth/login",
				Refresh: "/auth/refresh",
				Me:      "/auth/me",
				Logout:  "/auth/logout",
			},
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 20,
				Burst:             40,
			},
		},
		Session: SessionConfig{
			RenewInterval:  14 * time.Minute,
			RenewMargin:    time.Minute,
			RenewalTimeout: 30 * time.Second,
			AccessCookie:   "access_token",
			Degraded: []DegradedRuleConfig{
				{Fragment: "/semesters", Neutral: "empty_list"},
			},
		},
		Storage: StorageConfig{
			Backend:     "file",
			Path:        "./data/identity.json",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Audit: AuditConfig{
			Path:      "./data/audit.db",
			Retention: 30 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Status: StatusConfig{
			Host: "127.0.0.1",
			Port: 8089,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies HMS_* environment variable overrides.
// Variables that are unset leave the file or default value in place.
func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parsing environment overrides: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.API.BaseURL == "" {
		errs = append(errs, "api.base_url is required")
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "api.base_url must be an absolute URL")
	}

	ep := c.API.Endpoints
	if ep.Login == "" || ep.Refresh == "" || ep.Me == "" || ep.Logout == "" {
		errs = append(errs, "api.endpoints.{login,refresh,me,logout} are required")
	}

	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, "api.rate_limit.requests_per_second must be positive")
	}

	if c.Session.RenewInterval <= 0 {
		errs = append(errs, "session.renew_interval must be positive")
	}
	if c.Session.RenewMargin < 0 {
		errs = append(errs, "session.renew_margin cannot be negative")
	}
	if c.Session.RenewalTimeout < 0 {
		errs = append(errs, "session.renewal_timeout cannot be negative")
	}
	for i, r := range c.Session.Degraded {
		if r.Fragment == "" {
			errs = append(errs, fmt.Sprintf("session.degraded[%d].fragment is required", i))
		}
		switch r.Neutral {
		case "empty_list", "null":
		default:
			errs = append(errs, fmt.Sprintf("session.degraded[%d].neutral must be empty_list or null", i))
		}
	}

	switch c.Storage.Backend {
	case "memory":
	case "file", "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, "storage.path is required for the "+c.Storage.Backend+" backend")
		}
	default:
		errs = append(errs, "storage.backend must be file, sqlite or memory")
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		errs = append(errs, "audit.path is required when enabled")
	}
	if c.Audit.Retention < 0 {
		errs = append(errs, "audit.retention cannot be negative")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}

	if c.Status.Port < 1 || c.Status.Port > 65535 {
		errs = append(errs, "status.port must be between 1 and 65535")
	}
	if ws := c.Status.WebSocket; ws.MaxMessageSize <= 0 || ws.PingInterval <= 0 || ws.PongTimeout <= 0 {
		errs = append(errs, "status.websocket settings must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the status API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Status.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the status API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Status.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the status API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Status.Timeouts.Idle) * time.Second
}
