package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tasktrax/pkg/observability"
)

// EnvPrefix is prepended to every environment variable the loader reads
const EnvPrefix = "TASKTRAX_"

// Store backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Auth modes
const (
	AuthModeOIDC   = "oidc"
	AuthModeHeader = "header"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Auth          AuthConfig          `yaml:"auth"`
	Sync          SyncConfig          `yaml:"sync"`
	Settings      SettingsConfig      `yaml:"settings"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Audit         AuditConfig         `yaml:"audit"`
	Activity      ActivityConfig      `yaml:"activity"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins enables CORS and restricts /api/live to these origins
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// StoreConfig selects and configures the document store backend
type StoreConfig struct {
	Backend string `yaml:"backend"`

	SQLitePath string `yaml:"sqlite_path"`

	PostgresURL             string        `yaml:"postgres_url"`
	PostgresMaxConns        int           `yaml:"postgres_max_conns"`
	PostgresMaxIdleConns    int           `yaml:"postgres_max_idle_conns"`
	PostgresConnMaxLifetime time.Duration `yaml:"postgres_conn_max_lifetime"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPoolSize int    `yaml:"redis_pool_size"`
}

// AuthConfig holds request authentication settings
type AuthConfig struct {
	Mode          string        `yaml:"mode"`
	OIDCIssuer    string        `yaml:"oidc_issuer"`
	OIDCClientID  string        `yaml:"oidc_client_id"`
	UserCacheSize int           `yaml:"user_cache_size"`
	UserCacheTTL  time.Duration `yaml:"user_cache_ttl"`
}

// SyncConfig holds realtime subscription settings
type SyncConfig struct {
	// LivenessTimeout forces a resubscribe when a live subscription has been
	// silent this long. Zero disables the watchdog.
	LivenessTimeout  time.Duration `yaml:"liveness_timeout"`
	WatchdogSchedule string        `yaml:"watchdog_schedule"`
	OverdueSchedule  string        `yaml:"overdue_schedule"`
}

// SettingsConfig holds the settings seed options
type SettingsConfig struct {
	SeedFile          string `yaml:"seed_file"`
	Watch             bool   `yaml:"watch"`
	InitializeOnStart bool   `yaml:"initialize_on_start"`
}

// RateLimitConfig holds per-user request throttling settings
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend is memory or redis; redis uses the store's redis settings
	Backend           string        `yaml:"backend"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
	Burst             int           `yaml:"burst"`
}

// AuditConfig holds security audit trail settings
type AuditConfig struct {
	FilePath    string `yaml:"file_path"`
	MaxFileSize int64  `yaml:"max_file_size"`
	MaxFiles    int    `yaml:"max_files"`
	// DatabaseURL enables the postgres audit sink
	DatabaseURL string `yaml:"database_url"`
}

// ActivityConfig holds task activity log settings
type ActivityConfig struct {
	// HMACKey signs each activity entry when non-empty
	HMACKey string `yaml:"hmac_key"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(strings.ToLower(o.LogLevel))
}

// OTel converts the settings into an observability.OTelConfig
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend:                 BackendMemory,
			SQLitePath:              "tasktrax.db",
			PostgresMaxConns:        20,
			PostgresMaxIdleConns:    5,
			PostgresConnMaxLifetime: 30 * time.Minute,
			RedisAddr:               "localhost:6379",
			RedisPoolSize:           10,
		},
		Auth: AuthConfig{
			Mode:          AuthModeHeader,
			UserCacheSize: 1024,
			UserCacheTTL:  30 * time.Second,
		},
		Sync: SyncConfig{
			LivenessTimeout:  2 * time.Minute,
			WatchdogSchedule: "@every 30s",
			OverdueSchedule:  "@every 15m",
		},
		RateLimit: RateLimitConfig{
			Backend:           BackendMemory,
			RequestsPerWindow: 600,
			Window:            time.Minute,
			Burst:             60,
		},
		Audit: AuditConfig{
			MaxFileSize: 100 * 1024 * 1024,
			MaxFiles:    10,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "tasktraxd",
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file,
// an optional .env file and TASKTRAX_* environment variables, in that order
// of increasing precedence.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// .env never overrides variables already present in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("HOST", s.Host)
	s.Port = getEnv("PORT", s.Port)
	s.ReadTimeout = getEnvDuration("READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		s.AllowedOrigins = splitList(origins)
	}

	st := &c.Store
	st.Backend = strings.ToLower(getEnv("STORE_BACKEND", st.Backend))
	st.SQLitePath = getEnv("SQLITE_PATH", st.SQLitePath)
	st.PostgresURL = getEnv("POSTGRES_URL", st.PostgresURL)
	st.PostgresMaxConns = getEnvInt("POSTGRES_MAX_CONNS", st.PostgresMaxConns)
	st.PostgresMaxIdleConns = getEnvInt("POSTGRES_MAX_IDLE_CONNS", st.PostgresMaxIdleConns)
	st.PostgresConnMaxLifetime = getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", st.PostgresConnMaxLifetime)
	st.RedisAddr = getEnv("REDIS_ADDR", st.RedisAddr)
	st.RedisPassword = getEnv("REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("REDIS_DB", st.RedisDB)
	st.RedisPoolSize = getEnvInt("REDIS_POOL_SIZE", st.RedisPoolSize)

	a := &c.Auth
	a.Mode = strings.ToLower(getEnv("AUTH_MODE", a.Mode))
	a.OIDCIssuer = getEnv("OIDC_ISSUER", a.OIDCIssuer)
	a.OIDCClientID = getEnv("OIDC_CLIENT_ID", a.OIDCClientID)
	a.UserCacheSize = getEnvInt("USER_CACHE_SIZE", a.UserCacheSize)
	a.UserCacheTTL = getEnvDuration("USER_CACHE_TTL", a.UserCacheTTL)

	sy := &c.Sync
	sy.LivenessTimeout = getEnvDuration("SYNC_LIVENESS_TIMEOUT", sy.LivenessTimeout)
	sy.WatchdogSchedule = getEnv("SYNC_WATCHDOG_SCHEDULE", sy.WatchdogSchedule)
	sy.OverdueSchedule = getEnv("OVERDUE_SCHEDULE", sy.OverdueSchedule)

	se := &c.Settings
	se.SeedFile = getEnv("SETTINGS_SEED_FILE", se.SeedFile)
	se.Watch = getEnvBool("SETTINGS_WATCH", se.Watch)
	se.InitializeOnStart = getEnvBool("SETTINGS_INITIALIZE", se.InitializeOnStart)

	rl := &c.RateLimit
	rl.Enabled = getEnvBool("RATE_LIMIT_ENABLED", rl.Enabled)
	rl.Backend = strings.ToLower(getEnv("RATE_LIMIT_BACKEND", rl.Backend))
	rl.RequestsPerWindow = getEnvInt("RATE_LIMIT_REQUESTS", rl.RequestsPerWindow)
	rl.Window = getEnvDuration("RATE_LIMIT_WINDOW", rl.Window)
	rl.Burst = getEnvInt("RATE_LIMIT_BURST", rl.Burst)

	au := &c.Audit
	au.FilePath = getEnv("AUDIT_FILE", au.FilePath)
	au.MaxFileSize = getEnvInt64("AUDIT_MAX_FILE_SIZE", au.MaxFileSize)
	au.MaxFiles = getEnvInt("AUDIT_MAX_FILES", au.MaxFiles)
	au.DatabaseURL = getEnv("AUDIT_DATABASE_URL", au.DatabaseURL)

	c.Activity.HMACKey = getEnv("ACTIVITY_HMAC_KEY", c.Activity.HMACKey)

	o := &c.Observability
	o.LogLevel = getEnv("LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite store")
		}
	case BackendPostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("redis address is required for redis store")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be memory, sqlite, postgres, or redis)", c.Store.Backend)
	}

	switch c.Auth.Mode {
	case AuthModeHeader:
	case AuthModeOIDC:
		if c.Auth.OIDCIssuer == "" || c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC issuer and client id are required for oidc auth")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be oidc or header)", c.Auth.Mode)
	}

	if c.Auth.UserCacheSize <= 0 {
		return fmt.Errorf("user cache size must be positive")
	}
	if c.Sync.LivenessTimeout < 0 {
		return fmt.Errorf("sync liveness timeout must not be negative")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Backend != BackendMemory && c.RateLimit.Backend != BackendRedis {
			return fmt.Errorf("invalid rate limit backend: %s (must be memory or redis)", c.RateLimit.Backend)
		}
		if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit requests and window must be positive")
		}
	}
	if c.Audit.FilePath != "" && c.Audit.MaxFiles <= 0 {
		return fmt.Errorf("audit max files must be positive when file audit is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma separated list, dropping empty items
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float64 environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
