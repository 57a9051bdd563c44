package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/spoke-sso/pkg/observability"
	"github.com/platinummonkey/spoke-sso/pkg/sso"
	"github.com/platinummonkey/spoke-sso/pkg/sso/postgres"
	"github.com/platinummonkey/spoke-sso/pkg/sso/statestore"
)

// State store backends
const (
	StateBackendRedis  = "redis"
	StateBackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration for the operational endpoints
	Server ServerConfig

	// SSO orchestrator configuration
	SSO SSOConfig

	// State store configuration
	State StateConfig

	// PostgreSQL configuration
	Postgres postgres.Config

	// Audit configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds the health/metrics HTTP server configuration
type ServerConfig struct {
	Host            string
	HealthPort      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// SSOConfig holds orchestrator settings
type SSOConfig struct {
	PublicBaseURL string
	StateTTL      time.Duration
	HTTPTimeout   time.Duration
	ClockSkew     time.Duration

	// ProvidersFile is an optional YAML file of global provider configs
	ProvidersFile string
}

// StateConfig selects and configures the state store
type StateConfig struct {
	Backend    string
	Redis      statestore.RedisConfig
	MemorySize int
}

// AuditConfig configures the audit sinks. Events always go to the
// structured log; File and Database add sinks.
type AuditConfig struct {
	File     string
	Rotate   bool
	MaxSize  int64
	MaxFiles int
	Database bool
	Async    bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		SSO:           loadSSOConfig(),
		State:         loadStateConfig(),
		Postgres:      loadPostgresConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SSO_HOST", "0.0.0.0"),
		HealthPort:      getEnv("SSO_HEALTH_PORT", "9090"),
		ReadTimeout:     getEnvDuration("SSO_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SSO_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SSO_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SSO_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadSSOConfig() SSOConfig {
	return SSOConfig{
		PublicBaseURL: getEnv("SSO_PUBLIC_BASE_URL", ""),
		StateTTL:      getEnvDuration("SSO_STATE_TTL", sso.DefaultStateTTL),
		HTTPTimeout:   getEnvDuration("SSO_HTTP_TIMEOUT", sso.DefaultHTTPTimeout),
		ClockSkew:     getEnvDuration("SSO_CLOCK_SKEW", sso.DefaultClockSkew),
		ProvidersFile: getEnv("SSO_PROVIDERS_FILE", ""),
	}
}

func loadStateConfig() StateConfig {
	return StateConfig{
		Backend: strings.ToLower(getEnv("SSO_STATE_BACKEND", StateBackendRedis)),
		Redis: statestore.RedisConfig{
			URL:        getEnv("SSO_REDIS_URL", ""),
			Password:   getEnv("SSO_REDIS_PASSWORD", ""),
			DB:         getEnvInt("SSO_REDIS_DB", 0),
			PoolSize:   getEnvInt("SSO_REDIS_POOL_SIZE", 0),
			MaxRetries: getEnvInt("SSO_REDIS_MAX_RETRIES", 0),
			KeyPrefix:  getEnv("SSO_REDIS_KEY_PREFIX", statestore.DefaultKeyPrefix),
		},
		MemorySize: getEnvInt("SSO_STATE_MEMORY_SIZE", statestore.DefaultMemorySize),
	}
}

func loadPostgresConfig() postgres.Config {
	return postgres.Config{
		URL:         getEnv("SSO_POSTGRES_URL", ""),
		MaxConns:    getEnvInt("SSO_POSTGRES_MAX_CONNS", 20),
		MinConns:    getEnvInt("SSO_POSTGRES_MIN_CONNS", 2),
		Timeout:     getEnvDuration("SSO_POSTGRES_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("SSO_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("SSO_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		File:     getEnv("SSO_AUDIT_FILE", ""),
		Rotate:   getEnvBool("SSO_AUDIT_ROTATE", true),
		MaxSize:  getEnvInt64("SSO_AUDIT_MAX_SIZE", 100*1024*1024),
		MaxFiles: getEnvInt("SSO_AUDIT_MAX_FILES", 10),
		Database: getEnvBool("SSO_AUDIT_DATABASE", false),
		Async:    getEnvBool("SSO_AUDIT_ASYNC", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("SSO_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SSO_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SSO_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SSO_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SSO_OTEL_SERVICE_NAME", "spoke-sso"),
		OTelServiceVersion: getEnv("SSO_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SSO_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("SSO_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}

	if c.SSO.PublicBaseURL == "" {
		return fmt.Errorf("public base URL is required")
	}
	u, err := url.Parse(c.SSO.PublicBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("public base URL %q must be an absolute URL", c.SSO.PublicBaseURL)
	}
	if c.SSO.StateTTL < 0 {
		return fmt.Errorf("state TTL must not be negative")
	}
	if c.SSO.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP timeout must be positive")
	}
	if c.SSO.ClockSkew < 0 {
		return fmt.Errorf("clock skew must not be negative")
	}

	switch c.State.Backend {
	case StateBackendRedis:
		if c.State.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis state backend")
		}
	case StateBackendMemory:
		if c.State.MemorySize <= 0 {
			return fmt.Errorf("state memory size must be positive")
		}
	default:
		return fmt.Errorf("invalid state backend: %s (must be redis or memory)", c.State.Backend)
	}

	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate OpenTelemetry config
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
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
