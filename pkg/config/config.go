package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// Config is the gateway configuration, read from TENANTGATE_* variables.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	RBAC          RBACConfig
	Audit         AuditConfig
	Sweeper       SweeperConfig
	Observability ObservabilityConfig
}

// ServerConfig covers the API and health listeners.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// HealthPort serves health checks and /metrics apart from the API.
	HealthPort string

	// GatewayToken, when set, must accompany X-Principal-* headers
	GatewayToken string
}

// DatabaseConfig holds the Postgres connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	CompanyCacheTTL time.Duration
}

// RedisConfig holds the Redis connection settings. An empty URL runs the
// service without cross-process invalidation or the audit stream.
type RedisConfig struct {
	URL                 string
	InvalidationChannel string
}

// RBACConfig holds the authorization engine settings
type RBACConfig struct {
	CacheSize       int
	CacheTTL        time.Duration
	DefaultPolicy   rbac.DefaultPolicy
	DecisionTimeout time.Duration
	PatternsFile    string
	WatchPatterns   bool
	TrustedCallers  []string
}

// AuditConfig holds the audit sink settings
type AuditConfig struct {
	Dir          string
	Rotate       bool
	MaxSizeBytes int64
	MaxFiles     int
	BufferSize   int
	Workers      int
	Stream       string
	StreamMaxLen int64
	LogEvents    bool
}

// SweeperConfig holds the expired-override sweeper settings
type SweeperConfig struct {
	Enabled  bool
	Schedule string
}

// ObservabilityConfig covers logging, Prometheus and OTLP export.
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig reads the environment and validates the result.
func LoadConfig() (*Config, error) {
	policy, err := rbac.ParseDefaultPolicy(getEnv("TENANTGATE_DEFAULT_POLICY", "allow"))
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		RBAC:          loadRBACConfig(policy),
		Audit:         loadAuditConfig(),
		Sweeper:       loadSweeperConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TENANTGATE_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TENANTGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("TENANTGATE_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("TENANTGATE_HEALTH_PORT", "9090"),
		GatewayToken:    getEnv("TENANTGATE_GATEWAY_TOKEN", ""),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("TENANTGATE_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("TENANTGATE_DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("TENANTGATE_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("TENANTGATE_DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		CompanyCacheTTL: getEnvDuration("TENANTGATE_COMPANY_CACHE_TTL", 30*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:                 getEnv("TENANTGATE_REDIS_URL", ""),
		InvalidationChannel: getEnv("TENANTGATE_INVALIDATION_CHANNEL", rbac.DefaultInvalidationChannel),
	}
}

func loadRBACConfig(policy rbac.DefaultPolicy) RBACConfig {
	defaults := rbac.DefaultConfig()
	return RBACConfig{
		CacheSize:       getEnvInt("TENANTGATE_CACHE_SIZE", defaults.Cache.Size),
		CacheTTL:        getEnvDuration("TENANTGATE_CACHE_TTL", defaults.Cache.TTL),
		DefaultPolicy:   policy,
		DecisionTimeout: getEnvDuration("TENANTGATE_DECISION_TIMEOUT", defaults.DecisionTimeout),
		PatternsFile:    getEnv("TENANTGATE_PATTERNS_FILE", ""),
		WatchPatterns:   getEnvBool("TENANTGATE_WATCH_PATTERNS", true),
		TrustedCallers:  getEnvList("TENANTGATE_TRUSTED_CALLERS"),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Dir:          getEnv("TENANTGATE_AUDIT_DIR", ""),
		Rotate:       getEnvBool("TENANTGATE_AUDIT_ROTATE", true),
		MaxSizeBytes: getEnvInt64("TENANTGATE_AUDIT_MAX_SIZE_BYTES", 100*1024*1024),
		MaxFiles:     getEnvInt("TENANTGATE_AUDIT_MAX_FILES", 10),
		BufferSize:   getEnvInt("TENANTGATE_AUDIT_BUFFER", 1024),
		Workers:      getEnvInt("TENANTGATE_AUDIT_WORKERS", 2),
		Stream:       getEnv("TENANTGATE_AUDIT_STREAM", ""),
		StreamMaxLen: getEnvInt64("TENANTGATE_AUDIT_STREAM_MAX_LEN", 100000),
		LogEvents:    getEnvBool("TENANTGATE_AUDIT_LOG_EVENTS", false),
	}
}

func loadSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Enabled:  getEnvBool("TENANTGATE_SWEEPER_ENABLED", true),
		Schedule: getEnv("TENANTGATE_SWEEPER_SCHEDULE", rbac.DefaultSweepSchedule),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TENANTGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TENANTGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TENANTGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TENANTGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TENANTGATE_OTEL_SERVICE_NAME", "tenantgate"),
		OTelServiceVersion: getEnv("TENANTGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TENANTGATE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TENANTGATE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// RBACManagerConfig returns the engine configuration derived from c
func (c *Config) RBACManagerConfig() rbac.Config {
	return rbac.Config{
		Cache:               rbac.CacheConfig{Size: c.RBAC.CacheSize, TTL: c.RBAC.CacheTTL},
		DefaultPolicy:       c.RBAC.DefaultPolicy,
		DecisionTimeout:     c.RBAC.DecisionTimeout,
		InvalidationChannel: c.Redis.InvalidationChannel,
		TrustedCallers:      c.RBAC.TrustedCallers,
	}
}

// OTel returns the OpenTelemetry configuration derived from c
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.RBAC.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.RBAC.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.RBAC.DecisionTimeout < 0 {
		return fmt.Errorf("decision timeout cannot be negative")
	}

	if c.Audit.BufferSize <= 0 || c.Audit.Workers <= 0 {
		return fmt.Errorf("audit buffer and workers must be positive")
	}
	if c.Audit.Stream != "" && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required for the audit stream")
	}

	if c.Sweeper.Enabled {
		if _, err := cron.ParseStandard(c.Sweeper.Schedule); err != nil {
			return fmt.Errorf("invalid sweeper schedule %q: %w", c.Sweeper.Schedule, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// envAs parses key with parse, keeping def when the variable is unset or
// does not parse.
func envAs[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func getEnv(key, def string) string {
	return envAs(key, def, func(s string) (string, error) { return s, nil })
}

// getEnvBool treats anything other than "true" or "1" as false.
func getEnvBool(key string, def bool) bool {
	return envAs(key, def, func(s string) (bool, error) {
		return strings.EqualFold(s, "true") || s == "1", nil
	})
}

func getEnvInt(key string, def int) int { return envAs(key, def, strconv.Atoi) }

func getEnvInt64(key string, def int64) int64 {
	return envAs(key, def, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
}

func getEnvFloat(key string, def float64) float64 {
	return envAs(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	return envAs(key, def, time.ParseDuration)
}
