package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TG_TEST_STRING", "custom")
	t.Setenv("TG_TEST_BOOL_ONE", "1")
	t.Setenv("TG_TEST_BOOL_NO", "no")
	t.Setenv("TG_TEST_INT", "42")
	t.Setenv("TG_TEST_INT_BAD", "forty-two")
	t.Setenv("TG_TEST_INT64", "9000000000")
	t.Setenv("TG_TEST_FLOAT", "0.25")
	t.Setenv("TG_TEST_DURATION", "90s")
	t.Setenv("TG_TEST_DURATION_BAD", "soon")

	assert.Equal(t, "custom", getEnv("TG_TEST_STRING", "default"))
	assert.Equal(t, "default", getEnv("TG_TEST_UNSET", "default"))

	assert.True(t, getEnvBool("TG_TEST_BOOL_ONE", false))
	assert.False(t, getEnvBool("TG_TEST_BOOL_NO", true))
	assert.True(t, getEnvBool("TG_TEST_UNSET", true))

	assert.Equal(t, 42, getEnvInt("TG_TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("TG_TEST_INT_BAD", 7))
	assert.Equal(t, int64(9000000000), getEnvInt64("TG_TEST_INT64", 0))
	assert.Equal(t, 0.25, getEnvFloat("TG_TEST_FLOAT", 1))

	assert.Equal(t, 90*time.Second, getEnvDuration("TG_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TG_TEST_DURATION_BAD", time.Second))

	t.Setenv("TG_TEST_LIST", " gateway, ,sidecar-7 ")
	assert.Equal(t, []string{"gateway", "sidecar-7"}, getEnvList("TG_TEST_LIST"))
	assert.Nil(t, getEnvList("TG_TEST_UNSET"))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TENANTGATE_DATABASE_URL", "postgres://localhost/tenantgate")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, rbac.DefaultAllow, cfg.RBAC.DefaultPolicy)
	assert.Equal(t, rbac.DefaultInvalidationChannel, cfg.Redis.InvalidationChannel)
	assert.Equal(t, rbac.DefaultSweepSchedule, cfg.Sweeper.Schedule)
	assert.True(t, cfg.RBAC.WatchPatterns)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)

	rc := cfg.RBACManagerConfig()
	assert.Equal(t, rbac.DefaultConfig(), rc)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("TENANTGATE_DATABASE_URL", "postgres://db/tenantgate")
	t.Setenv("TENANTGATE_REDIS_URL", "redis://cache:6379/0")
	t.Setenv("TENANTGATE_DEFAULT_POLICY", "deny")
	t.Setenv("TENANTGATE_CACHE_TTL", "2s")
	t.Setenv("TENANTGATE_CACHE_SIZE", "128")
	t.Setenv("TENANTGATE_AUDIT_STREAM", "tenantgate:audit")
	t.Setenv("TENANTGATE_LOG_LEVEL", "debug")
	t.Setenv("TENANTGATE_OTEL_ENABLED", "true")
	t.Setenv("TENANTGATE_OTEL_SAMPLE_RATIO", "0.1")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, rbac.DefaultDeny, cfg.RBAC.DefaultPolicy)
	assert.Equal(t, "tenantgate:audit", cfg.Audit.Stream)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)

	rc := cfg.RBACManagerConfig()
	assert.Equal(t, rbac.CacheConfig{Size: 128, TTL: 2 * time.Second}, rc.Cache)
	assert.Equal(t, rbac.DefaultDeny, rc.DefaultPolicy)

	otel := cfg.OTel()
	assert.True(t, otel.Enabled)
	assert.Equal(t, 0.1, otel.SampleRatio)
	assert.Equal(t, "tenantgate", otel.ServiceName)
}

func TestLoadConfig_InvalidPolicy(t *testing.T) {
	t.Setenv("TENANTGATE_DATABASE_URL", "postgres://localhost/tenantgate")
	t.Setenv("TENANTGATE_DEFAULT_POLICY", "maybe")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "default page policy")
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", HealthPort: "9090"},
		Database: DatabaseConfig{URL: "postgres://localhost/tenantgate"},
		RBAC:     RBACConfig{CacheSize: 16, CacheTTL: time.Second},
		Audit:    AuditConfig{BufferSize: 8, Workers: 1},
		Sweeper:  SweeperConfig{Enabled: true, Schedule: rbac.DefaultSweepSchedule},
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port"},
		{"missing health port", func(c *Config) { c.Server.HealthPort = "" }, "health port"},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, "must be different"},
		{"missing database", func(c *Config) { c.Database.URL = "" }, "database URL"},
		{"zero cache", func(c *Config) { c.RBAC.CacheSize = 0 }, "cache size"},
		{"zero ttl", func(c *Config) { c.RBAC.CacheTTL = 0 }, "cache TTL"},
		{"negative timeout", func(c *Config) { c.RBAC.DecisionTimeout = -time.Second }, "decision timeout"},
		{"no workers", func(c *Config) { c.Audit.Workers = 0 }, "audit buffer"},
		{"stream without redis", func(c *Config) { c.Audit.Stream = "audit" }, "redis URL"},
		{"bad schedule", func(c *Config) { c.Sweeper.Schedule = "every tuesday" }, "sweeper schedule"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "tenantgate"
		}, "endpoint"},
		{"otel bad ratio", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = "localhost:4317"
			c.Observability.OTelServiceName = "tenantgate"
			c.Observability.OTelSampleRatio = 2
		}, "sample ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	disabled := validConfig()
	disabled.Sweeper = SweeperConfig{Enabled: false, Schedule: "nonsense"}
	assert.NoError(t, disabled.Validate(), "a disabled sweeper's schedule is not checked")
}
