package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiffinWanjohi/medrelay/internal/domain"
)

var envKeys = []string{
	ConfigFileEnv,
	"API_ADDR", "API_READ_TIMEOUT", "API_WRITE_TIMEOUT", "API_IDLE_TIMEOUT", "API_SHUTDOWN_TIMEOUT",
	"API_RATE_LIMIT", "API_CLIENT_RATE_LIMIT",
	"PROCESSING_MAX_CONCURRENCY", "PROCESSING_MAX_PAYLOAD_SIZE", "PROCESSING_BATCH_POLICY",
	"PROCESSING_CHUNK_SIZE", "PROCESSING_SCRIPT_FILE", "PROCESSING_SCRIPT_TIMEOUT",
	"REDIS_URL", "REDIS_POOL_SIZE", "REDIS_READ_TIMEOUT", "REDIS_WRITE_TIMEOUT",
	"REDIS_KEY_PREFIX", "REDIS_PUBLISH_INTERVAL",
	"METRICS_PROVIDER", "TRACING_PROVIDER", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME",
	"ENVIRONMENT", "TRACE_SAMPLE_RATE",
	"LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv blanks every variable Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, DefaultMaxConcurrency, cfg.Processing.MaxConcurrency)
	assert.Equal(t, MaxPayloadSize, cfg.Processing.MaxPayloadSize)
	assert.Equal(t, BatchPolicyCollectAll, cfg.Processing.BatchPolicy)
	assert.Equal(t, DefaultChunkSize, cfg.Processing.ChunkSize)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, "noop", cfg.Observability.MetricsProvider)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("PROCESSING_MAX_CONCURRENCY", "4")
	t.Setenv("PROCESSING_BATCH_POLICY", BatchPolicyFailFast)
	t.Setenv("REDIS_URL", "localhost:6379")
	t.Setenv("REDIS_PUBLISH_INTERVAL", "5s")
	t.Setenv("METRICS_PROVIDER", "prometheus")
	t.Setenv("TRACE_SAMPLE_RATE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.API.Addr)
	assert.Equal(t, 4, cfg.Processing.MaxConcurrency)
	assert.Equal(t, BatchPolicyFailFast, cfg.Processing.BatchPolicy)
	assert.Equal(t, "localhost:6379", cfg.Redis.URL)
	assert.Equal(t, 5*time.Second, cfg.Redis.PublishInterval)
	assert.Equal(t, "prometheus", cfg.Observability.MetricsProvider)
	assert.InDelta(t, 0.25, cfg.Observability.SampleRate, 1e-9)
}

func TestLoad_InvalidEnvValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROCESSING_MAX_CONCURRENCY", "lots")
	t.Setenv("API_READ_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxConcurrency, cfg.Processing.MaxConcurrency)
	assert.Equal(t, 15*time.Second, cfg.API.ReadTimeout)
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "medrelay.yaml")
	yamlDoc := `
api:
  addr: ":7000"
  read_timeout: 2s
processing:
  max_concurrency: 32
  chunk_size: 1024
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("PROCESSING_MAX_CONCURRENCY", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.API.Addr)
	assert.Equal(t, 2*time.Second, cfg.API.ReadTimeout)
	assert.Equal(t, 1024, cfg.Processing.ChunkSize)
	assert.Equal(t, 8, cfg.Processing.MaxConcurrency, "env overrides file")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.API.ShutdownTimeout, "unset keys keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestParse_BadYAML(t *testing.T) {
	_, err := Parse([]byte("api: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"negative rate limit", func(c *Config) { c.API.RateLimit = -1 }, "api.rate_limit"},
		{"rate limit without redis", func(c *Config) { c.API.ClientRateLimit = 10 }, "api.rate_limit"},
		{"zero concurrency", func(c *Config) { c.Processing.MaxConcurrency = 0 }, "processing.max_concurrency"},
		{"negative payload size", func(c *Config) { c.Processing.MaxPayloadSize = -1 }, "processing.max_payload_size"},
		{"zero chunk size", func(c *Config) { c.Processing.ChunkSize = 0 }, "processing.chunk_size"},
		{"unknown batch policy", func(c *Config) { c.Processing.BatchPolicy = "sometimes" }, "processing.batch_policy"},
		{"zero script timeout", func(c *Config) { c.Processing.ScriptTimeout = 0 }, "processing.script_timeout"},
		{"fast publish", func(c *Config) {
			c.Redis.URL = "localhost:6379"
			c.Redis.PublishInterval = time.Millisecond
		}, "redis.publish_interval"},
		{"unknown metrics provider", func(c *Config) { c.Observability.MetricsProvider = "statsd" }, "observability.metrics_provider"},
		{"unknown tracing provider", func(c *Config) { c.Observability.TracingProvider = "zipkin" }, "observability.tracing_provider"},
		{"sample rate above one", func(c *Config) { c.Observability.SampleRate = 1.5 }, "observability.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfiguration))

			var cfgErr *domain.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, Default().Validate())
	})
}

