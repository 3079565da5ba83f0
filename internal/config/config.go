package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stiffinWanjohi/medrelay/internal/domain"
)

const (
	// MaxPayloadSize is the default maximum accepted payload size in bytes (1MB).
	MaxPayloadSize = 1 * 1024 * 1024

	// DefaultMaxConcurrency is the default in-flight limit for batch processing.
	DefaultMaxConcurrency = 10

	// DefaultChunkSize is the default stream chunk size in bytes.
	DefaultChunkSize = 32 * 1024

	// DefaultPublishInterval is how often router statistics are pushed to Redis.
	DefaultPublishInterval = 15 * time.Second

	// ConfigFileEnv names the environment variable pointing at an optional YAML file.
	ConfigFileEnv = "MEDRELAY_CONFIG"
)

// Batch error policies accepted in configuration.
const (
	BatchPolicyCollectAll = "collect_all"
	BatchPolicyFailFast   = "fail_fast"
)

// Config holds all application configuration.
type Config struct {
	API           APIConfig           `yaml:"api"`
	Processing    ProcessingConfig    `yaml:"processing"`
	Redis         RedisConfig         `yaml:"redis"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
}

// APIConfig holds HTTP server configuration.
type APIConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimit       int           `yaml:"rate_limit"`        // Ingest requests per second across all clients (0 = unlimited)
	ClientRateLimit int           `yaml:"client_rate_limit"` // Ingest requests per second per X-Client-ID (0 = unlimited)
}

// ProcessingConfig holds processor, batch and stream settings.
type ProcessingConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	MaxPayloadSize int           `yaml:"max_payload_size"`
	BatchPolicy    string        `yaml:"batch_policy"`
	ChunkSize      int           `yaml:"chunk_size"`
	ScriptFile     string        `yaml:"script_file"`
	ScriptTimeout  time.Duration `yaml:"script_timeout"`
}

// RedisConfig holds Redis configuration for the statistics publisher.
// An empty URL disables publishing.
type RedisConfig struct {
	URL             string        `yaml:"url"`
	PoolSize        int           `yaml:"pool_size"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	KeyPrefix       string        `yaml:"key_prefix"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

// ObservabilityConfig selects the metrics and tracing backends.
type ObservabilityConfig struct {
	MetricsProvider string  `yaml:"metrics_provider"` // noop, prometheus, otel
	TracingProvider string  `yaml:"tracing_provider"` // noop, otel
	OTLPEndpoint    string  `yaml:"otlp_endpoint"`
	ServiceName     string  `yaml:"service_name"`
	ServiceVersion  string  `yaml:"service_version"`
	Environment     string  `yaml:"environment"`
	SampleRate      float64 `yaml:"sample_rate"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Processing: ProcessingConfig{
			MaxConcurrency: DefaultMaxConcurrency,
			MaxPayloadSize: MaxPayloadSize,
			BatchPolicy:    BatchPolicyCollectAll,
			ChunkSize:      DefaultChunkSize,
			ScriptTimeout:  time.Second,
		},
		Redis: RedisConfig{
			PoolSize:        10,
			ReadTimeout:     3 * time.Second,
			WriteTimeout:    3 * time.Second,
			KeyPrefix:       "medrelay",
			PublishInterval: DefaultPublishInterval,
		},
		Observability: ObservabilityConfig{
			MetricsProvider: "noop",
			TracingProvider: "noop",
			ServiceName:     "medrelay",
			ServiceVersion:  "dev",
			Environment:     "development",
			SampleRate:      1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds configuration from defaults, then the YAML file named by
// MEDRELAY_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.API.Addr = getEnv("API_ADDR", c.API.Addr)
	c.API.ReadTimeout = getEnvDuration("API_READ_TIMEOUT", c.API.ReadTimeout)
	c.API.WriteTimeout = getEnvDuration("API_WRITE_TIMEOUT", c.API.WriteTimeout)
	c.API.IdleTimeout = getEnvDuration("API_IDLE_TIMEOUT", c.API.IdleTimeout)
	c.API.ShutdownTimeout = getEnvDuration("API_SHUTDOWN_TIMEOUT", c.API.ShutdownTimeout)
	c.API.RateLimit = getEnvInt("API_RATE_LIMIT", c.API.RateLimit)
	c.API.ClientRateLimit = getEnvInt("API_CLIENT_RATE_LIMIT", c.API.ClientRateLimit)

	c.Processing.MaxConcurrency = getEnvInt("PROCESSING_MAX_CONCURRENCY", c.Processing.MaxConcurrency)
	c.Processing.MaxPayloadSize = getEnvInt("PROCESSING_MAX_PAYLOAD_SIZE", c.Processing.MaxPayloadSize)
	c.Processing.BatchPolicy = getEnv("PROCESSING_BATCH_POLICY", c.Processing.BatchPolicy)
	c.Processing.ChunkSize = getEnvInt("PROCESSING_CHUNK_SIZE", c.Processing.ChunkSize)
	c.Processing.ScriptFile = getEnv("PROCESSING_SCRIPT_FILE", c.Processing.ScriptFile)
	c.Processing.ScriptTimeout = getEnvDuration("PROCESSING_SCRIPT_TIMEOUT", c.Processing.ScriptTimeout)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.ReadTimeout = getEnvDuration("REDIS_READ_TIMEOUT", c.Redis.ReadTimeout)
	c.Redis.WriteTimeout = getEnvDuration("REDIS_WRITE_TIMEOUT", c.Redis.WriteTimeout)
	c.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", c.Redis.KeyPrefix)
	c.Redis.PublishInterval = getEnvDuration("REDIS_PUBLISH_INTERVAL", c.Redis.PublishInterval)

	c.Observability.MetricsProvider = getEnv("METRICS_PROVIDER", c.Observability.MetricsProvider)
	c.Observability.TracingProvider = getEnv("TRACING_PROVIDER", c.Observability.TracingProvider)
	c.Observability.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Observability.OTLPEndpoint)
	c.Observability.ServiceName = getEnv("OTEL_SERVICE_NAME", c.Observability.ServiceName)
	c.Observability.Environment = getEnv("ENVIRONMENT", c.Observability.Environment)
	c.Observability.SampleRate = getEnvFloat("TRACE_SAMPLE_RATE", c.Observability.SampleRate)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate checks the configuration and reports the first invalid field.
func (c *Config) Validate() error {
	if c.API.RateLimit < 0 || c.API.ClientRateLimit < 0 {
		return domain.NewConfigurationError("api.rate_limit", "must not be negative")
	}
	if (c.API.RateLimit > 0 || c.API.ClientRateLimit > 0) && c.Redis.URL == "" {
		return domain.NewConfigurationError("api.rate_limit", "requires redis.url")
	}
	if c.Processing.MaxConcurrency < 1 {
		return domain.NewConfigurationError("processing.max_concurrency", "must be at least 1")
	}
	if c.Processing.MaxPayloadSize < 1 {
		return domain.NewConfigurationError("processing.max_payload_size", "must be positive")
	}
	if c.Processing.ChunkSize < 1 {
		return domain.NewConfigurationError("processing.chunk_size", "must be positive")
	}
	switch c.Processing.BatchPolicy {
	case BatchPolicyCollectAll, BatchPolicyFailFast:
	default:
		return domain.NewConfigurationError("processing.batch_policy",
			fmt.Sprintf("must be %q or %q", BatchPolicyCollectAll, BatchPolicyFailFast))
	}
	if c.Processing.ScriptTimeout <= 0 {
		return domain.NewConfigurationError("processing.script_timeout", "must be positive")
	}
	if c.Redis.URL != "" && c.Redis.PublishInterval < time.Second {
		return domain.NewConfigurationError("redis.publish_interval", "must be at least 1s")
	}
	switch c.Observability.MetricsProvider {
	case "", "noop", "prometheus", "otel", "otlp":
	default:
		return domain.NewConfigurationError("observability.metrics_provider",
			fmt.Sprintf("unknown provider %q", c.Observability.MetricsProvider))
	}
	switch c.Observability.TracingProvider {
	case "", "noop", "otel", "otlp":
	default:
		return domain.NewConfigurationError("observability.tracing_provider",
			fmt.Sprintf("unknown provider %q", c.Observability.TracingProvider))
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return domain.NewConfigurationError("observability.sample_rate", "must be between 0 and 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
