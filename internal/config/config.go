package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Storage and event backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config holds all configuration for the stepflow service
type Config struct {
	// Server configuration
	HTTPPort int    `env:"STEPFLOW_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"STEPFLOW_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Storage StorageConfig
	Events  EventsConfig
	Redis   RedisConfig
	LLM     LLMConfig
	Workers WorkerConfig

	Timeouts TimeoutConfig
}

// StorageConfig selects where finished batch reports are kept.
type StorageConfig struct {
	Backend    string        `env:"STORAGE_BACKEND" envDefault:"memory"`
	SQLitePath string        `env:"SQLITE_PATH" envDefault:"stepflow.db"`
	ResultTTL  time.Duration `env:"RESULT_TTL" envDefault:"168h"`
}

// EventsConfig selects the progress event bus.
type EventsConfig struct {
	Backend  string `env:"EVENTS_BACKEND" envDefault:"memory"`
	Group    string `env:"EVENTS_GROUP"`
	Consumer string `env:"EVENTS_CONSUMER"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// LLMConfig configures the client behind the llm step kind. An empty
// provider disables the kind.
type LLMConfig struct {
	Provider   string `env:"LLM_PROVIDER"`
	APIKey     string `env:"LLM_API_KEY"`
	BaseURL    string `env:"LLM_BASE_URL"`
	MaxRetries int    `env:"LLM_MAX_RETRIES" envDefault:"2"`

	DefaultModel     string `env:"LLM_DEFAULT_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	DefaultMaxTokens int    `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"1024"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"8"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	Step     time.Duration `env:"TIMEOUT_STEP" envDefault:"0s"` // 0 disables
	Batch    time.Duration `env:"TIMEOUT_BATCH" envDefault:"1h"`
	Shutdown time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.Storage.Backend {
	case BackendMemory, BackendRedis:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite storage backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be memory, redis, or sqlite)", c.Storage.Backend)
	}
	if c.Storage.ResultTTL < 0 {
		return fmt.Errorf("result TTL must not be negative")
	}

	switch c.Events.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unsupported events backend: %s (must be memory or redis)", c.Events.Backend)
	}
	if c.Events.Group != "" && c.Events.Consumer == "" {
		return fmt.Errorf("events consumer is required when a consumer group is set")
	}

	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	switch c.LLM.Provider {
	case "":
	case "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key is required")
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}
	if c.LLM.DefaultMaxTokens < 1 {
		return fmt.Errorf("LLM default max tokens must be at least 1")
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}

	if c.Timeouts.Step < 0 || c.Timeouts.Batch < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any backend needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Storage.Backend == BackendRedis || c.Events.Backend == BackendRedis
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
