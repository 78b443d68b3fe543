package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, BackendMemory, cfg.Events.Backend)
	assert.Equal(t, 168*time.Hour, cfg.Storage.ResultTTL)
	assert.Equal(t, 8, cfg.Workers.PoolSize)
	assert.Zero(t, cfg.Timeouts.Step)
	assert.Equal(t, time.Hour, cfg.Timeouts.Batch)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Shutdown)
	assert.Empty(t, cfg.LLM.Provider)
	assert.False(t, cfg.UsesRedis())
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("STEPFLOW_HTTP_PORT", "8181")
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/reports.db")
	t.Setenv("EVENTS_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("WORKER_POOL_SIZE", "2")
	t.Setenv("TIMEOUT_STEP", "45s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.HTTPPort)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/reports.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 2, cfg.Workers.PoolSize)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Step)
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("WORKER_POOL_SIZE", "many")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPPort: 8080,
			GRPCPort: 9090,
			LogLevel: "info",
			Storage:  StorageConfig{Backend: BackendMemory},
			Events:   EventsConfig{Backend: BackendMemory},
			Redis:    RedisConfig{Addr: "localhost:6379"},
			LLM:      LLMConfig{DefaultMaxTokens: 1024},
			Workers:  WorkerConfig{PoolSize: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad http port", mutate: func(c *Config) { c.HTTPPort = 0 }, wantErr: "invalid HTTP port"},
		{name: "bad grpc port", mutate: func(c *Config) { c.GRPCPort = 70000 }, wantErr: "invalid gRPC port"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "s3" }, wantErr: "unsupported storage backend"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage.Backend = BackendSQLite }, wantErr: "sqlite path"},
		{name: "unknown events", mutate: func(c *Config) { c.Events.Backend = "kafka" }, wantErr: "unsupported events backend"},
		{name: "group without consumer", mutate: func(c *Config) { c.Events.Group = "api" }, wantErr: "events consumer"},
		{
			name: "redis without addr",
			mutate: func(c *Config) {
				c.Storage.Backend = BackendRedis
				c.Redis.Addr = ""
			},
			wantErr: "redis address",
		},
		{name: "anthropic without key", mutate: func(c *Config) { c.LLM.Provider = "anthropic" }, wantErr: "API key"},
		{name: "unknown provider", mutate: func(c *Config) { c.LLM.Provider = "openai" }, wantErr: "unsupported LLM provider"},
		{name: "zero workers", mutate: func(c *Config) { c.Workers.PoolSize = 0 }, wantErr: "worker pool size"},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeouts.Step = -time.Second }, wantErr: "timeouts"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "trace" }, wantErr: "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
