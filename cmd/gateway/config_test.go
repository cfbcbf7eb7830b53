package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "redis", cfg.Store)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, int64(1000), cfg.Queue.MaxSize)
	assert.Equal(t, 10, cfg.Concurrency.Max)
	assert.Equal(t, 300*time.Second, cfg.Execution.Timeout)
	assert.Empty(t, cfg.limits())
}

func TestLoadConfig_YAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_REDIS_HOST", "redis.internal")
	path := writeConfig(t, `
listen: ":9090"
store: memory
redis:
  addr: "${TEST_REDIS_HOST}:6380"
cache:
  backend: sqlite
  ttl: 30m
  sqlite_path: /tmp/cache.db
queue:
  max_size: 50
providers:
  groq:
    requests_per_minute: 30
  openai:
    bucket_capacity: 5
    refill_per_second: 0.5
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, int64(50), cfg.Queue.MaxSize)
	assert.False(t, cfg.usesRedis())

	lim := cfg.limits()
	assert.Equal(t, int64(30), lim[domain.ProviderGroq].RequestsPerMinute)
	assert.Equal(t, domain.DefaultLimits().RequestsPerHour, lim[domain.ProviderGroq].RequestsPerHour)
	assert.Equal(t, 5.0, lim[domain.ProviderOpenAI].BucketCapacity)
	assert.Equal(t, 0.5, lim[domain.ProviderOpenAI].RefillPerSecond)
}

func TestLoadConfig_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
concurrency:
  max: 4
providers:
  groq:
    requests_per_minute: 30
`)
	t.Setenv("LISTEN_ADDR", ":7070")
	t.Setenv("CONCURRENCY_MAX", "2")
	t.Setenv("MAX_QUEUE_SIZE", "7")
	t.Setenv("EXECUTION_TIMEOUT", "5s")
	t.Setenv("REQUESTS_PER_MINUTE", "12")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("CACHE_BACKEND", "memory")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, 2, cfg.Concurrency.Max)
	assert.Equal(t, int64(7), cfg.Queue.MaxSize)
	assert.Equal(t, 5*time.Second, cfg.Execution.Timeout)

	lim := cfg.limits()
	assert.Equal(t, int64(30), lim[domain.ProviderGroq].RequestsPerMinute, "YAML override wins over global env")
	assert.Equal(t, int64(12), lim[domain.ProviderGemini].RequestsPerMinute)
	assert.Len(t, lim, len(domain.Providers()))
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"zero concurrency":  {"CONCURRENCY_MAX": "0"},
		"zero queue":        {"MAX_QUEUE_SIZE": "0"},
		"bad store":         {"STORE_BACKEND": "etcd"},
		"bad cache backend": {"CACHE_BACKEND": "memcached"},
		"sqlite no path":    {"CACHE_BACKEND": "sqlite", "STORE_BACKEND": "memory", "SQLITE_PATH": " "},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := loadConfig("")
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_UnknownProvider(t *testing.T) {
	path := writeConfig(t, `
providers:
  anthropic-direct:
    requests_per_minute: 1
`)
	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic-direct")
}

func TestConfig_WriteTimeout(t *testing.T) {
	cfg := defaultConfig()
	cfg.Execution.Timeout = time.Minute

	cfg.Concurrency.AcquireTimeout = 0
	assert.Zero(t, cfg.writeTimeout(), "unbounded slot wait must not be cut by the server")

	cfg.Concurrency.AcquireTimeout = 5 * time.Second
	assert.Equal(t, time.Minute+15*time.Second, cfg.writeTimeout())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNewLogger_RejectsBadLevel(t *testing.T) {
	_, err := newLogger(logConfig{Level: "chatty"})
	assert.Error(t, err)

	l, err := newLogger(logConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, l)
}
