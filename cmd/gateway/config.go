package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"gopkg.in/yaml.v3"
)

type config struct {
	Listen      string                   `yaml:"listen"`
	UpstreamURL string                   `yaml:"upstream_url"`
	Redis       redisConfig              `yaml:"redis"`
	Store       string                   `yaml:"store"`
	Cache       cacheConfig              `yaml:"cache"`
	Queue       queueConfig              `yaml:"queue"`
	Concurrency concurrencyConfig        `yaml:"concurrency"`
	Execution   executionConfig          `yaml:"execution"`
	Backoff     backoffConfig            `yaml:"backoff"`
	Providers   map[string]domain.Limits `yaml:"providers"`
	Stats       statsConfig              `yaml:"stats"`
	HTTP        httpConfig               `yaml:"http"`
	Log         logConfig                `yaml:"log"`
}

type redisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type cacheConfig struct {
	// Backend: redis | sqlite | memory
	Backend    string        `yaml:"backend"`
	TTL        time.Duration `yaml:"ttl"`
	Prefix     string        `yaml:"prefix"`
	SQLitePath string        `yaml:"sqlite_path"`
}

type queueConfig struct {
	Name      string        `yaml:"name"`
	MaxSize   int64         `yaml:"max_size"`
	PollEvery time.Duration `yaml:"poll_every"`
}

type concurrencyConfig struct {
	Max            int           `yaml:"max"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	// HTTPMax limita requisições em andamento no listener (0 = sem limite).
	HTTPMax int `yaml:"http_max"`
}

type executionConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	TaskTTL time.Duration `yaml:"task_ttl"`
}

type backoffConfig struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

type statsConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

type httpConfig struct {
	KeyHeader        string `yaml:"key_header"`
	TrustXFF         bool   `yaml:"trust_xff"`
	AdmissionHeaders bool   `yaml:"admission_headers"`
}

type logConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func defaultConfig() config {
	return config{
		Listen: ":8080",
		Store:  "redis",
		Redis:  redisConfig{Addr: "localhost:6379"},
		Cache: cacheConfig{
			Backend:    "redis",
			TTL:        time.Hour,
			SQLitePath: "admission-cache.db",
		},
		Queue:       queueConfig{Name: "default", MaxSize: 1000, PollEvery: time.Second},
		Concurrency: concurrencyConfig{Max: 10},
		Execution:   executionConfig{Timeout: 300 * time.Second, TaskTTL: time.Hour},
		Backoff:     backoffConfig{Base: time.Second, Max: 60 * time.Second},
		Stats:       statsConfig{TTL: 24 * time.Hour},
		HTTP:        httpConfig{KeyHeader: "X-Session-Id"},
		Log:         logConfig{Level: "info"},
	}
}

// loadConfig lê o YAML (se houver), expande ${VAR} e aplica os overrides de env.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *config) {
	cfg.Listen = getenvDefault("LISTEN_ADDR", cfg.Listen)
	cfg.UpstreamURL = getenvDefault("UPSTREAM_URL", cfg.UpstreamURL)
	cfg.Redis.Addr = getenvDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenvDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getenvIntDefault("REDIS_DB", cfg.Redis.DB)
	cfg.Store = getenvDefault("STORE_BACKEND", cfg.Store)
	cfg.Cache.Backend = getenvDefault("CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.TTL = getenvDurationDefault("CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.SQLitePath = getenvDefault("SQLITE_PATH", cfg.Cache.SQLitePath)
	cfg.Concurrency.Max = getenvIntDefault("CONCURRENCY_MAX", cfg.Concurrency.Max)
	cfg.Concurrency.AcquireTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", cfg.Concurrency.AcquireTimeout)
	if n, ok := getenvInt("MAX_QUEUE_SIZE"); ok {
		cfg.Queue.MaxSize = int64(n)
	}
	cfg.Execution.Timeout = getenvDurationDefault("EXECUTION_TIMEOUT", cfg.Execution.Timeout)
	cfg.Stats.Enabled = getenvBoolDefault("STATS_ENABLED", cfg.Stats.Enabled)
	cfg.HTTP.TrustXFF = getenvBoolDefault("TRUST_XFF", cfg.HTTP.TrustXFF)
	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)

	// limite global de RPM via env vale para todos os providers sem override no YAML
	if getenvIsSet("REQUESTS_PER_MINUTE") || getenvIsSet("REQUESTS_PER_HOUR") {
		if cfg.Providers == nil {
			cfg.Providers = map[string]domain.Limits{}
		}
		for _, p := range domain.Providers() {
			lim := cfg.Providers[string(p)]
			if lim.RequestsPerMinute == 0 {
				lim.RequestsPerMinute = int64(getenvIntDefault("REQUESTS_PER_MINUTE", 0))
			}
			if lim.RequestsPerHour == 0 {
				lim.RequestsPerHour = int64(getenvIntDefault("REQUESTS_PER_HOUR", 0))
			}
			cfg.Providers[string(p)] = lim
		}
	}
}

func (c config) validate() error {
	switch c.Store {
	case "redis", "memory":
	default:
		return fmt.Errorf("store must be redis or memory, got %q", c.Store)
	}
	switch c.Cache.Backend {
	case "redis", "sqlite", "memory":
	default:
		return fmt.Errorf("cache.backend must be redis, sqlite or memory, got %q", c.Cache.Backend)
	}
	if c.usesRedis() && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("REDIS_ADDR is required when a redis backend is selected")
	}
	if c.Cache.Backend == "sqlite" && strings.TrimSpace(c.Cache.SQLitePath) == "" {
		return errors.New("SQLITE_PATH is required when CACHE_BACKEND=sqlite")
	}
	if c.Concurrency.Max <= 0 {
		return errors.New("CONCURRENCY_MAX must be > 0")
	}
	if c.Queue.MaxSize <= 0 {
		return errors.New("MAX_QUEUE_SIZE must be > 0")
	}
	if c.Execution.Timeout <= 0 {
		return errors.New("EXECUTION_TIMEOUT must be > 0")
	}
	if c.Backoff.Base <= 0 || c.Backoff.Max < c.Backoff.Base {
		return errors.New("backoff.base must be > 0 and <= backoff.max")
	}
	for name, lim := range c.Providers {
		if _, ok := domain.ParseProvider(name); !ok {
			return fmt.Errorf("providers: unknown provider %q", name)
		}
		if lim.RequestsPerMinute < 0 || lim.RequestsPerHour < 0 || lim.BucketCapacity < 0 || lim.RefillPerSecond < 0 {
			return fmt.Errorf("providers.%s: limits must be >= 0", name)
		}
	}
	return nil
}

func (c config) usesRedis() bool {
	return c.Store == "redis" || c.Cache.Backend == "redis"
}

// writeTimeout cobre a espera por vaga mais a execução. Sem AcquireTimeout a
// espera por vaga não tem teto, então o servidor também não corta a escrita.
func (c config) writeTimeout() time.Duration {
	if c.Concurrency.AcquireTimeout <= 0 {
		return 0
	}
	return c.Execution.Timeout + c.Concurrency.AcquireTimeout + 10*time.Second
}

// limits resolve os limites por provider (campos zerados herdam os defaults).
func (c config) limits() map[domain.Provider]domain.Limits {
	out := make(map[domain.Provider]domain.Limits, len(c.Providers))
	for name, lim := range c.Providers {
		if p, ok := domain.ParseProvider(name); ok {
			out[p] = lim.WithDefaults()
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvInt(k string) (int, bool) {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func getenvIsSet(k string) bool {
	v, ok := os.LookupEnv(k)
	return ok && v != ""
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
