package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(cfg logConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// gateway agrupa tudo o que serve/status/cache precisam, já ligado.
type gateway struct {
	admission *application.Middleware
	drainer   *application.Drainer
	cache     domain.CacheStore

	closers []func() error
}

func (g *gateway) Close() error {
	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openRedis(ctx context.Context, cfg redisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := rdb.Ping(pingCtx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

func buildGateway(ctx context.Context, cfg config, logger *zap.Logger) (*gateway, error) {
	g := &gateway{}

	var rdb *redis.Client
	if cfg.usesRedis() {
		c, err := openRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		rdb = c
		g.closers = append(g.closers, rdb.Close)
	}

	var (
		rates domain.RateStore
		queue domain.QueueStore
		stats domain.StatsStore
	)
	switch cfg.Store {
	case "redis":
		rates = infra.NewRedisRateStore(rdb)
		queue = infra.NewRedisQueueStore(rdb, cfg.Queue.Name)
		if cfg.Stats.Enabled {
			stats = infra.NewRedisStatsStore(rdb, infra.WithStatsTTL(cfg.Stats.TTL))
		}
	default:
		rates = infra.NewMemoryRateStore()
		queue = infra.NewMemoryQueueStore()
		if cfg.Stats.Enabled {
			stats = infra.NewMemoryStatsStore()
		}
	}

	switch cfg.Cache.Backend {
	case "redis":
		g.cache = infra.NewRedisCacheStore(rdb)
	case "sqlite":
		s, err := infra.NewSQLiteCacheStore(cfg.Cache.SQLitePath)
		if err != nil {
			_ = g.Close()
			return nil, err
		}
		g.cache = s
		g.closers = append(g.closers, s.Close)
	default:
		g.cache = infra.NewMemoryCacheStore()
	}

	cache := application.NewResponseCache(g.cache, cfg.Cache.TTL, logger.Named("cache"))
	if cfg.Cache.Prefix != "" {
		cache.Prefix = cfg.Cache.Prefix
	}

	var executor domain.TaskExecutor
	if cfg.UpstreamURL != "" {
		executor = infra.NewHTTPExecutor(cfg.UpstreamURL)
	} else {
		logger.Warn("UPSTREAM_URL not set; admitted requests will fail with execution_error")
	}

	g.admission = application.New(application.Options{
		Limiter: &application.RateLimiter{
			Store:      rates,
			Limits:     cfg.limits(),
			BaseDelay:  cfg.Backoff.Base,
			MaxBackoff: cfg.Backoff.Max,
			Logger:     logger.Named("ratelimit"),
		},
		Cache:          cache,
		Queue:          &application.PriorityQueue{Store: queue},
		Slots:          infra.NewChanPool(cfg.Concurrency.Max),
		Executor:       executor,
		Stats:          stats,
		AcquireTimeout: cfg.Concurrency.AcquireTimeout,
		MaxQueueSize:   cfg.Queue.MaxSize,
		ExecTimeout:    cfg.Execution.Timeout,
		CacheTTL:       cfg.Cache.TTL,
		TaskTTL:        cfg.Execution.TaskTTL,
		Logger:         logger.Named("admission"),
	})
	g.drainer = application.NewDrainer(g.admission, cfg.Queue.PollEvery)
	return g, nil
}
