package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// RedisCacheStore usa SET com EX nativo, então a expiração fica a cargo do
// próprio Redis. Todas as chaves ficam sob <prefix>: (padrão "cache").
type RedisCacheStore struct {
	rdb    *redis.Client
	prefix string
}

type RedisCacheOption func(*RedisCacheStore)

func WithCachePrefix(prefix string) RedisCacheOption {
	return func(s *RedisCacheStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func NewRedisCacheStore(rdb *redis.Client, opts ...RedisCacheOption) *RedisCacheStore {
	s := &RedisCacheStore{rdb: rdb, prefix: "cache"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCacheStore) key(k string) string { return s.prefix + ":" + k }

func (s *RedisCacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return b, true, nil
}

// Set com ttl <= 0 grava sem expiração.
func (s *RedisCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (s *RedisCacheStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Len conta chaves via SCAN (O(n), uso administrativo).
func (s *RedisCacheStore) Len(ctx context.Context) (int64, error) {
	var n int64
	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 500).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("cache len: %w", err)
	}
	return n, nil
}

func (s *RedisCacheStore) Clear(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("cache clear: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	if len(batch) > 0 {
		if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("cache clear: %w", err)
		}
	}
	return nil
}

var _ domain.CacheStore = (*RedisCacheStore)(nil)
