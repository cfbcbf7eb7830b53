package infra

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// checkAndConsumeScript faz, num único round-trip atômico:
// leitura das janelas minuto/hora, refill preguiçoso do bucket, consumo de
// um token e incremento dos contadores (com expiração) quando admitido.
//
// KEYS: minute, hour, bucket
// ARGV: rpm, rph, capacity, refill/s, now (s fracionários), ttl minuto, ttl hora, ttl bucket
// Retorno: {allowed(0|1), gate, tokens}
var checkAndConsumeScript = redis.NewScript(`
local function num(v, d)
  if v then
    return tonumber(v) or d
  end
  return d
end

local rpm = tonumber(ARGV[1])
local rph = tonumber(ARGV[2])
local cap = tonumber(ARGV[3])
local rate = tonumber(ARGV[4])
local now = tonumber(ARGV[5])

local m = num(redis.call('GET', KEYS[1]), 0)
local h = num(redis.call('GET', KEYS[2]), 0)

local b = redis.call('HMGET', KEYS[3], 'tokens', 'ts')
local tokens = num(b[1], cap)
local ts = num(b[2], now)
if now > ts then
  tokens = math.min(cap, tokens + (now - ts) * rate)
  ts = now
end

if m >= rpm then
  return {0, 'minute', tostring(tokens)}
end
if h >= rph then
  return {0, 'hour', tostring(tokens)}
end

local allowed = 0
local gate = 'bucket'
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
  gate = ''
end

redis.call('HSET', KEYS[3], 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('EXPIRE', KEYS[3], ARGV[8])

if allowed == 1 then
  redis.call('INCR', KEYS[1])
  redis.call('EXPIRE', KEYS[1], ARGV[6])
  redis.call('INCR', KEYS[2])
  redis.call('EXPIRE', KEYS[2], ARGV[7])
end

return {allowed, gate, tostring(tokens)}
`)

// RedisRateStore guarda o estado de rate limit por provider no Redis, de forma
// que vários processos compartilhem os mesmos limites.
//
// Layout:
//
//	<prefix>:<provider>:minute:<floor(now/60)>   contador (expira em 60s + margem)
//	<prefix>:<provider>:hour:<floor(now/3600)>   contador (expira em 3600s + margem)
//	<prefix>:<provider>:bucket                   hash {tokens, ts}
//	<prefix>:<provider>:health                   hash {failures, backoff_ms} (não expira)
type RedisRateStore struct {
	rdb *redis.Client

	prefix string
	margin time.Duration
}

type RedisRateOption func(*RedisRateStore)

func WithRatePrefix(prefix string) RedisRateOption {
	return func(s *RedisRateStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// WithWindowMargin define a margem somada ao tamanho da janela na expiração dos contadores.
func WithWindowMargin(d time.Duration) RedisRateOption {
	return func(s *RedisRateStore) { s.margin = d }
}

func NewRedisRateStore(rdb *redis.Client, opts ...RedisRateOption) *RedisRateStore {
	s := &RedisRateStore{
		rdb:    rdb,
		prefix: "ratelimit",
		margin: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisRateStore) key(p domain.Provider, parts ...string) string {
	return s.prefix + ":" + string(p) + ":" + strings.Join(parts, ":")
}

func (s *RedisRateStore) minuteKey(p domain.Provider, now time.Time) string {
	return s.key(p, "minute", strconv.FormatInt(minuteWindow(now), 10))
}

func (s *RedisRateStore) hourKey(p domain.Provider, now time.Time) string {
	return s.key(p, "hour", strconv.FormatInt(hourWindow(now), 10))
}

func (s *RedisRateStore) CheckAndConsume(ctx context.Context, p domain.Provider, lim domain.Limits, now time.Time) (domain.RateDecision, error) {
	bucketTTL := time.Duration(lim.BucketCapacity/lim.RefillPerSecond*float64(time.Second)) + s.margin

	res, err := checkAndConsumeScript.Run(ctx, s.rdb,
		[]string{s.minuteKey(p, now), s.hourKey(p, now), s.key(p, "bucket")},
		lim.RequestsPerMinute,
		lim.RequestsPerHour,
		formatSeconds(lim.BucketCapacity),
		formatSeconds(lim.RefillPerSecond),
		unixSeconds(now),
		seconds(time.Minute+s.margin),
		seconds(time.Hour+s.margin),
		seconds(bucketTTL),
	).Slice()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("rate check %s: %w", p, err)
	}
	if len(res) != 3 {
		return domain.RateDecision{}, fmt.Errorf("rate check %s: unexpected reply %v", p, res)
	}

	allowed, _ := res[0].(int64)
	gate, _ := res[1].(string)
	tokensStr, _ := res[2].(string)
	tokens, _ := strconv.ParseFloat(tokensStr, 64)

	return domain.RateDecision{
		Allowed: allowed == 1,
		Gate:    domain.DenyGate(gate),
		Tokens:  tokens,
	}, nil
}

// Usage só lê; o refill do bucket é calculado aqui sem ser persistido.
func (s *RedisRateStore) Usage(ctx context.Context, p domain.Provider, lim domain.Limits, now time.Time) (domain.RateUsage, error) {
	pipe := s.rdb.Pipeline()
	minute := pipe.Get(ctx, s.minuteKey(p, now))
	hour := pipe.Get(ctx, s.hourKey(p, now))
	bucket := pipe.HMGet(ctx, s.key(p, "bucket"), "tokens", "ts")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.RateUsage{}, fmt.Errorf("rate usage %s: %w", p, err)
	}

	u := domain.RateUsage{Tokens: lim.BucketCapacity}
	u.Minute, _ = minute.Int64()
	u.Hour, _ = hour.Int64()

	vals, _ := bucket.Result()
	if len(vals) == 2 && vals[0] != nil && vals[1] != nil {
		tokens, err1 := strconv.ParseFloat(fmt.Sprint(vals[0]), 64)
		ts, err2 := strconv.ParseFloat(fmt.Sprint(vals[1]), 64)
		if err1 == nil && err2 == nil {
			elapsed := float64(now.UnixNano())/1e9 - ts
			if elapsed > 0 {
				tokens = math.Min(lim.BucketCapacity, tokens+elapsed*lim.RefillPerSecond)
			}
			u.Tokens = tokens
		}
	}
	return u, nil
}

func (s *RedisRateStore) IncrFailures(ctx context.Context, p domain.Provider) (int64, error) {
	n, err := s.rdb.HIncrBy(ctx, s.key(p, "health"), "failures", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("incr failures %s: %w", p, err)
	}
	return n, nil
}

func (s *RedisRateStore) SetBackoff(ctx context.Context, p domain.Provider, d time.Duration) error {
	if err := s.rdb.HSet(ctx, s.key(p, "health"), "backoff_ms", d.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("set backoff %s: %w", p, err)
	}
	return nil
}

func (s *RedisRateStore) ResetHealth(ctx context.Context, p domain.Provider) error {
	if err := s.rdb.HSet(ctx, s.key(p, "health"), "failures", 0, "backoff_ms", 0).Err(); err != nil {
		return fmt.Errorf("reset health %s: %w", p, err)
	}
	return nil
}

func (s *RedisRateStore) Health(ctx context.Context, p domain.Provider) (domain.ProviderHealth, error) {
	vals, err := s.rdb.HMGet(ctx, s.key(p, "health"), "failures", "backoff_ms").Result()
	if err != nil {
		return domain.ProviderHealth{}, fmt.Errorf("health %s: %w", p, err)
	}
	var h domain.ProviderHealth
	if len(vals) == 2 {
		if v, ok := vals[0].(string); ok {
			h.ConsecutiveFailures, _ = strconv.ParseInt(v, 10, 64)
		}
		if v, ok := vals[1].(string); ok {
			ms, _ := strconv.ParseInt(v, 10, 64)
			h.Backoff = time.Duration(ms) * time.Millisecond
		}
	}
	return h, nil
}

func unixSeconds(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 6, 64)
}

func formatSeconds(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func seconds(d time.Duration) int64 {
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

var _ domain.RateStore = (*RedisRateStore)(nil)
