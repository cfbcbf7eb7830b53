package infra

import (
	"context"
	"fmt"
	"strings"

	"admission-gateway/middleware/admission/domain"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// pushScript atribui a sequência de chegada e insere o item no sorted set
// de forma atômica. O score é formatado como inteiro para não perder
// precisão na conversão número→string do Lua.
//
// KEYS: zset, seq
// ARGV: priority, span, member, maxLen (0 = sem limite)
// Retorno: seq, ou -1 se a fila estiver cheia.
var pushScript = redis.NewScript(`
local max = tonumber(ARGV[4])
if max > 0 and redis.call('ZCARD', KEYS[1]) >= max then
  return -1
end
local seq = redis.call('INCR', KEYS[2])
local score = -tonumber(ARGV[1]) * tonumber(ARGV[2]) + seq
redis.call('ZADD', KEYS[1], string.format('%.0f', score), ARGV[3])
return seq
`)

// RedisQueueStore guarda a fila em queue:<name>:priority (sorted set de
// QueueItems em JSON) e a sequência global em queue:<name>:seq.
type RedisQueueStore struct {
	rdb    *redis.Client
	zkey   string
	seqKey string
}

func NewRedisQueueStore(rdb *redis.Client, name string) *RedisQueueStore {
	name = strings.Trim(name, ":")
	if name == "" {
		name = "default"
	}
	return &RedisQueueStore{
		rdb:    rdb,
		zkey:   "queue:" + name + ":priority",
		seqKey: "queue:" + name + ":seq",
	}
}

func (s *RedisQueueStore) Push(ctx context.Context, item domain.QueueItem, maxLen int64) (domain.QueueItem, error) {
	item.Priority = clampPriority(item.Priority)
	member, err := json.Marshal(item)
	if err != nil {
		return item, fmt.Errorf("queue push: encode: %w", err)
	}
	seq, err := pushScript.Run(ctx, s.rdb, []string{s.zkey, s.seqKey},
		item.Priority, int64(domain.ScoreSpan), string(member), maxLen,
	).Int64()
	if err != nil {
		return item, fmt.Errorf("queue push: %w", err)
	}
	if seq < 0 {
		return item, domain.ErrQueueFull
	}
	item.Seq = seq
	item.Score = domain.QueueScore(item.Priority, seq)
	return item, nil
}

func (s *RedisQueueStore) PopMin(ctx context.Context) (*domain.QueueItem, error) {
	zs, err := s.rdb.ZPopMin(ctx, s.zkey, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue pop: %w", err)
	}
	if len(zs) == 0 {
		return nil, nil
	}
	member, _ := zs[0].Member.(string)
	var item domain.QueueItem
	if err := json.Unmarshal([]byte(member), &item); err != nil {
		return nil, fmt.Errorf("queue pop: decode: %w", err)
	}
	item.Score = zs[0].Score
	item.Seq = int64(zs[0].Score + float64(item.Priority)*domain.ScoreSpan)
	return &item, nil
}

func (s *RedisQueueStore) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, s.zkey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue len: %w", err)
	}
	return n, nil
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > domain.MaxPriority {
		return domain.MaxPriority
	}
	return p
}

var _ domain.QueueStore = (*RedisQueueStore)(nil)
