package infra

import (
	"context"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statsEvents() []domain.StatsEvent {
	at := time.Date(2026, 3, 1, 10, 7, 0, 0, time.UTC)
	return []domain.StatsEvent{
		{Provider: domain.ProviderGroq, Kind: domain.OutcomeImmediate, At: at},
		{Provider: domain.ProviderGroq, Kind: domain.OutcomeImmediate, Cached: true, At: at},
		{Provider: domain.ProviderGemini, Kind: domain.OutcomeQueued, At: at},
		{Provider: domain.ProviderGemini, Kind: domain.OutcomeRejected, Reason: domain.ReasonRateLimited, At: at},
		{Provider: domain.ProviderGroq, Kind: domain.OutcomeRejected, Reason: domain.ReasonRateLimited, At: at},
	}
}

func TestMemoryStatsStore(t *testing.T) {
	s := NewMemoryStatsStore()
	for _, ev := range statsEvents() {
		require.NoError(t, s.Record(context.Background(), ev))
	}

	assert.Equal(t, Counters{Immediate: 2, Cached: 1, Queued: 1, Rejected: 2}, s.Total())
	assert.Equal(t, Counters{Immediate: 2, Cached: 1, Rejected: 1}, s.ByProvider()[domain.ProviderGroq])
	assert.Equal(t, int64(2), s.ByReason()[domain.ReasonRateLimited])
}

func TestRedisStatsStore(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStatsStore(rdb, WithStatsTTL(time.Hour))
	ctx := context.Background()

	for _, ev := range statsEvents() {
		require.NoError(t, s.Record(ctx, ev))
	}

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", totals["immediate"])
	assert.Equal(t, "1", totals["cached"])
	assert.Equal(t, "1", totals["queued"])
	assert.Equal(t, "2", totals["rejected:rate_limited"])

	assert.Equal(t, "1", mr.HGet("admission:stats:provider", "gemini:queued"))
	assert.Equal(t, time.Hour, mr.TTL("admission:stats:minute:202603011007"))
}
