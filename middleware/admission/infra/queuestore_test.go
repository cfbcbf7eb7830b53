package infra

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queueStores(t *testing.T) map[string]domain.QueueStore {
	_, rdb := newTestRedis(t)
	return map[string]domain.QueueStore{
		"memory": NewMemoryQueueStore(),
		"redis":  NewRedisQueueStore(rdb, "test"),
	}
}

func item(id string, priority int) domain.QueueItem {
	return domain.QueueItem{
		TaskID:     id,
		Priority:   priority,
		Request:    domain.RequestDescriptor{Model: "gpt-4o", Payload: "p-" + id, Context: map[string]any{"n": 1}},
		EnqueuedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestQueueStore_PriorityThenArrival(t *testing.T) {
	ctx := context.Background()

	for name, s := range queueStores(t) {
		t.Run(name, func(t *testing.T) {
			for i, prio := range []int{0, 10, 0, 5} {
				got, err := s.Push(ctx, item(fmt.Sprintf("t%d", i), prio), 0)
				require.NoError(t, err)
				assert.Equal(t, int64(i+1), got.Seq)
			}

			n, err := s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(4), n)

			var order []string
			var prios []int
			for {
				it, err := s.PopMin(ctx)
				require.NoError(t, err)
				if it == nil {
					break
				}
				order = append(order, it.TaskID)
				prios = append(prios, it.Priority)
			}
			assert.Equal(t, []string{"t1", "t3", "t0", "t2"}, order)
			assert.Equal(t, []int{10, 5, 0, 0}, prios)
		})
	}
}

func TestQueueStore_RoundTripsRequest(t *testing.T) {
	ctx := context.Background()

	for name, s := range queueStores(t) {
		t.Run(name, func(t *testing.T) {
			in := item("rt", 3)
			in.UseCache = true
			_, err := s.Push(ctx, in, 0)
			require.NoError(t, err)

			out, err := s.PopMin(ctx)
			require.NoError(t, err)
			require.NotNil(t, out)
			assert.Equal(t, in.TaskID, out.TaskID)
			assert.Equal(t, in.Request.Payload, out.Request.Payload)
			assert.True(t, out.UseCache)
			assert.True(t, in.EnqueuedAt.Equal(out.EnqueuedAt))
			assert.Equal(t, domain.QueueScore(3, 1), out.Score)
			assert.Equal(t, int64(1), out.Seq)
		})
	}
}

func TestQueueStore_MaxLenRejectsWithoutMutation(t *testing.T) {
	ctx := context.Background()

	for name, s := range queueStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 2; i++ {
				_, err := s.Push(ctx, item(fmt.Sprintf("m%d", i), 0), 2)
				require.NoError(t, err)
			}
			_, err := s.Push(ctx, item("overflow", 50), 2)
			assert.ErrorIs(t, err, domain.ErrQueueFull)

			n, err := s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			first, err := s.PopMin(ctx)
			require.NoError(t, err)
			assert.Equal(t, "m0", first.TaskID)
		})
	}
}

func TestQueueStore_ConcurrentPushStopsAtMaxLen(t *testing.T) {
	ctx := context.Background()
	const maxLen, writers = 5, 40

	for name, s := range queueStores(t) {
		t.Run(name, func(t *testing.T) {
			var ok, full atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := s.Push(ctx, item(fmt.Sprintf("c%d", i), i%3), maxLen)
					switch {
					case err == nil:
						ok.Add(1)
					case assert.ErrorIs(t, err, domain.ErrQueueFull):
						full.Add(1)
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, int32(maxLen), ok.Load())
			assert.Equal(t, int32(writers-maxLen), full.Load())
			n, err := s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(maxLen), n)
		})
	}
}

func TestQueueStore_PriorityIsClamped(t *testing.T) {
	ctx := context.Background()

	for name, s := range queueStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Push(ctx, item("huge", 100000), 0)
			require.NoError(t, err)
			assert.Equal(t, domain.MaxPriority, got.Priority)
		})
	}
}

func TestQueueStore_EmptyPopReturnsNil(t *testing.T) {
	for name, s := range queueStores(t) {
		t.Run(name, func(t *testing.T) {
			it, err := s.PopMin(context.Background())
			require.NoError(t, err)
			assert.Nil(t, it)
		})
	}
}
