package infra

import (
	"container/heap"
	"context"
	"sync"

	"admission-gateway/middleware/admission/domain"
)

// MemoryQueueStore é um heap em memória com o mesmo score do RedisQueueStore.
type MemoryQueueStore struct {
	mu    sync.Mutex
	seq   int64
	items queueHeap
}

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{}
}

func (s *MemoryQueueStore) Push(_ context.Context, item domain.QueueItem, maxLen int64) (domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxLen > 0 && int64(s.items.Len()) >= maxLen {
		return item, domain.ErrQueueFull
	}

	s.seq++
	item.Priority = clampPriority(item.Priority)
	item.Seq = s.seq
	item.Score = domain.QueueScore(item.Priority, item.Seq)
	heap.Push(&s.items, item)
	return item, nil
}

func (s *MemoryQueueStore) PopMin(_ context.Context) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.items.Len() == 0 {
		return nil, nil
	}
	item := heap.Pop(&s.items).(domain.QueueItem)
	return &item, nil
}

func (s *MemoryQueueStore) Len(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.items.Len()), nil
}

type queueHeap []domain.QueueItem

func (h queueHeap) Len() int           { return len(h) }
func (h queueHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h queueHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *queueHeap) Push(x any)        { *h = append(*h, x.(domain.QueueItem)) }
func (h *queueHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

var _ domain.QueueStore = (*MemoryQueueStore)(nil)
