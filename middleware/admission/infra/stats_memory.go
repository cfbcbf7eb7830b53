package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/admission/domain"
)

type Counters struct {
	Immediate int64 `json:"immediate"`
	Cached    int64 `json:"cached"`
	Queued    int64 `json:"queued"`
	Rejected  int64 `json:"rejected"`
}

func (c *Counters) add(ev domain.StatsEvent) {
	switch ev.Kind {
	case domain.OutcomeImmediate:
		c.Immediate++
		if ev.Cached {
			c.Cached++
		}
	case domain.OutcomeQueued:
		c.Queued++
	default:
		c.Rejected++
	}
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu         sync.Mutex
	total      Counters
	byProvider map[domain.Provider]Counters
	byReason   map[domain.Reason]int64
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{
		byProvider: make(map[domain.Provider]Counters),
		byReason:   make(map[domain.Reason]int64),
	}
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev)
	c := s.byProvider[ev.Provider]
	c.add(ev)
	s.byProvider[ev.Provider] = c
	if ev.Kind == domain.OutcomeRejected {
		s.byReason[ev.Reason]++
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByProvider() map[domain.Provider]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Provider]Counters, len(s.byProvider))
	for k, v := range s.byProvider {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByReason() map[domain.Reason]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Reason]int64, len(s.byReason))
	for k, v := range s.byReason {
		out[k] = v
	}
	return out
}
