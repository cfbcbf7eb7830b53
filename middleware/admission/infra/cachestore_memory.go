package infra

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// MemoryCacheStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Expira preguiçosamente na leitura; não é compartilhada entre processos.
type MemoryCacheStore struct {
	mu      sync.Mutex
	entries map[string]memoryCacheEntry
	now     func() time.Time
}

type memoryCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

type MemoryCacheOption func(*MemoryCacheStore)

// WithCacheClock injeta o relógio (testes de TTL).
func WithCacheClock(now func() time.Time) MemoryCacheOption {
	return func(s *MemoryCacheStore) { s.now = now }
}

func NewMemoryCacheStore(opts ...MemoryCacheOption) *MemoryCacheStore {
	s := &MemoryCacheStore{
		entries: make(map[string]memoryCacheEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (e memoryCacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (s *MemoryCacheStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if ent.expired(s.now()) {
		delete(s.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(ent.value))
	copy(out, ent.value)
	return out, true, nil
}

func (s *MemoryCacheStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	ent := memoryCacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		ent.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = ent
	return nil
}

func (s *MemoryCacheStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryCacheStore) Len(_ context.Context) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, ent := range s.entries {
		if ent.expired(now) {
			delete(s.entries, k)
			continue
		}
		n++
	}
	return n, nil
}

func (s *MemoryCacheStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]memoryCacheEntry)
	return nil
}

var _ domain.CacheStore = (*MemoryCacheStore)(nil)
