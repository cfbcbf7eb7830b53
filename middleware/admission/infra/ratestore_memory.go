package infra

import (
	"context"
	"math"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"

	"golang.org/x/time/rate"
)

// MemoryRateStore é uma implementação em memória baseada em token-bucket
// (x/time/rate) mais contadores por janela, um registro por provider.
//
// Atômica apenas dentro do processo: útil para testes, desenvolvimento e
// deploys de uma instância só.
type MemoryRateStore struct {
	mu      sync.Mutex
	entries map[domain.Provider]*rateEntry
}

type rateEntry struct {
	lim *rate.Limiter

	minuteWindow int64
	minuteCount  int64
	hourWindow   int64
	hourCount    int64

	failures int64
	backoff  time.Duration
}

func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{entries: make(map[domain.Provider]*rateEntry)}
}

func (s *MemoryRateStore) entry(p domain.Provider, lim domain.Limits, now time.Time) *rateEntry {
	ent, ok := s.entries[p]
	if !ok {
		ent = &rateEntry{lim: rate.NewLimiter(rate.Limit(lim.RefillPerSecond), burstOf(lim))}
		s.entries[p] = ent
	}
	if lim.RefillPerSecond > 0 && ent.lim.Limit() != rate.Limit(lim.RefillPerSecond) {
		ent.lim.SetLimitAt(now, rate.Limit(lim.RefillPerSecond))
	}
	if b := burstOf(lim); b > 0 && ent.lim.Burst() != b {
		ent.lim.SetBurstAt(now, b)
	}
	return ent
}

func burstOf(lim domain.Limits) int {
	return int(math.Ceil(lim.BucketCapacity))
}

// roll zera os contadores quando a janela corrente mudou.
func (e *rateEntry) roll(now time.Time) {
	if w := minuteWindow(now); w != e.minuteWindow {
		e.minuteWindow, e.minuteCount = w, 0
	}
	if w := hourWindow(now); w != e.hourWindow {
		e.hourWindow, e.hourCount = w, 0
	}
}

func (s *MemoryRateStore) CheckAndConsume(_ context.Context, p domain.Provider, lim domain.Limits, now time.Time) (domain.RateDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.entry(p, lim, now)
	ent.roll(now)

	if ent.minuteCount >= lim.RequestsPerMinute {
		return domain.RateDecision{Gate: domain.GateMinute, Tokens: ent.lim.TokensAt(now)}, nil
	}
	if ent.hourCount >= lim.RequestsPerHour {
		return domain.RateDecision{Gate: domain.GateHour, Tokens: ent.lim.TokensAt(now)}, nil
	}
	if !ent.lim.AllowN(now, 1) {
		return domain.RateDecision{Gate: domain.GateBucket, Tokens: ent.lim.TokensAt(now)}, nil
	}

	ent.minuteCount++
	ent.hourCount++
	return domain.RateDecision{Allowed: true, Tokens: ent.lim.TokensAt(now)}, nil
}

func (s *MemoryRateStore) Usage(_ context.Context, p domain.Provider, lim domain.Limits, now time.Time) (domain.RateUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[p]
	if !ok {
		return domain.RateUsage{Tokens: lim.BucketCapacity}, nil
	}
	var u domain.RateUsage
	if ent.minuteWindow == minuteWindow(now) {
		u.Minute = ent.minuteCount
	}
	if ent.hourWindow == hourWindow(now) {
		u.Hour = ent.hourCount
	}
	u.Tokens = ent.lim.TokensAt(now)
	return u, nil
}

func (s *MemoryRateStore) IncrFailures(_ context.Context, p domain.Provider) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent := s.healthEntry(p)
	ent.failures++
	return ent.failures, nil
}

func (s *MemoryRateStore) SetBackoff(_ context.Context, p domain.Provider, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthEntry(p).backoff = d
	return nil
}

func (s *MemoryRateStore) ResetHealth(_ context.Context, p domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent := s.healthEntry(p)
	ent.failures, ent.backoff = 0, 0
	return nil
}

func (s *MemoryRateStore) Health(_ context.Context, p domain.Provider) (domain.ProviderHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entries[p]
	if !ok {
		return domain.ProviderHealth{}, nil
	}
	return domain.ProviderHealth{ConsecutiveFailures: ent.failures, Backoff: ent.backoff}, nil
}

// healthEntry cria o registro sem limiter configurado; o primeiro
// CheckAndConsume ajusta limite e burst.
func (s *MemoryRateStore) healthEntry(p domain.Provider) *rateEntry {
	ent, ok := s.entries[p]
	if !ok {
		lim := domain.DefaultLimits()
		ent = &rateEntry{lim: rate.NewLimiter(rate.Limit(lim.RefillPerSecond), burstOf(lim))}
		s.entries[p] = ent
	}
	return ent
}

func minuteWindow(now time.Time) int64 { return now.Unix() / 60 }
func hourWindow(now time.Time) int64   { return now.Unix() / 3600 }

var _ domain.RateStore = (*MemoryRateStore)(nil)
