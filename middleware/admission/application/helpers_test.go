package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

var errStoreDown = errors.New("connection refused")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// início de uma janela de hora
var windowStart = time.Unix(1_800_000_000/3600*3600, 0)

type failingRateStore struct{}

func (failingRateStore) CheckAndConsume(context.Context, domain.Provider, domain.Limits, time.Time) (domain.RateDecision, error) {
	return domain.RateDecision{}, errStoreDown
}

func (failingRateStore) Usage(context.Context, domain.Provider, domain.Limits, time.Time) (domain.RateUsage, error) {
	return domain.RateUsage{}, errStoreDown
}

func (failingRateStore) IncrFailures(context.Context, domain.Provider) (int64, error) {
	return 0, errStoreDown
}

func (failingRateStore) SetBackoff(context.Context, domain.Provider, time.Duration) error {
	return errStoreDown
}

func (failingRateStore) ResetHealth(context.Context, domain.Provider) error { return errStoreDown }

func (failingRateStore) Health(context.Context, domain.Provider) (domain.ProviderHealth, error) {
	return domain.ProviderHealth{}, errStoreDown
}

type failingCacheStore struct{}

func (failingCacheStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errStoreDown
}

func (failingCacheStore) Set(context.Context, string, []byte, time.Duration) error {
	return errStoreDown
}

func (failingCacheStore) Delete(context.Context, string) error { return errStoreDown }

func (failingCacheStore) Len(context.Context) (int64, error) { return 0, errStoreDown }

func (failingCacheStore) Clear(context.Context) error { return errStoreDown }

type failingQueueStore struct{}

func (failingQueueStore) Push(_ context.Context, it domain.QueueItem, _ int64) (domain.QueueItem, error) {
	return it, errStoreDown
}

func (failingQueueStore) PopMin(context.Context) (*domain.QueueItem, error) {
	return nil, errStoreDown
}

func (failingQueueStore) Len(context.Context) (int64, error) { return 0, errStoreDown }
