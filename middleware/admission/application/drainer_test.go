package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitTaskState(t *testing.T, m *Middleware, id string, want domain.TaskState) domain.TaskStatus {
	t.Helper()
	var st domain.TaskStatus
	require.Eventually(t, func() bool {
		s, err := m.TaskStatus(context.Background(), id)
		if err != nil {
			return false
		}
		st = s
		return s.State == want
	}, 2*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
	return st
}

func TestDrainer_ProcessesByPriority(t *testing.T) {
	var mu sync.Mutex
	var order []string
	h := newHarness(t, func(_ context.Context, r domain.RequestDescriptor) (domain.ResponseDescriptor, error) {
		mu.Lock()
		order = append(order, strings.TrimSpace(r.Payload[:8]))
		mu.Unlock()
		return domain.ResponseDescriptor{Content: "done:" + r.Payload[:8]}, nil
	})
	ctx := context.Background()
	d := NewDrainer(h.m, 10*time.Millisecond)

	release, _ := h.pool.TryAcquire()
	long := strings.Repeat(".", 120)

	low := h.m.Admit(ctx, domain.RequestDescriptor{Model: "gpt-4o", Payload: "plain   " + long}, false, true)
	mid := h.m.Admit(ctx, domain.RequestDescriptor{Model: "gpt-4o", Payload: "urgent  " + long}, false, true)
	high := h.m.Admit(ctx, domain.RequestDescriptor{Model: "gpt-4o", Payload: "premium " + long, Premium: true}, false, true)
	for _, out := range []domain.Outcome{low, mid, high} {
		require.Equal(t, domain.OutcomeQueued, out.Kind, out.Message)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- d.Run(runCtx) }()

	release()

	st := waitTaskState(t, h.m, low.TaskID, domain.TaskSucceeded)
	assert.Equal(t, "done:plain   ", st.Response.Content)
	waitTaskState(t, h.m, mid.TaskID, domain.TaskSucceeded)
	waitTaskState(t, h.m, high.TaskID, domain.TaskSucceeded)

	mu.Lock()
	assert.Equal(t, []string{"premium", "urgent", "plain"}, order)
	mu.Unlock()

	n, _ := h.queue.Len(ctx)
	assert.Zero(t, n)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatalf("drainer did not stop")
	}
}

func TestDrainer_KickWakesWithoutPolling(t *testing.T) {
	h := newHarness(t, nil)
	d := NewDrainer(h.m, 0)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(runCtx) }()

	// o Drainer pode estar segurando a vaga por um instante
	var release func()
	require.Eventually(t, func() bool {
		r, ok := h.pool.TryAcquire()
		release = r
		return ok
	}, time.Second, time.Millisecond)
	out := h.m.Admit(context.Background(), req("kick me"), false, true)
	require.Equal(t, domain.OutcomeQueued, out.Kind)
	release()

	// sem ticker: quem acorda o Drainer é o enqueue
	st := waitTaskState(t, h.m, out.TaskID, domain.TaskSucceeded)
	assert.Equal(t, "echo:kick me", st.Response.Content)
}

func TestDrainer_FailedTaskIsRecorded(t *testing.T) {
	h := newHarness(t, func(context.Context, domain.RequestDescriptor) (domain.ResponseDescriptor, error) {
		return domain.ResponseDescriptor{}, errors.New("model overloaded")
	})
	d := NewDrainer(h.m, 5*time.Millisecond)

	release, _ := h.pool.TryAcquire()
	out := h.m.Admit(context.Background(), req("x"), false, true)
	require.Equal(t, domain.OutcomeQueued, out.Kind)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(runCtx) }()
	release()

	st := waitTaskState(t, h.m, out.TaskID, domain.TaskFailed)
	assert.Contains(t, st.Error, "model overloaded")

	health, _ := h.rates.Health(context.Background(), domain.ProviderGroq)
	assert.Equal(t, int64(1), health.ConsecutiveFailures)
}

func TestDrainer_ServesQueuedItemFromCache(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	d := NewDrainer(h.m, 5*time.Millisecond)

	r := req("cached while waiting")
	item, err := h.m.queue.Enqueue(ctx, r, true)
	require.NoError(t, err)
	require.NoError(t, h.m.cache.Set(ctx, r.KeyMaterial(), domain.ResponseDescriptor{Content: "from cache"}, time.Minute))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = d.Run(runCtx) }()

	st := waitTaskState(t, h.m, item.TaskID, domain.TaskSucceeded)
	assert.Equal(t, "from cache", st.Response.Content)
	assert.Zero(t, h.calls.Load())
}
