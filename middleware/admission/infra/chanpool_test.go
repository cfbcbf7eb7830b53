package infra

import (
	"context"
	"testing"
	"time"
)

func TestChanPool_TryAcquireRespectsCapacity(t *testing.T) {
	p := NewChanPool(1)

	release, ok := p.TryAcquire()
	if !ok {
		t.Fatalf("expected first TryAcquire to succeed")
	}
	if _, ok := p.TryAcquire(); ok {
		t.Fatalf("expected second TryAcquire to fail with capacity 1")
	}
	if p.InUse() != 1 {
		t.Fatalf("expected 1 slot in use, got %d", p.InUse())
	}

	release()
	release() // idempotente
	if p.InUse() != 0 {
		t.Fatalf("expected 0 slots in use after release, got %d", p.InUse())
	}
}

func TestChanPool_AcquireUnblocksOnRelease(t *testing.T) {
	p := NewChanPool(1)
	release, _ := p.TryAcquire()

	got := make(chan bool, 1)
	go func() {
		r, ok := p.Acquire(context.Background())
		if ok {
			r()
		}
		got <- ok
	}()

	select {
	case <-got:
		t.Fatalf("Acquire should block while the slot is held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case ok := <-got:
		if !ok {
			t.Fatalf("expected Acquire to succeed after release")
		}
	case <-time.After(time.Second):
		t.Fatalf("Acquire did not unblock")
	}
}

func TestChanPool_AcquireHonorsCancel(t *testing.T) {
	p := NewChanPool(1)
	_, _ = p.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := p.Acquire(ctx); ok {
		t.Fatalf("expected Acquire to fail when ctx expires")
	}
	if p.InUse() != 1 {
		t.Fatalf("cancelled Acquire must not take a slot, in use=%d", p.InUse())
	}
}
