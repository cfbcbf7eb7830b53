package domain

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTask_CompleteOnlyOnce(t *testing.T) {
	task := NewTask("t1")
	task.Complete(ResponseDescriptor{Content: "first"}, nil)
	task.Complete(ResponseDescriptor{Content: "second"}, errors.New("ignored"))

	resp, err := task.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "first" {
		t.Fatalf("expected first completion to win, got %q", resp.Content)
	}
}

func TestTask_WaitHonorsContext(t *testing.T) {
	task := NewTask("t2")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := task.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
