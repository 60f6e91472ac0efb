package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestQueue(t *testing.T) *BoltQueue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestAddAndPop_ReturnsOnlyDueItems(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Add(ctx, "email-send-queue", []byte("job-a"), AddOptions{JobID: "a"}); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if err := q.Add(ctx, "email-send-queue", []byte("job-b"), AddOptions{JobID: "b", Delay: time.Hour}); err != nil {
		t.Fatalf("Add b: %v", err)
	}

	items, err := q.Pop(ctx, "email-send-queue", 10)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if len(items) != 1 || items[0].ID != "a" {
		t.Fatalf("expected only job a to be due, got %+v", items)
	}
}

func TestPop_OrdersByPriorityThenRunAt(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Add(ctx, "q", []byte("low"), AddOptions{JobID: "low", Priority: 10}); err != nil {
		t.Fatalf("Add low: %v", err)
	}
	if err := q.Add(ctx, "q", []byte("high"), AddOptions{JobID: "high", Priority: 90}); err != nil {
		t.Fatalf("Add high: %v", err)
	}

	items, err := q.Pop(ctx, "q", 10)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if len(items) != 2 || items[0].ID != "high" {
		t.Fatalf("expected high priority first, got %+v", items)
	}
}

func TestRemove_DeletesFromAllBuckets(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Add(ctx, "followup-queue", []byte("x"), AddOptions{JobID: "job1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := q.Remove(ctx, "job1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	items, err := q.Pop(ctx, "followup-queue", 10)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected item removed before becoming due, got %+v", items)
	}
}

func TestRetry_ExceedsMaxAttempts(t *testing.T) {
	q := newTestQueue(t)
	item := Item{ID: "job1", QueueName: "q", MaxAttempts: 1, Attempts: 1}

	err := q.Retry(context.Background(), item)
	if err != ErrAttemptsExceeded {
		t.Fatalf("expected ErrAttemptsExceeded, got %v", err)
	}
}

func TestRetry_ReschedulesWithBackoff(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	item := Item{ID: "job1", QueueName: "q", MaxAttempts: 5, BackoffBase: time.Second}

	if err := q.Retry(ctx, item); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	items, err := q.Pop(ctx, "q", 10)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected retried item not yet due, got %+v", items)
	}
}
