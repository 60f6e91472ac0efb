package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeWindowStore struct {
	count int64
	err   error
}

func (f *fakeWindowStore) CountInProgressInWindow(ctx context.Context, windowStart, windowEnd time.Time) (int64, error) {
	return f.count, f.err
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestWindowLimiter_ReserveSlot_Succeeds(t *testing.T) {
	client := newTestRedis(t)
	store := &fakeWindowStore{count: 0}
	wl := NewWindowLimiter(client, store, 15, 5, nil)

	res, err := wl.ReserveSlot(context.Background(), "UTC", time.Now())
	if err != nil {
		t.Fatalf("ReserveSlot: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success when under capacity")
	}
}

func TestWindowLimiter_ReserveSlot_FailsWhenStoreAtCapacity(t *testing.T) {
	client := newTestRedis(t)
	store := &fakeWindowStore{count: 5}
	wl := NewWindowLimiter(client, store, 15, 5, nil)

	res, err := wl.ReserveSlot(context.Background(), "UTC", time.Now())
	if err != nil {
		t.Fatalf("ReserveSlot: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure when store already reports capacity reached")
	}
	if res.NextWindow.IsZero() {
		t.Fatal("expected a non-zero NextWindow on failure")
	}
}

func TestWindowLimiter_ReserveSlot_Unlimited(t *testing.T) {
	client := newTestRedis(t)
	store := &fakeWindowStore{count: 1000}
	wl := NewWindowLimiter(client, store, 15, 0, nil)

	res, err := wl.ReserveSlot(context.Background(), "UTC", time.Now())
	if err != nil {
		t.Fatalf("ReserveSlot: %v", err)
	}
	if !res.Success {
		t.Fatal("expected unlimited window to always succeed")
	}
}

func TestWindowLimiter_GetSlotCapacity(t *testing.T) {
	client := newTestRedis(t)
	store := &fakeWindowStore{count: 3}
	wl := NewWindowLimiter(client, store, 15, 10, nil)

	cap, err := wl.GetSlotCapacity(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("GetSlotCapacity: %v", err)
	}
	if cap.Used != 3 || cap.Total != 10 || cap.Available != 7 {
		t.Errorf("unexpected capacity: %+v", cap)
	}
}

func TestWindowLimiter_ReserveSlot_OverIncrementFailsClosed(t *testing.T) {
	client := newTestRedis(t)
	store := &fakeWindowStore{count: 4}
	wl := NewWindowLimiter(client, store, 15, 5, nil)

	now := time.Now()
	// Pre-seed the counter so the post-increment value exceeds max even
	// though the store's count was still under max at check time.
	windowStart, _ := wl.windowBounds(now)
	client.Set(context.Background(), wl.key(windowStart), 5, time.Minute)

	res, err := wl.ReserveSlot(context.Background(), "UTC", now)
	if err != nil {
		t.Fatalf("ReserveSlot: %v", err)
	}
	if res.Success {
		t.Fatal("expected fail-closed behavior on post-increment over-issue")
	}
}
