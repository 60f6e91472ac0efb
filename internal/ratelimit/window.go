package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sequencehq/engine/internal/metrics"
	"github.com/sequencehq/engine/internal/resilience"
)

// WindowStore is the subset of the persistence layer the rate-limit
// service needs: a count of jobs already committed to a given window,
// which is the ground truth the Redis fast path guards against
// over-issuing (spec.md §4.3).
type WindowStore interface {
	CountInProgressInWindow(ctx context.Context, windowStart, windowEnd time.Time) (int64, error)
}

// SlotCapacity is the result of getSlotCapacity.
type SlotCapacity struct {
	Used        int64
	Total       int64
	Available   int64
	WindowStart time.Time
}

// ReserveResult is the result of reserveSlot.
type ReserveResult struct {
	Success      bool
	ReservedTime time.Time
	NextWindow   time.Time
}

// WindowLimiter is the authoritative "emails reserved per window" counter
// (spec.md §4.3). Redis is the fast path; WindowStore is the source of
// truth used both for the pre-check and for getSlotCapacity.
type WindowLimiter struct {
	redis         *redis.Client
	store         WindowStore
	windowMinutes int
	maxPerWindow  int
	breaker       *resilience.Manager
}

// NewWindowLimiter creates a window-bucketed rate limiter.
// windowMinutes and maxPerWindow default to 15 and 0 (unlimited) per
// spec.md §4.3/§2 Settings.rateLimit; callers should pass the live
// Settings values.
func NewWindowLimiter(client *redis.Client, store WindowStore, windowMinutes, maxPerWindow int, breaker *resilience.Manager) *WindowLimiter {
	if windowMinutes <= 0 {
		windowMinutes = 15
	}
	if breaker == nil {
		breaker = resilience.NewManager(5, time.Minute, nil)
	}
	return &WindowLimiter{
		redis:         client,
		store:         store,
		windowMinutes: windowMinutes,
		maxPerWindow:  maxPerWindow,
		breaker:       breaker,
	}
}

func (w *WindowLimiter) windowMs() int64 {
	return int64(w.windowMinutes) * int64(time.Minute/time.Millisecond)
}

func (w *WindowLimiter) windowBounds(t time.Time) (start, end time.Time) {
	ms := t.UnixMilli()
	windowMs := w.windowMs()
	startMs := (ms / windowMs) * windowMs
	start = time.UnixMilli(startMs).UTC()
	end = start.Add(time.Duration(windowMs) * time.Millisecond)
	return start, end
}

func (w *WindowLimiter) key(windowStart time.Time) string {
	return "ratelimit:global:" + formatWindowKey(windowStart)
}

func formatWindowKey(t time.Time) string {
	return time.Time(t).UTC().Format("20060102150405.000")
}

// ReserveSlot attempts to reserve targetTime in its window. leadTz is
// accepted for interface symmetry with the caller's per-lead scheduling
// context but is intentionally unused: the counter is global, not
// per-timezone (spec.md §4.3).
func (w *WindowLimiter) ReserveSlot(ctx context.Context, leadTz string, targetTime time.Time) (ReserveResult, error) {
	windowStart, windowEnd := w.windowBounds(targetTime)

	if w.maxPerWindow <= 0 {
		return ReserveResult{Success: true, ReservedTime: targetTime}, nil
	}

	var count int64
	err := w.breaker.Execute(ctx, func() error {
		var cerr error
		count, cerr = w.store.CountInProgressInWindow(ctx, windowStart, windowEnd)
		return cerr
	})
	if err != nil {
		return ReserveResult{}, err
	}

	key := w.key(windowStart)
	ttl := time.Duration(w.windowMs()*2) * time.Millisecond

	if count >= int64(w.maxPerWindow) {
		_ = w.breaker.Execute(ctx, func() error {
			return w.redis.Set(ctx, key, count, ttl).Err()
		})
		metrics.Get().RecordRateLimitRejection()
		return ReserveResult{Success: false, NextWindow: windowEnd}, nil
	}

	var newCount int64
	err = w.breaker.Execute(ctx, func() error {
		var rerr error
		newCount, rerr = w.redis.Incr(ctx, key).Result()
		if rerr != nil {
			return rerr
		}
		return w.redis.Expire(ctx, key, ttl).Err()
	})
	if err != nil {
		return ReserveResult{}, err
	}

	if newCount > int64(w.maxPerWindow) {
		metrics.Get().RecordRateLimitRejection()
		return ReserveResult{Success: false, NextWindow: windowEnd}, nil
	}

	return ReserveResult{Success: true, ReservedTime: targetTime}, nil
}

// GetSlotCapacity always recomputes from the persistent store (used for
// display and by the FCFS search, spec.md §4.3 — never trusts Redis as
// the source of truth for reads).
func (w *WindowLimiter) GetSlotCapacity(ctx context.Context, t time.Time) (SlotCapacity, error) {
	windowStart, windowEnd := w.windowBounds(t)

	var used int64
	err := w.breaker.Execute(ctx, func() error {
		var cerr error
		used, cerr = w.store.CountInProgressInWindow(ctx, windowStart, windowEnd)
		return cerr
	})
	if err != nil {
		return SlotCapacity{}, err
	}

	total := int64(w.maxPerWindow)
	available := total - used
	if w.maxPerWindow <= 0 {
		available = -1 // unlimited
	}
	if available < 0 && w.maxPerWindow > 0 {
		available = 0
	}

	return SlotCapacity{
		Used:        used,
		Total:       total,
		Available:   available,
		WindowStart: windowStart,
	}, nil
}
