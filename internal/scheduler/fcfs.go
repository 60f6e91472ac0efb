// Package scheduler implements the FCFS slot finder, the sequence
// resolver, scheduleNextEmail/scheduleEmailJob/rescheduleEmailJob and
// the cron-driven sweep (spec.md §4.5).
package scheduler

import (
	"context"
	"time"

	"github.com/sequencehq/engine/internal/bizhours"
	"github.com/sequencehq/engine/internal/clock"
	"github.com/sequencehq/engine/internal/ratelimit"
	"github.com/sequencehq/engine/internal/types"
)

// maxFCFSAttempts bounds the primary slot search to roughly three days
// at the default 15-minute window (spec.md §4.5.1).
const maxFCFSAttempts = 200

// ErrNoSlotFound is returned when the FCFS search is exhausted.
type ErrNoSlotFound struct{ SearchedUntil time.Time }

func (e ErrNoSlotFound) Error() string {
	return "no available slot found within the search horizon"
}

// FindSlot implements the FCFS finder: translate to leadTimezone, never
// return a past instant, round up to the window boundary, then walk
// forward respecting business hours/working days and window capacity.
func FindSlot(ctx context.Context, c clock.Clock, limiter *ratelimit.WindowLimiter, leadTz string, minTime time.Time, settings types.Settings) (time.Time, error) {
	now := c.Now()
	effectiveMin := minTime
	if now.After(effectiveMin) {
		effectiveMin = now
	}

	local := clock.InZone(effectiveMin, leadTz)
	windowMinutes := settings.RateLimit.WindowMinutes
	if windowMinutes <= 0 {
		windowMinutes = 15
	}
	candidate := roundUpToWindow(local, windowMinutes)

	startHour := settings.BusinessHours.StartHour

	for i := 0; i < maxFCFSAttempts; i++ {
		if !bizhours.IsWorkingDay(candidate, settings) {
			next, ok := bizhours.GetNextWorkingDay(candidate, settings, startHour)
			if !ok {
				return time.Time{}, ErrNoSlotFound{SearchedUntil: candidate}
			}
			candidate = next
			continue
		}

		if candidate.Hour() < startHour {
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), startHour, 0, 0, 0, candidate.Location())
			continue
		}
		if candidate.Hour() >= settings.BusinessHours.EndHour {
			next, ok := bizhours.GetNextWorkingDay(candidate.AddDate(0, 0, 1), settings, startHour)
			if !ok {
				return time.Time{}, ErrNoSlotFound{SearchedUntil: candidate}
			}
			candidate = next
			continue
		}

		cap, err := limiter.GetSlotCapacity(ctx, candidate.UTC())
		if err != nil {
			return time.Time{}, err
		}
		if cap.Available > 0 || cap.Available < 0 {
			return candidate, nil
		}

		candidate = candidate.Add(time.Duration(windowMinutes) * time.Minute)
	}

	return time.Time{}, ErrNoSlotFound{SearchedUntil: candidate}
}

func roundUpToWindow(t time.Time, windowMinutes int) time.Time {
	windowMs := int64(windowMinutes) * int64(time.Minute/time.Millisecond)
	ms := t.UnixMilli()
	rounded := ((ms + windowMs - 1) / windowMs) * windowMs
	return time.UnixMilli(rounded).In(t.Location())
}
