package rulebook

import (
	"math"
	"time"
)

// deadEvents are the event names that, combined with exceeding
// maxRetries(type), send a lead down the dead path (spec.md §4.1).
var deadEvents = map[string]bool{
	"hard_bounce":  true,
	"blocked":      true,
	"invalid":      true,
	"error":        true,
	"complaint":    true,
	"unsubscribed": true,
}

const defaultMaxRetries = 3

// RetrySettings mirrors the fields of types.RetrySettings that the
// retry rules read; callers pass the live Settings value through.
type RetrySettings struct {
	MaxAttempts int
	PerType     map[string]int
}

// maxRetries resolves per-type → global → default 3 (spec.md §4.1).
func maxRetries(settings RetrySettings, typeString string) int {
	if settings.PerType != nil {
		if v, ok := settings.PerType[typeString]; ok {
			return v
		}
	}
	if settings.MaxAttempts > 0 {
		return settings.MaxAttempts
	}
	return defaultMaxRetries
}

// ShouldMarkAsDead reports whether a job's event and resulting retry
// count should terminate the lead.
func ShouldMarkAsDead(settings RetrySettings, typeString, eventType string, retryCount int) bool {
	if !deadEvents[eventType] {
		return false
	}
	return retryCount+1 > maxRetries(settings, typeString)
}

// CalculateRetryDelay returns the exponential backoff for the nth retry:
// initial × multiplier^n, capped at 24h.
func CalculateRetryDelay(retryCount int) time.Duration {
	const (
		initial    = 5 * time.Minute
		multiplier = 2.0
		cap_       = 24 * time.Hour
	)
	delay := time.Duration(float64(initial) * math.Pow(multiplier, float64(retryCount)))
	if delay > cap_ {
		return cap_
	}
	return delay
}
