// Package clock wraps time.Now and IANA timezone conversion behind a
// narrow interface so scheduling logic can be tested with a fixed
// instant instead of real wall-clock time.
package clock

import "time"

// Clock is the time source every scheduling component depends on
// instead of calling time.Now directly.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock, backed by time.Now.
type Real struct{}

// Now returns the current time in UTC.
func (Real) Now() time.Time { return time.Now().UTC() }

// Fixed is a Clock that always returns the same instant, for tests.
type Fixed struct {
	At time.Time
}

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return f.At }

// InZone converts t into the named IANA timezone. Falls back to UTC for
// an empty or unrecognized zone name rather than failing the caller,
// since a bad lead.timezone should degrade, not crash scheduling.
func InZone(t time.Time, zone string) time.Time {
	if zone == "" {
		return t.UTC()
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return t.UTC()
	}
	return t.In(loc)
}
