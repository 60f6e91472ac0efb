// Package bizhours implements the working-days/business-hours rules
// (spec.md §4.2) the Scheduler consults for every slot search.
package bizhours

import (
	"time"

	"github.com/sequencehq/engine/internal/clock"
	"github.com/sequencehq/engine/internal/types"
)

// defaultWeekendDays is used when Settings.BusinessHours.WeekendDays is
// empty (spec.md §4.2 default {0,6}).
var defaultWeekendDays = []int{0, 6}

func weekendDays(settings types.Settings) []int {
	if len(settings.BusinessHours.WeekendDays) > 0 {
		return settings.BusinessHours.WeekendDays
	}
	return defaultWeekendDays
}

// IsWorkingDay reports false if moment's weekday is a configured
// weekend day, or its calendar date is in Settings.PausedDates.
func IsWorkingDay(moment time.Time, settings types.Settings) bool {
	dow := int(moment.Weekday())
	for _, d := range weekendDays(settings) {
		if d == dow {
			return false
		}
	}

	date := moment.Format("2006-01-02")
	for _, paused := range settings.PausedDates {
		if paused == date {
			return false
		}
	}
	return true
}

// IsWithinBusinessHours converts t into leadTz and checks
// startHour ≤ hour < endHour.
func IsWithinBusinessHours(t time.Time, leadTz string, settings types.Settings) bool {
	local := clock.InZone(t, leadTz)
	hour := local.Hour()
	return hour >= settings.BusinessHours.StartHour && hour < settings.BusinessHours.EndHour
}

// maxSearchDays bounds getNextWorkingDay's advance so a pathological
// Settings value (e.g. all days weekend) cannot loop forever.
const maxSearchDays = 365

// GetNextWorkingDay advances fromMoment by whole days, up to
// maxSearchDays, until IsWorkingDay holds, then pins the hour to
// startHour. Returns the zero time and false if no working day was
// found within the search horizon.
func GetNextWorkingDay(fromMoment time.Time, settings types.Settings, startHour int) (time.Time, bool) {
	candidate := fromMoment
	for i := 0; i < maxSearchDays; i++ {
		if IsWorkingDay(candidate, settings) {
			return time.Date(candidate.Year(), candidate.Month(), candidate.Day(), startHour, 0, 0, 0, candidate.Location()), true
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}
