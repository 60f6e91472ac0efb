// Package rulebook is the single place encoding mail-type permissions,
// priorities, status semantics, event categorization, action
// side-effects and retry policy. No other package may duplicate this
// logic: queries elsewhere enumerate statuses only through the
// status-group getters below (spec.md §4.1).
package rulebook

// Status is one value from the exhaustive job status alphabet
// (spec.md §3.1).
type Status string

const (
	StatusPending     Status = "pending"
	StatusQueued      Status = "queued"
	StatusScheduled   Status = "scheduled"
	StatusRescheduled Status = "rescheduled"
	StatusDeferred    Status = "deferred"

	StatusPaused Status = "paused"

	StatusSent         Status = "sent"
	StatusDelivered    Status = "delivered"
	StatusOpened       Status = "opened"
	StatusUniqueOpened Status = "unique_opened"
	StatusClicked      Status = "clicked"

	StatusSoftBounce Status = "soft_bounce"

	StatusHardBounce Status = "hard_bounce"
	StatusBlocked    Status = "blocked"
	StatusSpam       Status = "spam"
	StatusInvalid    Status = "invalid"
	StatusError      Status = "error"
	StatusFailed     Status = "failed"

	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"

	StatusUnsubscribed Status = "unsubscribed"
	StatusComplaint    Status = "complaint"
	StatusDead         Status = "dead"
)

// StatusInfo carries the per-status attributes spec.md §3.1 requires:
// isTerminal, isActive, canRetry and the allowed-transition table.
type StatusInfo struct {
	IsTerminal         bool
	IsActive           bool
	CanRetry           bool
	AllowedTransitions []Status
}

var statusTable = map[Status]StatusInfo{
	StatusPending:     {IsActive: true, AllowedTransitions: []Status{StatusQueued, StatusScheduled, StatusCancelled, StatusSkipped, StatusPaused}},
	StatusQueued:      {IsActive: true, AllowedTransitions: []Status{StatusSent, StatusFailed, StatusError, StatusCancelled}},
	StatusScheduled:   {IsActive: true, AllowedTransitions: []Status{StatusQueued, StatusRescheduled, StatusCancelled, StatusSkipped, StatusPaused}},
	StatusRescheduled: {IsActive: true, AllowedTransitions: []Status{StatusQueued, StatusRescheduled, StatusCancelled, StatusSkipped}},
	StatusDeferred:    {IsActive: true, CanRetry: true, AllowedTransitions: []Status{StatusQueued, StatusRescheduled, StatusCancelled}},

	StatusPaused: {AllowedTransitions: []Status{StatusScheduled, StatusPending, StatusCancelled}},

	StatusSent:         {AllowedTransitions: []Status{StatusDelivered, StatusSoftBounce, StatusHardBounce, StatusBlocked, StatusSpam, StatusInvalid, StatusError}},
	StatusDelivered:    {AllowedTransitions: []Status{StatusOpened, StatusUniqueOpened, StatusClicked}},
	StatusOpened:       {AllowedTransitions: []Status{StatusUniqueOpened, StatusClicked}},
	StatusUniqueOpened: {AllowedTransitions: []Status{StatusClicked}},
	StatusClicked:      {IsTerminal: true},

	StatusSoftBounce: {CanRetry: true, AllowedTransitions: []Status{StatusRescheduled, StatusDead}},

	StatusHardBounce: {IsTerminal: true},
	StatusBlocked:    {IsTerminal: true},
	StatusSpam:       {IsTerminal: true},
	StatusInvalid:    {IsTerminal: true},
	StatusError:      {CanRetry: true, AllowedTransitions: []Status{StatusRescheduled, StatusDead}},
	StatusFailed:     {IsTerminal: true},

	StatusCancelled: {IsTerminal: true},
	StatusSkipped:   {IsTerminal: true},

	StatusUnsubscribed: {IsTerminal: true},
	StatusComplaint:    {IsTerminal: true},
	StatusDead:         {IsTerminal: true},
}

// Info returns the attributes for a status, zero-value for unknown
// statuses (treated as neither active nor terminal).
func Info(s Status) StatusInfo {
	return statusTable[s]
}

// CanTransition reports whether from → to is an allowed transition.
func CanTransition(from, to Status) bool {
	for _, allowed := range statusTable[from].AllowedTransitions {
		if allowed == to {
			return true
		}
	}
	return false
}

func statusesWhere(pred func(StatusInfo) bool) []Status {
	var out []Status
	for s, info := range statusTable {
		if pred(info) {
			out = append(out, s)
		}
	}
	return out
}

// GetActiveStatuses returns the statuses that count toward the "at most
// one active job per lead" invariant (spec.md I1).
func GetActiveStatuses() []Status {
	return []Status{StatusPending, StatusQueued, StatusScheduled, StatusRescheduled, StatusDeferred}
}

// GetRetriableStatuses returns statuses eligible for a retry attempt.
func GetRetriableStatuses() []Status {
	return statusesWhere(func(i StatusInfo) bool { return i.CanRetry })
}

// GetFailureStatuses returns the hard and soft failure statuses.
func GetFailureStatuses() []Status {
	return []Status{StatusSoftBounce, StatusHardBounce, StatusBlocked, StatusSpam, StatusInvalid, StatusError, StatusFailed}
}

// GetAwaitingDeliveryStatuses returns statuses between queueing and the
// provider's first delivery signal.
func GetAwaitingDeliveryStatuses() []Status {
	return []Status{StatusPending, StatusQueued, StatusScheduled, StatusRescheduled, StatusDeferred, StatusSent}
}

// GetSuccessfullySentStatuses returns statuses reached only after the
// provider confirmed the send (includes all engagement states).
func GetSuccessfullySentStatuses() []Status {
	return []Status{StatusSent, StatusDelivered, StatusOpened, StatusUniqueOpened, StatusClicked}
}

// GetInProgressStatuses returns the statuses the Rate-Limit Service
// counts against window capacity (spec.md §4.3).
func GetInProgressStatuses() []Status {
	return []Status{StatusPending, StatusQueued, StatusScheduled, StatusRescheduled}
}

// GetCompletedHistoryStatuses returns the statuses that close out a
// job's place in EventHistory/EmailSchedule display.
func GetCompletedHistoryStatuses() []Status {
	return statusesWhere(func(i StatusInfo) bool { return i.IsTerminal })
}

// IsTerminal reports whether a status is terminal for its job.
func IsTerminal(s Status) bool {
	return statusTable[s].IsTerminal
}

// IsActive reports whether a status counts as active for I1.
func IsActive(s Status) bool {
	return statusTable[s].IsActive
}
