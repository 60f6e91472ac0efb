package rulebook

import "strings"

// MailType is the normalized classification of a Job.type free-form
// string (spec.md §4.1).
type MailType string

const (
	MailInitial     MailType = "initial"
	MailFollowup    MailType = "followup"
	MailManual      MailType = "manual"
	MailConditional MailType = "conditional"
)

// internalTypes are the substrings getMailType matches against, in
// priority order: conditional:* always wins, then manual, then initial,
// with followup as the fallback for anything else.
var internalTypes = []struct {
	mailType MailType
	prefixes []string
}{
	{MailConditional, []string{"conditional:"}},
	{MailManual, []string{"manual"}},
	{MailInitial, []string{"initial email", "initial"}},
}

// GetMailType classifies a free-form job.type string. Falls back to
// MailFollowup when nothing matches, since followup names are
// themselves free-form (spec.md §3 Job.type).
func GetMailType(typeString string) MailType {
	lower := strings.ToLower(typeString)
	for _, entry := range internalTypes {
		for _, prefix := range entry.prefixes {
			if strings.Contains(lower, prefix) {
				return entry.mailType
			}
		}
	}
	return MailFollowup
}

// mailTypePriority is the fixed priority hierarchy used by the Queue
// Watcher and the lead-status resolver (spec.md §4.1, §4.5.2-equivalent).
var mailTypePriority = map[MailType]int{
	MailConditional: 100,
	MailManual:      90,
	MailInitial:     80,
	MailFollowup:    70,
}

// GetMailTypePriority returns the scheduling priority for a mail type.
func GetMailTypePriority(t MailType) int {
	if p, ok := mailTypePriority[t]; ok {
		return p
	}
	return mailTypePriority[MailFollowup]
}

// Action is a user- or system-initiated operation on a Job.
type Action string

const (
	ActionSkip      Action = "skip"
	ActionCancel    Action = "cancel"
	ActionPause     Action = "pause"
	ActionResume    Action = "resume"
	ActionRetry     Action = "retry"
	ActionReschedule Action = "reschedule"
)

// ValidationResult is the outcome of validateAction.
type ValidationResult struct {
	Allowed bool
	Reason  string
}

// permissions is keyed by mail type: canSkip/canCancel/canPause. Per
// spec.md §4.1: followups can be skipped but never cancelled; initial,
// conditional and manual can be cancelled but never skipped; only
// followup can be paused (the pause/resume priority mechanism operates
// on followups specifically).
var permissions = map[MailType]struct {
	canSkip, canCancel, canPause bool
}{
	MailFollowup:    {canSkip: true, canCancel: false, canPause: true},
	MailInitial:     {canSkip: false, canCancel: true, canPause: false},
	MailConditional: {canSkip: false, canCancel: true, canPause: false},
	MailManual:      {canSkip: false, canCancel: true, canPause: false},
}

// ValidateAction checks whether action is permitted on a job of the
// given type and status.
func ValidateAction(action Action, typeString string, status Status) ValidationResult {
	mt := GetMailType(typeString)
	perm := permissions[mt]

	switch action {
	case ActionSkip:
		if !perm.canSkip {
			return ValidationResult{false, string(mt) + " jobs cannot be skipped"}
		}
	case ActionCancel:
		if !perm.canCancel {
			return ValidationResult{false, string(mt) + " jobs cannot be cancelled"}
		}
	case ActionPause:
		if !perm.canPause {
			return ValidationResult{false, string(mt) + " jobs cannot be paused"}
		}
	case ActionResume:
		if status != StatusPaused {
			return ValidationResult{false, "job is not paused"}
		}
	case ActionRetry:
		if !Info(status).CanRetry {
			return ValidationResult{false, "status " + string(status) + " is not retriable"}
		}
	case ActionReschedule:
		if IsTerminal(status) {
			return ValidationResult{false, "cannot reschedule a terminal job"}
		}
	default:
		return ValidationResult{false, "unknown action " + string(action)}
	}

	return ValidationResult{Allowed: true}
}
