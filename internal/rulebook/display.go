package rulebook

import (
	"fmt"
	"strings"

	"github.com/sequencehq/engine/internal/types"
)

// ConditionalEmailLookup resolves a ConditionalEmail rule by its
// `conditional:<name>` suffix, used only when a conditional job's
// metadata doesn't already carry the triggering event (spec.md §4.1
// status-display rules).
type ConditionalEmailLookup interface {
	FindConditionalEmailByName(name string) (types.ConditionalEmail, bool)
}

// DisplayStatus formats a job's status for EmailSchedule/UI per
// spec.md §4.1:
//   - conditional: "condition {triggerEvent}:{status}"
//   - followup:    "{specific-followup-name}:{status}"
//   - initial/manual: "{displayName}:{status}"
func DisplayStatus(job types.Job, lookup ConditionalEmailLookup) string {
	mt := GetMailType(job.Type)

	switch mt {
	case MailConditional:
		trigger := job.Metadata.TriggerEvent
		if trigger == "" && lookup != nil {
			name := strings.TrimPrefix(job.Type, "conditional:")
			if rule, ok := lookup.FindConditionalEmailByName(name); ok {
				trigger = rule.TriggerEvent
			}
		}
		return fmt.Sprintf("condition %s:%s", trigger, job.Status)
	case MailFollowup:
		return fmt.Sprintf("%s:%s", job.Type, job.Status)
	default:
		return fmt.Sprintf("%s:%s", displayName(job.Type), job.Status)
	}
}

func displayName(typeString string) string {
	if typeString == "" {
		return "Initial Email"
	}
	return typeString
}
