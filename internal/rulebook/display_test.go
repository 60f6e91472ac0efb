package rulebook

import (
	"testing"

	"github.com/sequencehq/engine/internal/types"
)

type fakeLookup struct {
	rules map[string]types.ConditionalEmail
}

func (f fakeLookup) FindConditionalEmailByName(name string) (types.ConditionalEmail, bool) {
	rule, ok := f.rules[name]
	return rule, ok
}

func TestDisplayStatus_Followup(t *testing.T) {
	job := types.Job{Type: "First Followup", Status: "scheduled"}
	if got := DisplayStatus(job, nil); got != "First Followup:scheduled" {
		t.Errorf("got %q", got)
	}
}

func TestDisplayStatus_Initial(t *testing.T) {
	job := types.Job{Type: "Initial Email", Status: "pending"}
	if got := DisplayStatus(job, nil); got != "Initial Email:pending" {
		t.Errorf("got %q", got)
	}
}

func TestDisplayStatus_ConditionalFromMetadata(t *testing.T) {
	job := types.Job{
		Type:     "conditional:win_back",
		Status:   "pending",
		Metadata: types.JobMetadata{TriggerEvent: "opened"},
	}
	if got := DisplayStatus(job, nil); got != "condition opened:pending" {
		t.Errorf("got %q", got)
	}
}

func TestDisplayStatus_ConditionalFromLookup(t *testing.T) {
	job := types.Job{Type: "conditional:win_back", Status: "pending"}
	lookup := fakeLookup{rules: map[string]types.ConditionalEmail{
		"win_back": {TriggerEvent: "clicked"},
	}}
	if got := DisplayStatus(job, lookup); got != "condition clicked:pending" {
		t.Errorf("got %q", got)
	}
}
