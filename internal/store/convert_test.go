package store

import (
	"testing"
	"time"

	"github.com/sequencehq/engine/internal/types"
)

func TestLeadModelRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	lead := types.Lead{
		ID:               "lead1",
		Email:            "a@example.com",
		Timezone:         "America/New_York",
		Status:           "idle",
		Tags:             []string{"vip", "trial"},
		SkippedFollowups: []string{"Second Followup"},
		TerminalState:    types.TerminalDead,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	m := leadToModel(lead)
	got := modelToLead(m)

	if got.ID != lead.ID || got.Email != lead.Email || got.TerminalState != lead.TerminalState {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "vip" {
		t.Fatalf("expected tags to round trip, got %v", got.Tags)
	}
	if len(got.SkippedFollowups) != 1 || got.SkippedFollowups[0] != "Second Followup" {
		t.Fatalf("expected skipped followups to round trip, got %v", got.SkippedFollowups)
	}
}

func TestJobModelRoundTrip_PreservesCondition(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	job := types.Job{
		ID:             "job1",
		LeadID:         "lead1",
		Type:           "Second Followup",
		Category:       types.CategoryFollowup,
		Status:         "pending",
		ScheduledFor:   now,
		IdempotencyKey: "idem1",
		Condition:      &types.Condition{Type: types.CondIfOpened, CheckStep: "previous"},
		Metadata:       types.JobMetadata{Priority: 70, Timezone: "UTC"},
	}

	m := jobToModel(job)
	got := modelToJob(m)

	if got.ID != job.ID || got.Category != job.Category {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Condition == nil || got.Condition.Type != types.CondIfOpened {
		t.Fatalf("expected condition to round trip, got %+v", got.Condition)
	}
	if got.Metadata.Priority != 70 {
		t.Fatalf("expected metadata to round trip, got %+v", got.Metadata)
	}
}

func TestJobModelRoundTrip_NilConditionStaysNil(t *testing.T) {
	job := types.Job{ID: "job1", LeadID: "lead1", Type: "Initial Email"}
	m := jobToModel(job)
	got := modelToJob(m)
	if got.Condition != nil {
		t.Fatalf("expected nil condition to stay nil, got %+v", got.Condition)
	}
}

func TestSettingsModelRoundTrip(t *testing.T) {
	settings := types.Settings{
		BusinessHours: types.BusinessHoursSettings{StartHour: 9, EndHour: 17, WeekendDays: []int{0, 6}},
		RateLimit:     types.RateLimitSettings{EmailsPerWindow: 2, WindowMinutes: 15},
		Retry:         types.RetrySettings{MaxAttempts: 3, SoftBounceDelayHours: 6},
		PausedDates:   []string{"2026-12-25"},
		Followups:     []types.FollowupDef{{Name: "First Followup", Enabled: true, DelayDays: 1}},
	}

	m := settingsToModel(1, settings)
	got := modelToSettings(m)

	if got.BusinessHours.StartHour != 9 || got.RateLimit.EmailsPerWindow != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Followups) != 1 || got.Followups[0].Name != "First Followup" {
		t.Fatalf("expected followups to round trip, got %v", got.Followups)
	}
	if len(got.PausedDates) != 1 || got.PausedDates[0] != "2026-12-25" {
		t.Fatalf("expected paused dates to round trip, got %v", got.PausedDates)
	}
}

func TestConditionalEmailModelRoundTrip(t *testing.T) {
	rule := types.ConditionalEmail{
		ID: "rule1", Name: "nudge", TriggerEvent: "opened", TriggerStep: "First Followup",
		DelayHours: 2, CancelPending: true, Priority: 55, Enabled: true,
	}
	m := conditionalEmailToModel(rule)
	got := modelToConditionalEmail(m)
	if got != rule {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, rule)
	}
}

func TestIsUniqueViolation_NonPgErrorIsFalse(t *testing.T) {
	if isUniqueViolation(nil) {
		t.Fatal("expected nil error to not be a unique violation")
	}
}
