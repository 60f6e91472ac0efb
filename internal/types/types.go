// Package types holds the shared entities the engine schedules, mutates
// and resolves status for: Lead, Job, EmailSchedule, EventHistory,
// ConditionalEmail and Settings. Every other internal package operates on
// these shapes rather than defining its own.
package types

import "time"

// TerminalState is one of the three states that permanently disable
// scheduling for a Lead.
type TerminalState string

const (
	TerminalNone         TerminalState = ""
	TerminalDead         TerminalState = "dead"
	TerminalUnsubscribed TerminalState = "unsubscribed"
	TerminalComplaint    TerminalState = "complaint"
)

// Lead is the identity of a recipient.
type Lead struct {
	ID               string        `json:"id"`
	Email            string        `json:"email"`
	Name             string        `json:"name"`
	Country          string        `json:"country,omitempty"`
	City             string        `json:"city,omitempty"`
	Timezone         string        `json:"timezone"`
	Status           string        `json:"status"`
	Score            int           `json:"score"`
	Tags             []string      `json:"tags,omitempty"`
	FrozenUntil      *time.Time    `json:"frozen_until,omitempty"`
	FollowupsPaused  bool          `json:"followups_paused"`
	SkippedFollowups []string      `json:"skipped_followups,omitempty"`
	TerminalState    TerminalState `json:"terminal_state,omitempty"`
	TerminalStateAt  *time.Time    `json:"terminal_state_at,omitempty"`
	TerminalReason   string        `json:"terminal_reason,omitempty"`
	IsInFailure      bool          `json:"is_in_failure"`
	TotalRetries     int           `json:"total_retries"`

	EmailsSent    int `json:"emails_sent"`
	EmailsOpened  int `json:"emails_opened"`
	EmailsClicked int `json:"emails_clicked"`
	EmailsBounced int `json:"emails_bounced"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InTerminalState reports whether the lead can no longer be scheduled.
func (l Lead) InTerminalState() bool {
	return l.TerminalState != TerminalNone
}

// HasSkipped reports whether a named followup step was globally skipped
// for this lead.
func (l Lead) HasSkipped(step string) bool {
	for _, s := range l.SkippedFollowups {
		if s == step {
			return true
		}
	}
	return false
}

// MailCategory classifies a Job for priority and permission purposes.
type MailCategory string

const (
	CategoryInitial     MailCategory = "initial"
	CategoryFollowup    MailCategory = "followup"
	CategoryManual      MailCategory = "manual"
	CategoryConditional MailCategory = "conditional"
)

// JobMetadata is the free-form bag attached to a Job, modeled as a small
// strongly-typed core rather than a stringly-typed map (spec.md §9).
type JobMetadata struct {
	QueueJobID    string `json:"queue_job_id,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
	TriggerEvent  string `json:"trigger_event,omitempty"`
	Manual        bool   `json:"manual,omitempty"`
	RescheduledTo string `json:"rescheduled_to,omitempty"`
	OriginalJobID string `json:"original_job_id,omitempty"`
	Priority      int    `json:"priority,omitempty"`
}

// Job is a single planned or sent email instance.
type Job struct {
	ID             string       `json:"id"`
	LeadID         string       `json:"lead_id"`
	Type           string       `json:"type"`
	Category       MailCategory `json:"category"`
	Status         string       `json:"status"`
	ScheduledFor   time.Time    `json:"scheduled_for"`
	SentAt         *time.Time   `json:"sent_at,omitempty"`
	FailedAt       *time.Time   `json:"failed_at,omitempty"`
	RetryCount     int          `json:"retry_count"`
	LastError      string       `json:"last_error,omitempty"`
	TemplateID     string       `json:"template_id,omitempty"`
	Condition      *Condition   `json:"condition,omitempty"`
	IdempotencyKey string       `json:"idempotency_key"`
	Metadata       JobMetadata  `json:"metadata"`

	PausedReason    string `json:"paused_reason,omitempty"`
	PausedByJobType string `json:"paused_by_job_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConditionType enumerates the per-step conditions the sequence resolver
// evaluates (spec.md §4.5.3).
type ConditionType string

const (
	CondAlways       ConditionType = "always"
	CondIfOpened     ConditionType = "if_opened"
	CondIfClicked    ConditionType = "if_clicked"
	CondIfNotOpened  ConditionType = "if_not_opened"
	CondIfNotClicked ConditionType = "if_not_clicked"
	CondExpr         ConditionType = "expr" // additive escape hatch, SPEC_FULL.md §4.13
)

// Condition is the per-step gate evaluated against the preceding step.
type Condition struct {
	Type         ConditionType `json:"type"`
	CheckStep    string        `json:"check_step,omitempty"` // "" or "previous" both mean "previous"
	SkipIfNotMet bool          `json:"skip_if_not_met,omitempty"`
	Expr         string        `json:"expr,omitempty"` // only used when Type == CondExpr
}

// FollowupEntry is one row in a Lead's EmailSchedule.Followups projection.
type FollowupEntry struct {
	Name          string    `json:"name"`
	ScheduledFor  time.Time `json:"scheduled_for"`
	Status        string    `json:"status"`
	Order         int       `json:"order"`
	IsConditional bool      `json:"is_conditional,omitempty"`
}

// EmailSchedule is the derived, reconciled-on-write projection of a lead's
// plan. It is a cache, never the source of truth.
type EmailSchedule struct {
	LeadID              string          `json:"lead_id"`
	InitialScheduledFor *time.Time      `json:"initial_scheduled_for,omitempty"`
	InitialStatus       string          `json:"initial_status,omitempty"`
	NextScheduledEmail  *time.Time      `json:"next_scheduled_email,omitempty"`
	Followups           []FollowupEntry `json:"followups,omitempty"`
}

// EventHistoryEntry is one append-only record of something that happened
// to a lead.
type EventHistoryEntry struct {
	ID         string    `json:"id"`
	LeadID     string    `json:"lead_id"`
	Event      string    `json:"event"`
	Timestamp  time.Time `json:"timestamp"`
	EmailType  string    `json:"email_type,omitempty"`
	EmailJobID string    `json:"email_job_id,omitempty"`
	Details    string    `json:"details,omitempty"`
}

// ConditionalEmail is a rule that, given an engagement event on a source
// step, schedules a side-sequence email.
type ConditionalEmail struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	TriggerEvent  string `json:"trigger_event"` // opened | clicked | delivered | bounced
	TriggerStep   string `json:"trigger_step"`
	DelayHours    int    `json:"delay_hours"`
	TemplateID    string `json:"template_id"`
	CancelPending bool   `json:"cancel_pending"`
	Priority      int    `json:"priority"`
	Enabled       bool   `json:"enabled"`
}

// FollowupDef is one entry in Settings.Followups: a sequence step
// definition.
type FollowupDef struct {
	Name      string     `json:"name"`
	Enabled   bool       `json:"enabled"`
	Order     int        `json:"order"`
	DelayDays float64    `json:"delay_days"`
	Template  string     `json:"template"`
	Condition *Condition `json:"condition,omitempty"`
}

// RetrySettings controls retry/backoff and the soft-bounce reschedule
// delay.
type RetrySettings struct {
	MaxAttempts          int            `json:"max_attempts"`
	SoftBounceDelayHours int            `json:"soft_bounce_delay_hours"`
	PerType              map[string]int `json:"per_type,omitempty"`
}

// RateLimitSettings controls the FCFS window quota.
type RateLimitSettings struct {
	EmailsPerWindow int `json:"emails_per_window"`
	WindowMinutes   int `json:"window_minutes"`
}

// BusinessHoursSettings controls working days/hours.
type BusinessHoursSettings struct {
	StartHour   int   `json:"start_hour"`
	EndHour     int   `json:"end_hour"`
	WeekendDays []int `json:"weekend_days"` // 0=Sunday .. 6=Saturday
}

// Settings is the process-wide singleton configuration object.
type Settings struct {
	BusinessHours BusinessHoursSettings `json:"business_hours"`
	RateLimit     RateLimitSettings     `json:"rate_limit"`
	Retry         RetrySettings         `json:"retry"`
	PausedDates   []string              `json:"paused_dates"` // "YYYY-MM-DD"
	Followups     []FollowupDef         `json:"followups"`
}

// Notification is a user-visible failure surfaced through the
// notifications stream (spec.md §7).
type Notification struct {
	ID           string    `json:"id"`
	LeadID       string    `json:"lead_id"`
	JobID        string    `json:"job_id,omitempty"`
	Kind         string    `json:"kind"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
	Acknowledged bool      `json:"acknowledged"`
}

// StoredEvent is one deduplicated row in the EventStore.
type StoredEvent struct {
	EventType      string    `json:"event_type"`
	AggregateID    string    `json:"aggregate_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	ReceivedAt     time.Time `json:"received_at"`
	Payload        string    `json:"payload,omitempty"`
}

// ProviderEvent is the normalized envelope the dispatcher consumes,
// whether delivered over the inbound webhook or the periodic poll.
type ProviderEvent struct {
	EventType  string            `json:"event_type"`
	LeadID     string            `json:"lead_id"`
	EmailJobID string            `json:"email_job_id"`
	EventData  map[string]string `json:"event_data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
