// Package store implements the persistence layer (SPEC_FULL.md §2.12):
// gorm.io/gorm over PostgreSQL, with jsonb columns for metadata,
// followups and condition, backing every Store interface the
// scheduling, dispatch and resolver packages depend on. Grounded on
// event-ticketing-backend's gorm model/repository split, adapted to
// the lead/job/sequence domain instead of tickets/orders.
package store

import (
	"time"
)

// LeadModel is the leads table.
type LeadModel struct {
	ID               string `gorm:"primaryKey"`
	Email            string `gorm:"index"`
	Name             string
	Country          string
	City             string
	Timezone         string
	Status           string `gorm:"index"`
	Score            int
	Tags             string `gorm:"type:jsonb"` // []string
	FrozenUntil      *time.Time
	FollowupsPaused  bool
	SkippedFollowups string `gorm:"type:jsonb"` // []string
	TerminalState    string
	TerminalStateAt  *time.Time
	TerminalReason   string
	IsInFailure      bool
	TotalRetries     int
	EmailsSent       int
	EmailsOpened     int
	EmailsClicked    int
	EmailsBounced    int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (LeadModel) TableName() string { return "leads" }

// JobModel is the email_jobs table.
type JobModel struct {
	ID              string `gorm:"primaryKey"`
	LeadID          string `gorm:"index:idx_jobs_lead_status,priority:1"`
	Type            string
	Category        string
	Status          string `gorm:"index:idx_jobs_lead_status,priority:2;index:idx_jobs_scheduled_status,priority:2"`
	ScheduledFor    time.Time `gorm:"index:idx_jobs_scheduled_status,priority:1"`
	SentAt          *time.Time
	FailedAt        *time.Time
	RetryCount      int
	LastError       string
	TemplateID      string
	Condition       string `gorm:"type:jsonb"` // *types.Condition
	IdempotencyKey  string `gorm:"uniqueIndex"`
	Metadata        string `gorm:"type:jsonb"` // types.JobMetadata
	PausedReason    string
	PausedByJobType string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (JobModel) TableName() string { return "email_jobs" }

// EmailScheduleModel is the email_schedules table: one row per lead.
type EmailScheduleModel struct {
	LeadID              string `gorm:"primaryKey"`
	InitialScheduledFor *time.Time
	InitialStatus       string
	NextScheduledEmail  *time.Time
	Followups           string `gorm:"type:jsonb"` // []types.FollowupEntry
	UpdatedAt           time.Time
}

func (EmailScheduleModel) TableName() string { return "email_schedules" }

// EventHistoryModel is the event_history table: an append-only audit
// trail of every normalized event a lead/job received.
type EventHistoryModel struct {
	ID         uint `gorm:"primaryKey;autoIncrement"`
	LeadID     string `gorm:"index"`
	EmailJobID string `gorm:"index"`
	EventType  string
	EventData  string `gorm:"type:jsonb"`
	OccurredAt time.Time
	CreatedAt  time.Time
}

func (EventHistoryModel) TableName() string { return "event_history" }

// EventStoreModel is the event_store table, the dedup ledger keyed by
// (event_type, aggregate_id).
type EventStoreModel struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	EventType      string `gorm:"uniqueIndex:idx_event_store_dedup,priority:1"`
	AggregateID    string `gorm:"uniqueIndex:idx_event_store_dedup,priority:2"`
	IdempotencyKey string
	ReceivedAt     time.Time
	Payload        string `gorm:"type:jsonb"`
}

func (EventStoreModel) TableName() string { return "event_store" }

// NotificationModel is the notifications table.
type NotificationModel struct {
	ID           string `gorm:"primaryKey"`
	LeadID       string `gorm:"index"`
	JobID        string
	Kind         string
	Message      string
	CreatedAt    time.Time
	Acknowledged bool
}

func (NotificationModel) TableName() string { return "notifications" }

// ConditionalEmailModel is the conditional_emails table: the rule
// definitions evaluated by the Conditional Evaluator.
type ConditionalEmailModel struct {
	ID            string `gorm:"column:id"`
	Name          string `gorm:"primaryKey"`
	TriggerEvent  string `gorm:"index:idx_conditional_trigger,priority:1"`
	TriggerStep   string `gorm:"index:idx_conditional_trigger,priority:2"`
	DelayHours    int
	TemplateID    string
	CancelPending bool
	Priority      int
	Enabled       bool
}

func (ConditionalEmailModel) TableName() string { return "conditional_emails" }

// ConditionalEmailJobModel is the conditional_email_jobs table: links
// a fired conditional job back to the rule and the job it evaluated
// against the FindConditionalJob/evaluate-once dedup check.
type ConditionalEmailJobModel struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	LeadID   string `gorm:"index:idx_cond_jobs_lead_rule,priority:1"`
	RuleName string `gorm:"index:idx_cond_jobs_lead_rule,priority:2"`
	JobID    string
	CreatedAt time.Time
}

func (ConditionalEmailJobModel) TableName() string { return "conditional_email_jobs" }

// ManualMailModel is the manual_mails table: ad hoc manually-triggered
// sends, the mail-type=manual counterpart of the sequence-driven jobs.
type ManualMailModel struct {
	ID         string `gorm:"primaryKey"`
	LeadID     string `gorm:"index"`
	JobID      string
	TemplateID string
	TriggeredBy string
	CreatedAt  time.Time
}

func (ManualMailModel) TableName() string { return "manual_mails" }

// SettingsModel is the settings table: a single-row global config blob.
type SettingsModel struct {
	ID            uint   `gorm:"primaryKey"`
	BusinessHours string `gorm:"type:jsonb"`
	RateLimit     string `gorm:"type:jsonb"`
	Retry         string `gorm:"type:jsonb"`
	PausedDates   string `gorm:"type:jsonb"`
	Followups     string `gorm:"type:jsonb"`
	UpdatedAt     time.Time
}

func (SettingsModel) TableName() string { return "settings" }

// EmailTemplateModel is the email_templates table. Template rendering
// itself is out of scope (Non-goals); this row only needs to exist so
// Job.TemplateID has somewhere to point and migrations can seed one.
type EmailTemplateModel struct {
	ID      string `gorm:"primaryKey"`
	Name    string
	Subject string
	Body    string
}

func (EmailTemplateModel) TableName() string { return "email_templates" }

// AllModels lists every model for AutoMigrate/migration generation.
func AllModels() []interface{} {
	return []interface{}{
		&LeadModel{}, &JobModel{}, &EmailScheduleModel{}, &EventHistoryModel{},
		&EventStoreModel{}, &NotificationModel{}, &ConditionalEmailModel{},
		&ConditionalEmailJobModel{}, &ManualMailModel{}, &SettingsModel{}, &EmailTemplateModel{},
		&PollCursorModel{},
	}
}
