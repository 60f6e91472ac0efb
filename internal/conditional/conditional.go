// Package conditional implements the Conditional Evaluator (spec.md
// §4.7): side-sequence emails triggered by an engagement event on a
// source step, run from the event dispatcher whenever a success event
// fires.
package conditional

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sequencehq/engine/internal/clock"
	"github.com/sequencehq/engine/internal/journeyguard"
	"github.com/sequencehq/engine/internal/metrics"
	"github.com/sequencehq/engine/internal/ratelimit"
	"github.com/sequencehq/engine/internal/rulebook"
	"github.com/sequencehq/engine/internal/scheduler"
	"github.com/sequencehq/engine/internal/types"
)

// Store is the persistence surface the evaluator needs.
type Store interface {
	ListEnabledConditionalEmails(ctx context.Context, triggerEvent, triggerStep string) ([]types.ConditionalEmail, error)
	FindConditionalJob(ctx context.Context, leadID, ruleName string) (*types.Job, error)
	ListActiveJobsByCategory(ctx context.Context, leadID string, category types.MailCategory) ([]types.Job, error)
	GetLead(ctx context.Context, leadID string) (types.Lead, error)
	UpdateLead(ctx context.Context, lead types.Lead) error
	CreateJob(ctx context.Context, job types.Job) error
	UpdateJob(ctx context.Context, job types.Job) error
	GetSettings(ctx context.Context) (types.Settings, error)
	ListJobsForLead(ctx context.Context, leadID string) ([]types.Job, error)
	UpsertEmailSchedule(ctx context.Context, sched types.EmailSchedule) error
}

// Queue pushes the new conditional job, with its rule priority, onto
// the durable queue.
type Queue interface {
	Add(ctx context.Context, queueName string, payload []byte, opts scheduler.QueueAddOptions) error
}

// Evaluator runs evaluateTriggers.
type Evaluator struct {
	store      Store
	queue      Queue
	limiter    *ratelimit.WindowLimiter
	guard      *journeyguard.Guard
	clock      clock.Clock
	instanceID string
}

// New creates an Evaluator. guard enforces the same Unique-Journey
// Guard (I1: no other active job of any type) the scheduler uses,
// since a conditional job is scheduled outside ScheduleEmailJob's own
// path.
func New(store Store, queue Queue, limiter *ratelimit.WindowLimiter, guard *journeyguard.Guard, c clock.Clock, instanceID string) *Evaluator {
	if c == nil {
		c = clock.Real{}
	}
	return &Evaluator{store: store, queue: queue, limiter: limiter, guard: guard, clock: c, instanceID: instanceID}
}

// EvaluateTriggers implements spec.md §4.7's six-step process. Called
// whenever the dispatcher sees a success-category event.
func (e *Evaluator) EvaluateTriggers(ctx context.Context, leadID, eventType, sourceEmailType, sourceJobID string) error {
	rules, err := e.store.ListEnabledConditionalEmails(ctx, eventType, sourceEmailType)
	if err != nil {
		return fmt.Errorf("evaluateTriggers: list rules for lead %s: %w", leadID, err)
	}
	if len(rules) == 0 {
		return nil
	}

	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("evaluateTriggers: get settings: %w", err)
	}
	lead, err := e.store.GetLead(ctx, leadID)
	if err != nil {
		return fmt.Errorf("evaluateTriggers: get lead %s: %w", leadID, err)
	}

	for _, rule := range rules {
		if err := e.applyRule(ctx, lead, rule, sourceJobID, settings); err != nil {
			return fmt.Errorf("evaluateTriggers: rule %s for lead %s: %w", rule.Name, leadID, err)
		}
	}
	return nil
}

func (e *Evaluator) applyRule(ctx context.Context, lead types.Lead, rule types.ConditionalEmail, sourceJobID string, settings types.Settings) error {
	jobType := "conditional:" + rule.Name

	existing, err := e.store.FindConditionalJob(ctx, lead.ID, rule.Name)
	if err != nil {
		return fmt.Errorf("find existing conditional job: %w", err)
	}
	if existing != nil && existing.Status != string(rulebook.StatusCancelled) {
		return nil
	}

	minTime := e.clock.Now().Add(time.Duration(rule.DelayHours) * time.Hour)
	slot, err := scheduler.FindSlot(ctx, e.clock, e.limiter, lead.Timezone, minTime, settings)
	if err != nil {
		return fmt.Errorf("find slot: %w", err)
	}

	if rule.CancelPending {
		if err := e.pausePendingFollowups(ctx, lead.ID); err != nil {
			return fmt.Errorf("pause pending followups: %w", err)
		}
		lead.FollowupsPaused = true
		lead.UpdatedAt = e.clock.Now()
		if err := e.store.UpdateLead(ctx, lead); err != nil {
			return fmt.Errorf("flag followupsPaused: %w", err)
		}
	}

	attempt, err := e.guard.TryReserve(ctx, lead.ID, jobType, e.instanceID, false)
	if err != nil {
		return fmt.Errorf("journey guard: %w", err)
	}
	if !attempt.Allowed {
		return nil
	}
	defer attempt.Release(ctx)

	job := types.Job{
		ID:             uuid.NewString(),
		LeadID:         lead.ID,
		Type:           jobType,
		Category:       types.CategoryConditional,
		Status:         string(rulebook.StatusPending),
		ScheduledFor:   slot,
		IdempotencyKey: uuid.NewString(),
		Metadata: types.JobMetadata{
			Timezone:     lead.Timezone,
			TriggerEvent: rule.TriggerEvent,
			Priority:     rule.Priority,
		},
		CreatedAt: e.clock.Now(),
		UpdatedAt: e.clock.Now(),
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create conditional job: %w", err)
	}

	if err := e.queue.Add(ctx, scheduler.QueueFollowup, []byte(job.ID), scheduler.QueueAddOptions{
		JobID:    job.ID,
		Priority: rule.Priority,
	}); err != nil {
		return fmt.Errorf("push conditional job to queue: %w", err)
	}

	lead.Status = fmt.Sprintf("condition %s:scheduled", rule.TriggerEvent)
	lead.UpdatedAt = e.clock.Now()
	if err := e.store.UpdateLead(ctx, lead); err != nil {
		return fmt.Errorf("update lead status: %w", err)
	}

	if err := scheduler.ReconcileEmailSchedule(ctx, e.store, lead.ID); err != nil {
		return fmt.Errorf("reconcile email schedule: %w", err)
	}

	metrics.Get().RecordConditionalTrigger()
	return nil
}

// pausePendingFollowups sets every active followup job to paused
// (never cancelled — the "cancel" naming in spec.md §4.7 describes a
// pause that auto-resumes). Initial, other conditional, and manual
// jobs are untouched by this step.
func (e *Evaluator) pausePendingFollowups(ctx context.Context, leadID string) error {
	followups, err := e.store.ListActiveJobsByCategory(ctx, leadID, types.CategoryFollowup)
	if err != nil {
		return err
	}
	for _, job := range followups {
		job.Status = string(rulebook.StatusPaused)
		job.PausedReason = "priority_paused"
		job.UpdatedAt = e.clock.Now()
		if err := e.store.UpdateJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}
