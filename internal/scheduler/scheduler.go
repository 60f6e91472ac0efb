package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sequencehq/engine/internal/bizhours"
	"github.com/sequencehq/engine/internal/clock"
	"github.com/sequencehq/engine/internal/journeyguard"
	"github.com/sequencehq/engine/internal/metrics"
	"github.com/sequencehq/engine/internal/ratelimit"
	"github.com/sequencehq/engine/internal/rulebook"
	"github.com/sequencehq/engine/internal/types"
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	GetLead(ctx context.Context, leadID string) (types.Lead, error)
	UpdateLead(ctx context.Context, lead types.Lead) error
	ListJobsForLead(ctx context.Context, leadID string) ([]types.Job, error)
	CreateJob(ctx context.Context, job types.Job) error
	UpdateJob(ctx context.Context, job types.Job) error
	GetSettings(ctx context.Context) (types.Settings, error)
	UpsertEmailSchedule(ctx context.Context, sched types.EmailSchedule) error

	// ClaimDueJob performs the conditional update
	// status='pending' AND id=X → 'queued' (spec.md §5) so exactly one
	// worker wins the race to enqueue a due job. Returns false if the
	// job was no longer pending (another worker already claimed it).
	ClaimDueJob(ctx context.Context, jobID string) (types.Job, bool, error)
	ListDueJobIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// The three logical durable queues (spec.md §6).
const (
	QueueEmailSend = "email-send-queue"
	QueueFollowup  = "followup-queue"
	QueueAnalytics = "analytics-queue"
)

// QueueAddOptions mirrors the durable queue's add(name, payload,
// {delay, jobId, priority}) contract (spec.md §6).
type QueueAddOptions struct {
	Delay    time.Duration
	JobID    string
	Priority int
}

// Queue is the durable-queue surface the scheduler needs.
type Queue interface {
	Add(ctx context.Context, queueName string, payload []byte, opts QueueAddOptions) error
	Remove(ctx context.Context, jobID string) error
}

// Scheduler ties the FCFS finder, sequence resolver, journey guard and
// rate limiter together to implement scheduleNextEmail/scheduleEmailJob/
// rescheduleEmailJob/moveJobToNextWorkingDay (spec.md §4.5).
type Scheduler struct {
	store   Store
	queue   Queue
	guard   *journeyguard.Guard
	limiter *ratelimit.WindowLimiter
	clock   clock.Clock

	instanceID string
}

// New creates a Scheduler.
func New(store Store, queue Queue, guard *journeyguard.Guard, limiter *ratelimit.WindowLimiter, c clock.Clock, instanceID string) *Scheduler {
	if c == nil {
		c = clock.Real{}
	}
	return &Scheduler{store: store, queue: queue, guard: guard, limiter: limiter, clock: c, instanceID: instanceID}
}

// ScheduleNextEmail implements spec.md §4.5.2. Returns (false, nil) for
// any of the ordered guard failures, which the caller treats as a
// silent no-op, not an error.
func (s *Scheduler) ScheduleNextEmail(ctx context.Context, leadID string) (bool, error) {
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return false, fmt.Errorf("scheduleNextEmail: get lead %s: %w", leadID, err)
	}
	if lead.InTerminalState() || lead.IsInFailure {
		return false, nil
	}
	if lead.FrozenUntil != nil && lead.FrozenUntil.After(s.clock.Now()) {
		return false, nil
	}
	if lead.FollowupsPaused {
		return false, nil
	}

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return false, fmt.Errorf("scheduleNextEmail: get settings: %w", err)
	}

	jobs, err := s.store.ListJobsForLead(ctx, leadID)
	if err != nil {
		return false, fmt.Errorf("scheduleNextEmail: list jobs for lead %s: %w", leadID, err)
	}

	completed := map[string]bool{}
	pending := map[string]*types.Job{}
	hasActiveManual := false
	var hasPendingNonInitial bool
	var latestSentAt *time.Time

	jobsCopy := make([]types.Job, len(jobs))
	copy(jobsCopy, jobs)
	for i := range jobsCopy {
		j := &jobsCopy[i]
		mt := rulebook.GetMailType(j.Type)

		if mt == rulebook.MailManual && rulebook.IsActive(rulebook.Status(j.Status)) {
			hasActiveManual = true
		}
		if mt == rulebook.MailInitial && rulebook.Status(j.Status) != rulebook.StatusCancelled && rulebook.Status(j.Status) != rulebook.StatusFailed {
			completed["__initial__"] = true
		}
		if rulebook.IsActive(rulebook.Status(j.Status)) {
			pending[j.Type] = j
			if mt == rulebook.MailFollowup {
				hasPendingNonInitial = true
			}
		}
		if rulebook.Status(j.Status) == rulebook.StatusSent || rulebook.Status(j.Status) == rulebook.StatusDelivered ||
			rulebook.Status(j.Status) == rulebook.StatusOpened || rulebook.Status(j.Status) == rulebook.StatusClicked {
			if j.SentAt != nil && (latestSentAt == nil || j.SentAt.After(*latestSentAt)) {
				latestSentAt = j.SentAt
			}
			completed[j.Type] = true
		}
	}

	if hasActiveManual {
		return false, nil
	}
	if hasPendingNonInitial {
		return false, nil
	}

	jobByStep := func(step string) *types.Job { return pending[step] }

	var sequence []types.FollowupDef
	for _, f := range settings.Followups {
		if !f.Enabled || lead.HasSkipped(f.Name) {
			continue
		}
		sequence = append(sequence, f)
	}

	walk, err := WalkSequence(sequence, map[string]bool{}, completed, jobByStep, exprVars(lead, jobByStep))
	if err != nil {
		return false, fmt.Errorf("scheduleNextEmail: walk sequence for lead %s: %w", leadID, err)
	}
	for _, skipped := range walk.SkippedSteps {
		job := types.Job{
			ID:             uuid.NewString(),
			LeadID:         leadID,
			Type:           skipped.Name,
			Category:       types.CategoryFollowup,
			Status:         string(rulebook.StatusSkipped),
			IdempotencyKey: uuid.NewString(),
			CreatedAt:      s.clock.Now(),
			UpdatedAt:      s.clock.Now(),
		}
		if err := s.store.CreateJob(ctx, job); err != nil {
			return false, fmt.Errorf("scheduleNextEmail: materialize skipped step %s: %w", skipped.Name, err)
		}
	}

	if walk.StepToSchedule == nil {
		return false, nil
	}
	step := *walk.StepToSchedule

	if step.Condition != nil && step.Condition.Type != types.CondAlways && step.Condition.Type != "" {
		// Priority override: a met conditional step outranks any
		// already-pending unconditional step later in the sequence.
		var pastChosen bool
		for _, later := range sequence {
			if !pastChosen {
				if later.Name == step.Name {
					pastChosen = true
				}
				continue
			}
			laterJob := pending[later.Name]
			if laterJob == nil || laterJob.Condition != nil {
				continue
			}
			laterJob.Status = string(rulebook.StatusCancelled)
			laterJob.UpdatedAt = s.clock.Now()
			if err := s.store.UpdateJob(ctx, *laterJob); err != nil {
				return false, fmt.Errorf("scheduleNextEmail: cancel superseded step %s: %w", later.Name, err)
			}
		}
	}

	baseTime := s.clock.Now()
	if latestSentAt != nil {
		baseTime = *latestSentAt
	}
	targetTime := baseTime.Add(time.Duration(step.DelayDays * float64(24*time.Hour)))
	if s.clock.Now().After(targetTime) {
		targetTime = s.clock.Now()
	}
	targetLocal := clock.InZone(targetTime, lead.Timezone)
	targetTime = time.Date(targetLocal.Year(), targetLocal.Month(), targetLocal.Day(), settings.BusinessHours.StartHour, 0, 0, 0, targetLocal.Location())

	slot, err := FindSlot(ctx, s.clock, s.limiter, lead.Timezone, targetTime, settings)
	if err != nil {
		return false, err
	}

	if err := s.ScheduleEmailJob(ctx, lead, step.Name, types.CategoryFollowup, step.Condition, slot, false); err != nil {
		return false, err
	}
	return true, nil
}

func exprVars(lead types.Lead, jobByStep func(string) *types.Job) map[string]any {
	return map[string]any{
		"leadScore": lead.Score,
		"tags":      lead.Tags,
	}
}

// ScheduleEmailJob implements spec.md §4.5.4: acquires the journey
// guard (unless skipDuplicateCheck), reserves a rate-limit slot walking
// forward on contention, writes the Job, reconciles EmailSchedule and
// updates the lead's displayed status.
func (s *Scheduler) ScheduleEmailJob(ctx context.Context, lead types.Lead, jobType string, category types.MailCategory, cond *types.Condition, targetTime time.Time, skipDuplicateCheck bool) error {
	attempt, err := s.guard.TryReserve(ctx, lead.ID, jobType, s.instanceID, skipDuplicateCheck)
	if err != nil {
		return fmt.Errorf("scheduleEmailJob: %w", err)
	}
	if !attempt.Allowed {
		return nil
	}
	defer attempt.Release(ctx)

	const maxReserveAttempts = 100
	slot := targetTime
	var reserved bool
	for i := 0; i < maxReserveAttempts; i++ {
		res, err := s.limiter.ReserveSlot(ctx, lead.Timezone, slot)
		if err != nil {
			return fmt.Errorf("scheduleEmailJob: reserve slot: %w", err)
		}
		if res.Success {
			slot = res.ReservedTime
			reserved = true
			break
		}
		slot = res.NextWindow
	}
	if !reserved {
		metrics.Get().RecordNoSlotFound()
		return ErrNoSlotFound{SearchedUntil: slot}
	}

	visibleStatus := "scheduled"
	storedStatus := string(rulebook.StatusPending)

	job := types.Job{
		ID:             uuid.NewString(),
		LeadID:         lead.ID,
		Type:           jobType,
		Category:       category,
		Status:         storedStatus,
		ScheduledFor:   slot,
		Condition:      cond,
		IdempotencyKey: uuid.NewString(),
		Metadata:       types.JobMetadata{Timezone: lead.Timezone},
		CreatedAt:      s.clock.Now(),
		UpdatedAt:      s.clock.Now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("scheduleEmailJob: create job: %w", err)
	}

	lead.Status = fmt.Sprintf("%s:%s", jobType, visibleStatus)
	lead.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateLead(ctx, lead); err != nil {
		return fmt.Errorf("scheduleEmailJob: update lead status: %w", err)
	}

	if err := ReconcileEmailSchedule(ctx, s.store, lead.ID); err != nil {
		return fmt.Errorf("scheduleEmailJob: reconcile email schedule: %w", err)
	}

	metrics.Get().RecordScheduled()
	return nil
}

// RescheduleEmailJob implements spec.md §4.5.5: used for soft bounce,
// deferred and manual-retry-with-delay paths.
func (s *Scheduler) RescheduleEmailJob(ctx context.Context, oldJob types.Job, lead types.Lead, delay time.Duration) error {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("rescheduleEmailJob: get settings: %w", err)
	}

	target := s.clock.Now().Add(delay)
	slot, err := FindSlot(ctx, s.clock, s.limiter, lead.Timezone, target, settings)
	if err != nil {
		return err
	}

	newJob := types.Job{
		ID:             uuid.NewString(),
		LeadID:         lead.ID,
		Type:           oldJob.Type,
		Category:       oldJob.Category,
		Status:         string(rulebook.StatusPending),
		ScheduledFor:   slot,
		RetryCount:     oldJob.RetryCount + 1,
		Condition:      oldJob.Condition,
		IdempotencyKey: uuid.NewString(),
		Metadata:       types.JobMetadata{Timezone: lead.Timezone, OriginalJobID: oldJob.ID},
		CreatedAt:      s.clock.Now(),
		UpdatedAt:      s.clock.Now(),
	}

	if err := s.ScheduleEmailJob(ctx, lead, newJob.Type, newJob.Category, newJob.Condition, slot, true); err != nil {
		return fmt.Errorf("rescheduleEmailJob: schedule replacement: %w", err)
	}

	oldJob.Status = string(rulebook.StatusRescheduled)
	oldJob.Metadata.RescheduledTo = newJob.ID
	oldJob.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateJob(ctx, oldJob); err != nil {
		return fmt.Errorf("rescheduleEmailJob: mark old job rescheduled: %w", err)
	}

	if err := ReconcileEmailSchedule(ctx, s.store, lead.ID); err != nil {
		return fmt.Errorf("rescheduleEmailJob: reconcile email schedule: %w", err)
	}
	return nil
}

// MoveJobToNextWorkingDay implements spec.md §4.5.6: cancel the old job
// first (so the duplicate guard doesn't block the new one), remove it
// from the queue, then schedule at the next working day's startHour.
// Restores the old job's status on failure.
func (s *Scheduler) MoveJobToNextWorkingDay(ctx context.Context, job types.Job, lead types.Lead, settings types.Settings) error {
	previousStatus := job.Status

	job.Status = string(rulebook.StatusCancelled)
	job.LastError = "Date is paused"
	job.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("moveJobToNextWorkingDay: cancel old job: %w", err)
	}
	if job.Metadata.QueueJobID != "" {
		_ = s.queue.Remove(ctx, job.Metadata.QueueJobID)
	}

	next, ok := bizhours.GetNextWorkingDay(job.ScheduledFor.AddDate(0, 0, 1), settings, settings.BusinessHours.StartHour)
	if !ok {
		job.Status = previousStatus
		job.UpdatedAt = s.clock.Now()
		_ = s.store.UpdateJob(ctx, job)
		return fmt.Errorf("moveJobToNextWorkingDay: no working day found")
	}

	if err := s.ScheduleEmailJob(ctx, lead, job.Type, job.Category, job.Condition, next, true); err != nil {
		job.Status = previousStatus
		job.UpdatedAt = s.clock.Now()
		_ = s.store.UpdateJob(ctx, job)
		return fmt.Errorf("moveJobToNextWorkingDay: reschedule: %w", err)
	}
	return nil
}

// ClaimAndEnqueueDueJobs implements the due-job claim half of spec.md
// §5: scan for jobs whose scheduledFor has arrived, win the
// pending→queued race via ClaimDueJob, then enqueue with
// jobId=idempotencyKey so the durable queue provides a second line of
// de-duplication against a worker crashing between claim and enqueue.
func (s *Scheduler) ClaimAndEnqueueDueJobs(ctx context.Context, limit int) (int, error) {
	ids, err := s.store.ListDueJobIDs(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("claimAndEnqueueDueJobs: list due jobs: %w", err)
	}

	claimed := 0
	for _, id := range ids {
		job, ok, err := s.store.ClaimDueJob(ctx, id)
		if err != nil {
			return claimed, fmt.Errorf("claimAndEnqueueDueJobs: claim job %s: %w", id, err)
		}
		if !ok {
			continue
		}

		queueName := QueueEmailSend
		if job.Category == types.CategoryFollowup || job.Category == types.CategoryConditional {
			queueName = QueueFollowup
		}
		if err := s.queue.Add(ctx, queueName, []byte(job.ID), QueueAddOptions{JobID: job.IdempotencyKey}); err != nil {
			return claimed, fmt.Errorf("claimAndEnqueueDueJobs: enqueue job %s: %w", id, err)
		}
		claimed++
	}
	return claimed, nil
}

// EmailScheduleStore is the narrow persistence surface
// ReconcileEmailSchedule needs, so callers outside this package (the
// Conditional Evaluator) can satisfy it without the rest of Store's
// heavier due-job/claim surface.
type EmailScheduleStore interface {
	ListJobsForLead(ctx context.Context, leadID string) ([]types.Job, error)
	UpsertEmailSchedule(ctx context.Context, sched types.EmailSchedule) error
}

// ReconcileEmailSchedule rebuilds a lead's EmailSchedule projection from
// its current jobs and upserts it. Called after any write that can
// change the initial/followups picture (spec.md §3, §4.5.4, §4.7 step
// 6); the projection is a cache, never the source of truth.
func ReconcileEmailSchedule(ctx context.Context, store EmailScheduleStore, leadID string) error {
	jobs, err := store.ListJobsForLead(ctx, leadID)
	if err != nil {
		return fmt.Errorf("reconcileEmailSchedule: list jobs for lead %s: %w", leadID, err)
	}

	sched := types.EmailSchedule{LeadID: leadID}
	var next *types.Job
	for i := range jobs {
		j := &jobs[i]
		mt := rulebook.GetMailType(j.Type)

		switch mt {
		case rulebook.MailInitial:
			scheduledFor := j.ScheduledFor
			sched.InitialScheduledFor = &scheduledFor
			sched.InitialStatus = j.Status
		case rulebook.MailFollowup, rulebook.MailConditional:
			sched.Followups = append(sched.Followups, types.FollowupEntry{
				Name:          j.Type,
				ScheduledFor:  j.ScheduledFor,
				Status:        j.Status,
				Order:         len(sched.Followups),
				IsConditional: mt == rulebook.MailConditional,
			})
		}

		if rulebook.IsActive(rulebook.Status(j.Status)) && (next == nil || j.ScheduledFor.Before(next.ScheduledFor)) {
			next = j
		}
	}
	if next != nil {
		scheduledFor := next.ScheduledFor
		sched.NextScheduledEmail = &scheduledFor
	}

	return store.UpsertEmailSchedule(ctx, sched)
}
