// Package dispatcher implements the Event Dispatcher & Handlers
// (spec.md §4.9): normalizes inbound provider events, deduplicates them
// against the EventStore and an in-process cache, and runs the
// per-category handler that mutates the job and, through the status
// resolver, the lead.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sequencehq/engine/internal/clock"
	"github.com/sequencehq/engine/internal/conditional"
	"github.com/sequencehq/engine/internal/metrics"
	"github.com/sequencehq/engine/internal/notify"
	"github.com/sequencehq/engine/internal/queuewatcher"
	"github.com/sequencehq/engine/internal/rulebook"
	"github.com/sequencehq/engine/internal/scheduler"
	"github.com/sequencehq/engine/internal/statusresolver"
	"github.com/sequencehq/engine/internal/types"
)

// Store is the persistence surface the dispatcher needs.
type Store interface {
	InsertEventIfNew(ctx context.Context, event types.StoredEvent) (bool, error)
	GetJob(ctx context.Context, jobID string) (types.Job, error)
	UpdateJob(ctx context.Context, job types.Job) error
	GetLead(ctx context.Context, leadID string) (types.Lead, error)
	UpdateLead(ctx context.Context, lead types.Lead) error
	ListActiveJobsForLead(ctx context.Context, leadID string, excludeJobID string) ([]types.Job, error)
	CountRecentFollowupJobsForLead(ctx context.Context, leadID string, since time.Time) (int64, error)
	GetSettings(ctx context.Context) (types.Settings, error)
}

// dedupEntry is one (eventType, aggregateID) pair held in the
// in-process cache for dedupWindow.
type dedupEntry struct {
	seenAt time.Time
}

// Dispatcher wires the event handlers together.
type Dispatcher struct {
	store      Store
	scheduler  *scheduler.Scheduler
	resolver   *statusresolver.Resolver
	evaluator  *conditional.Evaluator
	watcher    *queuewatcher.Watcher
	notifier   *notify.Client
	clockSrc   clock.Clock
	log        *logrus.Logger

	mu     sync.Mutex
	recent map[string]dedupEntry
}

// dedupWindow matches spec.md §4.9's 60s in-process dedup cache.
const dedupWindow = 60 * time.Second

// New creates a Dispatcher.
func New(store Store, sched *scheduler.Scheduler, resolver *statusresolver.Resolver, evaluator *conditional.Evaluator, watcher *queuewatcher.Watcher, notifier *notify.Client, c clock.Clock, log *logrus.Logger) *Dispatcher {
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Dispatcher{
		store:     store,
		scheduler: sched,
		resolver:  resolver,
		evaluator: evaluator,
		watcher:   watcher,
		notifier:  notifier,
		clockSrc:  c,
		log:       log,
		recent:    map[string]dedupEntry{},
	}
}

// providerNameMapping implements spec.md §6's provider-name → internal
// name translation for the inbound webhook.
var providerNameMapping = map[string]string{
	"hardBounces":  string(rulebook.StatusHardBounce),
	"invalidemail": string(rulebook.StatusInvalid),
	"deferred":     string(rulebook.StatusDeferred),
}

// NormalizeProviderEventName maps a provider's event name to the
// internal status alphabet, passing already-internal names through
// unchanged.
func NormalizeProviderEventName(providerName string) string {
	if mapped, ok := providerNameMapping[providerName]; ok {
		return mapped
	}
	return providerName
}

// Dispatch implements spec.md §4.9 steps 1-3: append-dedup, in-process
// dedup, then route to the category handler.
func (d *Dispatcher) Dispatch(ctx context.Context, event types.ProviderEvent) error {
	aggregateID := event.EmailJobID
	if aggregateID == "" {
		aggregateID = event.LeadID
	}

	isNew, err := d.store.InsertEventIfNew(ctx, types.StoredEvent{
		EventType:      event.EventType,
		AggregateID:    aggregateID,
		IdempotencyKey: uuid.NewString(),
		ReceivedAt:     d.clockSrc.Now(),
	})
	if err != nil {
		return fmt.Errorf("dispatch: insert event %s/%s: %w", event.EventType, aggregateID, err)
	}
	if !isNew {
		metrics.Get().RecordDispatcherDuplicate()
		return nil
	}

	dedupKey := event.EventType + ":" + aggregateID
	if d.seenRecently(dedupKey) {
		metrics.Get().RecordDispatcherDuplicate()
		return nil
	}

	metrics.Get().RecordDispatcherEvent()
	info := rulebook.GetEventCategory(event.EventType)
	switch info.Category {
	case rulebook.CategorySuccess:
		return d.handleSuccess(ctx, event)
	case rulebook.CategoryAutoReschedule:
		return d.handleAutoReschedule(ctx, event)
	case rulebook.CategoryFailed:
		return d.handleFailed(ctx, event)
	case rulebook.CategorySpam:
		return d.handleSpam(ctx, event)
	default:
		d.log.WithField("event_type", event.EventType).Warn("dispatch: unknown event category")
		return nil
	}
}

func (d *Dispatcher) seenRecently(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clockSrc.Now()
	for k, v := range d.recent {
		if now.Sub(v.seenAt) > dedupWindow {
			delete(d.recent, k)
		}
	}
	if entry, ok := d.recent[key]; ok && now.Sub(entry.seenAt) <= dedupWindow {
		return true
	}
	d.recent[key] = dedupEntry{seenAt: now}
	return false
}

func (d *Dispatcher) handleSuccess(ctx context.Context, event types.ProviderEvent) error {
	job, err := d.store.GetJob(ctx, event.EmailJobID)
	if err != nil {
		return fmt.Errorf("handleSuccess: get job %s: %w", event.EmailJobID, err)
	}

	job.Status = event.EventType
	job.UpdatedAt = d.clockSrc.Now()
	if event.EventType == string(rulebook.StatusSent) {
		sentAt := d.clockSrc.Now()
		job.SentAt = &sentAt
	}
	if err := d.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("handleSuccess: update job %s: %w", job.ID, err)
	}

	if err := d.applyEventEffects(ctx, job.LeadID, event.EventType); err != nil {
		return fmt.Errorf("handleSuccess: apply event effects: %w", err)
	}

	if err := d.resolver.SyncLeadStatusAfterJobChange(ctx, job.LeadID, event.EventType); err != nil {
		return fmt.Errorf("handleSuccess: sync lead status: %w", err)
	}

	switch event.EventType {
	case string(rulebook.StatusDelivered):
		if err := d.handleDelivered(ctx, job); err != nil {
			return err
		}
	case string(rulebook.StatusOpened), string(rulebook.StatusUniqueOpened), string(rulebook.StatusClicked):
		if err := d.evaluator.EvaluateTriggers(ctx, job.LeadID, event.EventType, job.Type, job.ID); err != nil {
			return fmt.Errorf("handleSuccess: evaluateTriggers: %w", err)
		}
	}
	return nil
}

// handleDelivered implements the delivered-specific auto-resume and
// idempotent scheduleNextEmail call from spec.md §4.9.
func (d *Dispatcher) handleDelivered(ctx context.Context, job types.Job) error {
	lead, err := d.store.GetLead(ctx, job.LeadID)
	if err != nil {
		return fmt.Errorf("handleDelivered: get lead %s: %w", job.LeadID, err)
	}

	mt := rulebook.GetMailType(job.Type)
	if (mt == rulebook.MailConditional || mt == rulebook.MailManual) && lead.FollowupsPaused {
		lead.FollowupsPaused = false
		lead.UpdatedAt = d.clockSrc.Now()
		if err := d.store.UpdateLead(ctx, lead); err != nil {
			return fmt.Errorf("handleDelivered: clear followupsPaused: %w", err)
		}
		if err := d.watcher.ResumePausedJobs(ctx, lead.ID, job.Type); err != nil {
			return fmt.Errorf("handleDelivered: resume paused jobs: %w", err)
		}
	}

	recent, err := d.store.CountRecentFollowupJobsForLead(ctx, lead.ID, d.clockSrc.Now().Add(-120*time.Second))
	if err != nil {
		return fmt.Errorf("handleDelivered: count recent followups: %w", err)
	}
	if recent > 0 {
		return nil
	}

	if _, err := d.scheduler.ScheduleNextEmail(ctx, lead.ID); err != nil {
		return fmt.Errorf("handleDelivered: scheduleNextEmail: %w", err)
	}
	return nil
}

// handleAutoReschedule implements the soft_bounce/deferred path.
func (d *Dispatcher) handleAutoReschedule(ctx context.Context, event types.ProviderEvent) error {
	job, err := d.store.GetJob(ctx, event.EmailJobID)
	if err != nil {
		return fmt.Errorf("handleAutoReschedule: get job %s: %w", event.EmailJobID, err)
	}
	settings, err := d.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("handleAutoReschedule: get settings: %w", err)
	}

	if rulebook.ShouldMarkAsDead(localRetrySettings(settings), job.Type, event.EventType, job.RetryCount) {
		return d.markDead(ctx, job.LeadID, fmt.Sprintf("%s retry limit exceeded on %s", event.EventType, job.Type))
	}

	lead, err := d.store.GetLead(ctx, job.LeadID)
	if err != nil {
		return fmt.Errorf("handleAutoReschedule: get lead %s: %w", job.LeadID, err)
	}

	delay := rulebook.CalculateRetryDelay(job.RetryCount)
	if settings.Retry.SoftBounceDelayHours > 0 {
		delay = time.Duration(settings.Retry.SoftBounceDelayHours) * time.Hour
	}
	if err := d.scheduler.RescheduleEmailJob(ctx, job, lead, delay); err != nil {
		_ = d.notifier.Notify(ctx, types.Notification{
			ID:        uuid.NewString(),
			LeadID:    job.LeadID,
			JobID:     job.ID,
			Kind:      notify.KindRescheduleFailed,
			Message:   fmt.Sprintf("rescheduleEmailJob failed for job %s: %v", job.ID, err),
			CreatedAt: d.clockSrc.Now(),
		})
		return fmt.Errorf("handleAutoReschedule: rescheduleEmailJob: %w", err)
	}

	job.Status = event.EventType
	job.UpdatedAt = d.clockSrc.Now()
	if err := d.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("handleAutoReschedule: mark old job %s: %w", job.ID, err)
	}

	if err := d.applyEventEffects(ctx, job.LeadID, event.EventType); err != nil {
		return fmt.Errorf("handleAutoReschedule: apply event effects: %w", err)
	}

	return d.resolver.SyncLeadStatusAfterJobChange(ctx, job.LeadID, event.EventType)
}

// handleFailed implements hard_bounce/blocked/invalid/error.
func (d *Dispatcher) handleFailed(ctx context.Context, event types.ProviderEvent) error {
	job, err := d.store.GetJob(ctx, event.EmailJobID)
	if err != nil {
		return fmt.Errorf("handleFailed: get job %s: %w", event.EmailJobID, err)
	}

	job.Status = event.EventType
	job.LastError = fmt.Sprintf("Paused due to %s on %s", event.EventType, job.Type)
	job.UpdatedAt = d.clockSrc.Now()
	if err := d.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("handleFailed: update job %s: %w", job.ID, err)
	}

	active, err := d.store.ListActiveJobsForLead(ctx, job.LeadID, job.ID)
	if err != nil {
		return fmt.Errorf("handleFailed: list active jobs for lead %s: %w", job.LeadID, err)
	}
	for _, other := range active {
		other.Status = string(rulebook.StatusPaused)
		other.PausedReason = job.LastError
		other.UpdatedAt = d.clockSrc.Now()
		if err := d.store.UpdateJob(ctx, other); err != nil {
			return fmt.Errorf("handleFailed: pause job %s: %w", other.ID, err)
		}
	}

	if err := d.applyEventEffects(ctx, job.LeadID, event.EventType); err != nil {
		return fmt.Errorf("handleFailed: apply event effects: %w", err)
	}

	_ = d.notifier.Notify(ctx, types.Notification{
		ID:        uuid.NewString(),
		LeadID:    job.LeadID,
		JobID:     job.ID,
		Kind:      notify.KindManualRetryNeeded,
		Message:   fmt.Sprintf("job %s failed with %s and needs manual attention", job.ID, event.EventType),
		CreatedAt: d.clockSrc.Now(),
	})

	settings, err := d.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("handleFailed: get settings: %w", err)
	}
	if rulebook.ShouldMarkAsDead(localRetrySettings(settings), job.Type, event.EventType, job.RetryCount) {
		return d.markDead(ctx, job.LeadID, fmt.Sprintf("%s on %s exceeded retry limit", event.EventType, job.Type))
	}

	return d.resolver.SyncLeadStatusAfterJobChange(ctx, job.LeadID, event.EventType)
}

// handleSpam implements unsubscribed/complaint.
func (d *Dispatcher) handleSpam(ctx context.Context, event types.ProviderEvent) error {
	job, err := d.store.GetJob(ctx, event.EmailJobID)
	if err != nil {
		return fmt.Errorf("handleSpam: get job %s: %w", event.EmailJobID, err)
	}
	job.Status = event.EventType
	job.UpdatedAt = d.clockSrc.Now()
	if err := d.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("handleSpam: update job %s: %w", job.ID, err)
	}

	lead, err := d.store.GetLead(ctx, job.LeadID)
	if err != nil {
		return fmt.Errorf("handleSpam: get lead %s: %w", job.LeadID, err)
	}
	if event.EventType == string(rulebook.StatusUnsubscribed) {
		lead.TerminalState = types.TerminalUnsubscribed
	} else {
		lead.TerminalState = types.TerminalComplaint
	}
	terminalAt := d.clockSrc.Now()
	lead.TerminalStateAt = &terminalAt
	lead.Score += rulebook.GetEventCategory(event.EventType).ScoreAdjustment
	lead.UpdatedAt = d.clockSrc.Now()
	if err := d.store.UpdateLead(ctx, lead); err != nil {
		return fmt.Errorf("handleSpam: update lead %s: %w", lead.ID, err)
	}

	if err := d.cancelAllActiveJobs(ctx, lead.ID, fmt.Sprintf("lead marked %s", event.EventType)); err != nil {
		return err
	}

	_ = d.notifier.Notify(ctx, types.Notification{
		ID:        uuid.NewString(),
		LeadID:    lead.ID,
		JobID:     job.ID,
		Kind:      notify.KindLeadComplaint,
		Message:   fmt.Sprintf("lead %s marked %s", lead.ID, event.EventType),
		CreatedAt: d.clockSrc.Now(),
	})

	return d.resolver.SyncLeadStatusAfterJobChange(ctx, lead.ID, event.EventType)
}

// applyEventEffects increments the lead's engagement counters and
// applies rulebook.GetEventCategory's ScoreAdjustment for eventType
// (spec.md §4.9's "mark job opened/clicked... increment counter" step).
// Called from handleSuccess/handleAutoReschedule/handleFailed; handleSpam
// applies its own score adjustment inline since it already holds and
// saves the lead it needs to mutate.
func (d *Dispatcher) applyEventEffects(ctx context.Context, leadID, eventType string) error {
	lead, err := d.store.GetLead(ctx, leadID)
	if err != nil {
		return fmt.Errorf("applyEventEffects: get lead %s: %w", leadID, err)
	}

	switch eventType {
	case string(rulebook.StatusSent):
		lead.EmailsSent++
	case string(rulebook.StatusOpened), string(rulebook.StatusUniqueOpened):
		lead.EmailsOpened++
	case string(rulebook.StatusClicked):
		lead.EmailsClicked++
	case string(rulebook.StatusHardBounce), string(rulebook.StatusBlocked), string(rulebook.StatusInvalid):
		lead.EmailsBounced++
	}

	lead.Score += rulebook.GetEventCategory(eventType).ScoreAdjustment
	lead.UpdatedAt = d.clockSrc.Now()
	return d.store.UpdateLead(ctx, lead)
}

func (d *Dispatcher) markDead(ctx context.Context, leadID string, reason string) error {
	lead, err := d.store.GetLead(ctx, leadID)
	if err != nil {
		return fmt.Errorf("markDead: get lead %s: %w", leadID, err)
	}
	lead.TerminalState = types.TerminalDead
	terminalAt := d.clockSrc.Now()
	lead.TerminalStateAt = &terminalAt
	lead.TerminalReason = reason
	lead.UpdatedAt = d.clockSrc.Now()
	if err := d.store.UpdateLead(ctx, lead); err != nil {
		return fmt.Errorf("markDead: update lead %s: %w", leadID, err)
	}
	metrics.Get().RecordLeadDead()

	if err := d.cancelAllActiveJobs(ctx, leadID, reason); err != nil {
		return err
	}

	_ = d.notifier.Notify(ctx, types.Notification{
		ID:        uuid.NewString(),
		LeadID:    leadID,
		Kind:      notify.KindLeadDead,
		Message:   reason,
		CreatedAt: d.clockSrc.Now(),
	})

	return d.resolver.SyncLeadStatusAfterJobChange(ctx, leadID, reason)
}

func (d *Dispatcher) cancelAllActiveJobs(ctx context.Context, leadID string, reason string) error {
	active, err := d.store.ListActiveJobsForLead(ctx, leadID, "")
	if err != nil {
		return fmt.Errorf("cancelAllActiveJobs: list active jobs for lead %s: %w", leadID, err)
	}
	for _, job := range active {
		job.Status = string(rulebook.StatusCancelled)
		job.LastError = reason
		job.UpdatedAt = d.clockSrc.Now()
		if err := d.store.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("cancelAllActiveJobs: cancel job %s: %w", job.ID, err)
		}
	}
	return nil
}

// Resurrect is the only allowed path out of a terminal dead state
// (spec.md §4.9 state-machine notes): resets retryCount, clears
// terminalState, sets status idle.
func (d *Dispatcher) Resurrect(ctx context.Context, leadID string) error {
	lead, err := d.store.GetLead(ctx, leadID)
	if err != nil {
		return fmt.Errorf("resurrect: get lead %s: %w", leadID, err)
	}
	if lead.TerminalState != types.TerminalDead {
		return fmt.Errorf("resurrect: lead %s is not in dead state", leadID)
	}
	lead.TerminalState = types.TerminalNone
	lead.TerminalStateAt = nil
	lead.TerminalReason = ""
	lead.TotalRetries = 0
	lead.Status = "idle"
	lead.UpdatedAt = d.clockSrc.Now()
	return d.store.UpdateLead(ctx, lead)
}

// localRetrySettings adapts types.RetrySettings to rulebook's local
// RetrySettings shape (rulebook/retry.go declares its own struct rather
// than taking types.RetrySettings).
func localRetrySettings(settings types.Settings) rulebook.RetrySettings {
	return rulebook.RetrySettings{
		MaxAttempts: settings.Retry.MaxAttempts,
		PerType:     settings.Retry.PerType,
	}
}
