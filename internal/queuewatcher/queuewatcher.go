// Package queuewatcher implements the priority pause/resume mechanism
// (spec.md §4.6): a higher-priority mail type scheduling in displaces
// a lower-priority active job by pausing it, never cancelling it, and
// restores it once the higher-priority job completes or is manually
// resumed.
package queuewatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/sequencehq/engine/internal/clock"
	"github.com/sequencehq/engine/internal/metrics"
	"github.com/sequencehq/engine/internal/rulebook"
	"github.com/sequencehq/engine/internal/types"
)

// Queue is the durable-queue removal surface; requestSchedulePermission
// removes paused jobs' queue entries per spec.md §4.6.
type Queue interface {
	Remove(ctx context.Context, jobID string) error
}

// Store is the persistence surface the watcher needs. It is a superset
// of rulebook.Store so the watcher can delegate its pause/resume body
// to the rulebook's composite action executors.
type Store interface {
	ListActiveJobsForLead(ctx context.Context, leadID string, excludeJobID string) ([]types.Job, error)
	ListJobsByStatusForLead(ctx context.Context, leadID string, status string) ([]types.Job, error)
	GetJob(ctx context.Context, jobID string) (types.Job, error)
	UpdateJob(ctx context.Context, job types.Job) error
	GetLead(ctx context.Context, leadID string) (types.Lead, error)
	UpdateLead(ctx context.Context, lead types.Lead) error
}

// Watcher implements requestSchedulePermission/resumePausedJobs/manualResumeJob.
type Watcher struct {
	store Store
	queue Queue
	clock clock.Clock
}

// New creates a Watcher.
func New(store Store, queue Queue, c clock.Clock) *Watcher {
	if c == nil {
		c = clock.Real{}
	}
	return &Watcher{store: store, queue: queue, clock: c}
}

// Permission is the result of requestSchedulePermission.
type Permission struct {
	Allowed      bool
	PausedJobIDs []string
}

// RequestSchedulePermission pauses every active job whose mail type
// ranks strictly below mailType's priority, so the caller can proceed
// to schedule. It never blocks the caller — higher priority always
// wins — and never cancels the paused jobs. The DB-state mutation is
// the rulebook's own composite action (rulebook.PauseLowerPriorityJobs);
// the watcher adds the durable-queue removal and metrics on top.
func (w *Watcher) RequestSchedulePermission(ctx context.Context, leadID string, mailType string, requestedTime time.Time) (Permission, error) {
	incomingPriority := rulebook.GetMailTypePriority(rulebook.GetMailType(mailType))

	active, err := w.store.ListActiveJobsForLead(ctx, leadID, "")
	if err != nil {
		return Permission{}, fmt.Errorf("requestSchedulePermission: list active jobs for lead %s: %w", leadID, err)
	}
	var displaced []types.Job
	for _, job := range active {
		if rulebook.GetMailTypePriority(rulebook.GetMailType(job.Type)) < incomingPriority {
			displaced = append(displaced, job)
		}
	}

	if err := rulebook.PauseLowerPriorityJobs(ctx, w.store, leadID, mailType); err != nil {
		return Permission{}, fmt.Errorf("requestSchedulePermission: pause lower priority jobs for lead %s: %w", leadID, err)
	}

	var paused []string
	for _, job := range displaced {
		if job.Metadata.QueueJobID != "" {
			_ = w.queue.Remove(ctx, job.Metadata.QueueJobID)
		}
		metrics.Get().RecordPaused()
		paused = append(paused, job.ID)
	}

	return Permission{Allowed: true, PausedJobIDs: paused}, nil
}

// ResumePausedJobs resumes every job paused specifically by
// completedMailType, as long as no currently-active job outranks it.
// Resuming recomputes scheduledFor to now+30min if it fell in the past
// while paused (spec.md §4.6). Delegates the resume body to the
// rulebook's own composite action (rulebook.ResumePausedJobsAfter); the
// watcher only adds its metrics on top.
func (w *Watcher) ResumePausedJobs(ctx context.Context, leadID string, completedMailType string) error {
	paused, err := w.store.ListJobsByStatusForLead(ctx, leadID, string(rulebook.StatusPaused))
	if err != nil {
		return fmt.Errorf("resumePausedJobs: list paused jobs for lead %s: %w", leadID, err)
	}
	var eligible int
	for _, job := range paused {
		if job.PausedByJobType != completedMailType {
			continue
		}
		blocker, err := rulebook.FindBlockingJob(ctx, w.store, job)
		if err != nil {
			return fmt.Errorf("resumePausedJobs: %w", err)
		}
		if blocker == nil {
			eligible++
		}
	}

	if err := rulebook.ResumePausedJobsAfter(ctx, w.store, leadID, completedMailType, ""); err != nil {
		return fmt.Errorf("resumePausedJobs: %w", err)
	}
	for i := 0; i < eligible; i++ {
		metrics.Get().RecordResumed()
	}
	return nil
}

// ManualResumeResult is the outcome of ManualResumeJob.
type ManualResumeResult struct {
	Success   bool
	BlockedBy *BlockedBy
}

// BlockedBy names the job currently outranking a manual resume attempt.
type BlockedBy struct {
	Type  string
	JobID string
}

// ManualResumeJob is the user-initiated resume path: like
// ResumePausedJobs and unlike retry, it never increments retryCount. Uses the same
// rulebook.FindBlockingJob/ResumeJob primitives as ResumePausedJobs so
// the priority rule is defined in exactly one place.
func (w *Watcher) ManualResumeJob(ctx context.Context, jobID string) (ManualResumeResult, error) {
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		return ManualResumeResult{}, fmt.Errorf("manualResumeJob: get job %s: %w", jobID, err)
	}

	blocker, err := rulebook.FindBlockingJob(ctx, w.store, job)
	if err != nil {
		return ManualResumeResult{}, fmt.Errorf("manualResumeJob: %w", err)
	}
	if blocker != nil {
		return ManualResumeResult{
			Success:   false,
			BlockedBy: &BlockedBy{Type: blocker.Type, JobID: blocker.ID},
		}, nil
	}

	if err := rulebook.ResumeJob(ctx, w.store, job); err != nil {
		return ManualResumeResult{}, fmt.Errorf("manualResumeJob: resume job %s: %w", jobID, err)
	}
	metrics.Get().RecordResumed()
	return ManualResumeResult{Success: true}, nil
}
