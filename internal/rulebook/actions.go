package rulebook

import (
	"context"
	"fmt"
	"time"

	"github.com/sequencehq/engine/internal/types"
)

// Store is the subset of persistence the rulebook's composite action
// executors need. Implemented by internal/store; kept narrow here so
// the rulebook has no dependency on gorm or any driver.
type Store interface {
	GetJob(ctx context.Context, jobID string) (types.Job, error)
	UpdateJob(ctx context.Context, job types.Job) error
	ListActiveJobsForLead(ctx context.Context, leadID string, excludeJobID string) ([]types.Job, error)
	ListJobsByStatusForLead(ctx context.Context, leadID string, status string) ([]types.Job, error)
	GetLead(ctx context.Context, leadID string) (types.Lead, error)
	UpdateLead(ctx context.Context, lead types.Lead) error
}

// ExecuteCancelJob cancels a job. isManual distinguishes a user-driven
// cancel from a system one for EventHistory/logging purposes at the
// call site; the rulebook itself treats both the same way.
func ExecuteCancelJob(ctx context.Context, store Store, jobID, reason string, isManual bool) error {
	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}

	v := ValidateAction(ActionCancel, job.Type, Status(job.Status))
	if !v.Allowed {
		return fmt.Errorf("cancel job %s: %s", jobID, v.Reason)
	}

	job.Status = string(StatusCancelled)
	job.LastError = reason
	job.UpdatedAt = time.Now()
	return store.UpdateJob(ctx, job)
}

// ExecuteSkipJob skips a followup job.
func ExecuteSkipJob(ctx context.Context, store Store, jobID, reason string) error {
	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("skip job %s: %w", jobID, err)
	}

	v := ValidateAction(ActionSkip, job.Type, Status(job.Status))
	if !v.Allowed {
		return fmt.Errorf("skip job %s: %s", jobID, v.Reason)
	}

	job.Status = string(StatusSkipped)
	job.LastError = reason
	job.UpdatedAt = time.Now()
	return store.UpdateJob(ctx, job)
}

// ExecutePauseFollowups flips lead.followupsPaused on and pauses every
// active followup job for the lead.
func ExecutePauseFollowups(ctx context.Context, store Store, leadID string) error {
	lead, err := store.GetLead(ctx, leadID)
	if err != nil {
		return fmt.Errorf("pause followups for lead %s: %w", leadID, err)
	}
	if lead.FollowupsPaused {
		return nil
	}
	lead.FollowupsPaused = true
	lead.UpdatedAt = time.Now()
	if err := store.UpdateLead(ctx, lead); err != nil {
		return err
	}

	jobs, err := store.ListActiveJobsForLead(ctx, leadID, "")
	if err != nil {
		return fmt.Errorf("list active jobs for lead %s: %w", leadID, err)
	}
	for _, job := range jobs {
		if GetMailType(job.Type) != MailFollowup {
			continue
		}
		job.Status = string(StatusPaused)
		job.PausedReason = "followups paused for lead"
		job.UpdatedAt = time.Now()
		if err := store.UpdateJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteResumeFollowups flips lead.followupsPaused off and resumes
// followup jobs that were paused for that reason.
func ExecuteResumeFollowups(ctx context.Context, store Store, leadID string) error {
	lead, err := store.GetLead(ctx, leadID)
	if err != nil {
		return fmt.Errorf("resume followups for lead %s: %w", leadID, err)
	}
	if !lead.FollowupsPaused {
		return nil
	}
	lead.FollowupsPaused = false
	lead.UpdatedAt = time.Now()
	if err := store.UpdateLead(ctx, lead); err != nil {
		return err
	}

	paused, err := store.ListJobsByStatusForLead(ctx, leadID, string(StatusPaused))
	if err != nil {
		return fmt.Errorf("list paused jobs for lead %s: %w", leadID, err)
	}
	for _, job := range paused {
		if GetMailType(job.Type) != MailFollowup || job.PausedReason != "followups paused for lead" {
			continue
		}
		job.Status = string(StatusPending)
		job.PausedReason = ""
		job.UpdatedAt = time.Now()
		if err := store.UpdateJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// PauseLowerPriorityJobs pauses every other active job for leadID whose
// mail type priority is strictly lower than schedulingType's, recording
// which type caused the pause so resumePausedJobsAfter can target the
// right jobs later (spec.md §4.1's "critical" pause/resume pair).
func PauseLowerPriorityJobs(ctx context.Context, store Store, leadID string, schedulingType string) error {
	threshold := GetMailTypePriority(GetMailType(schedulingType))

	jobs, err := store.ListActiveJobsForLead(ctx, leadID, "")
	if err != nil {
		return fmt.Errorf("list active jobs for lead %s: %w", leadID, err)
	}
	for _, job := range jobs {
		if GetMailTypePriority(GetMailType(job.Type)) >= threshold {
			continue
		}
		job.Status = string(StatusPaused)
		job.PausedReason = fmt.Sprintf("paused by higher-priority %s", schedulingType)
		job.PausedByJobType = schedulingType
		job.UpdatedAt = time.Now()
		if err := store.UpdateJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// FindBlockingJob returns the active job, if any, that currently
// outranks job's own priority and therefore blocks it from resuming.
// A nil result means job is free to resume.
func FindBlockingJob(ctx context.Context, store Store, job types.Job) (*types.Job, error) {
	active, err := store.ListActiveJobsForLead(ctx, job.LeadID, job.ID)
	if err != nil {
		return nil, fmt.Errorf("find blocking job for lead %s: %w", job.LeadID, err)
	}
	priority := GetMailTypePriority(GetMailType(job.Type))
	for i := range active {
		if GetMailTypePriority(GetMailType(active[i].Type)) > priority {
			return &active[i], nil
		}
	}
	return nil, nil
}

// ResumeJob transitions a paused job back to pending, pushing
// scheduledFor 30 minutes out if it fell into the past while paused.
// Never touches retryCount: resume is distinct from retry regardless of
// whether it was triggered automatically or manually.
func ResumeJob(ctx context.Context, store Store, job types.Job) error {
	if job.ScheduledFor.Before(time.Now()) {
		job.ScheduledFor = time.Now().Add(30 * time.Minute)
	}
	job.Status = string(StatusPending)
	job.PausedReason = ""
	job.PausedByJobType = ""
	job.UpdatedAt = time.Now()
	return store.UpdateJob(ctx, job)
}

// ResumePausedJobsAfter resumes jobs that were paused by completedType
// once that job reaches a terminal/successful status, so the lower
// priority job can compete for a slot again. A job still outranked by
// another active job (FindBlockingJob) stays paused.
func ResumePausedJobsAfter(ctx context.Context, store Store, leadID, completedType, completedStatus string) error {
	paused, err := store.ListJobsByStatusForLead(ctx, leadID, string(StatusPaused))
	if err != nil {
		return fmt.Errorf("list paused jobs for lead %s: %w", leadID, err)
	}
	for _, job := range paused {
		if job.PausedByJobType != completedType {
			continue
		}
		blocker, err := FindBlockingJob(ctx, store, job)
		if err != nil {
			return err
		}
		if blocker != nil {
			continue
		}
		if err := ResumeJob(ctx, store, job); err != nil {
			return err
		}
	}
	return nil
}
