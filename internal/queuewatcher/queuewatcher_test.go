package queuewatcher

import (
	"context"
	"testing"
	"time"

	"github.com/sequencehq/engine/internal/clock"
	"github.com/sequencehq/engine/internal/rulebook"
	"github.com/sequencehq/engine/internal/types"
)

type fakeStore struct {
	jobs  map[string]types.Job
	leads map[string]types.Lead
}

func newFakeStore(jobs ...types.Job) *fakeStore {
	s := &fakeStore{jobs: map[string]types.Job{}, leads: map[string]types.Lead{}}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (f *fakeStore) GetLead(ctx context.Context, leadID string) (types.Lead, error) {
	return f.leads[leadID], nil
}

func (f *fakeStore) UpdateLead(ctx context.Context, lead types.Lead) error {
	f.leads[lead.ID] = lead
	return nil
}

func (f *fakeStore) ListActiveJobsForLead(ctx context.Context, leadID string, excludeJobID string) ([]types.Job, error) {
	var out []types.Job
	for _, j := range f.jobs {
		if j.LeadID != leadID || j.ID == excludeJobID {
			continue
		}
		if rulebook.IsActive(rulebook.Status(j.Status)) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) ListJobsByStatusForLead(ctx context.Context, leadID string, status string) ([]types.Job, error) {
	var out []types.Job
	for _, j := range f.jobs {
		if j.LeadID == leadID && j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) GetJob(ctx context.Context, jobID string) (types.Job, error) {
	return f.jobs[jobID], nil
}

func (f *fakeStore) UpdateJob(ctx context.Context, job types.Job) error {
	f.jobs[job.ID] = job
	return nil
}

type fakeQueue struct{ removed []string }

func (f *fakeQueue) Remove(ctx context.Context, jobID string) error {
	f.removed = append(f.removed, jobID)
	return nil
}

func TestRequestSchedulePermission_PausesLowerPriority(t *testing.T) {
	store := newFakeStore(types.Job{ID: "j1", LeadID: "lead1", Type: "First Followup", Status: string(rulebook.StatusPending), Metadata: types.JobMetadata{QueueJobID: "q1"}})
	queue := &fakeQueue{}
	w := New(store, queue, clock.Fixed{At: time.Now().UTC()})

	perm, err := w.RequestSchedulePermission(context.Background(), "lead1", "manual", time.Now())
	if err != nil {
		t.Fatalf("RequestSchedulePermission: %v", err)
	}
	if !perm.Allowed || len(perm.PausedJobIDs) != 1 {
		t.Fatalf("expected 1 paused job, got %+v", perm)
	}
	if store.jobs["j1"].Status != string(rulebook.StatusPaused) {
		t.Fatalf("expected j1 paused, got %s", store.jobs["j1"].Status)
	}
	if store.jobs["j1"].PausedByJobType != "manual" {
		t.Fatalf("expected pausedByJobType=manual, got %s", store.jobs["j1"].PausedByJobType)
	}
	if len(queue.removed) != 1 {
		t.Fatalf("expected queue entry removed, got %v", queue.removed)
	}
}

func TestRequestSchedulePermission_NeverPausesEqualOrHigherPriority(t *testing.T) {
	store := newFakeStore(types.Job{ID: "j1", LeadID: "lead1", Type: "manual retry", Status: string(rulebook.StatusPending)})
	w := New(store, &fakeQueue{}, clock.Fixed{At: time.Now().UTC()})

	_, err := w.RequestSchedulePermission(context.Background(), "lead1", "First Followup", time.Now())
	if err != nil {
		t.Fatalf("RequestSchedulePermission: %v", err)
	}
	if store.jobs["j1"].Status != string(rulebook.StatusPending) {
		t.Fatalf("expected manual job untouched by a lower-priority followup, got %s", store.jobs["j1"].Status)
	}
}

func TestResumePausedJobs_ResumesOnlyMatchingType(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore(
		types.Job{ID: "j1", LeadID: "lead1", Type: "First Followup", Status: string(rulebook.StatusPaused), PausedByJobType: "manual", ScheduledFor: now.Add(time.Hour)},
		types.Job{ID: "j2", LeadID: "lead1", Type: "Second Followup", Status: string(rulebook.StatusPaused), PausedByJobType: "conditional:x", ScheduledFor: now.Add(time.Hour)},
	)
	w := New(store, &fakeQueue{}, clock.Fixed{At: now})

	if err := w.ResumePausedJobs(context.Background(), "lead1", "manual"); err != nil {
		t.Fatalf("ResumePausedJobs: %v", err)
	}
	if store.jobs["j1"].Status != string(rulebook.StatusPending) {
		t.Fatalf("expected j1 resumed, got %s", store.jobs["j1"].Status)
	}
	if store.jobs["j2"].Status != string(rulebook.StatusPaused) {
		t.Fatalf("expected j2 to remain paused (different pausedByJobType), got %s", store.jobs["j2"].Status)
	}
}

func TestResumePausedJobs_RecomputesScheduledForIfPast(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore(
		types.Job{ID: "j1", LeadID: "lead1", Type: "First Followup", Status: string(rulebook.StatusPaused), PausedByJobType: "manual", ScheduledFor: now.Add(-time.Hour)},
	)
	w := New(store, &fakeQueue{}, clock.Fixed{At: now})

	if err := w.ResumePausedJobs(context.Background(), "lead1", "manual"); err != nil {
		t.Fatalf("ResumePausedJobs: %v", err)
	}
	if !store.jobs["j1"].ScheduledFor.After(now) {
		t.Fatalf("expected scheduledFor recomputed into the future, got %v", store.jobs["j1"].ScheduledFor)
	}
}

func TestManualResumeJob_BlockedByHigherPriority(t *testing.T) {
	store := newFakeStore(
		types.Job{ID: "paused1", LeadID: "lead1", Type: "First Followup", Status: string(rulebook.StatusPaused), PausedByJobType: "manual"},
		types.Job{ID: "active1", LeadID: "lead1", Type: "manual retry", Status: string(rulebook.StatusPending)},
	)
	w := New(store, &fakeQueue{}, clock.Fixed{At: time.Now().UTC()})

	res, err := w.ManualResumeJob(context.Background(), "paused1")
	if err != nil {
		t.Fatalf("ManualResumeJob: %v", err)
	}
	if res.Success {
		t.Fatal("expected manual resume to be blocked by the higher-priority manual job")
	}
	if res.BlockedBy == nil || res.BlockedBy.JobID != "active1" {
		t.Fatalf("expected blockedBy active1, got %+v", res.BlockedBy)
	}
}

func TestManualResumeJob_SucceedsAndDoesNotIncrementRetryCount(t *testing.T) {
	store := newFakeStore(
		types.Job{ID: "paused1", LeadID: "lead1", Type: "First Followup", Status: string(rulebook.StatusPaused), PausedByJobType: "manual", RetryCount: 2, ScheduledFor: time.Now().UTC().Add(time.Hour)},
	)
	w := New(store, &fakeQueue{}, clock.Fixed{At: time.Now().UTC()})

	res, err := w.ManualResumeJob(context.Background(), "paused1")
	if err != nil {
		t.Fatalf("ManualResumeJob: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if store.jobs["paused1"].RetryCount != 2 {
		t.Fatalf("expected retryCount untouched by manual resume, got %d", store.jobs["paused1"].RetryCount)
	}
}
