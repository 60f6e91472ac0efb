package rulebook

import (
	"context"
	"testing"

	"github.com/sequencehq/engine/internal/types"
)

type fakeActionStore struct {
	jobs  map[string]types.Job
	leads map[string]types.Lead
}

func newFakeActionStore() *fakeActionStore {
	return &fakeActionStore{jobs: map[string]types.Job{}, leads: map[string]types.Lead{}}
}

func (s *fakeActionStore) GetJob(ctx context.Context, jobID string) (types.Job, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return types.Job{}, context.Canceled
	}
	return j, nil
}

func (s *fakeActionStore) UpdateJob(ctx context.Context, job types.Job) error {
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeActionStore) ListActiveJobsForLead(ctx context.Context, leadID string, excludeJobID string) ([]types.Job, error) {
	var out []types.Job
	for _, j := range s.jobs {
		if j.LeadID != leadID || j.ID == excludeJobID {
			continue
		}
		if IsActive(Status(j.Status)) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *fakeActionStore) ListJobsByStatusForLead(ctx context.Context, leadID string, status string) ([]types.Job, error) {
	var out []types.Job
	for _, j := range s.jobs {
		if j.LeadID == leadID && j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *fakeActionStore) GetLead(ctx context.Context, leadID string) (types.Lead, error) {
	l, ok := s.leads[leadID]
	if !ok {
		return types.Lead{}, context.Canceled
	}
	return l, nil
}

func (s *fakeActionStore) UpdateLead(ctx context.Context, lead types.Lead) error {
	s.leads[lead.ID] = lead
	return nil
}

func TestExecuteCancelJob(t *testing.T) {
	store := newFakeActionStore()
	store.jobs["j1"] = types.Job{ID: "j1", LeadID: "lead1", Type: "Initial Email", Status: string(StatusPending)}

	if err := ExecuteCancelJob(context.Background(), store, "j1", "user requested", true); err != nil {
		t.Fatalf("ExecuteCancelJob: %v", err)
	}
	if store.jobs["j1"].Status != string(StatusCancelled) {
		t.Errorf("expected cancelled, got %s", store.jobs["j1"].Status)
	}
}

func TestExecuteCancelJob_RejectsFollowup(t *testing.T) {
	store := newFakeActionStore()
	store.jobs["j1"] = types.Job{ID: "j1", LeadID: "lead1", Type: "First Followup", Status: string(StatusPending)}

	if err := ExecuteCancelJob(context.Background(), store, "j1", "nope", false); err == nil {
		t.Fatal("expected error cancelling a followup")
	}
}

func TestExecuteSkipJob(t *testing.T) {
	store := newFakeActionStore()
	store.jobs["j1"] = types.Job{ID: "j1", LeadID: "lead1", Type: "Second Followup", Status: string(StatusPending)}

	if err := ExecuteSkipJob(context.Background(), store, "j1", "lead asked to skip"); err != nil {
		t.Fatalf("ExecuteSkipJob: %v", err)
	}
	if store.jobs["j1"].Status != string(StatusSkipped) {
		t.Errorf("expected skipped, got %s", store.jobs["j1"].Status)
	}
}

func TestPauseAndResumeLowerPriorityJobs(t *testing.T) {
	store := newFakeActionStore()
	store.leads["lead1"] = types.Lead{ID: "lead1"}
	store.jobs["followup1"] = types.Job{ID: "followup1", LeadID: "lead1", Type: "First Followup", Status: string(StatusScheduled)}
	store.jobs["manual1"] = types.Job{ID: "manual1", LeadID: "lead1", Type: "manual", Status: string(StatusPending)}

	if err := PauseLowerPriorityJobs(context.Background(), store, "lead1", "manual"); err != nil {
		t.Fatalf("PauseLowerPriorityJobs: %v", err)
	}
	if store.jobs["followup1"].Status != string(StatusPaused) {
		t.Errorf("expected followup paused, got %s", store.jobs["followup1"].Status)
	}
	if store.jobs["manual1"].Status != string(StatusPending) {
		t.Error("manual job itself should not be paused by its own scheduling")
	}

	if err := ResumePausedJobsAfter(context.Background(), store, "lead1", "manual", string(StatusSent)); err != nil {
		t.Fatalf("ResumePausedJobsAfter: %v", err)
	}
	if store.jobs["followup1"].Status != string(StatusPending) {
		t.Errorf("expected followup resumed to pending, got %s", store.jobs["followup1"].Status)
	}
}

func TestExecutePauseAndResumeFollowups(t *testing.T) {
	store := newFakeActionStore()
	store.leads["lead1"] = types.Lead{ID: "lead1"}
	store.jobs["followup1"] = types.Job{ID: "followup1", LeadID: "lead1", Type: "First Followup", Status: string(StatusScheduled)}

	if err := ExecutePauseFollowups(context.Background(), store, "lead1"); err != nil {
		t.Fatalf("ExecutePauseFollowups: %v", err)
	}
	if !store.leads["lead1"].FollowupsPaused {
		t.Error("expected lead.FollowupsPaused true")
	}
	if store.jobs["followup1"].Status != string(StatusPaused) {
		t.Error("expected followup job paused")
	}

	if err := ExecuteResumeFollowups(context.Background(), store, "lead1"); err != nil {
		t.Fatalf("ExecuteResumeFollowups: %v", err)
	}
	if store.leads["lead1"].FollowupsPaused {
		t.Error("expected lead.FollowupsPaused false after resume")
	}
	if store.jobs["followup1"].Status != string(StatusPending) {
		t.Error("expected followup job back to pending")
	}
}
