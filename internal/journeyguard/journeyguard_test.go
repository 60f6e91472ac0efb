package journeyguard

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sequencehq/engine/internal/distlock"
	"github.com/sequencehq/engine/internal/types"
)

type fakeStore struct {
	activeJobs  []types.Job
	sameTypeJob []types.Job
}

func (f *fakeStore) ListActiveJobsForLead(ctx context.Context, leadID string, excludeJobID string) ([]types.Job, error) {
	return f.activeJobs, nil
}

func (f *fakeStore) ListJobsByTypeForLead(ctx context.Context, leadID, jobType string) ([]types.Job, error) {
	return f.sameTypeJob, nil
}

func newLocker(t *testing.T) *distlock.Locker {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	return distlock.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)
}

func TestTryReserve_AllowsWhenClear(t *testing.T) {
	g := New(newLocker(t), &fakeStore{})
	attempt, err := g.TryReserve(context.Background(), "lead1", "Initial Email", "instance-a", false)
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}
	if !attempt.Allowed {
		t.Fatalf("expected allowed, got reason: %s", attempt.Reason)
	}
	attempt.Release(context.Background())
}

func TestTryReserve_RejectsDuplicateType(t *testing.T) {
	store := &fakeStore{sameTypeJob: []types.Job{{ID: "j1", Status: "pending"}}}
	g := New(newLocker(t), store)
	attempt, err := g.TryReserve(context.Background(), "lead1", "Initial Email", "instance-a", false)
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}
	if attempt.Allowed {
		t.Fatal("expected duplicate (lead, type) job to be rejected")
	}
}

func TestTryReserve_RejectsAnyActiveJob(t *testing.T) {
	store := &fakeStore{activeJobs: []types.Job{{ID: "j1", Status: "pending"}}}
	g := New(newLocker(t), store)
	attempt, err := g.TryReserve(context.Background(), "lead1", "First Followup", "instance-a", false)
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}
	if attempt.Allowed {
		t.Fatal("expected invariant I1 to reject a second active job of a different type")
	}
}

func TestTryReserve_SkipDuplicateCheck(t *testing.T) {
	store := &fakeStore{activeJobs: []types.Job{{ID: "j1", Status: "pending"}}}
	g := New(newLocker(t), store)
	attempt, err := g.TryReserve(context.Background(), "lead1", "First Followup", "instance-a", true)
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}
	if !attempt.Allowed {
		t.Fatal("expected skipDuplicateCheck to bypass the active-job check")
	}
}

func TestTryReserve_LockHeldReturnsNotAllowedNoError(t *testing.T) {
	locker := newLocker(t)
	locker.Acquire(context.Background(), "lead1", "other-instance")

	g := New(locker, &fakeStore{})
	attempt, err := g.TryReserve(context.Background(), "lead1", "Initial Email", "instance-a", false)
	if err != nil {
		t.Fatalf("expected no error when lock is held, got: %v", err)
	}
	if attempt.Allowed {
		t.Fatal("expected not allowed when lock is held by another instance")
	}
}
