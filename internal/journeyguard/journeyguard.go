// Package journeyguard implements the Unique-Journey Guard (spec.md
// §4.4): serialize scheduling attempts per (leadId, type) via the
// distributed lock, then assert no duplicate/conflicting job exists
// before the caller is allowed to create one.
package journeyguard

import (
	"context"
	"fmt"

	"github.com/sequencehq/engine/internal/distlock"
	"github.com/sequencehq/engine/internal/rulebook"
	"github.com/sequencehq/engine/internal/types"
)

// Store is the subset of persistence the guard needs to check for
// existing jobs on a lead.
type Store interface {
	ListActiveJobsForLead(ctx context.Context, leadID string, excludeJobID string) ([]types.Job, error)
	ListJobsByTypeForLead(ctx context.Context, leadID, jobType string) ([]types.Job, error)
}

// Guard serializes and validates scheduling attempts.
type Guard struct {
	locker *distlock.Locker
	store  Store
}

// New creates a journey guard.
func New(locker *distlock.Locker, store Store) *Guard {
	return &Guard{locker: locker, store: store}
}

// existingNonCancelled are the statuses counted when checking for a
// duplicate (lead, type) job: the waiting and paused statuses plus sent
// and delivered. Cancelled, skipped, engagement (opened, unique_opened,
// clicked), bounce/failure and lead-terminal statuses are not counted.
var existingNonCancelled = map[rulebook.Status]bool{
	rulebook.StatusPending:     true,
	rulebook.StatusQueued:      true,
	rulebook.StatusScheduled:   true,
	rulebook.StatusRescheduled: true,
	rulebook.StatusDeferred:    true,
	rulebook.StatusPaused:      true,
	rulebook.StatusSent:        true,
	rulebook.StatusDelivered:   true,
}

// Attempt result from TryReserve.
type Attempt struct {
	Allowed bool
	Reason  string
	Release func(ctx context.Context)
}

// TryReserve acquires the per-lead lock and checks both the
// same-(lead,type) duplicate rule and the any-type active-job
// invariant (I1). If the lock cannot be acquired, Allowed=false with no
// error — the caller must silently return (spec.md §5). If
// skipDuplicateCheck is true (explicit retry), only the lock is
// enforced.
func (g *Guard) TryReserve(ctx context.Context, leadID, jobType, instanceID string, skipDuplicateCheck bool) (Attempt, error) {
	ok, err := g.locker.Acquire(ctx, leadID, instanceID)
	if err != nil {
		return Attempt{}, fmt.Errorf("journeyguard: acquire lock for lead %s: %w", leadID, err)
	}
	if !ok {
		return Attempt{Allowed: false, Reason: "lock held by another worker"}, nil
	}

	release := func(ctx context.Context) { _ = g.locker.Release(ctx, leadID, instanceID) }

	if skipDuplicateCheck {
		return Attempt{Allowed: true, Release: release}, nil
	}

	sameType, err := g.store.ListJobsByTypeForLead(ctx, leadID, jobType)
	if err != nil {
		release(ctx)
		return Attempt{}, fmt.Errorf("journeyguard: list jobs by type for lead %s: %w", leadID, err)
	}
	for _, job := range sameType {
		if existingNonCancelled[rulebook.Status(job.Status)] {
			release(ctx)
			return Attempt{Allowed: false, Reason: "duplicate job for same (lead, type)"}, nil
		}
	}

	active, err := g.store.ListActiveJobsForLead(ctx, leadID, "")
	if err != nil {
		release(ctx)
		return Attempt{}, fmt.Errorf("journeyguard: list active jobs for lead %s: %w", leadID, err)
	}
	if len(active) > 0 {
		release(ctx)
		return Attempt{Allowed: false, Reason: "lead already has an active job (I1)"}, nil
	}

	return Attempt{Allowed: true, Release: release}, nil
}
