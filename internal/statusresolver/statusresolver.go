// Package statusresolver implements the Status Resolver (spec.md
// §4.8): recomputes lead.status from the current job set and a small
// forced-state table. Engagement events never write lead.status
// directly — their job mutations are followed by
// SyncLeadStatusAfterJobChange. The scheduler and the conditional
// evaluator also write a "{type}:scheduled" / "condition {event}:scheduled"
// status when they create a job, and the dispatcher's Resurrect sets
// "idle".
package statusresolver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sequencehq/engine/internal/clock"
	"github.com/sequencehq/engine/internal/rulebook"
	"github.com/sequencehq/engine/internal/types"
)

// Store is the persistence surface the resolver needs.
type Store interface {
	GetLead(ctx context.Context, leadID string) (types.Lead, error)
	UpdateLead(ctx context.Context, lead types.Lead) error
	ListJobsForLead(ctx context.Context, leadID string) ([]types.Job, error)
	GetSettings(ctx context.Context) (types.Settings, error)
}

// Resolver implements resolveLeadStatus / syncLeadStatusAfterJobChange.
type Resolver struct {
	store Store
	clock clock.Clock
}

// New creates a Resolver.
func New(store Store, c clock.Clock) *Resolver {
	if c == nil {
		c = clock.Real{}
	}
	return &Resolver{store: store, clock: c}
}

// ResolveLeadStatus implements the priority table and five-step
// process of spec.md §4.8, returning the computed display status
// without writing it.
func (r *Resolver) ResolveLeadStatus(ctx context.Context, leadID string) (string, error) {
	lead, err := r.store.GetLead(ctx, leadID)
	if err != nil {
		return "", fmt.Errorf("resolveLeadStatus: get lead %s: %w", leadID, err)
	}

	// Step 1: forced states never get recomputed away.
	if lead.Status == "converted" {
		return "converted", nil
	}
	if lead.TerminalState == types.TerminalUnsubscribed {
		return "unsubscribed", nil
	}
	if lead.TerminalState == types.TerminalComplaint {
		return "complaint", nil
	}
	if lead.TerminalState == types.TerminalDead {
		return "dead", nil
	}

	// Step 2: frozen window still active.
	if lead.FrozenUntil != nil && lead.FrozenUntil.After(r.clock.Now()) {
		return "frozen", nil
	}

	jobs, err := r.store.ListJobsForLead(ctx, leadID)
	if err != nil {
		return "", fmt.Errorf("resolveLeadStatus: list jobs for lead %s: %w", leadID, err)
	}

	// Step 3: earliest active job, ordered by scheduledFor ascending.
	active := make([]types.Job, 0, len(jobs))
	for _, j := range jobs {
		if rulebook.IsActive(rulebook.Status(j.Status)) {
			active = append(active, j)
		}
	}
	if len(active) > 0 {
		sort.Slice(active, func(i, j int) bool { return active[i].ScheduledFor.Before(active[j].ScheduledFor) })
		earliest := active[0]
		rescheduled := rulebook.Status(earliest.Status) == rulebook.StatusRescheduled
		visible := "scheduled"
		if rescheduled {
			visible = "rescheduled"
		}

		mt := rulebook.GetMailType(earliest.Type)
		if mt == rulebook.MailConditional {
			trigger := earliest.Metadata.TriggerEvent
			if trigger == "" {
				trigger = "unknown"
			}
			return fmt.Sprintf("condition %s:%s", trigger, visible), nil
		}
		return fmt.Sprintf("%s:%s", earliest.Type, visible), nil
	}

	// Step 4: latest successfully-sent job.
	var latest *types.Job
	for i := range jobs {
		j := &jobs[i]
		if !isSuccessfullySent(rulebook.Status(j.Status)) {
			continue
		}
		if latest == nil || sentTime(*j).After(sentTime(*latest)) {
			latest = j
		}
	}
	if latest != nil {
		settings, err := r.store.GetSettings(ctx)
		if err != nil {
			return "", fmt.Errorf("resolveLeadStatus: get settings: %w", err)
		}
		if allSequenceStepsCompleted(jobs, settings, lead) {
			return "sequence_complete", nil
		}
		return fmt.Sprintf("%s:sent", latest.Type), nil
	}

	// Step 5.
	return "idle", nil
}

func isSuccessfullySent(s rulebook.Status) bool {
	for _, ok := range rulebook.GetSuccessfullySentStatuses() {
		if ok == s {
			return true
		}
	}
	return false
}

func sentTime(j types.Job) time.Time {
	if j.SentAt != nil {
		return *j.SentAt
	}
	return j.UpdatedAt
}

func allSequenceStepsCompleted(jobs []types.Job, settings types.Settings, lead types.Lead) bool {
	done := map[string]bool{}
	for _, j := range jobs {
		if isSuccessfullySent(rulebook.Status(j.Status)) || rulebook.IsTerminal(rulebook.Status(j.Status)) {
			done[j.Type] = true
		}
	}
	for _, f := range settings.Followups {
		if !f.Enabled || lead.HasSkipped(f.Name) {
			continue
		}
		if !done[f.Name] {
			return false
		}
	}
	return true
}

// SyncLeadStatusAfterJobChange recomputes and persists lead.status.
// Called after every job mutation; reason is carried for audit logging
// only and never changes the computed result.
func (r *Resolver) SyncLeadStatusAfterJobChange(ctx context.Context, leadID string, reason string) error {
	status, err := r.ResolveLeadStatus(ctx, leadID)
	if err != nil {
		return err
	}

	lead, err := r.store.GetLead(ctx, leadID)
	if err != nil {
		return fmt.Errorf("syncLeadStatusAfterJobChange: get lead %s: %w", leadID, err)
	}
	if lead.Status == status {
		return nil
	}
	lead.Status = status
	lead.UpdatedAt = r.clock.Now()
	if err := r.store.UpdateLead(ctx, lead); err != nil {
		return fmt.Errorf("syncLeadStatusAfterJobChange: update lead %s: %w", leadID, err)
	}
	return nil
}
