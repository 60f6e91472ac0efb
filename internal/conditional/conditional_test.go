package conditional

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sequencehq/engine/internal/clock"
	"github.com/sequencehq/engine/internal/distlock"
	"github.com/sequencehq/engine/internal/journeyguard"
	"github.com/sequencehq/engine/internal/ratelimit"
	"github.com/sequencehq/engine/internal/rulebook"
	"github.com/sequencehq/engine/internal/scheduler"
	"github.com/sequencehq/engine/internal/types"
)

type fakeStore struct {
	rules    []types.ConditionalEmail
	existing map[string]*types.Job
	leads    map[string]types.Lead
	jobs     []types.Job
	settings types.Settings
	active   map[types.MailCategory][]types.Job
}

func (f *fakeStore) ListEnabledConditionalEmails(ctx context.Context, triggerEvent, triggerStep string) ([]types.ConditionalEmail, error) {
	var out []types.ConditionalEmail
	for _, r := range f.rules {
		if r.Enabled && r.TriggerEvent == triggerEvent && r.TriggerStep == triggerStep {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeStore) FindConditionalJob(ctx context.Context, leadID, ruleName string) (*types.Job, error) {
	return f.existing[ruleName], nil
}
func (f *fakeStore) ListActiveJobsByCategory(ctx context.Context, leadID string, category types.MailCategory) ([]types.Job, error) {
	return f.active[category], nil
}
func (f *fakeStore) GetLead(ctx context.Context, leadID string) (types.Lead, error) {
	return f.leads[leadID], nil
}
func (f *fakeStore) UpdateLead(ctx context.Context, lead types.Lead) error {
	f.leads[lead.ID] = lead
	return nil
}
func (f *fakeStore) CreateJob(ctx context.Context, job types.Job) error {
	f.jobs = append(f.jobs, job)
	return nil
}
func (f *fakeStore) UpdateJob(ctx context.Context, job types.Job) error {
	for cat, jobs := range f.active {
		for i := range jobs {
			if jobs[i].ID == job.ID {
				f.active[cat][i] = job
				return nil
			}
		}
	}
	for i := range f.jobs {
		if f.jobs[i].ID == job.ID {
			f.jobs[i] = job
			return nil
		}
	}
	return nil
}
func (f *fakeStore) GetSettings(ctx context.Context) (types.Settings, error) {
	return f.settings, nil
}
func (f *fakeStore) ListJobsForLead(ctx context.Context, leadID string) ([]types.Job, error) {
	return f.allActiveJobs(leadID), nil
}
func (f *fakeStore) UpsertEmailSchedule(ctx context.Context, sched types.EmailSchedule) error {
	return nil
}

// allActiveJobs aggregates every active job across both the
// by-category active fixture and jobs created during the test run, for
// the journey guard's any-type check (I1).
func (f *fakeStore) allActiveJobs(leadID string) []types.Job {
	var out []types.Job
	for _, jobs := range f.active {
		for _, j := range jobs {
			if j.LeadID == leadID && rulebook.IsActive(rulebook.Status(j.Status)) {
				out = append(out, j)
			}
		}
	}
	for _, j := range f.jobs {
		if j.LeadID == leadID && rulebook.IsActive(rulebook.Status(j.Status)) {
			out = append(out, j)
		}
	}
	return out
}

// storeAsGuard adapts fakeStore to journeyguard.Store.
type storeAsGuard struct{ s *fakeStore }

func (a storeAsGuard) ListActiveJobsForLead(ctx context.Context, leadID, excludeJobID string) ([]types.Job, error) {
	var out []types.Job
	for _, j := range a.s.allActiveJobs(leadID) {
		if j.ID == excludeJobID {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (a storeAsGuard) ListJobsByTypeForLead(ctx context.Context, leadID, jobType string) ([]types.Job, error) {
	var out []types.Job
	for _, j := range a.s.allActiveJobs(leadID) {
		if j.Type == jobType {
			out = append(out, j)
		}
	}
	return out, nil
}

func newTestGuard(t *testing.T, fs *fakeStore) *journeyguard.Guard {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := distlock.New(client, nil)
	return journeyguard.New(locker, storeAsGuard{s: fs})
}

type fakeQueue struct {
	added []string
}

func (f *fakeQueue) Add(ctx context.Context, queueName string, payload []byte, opts scheduler.QueueAddOptions) error {
	f.added = append(f.added, queueName)
	return nil
}

type fakeWindowStore struct{}

func (fakeWindowStore) CountInProgressInWindow(ctx context.Context, windowStart, windowEnd time.Time) (int64, error) {
	return 0, nil
}

func newTestLimiter(t *testing.T) *ratelimit.WindowLimiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return ratelimit.NewWindowLimiter(client, fakeWindowStore{}, 15, 0, nil)
}

func TestEvaluateTriggers_CreatesJobAndSetsLeadStatus(t *testing.T) {
	store := &fakeStore{
		rules: []types.ConditionalEmail{
			{Name: "nudge", TriggerEvent: "opened", TriggerStep: "First Followup", DelayHours: 1, Enabled: true, Priority: 50},
		},
		existing: map[string]*types.Job{},
		leads:    map[string]types.Lead{"lead1": {ID: "lead1", Timezone: "UTC"}},
		settings: types.Settings{BusinessHours: types.BusinessHoursSettings{StartHour: 9, EndHour: 17}},
	}
	queue := &fakeQueue{}
	e := New(store, queue, newTestLimiter(t), newTestGuard(t, store), clock.Fixed{At: time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)}, "instance-a")

	if err := e.EvaluateTriggers(context.Background(), "lead1", "opened", "First Followup", "job1"); err != nil {
		t.Fatalf("EvaluateTriggers: %v", err)
	}

	if len(store.jobs) != 1 {
		t.Fatalf("expected 1 conditional job created, got %d", len(store.jobs))
	}
	if store.jobs[0].Type != "conditional:nudge" {
		t.Fatalf("expected type conditional:nudge, got %s", store.jobs[0].Type)
	}
	if store.leads["lead1"].Status != "condition opened:scheduled" {
		t.Fatalf("expected lead status 'condition opened:scheduled', got %s", store.leads["lead1"].Status)
	}
	if len(queue.added) != 1 {
		t.Fatalf("expected 1 queue push, got %d", len(queue.added))
	}
}

func TestEvaluateTriggers_SkipsDuplicateRule(t *testing.T) {
	store := &fakeStore{
		rules: []types.ConditionalEmail{
			{Name: "nudge", TriggerEvent: "opened", TriggerStep: "First Followup", DelayHours: 1, Enabled: true},
		},
		existing: map[string]*types.Job{"nudge": {ID: "existing", Status: "pending"}},
		leads:    map[string]types.Lead{"lead1": {ID: "lead1", Timezone: "UTC"}},
		settings: types.Settings{BusinessHours: types.BusinessHoursSettings{StartHour: 9, EndHour: 17}},
	}
	queue := &fakeQueue{}
	e := New(store, queue, newTestLimiter(t), newTestGuard(t, store), clock.Fixed{At: time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)}, "instance-a")

	if err := e.EvaluateTriggers(context.Background(), "lead1", "opened", "First Followup", "job1"); err != nil {
		t.Fatalf("EvaluateTriggers: %v", err)
	}
	if len(store.jobs) != 0 {
		t.Fatalf("expected duplicate rule to be skipped, got %d jobs", len(store.jobs))
	}
}

func TestEvaluateTriggers_CancelPendingPausesFollowupsNotCancels(t *testing.T) {
	store := &fakeStore{
		rules: []types.ConditionalEmail{
			{Name: "nudge", TriggerEvent: "opened", TriggerStep: "First Followup", DelayHours: 1, Enabled: true, CancelPending: true},
		},
		existing: map[string]*types.Job{},
		leads:    map[string]types.Lead{"lead1": {ID: "lead1", Timezone: "UTC"}},
		settings: types.Settings{BusinessHours: types.BusinessHoursSettings{StartHour: 9, EndHour: 17}},
		active: map[types.MailCategory][]types.Job{
			types.CategoryFollowup: {{ID: "f1", LeadID: "lead1", Type: "Second Followup", Status: "pending"}},
		},
	}
	queue := &fakeQueue{}
	e := New(store, queue, newTestLimiter(t), newTestGuard(t, store), clock.Fixed{At: time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)}, "instance-a")

	if err := e.EvaluateTriggers(context.Background(), "lead1", "opened", "First Followup", "job1"); err != nil {
		t.Fatalf("EvaluateTriggers: %v", err)
	}
	if !store.leads["lead1"].FollowupsPaused {
		t.Fatal("expected lead.followupsPaused to be set")
	}
}

func TestEvaluateTriggers_BlockedByActiveJobOfAnotherType(t *testing.T) {
	store := &fakeStore{
		rules: []types.ConditionalEmail{
			{Name: "nudge", TriggerEvent: "opened", TriggerStep: "First Followup", DelayHours: 1, Enabled: true},
		},
		existing: map[string]*types.Job{},
		leads:    map[string]types.Lead{"lead1": {ID: "lead1", Timezone: "UTC"}},
		settings: types.Settings{BusinessHours: types.BusinessHoursSettings{StartHour: 9, EndHour: 17}},
		active: map[types.MailCategory][]types.Job{
			types.CategoryManual: {{ID: "m1", LeadID: "lead1", Type: "manual", Status: "pending"}},
		},
	}
	queue := &fakeQueue{}
	e := New(store, queue, newTestLimiter(t), newTestGuard(t, store), clock.Fixed{At: time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)}, "instance-a")

	if err := e.EvaluateTriggers(context.Background(), "lead1", "opened", "First Followup", "job1"); err != nil {
		t.Fatalf("EvaluateTriggers: %v", err)
	}
	if len(store.jobs) != 0 {
		t.Fatalf("expected journey guard to block the conditional job while a manual job is active, got %d jobs", len(store.jobs))
	}
}
