package scheduler

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/sequencehq/engine/internal/types"
)

// SweepStore is the read surface the sweep needs beyond Store: finding
// the jobs due for the paused-dates migration. Kept separate from
// Store since this is a bulk scan, not a per-lead lookup.
type SweepStore interface {
	ListJobsScheduledOnPausedDates(ctx context.Context, pausedDates []string) ([]types.Job, error)
	GetLeadForJob(ctx context.Context, job types.Job) (types.Lead, error)
}

// maxDueJobsPerTick caps each claim-tick's work, per spec.md §5's
// "caps work (e.g. 500 due jobs per minute)".
const maxDueJobsPerTick = 500

// Sweep drives the two cron-triggered background passes: moving jobs
// off newly paused dates, and claiming due jobs for scheduling. The
// isProcessing flag mirrors the teacher's in-process re-entrancy guard
// so overlapping cron ticks don't double-run the paused-dates pass; the
// due-job pass has no such flag.
type Sweep struct {
	scheduler    *Scheduler
	store        Store
	sweepStore   SweepStore
	log          *logrus.Logger
	isProcessing atomic.Bool
}

// NewSweep creates a Sweep.
func NewSweep(scheduler *Scheduler, store Store, sweepStore SweepStore, log *logrus.Logger) *Sweep {
	if log == nil {
		log = logrus.New()
	}
	return &Sweep{scheduler: scheduler, store: store, sweepStore: sweepStore, log: log}
}

// Start registers both passes on the given cron instance and starts it.
// moveJobsOnPausedDates runs hourly; the due-job poll runs every minute,
// matching the teacher's schedule.go cadence for its equivalent passes.
func (s *Sweep) Start(c *cron.Cron) error {
	if _, err := c.AddFunc("@hourly", s.runMoveJobsOnPausedDates); err != nil {
		return err
	}
	if _, err := c.AddFunc("@every 1m", s.runClaimDueJobs); err != nil {
		return err
	}
	c.Start()
	return nil
}

func (s *Sweep) runMoveJobsOnPausedDates() {
	if !s.isProcessing.CompareAndSwap(false, true) {
		s.log.Debug("sweep already running, skipping tick")
		return
	}
	defer s.isProcessing.Store(false)

	ctx := context.Background()
	if err := s.MoveJobsOnPausedDates(ctx); err != nil {
		s.log.WithError(err).Error("moveJobsOnPausedDates failed")
	}
}

// MoveJobsOnPausedDates implements spec.md §4.5.6: every job currently
// scheduled on a date that has since been added to Settings.PausedDates
// is moved to the next working day.
func (s *Sweep) MoveJobsOnPausedDates(ctx context.Context) error {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	if len(settings.PausedDates) == 0 {
		return nil
	}

	jobs, err := s.sweepStore.ListJobsScheduledOnPausedDates(ctx, settings.PausedDates)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		lead, err := s.sweepStore.GetLeadForJob(ctx, job)
		if err != nil {
			s.log.WithError(err).WithField("job_id", job.ID).Error("moveJobsOnPausedDates: lookup lead failed")
			continue
		}
		if err := s.scheduler.MoveJobToNextWorkingDay(ctx, job, lead, settings); err != nil {
			s.log.WithError(err).WithField("job_id", job.ID).Error("moveJobsOnPausedDates: move failed")
		}
	}
	return nil
}

func (s *Sweep) runClaimDueJobs() {
	ctx := context.Background()
	claimed, err := s.scheduler.ClaimAndEnqueueDueJobs(ctx, maxDueJobsPerTick)
	if err != nil {
		s.log.WithError(err).Error("claimDueJobs: failed")
		return
	}
	if claimed > 0 {
		s.log.WithField("claimed", claimed).Debug("claimDueJobs: enqueued due jobs")
	}
}
