package queue

import (
	"context"

	"github.com/sequencehq/engine/internal/scheduler"
)

// SchedulerAdapter satisfies scheduler.Queue (and, since the method set
// is identical, conditional.Queue and queuewatcher.Queue) over a
// BoltQueue, translating each package's locally-defined option struct
// into this package's AddOptions.
type SchedulerAdapter struct {
	q *BoltQueue
}

// NewSchedulerAdapter wraps q for use by the scheduling packages.
func NewSchedulerAdapter(q *BoltQueue) *SchedulerAdapter {
	return &SchedulerAdapter{q: q}
}

func (a *SchedulerAdapter) Add(ctx context.Context, queueName string, payload []byte, opts scheduler.QueueAddOptions) error {
	return a.q.Add(ctx, queueName, payload, AddOptions{Delay: opts.Delay, JobID: opts.JobID, Priority: opts.Priority})
}

func (a *SchedulerAdapter) Remove(ctx context.Context, jobID string) error {
	return a.q.Remove(ctx, jobID)
}
