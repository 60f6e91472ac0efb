// Package queue implements the durable job queue adapter (SPEC_FULL.md
// §2.13 / §3): an embedded go.etcd.io/bbolt store standing in for a
// production broker, satisfying the same add/remove contract the
// scheduler, queue watcher and conditional evaluator depend on.
// Adapted from the teacher's database.BoltDBClient, which held a flat
// jobs bucket plus a locks bucket; this keeps the bucket-per-concern
// shape but replaces the single jobs bucket with one bucket per named
// queue and adds runAt/priority/attempts to each stored item.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Item is the durable queue item shape from SPEC_FULL.md §3.
type Item struct {
	ID          string          `json:"id"`
	QueueName   string          `json:"queue_name"`
	Priority    int             `json:"priority"`
	RunAt       time.Time       `json:"run_at"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	BackoffBase time.Duration   `json:"backoff_base"`
	Payload     json.RawMessage `json:"payload"`
}

const defaultMaxAttempts = 5
const defaultBackoffBase = 30 * time.Second

// BoltQueue is the bbolt-backed durable queue.
type BoltQueue struct {
	db *bolt.DB
}

// Open opens (creating if needed) the bbolt file at path.
func Open(path string) (*BoltQueue, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open durable queue at %s", path)
	}
	return &BoltQueue{db: db}, nil
}

// Close closes the underlying bbolt file.
func (q *BoltQueue) Close() error {
	return q.db.Close()
}

func bucketName(queueName string) []byte {
	return []byte("queue:" + queueName)
}

// AddOptions mirrors scheduler.QueueAddOptions as this package's own
// shape; SchedulerAdapter (adapter.go) translates one into the other.
type AddOptions struct {
	Delay    time.Duration
	JobID    string
	Priority int
}

// Add persists payload under queueName, visible to Pop once Delay has
// elapsed. JobID must be caller-supplied and unique (the scheduler
// passes the job's idempotency key) so Remove can find it later.
func (q *BoltQueue) Add(ctx context.Context, queueName string, payload []byte, opts AddOptions) error {
	if opts.JobID == "" {
		return fmt.Errorf("queue: Add requires a non-empty JobID")
	}

	item := Item{
		ID:          opts.JobID,
		QueueName:   queueName,
		Priority:    opts.Priority,
		RunAt:       time.Now().Add(opts.Delay),
		MaxAttempts: defaultMaxAttempts,
		BackoffBase: defaultBackoffBase,
		Payload:     append(json.RawMessage(nil), payload...),
	}
	encoded, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "queue: marshal item")
	}

	return q.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(queueName))
		if err != nil {
			return errors.Wrapf(err, "queue: create bucket %s", queueName)
		}
		return errors.Wrap(b.Put([]byte(opts.JobID), encoded), "queue: put item")
	})
}

// Remove deletes jobID from every known queue bucket. Queue watcher
// pause and job cancellation both call this to pull an item before it
// is ever popped.
func (q *BoltQueue) Remove(ctx context.Context, jobID string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			return errors.Wrap(b.Delete([]byte(jobID)), "queue: delete item")
		})
	})
}

// Pop returns up to max items from queueName whose RunAt has elapsed,
// ordered by priority descending then RunAt ascending, and removes them
// from the bucket. A worker that fails to process a popped item is
// responsible for re-Add-ing it (with backoff) via Retry.
func (q *BoltQueue) Pop(ctx context.Context, queueName string, max int) ([]Item, error) {
	var ready []Item
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(queueName))
		if b == nil {
			return nil
		}

		now := time.Now()
		var due []Item
		if err := b.ForEach(func(k, v []byte) error {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return errors.Wrap(err, "queue: unmarshal item")
			}
			if !item.RunAt.After(now) {
				due = append(due, item)
			}
			return nil
		}); err != nil {
			return err
		}

		sort.Slice(due, func(i, j int) bool {
			if due[i].Priority != due[j].Priority {
				return due[i].Priority > due[j].Priority
			}
			return due[i].RunAt.Before(due[j].RunAt)
		})

		if len(due) > max {
			due = due[:max]
		}
		for _, item := range due {
			if err := b.Delete([]byte(item.ID)); err != nil {
				return errors.Wrap(err, "queue: delete popped item")
			}
		}
		ready = due
		return nil
	})
	return ready, err
}

// Retry increments item's attempt count and re-enqueues it after an
// exponential backoff delay, unless the incremented count exceeds
// MaxAttempts, in which case it returns ErrAttemptsExceeded and the
// caller is responsible for the dead-letter path.
var ErrAttemptsExceeded = fmt.Errorf("queue: item exceeded max attempts")

func (q *BoltQueue) Retry(ctx context.Context, item Item) error {
	item.Attempts++
	if item.Attempts > item.MaxAttempts {
		return ErrAttemptsExceeded
	}

	backoff := item.BackoffBase * time.Duration(1<<uint(item.Attempts-1))
	item.RunAt = time.Now().Add(backoff)

	encoded, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "queue: marshal retried item")
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(item.QueueName))
		if err != nil {
			return errors.Wrapf(err, "queue: create bucket %s", item.QueueName)
		}
		return errors.Wrap(b.Put([]byte(item.ID), encoded), "queue: put retried item")
	})
}
