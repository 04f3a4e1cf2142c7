// Package memory provides an in-process implementation of the durable queue
// contract. Durability is bounded by the process lifetime; it exists for unit
// tests and single-node deployments without Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulse/internal/event/models"
	"pulse/internal/queue"
)

type Queue struct {
	mu    sync.Mutex
	jobs  map[string]*queue.Job
	ready chan string
}

func New() *Queue {
	return &Queue{
		jobs:  make(map[string]*queue.Job),
		ready: make(chan string, 1024),
	}
}

func (q *Queue) Enqueue(ctx context.Context, batch []models.Event, policy queue.RetryPolicy, retention queue.Retention) (string, error) {
	job := &queue.Job{
		ID:         uuid.NewString(),
		Batch:      batch,
		Policy:     policy,
		Retention:  retention,
		State:      queue.StatePending,
		EnqueuedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	select {
	case q.ready <- job.ID:
		return job.ID, nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.jobs, job.ID)
		q.mu.Unlock()
		return "", ctx.Err()
	}
}

// Dequeue claims the next ready job. The ready channel is the exclusivity
// point: an ID is received by exactly one caller.
func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case id := <-q.ready:
			q.mu.Lock()
			job, ok := q.jobs[id]
			if !ok {
				// Purged while waiting in the ready channel.
				q.mu.Unlock()
				continue
			}
			job.State = queue.StateActive
			job.Attempt++
			claimed := *job
			q.mu.Unlock()
			return &claimed, nil
		}
	}
}

func (q *Queue) Complete(_ context.Context, job *queue.Job) (queue.Outcome, error) {
	q.mu.Lock()
	if stored, ok := q.jobs[job.ID]; ok {
		stored.State = queue.StateCompleted
		q.purgeAfter(job.ID, stored.Retention.Completed)
	}
	q.mu.Unlock()
	return queue.Outcome{Kind: queue.OutcomeCompleted, Attempt: job.Attempt}, nil
}

func (q *Queue) Fail(_ context.Context, job *queue.Job, cause error) (queue.Outcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, ok := q.jobs[job.ID]
	if !ok {
		return queue.Outcome{Kind: queue.OutcomeFailed, Attempt: job.Attempt}, nil
	}
	if cause != nil {
		stored.LastError = cause.Error()
	}

	if job.Attempt >= stored.Policy.MaxAttempts {
		stored.State = queue.StateFailed
		q.purgeAfter(job.ID, stored.Retention.Failed)
		return queue.Outcome{Kind: queue.OutcomeFailed, Attempt: job.Attempt}, nil
	}

	delay := stored.Policy.Backoff(job.Attempt)
	stored.State = queue.StateDelayed
	id := job.ID
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		if j, ok := q.jobs[id]; ok && j.State == queue.StateDelayed {
			j.State = queue.StatePending
			select {
			case q.ready <- id:
			default:
				// Ready channel full. The channel is sized well above any
				// realistic in-process fan-in; a full channel means the
				// consumer is gone and the job would never run anyway.
			}
		}
		q.mu.Unlock()
	})
	return queue.Outcome{Kind: queue.OutcomeRetrying, Attempt: job.Attempt, Delay: delay}, nil
}

// Snapshot returns a copy of a job's current state; inspection helper for
// operators and tests.
func (q *Queue) Snapshot(id string) (queue.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return queue.Job{}, false
	}
	return *job, true
}

// purgeAfter must be called with q.mu held; the timer body re-locks.
func (q *Queue) purgeAfter(id string, after time.Duration) {
	time.AfterFunc(after, func() {
		q.mu.Lock()
		delete(q.jobs, id)
		q.mu.Unlock()
	})
}
