// Package worker consumes batch persistence jobs from the durable queue and
// writes them to the event store. Duplicate-key conflicts are the expected
// residue of at-least-once delivery and are swallowed; anything else fails
// the job back to the queue's retry machinery.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pulse/internal/event/models"
	"pulse/internal/event/store"
	"pulse/internal/platform/metrics"
	"pulse/internal/queue"
)

// dequeuePause is how long the loop waits after a failed claim attempt so a
// queue outage does not turn into a hot spin against it.
const dequeuePause = time.Second

type Worker struct {
	queue     queue.Queue
	store     store.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	chunkSize int
	pause     time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithMetrics attaches the prometheus metrics set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// New builds a worker bound to an injected queue and store.
func New(q queue.Queue, s store.Store, chunkSize int, logger *slog.Logger, opts ...Option) *Worker {
	if chunkSize < 1 {
		chunkSize = 1
	}
	w := &Worker{
		queue:     q,
		store:     s,
		logger:    logger,
		chunkSize: chunkSize,
		pause:     dequeuePause,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes jobs until ctx is canceled. Multiple Run loops may execute
// concurrently (in one process or across processes); the queue's claim
// exclusivity is the only coordination needed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logger.ErrorContext(ctx, "dequeue failed", "error", err.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pause):
			}
			continue
		}
		w.process(ctx, job)
	}
}

// process persists one job's batch in bounded chunks, sequentially. Partial
// progress before a transient failure is safe: reprocessing converges because
// inserts are idempotent with respect to EventID.
func (w *Worker) process(ctx context.Context, job *queue.Job) {
	if len(job.Batch) == 0 {
		w.complete(ctx, job)
		return
	}

	for _, chunk := range chunks(job.Batch, w.chunkSize) {
		err := w.store.InsertBatch(ctx, chunk)
		if err == nil {
			w.metrics.AddEventsPersisted(len(chunk))
			continue
		}
		if w.store.IsDuplicateKey(err) {
			// Benign: rows already present from an earlier delivery or a
			// concurrent batch. The non-conflicting rows have landed.
			w.metrics.IncDuplicateInserts()
			w.logger.DebugContext(ctx, "duplicate rows skipped",
				"job_id", job.ID,
				"detail", err.Error(),
			)
			continue
		}

		outcome, ferr := w.queue.Fail(ctx, job, err)
		if ferr != nil {
			w.logger.ErrorContext(ctx, "failed to report job failure",
				"job_id", job.ID,
				"error", ferr.Error(),
			)
			return
		}
		switch outcome.Kind {
		case queue.OutcomeRetrying:
			w.metrics.IncJobsRetried()
			w.logger.WarnContext(ctx, "job scheduled for retry",
				"job_id", job.ID,
				"attempt", outcome.Attempt,
				"delay", outcome.Delay.String(),
				"error", err.Error(),
			)
		case queue.OutcomeFailed:
			// Terminal. The job is retained in the failed state for operator
			// inspection; it is never silently dropped.
			w.metrics.IncJobsFailed()
			w.logger.ErrorContext(ctx, "job permanently failed",
				"job_id", job.ID,
				"attempt", outcome.Attempt,
				"error", err.Error(),
			)
		}
		return
	}

	w.complete(ctx, job)
}

func (w *Worker) complete(ctx context.Context, job *queue.Job) {
	if _, err := w.queue.Complete(ctx, job); err != nil {
		w.logger.ErrorContext(ctx, "failed to mark job complete",
			"job_id", job.ID,
			"error", err.Error(),
		)
		return
	}
	w.metrics.IncJobsCompleted()
}

// chunks splits events into slices of at most size elements, preserving
// order. The final chunk may be shorter.
func chunks(events []models.Event, size int) [][]models.Event {
	var out [][]models.Event
	for start := 0; start < len(events); start += size {
		end := start + size
		if end > len(events) {
			end = len(events)
		}
		out = append(out, events[start:end])
	}
	return out
}
