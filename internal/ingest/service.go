// Package ingest accepts raw event batches, deduplicates them within the
// batch, and hands them to the durable queue. Persistence is asynchronous;
// the caller learns how many events were accepted, not how many landed.
package ingest

import (
	"context"
	"log/slog"

	"pulse/internal/event/fingerprint"
	"pulse/internal/event/models"
	"pulse/internal/platform/config"
	"pulse/internal/platform/metrics"
	"pulse/internal/queue"
	dErrors "pulse/pkg/domain-errors"
)

// Result statuses returned to callers.
const (
	StatusQueued      = "queued"
	StatusNoNewEvents = "no_new_events"
)

// Result is the synchronous answer to an ingest request. Count is the number
// of net-new (post-dedup) events queued, not persisted.
type Result struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
	JobID  string `json:"-"`
}

type Service struct {
	queue     queue.Queue
	logger    *slog.Logger
	metrics   *metrics.Metrics
	maxBatch  int
	policy    queue.RetryPolicy
	retention queue.Retention
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics attaches the prometheus metrics set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService builds the gateway with an injected queue handle; there is no
// process-wide queue singleton.
func NewService(q queue.Queue, cfg config.IngestConfig, logger *slog.Logger, opts ...Option) (*Service, error) {
	if q == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "queue is required")
	}
	s := &Service{
		queue:    q,
		logger:   logger,
		maxBatch: cfg.MaxPerRequest,
		policy: queue.RetryPolicy{
			MaxAttempts: cfg.RetryAttempts,
			BackoffBase: cfg.RetryBackoffBase,
			BackoffKind: queue.BackoffExponential,
		},
		retention: queue.Retention{
			Completed: cfg.CompletedRetention,
			Failed:    cfg.FailedRetention,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ingest truncates the submission list to the configured maximum (excess is
// silently dropped), normalizes timestamps, fingerprints each entry, keeps
// the first occurrence of each fingerprint in order, and enqueues the result
// as one job. An all-duplicate batch is a success with count zero.
//
// The dedup set is request-local: cross-request duplicates are converged
// later by the store's uniqueness constraint, not here.
func (s *Service) Ingest(ctx context.Context, submissions []models.Submission) (Result, error) {
	if len(submissions) > s.maxBatch {
		submissions = submissions[:s.maxBatch]
	}

	seen := make(map[string]struct{}, len(submissions))
	deduped := make([]models.Event, 0, len(submissions))
	dropped := 0

	for _, sub := range submissions {
		canonical, ts, err := models.NormalizeTimestamp(sub.Timestamp)
		if err != nil {
			// Schema validation upstream should have caught this; drop the
			// entry rather than fail the batch.
			s.logger.WarnContext(ctx, "dropping submission with invalid timestamp",
				"timestamp", sub.Timestamp,
				"event_name", sub.EventName,
			)
			continue
		}

		id := fingerprint.New(sub.OrgID, sub.ProjectID, sub.UserID, sub.EventName, canonical)
		if _, dup := seen[id]; dup {
			dropped++
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, models.Event{
			EventID:   id,
			OrgID:     sub.OrgID,
			ProjectID: sub.ProjectID,
			UserID:    sub.UserID,
			EventName: sub.EventName,
			Timestamp: ts,
		})
	}

	s.metrics.AddEventsDeduped(dropped)

	if len(deduped) == 0 {
		return Result{Status: StatusNoNewEvents, Count: 0}, nil
	}

	jobID, err := s.queue.Enqueue(ctx, deduped, s.policy, s.retention)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "enqueue batch")
	}

	s.metrics.AddEventsAccepted(len(deduped))
	s.metrics.IncJobsEnqueued()
	s.logger.InfoContext(ctx, "batch queued",
		"job_id", jobID,
		"accepted", len(deduped),
		"deduped", dropped,
	)

	return Result{Status: StatusQueued, Count: len(deduped), JobID: jobID}, nil
}
