// Package queue defines the durable work queue contract decoupling ingestion
// acceptance from persistence. The contract is at-least-once: a job may be
// delivered more than once, but never to two claimants at the same time.
// Idempotent consumers are what turn that into effectively-once work.
package queue

import (
	"context"
	"time"

	"pulse/internal/event/models"
)

// State is a job's position in its lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// BackoffKind selects the shape of the retry delay curve.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

// RetryPolicy bounds a job's lifetime: at most MaxAttempts deliveries with
// BackoffBase-derived delays between them.
type RetryPolicy struct {
	MaxAttempts int           `json:"maxAttempts"`
	BackoffBase time.Duration `json:"backoffBase"`
	BackoffKind BackoffKind   `json:"backoffKind"`
}

// Backoff returns the delay to apply after the given 1-based attempt failed.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.BackoffKind == BackoffFixed {
		return p.BackoffBase
	}
	return p.BackoffBase << (attempt - 1)
}

// Retention is how long terminal jobs linger before purging. Failed jobs are
// kept far longer so operators can inspect them; they are evidence, not junk.
type Retention struct {
	Completed time.Duration `json:"completed"`
	Failed    time.Duration `json:"failed"`
}

// Job is one unit of persistence work: a deduplicated batch plus its retry
// metadata. Attempt counts deliveries, so it is 1 during the first execution.
type Job struct {
	ID         string         `json:"id"`
	Batch      []models.Event `json:"batch"`
	Attempt    int            `json:"attempt"`
	Policy     RetryPolicy    `json:"policy"`
	Retention  Retention      `json:"retention"`
	State      State          `json:"state"`
	LastError  string         `json:"lastError,omitempty"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
}

// OutcomeKind discriminates Outcome.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeRetrying  OutcomeKind = "retrying"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome reports what the queue decided about a finished execution: done,
// scheduled for retry after Delay, or terminally failed.
type Outcome struct {
	Kind    OutcomeKind
	Attempt int
	Delay   time.Duration
}

// Queue is the producer/consumer contract.
//
// Dequeue blocks until a job is claimable or ctx is done; each delivered job
// is claimed by exactly one caller at a time. Complete and Fail transition
// the claimed job; Fail either schedules a retry per the job's policy or, once
// attempts are exhausted, parks the job in the failed state for its retention
// window.
type Queue interface {
	Enqueue(ctx context.Context, batch []models.Event, policy RetryPolicy, retention Retention) (string, error)
	Dequeue(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, job *Job) (Outcome, error)
	Fail(ctx context.Context, job *Job, cause error) (Outcome, error)
}
