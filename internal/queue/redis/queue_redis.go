// Package redis implements the durable queue contract on Redis, in the shape
// popularized by BullMQ: a pending list, an active list, a delayed sorted set
// scored by ready-time, and a hash per job. BRPOPLPUSH gives at-most-one
// claimant per job; terminal hashes expire after their retention window.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pulse/internal/event/models"
	"pulse/internal/queue"
)

const (
	pendingKey = "pulse:queue:pending"
	activeKey  = "pulse:queue:active"
	delayedKey = "pulse:queue:delayed"
	jobPrefix  = "pulse:queue:job:"

	// claimPoll bounds how long a blocking claim waits before promoting due
	// delayed jobs and checking ctx again.
	claimPoll = time.Second

	// defaultStallTimeout is how long a claimed job may sit on the active
	// list before it is presumed orphaned by a dead worker and reclaimed.
	// It must comfortably exceed the longest expected chunk loop.
	defaultStallTimeout = 30 * time.Second
)

type Queue struct {
	client       *redis.Client
	stallTimeout time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithStallTimeout overrides the stalled-claim threshold.
func WithStallTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.stallTimeout = d
		}
	}
}

func New(client *redis.Client, opts ...Option) *Queue {
	q := &Queue{client: client, stallTimeout: defaultStallTimeout}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func jobKey(id string) string {
	return jobPrefix + id
}

func (q *Queue) Enqueue(ctx context.Context, batch []models.Event, policy queue.RetryPolicy, retention queue.Retention) (string, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("marshal batch: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKey(id), map[string]any{
		"payload":                payload,
		"attempt":                0,
		"state":                  string(queue.StatePending),
		"max_attempts":           policy.MaxAttempts,
		"backoff_base_ms":        policy.BackoffBase.Milliseconds(),
		"backoff_kind":           string(policy.BackoffKind),
		"retention_completed_ms": retention.Completed.Milliseconds(),
		"retention_failed_ms":    retention.Failed.Milliseconds(),
		"enqueued_at":            time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.LPush(ctx, pendingKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// Dequeue promotes due delayed jobs, reclaims stalled claims, then blocks on
// the pending list. The atomic BRPOPLPUSH into the active list is the claim.
func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := q.promoteDue(ctx); err != nil {
			return nil, err
		}
		if err := q.reclaimStalled(ctx); err != nil {
			return nil, err
		}

		id, err := q.client.BRPopLPush(ctx, pendingKey, activeKey, claimPoll).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}

		job, err := q.loadClaimed(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			// Hash expired while the ID sat in a list; drop the stale claim.
			q.client.LRem(ctx, activeKey, 1, id)
			continue
		}
		return job, nil
	}
}

func (q *Queue) Complete(ctx context.Context, job *queue.Job) (queue.Outcome, error) {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, activeKey, 1, job.ID)
	pipe.HSet(ctx, jobKey(job.ID), "state", string(queue.StateCompleted))
	pipe.Expire(ctx, jobKey(job.ID), job.Retention.Completed)
	if _, err := pipe.Exec(ctx); err != nil {
		return queue.Outcome{}, fmt.Errorf("complete job: %w", err)
	}
	return queue.Outcome{Kind: queue.OutcomeCompleted, Attempt: job.Attempt}, nil
}

func (q *Queue) Fail(ctx context.Context, job *queue.Job, cause error) (queue.Outcome, error) {
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	if job.Attempt >= job.Policy.MaxAttempts {
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, activeKey, 1, job.ID)
		pipe.HSet(ctx, jobKey(job.ID),
			"state", string(queue.StateFailed),
			"last_error", lastError,
		)
		pipe.Expire(ctx, jobKey(job.ID), job.Retention.Failed)
		if _, err := pipe.Exec(ctx); err != nil {
			return queue.Outcome{}, fmt.Errorf("fail job: %w", err)
		}
		return queue.Outcome{Kind: queue.OutcomeFailed, Attempt: job.Attempt}, nil
	}

	delay := job.Policy.Backoff(job.Attempt)
	readyAt := time.Now().Add(delay)
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, activeKey, 1, job.ID)
	pipe.HSet(ctx, jobKey(job.ID),
		"state", string(queue.StateDelayed),
		"last_error", lastError,
	)
	pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return queue.Outcome{}, fmt.Errorf("delay job: %w", err)
	}
	return queue.Outcome{Kind: queue.OutcomeRetrying, Attempt: job.Attempt, Delay: delay}, nil
}

// promoteDue moves delayed jobs whose ready-time has passed back onto the
// pending list. Racing promoters are harmless: ZRem returns whether this
// caller won, and only the winner pushes.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return fmt.Errorf("scan delayed jobs: %w", err)
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, delayedKey, id).Result()
		if err != nil {
			return fmt.Errorf("promote job: %w", err)
		}
		if removed == 0 {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, jobKey(id), "state", string(queue.StatePending))
		pipe.LPush(ctx, pendingKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("requeue promoted job: %w", err)
		}
	}
	return nil
}

// reclaimStalled sweeps the active list for claims older than the stall
// timeout, left behind by workers that died mid-job. A reclaimed job whose
// attempts are exhausted is parked as failed; otherwise it goes back to
// pending and the next claim counts as a fresh attempt. Racing sweepers are
// harmless: LRem reports whether this caller won, and only the winner moves
// the job.
func (q *Queue) reclaimStalled(ctx context.Context) error {
	ids, err := q.client.LRange(ctx, activeKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("scan active jobs: %w", err)
	}
	cutoff := time.Now().Add(-q.stallTimeout).UnixMilli()

	for _, id := range ids {
		fields, err := q.client.HGetAll(ctx, jobKey(id)).Result()
		if err != nil {
			return fmt.Errorf("load stalled candidate: %w", err)
		}
		if len(fields) == 0 {
			// Hash expired under the claim; the list entry is garbage.
			q.client.LRem(ctx, activeKey, 1, id)
			continue
		}
		claimedAt, ok := fields["claimed_at"]
		if !ok || atoi64(claimedAt) > cutoff {
			continue
		}

		removed, err := q.client.LRem(ctx, activeKey, 1, id).Result()
		if err != nil {
			return fmt.Errorf("reclaim job: %w", err)
		}
		if removed == 0 {
			continue
		}

		if atoi(fields["attempt"]) >= atoi(fields["max_attempts"]) {
			pipe := q.client.TxPipeline()
			pipe.HSet(ctx, jobKey(id),
				"state", string(queue.StateFailed),
				"last_error", "claim stalled past allowable limit",
			)
			pipe.Expire(ctx, jobKey(id), time.Duration(atoi64(fields["retention_failed_ms"]))*time.Millisecond)
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("park stalled job: %w", err)
			}
			continue
		}

		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, jobKey(id), "state", string(queue.StatePending))
		pipe.LPush(ctx, pendingKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("requeue stalled job: %w", err)
		}
	}
	return nil
}

func (q *Queue) loadClaimed(ctx context.Context, id string) (*queue.Job, error) {
	key := jobKey(id)

	fields, err := q.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	attempt, err := q.client.HIncrBy(ctx, key, "attempt", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("bump attempt: %w", err)
	}
	if err := q.client.HSet(ctx, key,
		"state", string(queue.StateActive),
		"claimed_at", time.Now().UnixMilli(),
	).Err(); err != nil {
		return nil, fmt.Errorf("mark active: %w", err)
	}

	var batch []models.Event
	if err := json.Unmarshal([]byte(fields["payload"]), &batch); err != nil {
		return nil, fmt.Errorf("unmarshal job payload: %w", err)
	}

	job := &queue.Job{
		ID:      id,
		Batch:   batch,
		Attempt: int(attempt),
		Policy: queue.RetryPolicy{
			MaxAttempts: atoi(fields["max_attempts"]),
			BackoffBase: time.Duration(atoi64(fields["backoff_base_ms"])) * time.Millisecond,
			BackoffKind: queue.BackoffKind(fields["backoff_kind"]),
		},
		Retention: queue.Retention{
			Completed: time.Duration(atoi64(fields["retention_completed_ms"])) * time.Millisecond,
			Failed:    time.Duration(atoi64(fields["retention_failed_ms"])) * time.Millisecond,
		},
		State:     queue.StateActive,
		LastError: fields["last_error"],
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["enqueued_at"]); err == nil {
		job.EnqueuedAt = t
	}
	return job, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
