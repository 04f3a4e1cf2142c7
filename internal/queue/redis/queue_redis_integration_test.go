//go:build integration

package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pulse/internal/event/models"
	"pulse/internal/queue"
	queueredis "pulse/internal/queue/redis"
	"pulse/pkg/testutil/containers"
)

type RedisQueueSuite struct {
	suite.Suite
	ctx   context.Context
	redis *containers.RedisContainer
	queue *queueredis.Queue
}

func TestRedisQueueSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisQueueSuite))
}

func (s *RedisQueueSuite) SetupSuite() {
	s.ctx = context.Background()
	s.redis = containers.NewRedisContainer(s.T())
	s.queue = queueredis.New(s.redis.Client)
}

func (s *RedisQueueSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisQueueSuite) policy() queue.RetryPolicy {
	return queue.RetryPolicy{
		MaxAttempts: 3,
		BackoffBase: 50 * time.Millisecond,
		BackoffKind: queue.BackoffExponential,
	}
}

func (s *RedisQueueSuite) retention() queue.Retention {
	return queue.Retention{Completed: time.Hour, Failed: 24 * time.Hour}
}

func (s *RedisQueueSuite) batch() []models.Event {
	return []models.Event{{
		EventID:   "e1",
		OrgID:     "org-1",
		ProjectID: "proj-1",
		UserID:    "u1",
		EventName: "signup",
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}}
}

func (s *RedisQueueSuite) TestEnqueueDequeueRoundTrip() {
	id, err := s.queue.Enqueue(s.ctx, s.batch(), s.policy(), s.retention())
	s.Require().NoError(err)
	s.NotEmpty(id)

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	job, err := s.queue.Dequeue(ctx)
	s.Require().NoError(err)

	s.Equal(id, job.ID)
	s.Equal(1, job.Attempt)
	s.Equal(queue.StateActive, job.State)
	s.Equal(3, job.Policy.MaxAttempts)
	s.Equal(50*time.Millisecond, job.Policy.BackoffBase)
	s.Require().Len(job.Batch, 1)
	s.Equal("e1", job.Batch[0].EventID)
	s.True(job.Batch[0].Timestamp.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func (s *RedisQueueSuite) TestDequeueHonorsContext() {
	ctx, cancel := context.WithTimeout(s.ctx, 100*time.Millisecond)
	defer cancel()

	_, err := s.queue.Dequeue(ctx)
	s.True(errors.Is(err, context.DeadlineExceeded))
}

func (s *RedisQueueSuite) TestCompleteSetsRetention() {
	id, err := s.queue.Enqueue(s.ctx, s.batch(), s.policy(), s.retention())
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	job, err := s.queue.Dequeue(ctx)
	s.Require().NoError(err)

	outcome, err := s.queue.Complete(s.ctx, job)
	s.Require().NoError(err)
	s.Equal(queue.OutcomeCompleted, outcome.Kind)

	key := "pulse:queue:job:" + id
	state, err := s.redis.Client.HGet(s.ctx, key, "state").Result()
	s.Require().NoError(err)
	s.Equal("completed", state)

	ttl, err := s.redis.Client.TTL(s.ctx, key).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0), "terminal hash must carry a retention TTL")
	s.LessOrEqual(ttl, time.Hour)
}

func (s *RedisQueueSuite) TestFailRetriesWithBackoffThenParks() {
	_, err := s.queue.Enqueue(s.ctx, s.batch(), s.policy(), s.retention())
	s.Require().NoError(err)

	cause := errors.New("store unavailable")
	for want := 1; want <= 3; want++ {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		job, err := s.queue.Dequeue(ctx)
		cancel()
		s.Require().NoError(err)
		s.Equal(want, job.Attempt)

		outcome, err := s.queue.Fail(s.ctx, job, cause)
		s.Require().NoError(err)
		if want < 3 {
			s.Equal(queue.OutcomeRetrying, outcome.Kind)
			s.Equal(50*time.Millisecond<<(want-1), outcome.Delay)
		} else {
			s.Equal(queue.OutcomeFailed, outcome.Kind)
		}
	}

	// No fourth attempt: the pending list stays empty.
	ctx, cancel := context.WithTimeout(s.ctx, 500*time.Millisecond)
	defer cancel()
	_, err = s.queue.Dequeue(ctx)
	s.True(errors.Is(err, context.DeadlineExceeded))
}

func (s *RedisQueueSuite) TestStalledClaimIsRedelivered() {
	q := queueredis.New(s.redis.Client, queueredis.WithStallTimeout(100*time.Millisecond))

	id, err := q.Enqueue(s.ctx, s.batch(), s.policy(), s.retention())
	s.Require().NoError(err)

	// Claim and abandon, as a worker that died mid-job would.
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	job, err := q.Dequeue(ctx)
	cancel()
	s.Require().NoError(err)
	s.Equal(1, job.Attempt)

	time.Sleep(150 * time.Millisecond)

	ctx, cancel = context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	reclaimed, err := q.Dequeue(ctx)
	s.Require().NoError(err)
	s.Equal(id, reclaimed.ID)
	s.Equal(2, reclaimed.Attempt, "redelivery counts as a fresh attempt")
}

func (s *RedisQueueSuite) TestStalledClaimWithExhaustedAttemptsParks() {
	q := queueredis.New(s.redis.Client, queueredis.WithStallTimeout(100*time.Millisecond))

	id, err := q.Enqueue(s.ctx, s.batch(), s.policy(), s.retention())
	s.Require().NoError(err)

	// Burn through the attempt budget: two failed attempts, then a third
	// claim that is abandoned.
	cause := errors.New("store unavailable")
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		job, err := q.Dequeue(ctx)
		cancel()
		s.Require().NoError(err)
		if i < 2 {
			_, err = q.Fail(s.ctx, job, cause)
			s.Require().NoError(err)
		}
	}

	time.Sleep(150 * time.Millisecond)

	// The sweep runs as part of the next claim attempt; nothing is claimable.
	ctx, cancel := context.WithTimeout(s.ctx, 500*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(ctx)
	s.True(errors.Is(err, context.DeadlineExceeded))

	key := "pulse:queue:job:" + id
	state, err := s.redis.Client.HGet(s.ctx, key, "state").Result()
	s.Require().NoError(err)
	s.Equal("failed", state)

	ttl, err := s.redis.Client.TTL(s.ctx, key).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0), "parked job must expire with the failed retention")
}

func (s *RedisQueueSuite) TestDelayedJobPromotesAfterBackoff() {
	_, err := s.queue.Enqueue(s.ctx, s.batch(), s.policy(), s.retention())
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	job, err := s.queue.Dequeue(ctx)
	cancel()
	s.Require().NoError(err)

	_, err = s.queue.Fail(s.ctx, job, errors.New("transient"))
	s.Require().NoError(err)

	// The retry becomes claimable once its ready-time passes.
	ctx, cancel = context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	retried, err := s.queue.Dequeue(ctx)
	s.Require().NoError(err)
	s.Equal(job.ID, retried.ID)
	s.Equal(2, retried.Attempt)
	s.Equal("transient", retried.LastError)
}
