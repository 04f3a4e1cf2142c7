package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pulse/internal/event/models"
	"pulse/internal/event/store"
	storememory "pulse/internal/event/store/memory"
	"pulse/internal/platform/logger"
	"pulse/internal/queue"
	queuememory "pulse/internal/queue/memory"
)

// flakyStore fails InsertBatch a fixed number of times before delegating to
// the real in-memory store.
type flakyStore struct {
	*storememory.Store
	failuresLeft int
}

func (f *flakyStore) InsertBatch(ctx context.Context, events []models.Event) error {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return errors.New("transient store failure")
	}
	return f.Store.InsertBatch(ctx, events)
}

type WorkerSuite struct {
	suite.Suite
	queue *queuememory.Queue
	store *storememory.Store
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.queue = queuememory.New()
	s.store = storememory.New()
}

var workerPolicy = queue.RetryPolicy{
	MaxAttempts: 3,
	BackoffBase: 5 * time.Millisecond,
	BackoffKind: queue.BackoffExponential,
}

var workerRetention = queue.Retention{Completed: time.Minute, Failed: time.Minute}

func testEvents(ids ...string) []models.Event {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	out := make([]models.Event, len(ids))
	for i, id := range ids {
		out[i] = models.Event{
			EventID:   id,
			OrgID:     "org-1",
			ProjectID: "proj-1",
			UserID:    "u1",
			EventName: "ev",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

// erroringQueue fails every claim attempt and counts them.
type erroringQueue struct {
	calls atomic.Int64
}

func (q *erroringQueue) Enqueue(context.Context, []models.Event, queue.RetryPolicy, queue.Retention) (string, error) {
	return "", errors.New("queue unavailable")
}

func (q *erroringQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	q.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("queue unavailable")
}

func (q *erroringQueue) Complete(context.Context, *queue.Job) (queue.Outcome, error) {
	return queue.Outcome{}, errors.New("queue unavailable")
}

func (q *erroringQueue) Fail(context.Context, *queue.Job, error) (queue.Outcome, error) {
	return queue.Outcome{}, errors.New("queue unavailable")
}

// startWorker runs the consume loop (chunk size 2) until the returned cancel
// is called; tests poll for the expected state instead of synchronizing with
// the loop directly.
func (s *WorkerSuite) startWorker(st store.Store) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	w := New(s.queue, st, 2, logger.New())
	go func() { _ = w.Run(ctx) }()
	return cancel
}

func (s *WorkerSuite) TestPersistsBatchInChunks() {
	cancel := s.startWorker(s.store)
	defer cancel()

	id, err := s.queue.Enqueue(context.Background(), testEvents("a", "b", "c", "d", "e"), workerPolicy, workerRetention)
	s.Require().NoError(err)

	s.Eventually(func() bool { return s.store.Len() == 5 }, time.Second, 5*time.Millisecond)
	s.Eventually(func() bool {
		snap, ok := s.queue.Snapshot(id)
		return ok && snap.State == queue.StateCompleted
	}, time.Second, 5*time.Millisecond)
}

func (s *WorkerSuite) TestEmptyBatchCompletesWithoutWrites() {
	cancel := s.startWorker(s.store)
	defer cancel()

	id, err := s.queue.Enqueue(context.Background(), nil, workerPolicy, workerRetention)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		snap, ok := s.queue.Snapshot(id)
		return ok && snap.State == queue.StateCompleted
	}, time.Second, 5*time.Millisecond)
	s.Zero(s.store.Len())
}

func (s *WorkerSuite) TestDuplicateRowsAreBenign() {
	// Pre-store two of the four rows, as if an earlier delivery landed them.
	s.Require().NoError(s.store.InsertBatch(context.Background(), testEvents("a", "b")))

	cancel := s.startWorker(s.store)
	defer cancel()

	id, err := s.queue.Enqueue(context.Background(), testEvents("a", "b", "c", "d"), workerPolicy, workerRetention)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		snap, ok := s.queue.Snapshot(id)
		return ok && snap.State == queue.StateCompleted
	}, time.Second, 5*time.Millisecond, "duplicates must not fail the job")
	s.Equal(4, s.store.Len(), "new rows stored exactly once")
}

func (s *WorkerSuite) TestTransientFailureRetriesThenConverges() {
	flaky := &flakyStore{Store: s.store, failuresLeft: 2}
	cancel := s.startWorker(flaky)
	defer cancel()

	id, err := s.queue.Enqueue(context.Background(), testEvents("a", "b", "c"), workerPolicy, workerRetention)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		snap, ok := s.queue.Snapshot(id)
		return ok && snap.State == queue.StateCompleted
	}, 2*time.Second, 5*time.Millisecond, "third attempt should succeed")
	s.Equal(3, s.store.Len())
}

func (s *WorkerSuite) TestExhaustedAttemptsParkJobAsFailed() {
	flaky := &flakyStore{Store: s.store, failuresLeft: 100}
	cancel := s.startWorker(flaky)
	defer cancel()

	id, err := s.queue.Enqueue(context.Background(), testEvents("a"), workerPolicy, workerRetention)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		snap, ok := s.queue.Snapshot(id)
		return ok && snap.State == queue.StateFailed
	}, 2*time.Second, 5*time.Millisecond)

	snap, ok := s.queue.Snapshot(id)
	s.Require().True(ok, "failed job retained for inspection")
	s.Equal("transient store failure", snap.LastError)
	s.Zero(s.store.Len())
}

func (s *WorkerSuite) TestDequeueFailurePacesRetries() {
	q := &erroringQueue{}
	w := New(q, s.store, 2, logger.New())
	w.pause = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	s.ErrorIs(<-done, context.Canceled)

	calls := q.calls.Load()
	s.GreaterOrEqual(calls, int64(2), "the loop must keep retrying")
	s.LessOrEqual(calls, int64(10), "claim attempts must be paced, not spun hot")
}

func (s *WorkerSuite) TestChunking() {
	events := testEvents("a", "b", "c", "d", "e")

	s.Run("splits with short tail", func() {
		got := chunks(events, 2)
		s.Len(got, 3)
		s.Len(got[0], 2)
		s.Len(got[2], 1)
	})

	s.Run("chunk larger than batch yields one chunk", func() {
		got := chunks(events, 100)
		s.Len(got, 1)
	})

	s.Run("empty batch yields none", func() {
		s.Empty(chunks(nil, 2))
	})
}
