//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pulse/internal/event/models"
	"pulse/internal/event/store"
	"pulse/internal/event/store/postgres"
	"pulse/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	ctx      context.Context
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "events"))
}

func event(userID, eventName string, ts time.Time) models.Event {
	return models.Event{
		EventID:   fmt.Sprintf("%s-%s-%d", userID, eventName, ts.UnixMilli()),
		OrgID:     "org-1",
		ProjectID: "proj-1",
		UserID:    userID,
		EventName: eventName,
		Timestamp: ts,
	}
}

func (s *PostgresStoreSuite) TestEnsureSchemaIdempotent() {
	s.NoError(s.store.EnsureSchema(s.ctx))
	s.NoError(s.store.EnsureSchema(s.ctx))
}

func (s *PostgresStoreSuite) TestInsertBatchAndReadBack() {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	batch := []models.Event{
		event("u1", "signup", base),
		event("u1", "purchase", base.Add(time.Minute)),
		event("u2", "signup", base.Add(2*time.Minute)),
	}
	s.Require().NoError(s.store.InsertBatch(s.ctx, batch))

	got, err := s.store.EventsInRangeByNames(s.ctx, []string{"signup", "purchase"}, base.Add(-time.Hour), base.Add(time.Hour))
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	// Ordered by user, then ascending timestamp.
	s.Equal("u1", got[0].UserID)
	s.Equal("signup", got[0].EventName)
	s.Equal("purchase", got[1].EventName)
	s.Equal("u2", got[2].UserID)
}

func (s *PostgresStoreSuite) TestDuplicateRowsLandTheRest() {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	first := event("u1", "signup", base)
	s.Require().NoError(s.store.InsertBatch(s.ctx, []models.Event{first}))

	err := s.store.InsertBatch(s.ctx, []models.Event{
		first,
		event("u1", "purchase", base.Add(time.Minute)),
	})
	s.Require().Error(err)
	s.True(s.store.IsDuplicateKey(err), "shortfall must classify as duplicate")

	n, err := s.store.CountUserEvents(s.ctx, "u1")
	s.Require().NoError(err)
	s.EqualValues(2, n, "the non-duplicate row must land")
}

func (s *PostgresStoreSuite) TestUserEventsPagination() {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var batch []models.Event
	for i := 0; i < 5; i++ {
		batch = append(batch, event("u1", fmt.Sprintf("step-%d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	s.Require().NoError(s.store.InsertBatch(s.ctx, batch))

	page, err := s.store.UserEvents(s.ctx, "u1", 2, 2)
	s.Require().NoError(err)
	s.Require().Len(page, 2)
	s.Equal("step-2", page[0].EventName)
	s.Equal("step-3", page[1].EventName)
}

func (s *PostgresStoreSuite) TestFirstOccurrences() {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.InsertBatch(s.ctx, []models.Event{
		event("u1", "signup", base.Add(time.Hour)),
		event("u1", "signup", base),
		event("u2", "browse", base),
	}))

	first, err := s.store.FirstOccurrences(s.ctx, "signup")
	s.Require().NoError(err)
	s.Require().Len(first, 1)
	s.True(first["u1"].Equal(base))
}

func (s *PostgresStoreSuite) TestCountByBucketMatchesMemoryLabels() {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.InsertBatch(s.ctx, []models.Event{
		event("u1", "browse", base),
		event("u2", "browse", base.Add(time.Hour)),
		event("u1", "browse", base.AddDate(0, 0, 6)),
	}))

	daily, err := s.store.CountByBucket(s.ctx, "browse", store.IntervalDaily, base.AddDate(0, 0, -1), base.AddDate(0, 0, 10))
	s.Require().NoError(err)
	s.Equal([]store.BucketCount{
		{Bucket: "2024-03-01", Count: 2},
		{Bucket: "2024-03-07", Count: 1},
	}, daily)

	weekly, err := s.store.CountByBucket(s.ctx, "browse", store.IntervalWeekly, base.AddDate(0, 0, -1), base.AddDate(0, 0, 10))
	s.Require().NoError(err)
	// 2024-03-01 is in ISO week 9; 2024-03-07 is in ISO week 10.
	s.Equal([]store.BucketCount{
		{Bucket: "2024-W09", Count: 2},
		{Bucket: "2024-W10", Count: 1},
	}, weekly)
}
