//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pulse/internal/analytics/cache"
	"pulse/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	ctx   context.Context
	redis *containers.RedisContainer
	cache *cache.Redis
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.ctx = context.Background()
	s.redis = containers.NewRedisContainer(s.T())
	s.cache = cache.NewRedis(s.redis.Client)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisCacheSuite) TestMissThenRoundTrip() {
	key := cache.Key("userJourney", "u1", "1", "50")

	_, err := s.cache.Get(s.ctx, key)
	s.ErrorIs(err, cache.ErrMiss)

	payload := []byte(`{"userId":"u1","events":[]}`)
	s.Require().NoError(s.cache.Set(s.ctx, key, payload, time.Hour))

	got, err := s.cache.Get(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(payload, got, "cached payload must come back byte-identical")
}

func (s *RedisCacheSuite) TestTTLExpiry() {
	key := cache.Key("retention", "signup", "7", "p1", "l50")
	s.Require().NoError(s.cache.Set(s.ctx, key, []byte("{}"), 200*time.Millisecond))

	_, err := s.cache.Get(s.ctx, key)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		_, err := s.cache.Get(s.ctx, key)
		return err != nil
	}, 2*time.Second, 50*time.Millisecond, "entry must expire with its TTL")
}
