//go:build integration

package prisonconfig

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	platformredis "locations-inside-prison/internal/platform/redis"
	"locations-inside-prison/pkg/testutil/containers"
)

type RedisResolverSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *platformredis.Client
}

func TestRedisResolverSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisResolverSuite))
}

func (s *RedisResolverSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.cache = &platformredis.Client{Client: s.redis.Client}
}

func (s *RedisResolverSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

// TestCacheHitSkipsTheRegister verifies the second lookup is served from Redis.
func (s *RedisResolverSuite) TestCacheHitSkipsTheRegister() {
	ctx := context.Background()
	src := &countingSource{flags: map[string]bool{"MDI": true}}
	resolver := NewCachedResolver(src, s.cache, time.Minute, discardLogger())

	for i := 0; i < 3; i++ {
		required, err := resolver.CertificationRequired(ctx, "MDI")
		s.Require().NoError(err)
		s.True(required)
	}
	s.Equal(1, src.calls)

	// A different prison is its own cache entry.
	required, err := resolver.CertificationRequired(ctx, "LEI")
	s.Require().NoError(err)
	s.False(required)
	s.Equal(2, src.calls)
}

// TestNegativeResultIsCachedToo verifies "false" round-trips distinctly from a
// cache miss.
func (s *RedisResolverSuite) TestNegativeResultIsCachedToo() {
	ctx := context.Background()
	src := &countingSource{flags: map[string]bool{}}
	resolver := NewCachedResolver(src, s.cache, time.Minute, discardLogger())

	for i := 0; i < 2; i++ {
		required, err := resolver.CertificationRequired(ctx, "LEI")
		s.Require().NoError(err)
		s.False(required)
	}
	s.Equal(1, src.calls)
}

// TestExpiredEntryFallsThrough verifies the register is consulted again after
// the TTL lapses.
func (s *RedisResolverSuite) TestExpiredEntryFallsThrough() {
	ctx := context.Background()
	src := &countingSource{flags: map[string]bool{"MDI": true}}
	resolver := NewCachedResolver(src, s.cache, 50*time.Millisecond, discardLogger())

	_, err := resolver.CertificationRequired(ctx, "MDI")
	s.Require().NoError(err)
	s.Equal(1, src.calls)

	time.Sleep(100 * time.Millisecond)

	required, err := resolver.CertificationRequired(ctx, "MDI")
	s.Require().NoError(err)
	s.True(required)
	s.Equal(2, src.calls)
}
