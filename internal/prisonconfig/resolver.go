// Package prisonconfig resolves per-prison configuration. The only flag the
// core cares about is whether certification-impacting edits must go through
// the approval workflow or apply immediately.
package prisonconfig

//go:generate mockgen -source=resolver.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"log/slog"
	"time"

	platformredis "locations-inside-prison/internal/platform/redis"
)

// Resolver reports whether a prison requires certification approval for
// capacity-affecting edits.
type Resolver interface {
	CertificationRequired(ctx context.Context, prisonID string) (bool, error)
}

// Source is the upstream prison register lookup.
type Source interface {
	CertificationRequired(ctx context.Context, prisonID string) (bool, error)
}

// StaticSource is a fixed flag map for tests and local development.
type StaticSource map[string]bool

func (s StaticSource) CertificationRequired(_ context.Context, prisonID string) (bool, error) {
	return s[prisonID], nil
}

// CachedResolver fronts the prison register with a Redis cache. A cache
// failure is not fatal; the register is consulted directly instead.
type CachedResolver struct {
	source Source
	cache  *platformredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedResolver(source Source, cache *platformredis.Client, ttl time.Duration, logger *slog.Logger) *CachedResolver {
	return &CachedResolver{source: source, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(prisonID string) string {
	return "prison-config:certification-required:" + prisonID
}

func (r *CachedResolver) CertificationRequired(ctx context.Context, prisonID string) (bool, error) {
	if r.cache != nil {
		cached, err := r.cache.Get(ctx, cacheKey(prisonID)).Result()
		if err == nil {
			return cached == "true", nil
		}
	}

	required, err := r.source.CertificationRequired(ctx, prisonID)
	if err != nil {
		return false, err
	}

	if r.cache != nil {
		value := "false"
		if required {
			value = "true"
		}
		if err := r.cache.Set(ctx, cacheKey(prisonID), value, r.ttl).Err(); err != nil {
			r.logger.WarnContext(ctx, "failed to cache prison config",
				"prison_id", prisonID,
				"error", err,
			)
		}
	}
	return required, nil
}
