package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"go-social/internal/metrics"
)

// Remember serves key from the cache, falling back to load on a miss and
// storing the result. Cache failures only cost a trip to the store.
func Remember[T any](ctx context.Context, r *RedisCache, ns Namespace, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if r == nil {
		return load(ctx)
	}

	logger := zerolog.Ctx(ctx)
	cached, err := GetJSON[T](ctx, r, key)
	switch {
	case err == nil:
		metrics.RecordCacheLookup(string(ns), "hit")
		return cached, nil
	case errors.Is(err, ErrMiss):
		metrics.RecordCacheLookup(string(ns), "miss")
	default:
		metrics.RecordCacheLookup(string(ns), "error")
		logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if err := SetJSON(ctx, r, key, value, ttl); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return value, nil
}
