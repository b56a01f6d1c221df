package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RateCounter is a fixed-window counter kept in the cache with INCR + EXPIRE.
// It fails open: when the cache is unavailable every call is allowed.
type RateCounter struct {
	cache  *RedisCache
	ns     Namespace
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRateCounter allows limit hits per window for each subject. A limit of
// zero disables the counter.
func NewRateCounter(c *RedisCache, ns Namespace, limit int64, window time.Duration, clock func() time.Time) *RateCounter {
	if clock == nil {
		clock = time.Now
	}
	return &RateCounter{cache: c, ns: ns, limit: limit, window: window, now: clock}
}

func (r *RateCounter) Allow(ctx context.Context, subject any) bool {
	if r == nil || r.cache == nil || r.limit <= 0 {
		return true
	}

	bucket := r.now().Truncate(r.window).Unix()
	key := r.ns.Key(subject, bucket)

	n, err := r.cache.Incr(ctx, key)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("rate counter unavailable")
		return true
	}
	if n == 1 {
		if err := r.cache.Expire(ctx, key, r.window); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("rate counter expiry failed")
		}
	}
	return n <= r.limit
}
