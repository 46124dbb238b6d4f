package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the redis client and the daily rollup counters the worker
// maintains for dashboard summaries.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

const rollupKeyPrefix = "faceattend:rollup:"

// rollups expire after the summary stops being interesting
const rollupTTL = 14 * 24 * time.Hour

// IncrDailyRollup bumps the present-count for a date.
func (r *Redis) IncrDailyRollup(ctx context.Context, date string) error {
	key := rollupKeyPrefix + date
	if err := r.Client.Incr(ctx, key).Err(); err != nil {
		return err
	}
	return r.Client.Expire(ctx, key, rollupTTL).Err()
}

// DailyRollup reads the present-count for a date. ok is false when no
// rollup exists, so callers can fall back to a store query.
func (r *Redis) DailyRollup(ctx context.Context, date string) (count int, ok bool, err error) {
	n, err := r.Client.Get(ctx, rollupKeyPrefix+date).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return n, true, nil
}
