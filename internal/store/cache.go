package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	latestReadingKey = "iot:latest_reading"
	cacheTTL         = time.Hour
)

// StateCache keeps the most recent sensor reading in redis so dashboard
// reloads do not hit postgres. It is strictly best-effort: every miss or
// error falls through to the repo.
type StateCache struct {
	rdb *redis.Client
}

func NewStateCache(rdb *redis.Client) *StateCache {
	return &StateCache{rdb: rdb}
}

func (c *StateCache) SetLatestReading(ctx context.Context, data []byte) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Set(ctx, latestReadingKey, data, cacheTTL).Err()
}

// LatestReading returns the cached reading JSON, nil on a miss.
func (c *StateCache) LatestReading(ctx context.Context) ([]byte, error) {
	if c == nil || c.rdb == nil {
		return nil, nil
	}
	b, err := c.rdb.Get(ctx, latestReadingKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}
