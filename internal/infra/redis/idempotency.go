package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stored while the first execution of a key is running. Responses are JSON and never collide.
const inProgress = "\x00in-progress"

// IdempotencyStore caches responses under client-supplied keys.
type IdempotencyStore struct {
	c *Client
}

func NewIdempotencyStore(c *Client) *IdempotencyStore {
	return &IdempotencyStore{c: c}
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, []byte, error) {
	k := s.c.key("idem", key)
	// A retry covers the key expiring between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.c.rdb.SetNX(ctx, k, inProgress, ttl).Result()
		if err != nil {
			return false, nil, fmt.Errorf("setnx failed: %w", err)
		}
		if ok {
			return true, nil, nil
		}
		val, err := s.c.rdb.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return false, nil, fmt.Errorf("get failed: %w", err)
		}
		if string(val) == inProgress {
			return false, nil, nil
		}
		return false, val, nil
	}
	return false, nil, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	if err := s.c.rdb.Set(ctx, s.c.key("idem", key), response, ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.c.rdb.Del(ctx, s.c.key("idem", key)).Err()
}
