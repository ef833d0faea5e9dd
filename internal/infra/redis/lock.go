package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Only the holder's token may delete the key.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// LeaseStore grants exclusive, expiring leases shared by every process on the same Redis.
type LeaseStore struct {
	c *Client
}

func NewLeaseStore(c *Client) *LeaseStore {
	return &LeaseStore{c: c}
}

// TryAcquire sets the key to a fresh token if it is free.
func (s *LeaseStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.c.rdb.SetNX(ctx, s.c.key("lock", key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the key if token still holds it. It reports false when the lease
// expired or passed to another holder.
func (s *LeaseStore) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.c.rdb, []string{s.c.key("lock", key)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("release failed: %w", err)
	}
	return n == 1, nil
}
