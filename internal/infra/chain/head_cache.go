package chain

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
)

// HeadCache caches the result of GetLatestBlock to reduce redundant API calls.
// The per-kind watchers tick together, so without it every tick costs one
// eth_blockNumber per watcher.
type HeadCache struct {
	adapter Adapter
	ttl     time.Duration

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
}

// NewHeadCache creates a new head cache with the given TTL.
func NewHeadCache(adapter Adapter, ttl time.Duration) *HeadCache {
	return &HeadCache{
		adapter: adapter,
		ttl:     ttl,
	}
}

// GetLatestBlock returns the cached chain head if within TTL, otherwise fetches fresh.
func (c *HeadCache) GetLatestBlock(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if time.Since(c.cachedAt) < c.ttl && c.cached > 0 {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	head, err := c.adapter.GetLatestBlock(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.cached = head
	c.cachedAt = time.Now()
	c.mu.Unlock()

	return head, nil
}

// Invalidate clears the cache, forcing the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}

func (c *HeadCache) GetBlockHash(ctx context.Context, blockNumber uint64) (string, error) {
	return c.adapter.GetBlockHash(ctx, blockNumber)
}

func (c *HeadCache) FilterLogs(ctx context.Context, kind domain.EventKind, from, to uint64) ([]types.Log, error) {
	return c.adapter.FilterLogs(ctx, kind, from, to)
}
