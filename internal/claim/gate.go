package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/metrics"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
)

// Gate runs a request at most once per idempotency key within TTL and replays the
// stored response to later duplicates.
type Gate struct {
	store storage.IdempotencyStore
	// ttl is how long a completed response is replayed.
	ttl time.Duration
	// inFlight bounds a reservation whose owner died before completing.
	inFlight time.Duration
}

func NewGate(store storage.IdempotencyStore, ttl, inFlight time.Duration) *Gate {
	if inFlight <= 0 || inFlight > ttl {
		inFlight = ttl
	}
	return &Gate{store: store, ttl: ttl, inFlight: inFlight}
}

// Do executes fn under key. It returns the cached response and replayed=true when the
// key already completed, and ErrInProgress when its first execution is still running.
// An fn error releases the key so the client can retry.
func (g *Gate) Do(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	reserved, cached, err := g.store.Reserve(ctx, key, g.inFlight)
	if err != nil {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if !reserved {
		if cached == nil {
			return nil, false, ErrInProgress
		}
		metrics.IdempotencyReplays.Inc()
		return cached, true, nil
	}

	resp, err := fn(ctx)
	if err != nil {
		// The reservation must not outlive a failed attempt.
		_ = g.store.Release(context.WithoutCancel(ctx), key)
		return nil, false, err
	}
	if err := g.store.Complete(context.WithoutCancel(ctx), key, resp, g.ttl); err != nil {
		return nil, false, fmt.Errorf("store idempotent response: %w", err)
	}
	return resp, false, nil
}
