package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RangeQueue is a sorted set of block ranges waiting to be backfilled, ordered by
// start block. Members are "start-end".
type RangeQueue struct {
	c   *Client
	key string
}

func NewRangeQueue(c *Client) *RangeQueue {
	return &RangeQueue{c: c, key: c.key("backfill", "queue")}
}

// Push adds a range to the queue.
func (q *RangeQueue) Push(ctx context.Context, start, end uint64) error {
	member := fmt.Sprintf("%d-%d", start, end)
	if err := q.c.rdb.ZAdd(ctx, q.key, redis.Z{Score: float64(start), Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// Pop removes and returns the range with the lowest start block. ZPOPMIN is atomic, so
// concurrent workers never receive the same range.
func (q *RangeQueue) Pop(ctx context.Context) (start, end uint64, found bool, err error) {
	results, err := q.c.rdb.ZPopMin(ctx, q.key, 1).Result()
	if err != nil {
		return 0, 0, false, fmt.Errorf("zpopmin failed: %w", err)
	}
	if len(results) == 0 {
		return 0, 0, false, nil
	}
	member, _ := results[0].Member.(string)
	start, end, err = ParseRangeString(member)
	if err != nil {
		return 0, 0, false, err
	}
	return start, end, true, nil
}

// All returns every queued range in start order.
func (q *RangeQueue) All(ctx context.Context) ([]string, error) {
	return q.c.rdb.ZRange(ctx, q.key, 0, -1).Result()
}

// ErrQueueContended is returned by Rewrite when other writers kept changing the queue.
var ErrQueueContended = errors.New("backfill queue changed during rewrite")

const maxRewriteAttempts = 5

// RewriteFunc maps the current queue members to their replacement. changed false leaves
// the queue as it is.
type RewriteFunc func(members []string) (ranges [][2]uint64, changed bool, err error)

// Rewrite replaces the queue with fn's result in one optimistic transaction. The key is
// watched while fn runs; a push landing in between aborts the write and fn runs again on
// the new contents, so no queued range is lost.
func (q *RangeQueue) Rewrite(ctx context.Context, fn RewriteFunc) error {
	txf := func(tx *redis.Tx) error {
		members, err := tx.ZRange(ctx, q.key, 0, -1).Result()
		if err != nil {
			return err
		}
		ranges, changed, err := fn(members)
		if err != nil || !changed {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, q.key)
			for _, r := range ranges {
				pipe.ZAdd(ctx, q.key, redis.Z{Score: float64(r[0]), Member: fmt.Sprintf("%d-%d", r[0], r[1])})
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxRewriteAttempts; attempt++ {
		err := q.c.rdb.Watch(ctx, txf, q.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("rewrite queue failed: %w", err)
		}
		return nil
	}
	return ErrQueueContended
}

// ParseRangeString parses "12000-12500" format.
func ParseRangeString(s string) (start, end uint64, err error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range format: %s", s)
	}
	start, err = strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start: %w", err)
	}
	end, err = strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end: %w", err)
	}
	if start > end {
		return 0, 0, fmt.Errorf("start > end: %d > %d", start, end)
	}
	return start, end, nil
}
