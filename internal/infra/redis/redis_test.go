package redis

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/notify"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, Wrap(rdb, "test:")
}

func TestLeaseStore_MutualExclusion(t *testing.T) {
	_, c := setupTestRedis(t)
	locks := NewLeaseStore(c)
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := locks.TryAcquire(ctx, "packet:1", time.Second)
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestLeaseStore_ReleaseRequiresToken(t *testing.T) {
	mr, c := setupTestRedis(t)
	locks := NewLeaseStore(c)
	ctx := context.Background()

	token, ok, err := locks.TryAcquire(ctx, "packet:1", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("test:lock:packet:1"))

	released, err := locks.Release(ctx, "packet:1", "not-the-token")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = locks.Release(ctx, "packet:1", token)
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("test:lock:packet:1"))
}

func TestLeaseStore_ExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	mr, c := setupTestRedis(t)
	locks := NewLeaseStore(c)
	ctx := context.Background()

	old, ok, err := locks.TryAcquire(ctx, "packet:1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locks.TryAcquire(ctx, "packet:1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := locks.Release(ctx, "packet:1", old)
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("test:lock:packet:1"))
}

func TestIdempotencyStore(t *testing.T) {
	mr, c := setupTestRedis(t)
	store := NewIdempotencyStore(c)
	ctx := context.Background()

	reserved, cached, err := store.Reserve(ctx, "req-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.Nil(t, cached)

	reserved, cached, err = store.Reserve(ctx, "req-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Nil(t, cached)

	require.NoError(t, store.Complete(ctx, "req-1", []byte(`{"amount":"5"}`), time.Hour))
	reserved, cached, err = store.Reserve(ctx, "req-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.JSONEq(t, `{"amount":"5"}`, string(cached))

	mr.FastForward(2 * time.Hour)
	reserved, _, err = store.Reserve(ctx, "req-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, reserved)

	require.NoError(t, store.Release(ctx, "req-1"))
	assert.False(t, mr.Exists("test:idem:req-1"))
}

func TestPublisher(t *testing.T) {
	_, c := setupTestRedis(t)
	ctx := context.Background()

	sub := c.rdb.Subscribe(ctx, "test:packets")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewPublisher(c, "packets")
	require.NoError(t, pub.Publish(ctx, notify.Message{Event: notify.EventPacketCreated, PacketID: "0xp1"}))

	select {
	case m := <-sub.Channel():
		var got notify.Message
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &got))
		assert.Equal(t, notify.EventPacketCreated, got.Event)
		assert.Equal(t, "0xp1", got.PacketID)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRangeQueue(t *testing.T) {
	mr, c := setupTestRedis(t)
	q := NewRangeQueue(c)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, 500, 600))
	require.NoError(t, q.Push(ctx, 100, 200))
	assert.True(t, mr.Exists("test:backfill:queue"))

	all, err := q.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"100-200", "500-600"}, all)

	require.NoError(t, q.Rewrite(ctx, func(members []string) ([][2]uint64, bool, error) {
		return [][2]uint64{{100, 600}}, true, nil
	}))
	start, end, found, err := q.Pop(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(100), start)
	assert.Equal(t, uint64(600), end)

	_, _, found, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRangeQueue_RewriteKeepsConcurrentPush(t *testing.T) {
	_, c := setupTestRedis(t)
	q := NewRangeQueue(c)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, 100, 200))
	require.NoError(t, q.Push(ctx, 150, 300))

	calls := 0
	err := q.Rewrite(ctx, func(members []string) ([][2]uint64, bool, error) {
		calls++
		if calls == 1 {
			// Another instance queues a range after the read.
			require.NoError(t, q.Push(ctx, 900, 950))
			return [][2]uint64{{100, 300}}, true, nil
		}
		assert.Equal(t, []string{"100-200", "150-300", "900-950"}, members)
		return [][2]uint64{{100, 300}, {900, 950}}, true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	all, err := q.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"100-300", "900-950"}, all)
}

func TestRangeQueue_RewriteUnchanged(t *testing.T) {
	_, c := setupTestRedis(t)
	q := NewRangeQueue(c)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, 1, 2))

	require.NoError(t, q.Rewrite(ctx, func(members []string) ([][2]uint64, bool, error) {
		return nil, false, nil
	}))
	all, err := q.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1-2"}, all)
}

func TestParseRangeString(t *testing.T) {
	start, end, err := ParseRangeString("12000-12500")
	require.NoError(t, err)
	assert.Equal(t, uint64(12000), start)
	assert.Equal(t, uint64(12500), end)

	for _, bad := range []string{"", "12", "a-b", "9-3"} {
		_, _, err := ParseRangeString(bad)
		assert.Error(t, err, bad)
	}
}
