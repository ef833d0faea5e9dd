package chain

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
)

type countingAdapter struct {
	head  uint64
	calls int
}

func (m *countingAdapter) GetLatestBlock(ctx context.Context) (uint64, error) {
	m.calls++
	return m.head, nil
}

func (m *countingAdapter) GetBlockHash(ctx context.Context, blockNumber uint64) (string, error) {
	return "0xhash", nil
}

func (m *countingAdapter) FilterLogs(ctx context.Context, kind domain.EventKind, from, to uint64) ([]types.Log, error) {
	return nil, nil
}

func TestHeadCache_CachesResult(t *testing.T) {
	adapter := &countingAdapter{head: 1000}
	cache := NewHeadCache(adapter, time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		head, err := cache.GetLatestBlock(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if head != 1000 {
			t.Errorf("head = %d, want 1000", head)
		}
	}
	if adapter.calls != 1 {
		t.Errorf("adapter calls = %d, want 1", adapter.calls)
	}
}

func TestHeadCache_Invalidate(t *testing.T) {
	adapter := &countingAdapter{head: 1000}
	cache := NewHeadCache(adapter, time.Minute)
	ctx := context.Background()

	_, _ = cache.GetLatestBlock(ctx)
	adapter.head = 1005
	cache.Invalidate()

	head, err := cache.GetLatestBlock(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head != 1005 {
		t.Errorf("head = %d, want 1005", head)
	}
	if adapter.calls != 2 {
		t.Errorf("adapter calls = %d, want 2", adapter.calls)
	}
}

func TestHeadCache_ZeroTTLAlwaysFetches(t *testing.T) {
	adapter := &countingAdapter{head: 7}
	cache := NewHeadCache(adapter, 0)
	ctx := context.Background()

	_, _ = cache.GetLatestBlock(ctx)
	_, _ = cache.GetLatestBlock(ctx)
	if adapter.calls != 2 {
		t.Errorf("adapter calls = %d, want 2", adapter.calls)
	}
}
