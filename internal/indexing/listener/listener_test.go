package listener

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/cursor"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/applier"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/throttle"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage/memory"
)

// fakeChain implements chain.Adapter and Decoder over pre-decoded events.
type fakeChain struct {
	mu      sync.Mutex
	head    uint64
	events  map[domain.EventKind][]domain.Event
	failErr error
	queries map[domain.EventKind][][2]uint64
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{
		head:    head,
		events:  make(map[domain.EventKind][]domain.Event),
		queries: make(map[domain.EventKind][][2]uint64),
	}
}

func (c *fakeChain) add(ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[ev.Kind()] = append(c.events[ev.Kind()], ev)
}

func (c *fakeChain) GetLatestBlock(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) GetBlockHash(ctx context.Context, n uint64) (string, error) {
	return fmt.Sprintf("0xh%d", n), nil
}

func (c *fakeChain) FilterLogs(ctx context.Context, kind domain.EventKind, from, to uint64) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries[kind] = append(c.queries[kind], [2]uint64{from, to})
	if c.failErr != nil {
		return nil, c.failErr
	}
	var logs []types.Log
	for i, ev := range c.events[kind] {
		if m := ev.Meta(); m.BlockNumber >= from && m.BlockNumber <= to {
			logs = append(logs, types.Log{BlockNumber: m.BlockNumber, Index: uint(i)})
		}
	}
	return logs, nil
}

func (c *fakeChain) DecodeAll(ctx context.Context, kind domain.EventKind, logs []types.Log) []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Event, 0, len(logs))
	for _, lg := range logs {
		out = append(out, c.events[kind][lg.Index])
	}
	return out
}

const (
	contract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	pid      = "0x00000000000000000000000000000000000000000000000000000000000000bb"
)

func meta(block uint64, idx uint) domain.LogMeta {
	return domain.LogMeta{
		BlockNumber: block,
		BlockHash:   fmt.Sprintf("0xh%d", block),
		TxHash:      fmt.Sprintf("0xt%d-%d", block, idx),
		LogIndex:    idx,
	}
}

func createdAt(block uint64) *domain.Created {
	return &domain.Created{LogMeta: meta(block, 0), PacketID: pid, TotalAmount: big.NewInt(1000), Count: 2, ExpireTime: 4_000_000_000}
}

func claimedAt(block uint64, claimer string, remaining uint32) *domain.Claimed {
	return &domain.Claimed{LogMeta: meta(block, 1), PacketID: pid, Claimer: claimer, Amount: big.NewInt(500), RemainingCount: remaining}
}

type harness struct {
	chain   *fakeChain
	store   *memory.MemoryStorage
	cursors *cursor.DefaultManager
	poller  *Poller
}

func newHarness(t *testing.T, head uint64, cfg Config) *harness {
	t.Helper()
	store := memory.NewMemoryStorage()
	h := &harness{
		chain:   newFakeChain(head),
		store:   store,
		cursors: cursor.NewManager(memory.NewCursorRepo(store)),
	}
	cfg.Contract = contract
	h.poller = NewPoller(cfg, h.chain, h.cursors, h.chain, applier.New(store, nil, nil), nil)
	return h
}

func (h *harness) watcher(kind domain.EventKind) *Watcher {
	for _, w := range h.poller.Watchers() {
		if w.kind == kind {
			return w
		}
	}
	return nil
}

func (h *harness) cursorOf(t *testing.T, kind domain.EventKind) uint64 {
	t.Helper()
	block, found, err := h.cursors.Get(context.Background(), domain.SourceName(contract, kind))
	if err != nil || !found {
		t.Fatalf("cursor %s: found=%v err=%v", kind, found, err)
	}
	return block
}

func TestWatcher_TickChunksToHead(t *testing.T) {
	h := newHarness(t, 125, Config{StartBlock: 100, MaxBlockRange: 10})
	h.chain.add(createdAt(117))

	lag, err := h.watcher(domain.EventKindCreated).Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if lag != 0 {
		t.Errorf("lag = %d, want 0", lag)
	}

	want := [][2]uint64{{100, 109}, {110, 119}, {120, 125}}
	if got := h.chain.queries[domain.EventKindCreated]; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("queries = %v, want %v", got, want)
	}
	if c := h.cursorOf(t, domain.EventKindCreated); c != 125 {
		t.Errorf("cursor = %d, want 125", c)
	}
	if _, err := h.store.GetPacket(context.Background(), pid); err != nil {
		t.Errorf("packet not mirrored: %v", err)
	}
}

func TestWatcher_ResumesFromCursor(t *testing.T) {
	h := newHarness(t, 200, Config{StartBlock: 1, MaxBlockRange: 1000})
	_ = h.cursors.Reset(context.Background(), domain.SourceName(contract, domain.EventKindCreated), 150)

	if _, err := h.watcher(domain.EventKindCreated).Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	want := [][2]uint64{{151, 200}}
	if got := h.chain.queries[domain.EventKindCreated]; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("queries = %v, want %v", got, want)
	}

	// Caught up: no query when from > head.
	if _, err := h.watcher(domain.EventKindCreated).Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if n := len(h.chain.queries[domain.EventKindCreated]); n != 1 {
		t.Errorf("queries = %d, want 1", n)
	}
}

func TestWatcher_FetchErrorKeepsCursor(t *testing.T) {
	h := newHarness(t, 200, Config{StartBlock: 100, MaxBlockRange: 1000})
	_ = h.cursors.Reset(context.Background(), domain.SourceName(contract, domain.EventKindClaimed), 120)
	h.chain.failErr = errors.New("rpc timeout")

	if _, err := h.watcher(domain.EventKindClaimed).Tick(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if c := h.cursorOf(t, domain.EventKindClaimed); c != 120 {
		t.Errorf("cursor = %d, want 120", c)
	}
}

func TestWatcher_DeferredClaimHoldsCursor(t *testing.T) {
	h := newHarness(t, 200, Config{StartBlock: 100, MaxBlockRange: 1000})
	h.chain.add(createdAt(150))
	h.chain.add(claimedAt(160, "0xa", 1))
	claims := h.watcher(domain.EventKindClaimed)

	// The Claimed watcher runs ahead of the Created watcher.
	if _, err := claims.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if c := h.cursorOf(t, domain.EventKindClaimed); c != 159 {
		t.Errorf("claimed cursor = %d, want 159", c)
	}

	if _, err := h.watcher(domain.EventKindCreated).Tick(context.Background()); err != nil {
		t.Fatalf("created Tick failed: %v", err)
	}
	if _, err := claims.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if c := h.cursorOf(t, domain.EventKindClaimed); c != 200 {
		t.Errorf("claimed cursor = %d, want 200", c)
	}

	p, _ := h.store.GetPacket(context.Background(), pid)
	if p.RemainingAmount.Int64() != 500 || p.RemainingCount != 1 {
		t.Errorf("remaining = %s/%d", p.RemainingAmount, p.RemainingCount)
	}
	if claims.held != nil {
		t.Errorf("hold not cleared: %+v", claims.held)
	}
}

func TestWatcher_DeferredClaimNeverSkipped(t *testing.T) {
	h := newHarness(t, 200, Config{StartBlock: 100, MaxBlockRange: 1000, StallAfter: time.Minute})
	h.chain.add(claimedAt(160, "0xa", 1))
	claims := h.watcher(domain.EventKindClaimed)

	now := time.Unix(1_700_000_000, 0)
	claims.now = func() time.Time { return now }

	// However long the Created watcher lags, the claim keeps holding the cursor.
	for i := 0; i < 50; i++ {
		if _, err := claims.Tick(context.Background()); err != nil {
			t.Fatalf("Tick %d failed: %v", i, err)
		}
		if c := h.cursorOf(t, domain.EventKindClaimed); c != 159 {
			t.Fatalf("tick %d: cursor = %d, want 159", i, c)
		}
		now = now.Add(5 * time.Second)
	}
	if claims.held == nil || claims.held.block != 160 || !claims.held.warned {
		t.Fatalf("hold = %+v, want stalled at 160", claims.held)
	}

	// The packet finally arrives.
	h.chain.add(createdAt(150))
	if _, err := h.watcher(domain.EventKindCreated).Tick(context.Background()); err != nil {
		t.Fatalf("created Tick failed: %v", err)
	}
	if _, err := claims.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if c := h.cursorOf(t, domain.EventKindClaimed); c != 200 {
		t.Errorf("claimed cursor = %d, want 200", c)
	}
	p, err := h.store.GetPacket(context.Background(), pid)
	if err != nil {
		t.Fatalf("GetPacket failed: %v", err)
	}
	if p.RemainingAmount.Int64() != 500 || p.RemainingCount != 1 {
		t.Errorf("remaining = %s/%d, want 500/1", p.RemainingAmount, p.RemainingCount)
	}
	if claims.held != nil {
		t.Errorf("hold not cleared: %+v", claims.held)
	}
}

func TestWatcher_DeferredOnFirstBlockKeepsCursor(t *testing.T) {
	h := newHarness(t, 200, Config{StartBlock: 100, MaxBlockRange: 1000})
	h.chain.add(claimedAt(160, "0xa", 1))
	claims := h.watcher(domain.EventKindClaimed)
	ctx := context.Background()

	if _, err := claims.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	// The cursor now sits at 159, so the next chunk starts on the held block.
	if _, err := claims.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if c := h.cursorOf(t, domain.EventKindClaimed); c != 159 {
		t.Errorf("cursor = %d, want 159", c)
	}
}

func TestWatcher_HeldTickPollsAtBaseInterval(t *testing.T) {
	h := newHarness(t, 5000, Config{
		StartBlock:    100,
		MaxBlockRange: 10_000,
		Interval:      time.Second,
		Throttle:      throttle.DefaultConfig(),
	})
	h.chain.add(claimedAt(160, "0xa", 1))
	claims := h.watcher(domain.EventKindClaimed)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = claims.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for claims.Status().LastTick.IsZero() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	st := claims.Status()
	if st.HeldAt != 160 || st.DeferredSince == nil {
		t.Fatalf("status = %+v, want held at 160", st)
	}
	// A lag of ~4800 blocks would otherwise burst at the throttle minimum.
	if st.Interval != time.Second {
		t.Errorf("interval = %v, want 1s while held", st.Interval)
	}
}

func TestPoller_StartStop(t *testing.T) {
	h := newHarness(t, 130, Config{StartBlock: 100, MaxBlockRange: 1000, Interval: 10 * time.Millisecond})
	h.chain.add(createdAt(110))
	h.chain.add(claimedAt(120, "0xa", 1))

	ctx := context.Background()
	if err := h.poller.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.poller.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		p, err := h.store.GetPacket(ctx, pid)
		if err == nil && p.RemainingCount == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("poller did not apply the claim")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.poller.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	for _, s := range h.poller.Status() {
		if s.LastTick.IsZero() {
			t.Errorf("watcher %s never ticked", s.Kind)
		}
	}

	// Restart after stop is allowed.
	if err := h.poller.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	_ = h.poller.Stop(stopCtx)
}

func TestPoller_ProcessRangeLeavesCursors(t *testing.T) {
	h := newHarness(t, 300, Config{StartBlock: 100, MaxBlockRange: 1000})
	h.chain.add(claimedAt(160, "0xa", 1))
	h.chain.add(createdAt(150))

	res, err := h.poller.ProcessRange(context.Background(), 100, 200)
	if err != nil {
		t.Fatalf("ProcessRange failed: %v", err)
	}
	if res.Applied != 2 {
		t.Errorf("applied = %d, want 2", res.Applied)
	}
	cursors, _ := h.cursors.List(context.Background())
	if len(cursors) != 0 {
		t.Errorf("cursors touched: %d", len(cursors))
	}
}
