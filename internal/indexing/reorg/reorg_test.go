package reorg

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/cursor"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/applier"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/notify"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage/memory"
)

type fakeChain struct {
	mu     sync.Mutex
	head   uint64
	hashes map[uint64]string
	calls  map[uint64]int
	err    error
}

func (c *fakeChain) GetLatestBlock(ctx context.Context) (uint64, error) {
	return c.head, nil
}

func (c *fakeChain) GetBlockHash(ctx context.Context, n uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[n]++
	if c.err != nil {
		return "", c.err
	}
	if h, ok := c.hashes[n]; ok {
		return h, nil
	}
	return fmt.Sprintf("0xh%d", n), nil
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (s *recordingSink) Notify(msg notify.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

const (
	packetA = "0x00000000000000000000000000000000000000000000000000000000000000a0"
	packetB = "0x00000000000000000000000000000000000000000000000000000000000000b0"
	packetC = "0x00000000000000000000000000000000000000000000000000000000000000c0"
)

func at(block uint64, hash string, idx uint) domain.LogMeta {
	return domain.LogMeta{
		BlockNumber: block,
		BlockHash:   hash,
		TxHash:      fmt.Sprintf("0xt%d-%d-%s", block, idx, hash),
		LogIndex:    idx,
	}
}

func created(id string, m domain.LogMeta) *domain.Created {
	return &domain.Created{LogMeta: m, PacketID: id, TotalAmount: big.NewInt(1000), Count: 2, ExpireTime: 4_000_000_000}
}

func claimed(id, claimer string, m domain.LogMeta, remaining uint32) *domain.Claimed {
	return &domain.Claimed{LogMeta: m, PacketID: id, Claimer: claimer, Amount: big.NewInt(400), RemainingCount: remaining}
}

var sources = func() []string {
	out := make([]string, 0, len(domain.EventKinds))
	for _, k := range domain.EventKinds {
		out = append(out, domain.SourceName("0xcontract", k))
	}
	return out
}()

type harness struct {
	store    *memory.MemoryStorage
	cursors  *cursor.DefaultManager
	chain    *fakeChain
	sink     *recordingSink
	applier  *applier.Applier
	detector *Detector
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewMemoryStorage()
	h := &harness{
		store:   store,
		cursors: cursor.NewManager(memory.NewCursorRepo(store)),
		chain:   &fakeChain{head: 150, hashes: map[uint64]string{}, calls: map[uint64]int{}},
		sink:    &recordingSink{},
		applier: applier.New(store, nil, nil),
	}
	handler := NewHandler(store, h.cursors, sources, h.sink)
	h.detector = NewDetector(Config{CheckDepth: 64}, h.chain, store, handler)
	for _, s := range sources {
		if err := h.cursors.Reset(context.Background(), s, 150); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
	}
	return h
}

func (h *harness) apply(t *testing.T, events ...domain.Event) {
	t.Helper()
	for _, ev := range events {
		if _, err := h.applier.Apply(context.Background(), ev); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}
}

func TestCheck_NoReorg(t *testing.T) {
	h := newHarness(t)
	h.apply(t,
		created(packetA, at(100, "0xh100", 0)),
		claimed(packetA, "0xa", at(110, "0xh110", 0), 1),
		claimed(packetA, "0xb", at(110, "0xh110", 1), 0),
	)

	res, err := h.detector.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(res.Orphaned) != 0 || res.Rollback != nil {
		t.Errorf("unexpected rollback: %+v", res)
	}
	if res.FromBlock != 86 || res.ToBlock != 150 {
		t.Errorf("window = [%d, %d], want [86, 150]", res.FromBlock, res.ToBlock)
	}
	// One RPC per distinct block number.
	if h.chain.calls[110] != 1 || len(h.chain.calls) != 2 {
		t.Errorf("calls = %v", h.chain.calls)
	}
	if h.detector.LastCheck().IsZero() {
		t.Error("LastCheck not recorded")
	}
}

func TestCheck_RollbackAndRebuild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.apply(t,
		created(packetA, at(100, "0xh100", 0)),
		claimed(packetA, "0xa", at(110, "0xstale110", 0), 1),
		created(packetB, at(112, "0xstale112", 0)),
		claimed(packetB, "0xb", at(113, "0xh113", 0), 1),
		created(packetC, at(120, "0xh120", 0)),
	)

	res, err := h.detector.Check(ctx)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(res.Orphaned) != 2 {
		t.Fatalf("orphaned = %v, want 2 refs", res.Orphaned)
	}
	rb := res.Rollback
	if rb == nil || rb.DeletedPackets != 2 || rb.DeletedClaims != 2 {
		t.Fatalf("rollback = %+v", rb)
	}
	if rb.RewoundTo != 99 {
		t.Errorf("RewoundTo = %d, want 99", rb.RewoundTo)
	}

	for _, id := range []string{packetA, packetB} {
		if _, err := h.store.GetPacket(ctx, id); err == nil {
			t.Errorf("packet %s survived rollback", id)
		}
	}
	if _, err := h.store.GetPacket(ctx, packetC); err != nil {
		t.Errorf("unaffected packet deleted: %v", err)
	}
	for _, s := range sources {
		block, _, _ := h.cursors.Get(ctx, s)
		if block != 99 {
			t.Errorf("cursor %s = %d, want 99", s, block)
		}
	}
	if len(h.sink.msgs) != 2 || h.sink.msgs[0].Event != notify.EventPacketRolledBack {
		t.Errorf("notifications = %+v", h.sink.msgs)
	}

	// Re-reading the canonical chain rebuilds the mirror.
	h.apply(t,
		created(packetA, at(100, "0xh100", 0)),
		created(packetB, at(112, "0xh112", 0)),
		claimed(packetA, "0xa", at(111, "0xh111", 0), 1),
		claimed(packetB, "0xb", at(113, "0xh113", 0), 1),
	)
	res, err = h.detector.Check(ctx)
	if err != nil {
		t.Fatalf("second Check failed: %v", err)
	}
	if len(res.Orphaned) != 0 {
		t.Errorf("rebuilt mirror still orphaned: %v", res.Orphaned)
	}
	a, _ := h.store.GetPacket(ctx, packetA)
	if a == nil || a.RemainingAmount.Int64() != 600 {
		t.Errorf("rebuilt packet A = %+v", a)
	}
}

func TestCheck_HashCaseInsensitive(t *testing.T) {
	h := newHarness(t)
	h.chain.hashes[100] = "0xABCDEF"
	h.apply(t, created(packetA, at(100, "0xabcdef", 0)))

	res, err := h.detector.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(res.Orphaned) != 0 {
		t.Errorf("orphaned = %v", res.Orphaned)
	}
}

func TestCheck_RPCErrorLeavesData(t *testing.T) {
	h := newHarness(t)
	h.apply(t, created(packetA, at(100, "0xstale", 0)))
	h.chain.err = errors.New("rpc down")

	if _, err := h.detector.Check(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := h.store.GetPacket(context.Background(), packetA); err != nil {
		t.Errorf("packet deleted on rpc error: %v", err)
	}
}

func TestCheck_OutsideWindowIgnored(t *testing.T) {
	h := newHarness(t)
	h.chain.head = 1000
	h.apply(t, created(packetA, at(100, "0xstale", 0)))

	res, err := h.detector.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Checked != 0 || len(res.Orphaned) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestRollback_Empty(t *testing.T) {
	h := newHarness(t)
	handler := NewHandler(h.store, h.cursors, sources, nil)

	res, err := handler.Rollback(context.Background(), nil)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if res.DeletedPackets != 0 {
		t.Errorf("result = %+v", res)
	}
}
