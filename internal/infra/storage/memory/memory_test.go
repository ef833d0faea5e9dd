package memory

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
)

func seedPacket(t *testing.T, s *MemoryStorage, id string, block uint64, hash string) {
	t.Helper()
	ctx := context.Background()
	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()
	ok, err := uow.InsertPacket(ctx, &domain.Packet{
		PacketID:        id,
		TotalAmount:     big.NewInt(100),
		RemainingAmount: big.NewInt(100),
		Count:           4,
		RemainingCount:  4,
		ExpireTime:      time.Now().Add(time.Hour),
		BlockNumber:     block,
		BlockHash:       hash,
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, uow.Commit())
}

func seedClaim(t *testing.T, s *MemoryStorage, c *domain.Claim) {
	t.Helper()
	ctx := context.Background()
	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()
	ok, err := uow.InsertClaim(ctx, c)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, uow.RecomputeBestClaims(ctx, c.PacketID))
	require.NoError(t, uow.Commit())
}

func TestRollbackDiscardsWrites(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = uow.InsertPacket(ctx, &domain.Packet{
		PacketID:        "p1",
		TotalAmount:     big.NewInt(1),
		RemainingAmount: big.NewInt(1),
	})
	require.NoError(t, err)
	require.NoError(t, uow.Rollback())
	require.NoError(t, uow.Rollback())

	_, err = s.GetPacket(ctx, "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = uow.InsertPacket(ctx, &domain.Packet{PacketID: "p2"})
	assert.ErrorIs(t, err, storage.ErrTxDone)
}

func TestInsertPacketIgnoresDuplicates(t *testing.T) {
	s := NewMemoryStorage()
	seedPacket(t, s, "p1", 10, "0xa")

	ctx := context.Background()
	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()
	ok, err := uow.InsertPacket(ctx, &domain.Packet{PacketID: "p1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertClaimUniqueness(t *testing.T) {
	s := NewMemoryStorage()
	seedPacket(t, s, "p1", 10, "0xa")
	seedClaim(t, s, &domain.Claim{PacketID: "p1", Claimer: "alice", Amount: big.NewInt(10), TxHash: "0xt1", BlockNumber: 11, BlockHash: "0xb"})

	ctx := context.Background()
	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	ok, err := uow.InsertClaim(ctx, &domain.Claim{PacketID: "p1", Claimer: "alice", Amount: big.NewInt(1), TxHash: "0xt2"})
	require.NoError(t, err)
	assert.False(t, ok, "same claimer")

	ok, err = uow.InsertClaim(ctx, &domain.Claim{PacketID: "p1", Claimer: "bob", Amount: big.NewInt(1), TxHash: "0xt1"})
	require.NoError(t, err)
	assert.False(t, ok, "same tx hash")

	_, err = uow.InsertClaim(ctx, &domain.Claim{PacketID: "nope", Claimer: "bob", Amount: big.NewInt(1), TxHash: "0xt3"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecomputeBestClaimsMarksTies(t *testing.T) {
	s := NewMemoryStorage()
	seedPacket(t, s, "p1", 10, "0xa")
	seedClaim(t, s, &domain.Claim{PacketID: "p1", Claimer: "a", Amount: big.NewInt(30), TxHash: "0x1", BlockNumber: 11, BlockHash: "0xb"})
	seedClaim(t, s, &domain.Claim{PacketID: "p1", Claimer: "b", Amount: big.NewInt(50), TxHash: "0x2", BlockNumber: 12, BlockHash: "0xc"})
	seedClaim(t, s, &domain.Claim{PacketID: "p1", Claimer: "c", Amount: big.NewInt(50), TxHash: "0x3", BlockNumber: 13, BlockHash: "0xd"})

	claims, err := s.ListClaims(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, claims, 3)
	best := map[string]bool{}
	for _, c := range claims {
		best[c.Claimer] = c.IsBest
	}
	assert.Equal(t, map[string]bool{"a": false, "b": true, "c": true}, best)
}

func TestListClaimsPendingLast(t *testing.T) {
	s := NewMemoryStorage()
	seedPacket(t, s, "p1", 10, "0xa")
	seedClaim(t, s, &domain.Claim{PacketID: "p1", Claimer: "a", Amount: big.NewInt(1), TxHash: domain.PendingTxPrefix + "x"})
	seedClaim(t, s, &domain.Claim{PacketID: "p1", Claimer: "b", Amount: big.NewInt(1), TxHash: "0x2", BlockNumber: 20, BlockHash: "0xc"})
	seedClaim(t, s, &domain.Claim{PacketID: "p1", Claimer: "c", Amount: big.NewInt(1), TxHash: "0x3", BlockNumber: 15, BlockHash: "0xd"})

	claims, err := s.ListClaims(context.Background(), "p1")
	require.NoError(t, err)
	var order []string
	for _, c := range claims {
		order = append(order, c.Claimer)
	}
	assert.Equal(t, []string{"c", "b", "a"}, order)
}

func TestConfirmClaim(t *testing.T) {
	s := NewMemoryStorage()
	seedPacket(t, s, "p1", 10, "0xa")
	pending := domain.PendingTxPrefix + "abc"
	seedClaim(t, s, &domain.Claim{PacketID: "p1", Claimer: "a", Amount: big.NewInt(7), TxHash: pending})

	ctx := context.Background()
	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.ConfirmClaim(ctx, pending, &domain.Claim{Amount: big.NewInt(9), TxHash: "0xreal", BlockNumber: 30, BlockHash: "0xh", LogIndex: 2}))
	exists, err := uow.ClaimTxExists(ctx, pending)
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, uow.Commit())

	claims, err := s.ListClaims(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "0xreal", claims[0].TxHash)
	assert.Equal(t, big.NewInt(9), claims[0].Amount)
	assert.False(t, claims[0].Pending())
}

func TestDeleteOrphaned(t *testing.T) {
	s := NewMemoryStorage()
	// p1 created in an orphaned block, p2 claimed in one, p3 untouched.
	seedPacket(t, s, "p1", 100, "0xorphan")
	seedPacket(t, s, "p2", 90, "0xgood")
	seedPacket(t, s, "p3", 95, "0xgood3")
	seedClaim(t, s, &domain.Claim{PacketID: "p1", Claimer: "a", Amount: big.NewInt(1), TxHash: "0x1", BlockNumber: 101, BlockHash: "0xfine"})
	seedClaim(t, s, &domain.Claim{PacketID: "p2", Claimer: "a", Amount: big.NewInt(1), TxHash: "0x2", BlockNumber: 100, BlockHash: "0xorphan"})
	seedClaim(t, s, &domain.Claim{PacketID: "p2", Claimer: "b", Amount: big.NewInt(1), TxHash: "0x3", BlockNumber: 92, BlockHash: "0xok"})
	seedClaim(t, s, &domain.Claim{PacketID: "p3", Claimer: "a", Amount: big.NewInt(1), TxHash: "0x4", BlockNumber: 96, BlockHash: "0xok2"})

	ctx := context.Background()
	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	result, err := uow.DeleteOrphaned(ctx, []domain.BlockRef{{Number: 100, Hash: "0xorphan"}})
	require.NoError(t, err)
	require.NoError(t, uow.Commit())

	assert.Equal(t, []string{"p1", "p2"}, result.PacketIDs)
	assert.Equal(t, 2, result.DeletedPackets)
	assert.Equal(t, 3, result.DeletedClaims)
	assert.Equal(t, uint64(90), result.LowestBlock)

	_, err = s.GetPacket(ctx, "p2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	kept, err := s.ListClaims(ctx, "p3")
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	refs, err := s.ListBlockRefs(ctx, 0, 200)
	require.NoError(t, err)
	assert.Equal(t, []domain.BlockRef{{Number: 95, Hash: "0xgood3"}, {Number: 96, Hash: "0xok2"}}, refs)
}

func TestCursorRepo(t *testing.T) {
	s := NewMemoryStorage()
	repo := NewCursorRepo(s)
	ctx := context.Background()

	_, err := repo.Get(ctx, "c:created")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, repo.Save(ctx, &domain.Cursor{Source: "c:refunded", BlockNumber: 5}))
	require.NoError(t, repo.Save(ctx, &domain.Cursor{Source: "c:created", BlockNumber: 7}))

	got, err := repo.Get(ctx, "c:created")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.BlockNumber)
	assert.False(t, got.UpdatedAt.IsZero())

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c:created", all[0].Source)
}

func TestLeaseStore(t *testing.T) {
	s := NewLeaseStore()
	now := time.Unix(0, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	token, ok, err := s.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := s.Release(ctx, "k", "someone-else")
	require.NoError(t, err)
	assert.False(t, released)

	now = now.Add(2 * time.Second)
	token2, ok, err := s.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok, "expired lease is reclaimable")

	released, err = s.Release(ctx, "k", token)
	require.NoError(t, err)
	assert.False(t, released, "stale holder can't release")

	released, err = s.Release(ctx, "k", token2)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestIdempotencyStore(t *testing.T) {
	s := NewIdempotencyStore()
	now := time.Unix(0, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	reserved, cached, err := s.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, reserved)
	assert.Nil(t, cached)

	reserved, cached, err = s.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Nil(t, cached, "in progress")

	require.NoError(t, s.Complete(ctx, "k", []byte(`{"ok":true}`), time.Minute))
	reserved, cached, err = s.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.JSONEq(t, `{"ok":true}`, string(cached))

	now = now.Add(2 * time.Minute)
	reserved, _, err = s.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, reserved, "expired record")

	require.NoError(t, s.Release(ctx, "k"))
	reserved, _, err = s.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, reserved)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)

	leases := NewLeaseStore()
	leases.now = func() time.Time { return now }
	_, _, _ = leases.TryAcquire(ctx, "short", time.Second)
	_, _, _ = leases.TryAcquire(ctx, "long", time.Hour)

	keys := NewIdempotencyStore()
	keys.now = func() time.Time { return now }
	_, _, _ = keys.Reserve(ctx, "short", time.Second)
	require.NoError(t, keys.Complete(ctx, "long", []byte("{}"), time.Hour))

	later := now.Add(time.Minute)
	assert.Equal(t, 1, leases.Prune(later))
	assert.Equal(t, 1, keys.Prune(later))
	assert.Len(t, leases.leases, 1)
	assert.Len(t, keys.records, 1)
	assert.Equal(t, 0, keys.Prune(later))
}
