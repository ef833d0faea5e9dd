package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
)

type dataset struct {
	packets map[string]*domain.Packet
	claims  map[string]*domain.Claim // packetID + "/" + claimer
	txIndex map[string]string        // txHash -> claim key
}

func newDataset() *dataset {
	return &dataset{
		packets: make(map[string]*domain.Packet),
		claims:  make(map[string]*domain.Claim),
		txIndex: make(map[string]string),
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for k, p := range d.packets {
		c.packets[k] = p.Clone()
	}
	for k, cl := range d.claims {
		c.claims[k] = cl.Clone()
	}
	for k, v := range d.txIndex {
		c.txIndex[k] = v
	}
	return c
}

func claimKey(packetID, claimer string) string {
	return packetID + "/" + claimer
}

// MemoryStorage is an in-process implementation of the mirror store.
// A unit of work holds the write lock until it completes, so units are serialized.
type MemoryStorage struct {
	mu      sync.RWMutex
	data    *dataset
	cursors map[string]*domain.Cursor
	now     func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data:    newDataset(),
		cursors: make(map[string]*domain.Cursor),
		now:     time.Now,
	}
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

func (s *MemoryStorage) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &unitOfWork{store: s, staged: s.data.clone()}, nil
}

func (s *MemoryStorage) GetPacket(ctx context.Context, packetID string) (*domain.Packet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data.packets[packetID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStorage) ListClaims(ctx context.Context, packetID string) ([]*domain.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Claim
	for _, c := range s.data.claims {
		if c.PacketID == packetID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Pending() != b.Pending() {
			return !a.Pending()
		}
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.LogIndex != b.LogIndex {
			return a.LogIndex < b.LogIndex
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStorage) ListBlockRefs(ctx context.Context, fromBlock, toBlock uint64) ([]domain.BlockRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[domain.BlockRef]struct{})
	add := func(num uint64, hash string) {
		if hash == "" || num < fromBlock || num > toBlock {
			return
		}
		seen[domain.BlockRef{Number: num, Hash: hash}] = struct{}{}
	}
	for _, p := range s.data.packets {
		add(p.BlockNumber, p.BlockHash)
	}
	for _, c := range s.data.claims {
		add(c.BlockNumber, c.BlockHash)
	}
	refs := make([]domain.BlockRef, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Number != refs[j].Number {
			return refs[i].Number < refs[j].Number
		}
		return refs[i].Hash < refs[j].Hash
	})
	return refs, nil
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// -----------------------------------------------------------------------------
// Unit of work
// -----------------------------------------------------------------------------

type unitOfWork struct {
	store  *MemoryStorage
	staged *dataset
	done   bool
}

func (u *unitOfWork) GetPacketForUpdate(ctx context.Context, packetID string) (*domain.Packet, error) {
	if u.done {
		return nil, storage.ErrTxDone
	}
	p, ok := u.staged.packets[packetID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (u *unitOfWork) InsertPacket(ctx context.Context, p *domain.Packet) (bool, error) {
	if u.done {
		return false, storage.ErrTxDone
	}
	if _, ok := u.staged.packets[p.PacketID]; ok {
		return false, nil
	}
	cp := p.Clone()
	now := u.store.now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	u.staged.packets[p.PacketID] = cp
	return true, nil
}

func (u *unitOfWork) UpdatePacket(ctx context.Context, p *domain.Packet) error {
	if u.done {
		return storage.ErrTxDone
	}
	cur, ok := u.staged.packets[p.PacketID]
	if !ok {
		return storage.ErrNotFound
	}
	cur.RemainingAmount = new(big.Int).Set(p.RemainingAmount)
	cur.RemainingCount = p.RemainingCount
	cur.VrfRequestID = p.VrfRequestID
	cur.RandomReady = p.RandomReady
	cur.Refunded = p.Refunded
	cur.UpdatedAt = u.store.now()
	return nil
}

func (u *unitOfWork) GetClaim(ctx context.Context, packetID, claimer string) (*domain.Claim, error) {
	if u.done {
		return nil, storage.ErrTxDone
	}
	c, ok := u.staged.claims[claimKey(packetID, claimer)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c.Clone(), nil
}

func (u *unitOfWork) ClaimTxExists(ctx context.Context, txHash string) (bool, error) {
	if u.done {
		return false, storage.ErrTxDone
	}
	_, ok := u.staged.txIndex[txHash]
	return ok, nil
}

func (u *unitOfWork) InsertClaim(ctx context.Context, c *domain.Claim) (bool, error) {
	if u.done {
		return false, storage.ErrTxDone
	}
	key := claimKey(c.PacketID, c.Claimer)
	if _, ok := u.staged.claims[key]; ok {
		return false, nil
	}
	if _, ok := u.staged.txIndex[c.TxHash]; ok {
		return false, nil
	}
	if _, ok := u.staged.packets[c.PacketID]; !ok {
		return false, storage.ErrNotFound
	}
	cp := c.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = u.store.now()
	}
	u.staged.claims[key] = cp
	u.staged.txIndex[c.TxHash] = key
	return true, nil
}

func (u *unitOfWork) ConfirmClaim(ctx context.Context, pendingTxHash string, c *domain.Claim) error {
	if u.done {
		return storage.ErrTxDone
	}
	key, ok := u.staged.txIndex[pendingTxHash]
	if !ok {
		return storage.ErrNotFound
	}
	if other, taken := u.staged.txIndex[c.TxHash]; taken && other != key {
		return storage.ErrDuplicate
	}
	cur := u.staged.claims[key]
	delete(u.staged.txIndex, pendingTxHash)
	cur.Amount = new(big.Int).Set(c.Amount)
	cur.TxHash = c.TxHash
	cur.BlockNumber = c.BlockNumber
	cur.BlockHash = c.BlockHash
	cur.LogIndex = c.LogIndex
	u.staged.txIndex[c.TxHash] = key
	return nil
}

func (u *unitOfWork) RecomputeBestClaims(ctx context.Context, packetID string) error {
	if u.done {
		return storage.ErrTxDone
	}
	var max *big.Int
	for _, c := range u.staged.claims {
		if c.PacketID != packetID {
			continue
		}
		c.IsBest = false
		if max == nil || c.Amount.Cmp(max) > 0 {
			max = c.Amount
		}
	}
	if max == nil {
		return nil
	}
	for _, c := range u.staged.claims {
		if c.PacketID == packetID && c.Amount.Cmp(max) == 0 {
			c.IsBest = true
		}
	}
	return nil
}

func (u *unitOfWork) DeleteOrphaned(ctx context.Context, orphaned []domain.BlockRef) (*storage.RollbackResult, error) {
	if u.done {
		return nil, storage.ErrTxDone
	}
	result := &storage.RollbackResult{}
	if len(orphaned) == 0 {
		return result, nil
	}

	isOrphaned := make(map[domain.BlockRef]struct{}, len(orphaned))
	lowest := orphaned[0].Number
	for _, ref := range orphaned {
		isOrphaned[ref] = struct{}{}
		if ref.Number < lowest {
			lowest = ref.Number
		}
	}

	affected := make(map[string]struct{})
	for id, p := range u.staged.packets {
		if _, ok := isOrphaned[domain.BlockRef{Number: p.BlockNumber, Hash: p.BlockHash}]; ok {
			affected[id] = struct{}{}
		}
	}
	for _, c := range u.staged.claims {
		if _, ok := isOrphaned[domain.BlockRef{Number: c.BlockNumber, Hash: c.BlockHash}]; ok {
			affected[c.PacketID] = struct{}{}
		}
	}

	// Claims first, then their packets.
	for key, c := range u.staged.claims {
		_, packetHit := affected[c.PacketID]
		_, blockHit := isOrphaned[domain.BlockRef{Number: c.BlockNumber, Hash: c.BlockHash}]
		if packetHit || blockHit {
			delete(u.staged.claims, key)
			delete(u.staged.txIndex, c.TxHash)
			result.DeletedClaims++
		}
	}
	for id := range affected {
		p, ok := u.staged.packets[id]
		if !ok {
			continue
		}
		if p.BlockNumber < lowest {
			lowest = p.BlockNumber
		}
		delete(u.staged.packets, id)
		result.DeletedPackets++
		result.PacketIDs = append(result.PacketIDs, id)
	}
	sort.Strings(result.PacketIDs)
	result.LowestBlock = lowest
	return result, nil
}

func (u *unitOfWork) Commit() error {
	if u.done {
		return storage.ErrTxDone
	}
	u.store.data = u.staged
	u.done = true
	u.store.mu.Unlock()
	return nil
}

// Rollback discards staged changes. Safe to call after Commit.
func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	u.store.mu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------
// Cursor Repository
// -----------------------------------------------------------------------------

type CursorRepo struct {
	store *MemoryStorage
}

func NewCursorRepo(store *MemoryStorage) *CursorRepo {
	return &CursorRepo{store: store}
}

func (r *CursorRepo) Get(ctx context.Context, source string) (*domain.Cursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	c, ok := r.store.cursors[source]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *cursor
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = r.store.now()
	}
	r.store.cursors[cursor.Source] = &cp
	return nil
}

func (r *CursorRepo) List(ctx context.Context) ([]*domain.Cursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Cursor, 0, len(r.store.cursors))
	for _, c := range r.store.cursors {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}
