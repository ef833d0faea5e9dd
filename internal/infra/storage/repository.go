package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
)

var (
	// ErrNotFound is returned when a packet, claim or cursor doesn't exist.
	ErrNotFound = errors.New("record not found")

	// ErrTxDone is returned when a unit of work is used after Commit or Rollback.
	ErrTxDone = errors.New("unit of work already completed")

	// ErrDuplicate is returned when a write collides with a unique key.
	ErrDuplicate = errors.New("duplicate record")
)

// Store is the relational mirror of packet state.
type Store interface {
	// Begin opens a unit of work. Callers must Commit or Rollback it.
	Begin(ctx context.Context) (UnitOfWork, error)

	// GetPacket retrieves a packet by id.
	GetPacket(ctx context.Context, packetID string) (*domain.Packet, error)

	// ListClaims returns all claims of a packet in chain order, pending ones last.
	ListClaims(ctx context.Context, packetID string) ([]*domain.Claim, error)

	// ListBlockRefs returns the distinct provenance pairs recorded by packets and
	// confirmed claims with a block number in [fromBlock, toBlock].
	ListBlockRefs(ctx context.Context, fromBlock, toBlock uint64) ([]domain.BlockRef, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

// UnitOfWork bundles mirror writes into a single atomic transaction.
type UnitOfWork interface {
	// GetPacketForUpdate reads a packet and locks its row until the unit completes.
	GetPacketForUpdate(ctx context.Context, packetID string) (*domain.Packet, error)

	// InsertPacket inserts the packet unless one with the same id exists.
	InsertPacket(ctx context.Context, p *domain.Packet) (bool, error)

	// UpdatePacket writes the mutable fields of a packet.
	UpdatePacket(ctx context.Context, p *domain.Packet) error

	// GetClaim retrieves the claim of a claimer on a packet.
	GetClaim(ctx context.Context, packetID, claimer string) (*domain.Claim, error)

	// ClaimTxExists reports whether a claim with the transaction hash is stored.
	ClaimTxExists(ctx context.Context, txHash string) (bool, error)

	// InsertClaim inserts the claim unless (packet, claimer) or tx hash already exist.
	InsertClaim(ctx context.Context, c *domain.Claim) (bool, error)

	// ConfirmClaim replaces a pending claim with its on-chain counterpart.
	ConfirmClaim(ctx context.Context, pendingTxHash string, c *domain.Claim) error

	// RecomputeBestClaims flags every claim holding the packet's maximum amount.
	RecomputeBestClaims(ctx context.Context, packetID string) error

	// DeleteOrphaned removes every row invalidated by the orphaned provenance pairs.
	DeleteOrphaned(ctx context.Context, orphaned []domain.BlockRef) (*RollbackResult, error)

	Commit() error
	Rollback() error
}

// RollbackResult describes the rows removed by a reorg rollback.
type RollbackResult struct {
	PacketIDs      []string
	DeletedPackets int
	DeletedClaims  int
	// LowestBlock is the earliest block whose events must be re-read to rebuild the rows.
	LowestBlock uint64
}

// CursorRepository handles cursor storage operations.
type CursorRepository interface {
	// Get retrieves the cursor of an event source.
	Get(ctx context.Context, source string) (*domain.Cursor, error)

	// Save creates or overwrites a cursor.
	Save(ctx context.Context, cursor *domain.Cursor) error

	// List returns every stored cursor.
	List(ctx context.Context) ([]*domain.Cursor, error)
}

// LeaseStore grants time-bound exclusive leases on contention keys.
type LeaseStore interface {
	// TryAcquire grants the lease if the key is free. The token identifies the holder.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Release frees the lease if it is still held by token.
	Release(ctx context.Context, key, token string) (bool, error)
}

// IdempotencyStore records request responses under client keys for a bounded time.
type IdempotencyStore interface {
	// Reserve claims the key for a new execution. When the key is taken, cached holds the
	// stored response, or is nil while the first execution is still running.
	Reserve(ctx context.Context, key string, ttl time.Duration) (reserved bool, cached []byte, err error)

	// Complete stores the response of a reserved key.
	Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error

	// Release drops a reservation so the key can be retried.
	Release(ctx context.Context, key string) error
}
