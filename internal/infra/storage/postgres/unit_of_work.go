package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
)

// UnitOfWork bundles mirror writes into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

func (u *UnitOfWork) GetPacketForUpdate(ctx context.Context, packetID string) (*domain.Packet, error) {
	if u.tx == nil {
		return nil, storage.ErrTxDone
	}
	var row packetRow
	err := u.tx.GetContext(ctx, &row, `SELECT `+packetColumns+` FROM packets WHERE packet_id = $1 FOR UPDATE`, packetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock packet: %w", err)
	}
	return row.toDomain()
}

func (u *UnitOfWork) InsertPacket(ctx context.Context, p *domain.Packet) (bool, error) {
	if u.tx == nil {
		return false, storage.ErrTxDone
	}
	res, err := u.tx.ExecContext(ctx, `
		INSERT INTO packets (
			packet_id, creator, token, symbol, decimals, name,
			total_amount, count, remaining_amount, remaining_count,
			is_random, expire_time, block_number, block_hash, tx_hash,
			vrf_request_id, random_ready, refunded
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8, $9::numeric, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18
		)
		ON CONFLICT (packet_id) DO NOTHING`,
		p.PacketID, p.Creator, p.Token, p.Symbol, int16(p.Decimals), p.Name,
		amountText(p.TotalAmount), int64(p.Count), amountText(p.RemainingAmount), int64(p.RemainingCount),
		p.IsRandom, p.ExpireTime.UTC(), int64(p.BlockNumber), p.BlockHash, p.TxHash,
		p.VrfRequestID, p.RandomReady, p.Refunded,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert packet: %w", err)
	}
	return affected(res)
}

func (u *UnitOfWork) UpdatePacket(ctx context.Context, p *domain.Packet) error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	res, err := u.tx.ExecContext(ctx, `
		UPDATE packets SET
			remaining_amount = $2::numeric,
			remaining_count = $3,
			vrf_request_id = $4,
			random_ready = $5,
			refunded = $6,
			updated_at = $7
		WHERE packet_id = $1`,
		p.PacketID, amountText(p.RemainingAmount), int64(p.RemainingCount),
		p.VrfRequestID, p.RandomReady, p.Refunded, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update packet: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	return nil
}

func (u *UnitOfWork) GetClaim(ctx context.Context, packetID, claimer string) (*domain.Claim, error) {
	if u.tx == nil {
		return nil, storage.ErrTxDone
	}
	var row claimRow
	err := u.tx.GetContext(ctx, &row, `SELECT `+claimColumns+` FROM claims WHERE packet_id = $1 AND claimer = $2`, packetID, claimer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return row.toDomain()
}

func (u *UnitOfWork) ClaimTxExists(ctx context.Context, txHash string) (bool, error) {
	if u.tx == nil {
		return false, storage.ErrTxDone
	}
	var exists bool
	if err := u.tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM claims WHERE tx_hash = $1)`, txHash); err != nil {
		return false, fmt.Errorf("failed to check claim tx: %w", err)
	}
	return exists, nil
}

func (u *UnitOfWork) InsertClaim(ctx context.Context, c *domain.Claim) (bool, error) {
	if u.tx == nil {
		return false, storage.ErrTxDone
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	// No conflict target: both (packet_id, claimer) and tx_hash collisions are no-ops.
	res, err := u.tx.ExecContext(ctx, `
		INSERT INTO claims (packet_id, claimer, amount, tx_hash, block_number, block_hash, log_index, is_best, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`,
		c.PacketID, c.Claimer, amountText(c.Amount), c.TxHash,
		int64(c.BlockNumber), c.BlockHash, int64(c.LogIndex), c.IsBest, createdAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert claim: %w", err)
	}
	return affected(res)
}

func (u *UnitOfWork) ConfirmClaim(ctx context.Context, pendingTxHash string, c *domain.Claim) error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	res, err := u.tx.ExecContext(ctx, `
		UPDATE claims SET
			amount = $2::numeric,
			tx_hash = $3,
			block_number = $4,
			block_hash = $5,
			log_index = $6
		WHERE tx_hash = $1`,
		pendingTxHash, amountText(c.Amount), c.TxHash,
		int64(c.BlockNumber), c.BlockHash, int64(c.LogIndex),
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to confirm claim: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	return nil
}

// RecomputeBestClaims clears and re-marks the best flag in one statement,
// so every claim tied at the maximum is flagged.
func (u *UnitOfWork) RecomputeBestClaims(ctx context.Context, packetID string) error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	_, err := u.tx.ExecContext(ctx, `
		UPDATE claims
		SET is_best = (amount = (SELECT MAX(amount) FROM claims WHERE packet_id = $1))
		WHERE packet_id = $1`, packetID)
	if err != nil {
		return fmt.Errorf("failed to recompute best claims: %w", err)
	}
	return nil
}

func (u *UnitOfWork) DeleteOrphaned(ctx context.Context, orphaned []domain.BlockRef) (*storage.RollbackResult, error) {
	if u.tx == nil {
		return nil, storage.ErrTxDone
	}
	result := &storage.RollbackResult{}
	if len(orphaned) == 0 {
		return result, nil
	}
	numbers, hashes := refArrays(orphaned)

	result.LowestBlock = orphaned[0].Number
	for _, ref := range orphaned {
		if ref.Number < result.LowestBlock {
			result.LowestBlock = ref.Number
		}
	}

	var hit []struct {
		PacketID    string `db:"packet_id"`
		BlockNumber int64  `db:"block_number"`
	}
	err := u.tx.SelectContext(ctx, &hit, `
		WITH orphaned AS (
			SELECT * FROM unnest($1::bigint[], $2::text[]) AS o(block_number, block_hash)
		)
		SELECT p.packet_id, p.block_number
		FROM packets p
		WHERE (p.block_number, p.block_hash) IN (SELECT block_number, block_hash FROM orphaned)
		   OR p.packet_id IN (
				SELECT c.packet_id FROM claims c
				WHERE (c.block_number, c.block_hash) IN (SELECT block_number, block_hash FROM orphaned)
		   )
		ORDER BY p.packet_id
		FOR UPDATE OF p`, numbers, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned packets: %w", err)
	}

	ids := make([]string, len(hit))
	for i, h := range hit {
		ids[i] = h.PacketID
		if uint64(h.BlockNumber) < result.LowestBlock {
			result.LowestBlock = uint64(h.BlockNumber)
		}
	}

	// Claims first: they reference packets.
	res, err := u.tx.ExecContext(ctx, `
		DELETE FROM claims
		WHERE packet_id = ANY($1::text[])
		   OR (block_number, block_hash) IN (SELECT * FROM unnest($2::bigint[], $3::text[]))`,
		pq.Array(ids), numbers, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to delete orphaned claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	result.DeletedClaims = int(n)

	res, err = u.tx.ExecContext(ctx, `DELETE FROM packets WHERE packet_id = ANY($1::text[])`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to delete orphaned packets: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return nil, err
	}
	result.DeletedPackets = int(n)
	result.PacketIDs = ids
	return result, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
