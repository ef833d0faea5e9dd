package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
)

// Store implements storage.Store using PostgreSQL.
type Store struct {
	db *DB
}

// NewStore creates a new PostgreSQL mirror store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Begin opens a unit of work backed by a database transaction.
func (s *Store) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

func (s *Store) GetPacket(ctx context.Context, packetID string) (*domain.Packet, error) {
	var row packetRow
	err := s.db.GetContext(ctx, &row, `SELECT `+packetColumns+` FROM packets WHERE packet_id = $1`, packetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get packet: %w", err)
	}
	return row.toDomain()
}

func (s *Store) ListClaims(ctx context.Context, packetID string) ([]*domain.Claim, error) {
	var rows []claimRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+claimColumns+`
		FROM claims
		WHERE packet_id = $1
		ORDER BY (block_hash = ''), block_number, log_index, created_at`, packetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	claims := make([]*domain.Claim, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, nil
}

func (s *Store) ListBlockRefs(ctx context.Context, fromBlock, toBlock uint64) ([]domain.BlockRef, error) {
	var rows []struct {
		BlockNumber int64  `db:"block_number"`
		BlockHash   string `db:"block_hash"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT block_number, block_hash FROM packets
		WHERE block_number BETWEEN $1 AND $2
		UNION
		SELECT block_number, block_hash FROM claims
		WHERE block_number BETWEEN $1 AND $2 AND block_hash <> ''
		ORDER BY block_number, block_hash`, int64(fromBlock), int64(toBlock))
	if err != nil {
		return nil, fmt.Errorf("failed to list block refs: %w", err)
	}
	refs := make([]domain.BlockRef, len(rows))
	for i, r := range rows {
		refs[i] = domain.BlockRef{Number: uint64(r.BlockNumber), Hash: r.BlockHash}
	}
	return refs, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Health(ctx)
}
