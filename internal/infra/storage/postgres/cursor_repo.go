package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
)

// CursorRepo implements storage.CursorRepository using PostgreSQL.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

type cursorRow struct {
	Source      string    `db:"source"`
	BlockNumber int64     `db:"block_number"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r cursorRow) toDomain() *domain.Cursor {
	return &domain.Cursor{
		Source:      r.Source,
		BlockNumber: uint64(r.BlockNumber),
		UpdatedAt:   r.UpdatedAt,
	}
}

// Get retrieves the cursor of an event source.
func (r *CursorRepo) Get(ctx context.Context, source string) (*domain.Cursor, error) {
	var row cursorRow
	err := r.db.GetContext(ctx, &row, `SELECT source, block_number, updated_at FROM cursors WHERE source = $1`, source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return row.toDomain(), nil
}

// Save creates or overwrites a cursor.
func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	updatedAt := cursor.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursors (source, block_number, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source) DO UPDATE
		SET block_number = EXCLUDED.block_number, updated_at = EXCLUDED.updated_at`,
		cursor.Source, int64(cursor.BlockNumber), updatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// List returns every stored cursor ordered by source.
func (r *CursorRepo) List(ctx context.Context) ([]*domain.Cursor, error) {
	var rows []cursorRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT source, block_number, updated_at FROM cursors ORDER BY source`); err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	out := make([]*domain.Cursor, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}
