package reorg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/cursor"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/metrics"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/notify"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
)

// Handler executes reorg rollback operations.
type Handler struct {
	store     storage.Store
	cursorMgr cursor.Manager
	sources   []string
	sink      notify.Sink
	log       *slog.Logger
}

// RollbackResult contains the result of a rollback operation.
type RollbackResult struct {
	Orphaned       []domain.BlockRef
	PacketIDs      []string
	DeletedPackets int
	DeletedClaims  int
	RewoundTo      uint64
	Duration       time.Duration
}

// Rollback deletes the rows invalidated by the orphaned pairs in one transaction, then
// rewinds every source cursor so the poller rebuilds them.
func (h *Handler) Rollback(ctx context.Context, orphaned []domain.BlockRef) (*RollbackResult, error) {
	start := time.Now()
	result := &RollbackResult{Orphaned: orphaned}
	if len(orphaned) == 0 {
		return result, nil
	}

	// Step 1: Delete rows
	uow, err := h.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	deleted, err := uow.DeleteOrphaned(ctx, orphaned)
	if err != nil {
		_ = uow.Rollback()
		return nil, fmt.Errorf("failed to delete orphaned rows: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	result.PacketIDs = deleted.PacketIDs
	result.DeletedPackets = deleted.DeletedPackets
	result.DeletedClaims = deleted.DeletedClaims
	metrics.ReorgDeletedRows.WithLabelValues("packets").Add(float64(deleted.DeletedPackets))
	metrics.ReorgDeletedRows.WithLabelValues("claims").Add(float64(deleted.DeletedClaims))

	// Step 2: Rewind cursors
	if deleted.LowestBlock > 0 {
		result.RewoundTo = deleted.LowestBlock - 1
	}
	for _, source := range h.sources {
		if err := h.cursorMgr.Rewind(ctx, source, result.RewoundTo); err != nil {
			return result, fmt.Errorf("failed to rewind cursor %s: %w", source, err)
		}
	}

	// Step 3: Emit rollback notifications
	if h.sink != nil {
		for _, id := range deleted.PacketIDs {
			h.sink.Notify(notify.Message{
				Event:     notify.EventPacketRolledBack,
				PacketID:  id,
				Block:     deleted.LowestBlock,
				Timestamp: time.Now().UTC(),
			})
		}
	}

	result.Duration = time.Since(start)
	h.log.Info("Reorg rollback completed",
		"orphaned_blocks", len(orphaned),
		"deleted_packets", result.DeletedPackets,
		"deleted_claims", result.DeletedClaims,
		"rewound_to", result.RewoundTo,
		"duration", result.Duration,
	)
	return result, nil
}
