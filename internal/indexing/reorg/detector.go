package reorg

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/metrics"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
)

// Detector periodically compares recorded block hashes with the canonical chain.
type Detector struct {
	config  Config
	chain   HashFetcher
	store   storage.Store
	handler *Handler
	log     *slog.Logger

	lastCheck atomic.Int64 // unix seconds
}

// CheckResult describes one detection cycle.
type CheckResult struct {
	FromBlock uint64
	ToBlock   uint64
	Checked   int
	Orphaned  []domain.BlockRef
	Rollback  *RollbackResult
}

// Run checks on every interval until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	d.log.Info("Reorg detector started", "interval", d.config.Interval, "depth", d.config.CheckDepth)
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Reorg detector stopped")
			return nil
		case <-ticker.C:
			if _, err := d.Check(context.WithoutCancel(ctx)); err != nil {
				metrics.ReorgChecks.WithLabelValues("error").Inc()
				d.log.Error("Reorg check failed", "error", err)
			}
		}
	}
}

// Check runs a single detection cycle and rolls back orphaned rows.
func (d *Detector) Check(ctx context.Context) (*CheckResult, error) {
	head, err := d.chain.GetLatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("get head: %w", err)
	}
	from := uint64(0)
	if head > d.config.CheckDepth {
		from = head - d.config.CheckDepth
	}
	result := &CheckResult{FromBlock: from, ToBlock: head}

	orphaned, checked, err := d.FindOrphaned(ctx, from, head)
	if err != nil {
		return nil, err
	}
	result.Checked = checked
	result.Orphaned = orphaned
	d.lastCheck.Store(time.Now().Unix())

	if len(orphaned) == 0 {
		metrics.ReorgChecks.WithLabelValues("clean").Inc()
		return result, nil
	}

	metrics.ReorgChecks.WithLabelValues("reorg").Inc()
	rb, err := d.handler.Rollback(ctx, orphaned)
	if err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}
	result.Rollback = rb
	return result, nil
}

// FindOrphaned returns the recorded provenance pairs in [from, to] whose hash is no
// longer canonical, and how many distinct blocks were verified. One RPC per block.
func (d *Detector) FindOrphaned(ctx context.Context, from, to uint64) ([]domain.BlockRef, int, error) {
	refs, err := d.store.ListBlockRefs(ctx, from, to)
	if err != nil {
		return nil, 0, fmt.Errorf("list block refs: %w", err)
	}

	canonical := make(map[uint64]string)
	var orphaned []domain.BlockRef
	for _, ref := range refs {
		hash, ok := canonical[ref.Number]
		if !ok {
			hash, err = d.chain.GetBlockHash(ctx, ref.Number)
			if err != nil {
				return nil, 0, fmt.Errorf("canonical hash of %d: %w", ref.Number, err)
			}
			canonical[ref.Number] = hash
		}
		if !strings.EqualFold(hash, ref.Hash) {
			orphaned = append(orphaned, ref)
		}
	}
	return orphaned, len(canonical), nil
}

// LastCheck returns when the last cycle completed, zero if none did.
func (d *Detector) LastCheck() time.Time {
	sec := d.lastCheck.Load()
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
