package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/backfill"
)

// Backfill replays [from, to] through the applier in causal order. Cursors are left
// untouched, so it is safe while the poller runs and over ranges already applied.
func (s *Service) Backfill(ctx context.Context, from, to uint64) (*backfill.Result, error) {
	if to < from {
		return nil, fmt.Errorf("invalid range [%d, %d]", from, to)
	}
	s.log.Info("Backfill started", "from", from, "to", to)
	result, err := s.poller.ProcessRange(ctx, from, to)
	if result != nil {
		s.log.Info("Backfill finished",
			"from", result.FromBlock,
			"to", result.ToBlock,
			"chunks", result.Chunks,
			"applied", result.Applied,
			"duplicates", result.Duplicates,
			"deferred", result.Deferred,
			"duration", result.Duration,
		)
	}
	return result, err
}

// ErrNoQueue is returned by Enqueue when no redis is configured.
var ErrNoQueue = errors.New("backfill queue needs redis.url")

// Enqueue schedules [from, to] for the backfill queue. Any running indexer sharing the
// redis instance picks it up.
func (s *Service) Enqueue(ctx context.Context, from, to uint64) error {
	if to < from {
		return fmt.Errorf("invalid range [%d, %d]", from, to)
	}
	if s.queue == nil {
		return ErrNoQueue
	}
	if err := s.queue.Push(ctx, from, to); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	s.log.Info("Backfill range queued", "from", from, "to", to)
	return nil
}

// startupBackfill replays the last backfill.window blocks before live polling resumes.
func (s *Service) startupBackfill(ctx context.Context) (*backfill.Result, error) {
	head, err := s.adapter.GetLatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("get head: %w", err)
	}
	from := s.cfg.Chain.StartBlock
	if w := s.cfg.Backfill.Window; head > w && head-w > from {
		from = head - w
	}
	if from > head {
		return &backfill.Result{}, nil
	}
	return s.Backfill(ctx, from, head)
}

// ResetCursor moves a source cursor to block. The next tick reads from block+1.
func (s *Service) ResetCursor(ctx context.Context, source string, block uint64) error {
	known := false
	for _, src := range s.sources {
		if src == source {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown source %q (have %v)", source, s.sources)
	}
	return s.cursors.Reset(ctx, source, block)
}

// Head returns the newest block the indexer may read.
func (s *Service) Head(ctx context.Context) (uint64, error) {
	return s.adapter.GetLatestBlock(ctx)
}
