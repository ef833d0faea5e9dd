// Package rescan drains backfill requests queued by operators.
//
// Ranges are pushed to a shared queue (indexer backfill --enqueue). Any number of
// instances may run a Worker: each pops one range at a time, replays it through the
// backfill processor in chunks and requeues whatever is left after a failure. Replays are
// idempotent, so a range processed twice is harmless.
package rescan

import (
	"context"
	"log/slog"
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/backfill"
	redisclient "github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/redis"
)

// Queue holds pending ranges.
type Queue interface {
	Push(ctx context.Context, start, end uint64) error
	Pop(ctx context.Context) (start, end uint64, found bool, err error)
	// Rewrite replaces the members atomically; pushes racing with it are kept.
	Rewrite(ctx context.Context, fn redisclient.RewriteFunc) error
}

// Replayer applies a block range in causal order.
type Replayer interface {
	ProcessRange(ctx context.Context, from, to uint64) (*backfill.Result, error)
}

// WorkerConfig holds configuration for the rescan worker.
type WorkerConfig struct {
	ChunkSize  uint64        // Max blocks replayed before progress is kept (default: 10000)
	EmptySleep time.Duration // Sleep when queue empty (default: 10s)
}

// DefaultConfig returns default worker configuration.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		ChunkSize:  10_000,
		EmptySleep: 10 * time.Second,
	}
}

// Worker processes queued backfill ranges.
type Worker struct {
	cfg    WorkerConfig
	queue  Queue
	replay Replayer
	log    *slog.Logger
}

// NewWorker creates a new rescan worker.
func NewWorker(cfg WorkerConfig, queue Queue, replay Replayer, log *slog.Logger) *Worker {
	def := DefaultConfig()
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.EmptySleep == 0 {
		cfg.EmptySleep = def.EmptySleep
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{cfg: cfg, queue: queue, replay: replay, log: log.With("component", "rescan")}
}

// Run drains the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting rescan worker")
	for {
		processed, err := w.Step(ctx)
		if err != nil {
			w.log.Error("Rescan step failed", "error", err)
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			w.log.Info("Rescan worker stopped")
			return nil
		case <-time.After(w.cfg.EmptySleep):
		}
	}
}

// Step merges the queue, then pops and replays one range. It reports whether a range
// was found.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	if err := w.mergeQueue(ctx); err != nil {
		w.log.Warn("Failed to merge ranges", "error", err)
	}

	start, end, found, err := w.queue.Pop(ctx)
	if err != nil || !found {
		return false, err
	}
	return true, w.processRange(ctx, Range{Start: start, End: end})
}

func (w *Worker) processRange(ctx context.Context, r Range) error {
	w.log.Info("Processing range", "start", r.Start, "end", r.End)

	for _, chunk := range r.Split(w.cfg.ChunkSize) {
		// Chunks run to completion once started; only a stop between chunks interrupts.
		if ctx.Err() != nil {
			return w.requeue(ctx, Range{Start: chunk.Start, End: r.End}, ctx.Err())
		}
		result, err := w.replay.ProcessRange(context.WithoutCancel(ctx), chunk.Start, chunk.End)
		if err != nil {
			return w.requeue(ctx, Range{Start: chunk.Start, End: r.End}, err)
		}
		w.log.Debug("Chunk replayed",
			"start", chunk.Start,
			"end", chunk.End,
			"applied", result.Applied,
			"duplicates", result.Duplicates,
		)
	}

	w.log.Info("Range completed", "start", r.Start, "end", r.End)
	return nil
}

func (w *Worker) requeue(ctx context.Context, rest Range, cause error) error {
	if err := w.queue.Push(context.WithoutCancel(ctx), rest.Start, rest.End); err != nil {
		w.log.Error("Failed to re-queue range", "range", rest.String(), "error", err)
	}
	return cause
}

// mergeQueue collapses overlapping and adjacent ranges so a block is replayed once.
func (w *Worker) mergeQueue(ctx context.Context) error {
	return w.queue.Rewrite(ctx, func(members []string) ([][2]uint64, bool, error) {
		if len(members) <= 1 {
			return nil, false, nil
		}
		ranges, err := ParseRanges(members)
		if err != nil {
			return nil, false, err
		}
		merged := MergeRanges(ranges)
		if len(merged) == len(ranges) {
			return nil, false, nil
		}

		w.log.Info("Merging ranges", "before", len(ranges), "after", len(merged))
		out := make([][2]uint64, len(merged))
		for i, r := range merged {
			out[i] = [2]uint64{r.Start, r.End}
		}
		return out, true, nil
	})
}
